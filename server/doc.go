// Package server implements the OAuth 2.1 authorization server core: client
// registration and authentication, the authorization endpoint state machine,
// the four token grant handlers, the browser login/callback bridge to the
// external identity provider, and bearer token validation.
//
// The package is transport-agnostic. Methods take plain parameters and return
// typed results or *Error values; the root package maps them onto HTTP. All
// state lives in a storage.Store, so a Server is safe for concurrent use.
package server
