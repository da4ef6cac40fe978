// Package testutil provides helpers shared across the oauth-provider test
// suites: random test material, PKCE pair generation, and small assertion
// helpers.
package testutil
