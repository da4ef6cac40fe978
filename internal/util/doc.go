// Package util provides common utility functions used across the oauth-provider library.
//
// This package contains the token-grade random string generator shared by every
// credential-minting path, Unix-second expiry helpers, and string helpers for
// safely logging sensitive values. These utilities are used internally by
// multiple packages to avoid code duplication and maintain consistent behavior
// across the codebase.
package util
