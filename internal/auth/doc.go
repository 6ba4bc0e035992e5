// Package auth issues and validates the access tokens the voice platform
// presents on every request.
//
// Users come from security.users in config with Argon2id password hashes.
// A successful login yields a long-lived HS256 JWT (default one year) with
// scope "aligenie"; the local host connector validates it on each request.
package auth
