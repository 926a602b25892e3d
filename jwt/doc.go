// Package jwt issues and verifies the short-lived access tokens returned by a
// completed login. Tokens carry the account email as subject and its role.
package jwt
