// Package jwt issues and parses the short-lived session tokens handed out by
// sign-in and remember-me renewal.
package jwt
