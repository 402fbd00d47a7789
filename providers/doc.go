// Package providers contains the OAuth2 token endpoint client used to
// exchange AcceptGrant codes and refresh stored credentials. Provider
// specific defaults live in sub packages.
package providers
