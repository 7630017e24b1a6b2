// Package common contains shared constants and sentinel errors used across
// certkeeper components.
package common

// AuthorizationHeaderName carries the admin bearer token on internal routes.
const AuthorizationHeaderName = "Authorization"

// BearerPrefix precedes the JWT in the Authorization header.
const BearerPrefix = "Bearer "

// LocaleQueryParam overrides Accept-Language when present.
const LocaleQueryParam = "lang"
