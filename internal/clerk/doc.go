// Package clerk talks to the Clerk identity provider: the frontend API's
// well-known JWKS and the backend API's user lookup. Both responses are kept in
// a shared cache.Cache so repeated requests do not reach the provider.
package clerk
