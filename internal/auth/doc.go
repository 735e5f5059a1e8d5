// Package auth provides user authentication for helpdesk-gateway.
//
// Users sign in with email and password (bcrypt hashes) and receive an HS256
// JWT whose subject is the user's UUID. RequireUser is the gin middleware
// that turns the bearer token back into an active user and places an
// AuthContext on the request context:
//
//	api.Use(auth.RequireUser(store, verifier, logger))
//	...
//	a := auth.MustFromContext(c.Request.Context())
//
// WebSocket routes use RequireUserWS, which also accepts the token as a
// ?token= query parameter.
package auth
