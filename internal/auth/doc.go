// Package auth provides authentication for parley-gateway.
//
// # Authentication Flow
//
// Accounts authenticate once with handle and password; passwords are
// verified against bcrypt hashes stored on the account record. A successful
// login mints a JWT signed with HS256 using the configured secret, with the
// account ID in the "sub" claim.
//
// Every API request after login carries the JWT as a bearer token. The
// Middleware verifies it, loads the account, and attaches an AuthContext to
// the request context:
//
//	authCtx := auth.FromContext(r.Context())
//	authCtx.AccountID // 24-hex account ID
//	authCtx.Role      // "user" or "expert"
//
// RequireExpert stacks on top of Middleware for the expert-only surface
// (expert messages, rooms, sessions).
//
// The websocket handshake is deliberately outside this package: socket
// identity claims are self-declared connection parameters, not credentials.
//
// # Token Management
//
//	verifier := auth.NewJWTVerifier(secret)
//	token, err := verifier.Generate(accountID, 24*time.Hour)
//	accountID, err := verifier.Verify(token)
//
// Verification failures map to ErrInvalidToken, ErrExpiredToken, or
// ErrMissingClaim.
package auth
