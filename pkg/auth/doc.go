// Package auth resolves inbound credentials into an AuthContext.
//
// Two credential schemes are accepted:
//
//	X-API-Key: grc_<base64url(32 random bytes)>
//	Authorization: Bearer <JWT>
//
// API keys are bound to one organization and are looked up by SHA256 hash.
// Bearer tokens are verified against the identity provider's JWKS endpoint
// (issuer, audience and expiry are enforced) and must be accompanied by an
// X-Organization-Id header naming an organization the user is an active
// member of.
//
// Every failure maps to one of the sentinel errors in errors.go; ErrorCode
// turns them into an API error code and HTTP status.
//
//	resolver := auth.NewResolver(keyStore, verifier, memberStore, auth.ResolverConfig{}, logger, metrics)
//	authCtx, err := resolver.Resolve(r)
//	if err != nil {
//		code, status := auth.ErrorCode(err)
//		...
//	}
package auth
