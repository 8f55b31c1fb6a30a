// Package config loads grc-api configuration from GRC_* environment variables.
//
//	cfg, err := config.LoadConfig()
//	if err != nil {
//		log.Fatalf("config: %v", err)
//	}
//
// GRC_DATABASE_URL and GRC_AUTH_ISSUER_URL are required. The JWKS and
// session permission endpoints default to paths under the issuer.
package config
