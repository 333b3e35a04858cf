// Package config provides application configuration management.
//
// # Overview
//
// Configuration is assembled from defaults, an optional YAML file and
// environment variables, later sources overriding earlier ones. Secrets
// (the app client secret, AWS keys, the admin API key, the audit database
// URL) are never read from the file.
//
// # Configuration Structure
//
// Server settings:
//
//	IDPGATE_HOST="0.0.0.0"
//	IDPGATE_PORT="8080"
//	IDPGATE_READ_TIMEOUT="15s"
//	IDPGATE_WRITE_TIMEOUT="15s"
//	IDPGATE_MAX_BODY_BYTES="65536"
//
// Identity provider:
//
//	IDPGATE_REGION="us-east-1"
//	IDPGATE_USER_POOL_ID="us-east-1_AbCdEf"
//	IDPGATE_CLIENT_ID="1example23456789"
//	IDPGATE_CLIENT_SECRET=""            # optional, enables SECRET_HASH
//	IDPGATE_SECRET_ID=""                # Secrets Manager secret with client_secret/admin_api_key
//	IDPGATE_PROVIDER_TIMEOUT="10s"
//
// Audit and rate limiting:
//
//	IDPGATE_AUDIT_DATABASE_URL="postgres://..."
//	IDPGATE_AUDIT_TABLE="auth_audit_logs"
//	IDPGATE_RATE_LIMIT_RPM="30"
//	IDPGATE_REDIS_URL="redis://localhost:6379/0"
//
// # Usage
//
//	cfg, err := config.LoadConfig()
//	if err != nil {
//		log.Fatal(err)
//	}
package config
