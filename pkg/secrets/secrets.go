// Package secrets resolves provider credentials from AWS Secrets Manager.
//
// The secret is a JSON object:
//
//	{"client_secret": "...", "admin_api_key": "..."}
//
// It is read once at startup and copied into the read-only configuration.
// Secret values never appear in errors or logs.
package secrets

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	sm "github.com/aws/aws-sdk-go-v2/service/secretsmanager"

	"github.com/platinummonkey/idpgate/pkg/config"
)

// API is the subset of the Secrets Manager API used by Resolve
type API interface {
	GetSecretValue(ctx context.Context, params *sm.GetSecretValueInput, optFns ...func(*sm.Options)) (*sm.GetSecretValueOutput, error)
}

// NewAPI creates a Secrets Manager client from cfg
func NewAPI(cfg aws.Config) API {
	return sm.NewFromConfig(cfg)
}

// Credentials holds the values resolved from the secret
type Credentials struct {
	ClientSecret string `json:"client_secret"`
	AdminAPIKey  string `json:"admin_api_key"`
}

// String redacts the credential values
func (c Credentials) String() string {
	return fmt.Sprintf("Credentials{ClientSecret:%s AdminAPIKey:%s}", redact(c.ClientSecret), redact(c.AdminAPIKey))
}

// GoString redacts the credential values for %#v
func (c Credentials) GoString() string {
	return c.String()
}

func redact(v string) string {
	if v == "" {
		return "<unset>"
	}
	return "<redacted>"
}

// Resolve fetches and decodes the secret named by secretID
func Resolve(ctx context.Context, api API, secretID string) (*Credentials, error) {
	if secretID == "" {
		return nil, fmt.Errorf("secret ID is required")
	}

	out, err := api.GetSecretValue(ctx, &sm.GetSecretValueInput{SecretId: aws.String(secretID)})
	if err != nil {
		return nil, fmt.Errorf("failed to read secret %s: %w", secretID, err)
	}

	var raw []byte
	switch {
	case out.SecretString != nil:
		raw = []byte(*out.SecretString)
	case len(out.SecretBinary) > 0:
		raw = out.SecretBinary
	default:
		return nil, fmt.Errorf("secret %s has no value", secretID)
	}

	var creds Credentials
	if err := json.Unmarshal(raw, &creds); err != nil {
		// the decode error may quote the payload, so it is not wrapped
		return nil, fmt.Errorf("secret %s is not a JSON object", secretID)
	}
	return &creds, nil
}

// Apply copies resolved values into cfg. Empty values leave the existing
// setting in place.
func Apply(cfg *config.Config, creds *Credentials) {
	if creds == nil {
		return
	}
	if creds.ClientSecret != "" {
		cfg.Provider.ClientSecret = creds.ClientSecret
	}
	if creds.AdminAPIKey != "" {
		cfg.Admin.APIKey = creds.AdminAPIKey
	}
}
