// Package credentials loads the access keys handed to the object-store
// client: explicit values, environment variables, or a passwd file.
package credentials

import (
	"fmt"
	"os"
	"strings"
)

// Credentials holds a static AWS-style credential set. Empty values mean
// "fall back to the SDK's own resolver chain".
type Credentials struct {
	AccessKeyID     string
	SecretAccessKey string
	SessionToken    string
}

// NewStatic returns credentials with explicit values.
func NewStatic(accessKey, secretKey, sessionToken string) *Credentials {
	return &Credentials{
		AccessKeyID:     accessKey,
		SecretAccessKey: secretKey,
		SessionToken:    sessionToken,
	}
}

// FromEnvironment reads AWS_ACCESS_KEY_ID, AWS_SECRET_ACCESS_KEY and
// AWS_SESSION_TOKEN.
func FromEnvironment() (*Credentials, error) {
	accessKey := os.Getenv("AWS_ACCESS_KEY_ID")
	secretKey := os.Getenv("AWS_SECRET_ACCESS_KEY")
	if accessKey == "" || secretKey == "" {
		return nil, fmt.Errorf("AWS_ACCESS_KEY_ID and AWS_SECRET_ACCESS_KEY must be set")
	}
	return &Credentials{
		AccessKeyID:     accessKey,
		SecretAccessKey: secretKey,
		SessionToken:    os.Getenv("AWS_SESSION_TOKEN"),
	}, nil
}

// FromPasswdFile reads credentials from a file containing a single
// ACCESS_KEY:SECRET_KEY line.
func FromPasswdFile(path string) (*Credentials, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read passwd file: %w", err)
	}
	parts := strings.Split(strings.TrimSpace(string(data)), ":")
	if len(parts) != 2 {
		return nil, fmt.Errorf("invalid passwd file format, expected ACCESS_KEY:SECRET_KEY")
	}
	return &Credentials{
		AccessKeyID:     strings.TrimSpace(parts[0]),
		SecretAccessKey: strings.TrimSpace(parts[1]),
	}, nil
}

// IsValid reports whether both the access key and secret are set.
func (c *Credentials) IsValid() bool {
	return c != nil && c.AccessKeyID != "" && c.SecretAccessKey != ""
}
