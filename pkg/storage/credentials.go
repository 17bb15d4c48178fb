package storage

import (
	"os"

	"golang.org/x/oauth2"
	"google.golang.org/api/option"

	"github.com/Vadoid/iceberg-explorer/pkg/config"
)

// Credentials selects how a request authenticates against Google APIs. They are
// resolved once per request and passed through opaquely.
//
// Resolution order:
//  1. Token, a caller supplied OAuth2 bearer token
//  2. CredentialsFile, a service account key (or GOOGLE_APPLICATION_CREDENTIALS)
//  3. Application Default Credentials
type Credentials struct {
	Token           string
	CredentialsFile string
	ProjectID       string
}

// BearerToken builds request credentials from an Authorization header value
// that has already had its "Bearer " prefix removed.
func BearerToken(token, projectID string) Credentials {
	return Credentials{Token: token, ProjectID: projectID}
}

func (c Credentials) withDefaults(cfg config.StorageConfig) Credentials {
	if c.CredentialsFile == "" {
		c.CredentialsFile = cfg.CredentialsFile
	}
	if c.ProjectID == "" {
		c.ProjectID = cfg.ProjectID
	}
	return c
}

// ClientOptions converts the credentials into Google client options.
func (c Credentials) ClientOptions() []option.ClientOption {
	if c.Token != "" {
		ts := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: c.Token, TokenType: "Bearer"})
		return []option.ClientOption{option.WithTokenSource(ts)}
	}

	path := c.CredentialsFile
	if path == "" {
		path = os.Getenv("GOOGLE_APPLICATION_CREDENTIALS")
	}
	if path != "" {
		if _, err := os.Stat(path); err == nil {
			return []option.ClientOption{option.WithCredentialsFile(path)}
		}
	}

	// Application Default Credentials
	return nil
}

// Mode names the credential source, for logs.
func (c Credentials) Mode() string {
	switch {
	case c.Token != "":
		return "bearer_token"
	case c.CredentialsFile != "" || os.Getenv("GOOGLE_APPLICATION_CREDENTIALS") != "":
		return "service_account"
	default:
		return "default"
	}
}
