// Package storage implements the object store for uploaded inputs and reports on
// AWS S3 and S3-compatible services.
package storage

// Config configures the S3 object store.
//
// Credentials follow the AWS SDK v2 default chain unless AccessKeyID and
// SecretAccessKey are both set. For S3-compatible stores (MinIO, Wasabi,
// DigitalOcean Spaces) set Endpoint and usually ForcePathStyle.
type Config struct {
	Region          string
	Endpoint        string
	Profile         string
	AccessKeyID     string
	SecretAccessKey string
	ForcePathStyle  bool

	// PublicBaseURL, when set, is the prefix of every returned object URL
	// (for example a CDN in front of the buckets). Objects are addressed as
	// <PublicBaseURL>/<bucket>/<key>.
	PublicBaseURL string
}

// DefaultAWSRegion is the fallback region for AWS S3 when not specified.
const DefaultAWSRegion = "us-east-1"

// Validate checks that the configuration is consistent.
func (c *Config) Validate() error {
	if (c.AccessKeyID != "") != (c.SecretAccessKey != "") {
		return &ConfigError{
			Field:   "AccessKeyID/SecretAccessKey",
			Message: "both access key ID and secret access key must be provided together",
		}
	}
	return nil
}

// ConfigError represents a configuration validation error.
type ConfigError struct {
	Field   string
	Message string
}

// Error implements the error interface.
func (e *ConfigError) Error() string {
	return "storage config: " + e.Field + ": " + e.Message
}

func resolveRegion(cfgRegion, endpoint, sdkRegion string) string {
	if sdkRegion != "" {
		return sdkRegion
	}
	if endpoint == "" {
		return DefaultAWSRegion
	}
	return cfgRegion
}
