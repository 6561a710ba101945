package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

// ErrRemoteStoreIncomplete is returned when required object-store settings are missing.
var ErrRemoteStoreIncomplete = errors.New("remote store configuration incomplete")

// Environment variables consulted for every sync attempt.
const (
	EnvEndpoint    = "AWS_S3_ENDPOINT"
	EnvAccessKey   = "AWS_ACCESS_KEY_ID"
	EnvSecretKey   = "AWS_SECRET_ACCESS_KEY"
	EnvBucket      = "AWS_S3_BUCKET"
	EnvRegion      = "AWS_REGION"
	EnvExcludeList = "S3UPLOADER_EXCLUDE_UPLOAD"
)

// RemoteStore holds the object-store coordinates and credentials. It is read
// fresh from the environment on each sync attempt so credentials can be
// rotated without a restart.
type RemoteStore struct {
	Endpoint  string `mapstructure:"endpoint"`
	AccessKey string `mapstructure:"access_key"`
	SecretKey string `mapstructure:"secret_key"`
	Bucket    string `mapstructure:"bucket"`
	Region    string `mapstructure:"region"`
}

// LoadRemoteStore reads the remote store settings from the environment. It
// never fails; use Validate to check completeness for a driver.
func LoadRemoteStore() RemoteStore {
	v := newEnvViper()
	return RemoteStore{
		Endpoint:  strings.TrimSpace(v.GetString("endpoint")),
		AccessKey: v.GetString("access_key"),
		SecretKey: v.GetString("secret_key"),
		Bucket:    strings.TrimSpace(v.GetString("bucket")),
		Region:    strings.TrimSpace(v.GetString("region")),
	}
}

// ExcludeList returns the whitespace-separated exclude fragments currently set
// in the environment.
func ExcludeList() string {
	return strings.TrimSpace(newEnvViper().GetString("exclude"))
}

func newEnvViper() *viper.Viper {
	v := viper.New()
	// BindEnv only errors when called without a key.
	_ = v.BindEnv("endpoint", EnvEndpoint)
	_ = v.BindEnv("access_key", EnvAccessKey)
	_ = v.BindEnv("secret_key", EnvSecretKey)
	_ = v.BindEnv("bucket", EnvBucket)
	_ = v.BindEnv("region", EnvRegion)
	_ = v.BindEnv("exclude", EnvExcludeList)
	return v
}

// Missing lists the environment variables a driver needs but that are unset.
func (r RemoteStore) Missing(driver string) []string {
	var missing []string
	check := func(value, env string) {
		if value == "" {
			missing = append(missing, env)
		}
	}
	switch driver {
	case DriverS3, DriverMinio:
		check(r.Endpoint, EnvEndpoint)
		check(r.AccessKey, EnvAccessKey)
		check(r.SecretKey, EnvSecretKey)
		check(r.Bucket, EnvBucket)
	case DriverGCS:
		check(r.Bucket, EnvBucket)
	}
	return missing
}

// Validate reports ErrRemoteStoreIncomplete naming every missing variable.
func (r RemoteStore) Validate(driver string) error {
	missing := r.Missing(driver)
	if len(missing) == 0 {
		return nil
	}
	return fmt.Errorf("%w: missing required environment variables: %s",
		ErrRemoteStoreIncomplete, strings.Join(missing, ", "))
}
