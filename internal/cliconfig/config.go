// Package cliconfig loads the command line tool's configuration from
// flags, environment and an optional config file.
//
// Precedence, highest to lowest:
//  1. CLI flags
//  2. Environment variables (S3FS_*)
//  3. Configuration file (YAML)
//  4. Defaults
package cliconfig

import (
	"fmt"
	"strings"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// Config is the tool-level configuration. Connection fields map onto
// the filesystem configuration one to one.
type Config struct {
	// Endpoint overrides the store endpoint, for S3-compatible services.
	Endpoint string `mapstructure:"endpoint" validate:"omitempty,url"`

	// Region is the store region.
	Region string `mapstructure:"region"`

	// Anon selects unsigned requests.
	Anon bool `mapstructure:"anon"`

	// RequesterPays marks requests against requester-pays buckets.
	RequesterPays bool `mapstructure:"requester_pays"`

	// PasswdFile points at an ACCESS:SECRET credentials file. Empty
	// falls back to the environment.
	PasswdFile string `mapstructure:"passwd_file"`

	// BlockSize is the read-ahead and part size in bytes. Zero uses the
	// filesystem default; non-zero must satisfy the store's part size
	// limits.
	BlockSize int64 `mapstructure:"block_size" validate:"omitempty,gte=5242880,lte=5368709120"`

	// LogLevel is the minimum level emitted on stderr.
	LogLevel string `mapstructure:"log_level" validate:"required,oneof=DEBUG INFO WARN ERROR debug info warn error"`
}

// Load reads configuration from the given file (optional), the
// environment and the bound flag set, validates it and returns it.
func Load(configPath string, flags *pflag.FlagSet) (*Config, error) {
	v := viper.New()

	// Every key needs a registered default so environment variables are
	// picked up during unmarshal.
	v.SetDefault("endpoint", "")
	v.SetDefault("region", "us-east-1")
	v.SetDefault("anon", false)
	v.SetDefault("requester_pays", false)
	v.SetDefault("passwd_file", "")
	v.SetDefault("block_size", 0)
	v.SetDefault("log_level", "INFO")

	v.SetEnvPrefix("S3FS")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if flags != nil {
		if err := v.BindPFlags(flags); err != nil {
			return nil, fmt.Errorf("bind flags: %w", err)
		}
	}

	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := Validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}
