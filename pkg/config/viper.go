package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// EnvPrefixNone disables the environment prefix.
const EnvPrefixNone = ""

// Load reads configName.yaml from configPath (also "." and "./config") and
// layers environment variables on top. A missing file is not an error.
func Load(configPath, configName string) (*viper.Viper, error) {
	return LoadWithPrefix(configPath, configName, EnvPrefixNone)
}

// LoadWithPrefix is Load with an environment prefix, so "server.port" is read
// from PREFIX_SERVER_PORT.
func LoadWithPrefix(configPath, configName, envPrefix string) (*viper.Viper, error) {
	v := viper.New()

	v.SetConfigName(configName)
	v.SetConfigType("yaml")
	v.AddConfigPath(configPath)
	v.AddConfigPath(".")
	v.AddConfigPath("./config")

	if envPrefix != "" {
		v.SetEnvPrefix(envPrefix)
	}
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) {
			return v, nil
		}
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	return v, nil
}

// BindEnvs binds each key to the given environment variable names.
func BindEnvs(v *viper.Viper, bindings map[string][]string) error {
	for key, envs := range bindings {
		args := append([]string{key}, envs...)
		if err := v.BindEnv(args...); err != nil {
			return fmt.Errorf("failed to bind env for %s: %w", key, err)
		}
	}
	return nil
}

// Duration reads key as a duration string, falling back to def when the value
// is missing, malformed or not positive.
func Duration(v *viper.Viper, key string, def time.Duration) time.Duration {
	d, err := time.ParseDuration(v.GetString(key))
	if err != nil || d <= 0 {
		return def
	}
	return d
}
