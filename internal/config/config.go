package config

import (
	"strings"

	"github.com/pkg/errors"
	"github.com/spf13/viper"
)

type (
	Config struct {
		MongoURI   string `mapstructure:"mongo_uri"`
		MongoDB    string `mapstructure:"mongo_db"`
		RedisAddr  string `mapstructure:"redis_addr"`
		RelayAddr  string `mapstructure:"relay_addr"`
		ListenAddr string `mapstructure:"listen_addr"`
	}
)

// Load reads clearchat.yaml from the working directory when present, with
// CLEARCHAT_* environment variables taking precedence over the file and the
// defaults below.
func Load() (*Config, error) {
	v := viper.New()

	v.SetDefault("mongo_uri", "mongodb://localhost:27017")
	v.SetDefault("mongo_db", "clearchat")
	v.SetDefault("redis_addr", "localhost:6379")
	v.SetDefault("relay_addr", "localhost:9090")
	v.SetDefault("listen_addr", "localhost:9090")

	v.SetEnvPrefix("clearchat")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetConfigName("clearchat")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, errors.Wrap(err, "read config file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, errors.Wrap(err, "unmarshal config")
	}
	return &cfg, nil
}
