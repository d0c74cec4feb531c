package config

import (
	"fmt"

	"github.com/spf13/viper"
)

// envBindings maps each viper key this config reads to the literal
// environment variable named in spec.md §6 (heterogeneous prefixes
// inherited from the Python original's Flask/env-var surface, so a
// single SetEnvPrefix/AutomaticEnv pair can't cover them).
var envBindings = map[string]string{
	"database.path":                  "BESIM_DATABASE",
	"udp.addr":                       "BESIM_UDP_ADDR",
	"http.host":                      "FLASK_HOST",
	"http.port":                      "FLASK_PORT",
	"http.debug":                     "FLASK_DEBUG",
	"weather.latitude":               "LATITUDE",
	"weather.longitude":              "LONGITUDE",
	"logging.level":                  "BESIM_LOG_LEVEL",
	"logging.format":                 "BESIM_LOG_FORMAT",
	"mqtt.broker":                    "BESIM_MQTT_BROKER",
	"dispatcher.resync_on_sync_lost": "BESIM_RESYNC_ON_SYNC_LOST",
}

func bindEnv() {
	for key, env := range envBindings {
		_ = viper.BindEnv(key, env)
	}
}

// Load reads the configuration from viper (config file, bound
// environment variables, and defaults, in viper's usual precedence
// order) and returns a Config struct.
func Load() (*Config, error) {
	bindEnv()
	cfg := DefaultConfig()

	if v := viper.GetString("database.path"); v != "" {
		cfg.Database.Path = v
	}
	if d := viper.GetDuration("database.purge_after"); d > 0 {
		cfg.Database.PurgeAfter = d
	}

	if v := viper.GetString("udp.addr"); v != "" {
		cfg.UDP.Addr = v
	}

	if v := viper.GetString("http.host"); v != "" {
		cfg.HTTP.Host = v
	}
	if p := viper.GetInt("http.port"); p != 0 {
		cfg.HTTP.Port = p
	}
	cfg.HTTP.Debug = viper.GetBool("http.debug")

	cfg.Weather.Latitude = viper.GetFloat64("weather.latitude")
	cfg.Weather.Longitude = viper.GetFloat64("weather.longitude")
	if d := viper.GetDuration("weather.ttl"); d > 0 {
		cfg.Weather.TTL = d
	}

	if v := viper.GetString("logging.level"); v != "" {
		cfg.Logging.Level = v
	}
	if v := viper.GetString("logging.format"); v != "" {
		cfg.Logging.Format = v
	}

	cfg.MQTT.Broker = viper.GetString("mqtt.broker")
	if v := viper.GetString("mqtt.client_id"); v != "" {
		cfg.MQTT.ClientID = v
	}
	cfg.MQTT.Username = viper.GetString("mqtt.username")
	cfg.MQTT.Password = viper.GetString("mqtt.password")
	if v := viper.GetString("mqtt.prefix"); v != "" {
		cfg.MQTT.Prefix = v
	}

	cfg.Dispatcher.ResyncOnSyncLost = viper.GetBool("dispatcher.resync_on_sync_lost")

	return cfg, nil
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	if c.Database.Path == "" {
		return fmt.Errorf("database.path is required")
	}
	if c.UDP.Addr == "" {
		return fmt.Errorf("udp.addr is required")
	}
	if c.HTTP.Port <= 0 || c.HTTP.Port > 65535 {
		return fmt.Errorf("http.port is invalid: %d", c.HTTP.Port)
	}
	if c.Weather.TTL <= 0 {
		return fmt.Errorf("weather.ttl must be positive")
	}
	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid logging.level: %s", c.Logging.Level)
	}
	return nil
}

// WeatherURL builds the met.no locationforecast query URL for the
// configured coordinates.
func (c *Config) WeatherURL() string {
	return fmt.Sprintf(
		"https://api.met.no/weatherapi/locationforecast/2.0/compact?lat=%g&lon=%g",
		c.Weather.Latitude, c.Weather.Longitude)
}
