package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"

	"lessoncall/internal/domain"
)

const envPrefix = "LESSONCALL"

// Config stores runtime configuration for the call client.
type Config struct {
	Signal      SignalConfig
	Credentials CredentialsConfig
	Media       MediaConfig
	Identity    IdentityConfig
	Call        CallConfig
	LogLevel    string
}

type SignalConfig struct {
	URL              string
	AuthToken        string
	HandshakeTimeout time.Duration
	ReconnectMin     time.Duration
	ReconnectMax     time.Duration
	PingPeriod       time.Duration
}

type CredentialsConfig struct {
	BaseURL   string
	AuthToken string
	Timeout   time.Duration
}

type MediaConfig struct {
	AppID      uint32
	Endpoint   string
	ICEServers []string
}

type IdentityConfig struct {
	UserID      string
	DisplayName string
	Role        domain.Role
}

type CallConfig struct {
	RingTimeout time.Duration
}

var defaults = map[string]string{
	"signal.url":               "ws://localhost:8080/ws/signal",
	"signal.auth_token":        "",
	"signal.handshake_timeout": "10s",
	"signal.reconnect_min":     "1s",
	"signal.reconnect_max":     "30s",
	"signal.ping_period":       "54s",
	"credentials.base_url":     "http://localhost:8080/api",
	"credentials.auth_token":   "",
	"credentials.timeout":      "10s",
	"media.app_id":             "0",
	"media.endpoint":           "",
	"media.ice_servers":        "stun:stun.l.google.com:19302",
	"identity.user_id":         "",
	"identity.display_name":    "",
	"identity.role":            string(domain.RoleLearner),
	"call.ring_timeout":        "45s",
	"log_level":                "info",
}

// Load resolves configuration from LESSONCALL_* environment variables, an
// optional YAML file named by LESSONCALL_CONFIG, and defaults. Invalid values
// fall back to their defaults.
func Load() (Config, error) {
	v := viper.New()
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for key, value := range defaults {
		v.SetDefault(key, value)
	}

	if path := strings.TrimSpace(os.Getenv(envPrefix + "_CONFIG")); path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
	}

	cfg := Config{
		Signal: SignalConfig{
			URL:              stringOrDefault(v, "signal.url"),
			AuthToken:        strings.TrimSpace(v.GetString("signal.auth_token")),
			HandshakeTimeout: positiveDuration(v, "signal.handshake_timeout"),
			ReconnectMin:     positiveDuration(v, "signal.reconnect_min"),
			ReconnectMax:     positiveDuration(v, "signal.reconnect_max"),
			PingPeriod:       positiveDuration(v, "signal.ping_period"),
		},
		Credentials: CredentialsConfig{
			BaseURL:   strings.TrimRight(stringOrDefault(v, "credentials.base_url"), "/"),
			AuthToken: strings.TrimSpace(v.GetString("credentials.auth_token")),
			Timeout:   positiveDuration(v, "credentials.timeout"),
		},
		Media: MediaConfig{
			AppID:      appID(v),
			Endpoint:   strings.TrimRight(strings.TrimSpace(v.GetString("media.endpoint")), "/"),
			ICEServers: splitList(stringOrDefault(v, "media.ice_servers")),
		},
		Identity: IdentityConfig{
			UserID:      strings.TrimSpace(v.GetString("identity.user_id")),
			DisplayName: strings.TrimSpace(v.GetString("identity.display_name")),
			Role:        role(v),
		},
		Call: CallConfig{
			RingTimeout: nonNegativeDuration(v, "call.ring_timeout"),
		},
		LogLevel: strings.ToLower(stringOrDefault(v, "log_level")),
	}

	if cfg.Signal.ReconnectMax < cfg.Signal.ReconnectMin {
		cfg.Signal.ReconnectMax = cfg.Signal.ReconnectMin
	}
	if cfg.Identity.DisplayName == "" {
		cfg.Identity.DisplayName = cfg.Identity.UserID
	}

	return cfg, nil
}

func stringOrDefault(v *viper.Viper, key string) string {
	value := strings.TrimSpace(v.GetString(key))
	if value == "" {
		return defaults[key]
	}
	return value
}

func positiveDuration(v *viper.Viper, key string) time.Duration {
	parsed, ok := parseDuration(v.GetString(key))
	if !ok || parsed <= 0 {
		parsed, _ = parseDuration(defaults[key])
	}
	return parsed
}

func nonNegativeDuration(v *viper.Viper, key string) time.Duration {
	parsed, ok := parseDuration(v.GetString(key))
	if !ok || parsed < 0 {
		parsed, _ = parseDuration(defaults[key])
	}
	return parsed
}

// parseDuration accepts Go durations and bare integers as milliseconds.
func parseDuration(value string) (time.Duration, bool) {
	value = strings.TrimSpace(value)
	if value == "" {
		return 0, false
	}
	if ms, err := strconv.Atoi(value); err == nil {
		return time.Duration(ms) * time.Millisecond, true
	}
	parsed, err := time.ParseDuration(value)
	if err != nil {
		return 0, false
	}
	return parsed, true
}

func appID(v *viper.Viper) uint32 {
	parsed, err := strconv.ParseUint(strings.TrimSpace(v.GetString("media.app_id")), 10, 32)
	if err != nil {
		return 0
	}
	return uint32(parsed)
}

func role(v *viper.Viper) domain.Role {
	r := domain.Role(strings.ToLower(strings.TrimSpace(v.GetString("identity.role"))))
	if !r.Valid() {
		return domain.RoleLearner
	}
	return r
}

func splitList(value string) []string {
	var out []string
	for _, part := range strings.Split(value, ",") {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
