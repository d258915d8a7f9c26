// Package config loads process configuration from SIGNALING_* environment
// variables (and an optional TOML file) via viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds every knob named in the spec's environment configuration
// section, plus the additive ones covering TTLs and resource caps.
type Config struct {
	Addr string
	Port int

	RedisURL        string
	RedisRequireTLS bool

	PublicURL string

	SessionIdleTTL     time.Duration
	HeartbeatMin       time.Duration
	HeartbeatMax       time.Duration
	RendezvousTTL      time.Duration
	MailboxInitialTTL  time.Duration
	MailboxIdleExt     time.Duration
	MailboxMaxLifetime time.Duration
	MailboxMaxQueueLen int
	MaxParticipants    int

	MaxSubscribersPerMailbox int
	SubscriberChannelCap     int

	MaxMessageSizeBytes int64

	RegisterRateLimitPerMin int
	ClientRateLimitPerSec   int

	RequestTimeout time.Duration

	MetricsAddr   string
	OTLPEndpoint  string
	ServiceName   string
}

// Load reads configuration from the environment (prefix SIGNALING_) and,
// when configFile is non-empty, merges values from that TOML file with
// lower precedence than the environment.
func Load(configFile string) (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix("signaling")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	v.SetDefault("addr", "0.0.0.0")
	v.SetDefault("port", 8080)
	v.SetDefault("redis_url", "redis://127.0.0.1:6379/0")
	v.SetDefault("redis_require_tls", false)
	v.SetDefault("public_url", "")
	v.SetDefault("session_idle_ttl_secs", 300)
	v.SetDefault("heartbeat_min_secs", 10)
	v.SetDefault("heartbeat_max_secs", 300)
	v.SetDefault("rendezvous_ttl_secs", 30)
	v.SetDefault("mailbox_ttl_secs", 300)
	v.SetDefault("mailbox_idle_extension_secs", 60)
	v.SetDefault("mailbox_max_lifetime_secs", 600)
	v.SetDefault("mailbox_max_queue_len", 128)
	v.SetDefault("mailbox_max_participants", 2)
	v.SetDefault("max_subscribers_per_mailbox", 4)
	v.SetDefault("subscriber_channel_cap", 64)
	v.SetDefault("max_message_size_bytes", 64*1024)
	v.SetDefault("register_rate_limit_per_min", 10)
	v.SetDefault("client_rate_limit_per_sec", 60)
	v.SetDefault("request_timeout_secs", 15)
	v.SetDefault("metrics_addr", ":9090")
	v.SetDefault("otlp_endpoint", "")
	v.SetDefault("service_name", "rendezvous-signaling")

	if configFile != "" {
		v.SetConfigFile(configFile)
		v.SetConfigType("toml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("config: read %s: %w", configFile, err)
		}
	}

	cfg := &Config{
		Addr:                     v.GetString("addr"),
		Port:                     v.GetInt("port"),
		RedisURL:                 v.GetString("redis_url"),
		RedisRequireTLS:          v.GetBool("redis_require_tls"),
		PublicURL:                v.GetString("public_url"),
		SessionIdleTTL:           v.GetDuration("session_idle_ttl_secs") * time.Second,
		HeartbeatMin:             v.GetDuration("heartbeat_min_secs") * time.Second,
		HeartbeatMax:             v.GetDuration("heartbeat_max_secs") * time.Second,
		RendezvousTTL:            v.GetDuration("rendezvous_ttl_secs") * time.Second,
		MailboxInitialTTL:        v.GetDuration("mailbox_ttl_secs") * time.Second,
		MailboxIdleExt:           v.GetDuration("mailbox_idle_extension_secs") * time.Second,
		MailboxMaxLifetime:       v.GetDuration("mailbox_max_lifetime_secs") * time.Second,
		MailboxMaxQueueLen:       v.GetInt("mailbox_max_queue_len"),
		MaxParticipants:          v.GetInt("mailbox_max_participants"),
		MaxSubscribersPerMailbox: v.GetInt("max_subscribers_per_mailbox"),
		SubscriberChannelCap:     v.GetInt("subscriber_channel_cap"),
		MaxMessageSizeBytes:      v.GetInt64("max_message_size_bytes"),
		RegisterRateLimitPerMin:  v.GetInt("register_rate_limit_per_min"),
		ClientRateLimitPerSec:    v.GetInt("client_rate_limit_per_sec"),
		RequestTimeout:           v.GetDuration("request_timeout_secs") * time.Second,
		MetricsAddr:              v.GetString("metrics_addr"),
		OTLPEndpoint:             v.GetString("otlp_endpoint"),
		ServiceName:              v.GetString("service_name"),
	}

	if cfg.RedisRequireTLS && !strings.HasPrefix(cfg.RedisURL, "rediss://") {
		return nil, fmt.Errorf("config: SIGNALING_REDIS_REQUIRE_TLS is set but redis url %q is not rediss://", cfg.RedisURL)
	}

	return cfg, nil
}
