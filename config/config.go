// Package config exposes the Core Engine's configuration as a single
// structured record with documented defaults for every timeout and
// bound named across the session, fragment, store, delivery,
// connection, rate-limit, and identity packages. CLI flags and
// environment variables are out of scope here; embedders load this
// record however suits their platform — yaml and mapstructure tags are
// carried on every field so a YAML-based loader needs no extra
// annotation, even though this package ships no loader itself.
package config

import (
	"fmt"
	"time"

	"github.com/noisymesh/bitchat/connection"
	"github.com/noisymesh/bitchat/delivery"
	"github.com/noisymesh/bitchat/fragment"
	"github.com/noisymesh/bitchat/ratelimit"
	"github.com/noisymesh/bitchat/session"
	"github.com/noisymesh/bitchat/store"
)

// ApiVersion identifies the schema of Config below, for forward-
// compatible config loading via the kind/apiVersion discriminator.
const ApiVersion = "bitchat.noisymesh.github.com/v1alpha1"

// TypeMeta carries the kind/apiVersion discriminator embedders use to
// pick a decoder before unmarshalling the rest of a config document.
type TypeMeta struct {
	Kind       string `yaml:"kind" mapstructure:"kind"`
	APIVersion string `yaml:"apiVersion" mapstructure:"apiVersion"`
}

// Config is the Core Engine's complete configuration.
type Config struct {
	TypeMeta `yaml:",inline" mapstructure:",squash"`

	// Nickname is this node's claimed display name, advertised in
	// Announce packets.
	Nickname string `yaml:"nickname,omitempty" mapstructure:"nickname,omitempty"`

	// MTU bounds the wire-encoded size of any single packet a transport
	// will carry before the Fragmentation Engine must split it.
	MTU int `yaml:"mtu,omitempty" mapstructure:"mtu,omitempty"`

	Session    SessionConfig    `yaml:"session,omitempty" mapstructure:"session,omitempty"`
	Fragment   FragmentConfig   `yaml:"fragment,omitempty" mapstructure:"fragment,omitempty"`
	Store      StoreConfig      `yaml:"store,omitempty" mapstructure:"store,omitempty"`
	Delivery   DeliveryConfig   `yaml:"delivery,omitempty" mapstructure:"delivery,omitempty"`
	Connection ConnectionConfig `yaml:"connection,omitempty" mapstructure:"connection,omitempty"`
	RateLimit  RateLimitConfig  `yaml:"rateLimit,omitempty" mapstructure:"rateLimit,omitempty"`
	Identity   IdentityConfig   `yaml:"identity,omitempty" mapstructure:"identity,omitempty"`
}

// SessionConfig mirrors session.Config's fields with (de)serializable
// durations.
type SessionConfig struct {
	HandshakeTimeoutSecs  int     `yaml:"handshakeTimeoutSecs,omitempty" mapstructure:"handshakeTimeoutSecs,omitempty"`
	IdleTimeoutSecs       int     `yaml:"idleTimeoutSecs,omitempty" mapstructure:"idleTimeoutSecs,omitempty"`
	FailedGraceSecs       int     `yaml:"failedGraceSecs,omitempty" mapstructure:"failedGraceSecs,omitempty"`
	RekeyMessageThreshold uint64  `yaml:"rekeyMessageThreshold,omitempty" mapstructure:"rekeyMessageThreshold,omitempty"`
	RekeyByteThreshold    uint64  `yaml:"rekeyByteThreshold,omitempty" mapstructure:"rekeyByteThreshold,omitempty"`
	RekeyAgeSecs          int     `yaml:"rekeyAgeSecs,omitempty" mapstructure:"rekeyAgeSecs,omitempty"`
	RekeyDrainWindowSecs  int     `yaml:"rekeyDrainWindowSecs,omitempty" mapstructure:"rekeyDrainWindowSecs,omitempty"`
}

// ToSessionConfig converts to session.Config, substituting defaults for
// any zero-valued field.
func (c SessionConfig) ToSessionConfig() session.Config {
	d := session.DefaultConfig()
	return session.Config{
		HandshakeTimeout:      orDurationSecs(c.HandshakeTimeoutSecs, d.HandshakeTimeout),
		IdleTimeout:           orDurationSecs(c.IdleTimeoutSecs, d.IdleTimeout),
		FailedGrace:           orDurationSecs(c.FailedGraceSecs, d.FailedGrace),
		RekeyMessageThreshold: orUint64(c.RekeyMessageThreshold, d.RekeyMessageThreshold),
		RekeyByteThreshold:    orUint64(c.RekeyByteThreshold, d.RekeyByteThreshold),
		RekeyAge:              orDurationSecs(c.RekeyAgeSecs, d.RekeyAge),
		RekeyDrainWindow:      orDurationSecs(c.RekeyDrainWindowSecs, d.RekeyDrainWindow),
	}
}

// FragmentConfig mirrors fragment.Config.
type FragmentConfig struct {
	DeadlineSecs       int `yaml:"deadlineSecs,omitempty" mapstructure:"deadlineSecs,omitempty"`
	MemoryBudgetBytes  int `yaml:"memoryBudgetBytes,omitempty" mapstructure:"memoryBudgetBytes,omitempty"`
}

func (c FragmentConfig) ToFragmentConfig() fragment.Config {
	d := fragment.DefaultConfig()
	return fragment.Config{
		Deadline:     orDurationSecs(c.DeadlineSecs, d.Deadline),
		MemoryBudget: orInt(c.MemoryBudgetBytes, d.MemoryBudget),
	}
}

// StoreConfig mirrors store.Bounds.
type StoreConfig struct {
	MaxContentLength           int `yaml:"maxContentLength,omitempty" mapstructure:"maxContentLength,omitempty"`
	MaxMessagesPerConversation int `yaml:"maxMessagesPerConversation,omitempty" mapstructure:"maxMessagesPerConversation,omitempty"`
	MaxTotalMessages           int `yaml:"maxTotalMessages,omitempty" mapstructure:"maxTotalMessages,omitempty"`
}

func (c StoreConfig) ToBounds() store.Bounds {
	d := store.DefaultBounds()
	return store.Bounds{
		MaxContentLength:           orInt(c.MaxContentLength, d.MaxContentLength),
		MaxMessagesPerConversation: orInt(c.MaxMessagesPerConversation, d.MaxMessagesPerConversation),
		MaxTotalMessages:           orInt(c.MaxTotalMessages, d.MaxTotalMessages),
	}
}

// DeliveryConfig mirrors delivery.BackoffPolicy plus the confirmation
// retention window.
type DeliveryConfig struct {
	InitialBackoffMillis     int     `yaml:"initialBackoffMillis,omitempty" mapstructure:"initialBackoffMillis,omitempty"`
	BackoffMultiplier        float64 `yaml:"backoffMultiplier,omitempty" mapstructure:"backoffMultiplier,omitempty"`
	MaxBackoffMillis         int     `yaml:"maxBackoffMillis,omitempty" mapstructure:"maxBackoffMillis,omitempty"`
	MaxRetries               int     `yaml:"maxRetries,omitempty" mapstructure:"maxRetries,omitempty"`
	ConfirmationRetentionSecs int    `yaml:"confirmationRetentionSecs,omitempty" mapstructure:"confirmationRetentionSecs,omitempty"`
}

func (c DeliveryConfig) ToBackoffPolicy() delivery.BackoffPolicy {
	d := delivery.DefaultBackoffPolicy()
	return delivery.BackoffPolicy{
		Initial:    orDurationMillis(c.InitialBackoffMillis, d.Initial),
		Multiplier: orFloat(c.BackoffMultiplier, d.Multiplier),
		MaxDelay:   orDurationMillis(c.MaxBackoffMillis, d.MaxDelay),
		MaxRetries: orInt(c.MaxRetries, d.MaxRetries),
	}
}

func (c DeliveryConfig) ConfirmationRetention() time.Duration {
	return orDurationSecs(c.ConfirmationRetentionSecs, 5*time.Minute)
}

// ConnectionConfig mirrors connection.RetryPolicy.
type ConnectionConfig struct {
	MaxAttempts int `yaml:"maxAttempts,omitempty" mapstructure:"maxAttempts,omitempty"`
	BackoffSecs int `yaml:"backoffSecs,omitempty" mapstructure:"backoffSecs,omitempty"`
}

func (c ConnectionConfig) ToRetryPolicy() connection.RetryPolicy {
	d := connection.DefaultRetryPolicy()
	return connection.RetryPolicy{
		MaxAttempts: orInt(c.MaxAttempts, d.MaxAttempts),
		Backoff:     orDurationSecs(c.BackoffSecs, d.Backoff),
	}
}

// RateLimitConfig mirrors ratelimit.Config's message/connection bounds.
type RateLimitConfig struct {
	MessageWindowSecs    int `yaml:"messageWindowSecs,omitempty" mapstructure:"messageWindowSecs,omitempty"`
	MessageGlobalCap     int `yaml:"messageGlobalCap,omitempty" mapstructure:"messageGlobalCap,omitempty"`
	MessagePeerCap       int `yaml:"messagePeerCap,omitempty" mapstructure:"messagePeerCap,omitempty"`
	ConnectionWindowSecs int `yaml:"connectionWindowSecs,omitempty" mapstructure:"connectionWindowSecs,omitempty"`
	ConnectionGlobalCap  int `yaml:"connectionGlobalCap,omitempty" mapstructure:"connectionGlobalCap,omitempty"`
	ConnectionPeerCap    int `yaml:"connectionPeerCap,omitempty" mapstructure:"connectionPeerCap,omitempty"`
	MaxTrackedPeers      int `yaml:"maxTrackedPeers,omitempty" mapstructure:"maxTrackedPeers,omitempty"`
}

func (c RateLimitConfig) ToRateLimitConfig() ratelimit.Config {
	d := ratelimit.DefaultConfig()
	msg := d.Classes[ratelimit.ClassMessage]
	conn := d.Classes[ratelimit.ClassConnection]
	return ratelimit.Config{
		Classes: map[ratelimit.Class]ratelimit.Bound{
			ratelimit.ClassMessage: {
				Window:    orDurationSecs(c.MessageWindowSecs, msg.Window),
				GlobalCap: orInt(c.MessageGlobalCap, msg.GlobalCap),
				PeerCap:   orInt(c.MessagePeerCap, msg.PeerCap),
			},
			ratelimit.ClassConnection: {
				Window:    orDurationSecs(c.ConnectionWindowSecs, conn.Window),
				GlobalCap: orInt(c.ConnectionGlobalCap, conn.GlobalCap),
				PeerCap:   orInt(c.ConnectionPeerCap, conn.PeerCap),
			},
		},
		MaxTrackedPeers: orInt(c.MaxTrackedPeers, d.MaxTrackedPeers),
	}
}

// IdentityConfig bounds the identity cache.
type IdentityConfig struct {
	MaxCachedIdentities int `yaml:"maxCachedIdentities,omitempty" mapstructure:"maxCachedIdentities,omitempty"`
	MaxIdentityAgeSecs  int `yaml:"maxIdentityAgeSecs,omitempty" mapstructure:"maxIdentityAgeSecs,omitempty"`
}

func (c IdentityConfig) MaxCached() int {
	return orInt(c.MaxCachedIdentities, 2000)
}

func (c IdentityConfig) MaxAge() time.Duration {
	return orDurationSecs(c.MaxIdentityAgeSecs, 30*24*time.Hour)
}

func (c Config) GetKind() string       { return "Config" }
func (c Config) GetAPIVersion() string { return ApiVersion }

// GetConfigByKind dispatches on kind, for embedders that load
// heterogeneous config documents by discriminator before unmarshalling.
func GetConfigByKind(kind string) (*Config, error) {
	switch kind {
	case "Config":
		return &Config{}, nil
	default:
		return nil, fmt.Errorf("unsupported kind: %s", kind)
	}
}

func orInt(v, def int) int {
	if v == 0 {
		return def
	}
	return v
}

func orUint64(v, def uint64) uint64 {
	if v == 0 {
		return def
	}
	return v
}

func orFloat(v, def float64) float64 {
	if v == 0 {
		return def
	}
	return v
}

func orDurationSecs(secs int, def time.Duration) time.Duration {
	if secs == 0 {
		return def
	}
	return time.Duration(secs) * time.Second
}

func orDurationMillis(millis int, def time.Duration) time.Duration {
	if millis == 0 {
		return def
	}
	return time.Duration(millis) * time.Millisecond
}
