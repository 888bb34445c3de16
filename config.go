package simpleldap

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/creasty/defaults"
)

// Pool sizing limit. Keeps a misconfigured client from exhausting the
// directory's own connection budget.
const maxPoolSizeLimit = 100

// Config holds everything needed to talk to a directory server. The zero
// value is not usable; at minimum URL, BindDN and BindPassword must be set.
// All other fields receive defaults from New.
type Config struct {
	// URL is the directory endpoint, ldap:// or ldaps://.
	URL string

	// BindDN and BindPassword are the service identity every pooled
	// session binds as.
	BindDN       string
	BindPassword string

	// DNAttribute is the operational attribute consulted by Authenticate
	// to resolve an entry's distinguished name.
	DNAttribute string `default:"entryDN"`

	// GroupMemberAttribute holds member DNs on group entries.
	GroupMemberAttribute string `default:"member"`

	// GroupClass is the object class selecting group entries in reverse
	// membership lookups.
	GroupClass string `default:"groupOfNames"`

	// PoolSize bounds the number of live sessions.
	PoolSize int `default:"10"`

	// AcquireTimeout bounds how long Acquire waits for a free session.
	AcquireTimeout time.Duration `default:"30s"`

	// AcquireRetries bounds how many stale idle sessions Acquire will
	// discard and replace before giving up with ErrPoolExhausted.
	AcquireRetries int `default:"3"`

	// ValidateAfter is the idle age beyond which a session is liveness
	// checked before being leased again. Younger sessions are handed out
	// without a round trip.
	ValidateAfter time.Duration `default:"30s"`

	// OperationTimeout applies to every request on a session.
	OperationTimeout time.Duration `default:"30s"`

	// PageSize is the default page size for streaming searches.
	PageSize uint32 `default:"500"`

	// FanOutLimit bounds concurrent per-member lookups in GetMembers.
	FanOutLimit int `default:"8"`

	// TLSConfig is used for ldaps:// endpoints. Optional.
	TLSConfig *tls.Config

	// Logger receives structured operational logs. Defaults to
	// slog.Default.
	Logger *slog.Logger

	// DialFunc overrides how raw sessions are established. Used by tests;
	// production code normally leaves it nil to dial URL.
	DialFunc func(ctx context.Context, cfg *Config) (Session, error)
}

// withDefaults fills unset fields and validates the result.
func (c *Config) withDefaults() (*Config, error) {
	cfg := *c

	if err := defaults.Set(&cfg); err != nil {
		return nil, fmt.Errorf("apply config defaults: %w", err)
	}

	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.DialFunc == nil {
		cfg.DialFunc = dialSession
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func (c *Config) validate() error {
	if c.URL == "" {
		return errors.New("URL must be set")
	}

	if c.PoolSize <= 0 {
		return errors.New("PoolSize must be positive")
	}

	if c.PoolSize > maxPoolSizeLimit {
		return fmt.Errorf("PoolSize too high (max %d)", maxPoolSizeLimit)
	}

	if c.AcquireTimeout <= 0 {
		return errors.New("AcquireTimeout must be positive")
	}

	if c.AcquireRetries < 0 {
		return errors.New("AcquireRetries cannot be negative")
	}

	if c.OperationTimeout <= 0 {
		return errors.New("OperationTimeout must be positive")
	}

	if c.PageSize == 0 {
		return errors.New("PageSize must be positive")
	}

	if c.FanOutLimit <= 0 {
		return errors.New("FanOutLimit must be positive")
	}

	return nil
}
