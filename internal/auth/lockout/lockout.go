// Package lockout slows down password guessing: after too many failed logins
// for one email from one address, further attempts are refused for a while.
package lockout

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"time"

	dErrors "gatehouse/pkg/domain-errors"
)

// Store keeps failure counters and locks. Counters expire window after the
// first failure; locks expire on their own.
type Store interface {
	Increment(ctx context.Context, key string, window time.Duration) (int, error)
	Lock(ctx context.Context, key string, d time.Duration) error
	LockedFor(ctx context.Context, key string) (time.Duration, error)
	Clear(ctx context.Context, key string) error
}

type Config struct {
	AttemptsPerWindow int
	Window            time.Duration
	LockDuration      time.Duration
}

func DefaultConfig() Config {
	return Config{
		AttemptsPerWindow: 5,
		Window:            15 * time.Minute,
		LockDuration:      15 * time.Minute,
	}
}

type Service struct {
	store  Store
	config Config
	logger *slog.Logger
}

type Option func(*Service)

func WithConfig(cfg Config) Option {
	return func(s *Service) {
		s.config = cfg
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		s.logger = logger
	}
}

func New(store Store, opts ...Option) (*Service, error) {
	if store == nil {
		return nil, errors.New("lockout store is required")
	}
	s := &Service{
		store:  store,
		config: DefaultConfig(),
		logger: slog.New(slog.DiscardHandler),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.config.AttemptsPerWindow <= 0 || s.config.Window <= 0 || s.config.LockDuration <= 0 {
		return nil, fmt.Errorf("invalid lockout config: %+v", s.config)
	}
	return s, nil
}

// Key combines the login email and client address. ':' is escaped so an
// email cannot spill into the address segment.
func Key(email, ip string) string {
	return strings.ReplaceAll(email, ":", "_") + ":" + strings.ReplaceAll(ip, ":", "_")
}

// Check refuses the attempt while the key is locked. Store failures let the
// attempt through.
func (s *Service) Check(ctx context.Context, email, ip string) error {
	remaining, err := s.store.LockedFor(ctx, Key(email, ip))
	if err != nil {
		s.logger.WarnContext(ctx, "lockout check failed", "error", err)
		return nil
	}
	if remaining <= 0 {
		return nil
	}
	minutes := int(math.Ceil(remaining.Minutes()))
	return dErrors.New(dErrors.CodeTooManyRequests,
		fmt.Sprintf("too many failed logins; try again in %d minute(s)", minutes))
}

// RecordFailure counts one failed attempt and locks the key once the window
// limit is reached.
func (s *Service) RecordFailure(ctx context.Context, email, ip string) {
	key := Key(email, ip)
	n, err := s.store.Increment(ctx, key, s.config.Window)
	if err != nil {
		s.logger.WarnContext(ctx, "lockout increment failed", "error", err)
		return
	}
	if n < s.config.AttemptsPerWindow {
		return
	}
	if err := s.store.Lock(ctx, key, s.config.LockDuration); err != nil {
		s.logger.WarnContext(ctx, "lockout lock failed", "error", err)
		return
	}
	s.logger.WarnContext(ctx, "login locked",
		"email", email,
		"ip", ip,
		"failures", n,
		"locked_for", s.config.LockDuration.String(),
	)
}

// Clear forgets the failures after a successful login.
func (s *Service) Clear(ctx context.Context, email, ip string) {
	if err := s.store.Clear(ctx, Key(email, ip)); err != nil {
		s.logger.WarnContext(ctx, "lockout clear failed", "error", err)
	}
}
