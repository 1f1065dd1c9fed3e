// Package verification keeps the short-lived one-time codes used by the
// second login step. Codes live only in process memory.
package verification

import (
	"context"
	"crypto/subtle"
	"fmt"
	"sync"
	"time"

	"github.com/jellydator/ttlcache/v3"
)

const (
	ReasonValid         = "valid"
	ReasonNotFound      = "not found"
	ReasonAlreadyUsed   = "already used"
	ReasonExpired       = "expired"
	ReasonMaxAttempts   = "max attempts reached"
	reasonIncorrectCode = "incorrect code. %d attempts remaining"
)

// hygieneMargin keeps the cache's own wall-clock TTL behind the store's
// clock, so an entry is always judged by the store before the cache drops it.
const hygieneMargin = time.Minute

const lockStripes = 64

type Config struct {
	CodeTTL     time.Duration
	MaxAttempts int
	// GraceWindow is how long a used code is kept so that a near-simultaneous
	// duplicate check reports "already used" instead of "not found".
	GraceWindow time.Duration
	Now         func() time.Time
}

func DefaultConfig() Config {
	return Config{
		CodeTTL:     10 * time.Minute,
		MaxAttempts: 3,
		GraceWindow: 5 * time.Second,
		Now:         time.Now,
	}
}

type entryState int

const (
	stateLive entryState = iota
	stateUsed
	stateExpired
	stateEvicted
)

type entry struct {
	code           string
	createdAt      time.Time
	expiresAt      time.Time
	used           bool
	evictAt        time.Time
	failedAttempts int
}

func (e *entry) state(now time.Time) entryState {
	switch {
	case e.used && !now.Before(e.evictAt):
		return stateEvicted
	case e.used:
		return stateUsed
	case now.After(e.expiresAt):
		return stateExpired
	default:
		return stateLive
	}
}

// Store maps a user id to that user's single pending code. Every operation
// on one user id runs under that id's lock, so validation is atomic per user.
type Store struct {
	cfg   Config
	cache *ttlcache.Cache[int64, *entry]
	locks [lockStripes]sync.Mutex
}

func NewStore(cfg Config) *Store {
	def := DefaultConfig()
	if cfg.CodeTTL <= 0 {
		cfg.CodeTTL = def.CodeTTL
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = def.MaxAttempts
	}
	if cfg.GraceWindow <= 0 {
		cfg.GraceWindow = def.GraceWindow
	}
	if cfg.Now == nil {
		cfg.Now = def.Now
	}

	return &Store{
		cfg: cfg,
		cache: ttlcache.New(
			ttlcache.WithTTL[int64, *entry](cfg.CodeTTL+hygieneMargin),
			ttlcache.WithDisableTouchOnHit[int64, *entry](),
		),
	}
}

func (s *Store) lock(userID int64) *sync.Mutex {
	return &s.locks[uint64(userID)%lockStripes]
}

// load returns the entry for userID, dropping it first if it is already evicted.
// The caller must hold the user's lock.
func (s *Store) load(userID int64, now time.Time) *entry {
	item := s.cache.Get(userID)
	if item == nil {
		return nil
	}
	e := item.Value()
	if e.state(now) == stateEvicted {
		s.cache.Delete(userID)
		return nil
	}
	return e
}

// SaveCode installs a fresh code for userID, replacing any previous one.
func (s *Store) SaveCode(userID int64, code string) {
	mu := s.lock(userID)
	mu.Lock()
	defer mu.Unlock()

	now := s.cfg.Now()
	s.cache.Set(userID, &entry{
		code:      code,
		createdAt: now,
		expiresAt: now.Add(s.cfg.CodeTTL),
	}, ttlcache.DefaultTTL)
}

// ValidateCode checks code against the pending code of userID and reports
// whether it matched together with a human-readable reason.
func (s *Store) ValidateCode(userID int64, code string) (bool, string) {
	mu := s.lock(userID)
	mu.Lock()
	defer mu.Unlock()

	now := s.cfg.Now()
	e := s.load(userID, now)
	if e == nil {
		return false, ReasonNotFound
	}

	switch e.state(now) {
	case stateUsed:
		return false, ReasonAlreadyUsed
	case stateExpired:
		s.cache.Delete(userID)
		return false, ReasonExpired
	}

	if e.failedAttempts >= s.cfg.MaxAttempts {
		s.cache.Delete(userID)
		return false, ReasonMaxAttempts
	}

	if subtle.ConstantTimeCompare([]byte(e.code), []byte(code)) != 1 {
		e.failedAttempts++
		return false, fmt.Sprintf(reasonIncorrectCode, s.cfg.MaxAttempts-e.failedAttempts)
	}

	e.used = true
	e.evictAt = now.Add(s.cfg.GraceWindow)
	s.cache.Set(userID, e, s.cfg.GraceWindow+hygieneMargin)
	return true, ReasonValid
}

// HasActiveCode reports whether userID has an unused, unexpired code.
func (s *Store) HasActiveCode(userID int64) bool {
	mu := s.lock(userID)
	mu.Lock()
	defer mu.Unlock()

	now := s.cfg.Now()
	e := s.load(userID, now)
	return e != nil && e.state(now) == stateLive
}

func (s *Store) RemoveCode(userID int64) {
	mu := s.lock(userID)
	mu.Lock()
	defer mu.Unlock()

	s.cache.Delete(userID)
}

// Sweep drops every entry that is expired or past its grace window.
// It returns the number of entries removed.
func (s *Store) Sweep() int {
	removed := 0
	for _, userID := range s.cache.Keys() {
		mu := s.lock(userID)
		mu.Lock()
		now := s.cfg.Now()
		if item := s.cache.Get(userID); item != nil {
			if st := item.Value().state(now); st == stateExpired || st == stateEvicted {
				s.cache.Delete(userID)
				removed++
			}
		}
		mu.Unlock()
	}
	return removed
}

// Len returns the number of entries currently held, including dead ones not yet swept.
func (s *Store) Len() int {
	return s.cache.Len()
}

// Run starts the cache's expiry loop and sweeps on every interval until ctx is done.
func (s *Store) Run(ctx context.Context, interval time.Duration) {
	go s.cache.Start()
	defer s.cache.Stop()

	if interval <= 0 {
		<-ctx.Done()
		return
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Sweep()
		}
	}
}
