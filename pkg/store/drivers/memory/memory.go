// Package memory is the zero-dependency store driver: everything lives in
// process maps. The default for single-node deployments and the reference
// implementation the driver tests hold redis and sqlite against.
package memory

import (
	"context"
	"time"

	"github.com/aussiebroadwan/sessionguard/pkg/store"
)

// Store implements store.Store in process memory.
type Store struct {
	sessions    *sessionRegistry
	revocations *revocationRegistry
}

// New returns an empty in-memory store.
func New() *Store {
	return NewWithClock(time.Now)
}

// NewWithClock lets tests pin the clock the blacklist expires against.
func NewWithClock(now func() time.Time) *Store {
	return &Store{
		sessions:    newSessionRegistry(),
		revocations: newRevocationRegistry(now),
	}
}

func (s *Store) Sessions() store.Sessions       { return s.sessions }
func (s *Store) Revocations() store.Revocations { return s.revocations }

func (s *Store) Ping(ctx context.Context) error { return ctx.Err() }
func (s *Store) Close() error                   { return nil }
