package metrics

import (
	"context"
	"time"

	"github.com/fluxa-protocol/x402-gateway/pkg/x402v2/odp"
)

// InstrumentedSessionStore decorates an odp.SessionStore with query-duration
// observation, labelled by operation and backend ("memory", "postgres",
// "mongodb").
type InstrumentedSessionStore struct {
	inner   odp.SessionStore
	metrics *Metrics
	backend string
}

// InstrumentSessionStore wraps store. A nil metrics collector returns the store
// unwrapped.
func InstrumentSessionStore(store odp.SessionStore, m *Metrics, backend string) odp.SessionStore {
	if m == nil {
		return store
	}
	return &InstrumentedSessionStore{inner: store, metrics: m, backend: backend}
}

// Get implements odp.SessionStore.
func (s *InstrumentedSessionStore) Get(ctx context.Context, sessionID string) (*odp.SessionRecord, bool, error) {
	start := time.Now()
	record, found, err := s.inner.Get(ctx, sessionID)
	s.metrics.ObserveDBQuery("get", s.backend, time.Since(start))
	return record, found, err
}

// Put implements odp.SessionStore.
func (s *InstrumentedSessionStore) Put(ctx context.Context, sessionID string, record *odp.SessionRecord) error {
	start := time.Now()
	err := s.inner.Put(ctx, sessionID, record)
	s.metrics.ObserveDBQuery("put", s.backend, time.Since(start))
	return err
}

// Delete implements odp.SessionStore.
func (s *InstrumentedSessionStore) Delete(ctx context.Context, sessionID string) error {
	start := time.Now()
	err := s.inner.Delete(ctx, sessionID)
	s.metrics.ObserveDBQuery("delete", s.backend, time.Since(start))
	return err
}

// Sessions implements odp.SessionStore.
func (s *InstrumentedSessionStore) Sessions(ctx context.Context) ([]string, error) {
	start := time.Now()
	ids, err := s.inner.Sessions(ctx)
	s.metrics.ObserveDBQuery("sessions", s.backend, time.Since(start))
	return ids, err
}
