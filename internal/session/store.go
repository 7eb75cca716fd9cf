package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/al-bashkir/implicit-session/internal/kv"
	"github.com/al-bashkir/implicit-session/internal/metrics"
)

// DefaultKey is the storage key holding the persisted session.
const DefaultKey = "user"

// defaultWriteTimeout bounds writes started from a state change, which
// carry no caller context.
const defaultWriteTimeout = 5 * time.Second

// ErrInvalidSession is returned when persisting a session with an empty field.
var ErrInvalidSession = errors.New("session is incomplete")

// Store sits between the shared State and a kv.Store. It restores the
// persisted session once at start-up and writes session changes back,
// except that once the load attempt has run, changes are no longer
// written automatically. This keeps an empty pre-load value from ever
// overwriting a real persisted session.
type Store struct {
	backend      kv.Store
	state        *State
	key          string
	writeTimeout time.Duration
	metrics      *metrics.Metrics

	loadOnce      sync.Once
	loadAttempted atomic.Bool
	restored      bool

	unsubscribe func()
}

// Option configures a Store.
type Option func(*Store)

// WithKey sets the storage key (default "user").
func WithKey(key string) Option {
	return func(s *Store) {
		if key != "" {
			s.key = key
		}
	}
}

// WithWriteTimeout bounds writes triggered by state changes.
func WithWriteTimeout(d time.Duration) Option {
	return func(s *Store) {
		if d > 0 {
			s.writeTimeout = d
		}
	}
}

// WithMetrics records loads and writes in m.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Store) {
		s.metrics = m
	}
}

// NewStore creates a Store and subscribes it to state changes.
// Call Close to unsubscribe.
func NewStore(backend kv.Store, state *State, opts ...Option) *Store {
	s := &Store{
		backend:      backend,
		state:        state,
		key:          DefaultKey,
		writeTimeout: defaultWriteTimeout,
	}
	for _, opt := range opts {
		opt(s)
	}

	s.unsubscribe = state.Subscribe(s.onChange)
	return s
}

// Close stops writing state changes to storage. The backend is not closed.
func (s *Store) Close() {
	s.unsubscribe()
}

// Load attempts once to restore the persisted session into the shared
// State. It reports whether a session was restored; calls after the first
// return the first result without touching storage.
func (s *Store) Load(ctx context.Context) bool {
	s.loadOnce.Do(func() {
		sess, ok := s.read(ctx)

		// Marked before publishing so the restored value is not written back.
		s.loadAttempted.Store(true)

		if ok {
			s.state.Set(&sess)
			s.restored = true
		}
	})
	return s.restored
}

// LoadAttempted reports whether Load has run.
func (s *Store) LoadAttempted() bool {
	return s.loadAttempted.Load()
}

func (s *Store) read(ctx context.Context) (Session, bool) {
	data, err := s.backend.Get(ctx, s.key)
	if errors.Is(err, kv.ErrNotFound) {
		slog.Debug("no persisted session", "key", s.key)
		s.metrics.Load(metrics.LoadEmpty)
		return Session{}, false
	}
	if err != nil {
		slog.Warn("failed to read persisted session", "key", s.key, "error", err)
		s.metrics.Load(metrics.LoadError)
		return Session{}, false
	}

	var sess Session
	if err := json.Unmarshal(data, &sess); err != nil {
		slog.Warn("persisted session is not valid JSON", "key", s.key, "error", err)
		s.metrics.Load(metrics.LoadInvalid)
		return Session{}, false
	}
	if !sess.Valid() {
		slog.Warn("persisted session is incomplete", "key", s.key)
		s.metrics.Load(metrics.LoadInvalid)
		return Session{}, false
	}

	slog.Info("restored persisted session", "key", s.key, "subject", sess.Subject)
	s.metrics.Load(metrics.LoadRestored)
	return sess, true
}

// Persist writes sess to storage regardless of the load state.
func (s *Store) Persist(ctx context.Context, sess Session) error {
	return s.write(ctx, sess, metrics.TriggerRedirect)
}

func (s *Store) write(ctx context.Context, sess Session, trigger string) error {
	if !sess.Valid() {
		s.metrics.Persist(trigger, metrics.PersistError)
		return ErrInvalidSession
	}

	data, err := json.Marshal(sess)
	if err != nil {
		s.metrics.Persist(trigger, metrics.PersistError)
		return fmt.Errorf("failed to encode session: %w", err)
	}

	if err := s.backend.Set(ctx, s.key, data); err != nil {
		s.metrics.Persist(trigger, metrics.PersistError)
		return fmt.Errorf("failed to write session: %w", err)
	}

	slog.Debug("session persisted", "key", s.key, "trigger", trigger, "subject", sess.Subject)
	s.metrics.Persist(trigger, metrics.PersistOK)
	return nil
}

// onChange is the save-on-change path. Failures are logged and dropped.
func (s *Store) onChange(sess Session, ok bool) {
	if !ok {
		return
	}

	if s.loadAttempted.Load() {
		slog.Debug("session changed after load attempt, not persisting", "key", s.key)
		s.metrics.Persist(metrics.TriggerChange, metrics.PersistGuarded)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), s.writeTimeout)
	defer cancel()

	if err := s.write(ctx, sess, metrics.TriggerChange); err != nil {
		slog.Warn("failed to persist session, keeping it in memory only", "error", err)
	}
}
