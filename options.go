package bitkv

import "log/slog"

// DefaultThreshold is the rollover size, in bytes, at which the active
// segment is sealed and a fresh one takes its place.
const DefaultThreshold = 1024

// MemoryDir is the sentinel directory name that selects in-memory mode:
// no filesystem path is touched, and Sync/Merge fail with
// ErrUnsupportedInMemory.
const MemoryDir = ":memory"

// Option configures a Store at construction time.
type Option func(*Store)

// WithThreshold overrides the default rollover threshold.
func WithThreshold(n int64) Option {
	return func(s *Store) { s.threshold = n }
}

// WithFsync makes every Put fsync the active segment before returning.
// Off by default: callers wanting stronger durability should call Sync
// explicitly, or opt in here.
func WithFsync(b bool) Option {
	return func(s *Store) { s.fsync = b }
}

// WithLogger overrides the *slog.Logger used for structured logging.
// The default is slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(s *Store) { s.logger = l }
}

// New constructs a closed Store. Call Open to start using it.
func New(opts ...Option) *Store {
	s := &Store{
		threshold: DefaultThreshold,
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}
