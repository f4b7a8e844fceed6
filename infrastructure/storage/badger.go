// Package storage implements ports.Store on top of Badger, an embedded
// transactional key-value store. Values are encoded with msgpack.
package storage

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"time"

	"github.com/dgraph-io/badger/v3"
	"github.com/rs/zerolog"

	"github.com/ahrav/go-cubecomp/internal/ports"
)

var _ ports.Store = (*BadgerStore)(nil)

// Sequence names used for numeric identifiers.
const (
	seqUser        = "user"
	seqCompetition = "competition"
	seqDiscipline  = "discipline"
	seqParticipant = "participant"
)

// sequenceBandwidth is how many identifiers a sequence leases at once.
const sequenceBandwidth = 100

const (
	defaultMaxRetries   = 10
	defaultRetryBackoff = 2 * time.Millisecond
	maxRetryBackoff     = 250 * time.Millisecond
)

// Options configures a BadgerStore.
type Options struct {
	// Path is the data directory. It is ignored when InMemory is set.
	Path string

	// InMemory keeps all data in memory; used by tests and ephemeral runs.
	InMemory bool

	// MaxRetries bounds how often an update is retried after a write
	// conflict with a concurrent transaction. Zero means the default of 10.
	MaxRetries int

	// RetryBackoff is the base wait before the first retry. Later retries
	// double it, up to maxRetryBackoff, with random jitter. Zero means 2ms.
	RetryBackoff time.Duration

	// Logger receives store and Badger diagnostics.
	Logger zerolog.Logger
}

// BadgerStore is a ports.Store backed by Badger. Badger transactions are
// serializable snapshot transactions, which gives each recalculation the
// read-compute-replace isolation it needs: a transaction that read rows a
// concurrent transaction has since rewritten fails to commit with
// badger.ErrConflict and is retried from a fresh snapshot.
type BadgerStore struct {
	db           *badger.DB
	sequences    map[string]*badger.Sequence
	maxRetries   int
	retryBackoff time.Duration
	logger       zerolog.Logger
}

// Open opens (or creates) a store.
func Open(opts Options) (*BadgerStore, error) {
	bopts := badger.DefaultOptions(opts.Path).
		WithInMemory(opts.InMemory).
		WithLogger(badgerLogger{opts.Logger})
	if opts.InMemory {
		bopts = bopts.WithDir("").WithValueDir("")
	}

	db, err := badger.Open(bopts)
	if err != nil {
		return nil, fmt.Errorf("open badger: %w", err)
	}

	s := &BadgerStore{
		db:           db,
		sequences:    make(map[string]*badger.Sequence),
		maxRetries:   opts.MaxRetries,
		retryBackoff: opts.RetryBackoff,
		logger:       opts.Logger.With().Str("component", "badger_store").Logger(),
	}
	if s.maxRetries <= 0 {
		s.maxRetries = defaultMaxRetries
	}
	if s.retryBackoff <= 0 {
		s.retryBackoff = defaultRetryBackoff
	}

	for _, name := range []string{seqUser, seqCompetition, seqDiscipline, seqParticipant} {
		seq, err := db.GetSequence([]byte("seq/"+name), sequenceBandwidth)
		if err != nil {
			_ = s.Close()
			return nil, fmt.Errorf("open sequence %s: %w", name, err)
		}
		s.sequences[name] = seq
	}

	return s, nil
}

// View runs fn in a read-only transaction.
func (s *BadgerStore) View(ctx context.Context, fn func(tx ports.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.db.View(func(txn *badger.Txn) error {
		return fn(&badgerTx{txn: txn, store: s})
	})
}

// Update runs fn in a read-write transaction, retrying on write conflicts
// up to the configured limit with jittered exponential backoff. A conflict
// that persists is reported as ports.ErrConflict. Cancelling ctx stops the
// retries, including one that is waiting out its backoff.
func (s *BadgerStore) Update(ctx context.Context, fn func(tx ports.Tx) error) error {
	var err error
	for attempt := 1; attempt <= s.maxRetries; attempt++ {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}

		err = s.db.Update(func(txn *badger.Txn) error {
			return fn(&badgerTx{txn: txn, store: s})
		})
		if !errors.Is(err, badger.ErrConflict) {
			return err
		}
		if attempt == s.maxRetries {
			break
		}

		wait := s.backoff(attempt)
		s.logger.Debug().Int("attempt", attempt).Dur("backoff", wait).Msg("transaction conflict, retrying")
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
	return fmt.Errorf("%w: transaction retries exhausted: %v", ports.ErrConflict, err)
}

// backoff returns the wait before retry number attempt: the base doubled
// per attempt and capped, then jittered to between half and all of it.
func (s *BadgerStore) backoff(attempt int) time.Duration {
	d := s.retryBackoff << min(attempt-1, 16)
	if d <= 0 || d > maxRetryBackoff {
		d = max(maxRetryBackoff, s.retryBackoff)
	}
	half := d / 2
	//nolint:gosec // G404: math/rand is acceptable for retry jitter timing.
	return half + rand.N(d-half+1)
}

// Close releases sequences and closes the database.
func (s *BadgerStore) Close() error {
	var errs []error
	for name, seq := range s.sequences {
		if err := seq.Release(); err != nil {
			errs = append(errs, fmt.Errorf("release sequence %s: %w", name, err))
		}
	}
	if err := s.db.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close badger: %w", err))
	}
	return errors.Join(errs...)
}

// nextID leases the next identifier of a sequence. Identifiers start at 1
// so that zero keeps meaning "not yet stored".
func (s *BadgerStore) nextID(name string) (int64, error) {
	seq, ok := s.sequences[name]
	if !ok {
		return 0, fmt.Errorf("unknown sequence %q", name)
	}
	n, err := seq.Next()
	if err != nil {
		return 0, fmt.Errorf("next %s id: %w", name, err)
	}
	return int64(n) + 1, nil
}

// badgerLogger routes Badger's internal logging to zerolog.
type badgerLogger struct{ zerolog.Logger }

func (l badgerLogger) Errorf(f string, v ...any)   { l.Error().Msgf(f, v...) }
func (l badgerLogger) Warningf(f string, v ...any) { l.Warn().Msgf(f, v...) }
func (l badgerLogger) Infof(f string, v ...any)    { l.Debug().Msgf(f, v...) }
func (l badgerLogger) Debugf(f string, v ...any)   { l.Trace().Msgf(f, v...) }
