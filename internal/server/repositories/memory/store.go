// Package memory is an in-process implementation of the certificate,
// audit and signup repositories with transactional semantics. It backs
// the "memory" storage mode and end-to-end tests.
//
// Transactions are serialized by a single mutex and write to the live
// state, recording an undo step per mutation; a failed or panicking
// transaction replays the steps in reverse. Lookups by certificate id or
// internal UUID are constant time; audit trails scan the event log.
package memory

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"

	"github.com/dmitrijs2005/certkeeper/internal/dbx"
	"github.com/dmitrijs2005/certkeeper/internal/server/models"
)

var errNoSQL = errors.New("memory store does not execute SQL")

type state struct {
	certificates map[string]*models.Certificate // by public certificate id
	byUUID       map[string]string              // internal UUID -> certificate id
	signups      map[string]*models.Signup
	events       []*models.AuditEvent
	lastEventID  int64

	// journal is non-nil while a transaction runs.
	journal *[]func()
}

func newState() *state {
	return &state{
		certificates: make(map[string]*models.Certificate),
		byUUID:       make(map[string]string),
		signups:      make(map[string]*models.Signup),
	}
}

// onRollback registers fn to run if the enclosing transaction fails.
// Outside a transaction writes are final and fn is discarded.
func (s *state) onRollback(fn func()) {
	if s.journal != nil {
		*s.journal = append(*s.journal, fn)
	}
}

// replaceCertificate swaps in a modified copy of the certificate stored
// under id, keeping the previous record for rollback.
func (s *state) replaceCertificate(id string, apply func(*models.Certificate)) *models.Certificate {
	prev := s.certificates[id]
	next := prev.Clone()
	apply(next)
	s.certificates[id] = next
	s.onRollback(func() { s.certificates[id] = prev })
	return next
}

// accessor runs fn against the state visible to a handle.
type accessor interface {
	access(fn func(*state) error) error
}

// Store implements dbx.Database. Its DBTX methods exist only so the
// store and its transactions can be passed to repository managers; they
// never execute SQL.
type Store struct {
	mu   sync.Mutex
	data *state
}

var _ dbx.Database = (*Store)(nil)

func NewStore() *Store {
	return &Store{data: newState()}
}

func (s *Store) access(fn func(*state) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return fn(s.data)
}

// InTx runs fn with exclusive access to the store. Writes made by fn are
// undone when it returns an error or panics; a panic is re-raised after
// the rollback.
func (s *Store) InTx(ctx context.Context, fn func(ctx context.Context, tx dbx.DBTX) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var undo []func()
	s.data.journal = &undo
	committed := false
	defer func() {
		s.data.journal = nil
		if committed {
			return
		}
		for i := len(undo) - 1; i >= 0; i-- {
			undo[i]()
		}
	}()

	if err := fn(ctx, &Tx{data: s.data}); err != nil {
		return err
	}
	committed = true
	return nil
}

func (s *Store) ExecContext(context.Context, string, ...any) (sql.Result, error) {
	return nil, errNoSQL
}

func (s *Store) QueryContext(context.Context, string, ...any) (*sql.Rows, error) {
	return nil, errNoSQL
}

// QueryRowContext panics since a *sql.Row cannot carry errNoSQL.
func (s *Store) QueryRowContext(_ context.Context, query string, _ ...any) *sql.Row {
	panic(fmt.Sprintf("memory: %v: %q", errNoSQL, query))
}

// PingContext always succeeds.
func (s *Store) PingContext(context.Context) error {
	return nil
}

// Tx is the handle passed to InTx callbacks.
type Tx struct {
	data *state
}

func (t *Tx) access(fn func(*state) error) error {
	return fn(t.data)
}

func (t *Tx) ExecContext(context.Context, string, ...any) (sql.Result, error) {
	return nil, errNoSQL
}

func (t *Tx) QueryContext(context.Context, string, ...any) (*sql.Rows, error) {
	return nil, errNoSQL
}

// QueryRowContext panics for the same reason as Store.QueryRowContext.
func (t *Tx) QueryRowContext(_ context.Context, query string, _ ...any) *sql.Row {
	panic(fmt.Sprintf("memory: %v: %q", errNoSQL, query))
}
