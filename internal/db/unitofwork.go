package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
)

// ErrNoTransaction is returned by Commit when no transaction is open, including
// after an inner Rollback already ended it.
var ErrNoTransaction = errors.New("db: no transaction in progress")

// ErrRolledBack is returned by Begin once the unit of work was rolled back. A rollback
// ends the whole logical operation; nothing may run after it under the same unit of work.
var ErrRolledBack = errors.New("db: unit of work was rolled back")

// Executor is the query surface shared by *sql.DB and *sql.Tx. Repositories
// depend on it so the same code runs inside or outside a unit of work.
type Executor interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Transactor demarcates one logical operation. Begin may be called repeatedly;
// only the Commit matching the outermost Begin commits.
type Transactor interface {
	Begin(ctx context.Context) error
	Commit() error
	Rollback() error
}

// Factory creates a fresh Transactor per request or scanner tick.
type Factory interface {
	New() Transactor
}

// UnitOfWork is a depth-counted wrapper around one repeatable-read *sql.Tx.
type UnitOfWork struct {
	db *sql.DB

	mu    sync.Mutex
	tx    *sql.Tx
	depth int
	// aborted is the rolled-back transaction. Every statement on it fails with sql.ErrTxDone.
	aborted *sql.Tx
}

// NewUnitOfWork returns an idle unit of work over db.
func NewUnitOfWork(db *sql.DB) *UnitOfWork {
	return &UnitOfWork{db: db}
}

// Begin opens the transaction at depth 0 and otherwise only increments depth.
// Cancelling ctx rolls back the transaction opened by the outermost Begin.
func (u *UnitOfWork) Begin(ctx context.Context) error {
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.aborted != nil {
		return ErrRolledBack
	}
	if u.depth == 0 {
		tx, err := u.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelRepeatableRead})
		if err != nil {
			return fmt.Errorf("begin transaction: %w", err)
		}
		u.tx = tx
	}
	u.depth++
	return nil
}

// Commit decrements depth and commits when it reaches zero. A failed commit
// leaves the unit of work idle.
func (u *UnitOfWork) Commit() error {
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.depth == 0 || u.tx == nil {
		return ErrNoTransaction
	}
	u.depth--
	if u.depth > 0 {
		return nil
	}
	tx := u.tx
	u.tx = nil
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

// Rollback aborts the whole transaction regardless of depth and resets depth to zero.
// Afterwards Begin fails with ErrRolledBack and ExecutorFrom yields the dead transaction,
// so statements issued by outer callers fail instead of auto-committing.
// Rolling back an idle unit of work is a no-op.
func (u *UnitOfWork) Rollback() error {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.depth = 0
	if u.tx == nil {
		return nil
	}
	tx := u.tx
	u.tx = nil
	u.aborted = tx
	if err := tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
		return fmt.Errorf("rollback transaction: %w", err)
	}
	return nil
}

// Tx returns the open transaction or nil.
func (u *UnitOfWork) Tx() *sql.Tx {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.tx
}

func (u *UnitOfWork) executor() Executor {
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.tx != nil {
		return u.tx
	}
	if u.aborted != nil {
		return u.aborted
	}
	return nil
}

// Depth returns the current nesting depth.
func (u *UnitOfWork) Depth() int {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.depth
}

// SQLFactory hands out a new UnitOfWork over DB for every operation.
type SQLFactory struct {
	DB *sql.DB
}

// New implements Factory.
func (f SQLFactory) New() Transactor { return NewUnitOfWork(f.DB) }

// NopUnitOfWork tracks depth but has no transaction. Used with the in-memory stores.
type NopUnitOfWork struct {
	mu    sync.Mutex
	depth int
}

func (n *NopUnitOfWork) Begin(context.Context) error {
	n.mu.Lock()
	n.depth++
	n.mu.Unlock()
	return nil
}

func (n *NopUnitOfWork) Commit() error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.depth == 0 {
		return ErrNoTransaction
	}
	n.depth--
	return nil
}

func (n *NopUnitOfWork) Rollback() error {
	n.mu.Lock()
	n.depth = 0
	n.mu.Unlock()
	return nil
}

// NopFactory hands out NopUnitOfWork values.
type NopFactory struct{}

// New implements Factory.
func (NopFactory) New() Transactor { return &NopUnitOfWork{} }

type uowKey struct{}

// WithUnitOfWork returns a context carrying t as the ambient unit of work.
func WithUnitOfWork(ctx context.Context, t Transactor) context.Context {
	return context.WithValue(ctx, uowKey{}, t)
}

// FromContext returns the ambient unit of work, or nil.
func FromContext(ctx context.Context) Transactor {
	t, _ := ctx.Value(uowKey{}).(Transactor)
	return t
}

// ExecutorFrom returns the ambient open transaction, or fallback when no unit of work has
// begun. After a rollback it returns the rolled-back transaction, never fallback.
func ExecutorFrom(ctx context.Context, fallback *sql.DB) Executor {
	if u, ok := FromContext(ctx).(*UnitOfWork); ok {
		if ex := u.executor(); ex != nil {
			return ex
		}
	}
	return fallback
}

// Run executes fn inside the ambient unit of work, creating one from f when ctx has none.
// Nested calls share the outer transaction; an error or panic from fn rolls back everything.
func Run(ctx context.Context, f Factory, fn func(ctx context.Context) error) (err error) {
	t := FromContext(ctx)
	if t == nil {
		t = f.New()
		ctx = WithUnitOfWork(ctx, t)
	}
	if err := t.Begin(ctx); err != nil {
		return err
	}
	defer func() {
		if r := recover(); r != nil {
			_ = t.Rollback()
			panic(r)
		}
	}()
	if err := fn(ctx); err != nil {
		if rbErr := t.Rollback(); rbErr != nil {
			return errors.Join(err, rbErr)
		}
		return err
	}
	return t.Commit()
}
