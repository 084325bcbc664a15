// Package concurrency wraps the database package in a shared-reader,
// exclusive-writer lock, with a connection/transaction layer on top for
// batching operations into a single atomic lock acquisition.
package concurrency

import (
	"fmt"
	"sync"

	"github.com/mars/mars/pkg/database"
	"github.com/mars/mars/pkg/graph"
	"github.com/mars/mars/pkg/schema"
	"github.com/mars/mars/pkg/table"
)

// ConcurrentDatabase guards a *database.Database behind a RWMutex: any
// number of readers may run concurrently, but mutation requires exclusive
// access.
type ConcurrentDatabase struct {
	mu sync.RWMutex
	db *database.Database
}

// InMemory creates a concurrent database with no backing file.
func InMemory(config graph.Config) *ConcurrentDatabase {
	return &ConcurrentDatabase{db: database.InMemory(config)}
}

// Open loads an existing database file at path, or creates a fresh one
// there if none exists.
func Open(config graph.Config, path string) (*ConcurrentDatabase, error) {
	db, err := database.Open(config, path)
	if err != nil {
		return nil, err
	}
	return &ConcurrentDatabase{db: db}, nil
}

// Save rewrites the database's backing file under an exclusive lock.
//
// This deliberately takes the write lock rather than a read lock: saving
// under a shared lock lets a concurrent writer mutate a table mid-encode,
// risking a torn snapshot even though the file-write itself is atomic.
func (cd *ConcurrentDatabase) Save() error {
	cd.mu.Lock()
	defer cd.mu.Unlock()
	return cd.db.Save()
}

// WithRead runs fn with a shared lock held, for callers that need direct,
// read-only access to the underlying database.
func (cd *ConcurrentDatabase) WithRead(fn func(*database.Database)) {
	cd.mu.RLock()
	defer cd.mu.RUnlock()
	fn(cd.db)
}

// WithWrite runs fn with the exclusive lock held, for callers that need
// direct, mutating access to the underlying database.
func (cd *ConcurrentDatabase) WithWrite(fn func(*database.Database)) {
	cd.mu.Lock()
	defer cd.mu.Unlock()
	fn(cd.db)
}

// TableNames returns every table name under a shared lock.
func (cd *ConcurrentDatabase) TableNames() []string {
	cd.mu.RLock()
	defer cd.mu.RUnlock()
	return cd.db.TableNames()
}

// ShowTables returns introspection metadata for every table under a shared
// lock.
func (cd *ConcurrentDatabase) ShowTables() []database.TableInfo {
	cd.mu.RLock()
	defer cd.mu.RUnlock()
	return cd.db.ShowTables()
}

// Connect creates a connection to the database. A connection owns its own
// transaction state and is not itself safe for concurrent use from multiple
// goroutines; share the ConcurrentDatabase (or a Pool) instead, and give
// each goroutine its own Connection.
func (cd *ConcurrentDatabase) Connect() *Connection {
	return &Connection{db: cd}
}

// VacuumTombstones compacts every table whose graph carries freed node
// slots from prior deletes. It uses a two-phase lock: a read pass finds
// tables worth compacting, then a write pass re-checks and compacts them,
// so the exclusive lock is held only when there is work to do.
func (cd *ConcurrentDatabase) VacuumTombstones() error {
	cd.mu.RLock()
	dirty := dirtyTables(cd.db)
	cd.mu.RUnlock()

	if len(dirty) == 0 {
		return nil
	}

	cd.mu.Lock()
	defer cd.mu.Unlock()
	for _, name := range dirty {
		t, err := cd.db.GetTable(name)
		if err != nil {
			continue
		}
		if !t.Graph().HasTombstones() {
			continue // compacted by someone else between the two passes
		}
		if err := t.Compact(); err != nil {
			return fmt.Errorf("concurrency: vacuum table %q: %w", name, err)
		}
	}
	return nil
}

func dirtyTables(db *database.Database) []string {
	names := db.TableNames()
	dirty := make([]string, 0, len(names))
	for _, name := range names {
		t, err := db.GetTable(name)
		if err != nil {
			continue
		}
		if t.Graph().HasTombstones() {
			dirty = append(dirty, name)
		}
	}
	return dirty
}

// pendingOp is one deferred mutation queued by a transaction. label
// identifies it in error messages; apply runs it against the locked
// database and returns whatever result the caller queued it for.
type pendingOp struct {
	label string
	apply func(*database.Database) (interface{}, error)
}

// Connection is a handle for executing operations against a
// ConcurrentDatabase, with its own transaction state.
type Connection struct {
	db *ConcurrentDatabase
	tx []pendingOp // nil outside a transaction; non-nil (possibly empty) inside one
}

// InTransaction reports whether a transaction is currently open.
func (c *Connection) InTransaction() bool { return c.tx != nil }

// Begin starts a transaction. Mutating calls made on this connection are
// queued rather than applied until Commit runs them in order under one
// exclusive lock acquisition.
func (c *Connection) Begin() error {
	if c.tx != nil {
		return fmt.Errorf("concurrency: transaction already in progress")
	}
	c.tx = []pendingOp{}
	return nil
}

// Rollback discards every operation queued since Begin.
func (c *Connection) Rollback() error {
	if c.tx == nil {
		return fmt.Errorf("concurrency: no transaction in progress")
	}
	c.tx = nil
	return nil
}

// Commit applies every queued operation under a single exclusive lock
// acquisition and returns each operation's result in order.
//
// Commit stops at the first error: operations already applied before the
// failing one remain applied, and nothing queued after it runs. There is no
// automatic rollback of partial work; callers that need all-or-nothing
// semantics must design their operations to be safely re-appliable, or
// check results defensively.
func (c *Connection) Commit() ([]interface{}, error) {
	if c.tx == nil {
		return nil, fmt.Errorf("concurrency: no transaction in progress")
	}
	ops := c.tx
	c.tx = nil

	c.db.mu.Lock()
	defer c.db.mu.Unlock()

	results := make([]interface{}, 0, len(ops))
	for _, op := range ops {
		res, err := op.apply(c.db.db)
		if err != nil {
			return results, fmt.Errorf("concurrency: %s: %w", op.label, err)
		}
		results = append(results, res)
	}
	return results, nil
}

// queueOrRun either queues fn for the next Commit (inside a transaction) or
// runs it immediately under an exclusive lock (outside one).
func (c *Connection) queueOrRun(label string, fn func(*database.Database) (interface{}, error)) (interface{}, error) {
	if c.tx != nil {
		c.tx = append(c.tx, pendingOp{label: label, apply: fn})
		return nil, nil
	}
	c.db.mu.Lock()
	defer c.db.mu.Unlock()
	return fn(c.db.db)
}

// CreateTable defines a new table, queuing it if a transaction is open.
func (c *Connection) CreateTable(name string, columns []database.ColumnDef) error {
	_, err := c.queueOrRun("create table "+name, func(db *database.Database) (interface{}, error) {
		return nil, db.CreateTable(name, columns)
	})
	return err
}

// DropTable removes a table, queuing it if a transaction is open.
func (c *Connection) DropTable(name string, ifExists bool) error {
	_, err := c.queueOrRun("drop table "+name, func(db *database.Database) (interface{}, error) {
		return nil, db.DropTable(name, ifExists)
	})
	return err
}

// InsertDirect inserts one row, queuing it if a transaction is open. Outside
// a transaction the returned id is valid immediately; inside one it is
// always 0, since the row hasn't been assigned yet.
func (c *Connection) InsertDirect(tableName string, vector []float32, metadata map[string]schema.Value) (uint64, error) {
	res, err := c.queueOrRun("insert into "+tableName, func(db *database.Database) (interface{}, error) {
		return db.InsertDirect(tableName, vector, metadata)
	})
	if err != nil || res == nil {
		return 0, err
	}
	return res.(uint64), nil
}

// InsertBatchDirect inserts multiple rows, queuing it if a transaction is
// open.
func (c *Connection) InsertBatchDirect(tableName string, vectors [][]float32, metadata []map[string]schema.Value) ([]uint64, error) {
	res, err := c.queueOrRun("batch insert into "+tableName, func(db *database.Database) (interface{}, error) {
		return db.InsertBatchDirect(tableName, vectors, metadata)
	})
	if err != nil || res == nil {
		return nil, err
	}
	return res.([]uint64), nil
}

// Update applies assignments to every row of tableName matching pred,
// queuing it if a transaction is open.
func (c *Connection) Update(tableName string, assignments map[string]schema.Value, pred table.Predicate) (int, error) {
	res, err := c.queueOrRun("update "+tableName, func(db *database.Database) (interface{}, error) {
		t, err := db.GetTable(tableName)
		if err != nil {
			return nil, err
		}
		return t.Update(assignments, pred)
	})
	if err != nil || res == nil {
		return 0, err
	}
	return res.(int), nil
}

// Delete removes every row of tableName matching pred, queuing it if a
// transaction is open.
func (c *Connection) Delete(tableName string, pred table.Predicate) (int, error) {
	res, err := c.queueOrRun("delete from "+tableName, func(db *database.Database) (interface{}, error) {
		t, err := db.GetTable(tableName)
		if err != nil {
			return nil, err
		}
		return t.Delete(pred)
	})
	if err != nil || res == nil {
		return 0, err
	}
	return res.(int), nil
}

// Select runs a filtered, non-similarity read. Selects always run
// immediately under a shared lock, even inside an open transaction, since
// they observe state rather than mutate it.
func (c *Connection) Select(tableName string, pred table.Predicate, opts table.SelectOptions) ([]schema.Row, error) {
	c.db.mu.RLock()
	defer c.db.mu.RUnlock()
	t, err := c.db.db.GetTable(tableName)
	if err != nil {
		return nil, err
	}
	return t.FilteredSelect(pred, opts)
}

// SearchSimilar runs an ANN query. Like Select, it always runs immediately
// under a shared lock.
func (c *Connection) SearchSimilar(tableName string, query []float32, k, searchBuffer int) ([]table.SimilarityResult, error) {
	c.db.mu.RLock()
	defer c.db.mu.RUnlock()
	return c.db.db.SearchSimilar(tableName, query, k, searchBuffer)
}

// ShowTables returns introspection metadata for every table.
func (c *Connection) ShowTables() []database.TableInfo {
	return c.db.ShowTables()
}

// TableNames returns every table name.
func (c *Connection) TableNames() []string {
	return c.db.TableNames()
}

// Database returns the underlying ConcurrentDatabase this connection talks
// to.
func (c *Connection) Database() *ConcurrentDatabase { return c.db }

// ScopedTransaction pairs a Connection with an open transaction and
// requires the caller to explicitly end it. Go has no destructor to fall
// back to rollback-on-drop the way the original RAII guard did, so the
// caller must call Commit, or Close to discard, typically via defer:
//
//	tx, err := conn.BeginScoped()
//	if err != nil { return err }
//	defer tx.Close() // no-op if Commit already ran
//	...
//	return tx.Commit()
type ScopedTransaction struct {
	conn      *Connection
	committed bool
}

// BeginScoped opens a transaction on conn and wraps it in a ScopedTransaction.
func (c *Connection) BeginScoped() (*ScopedTransaction, error) {
	if err := c.Begin(); err != nil {
		return nil, err
	}
	return &ScopedTransaction{conn: c}, nil
}

// Commit applies the transaction's queued operations.
func (st *ScopedTransaction) Commit() ([]interface{}, error) {
	st.committed = true
	return st.conn.Commit()
}

// Close rolls back the transaction if it was never committed. Safe to call
// after a successful Commit, where it is a no-op.
func (st *ScopedTransaction) Close() error {
	if st.committed {
		return nil
	}
	st.committed = true
	return st.conn.Rollback()
}

// Pool is a shared handle to a ConcurrentDatabase, safe to clone (by
// sharing the pointer) across goroutines that each want their own
// Connection.
type Pool struct {
	db *ConcurrentDatabase
}

// NewPool wraps an existing ConcurrentDatabase in a Pool.
func NewPool(db *ConcurrentDatabase) *Pool { return &Pool{db: db} }

// NewInMemoryPool creates a pool around a fresh in-memory database.
func NewInMemoryPool(config graph.Config) *Pool {
	return &Pool{db: InMemory(config)}
}

// OpenPool opens (or creates) a database file and wraps it in a pool.
func OpenPool(config graph.Config, path string) (*Pool, error) {
	db, err := Open(config, path)
	if err != nil {
		return nil, err
	}
	return &Pool{db: db}, nil
}

// Connect returns a new connection to the pool's database.
func (p *Pool) Connect() *Connection { return p.db.Connect() }

// Database returns the pool's underlying ConcurrentDatabase.
func (p *Pool) Database() *ConcurrentDatabase { return p.db }

// Save persists the pool's database.
func (p *Pool) Save() error { return p.db.Save() }
