// Copyright 2025 Certen Protocol
//
// Package replay implements the deterministic replay environment: given a
// claimed pre-state and an ordered statement list, it replays the
// statements against an isolated schema of a real backend database and
// reports whether the result matches a claimed post-state.
//
// The pooled client is grounded on the teacher's pkg/database.Client
// (functional-options *sql.DB wrapper over lib/pq). Per-statement isolation
// is grounded on other_examples' Tableland blockScope/txnScope pattern:
// SAVEPOINT / ROLLBACK TO / RELEASE SAVEPOINT around each unit of work,
// adapted here from per-event savepoint discipline to whole-transaction
// replay against a dedicated schema.

package replay

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"sort"
	"time"

	_ "github.com/lib/pq"

	"github.com/certen/independant-validator/pkg/cryptohash"
	"github.com/certen/independant-validator/pkg/model"
)

var (
	ErrTimeout         = errors.New("replay: operation exceeded its timeout")
	ErrExecutionFailed = errors.New("replay: statement execution failed")
)

// Statement is one SQL statement to replay, already rewritten at the
// query-analyzer boundary per the determinism contract (spec section 4.6):
// non-deterministic calls substituted, "select without order by" rewritten,
// parallel execution disabled.
type Statement struct {
	SQL    string
	Params []model.Value
}

// PreState is the claimed starting point of a replay: one TableState per
// table, by name.
type PreState map[string]*model.TableState

// Mismatch describes one divergence between the claimed and actual
// post-state.
type Mismatch struct {
	Table   string
	Reason  string
	RowID   string // empty when the mismatch is table-level, not row-level
}

// Result is the verdict of one replay run. ResourceExceeded is non-empty
// when the run was cut short by a resource limit — still a verification
// failure, annotated so the caller can raise the right challenge kind.
type Result struct {
	Success          bool
	MismatchedTables []Mismatch
	MismatchedRows   []Mismatch
	ResourceExceeded string
	ExecutionTimeMS  int64
	OperationsRun    int
	ActualState      map[string]*model.TableState
}

// Config bounds one replay run's resource usage, per spec section 4.6/5.
type Config struct {
	PoolSize          int
	ConnectionTimeout time.Duration
	StatementTimeout  time.Duration
	IsolationSchema   string
}

// DefaultConfig matches the teacher's conservative defaults for external
// I/O paths.
func DefaultConfig() Config {
	return Config{
		PoolSize:          10,
		ConnectionTimeout: 5 * time.Second,
		StatementTimeout:  10 * time.Second,
		IsolationSchema:   "certen_replay",
	}
}

// Pool is the backend SQL collaborator: connect/acquire/execute/query/release,
// per spec section 6's outbound interface, backed by a real *sql.DB.
type Pool struct {
	db     *sql.DB
	cfg    Config
	logger *log.Logger
}

// NewPool opens a connection pool against dsn. The environment never talks
// to the production database directly — dsn must point at a database whose
// isolation schema is dedicated to replay.
func NewPool(dsn string, cfg Config, logger *log.Logger) (*Pool, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("replay: open backend: %w", err)
	}
	if cfg.PoolSize > 0 {
		db.SetMaxOpenConns(cfg.PoolSize)
	}
	if logger == nil {
		logger = log.Default()
	}
	return &Pool{db: db, cfg: cfg, logger: logger}, nil
}

// Close releases the pool's underlying connections.
func (p *Pool) Close() error {
	return p.db.Close()
}

// acquire returns a single connection with the pool's configured connection
// timeout, always releasable via the returned closer even on partial
// failure.
func (p *Pool) acquire(ctx context.Context) (*sql.Conn, error) {
	ctx, cancel := context.WithTimeout(ctx, p.cfg.ConnectionTimeout)
	defer cancel()
	return p.db.Conn(ctx)
}

// Environment drives one replay run against a Pool.
type Environment struct {
	pool    *Pool
	algo    cryptohash.Algorithm
	logger  *log.Logger
	limiter *Limiter
}

// EnvOption configures an Environment's optional collaborators.
type EnvOption func(*Environment)

// WithLimiter installs a resource Limiter shared by all of the
// environment's replay runs.
func WithLimiter(l *Limiter) EnvOption {
	return func(e *Environment) { e.limiter = l }
}

// NewEnvironment builds a replay Environment over pool.
func NewEnvironment(pool *Pool, algo cryptohash.Algorithm, logger *log.Logger, opts ...EnvOption) *Environment {
	if logger == nil {
		logger = log.Default()
	}
	e := &Environment{pool: pool, algo: algo, logger: logger}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Replay executes the spec section 4.6 procedure: materialize pre-state,
// set deterministic session parameters, execute statements under a
// per-statement timeout, capture actual post-state, and diff against
// claimed. The pooled connection is always released, on every exit path.
//
// Resource limits are enforced up front (concurrency, estimated pre-state
// memory) and across the whole run (wall time); a breach returns a failed
// Result annotated with ResourceExceeded, never a system error.
func (e *Environment) Replay(ctx context.Context, pre PreState, stmts []Statement, claimedPost map[string]*model.TableState) (*Result, error) {
	start := time.Now()

	if err := e.limiter.Acquire(); err != nil {
		return resourceFailure(start, err), nil
	}
	defer e.limiter.Release()

	memBytes := preStateSize(pre)
	if err := e.limiter.AllocateMemory(memBytes); err != nil {
		return resourceFailure(start, err), nil
	}
	defer e.limiter.FreeMemory(memBytes)

	if wallTime := e.limiter.WallTimeLimit(); wallTime > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, wallTime)
		defer cancel()
	}

	result, err := e.run(ctx, start, pre, stmts, claimedPost)
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		if err != nil {
			return resourceFailure(start, fmt.Errorf("%w: %v", ErrWallTimeLimit, err)), nil
		}
		// A statement cut short by the run's deadline reports a failed
		// Result rather than an error; annotate it the same way.
		if result != nil && !result.Success && result.ResourceExceeded == "" {
			result.ResourceExceeded = ErrWallTimeLimit.Error()
		}
	}
	return result, err
}

func resourceFailure(start time.Time, err error) *Result {
	return &Result{
		Success:          false,
		ResourceExceeded: err.Error(),
		ExecutionTimeMS:  time.Since(start).Milliseconds(),
	}
}

func (e *Environment) run(ctx context.Context, start time.Time, pre PreState, stmts []Statement, claimedPost map[string]*model.TableState) (*Result, error) {
	conn, err := e.pool.acquire(ctx)
	if err != nil {
		return nil, fmt.Errorf("replay: acquire connection: %w", err)
	}
	defer conn.Close()

	if err := e.createIsolationSchemaIfAbsent(ctx, conn); err != nil {
		return nil, fmt.Errorf("replay: create isolation schema: %w", err)
	}

	if err := e.materializePreState(ctx, conn, pre); err != nil {
		return nil, fmt.Errorf("replay: materialize pre-state: %w", err)
	}

	tx, err := conn.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("replay: begin: %w", err)
	}

	if err := e.setDeterministicSessionParameters(ctx, tx); err != nil {
		tx.Rollback()
		return nil, fmt.Errorf("replay: session parameters: %w", err)
	}

	opsRun := 0
	for _, stmt := range stmts {
		stmtCtx, cancel := context.WithTimeout(ctx, e.pool.cfg.StatementTimeout)
		_, err := tx.ExecContext(stmtCtx, stmt.SQL, paramsToArgs(stmt.Params)...)
		cancel()
		if err != nil {
			tx.Rollback()
			if errors.Is(stmtCtx.Err(), context.DeadlineExceeded) {
				return &Result{Success: false, MismatchedTables: []Mismatch{{Reason: "statement timeout"}}, ExecutionTimeMS: time.Since(start).Milliseconds(), OperationsRun: opsRun}, nil
			}
			return nil, fmt.Errorf("%w: %v", ErrExecutionFailed, err)
		}
		opsRun++
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("replay: commit: %w", err)
	}

	actual, err := e.capturePostState(ctx, conn, claimedPost)
	if err != nil {
		return nil, fmt.Errorf("replay: capture post-state: %w", err)
	}

	result := diff(claimedPost, actual)
	result.ExecutionTimeMS = time.Since(start).Milliseconds()
	result.OperationsRun = opsRun
	result.ActualState = actual
	return result, nil
}

func (e *Environment) createIsolationSchemaIfAbsent(ctx context.Context, conn *sql.Conn) error {
	_, err := conn.ExecContext(ctx, fmt.Sprintf("CREATE SCHEMA IF NOT EXISTS %s", e.pool.cfg.IsolationSchema))
	return err
}

// materializePreState issues CREATE TABLE IF NOT EXISTS for every claimed
// table, then INSERTs each row with parameterized statements typed from its
// values.
func (e *Environment) materializePreState(ctx context.Context, conn *sql.Conn, pre PreState) error {
	names := make([]string, 0, len(pre))
	for name := range pre {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		ts := pre[name]
		if err := e.createTableIfAbsent(ctx, conn, ts.Schema); err != nil {
			return err
		}
		ids := make([]string, 0, len(ts.Rows))
		for id := range ts.Rows {
			ids = append(ids, id)
		}
		sort.Strings(ids)
		for _, id := range ids {
			if err := e.insertRow(ctx, conn, name, ts.Rows[id]); err != nil {
				return err
			}
		}
	}
	return nil
}

func (e *Environment) createTableIfAbsent(ctx context.Context, conn *sql.Conn, s *model.TableSchema) error {
	sql := fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s.%s (%s)", e.pool.cfg.IsolationSchema, s.Name, columnDDL(s))
	_, err := conn.ExecContext(ctx, sql)
	return err
}

func columnDDL(s *model.TableSchema) string {
	out := ""
	for i, c := range s.Columns {
		if i > 0 {
			out += ", "
		}
		out += fmt.Sprintf("%s %s", c.Name, sqlTypeName(c.Type))
		if !c.Nullable {
			out += " NOT NULL"
		}
	}
	if len(s.PrimaryKey) > 0 {
		out += fmt.Sprintf(", PRIMARY KEY (%s)", joinColumns(s.PrimaryKey))
	}
	return out
}

func joinColumns(cols []string) string {
	out := ""
	for i, c := range cols {
		if i > 0 {
			out += ", "
		}
		out += c
	}
	return out
}

func sqlTypeName(t model.ColumnType) string {
	switch t.Kind {
	case model.ColumnInteger:
		return "integer"
	case model.ColumnBigInt:
		return "bigint"
	case model.ColumnFloat:
		return "double precision"
	case model.ColumnBoolean:
		return "boolean"
	case model.ColumnUUID:
		return "uuid"
	case model.ColumnTimestamp:
		return "timestamp"
	case model.ColumnBinary:
		return "bytea"
	case model.ColumnJSON:
		return "jsonb"
	case model.ColumnChar:
		return fmt.Sprintf("char(%d)", t.Length)
	case model.ColumnVarChar:
		return fmt.Sprintf("varchar(%d)", t.Length)
	default:
		return "text"
	}
}

func (e *Environment) insertRow(ctx context.Context, conn *sql.Conn, table string, row model.Row) error {
	names := make([]string, 0, len(row.Columns))
	for name := range row.Columns {
		names = append(names, name)
	}
	sort.Strings(names)

	cols, placeholders, args := "", "", make([]interface{}, 0, len(names))
	for i, name := range names {
		if i > 0 {
			cols += ", "
			placeholders += ", "
		}
		cols += name
		placeholders += fmt.Sprintf("$%d", i+1)
		args = append(args, valueToArg(row.Columns[name]))
	}
	sql := fmt.Sprintf("INSERT INTO %s.%s (%s) VALUES (%s)", e.pool.cfg.IsolationSchema, table, cols, placeholders)
	_, err := conn.ExecContext(ctx, sql, args...)
	return err
}

// setDeterministicSessionParameters pins the session to the determinism
// contract: UTC timezone, no parallel workers, the isolation schema as the
// only search path entry, and JIT disabled.
func (e *Environment) setDeterministicSessionParameters(ctx context.Context, tx *sql.Tx) error {
	stmts := []string{
		"SET TIME ZONE 'UTC'",
		"SET max_parallel_workers_per_gather = 0",
		fmt.Sprintf("SET search_path = %s", e.pool.cfg.IsolationSchema),
		"SET jit = off",
	}
	for _, s := range stmts {
		if _, err := tx.ExecContext(ctx, s); err != nil {
			return err
		}
	}
	return nil
}

// capturePostState queries every table present in claimedPost, converting
// rows to the internal Value model and rebuilding a fresh TableState per
// table.
func (e *Environment) capturePostState(ctx context.Context, conn *sql.Conn, claimedPost map[string]*model.TableState) (map[string]*model.TableState, error) {
	actual := make(map[string]*model.TableState, len(claimedPost))
	names := make([]string, 0, len(claimedPost))
	for name := range claimedPost {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		schema := claimedPost[name].Schema
		rows, err := e.queryAllRows(ctx, conn, schema)
		if err != nil {
			return nil, err
		}
		ts := model.NewTableState(e.algo, schema)
		for _, row := range rows {
			ts.Insert(row)
		}
		actual[name] = ts
	}
	return actual, nil
}

func (e *Environment) queryAllRows(ctx context.Context, conn *sql.Conn, schema *model.TableSchema) ([]model.Row, error) {
	names := make([]string, len(schema.Columns))
	for i, c := range schema.Columns {
		names[i] = c.Name
	}
	sql := fmt.Sprintf("SELECT %s FROM %s.%s", joinColumns(names), e.pool.cfg.IsolationSchema, schema.Name)
	rows, err := conn.QueryContext(ctx, sql)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.Row
	for rows.Next() {
		scanned := make([]interface{}, len(names))
		ptrs := make([]interface{}, len(names))
		for i := range scanned {
			ptrs[i] = &scanned[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, err
		}
		columns := make(map[string]model.Value, len(names))
		for i, name := range names {
			columns[name] = argToValue(schema.Columns[i].Type, scanned[i])
		}
		row, err := model.NewRow(schema.PrimaryKey, columns)
		if err != nil {
			return nil, err
		}
		out = append(out, row)
	}
	return out, rows.Err()
}

func diff(claimed, actual map[string]*model.TableState) *Result {
	var tableMismatches, rowMismatches []Mismatch

	for name := range claimed {
		if _, ok := actual[name]; !ok {
			tableMismatches = append(tableMismatches, Mismatch{Table: name, Reason: "missing table"})
		}
	}
	for name := range actual {
		if _, ok := claimed[name]; !ok {
			tableMismatches = append(tableMismatches, Mismatch{Table: name, Reason: "unexpected table"})
		}
	}

	for name, claimedTS := range claimed {
		actualTS, ok := actual[name]
		if !ok || claimedTS.Root() == actualTS.Root() {
			continue
		}
		rowMismatches = append(rowMismatches, diffRows(name, claimedTS, actualTS)...)
	}

	return &Result{
		Success:          len(tableMismatches) == 0 && len(rowMismatches) == 0,
		MismatchedTables: tableMismatches,
		MismatchedRows:   rowMismatches,
	}
}

func diffRows(table string, claimed, actual *model.TableState) []Mismatch {
	var out []Mismatch
	for id, cr := range claimed.Rows {
		ar, ok := actual.Rows[id]
		if !ok {
			out = append(out, Mismatch{Table: table, RowID: id, Reason: "missing row"})
			continue
		}
		if string(cr.Bytes()) != string(ar.Bytes()) {
			out = append(out, Mismatch{Table: table, RowID: id, Reason: "column mismatch"})
		}
	}
	for id := range actual.Rows {
		if _, ok := claimed.Rows[id]; !ok {
			out = append(out, Mismatch{Table: table, RowID: id, Reason: "extra row"})
		}
	}
	return out
}
