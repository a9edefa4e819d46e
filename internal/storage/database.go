package storage

import (
	"database/sql"
	"fmt"

	_ "modernc.org/sqlite"
)

const schemaDDL = `
CREATE TABLE IF NOT EXISTS runs (
    id TEXT PRIMARY KEY,
    created_at TEXT NOT NULL,
    input_path TEXT NOT NULL,
    input_hash TEXT,
    points INTEGER NOT NULL,
    k INTEGER NOT NULL,
    fancy INTEGER NOT NULL,
    normalize INTEGER NOT NULL,
    seed INTEGER NOT NULL,
    iterations INTEGER DEFAULT 0,
    sse REAL,
    converged INTEGER DEFAULT 0,
    status TEXT DEFAULT 'running',
    error TEXT,
    finished_at TEXT
);
CREATE INDEX IF NOT EXISTS idx_runs_created ON runs(created_at);
CREATE INDEX IF NOT EXISTS idx_runs_status ON runs(status);

CREATE TABLE IF NOT EXISTS run_clusters (
    run_id TEXT NOT NULL REFERENCES runs(id) ON DELETE CASCADE,
    idx INTEGER NOT NULL,
    main REAL NOT NULL,
    talk REAL NOT NULL,
    user REAL NOT NULL,
    usertalk REAL NOT NULL,
    size INTEGER NOT NULL,
    PRIMARY KEY (run_id, idx)
);

CREATE TABLE IF NOT EXISTS run_iterations (
    run_id TEXT NOT NULL REFERENCES runs(id) ON DELETE CASCADE,
    n INTEGER NOT NULL,
    sse REAL NOT NULL,
    repairs INTEGER NOT NULL,
    PRIMARY KEY (run_id, n)
);

CREATE TABLE IF NOT EXISTS run_members (
    run_id TEXT NOT NULL REFERENCES runs(id) ON DELETE CASCADE,
    record_line INTEGER NOT NULL,
    label TEXT,
    cluster_idx INTEGER NOT NULL,
    PRIMARY KEY (run_id, record_line)
);
CREATE INDEX IF NOT EXISTS idx_run_members_cluster ON run_members(run_id, cluster_idx);
`

// Database stores clustering runs in SQLite.
type Database struct {
	db *sql.DB
}

func NewDatabase(dbPath string) (*Database, error) {
	// Per-connection pragmas go in the DSN so every pooled connection gets them.
	dsn := dbPath + "?_pragma=foreign_keys(1)&_pragma=busy_timeout(10000)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if dbPath == ":memory:" {
		// Every pooled connection would otherwise see its own empty database.
		db.SetMaxOpenConns(1)
	}
	// SQLite pragmas
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("exec %s: %w", pragma, err)
		}
	}
	return &Database{db: db}, nil
}

func (d *Database) Initialize() error {
	_, err := d.db.Exec(schemaDDL)
	return err
}

func (d *Database) Close() error {
	return d.db.Close()
}

func (d *Database) DB() *sql.DB {
	return d.db
}

// -- Run operations --

const runColumns = `id, created_at, input_path, input_hash, points, k, fancy, normalize, seed,
	iterations, sse, converged, status, error, finished_at`

func (d *Database) InsertRun(r Run) error {
	_, err := d.db.Exec(`
		INSERT INTO runs (`+runColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID, r.CreatedAt, r.InputPath, r.InputHash, r.Points, r.K, r.Fancy, r.Normalize, r.Seed,
		r.Iterations, r.SSE, r.Converged, string(r.Status), r.Error, r.FinishedAt,
	)
	if err != nil {
		return fmt.Errorf("insert run %s: %w", r.ID, err)
	}
	return nil
}

func (d *Database) FinishRun(runID string, iterations int, sse float64, converged bool) error {
	_, err := d.db.Exec(
		"UPDATE runs SET iterations=?, sse=?, converged=?, status=?, finished_at=? WHERE id=?",
		iterations, sse, converged, string(RunCompleted), nowISO(), runID,
	)
	return err
}

func (d *Database) FailRun(runID string, errMsg string) error {
	_, err := d.db.Exec(
		"UPDATE runs SET status=?, error=?, finished_at=? WHERE id=?",
		string(RunFailed), errMsg, nowISO(), runID,
	)
	return err
}

func (d *Database) GetRun(runID string) (*Run, error) {
	row := d.db.QueryRow("SELECT "+runColumns+" FROM runs WHERE id=?", runID)
	r, err := scanRun(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &r, nil
}

// ListRuns returns the most recent runs first.
func (d *Database) ListRuns(limit int) ([]Run, error) {
	rows, err := d.db.Query(
		"SELECT "+runColumns+" FROM runs ORDER BY created_at DESC, rowid DESC LIMIT ?", limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRun(row rowScanner) (Run, error) {
	var r Run
	var status string
	err := row.Scan(
		&r.ID, &r.CreatedAt, &r.InputPath, &r.InputHash, &r.Points, &r.K, &r.Fancy, &r.Normalize, &r.Seed,
		&r.Iterations, &r.SSE, &r.Converged, &status, &r.Error, &r.FinishedAt,
	)
	r.Status = RunStatus(status)
	return r, err
}

func (d *Database) DeleteRun(runID string) (bool, error) {
	res, err := d.db.Exec("DELETE FROM runs WHERE id=?", runID)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

func (d *Database) CountRuns() (int, error) {
	var n int
	err := d.db.QueryRow("SELECT COUNT(*) FROM runs").Scan(&n)
	return n, err
}

func (d *Database) CountRunsByStatus() (map[string]int, error) {
	rows, err := d.db.Query("SELECT status, COUNT(*) as cnt FROM runs GROUP BY status")
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	result := make(map[string]int)
	for rows.Next() {
		var status string
		var cnt int
		if err := rows.Scan(&status, &cnt); err != nil {
			return nil, err
		}
		result[status] = cnt
	}
	return result, rows.Err()
}

// insertBatch runs one prepared statement per item inside a transaction.
func (d *Database) insertBatch(query string, n int, args func(i int) []any) error {
	tx, err := d.db.Begin()
	if err != nil {
		return err
	}
	stmt, err := tx.Prepare(query)
	if err != nil {
		tx.Rollback()
		return err
	}
	defer stmt.Close()

	for i := 0; i < n; i++ {
		if _, err := stmt.Exec(args(i)...); err != nil {
			tx.Rollback()
			return err
		}
	}
	return tx.Commit()
}

// -- Cluster operations --

func (d *Database) InsertClusters(clusters []RunCluster) error {
	return d.insertBatch(`
		INSERT OR REPLACE INTO run_clusters (run_id, idx, main, talk, user, usertalk, size)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		len(clusters), func(i int) []any {
			c := clusters[i]
			return []any{c.RunID, c.Idx, c.Main, c.Talk, c.User, c.UserTalk, c.Size}
		},
	)
}

func (d *Database) GetClusters(runID string) ([]RunCluster, error) {
	rows, err := d.db.Query(
		"SELECT run_id, idx, main, talk, user, usertalk, size FROM run_clusters WHERE run_id=? ORDER BY idx",
		runID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var clusters []RunCluster
	for rows.Next() {
		var c RunCluster
		if err := rows.Scan(&c.RunID, &c.Idx, &c.Main, &c.Talk, &c.User, &c.UserTalk, &c.Size); err != nil {
			return nil, err
		}
		clusters = append(clusters, c)
	}
	return clusters, rows.Err()
}

// -- Iteration operations --

func (d *Database) InsertIterations(iters []RunIteration) error {
	return d.insertBatch(`
		INSERT OR REPLACE INTO run_iterations (run_id, n, sse, repairs)
		VALUES (?, ?, ?, ?)`,
		len(iters), func(i int) []any {
			it := iters[i]
			return []any{it.RunID, it.N, it.SSE, it.Repairs}
		},
	)
}

func (d *Database) GetIterations(runID string) ([]RunIteration, error) {
	rows, err := d.db.Query(
		"SELECT run_id, n, sse, repairs FROM run_iterations WHERE run_id=? ORDER BY n", runID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var iters []RunIteration
	for rows.Next() {
		var it RunIteration
		if err := rows.Scan(&it.RunID, &it.N, &it.SSE, &it.Repairs); err != nil {
			return nil, err
		}
		iters = append(iters, it)
	}
	return iters, rows.Err()
}

// -- Member operations --

func (d *Database) InsertMembers(members []RunMember) error {
	return d.insertBatch(`
		INSERT OR REPLACE INTO run_members (run_id, record_line, label, cluster_idx)
		VALUES (?, ?, ?, ?)`,
		len(members), func(i int) []any {
			m := members[i]
			return []any{m.RunID, m.RecordLine, m.Label, m.ClusterIdx}
		},
	)
}

func (d *Database) GetMembers(runID string, clusterIdx int, limit int) ([]RunMember, error) {
	rows, err := d.db.Query(`
		SELECT run_id, record_line, label, cluster_idx FROM run_members
		WHERE run_id=? AND cluster_idx=? ORDER BY record_line LIMIT ?`,
		runID, clusterIdx, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var members []RunMember
	for rows.Next() {
		var m RunMember
		if err := rows.Scan(&m.RunID, &m.RecordLine, &m.Label, &m.ClusterIdx); err != nil {
			return nil, err
		}
		members = append(members, m)
	}
	return members, rows.Err()
}
