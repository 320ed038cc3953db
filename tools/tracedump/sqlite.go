package main

import (
	"database/sql"
	"fmt"

	_ "github.com/mattn/go-sqlite3"

	"github.com/tekert/gomtrace/mtrace"
)

const schema = `
CREATE TABLE IF NOT EXISTS threads (
	id INTEGER PRIMARY KEY,
	name TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS methods (
	id INTEGER PRIMARY KEY,
	class TEXT NOT NULL,
	name TEXT NOT NULL,
	signature TEXT NOT NULL,
	source_file TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS records (
	seq INTEGER PRIMARY KEY,
	thread_id INTEGER NOT NULL,
	method_id INTEGER NOT NULL,
	action TEXT NOT NULL,
	thread_cpu_usec INTEGER NOT NULL,
	wall_usec INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_records_method ON records(method_id);
CREATE INDEX IF NOT EXISTS idx_records_thread ON records(thread_id);
CREATE TABLE IF NOT EXISTS trace_info (
	key TEXT PRIMARY KEY,
	value TEXT NOT NULL
);`

// exportSQLite writes the trace into a fresh set of tables at path.
func exportSQLite(path string, tf *mtrace.TraceFile) error {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return fmt.Errorf("failed to open database: %v", err)
	}
	defer db.Close()

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		return fmt.Errorf("failed to enable WAL mode: %v", err)
	}
	if _, err := db.Exec(schema); err != nil {
		return fmt.Errorf("failed to initialize schema: %v", err)
	}

	tx, err := db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for _, table := range []string{"threads", "methods", "records", "trace_info"} {
		if _, err := tx.Exec("DELETE FROM " + table); err != nil {
			return fmt.Errorf("failed to clear %s: %v", table, err)
		}
	}

	info := map[string]string{
		"version":         fmt.Sprint(tf.Footer.Version),
		"clock":           tf.Footer.Clock.String(),
		"vm":              tf.Footer.VM,
		"overflow":        fmt.Sprint(tf.Footer.Overflow),
		"elapsed_usec":    fmt.Sprint(tf.Footer.ElapsedMicros),
		"start_unix_usec": fmt.Sprint(tf.Header.StartMicros),
	}
	for k, v := range info {
		if _, err := tx.Exec("INSERT INTO trace_info (key, value) VALUES (?, ?)", k, v); err != nil {
			return fmt.Errorf("failed to insert trace info: %v", err)
		}
	}

	for _, t := range tf.Footer.Threads {
		if _, err := tx.Exec("INSERT INTO threads (id, name) VALUES (?, ?)", t.ID, t.Name); err != nil {
			return fmt.Errorf("failed to insert thread %d: %v", t.ID, err)
		}
	}
	for _, m := range tf.Footer.Methods {
		if _, err := tx.Exec(
			"INSERT INTO methods (id, class, name, signature, source_file) VALUES (?, ?, ?, ?, ?)",
			uint32(m.ID), m.DeclaringClass, m.Name, m.Signature, m.SourceFile); err != nil {
			return fmt.Errorf("failed to insert method %#x: %v", uint32(m.ID), err)
		}
	}

	stmt, err := tx.Prepare(`INSERT INTO records
		(seq, thread_id, method_id, action, thread_cpu_usec, wall_usec)
		VALUES (?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()
	for i, r := range tf.Records {
		if _, err := stmt.Exec(i, r.ThreadID, uint32(r.Method), r.Action.String(),
			r.ThreadCPUDelta, r.WallDelta); err != nil {
			return fmt.Errorf("failed to insert record %d: %v", i, err)
		}
	}

	return tx.Commit()
}
