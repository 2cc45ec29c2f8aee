// Package params is the persistent key/value store shared by the bridge
// and the rest of the stack: user toggles, cached vehicle parameters and
// readiness flags. Reads happen at startup; steady-state writes go through
// a Writer so the control loop never waits on disk.
package params

import (
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sort"

	"github.com/tailscale/tailsql/server/tailsql"
	_ "modernc.org/sqlite"
	"tailscale.com/tsweb"

	"github.com/banshee-data/canbridge/internal/monitoring"
)

// Keys read or written by the bridge.
const (
	ExperimentalLongitudinalEnabled = "ExperimentalLongitudinalEnabled"
	DisengageOnAccelerator          = "DisengageOnAccelerator"
	OpenpilotEnabledToggle          = "OpenpilotEnabledToggle"
	SecOCKey                        = "SecOCKey"
	CarParams                       = "CarParams"
	CarParamsCache                  = "CarParamsCache"
	CarParamsPersistent             = "CarParamsPersistent"
	CarParamsPrevRoute              = "CarParamsPrevRoute"
	ExtendedCarParamsPersistent     = "ExtendedCarParamsPersistent"
	ControlsReady                   = "ControlsReady"
	AccelerationProfile             = "AccelerationProfile"
	AlwaysOnLateral                 = "AlwaysOnLateral"
	CarMake                         = "CarMake"
	CarModel                        = "CarModel"
	DongleID                        = "DongleId"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Store is a sqlite-backed params store.
type Store struct {
	db   *sql.DB
	path string
}

// Open opens or creates the store at path and migrates it to the latest
// schema. ":memory:" gives a private in-memory store.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("params: open %s: %w", path, err)
	}
	if path == ":memory:" {
		// each connection would otherwise see its own empty database
		db.SetMaxOpenConns(1)
	}
	if err := applyPragmas(db); err != nil {
		db.Close()
		return nil, err
	}
	s := &Store{db: db, path: path}
	if err := s.MigrateUp(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func applyPragmas(db *sql.DB) error {
	for _, p := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := db.Exec(p); err != nil {
			return fmt.Errorf("params: %s: %w", p, err)
		}
	}
	return nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Get returns the value for key. A missing key is not an error.
func (s *Store) Get(key string) ([]byte, bool, error) {
	var v []byte
	err := s.db.QueryRow("SELECT value FROM params WHERE key = ?", key).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("params: get %s: %w", key, err)
	}
	return v, true, nil
}

// GetString returns the value for key as a string, "" when missing or
// unreadable.
func (s *Store) GetString(key string) string {
	v, _, err := s.Get(key)
	if err != nil {
		monitoring.Logf("[params] %v", err)
	}
	return string(v)
}

// GetBool reports whether key holds "1".
func (s *Store) GetBool(key string) bool {
	return s.GetString(key) == "1"
}

// GetInt returns the integer value of key, or def when missing or not a
// number.
func (s *Store) GetInt(key string, def int) int {
	var n int
	if _, err := fmt.Sscanf(s.GetString(key), "%d", &n); err != nil {
		return def
	}
	return n
}

// Put stores value under key.
func (s *Store) Put(key string, value []byte) error {
	if value == nil {
		value = []byte{}
	}
	_, err := s.db.Exec(`
		INSERT INTO params (key, value, updated_at) VALUES (?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		key, value)
	if err != nil {
		return fmt.Errorf("params: put %s: %w", key, err)
	}
	return nil
}

// PutBool stores "1" or "0".
func (s *Store) PutBool(key string, v bool) error {
	return s.Put(key, boolBytes(v))
}

// Delete removes key.
func (s *Store) Delete(key string) error {
	if _, err := s.db.Exec("DELETE FROM params WHERE key = ?", key); err != nil {
		return fmt.Errorf("params: delete %s: %w", key, err)
	}
	return nil
}

// Keys returns every stored key in order.
func (s *Store) Keys() ([]string, error) {
	rows, err := s.db.Query("SELECT key FROM params")
	if err != nil {
		return nil, fmt.Errorf("params: list keys: %w", err)
	}
	defer rows.Close()
	var keys []string
	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err != nil {
			return nil, err
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys, rows.Err()
}

func boolBytes(v bool) []byte {
	if v {
		return []byte("1")
	}
	return []byte("0")
}

// AttachAdminRoutes mounts a SQL console over the store and a JSON dump of
// every key.
func (s *Store) AttachAdminRoutes(mux *http.ServeMux) error {
	debug := tsweb.Debugger(mux)
	tsql, err := tailsql.NewServer(tailsql.Options{
		RoutePrefix: "/debug/tailsql/",
	})
	if err != nil {
		return fmt.Errorf("params: create tailsql server: %w", err)
	}
	tsql.SetDB("sqlite://"+s.path, s.db, &tailsql.DBOptions{
		Label: "Params",
	})
	debug.Handle("tailsql/", "SQL live debugging", tsql.NewMux())

	debug.Handle("params", "Stored params", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		keys, err := s.Keys()
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		out := make(map[string]string, len(keys))
		for _, k := range keys {
			out[k] = s.GetString(k)
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(out)
	}))
	return nil
}
