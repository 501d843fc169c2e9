// Package sqlite persists session state and settings in a key-value table
// and finished sessions in a history table. Every multi-key write runs in one
// transaction, so a crash mid-write leaves the previous values in place.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	_ "modernc.org/sqlite" // SQLite driver

	"simctl/internal/domain"
)

// Persisted keys, shared with external callers.
const (
	KeySessionCurrentIndex  = "session_current_index"
	KeySessionTotalRequests = "session_total_requests"
	KeySessionIsPaused      = "session_is_paused"
	KeySessionStartTime     = "session_start_time"

	KeyTargetURL                 = "target_url"
	KeyIterations                = "iterations"
	KeyMinInterval               = "min_interval"
	KeyMaxInterval               = "max_interval"
	KeyRotateIP                  = "rotate_ip"
	KeyUseRandomDeviceProfile    = "use_random_device_profile"
	KeyIsRunning                 = "is_running"
	KeyUseWebViewMode            = "use_webview_mode"
	KeyNewWebViewPerRequest      = "new_webview_per_request"
	KeyAggressiveSessionClearing = "aggressive_session_clearing"
	KeyHandleRedirects           = "handle_redirects"
	KeyAirplaneModeDelay         = "airplane_mode_delay"
)

var sessionKeys = []string{KeySessionCurrentIndex, KeySessionTotalRequests, KeySessionIsPaused, KeySessionStartTime}

var schema = []string{
	`CREATE TABLE IF NOT EXISTS kv (
		key        TEXT PRIMARY KEY,
		value      TEXT NOT NULL,
		updated_at INTEGER NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS sessions (
		id          TEXT PRIMARY KEY,
		recorded_at INTEGER NOT NULL,
		payload     TEXT NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS sessions_recorded_at ON sessions (recorded_at)`,
}

type Store struct {
	db *sql.DB
}

// Open opens (creating if needed) the database at path. ":memory:" is
// accepted for tests.
func Open(ctx context.Context, path string) (*Store, error) {
	dsn := ":memory:"
	if path != ":memory:" {
		if dir := filepath.Dir(path); dir != "." && dir != "" {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, fmt.Errorf("create state directory: %w", err)
			}
		}
		dsn = path + "?_pragma=journal_mode(WAL)&_pragma=synchronous(FULL)&_pragma=busy_timeout(5000)"
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open state database: %w", err)
	}
	// single writer; also keeps one shared connection for :memory:
	db.SetMaxOpenConns(1)
	for _, stmt := range schema {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			db.Close()
			return nil, fmt.Errorf("init state schema: %w", err)
		}
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error { return s.db.Close() }

// Ping reports whether the database is reachable.
func (s *Store) Ping(ctx context.Context) error { return s.db.PingContext(ctx) }

// StateStore

func (s *Store) Save(ctx context.Context, st domain.PersistedState) error {
	var startMs int64
	if !st.StartTime.IsZero() {
		startMs = st.StartTime.UnixMilli()
	}
	return s.putAll(ctx, map[string]string{
		KeySessionCurrentIndex:  strconv.Itoa(st.CurrentIteration),
		KeySessionTotalRequests: strconv.Itoa(st.TotalIterations),
		KeySessionIsPaused:      strconv.FormatBool(st.IsPaused),
		KeySessionStartTime:     strconv.FormatInt(startMs, 10),
	})
}

func (s *Store) Load(ctx context.Context) (domain.PersistedState, bool, error) {
	vals, err := s.getAll(ctx, sessionKeys)
	if err != nil {
		return domain.PersistedState{}, false, err
	}
	if _, ok := vals[KeySessionTotalRequests]; !ok {
		return domain.PersistedState{}, false, nil
	}
	var st domain.PersistedState
	if st.CurrentIteration, err = atoiKey(vals, KeySessionCurrentIndex); err != nil {
		return domain.PersistedState{}, false, err
	}
	if st.TotalIterations, err = atoiKey(vals, KeySessionTotalRequests); err != nil {
		return domain.PersistedState{}, false, err
	}
	if st.IsPaused, err = boolKey(vals, KeySessionIsPaused); err != nil {
		return domain.PersistedState{}, false, err
	}
	ms, err := int64Key(vals, KeySessionStartTime)
	if err != nil {
		return domain.PersistedState{}, false, err
	}
	if ms > 0 {
		st.StartTime = time.UnixMilli(ms)
	}
	return st, true, nil
}

func (s *Store) Clear(ctx context.Context) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin clear: %w", err)
	}
	defer tx.Rollback()
	for _, k := range sessionKeys {
		if _, err := tx.ExecContext(ctx, `DELETE FROM kv WHERE key = ?`, k); err != nil {
			return fmt.Errorf("clear %s: %w", k, err)
		}
	}
	return tx.Commit()
}

func (s *Store) Exists(ctx context.Context) (bool, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM kv WHERE key = ?`, KeySessionTotalRequests).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("check session state: %w", err)
	}
	return n > 0, nil
}

// SettingsStore

func (s *Store) LoadSettings(ctx context.Context) (domain.Settings, error) {
	keys := []string{
		KeyTargetURL, KeyIterations, KeyMinInterval, KeyMaxInterval, KeyRotateIP,
		KeyUseRandomDeviceProfile, KeyIsRunning, KeyUseWebViewMode, KeyNewWebViewPerRequest,
		KeyAggressiveSessionClearing, KeyHandleRedirects, KeyAirplaneModeDelay,
	}
	vals, err := s.getAll(ctx, keys)
	if err != nil {
		return domain.Settings{}, err
	}
	var out domain.Settings
	out.TargetURL = vals[KeyTargetURL]
	ints := []struct {
		key string
		dst *int
	}{
		{KeyIterations, &out.Iterations},
		{KeyMinInterval, &out.MinInterval},
		{KeyMaxInterval, &out.MaxInterval},
		{KeyAirplaneModeDelay, &out.AirplaneModeDelayMs},
	}
	for _, f := range ints {
		if *f.dst, err = atoiKey(vals, f.key); err != nil {
			return domain.Settings{}, err
		}
	}
	bools := []struct {
		key string
		dst *bool
	}{
		{KeyRotateIP, &out.RotateIP},
		{KeyUseRandomDeviceProfile, &out.UseRandomDeviceProfile},
		{KeyIsRunning, &out.IsRunning},
		{KeyUseWebViewMode, &out.UseBrowserTransport},
		{KeyNewWebViewPerRequest, &out.NewTransportPerRequest},
		{KeyAggressiveSessionClearing, &out.AggressiveSessionClearing},
		{KeyHandleRedirects, &out.HandleRedirects},
	}
	for _, f := range bools {
		if *f.dst, err = boolKey(vals, f.key); err != nil {
			return domain.Settings{}, err
		}
	}
	return out, nil
}

func (s *Store) SaveSettings(ctx context.Context, st domain.Settings) error {
	return s.putAll(ctx, map[string]string{
		KeyTargetURL:                 st.TargetURL,
		KeyIterations:                strconv.Itoa(st.Iterations),
		KeyMinInterval:               strconv.Itoa(st.MinInterval),
		KeyMaxInterval:               strconv.Itoa(st.MaxInterval),
		KeyRotateIP:                  strconv.FormatBool(st.RotateIP),
		KeyUseRandomDeviceProfile:    strconv.FormatBool(st.UseRandomDeviceProfile),
		KeyIsRunning:                 strconv.FormatBool(st.IsRunning),
		KeyUseWebViewMode:            strconv.FormatBool(st.UseBrowserTransport),
		KeyNewWebViewPerRequest:      strconv.FormatBool(st.NewTransportPerRequest),
		KeyAggressiveSessionClearing: strconv.FormatBool(st.AggressiveSessionClearing),
		KeyHandleRedirects:           strconv.FormatBool(st.HandleRedirects),
		KeyAirplaneModeDelay:         strconv.Itoa(st.AirplaneModeDelayMs),
	})
}

// HistoryRepository

func (s *Store) RecordSession(ctx context.Context, sess domain.Session) error {
	payload, err := json.Marshal(sess)
	if err != nil {
		return fmt.Errorf("encode session %s: %w", sess.ID, err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO sessions (id, recorded_at, payload) VALUES (?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET recorded_at = excluded.recorded_at, payload = excluded.payload`,
		sess.ID, time.Now().UnixNano(), string(payload))
	if err != nil {
		return fmt.Errorf("record session %s: %w", sess.ID, err)
	}
	return nil
}

// ListSessions returns finished sessions newest first.
func (s *Store) ListSessions(ctx context.Context, limit, offset int) ([]domain.Session, int, error) {
	var total int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM sessions`).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count sessions: %w", err)
	}
	if limit <= 0 {
		limit = -1
	}
	if offset < 0 {
		offset = 0
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT payload FROM sessions ORDER BY recorded_at DESC LIMIT ? OFFSET ?`, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("list sessions: %w", err)
	}
	defer rows.Close()
	out := make([]domain.Session, 0)
	for rows.Next() {
		var payload string
		if err := rows.Scan(&payload); err != nil {
			return nil, 0, fmt.Errorf("scan session: %w", err)
		}
		var sess domain.Session
		if err := json.Unmarshal([]byte(payload), &sess); err != nil {
			return nil, 0, fmt.Errorf("decode session: %w", err)
		}
		out = append(out, sess)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("list sessions: %w", err)
	}
	return out, total, nil
}

// Get returns a raw value by key.
func (s *Store) Get(ctx context.Context, key string) (string, bool, error) {
	var v string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM kv WHERE key = ?`, key).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("get %s: %w", key, err)
	}
	return v, true, nil
}

func (s *Store) putAll(ctx context.Context, kv map[string]string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin write: %w", err)
	}
	defer tx.Rollback()
	now := time.Now().UnixMilli()
	for k, v := range kv {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO kv (key, value, updated_at) VALUES (?, ?, ?)
			 ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
			k, v, now)
		if err != nil {
			return fmt.Errorf("write %s: %w", k, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit write: %w", err)
	}
	return nil
}

func (s *Store) getAll(ctx context.Context, keys []string) (map[string]string, error) {
	out := make(map[string]string, len(keys))
	for _, k := range keys {
		v, ok, err := s.Get(ctx, k)
		if err != nil {
			return nil, err
		}
		if ok {
			out[k] = v
		}
	}
	return out, nil
}

func atoiKey(vals map[string]string, key string) (int, error) {
	v, ok := vals[key]
	if !ok || v == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("parse %s=%q: %w", key, v, err)
	}
	return n, nil
}

func int64Key(vals map[string]string, key string) (int64, error) {
	v, ok := vals[key]
	if !ok || v == "" {
		return 0, nil
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parse %s=%q: %w", key, v, err)
	}
	return n, nil
}

func boolKey(vals map[string]string, key string) (bool, error) {
	v, ok := vals[key]
	if !ok || v == "" {
		return false, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, fmt.Errorf("parse %s=%q: %w", key, v, err)
	}
	return b, nil
}
