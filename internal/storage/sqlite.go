package storage

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"remindbot/pkg/logx"
)

//go:embed migrations.sql
var migrationsFS embed.FS

type sqliteStore struct {
	db  *sql.DB
	log logx.Logger
}

// Open initializes the sqlite store, creating the schema if needed.
func Open(cfg Config, log logx.Logger) (Store, error) {
	if strings.TrimSpace(cfg.Path) == "" {
		return nil, errors.New("sqlite path is required")
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	if err := os.MkdirAll(filepath.Dir(cfg.Path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", cfg.Path)
	if err != nil {
		return nil, err
	}
	// SQLite prefers a small number of concurrent writers.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	busy := cfg.BusyTimeout
	if busy <= 0 {
		busy = 5 * time.Second
	}
	_, _ = db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", busy.Milliseconds()))
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = NORMAL")
	_, _ = db.Exec("PRAGMA foreign_keys = ON")

	st := &sqliteStore{db: db, log: log}
	if err := st.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("storage migrate: %w", err)
	}
	return st, nil
}

func (s *sqliteStore) migrate(ctx context.Context) error {
	b, err := migrationsFS.ReadFile("migrations.sql")
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, string(b))
	return err
}

func (s *sqliteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *sqliteStore) CreateReminder(ctx context.Context, n NewReminder) (int64, error) {
	if n.OwnerID <= 0 {
		return 0, &ValidationError{Field: "owner_id", Reason: "missing"}
	}
	if strings.TrimSpace(n.Title) == "" {
		return 0, &ValidationError{Field: "title", Reason: "missing"}
	}
	if n.TargetTime.IsZero() {
		return 0, &ValidationError{Field: "target_time", Reason: "missing"}
	}

	res, err := s.db.ExecContext(ctx,
		`INSERT INTO reminders(owner_id, title, description, target_time, repeat_pattern, is_active, is_completed, created_at)
		 VALUES(?,?,?,?,?,1,0,?)`,
		n.OwnerID, n.Title, n.Description,
		formatTime(n.TargetTime), n.RepeatPattern, formatTime(time.Now()),
	)
	if err != nil {
		return 0, fmt.Errorf("storage create reminder: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("storage create reminder: %w", err)
	}
	return id, nil
}

const reminderJoin = `
	SELECT r.id, r.owner_id, r.title, r.description, r.target_time, r.repeat_pattern,
	       r.is_active, r.is_completed, r.created_at, u.platform, u.platform_address
	FROM reminders r
	JOIN users u ON u.id = r.owner_id`

func (s *sqliteStore) Reminder(ctx context.Context, id int64) (Reminder, error) {
	row := s.db.QueryRowContext(ctx, reminderJoin+` WHERE r.id = ?`, id)
	r, err := scanReminder(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Reminder{}, ErrNotFound
	}
	if err != nil {
		return Reminder{}, fmt.Errorf("storage get reminder: %w", err)
	}
	return r, nil
}

func (s *sqliteStore) Due(ctx context.Context, now time.Time) ([]Reminder, error) {
	rows, err := s.db.QueryContext(ctx,
		reminderJoin+` WHERE r.is_active = 1 AND r.is_completed = 0 AND r.target_time <= ?
		 ORDER BY r.target_time ASC`,
		formatTime(now),
	)
	if err != nil {
		return nil, fmt.Errorf("storage due: %w", err)
	}
	return collectReminders(rows)
}

func (s *sqliteStore) ForOwner(ctx context.Context, ownerID int64, activeOnly bool) ([]Reminder, error) {
	q := reminderJoin + ` WHERE r.owner_id = ?`
	if activeOnly {
		q += ` AND r.is_active = 1 AND r.is_completed = 0`
	}
	q += ` ORDER BY r.target_time ASC`

	rows, err := s.db.QueryContext(ctx, q, ownerID)
	if err != nil {
		return nil, fmt.Errorf("storage list for owner: %w", err)
	}
	return collectReminders(rows)
}

func (s *sqliteStore) Active(ctx context.Context) ([]Reminder, error) {
	rows, err := s.db.QueryContext(ctx,
		reminderJoin+` WHERE r.is_active = 1 AND r.is_completed = 0 ORDER BY r.target_time ASC`)
	if err != nil {
		return nil, fmt.Errorf("storage active: %w", err)
	}
	return collectReminders(rows)
}

func (s *sqliteStore) Complete(ctx context.Context, id int64) error {
	_, err := s.db.ExecContext(ctx, `UPDATE reminders SET is_completed = 1 WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("storage complete: %w", err)
	}
	return nil
}

func (s *sqliteStore) Deactivate(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx, `UPDATE reminders SET is_active = 0 WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("storage deactivate: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("storage deactivate: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *sqliteStore) PurgeCompletedBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM reminders WHERE is_completed = 1 AND created_at < ?`, formatTime(cutoff))
	if err != nil {
		return 0, fmt.Errorf("storage purge: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("storage purge: %w", err)
	}
	return n, nil
}

func (s *sqliteStore) UpsertUser(ctx context.Context, u User) (int64, error) {
	if strings.TrimSpace(u.Platform) == "" || strings.TrimSpace(u.Address) == "" {
		return 0, &ValidationError{Field: "destination", Reason: "platform and address required"}
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO users(platform, platform_address, display_name, created_at)
		 VALUES(?,?,?,?)
		 ON CONFLICT(platform, platform_address) DO UPDATE SET display_name = excluded.display_name`,
		u.Platform, u.Address, u.DisplayName, formatTime(time.Now()),
	)
	if err != nil {
		return 0, fmt.Errorf("storage upsert user: %w", err)
	}
	var id int64
	err = s.db.QueryRowContext(ctx,
		`SELECT id FROM users WHERE platform = ? AND platform_address = ?`,
		u.Platform, u.Address,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("storage upsert user: %w", err)
	}
	return id, nil
}

func (s *sqliteStore) UserByPlatform(ctx context.Context, platform, address string) (User, error) {
	var (
		u       User
		created string
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT id, platform, platform_address, display_name, created_at
		 FROM users WHERE platform = ? AND platform_address = ?`,
		platform, address,
	).Scan(&u.ID, &u.Platform, &u.Address, &u.DisplayName, &created)
	if errors.Is(err, sql.ErrNoRows) {
		return User{}, ErrNotFound
	}
	if err != nil {
		return User{}, fmt.Errorf("storage get user: %w", err)
	}
	u.CreatedAt = parseTime(created)
	return u, nil
}

// ---- scanning helpers ----

type rowScanner interface {
	Scan(dest ...any) error
}

func scanReminder(row rowScanner) (Reminder, error) {
	var (
		r                 Reminder
		target, created   string
		active, completed int
	)
	err := row.Scan(&r.ID, &r.OwnerID, &r.Title, &r.Description, &target, &r.RepeatPattern,
		&active, &completed, &created, &r.Destination.Platform, &r.Destination.Address)
	if err != nil {
		return Reminder{}, err
	}
	r.TargetTime = parseTime(target)
	r.CreatedAt = parseTime(created)
	r.Active = active != 0
	r.Completed = completed != 0
	return r, nil
}

func collectReminders(rows *sql.Rows) ([]Reminder, error) {
	defer rows.Close()
	var out []Reminder
	for rows.Next() {
		r, err := scanReminder(rows)
		if err != nil {
			return nil, fmt.Errorf("storage scan: %w", err)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("storage rows: %w", err)
	}
	return out, nil
}

func formatTime(t time.Time) string { return t.Format(TimeLayout) }

func parseTime(s string) time.Time {
	t, err := time.ParseInLocation(TimeLayout, s, time.Local)
	if err != nil {
		return time.Time{}
	}
	return t
}
