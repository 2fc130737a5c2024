package storage

import (
	"database/sql"
	"errors"
	"time"

	"github.com/mattn/go-sqlite3"

	"github.com/justyntemme/bookshelf/internal/models"
)

// Common errors
var (
	ErrNotFound      = errors.New("record not found")
	ErrAlreadyExists = errors.New("record already exists")
)

// Database handles all database operations
type Database struct {
	db *sql.DB
}

// NewDatabase creates and initializes the SQLite database
func NewDatabase(dbPath string) (*Database, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_busy_timeout=5000")
	if err != nil {
		return nil, err
	}
	// sqlite allows a single writer; one connection avoids SQLITE_BUSY
	db.SetMaxOpenConns(1)

	d := &Database{db: db}
	if err := d.migrate(); err != nil {
		db.Close()
		return nil, err
	}

	return d, nil
}

func (d *Database) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS users (
		id TEXT PRIMARY KEY,
		username TEXT UNIQUE NOT NULL,
		email TEXT NOT NULL,
		password_hash TEXT NOT NULL,
		created_at DATETIME NOT NULL,
		deleted_at DATETIME
	);

	CREATE TABLE IF NOT EXISTS sessions (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		long_lasted INTEGER NOT NULL DEFAULT 0,
		ip TEXT NOT NULL DEFAULT '',
		user_agent TEXT NOT NULL DEFAULT '',
		created_at DATETIME NOT NULL,
		last_connection_at DATETIME NOT NULL,
		FOREIGN KEY (user_id) REFERENCES users(id) ON DELETE CASCADE
	);

	CREATE TABLE IF NOT EXISTS books (
		id TEXT PRIMARY KEY,
		title TEXT NOT NULL,
		subtitle TEXT NOT NULL DEFAULT '',
		author TEXT NOT NULL DEFAULT '',
		description TEXT NOT NULL DEFAULT '',
		isbn10 TEXT UNIQUE,
		isbn13 TEXT UNIQUE,
		page_count INTEGER NOT NULL DEFAULT 0,
		language TEXT NOT NULL DEFAULT '',
		publish_date DATETIME,
		created_at DATETIME NOT NULL
	);

	CREATE TABLE IF NOT EXISTS user_books (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		book_id TEXT NOT NULL,
		created_at DATETIME NOT NULL,
		read_at DATETIME,
		UNIQUE(user_id, book_id),
		FOREIGN KEY (user_id) REFERENCES users(id) ON DELETE CASCADE,
		FOREIGN KEY (book_id) REFERENCES books(id) ON DELETE CASCADE
	);

	CREATE TABLE IF NOT EXISTS tags (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		name TEXT NOT NULL,
		color TEXT NOT NULL,
		created_at DATETIME NOT NULL,
		UNIQUE(user_id, name),
		FOREIGN KEY (user_id) REFERENCES users(id) ON DELETE CASCADE
	);

	CREATE TABLE IF NOT EXISTS user_book_tags (
		user_book_id TEXT NOT NULL,
		tag_id TEXT NOT NULL,
		PRIMARY KEY (user_book_id, tag_id),
		FOREIGN KEY (user_book_id) REFERENCES user_books(id) ON DELETE CASCADE,
		FOREIGN KEY (tag_id) REFERENCES tags(id) ON DELETE CASCADE
	);

	CREATE INDEX IF NOT EXISTS idx_sessions_user ON sessions(user_id);
	CREATE INDEX IF NOT EXISTS idx_user_books_user ON user_books(user_id);
	CREATE INDEX IF NOT EXISTS idx_tags_user ON tags(user_id);
	`

	_, err := d.db.Exec(schema)
	return err
}

// Close closes the underlying connection
func (d *Database) Close() error {
	return d.db.Close()
}

// isUniqueViolation reports whether err is a sqlite UNIQUE or PRIMARY KEY conflict
func isUniqueViolation(err error) bool {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique ||
			sqliteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
	}
	return false
}

// notFound maps sql.ErrNoRows to ErrNotFound
func notFound(err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	return err
}

// nullTime converts an optional time for storage
func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t.UTC(), Valid: true}
}

// timePtr converts a scanned optional time back
func timePtr(nt sql.NullTime) *time.Time {
	if !nt.Valid {
		return nil
	}
	t := nt.Time.UTC()
	return &t
}

// nullString stores empty strings as NULL so UNIQUE ignores them
func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

// User operations

// CreateUser inserts a new user. A taken username yields ErrAlreadyExists.
func (d *Database) CreateUser(user *models.User) error {
	_, err := d.db.Exec(`
		INSERT INTO users (id, username, email, password_hash, created_at)
		VALUES (?, ?, ?, ?, ?)`,
		user.ID, user.Username, user.Email, user.PasswordHash, user.CreatedAt.UTC(),
	)
	if isUniqueViolation(err) {
		return ErrAlreadyExists
	}
	return err
}

// GetUserByID retrieves an active user by ID
func (d *Database) GetUserByID(id string) (*models.User, error) {
	return d.scanUser(d.db.QueryRow(`
		SELECT id, username, email, password_hash, created_at
		FROM users WHERE id = ? AND deleted_at IS NULL`, id))
}

// GetUserByUsername retrieves an active user by username
func (d *Database) GetUserByUsername(username string) (*models.User, error) {
	return d.scanUser(d.db.QueryRow(`
		SELECT id, username, email, password_hash, created_at
		FROM users WHERE username = ? AND deleted_at IS NULL`, username))
}

func (d *Database) scanUser(row *sql.Row) (*models.User, error) {
	user := &models.User{}
	err := row.Scan(&user.ID, &user.Username, &user.Email, &user.PasswordHash, &user.CreatedAt)
	if err != nil {
		return nil, notFound(err)
	}
	return user, nil
}

// UsernameTaken reports whether any user, deleted or not, holds the username
func (d *Database) UsernameTaken(username string) (bool, error) {
	var count int
	err := d.db.QueryRow(`SELECT COUNT(*) FROM users WHERE username = ?`, username).Scan(&count)
	return count > 0, err
}

// UpdateUser changes email and password hash
func (d *Database) UpdateUser(user *models.User) error {
	res, err := d.db.Exec(`
		UPDATE users SET email = ?, password_hash = ?
		WHERE id = ? AND deleted_at IS NULL`,
		user.Email, user.PasswordHash, user.ID,
	)
	return affected(res, err)
}

// DeleteUser soft-deletes a user and removes their sessions
func (d *Database) DeleteUser(id string) error {
	tx, err := d.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	res, err := tx.Exec(`UPDATE users SET deleted_at = ? WHERE id = ? AND deleted_at IS NULL`, time.Now().UTC(), id)
	if err := affected(res, err); err != nil {
		return err
	}
	if _, err := tx.Exec(`DELETE FROM sessions WHERE user_id = ?`, id); err != nil {
		return err
	}
	return tx.Commit()
}

// affected turns "no row touched" into ErrNotFound
func affected(res sql.Result, err error) error {
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// Session operations

// CreateSession inserts a new session
func (d *Database) CreateSession(s *models.Session) error {
	_, err := d.db.Exec(`
		INSERT INTO sessions (id, user_id, long_lasted, ip, user_agent, created_at, last_connection_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		s.ID, s.UserID, s.LongLasted, s.IP, s.UserAgent, s.CreatedAt.UTC(), s.LastConnectionAt.UTC(),
	)
	return err
}

// GetSession retrieves a session by ID
func (d *Database) GetSession(id string) (*models.Session, error) {
	s := &models.Session{}
	err := d.db.QueryRow(`
		SELECT id, user_id, long_lasted, ip, user_agent, created_at, last_connection_at
		FROM sessions WHERE id = ?`, id,
	).Scan(&s.ID, &s.UserID, &s.LongLasted, &s.IP, &s.UserAgent, &s.CreatedAt, &s.LastConnectionAt)
	if err != nil {
		return nil, notFound(err)
	}
	return s, nil
}

// ListSessions returns a user's sessions, most recently used first
func (d *Database) ListSessions(userID string) ([]models.Session, error) {
	rows, err := d.db.Query(`
		SELECT id, user_id, long_lasted, ip, user_agent, created_at, last_connection_at
		FROM sessions WHERE user_id = ? ORDER BY last_connection_at DESC`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	sessions := []models.Session{}
	for rows.Next() {
		var s models.Session
		if err := rows.Scan(&s.ID, &s.UserID, &s.LongLasted, &s.IP, &s.UserAgent, &s.CreatedAt, &s.LastConnectionAt); err != nil {
			return nil, err
		}
		sessions = append(sessions, s)
	}
	return sessions, rows.Err()
}

// TouchSession records activity on a session
func (d *Database) TouchSession(id string, at time.Time) error {
	res, err := d.db.Exec(`UPDATE sessions SET last_connection_at = ? WHERE id = ?`, at.UTC(), id)
	return affected(res, err)
}

// DeleteSession removes one session
func (d *Database) DeleteSession(id string) error {
	res, err := d.db.Exec(`DELETE FROM sessions WHERE id = ?`, id)
	return affected(res, err)
}

// DeleteOtherSessions removes every session of userID except keepID
func (d *Database) DeleteOtherSessions(userID, keepID string) (int64, error) {
	res, err := d.db.Exec(`DELETE FROM sessions WHERE user_id = ? AND id <> ?`, userID, keepID)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// PruneSessions removes short sessions idle since before cutoff
func (d *Database) PruneSessions(userID string, cutoff time.Time) (int64, error) {
	res, err := d.db.Exec(`
		DELETE FROM sessions
		WHERE user_id = ? AND long_lasted = 0 AND last_connection_at < ?`, userID, cutoff.UTC())
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
