// Package identity stores email/password accounts and sign-in sessions in SQLite.
package identity

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"database/sql"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"net/mail"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
	_ "modernc.org/sqlite"

	"charhub/pkg/logger"
	"charhub/pkg/models"
	"charhub/pkg/timeutil"
)

var (
	ErrInvalidEmail       = errors.New("invalid email address")
	ErrWeakPassword       = errors.New("password too short")
	ErrPasswordTooLong    = errors.New("password too long")
	ErrEmailInUse         = errors.New("email already in use")
	ErrInvalidCredentials = errors.New("invalid email or password")
	ErrSessionNotFound    = errors.New("session not found")
	ErrSessionExpired     = errors.New("session expired")
)

const (
	defaultSessionTTL        = 30 * 24 * time.Hour
	defaultMinPasswordLength = 6
	tokenBytes               = 32
	maxPasswordBytes         = 72
)

type Options struct {
	Path              string
	SessionTTL        time.Duration
	BcryptCost        int
	MinPasswordLength int
}

type Store struct {
	db   *sql.DB
	opts Options
}

const schema = `
CREATE TABLE IF NOT EXISTS users (
	id            TEXT PRIMARY KEY,
	email         TEXT NOT NULL UNIQUE,
	password_hash BLOB NOT NULL,
	created_at    INTEGER NOT NULL
);
CREATE TABLE IF NOT EXISTS sessions (
	token_hash TEXT PRIMARY KEY,
	user_id    TEXT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
	created_at INTEGER NOT NULL,
	expires_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS sessions_expires_at ON sessions(expires_at);
`

// Open creates the database file and schema when missing.
func Open(opts Options) (*Store, error) {
	if opts.Path == "" {
		return nil, errors.New("identity: empty path")
	}
	if opts.SessionTTL <= 0 {
		opts.SessionTTL = defaultSessionTTL
	}
	if opts.BcryptCost == 0 {
		opts.BcryptCost = bcrypt.DefaultCost
	}
	if opts.MinPasswordLength <= 0 {
		opts.MinPasswordLength = defaultMinPasswordLength
	}
	if err := os.MkdirAll(filepath.Dir(opts.Path), 0o700); err != nil {
		return nil, fmt.Errorf("identity: create directory: %w", err)
	}
	dsn := opts.Path + "?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("identity: open %s: %w", opts.Path, err)
	}
	// sqlite has a single writer
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("identity: init schema: %w", err)
	}
	return &Store{db: db, opts: opts}, nil
}

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) Ping(ctx context.Context) error { return s.db.PingContext(ctx) }

// NormalizeEmail trims and lowercases addr and checks that it is a bare address.
func NormalizeEmail(addr string) (string, error) {
	addr = strings.ToLower(strings.TrimSpace(addr))
	parsed, err := mail.ParseAddress(addr)
	if err != nil || parsed.Address != addr || !strings.Contains(addr[strings.LastIndex(addr, "@")+1:], ".") {
		return "", ErrInvalidEmail
	}
	return addr, nil
}

// SignUp creates an account and signs it in.
func (s *Store) SignUp(ctx context.Context, email, password string) (models.User, models.Session, error) {
	email, err := NormalizeEmail(email)
	if err != nil {
		return models.User{}, models.Session{}, err
	}
	if len([]rune(password)) < s.opts.MinPasswordLength {
		return models.User{}, models.Session{}, fmt.Errorf("%w: need at least %d characters", ErrWeakPassword, s.opts.MinPasswordLength)
	}
	// bcrypt only hashes the first 72 bytes
	if len(password) > maxPasswordBytes {
		return models.User{}, models.Session{}, fmt.Errorf("%w: at most %d bytes", ErrPasswordTooLong, maxPasswordBytes)
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), s.opts.BcryptCost)
	if err != nil {
		return models.User{}, models.Session{}, fmt.Errorf("hash password: %w", err)
	}
	u := models.User{ID: uuid.NewString(), Email: email, CreatedAt: timeutil.Now().UTC()}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO users (id, email, password_hash, created_at) VALUES (?, ?, ?, ?)`,
		u.ID, u.Email, hash, u.CreatedAt.UnixNano())
	if err != nil {
		if isUniqueViolation(err) {
			return models.User{}, models.Session{}, ErrEmailInUse
		}
		return models.User{}, models.Session{}, fmt.Errorf("insert user: %w", err)
	}
	sess, err := s.issue(ctx, u.ID)
	if err != nil {
		return models.User{}, models.Session{}, err
	}
	logger.Info("user_signed_up", "user", u.ID)
	return u, sess, nil
}

// SignIn checks credentials and issues a new session.
func (s *Store) SignIn(ctx context.Context, email, password string) (models.User, models.Session, error) {
	email, err := NormalizeEmail(email)
	if err != nil {
		return models.User{}, models.Session{}, ErrInvalidCredentials
	}
	var (
		u       models.User
		hash    []byte
		created int64
	)
	err = s.db.QueryRowContext(ctx,
		`SELECT id, email, password_hash, created_at FROM users WHERE email = ?`, email,
	).Scan(&u.ID, &u.Email, &hash, &created)
	if errors.Is(err, sql.ErrNoRows) {
		return models.User{}, models.Session{}, ErrInvalidCredentials
	}
	if err != nil {
		return models.User{}, models.Session{}, fmt.Errorf("lookup user: %w", err)
	}
	if bcrypt.CompareHashAndPassword(hash, []byte(password)) != nil {
		return models.User{}, models.Session{}, ErrInvalidCredentials
	}
	u.CreatedAt = time.Unix(0, created).UTC()
	sess, err := s.issue(ctx, u.ID)
	if err != nil {
		return models.User{}, models.Session{}, err
	}
	return u, sess, nil
}

func (s *Store) issue(ctx context.Context, userID string) (models.Session, error) {
	raw := make([]byte, tokenBytes)
	if _, err := rand.Read(raw); err != nil {
		return models.Session{}, fmt.Errorf("session token: %w", err)
	}
	now := timeutil.Now().UTC()
	sess := models.Session{
		Token:     base64.RawURLEncoding.EncodeToString(raw),
		UserID:    userID,
		ExpiresAt: now.Add(s.opts.SessionTTL),
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO sessions (token_hash, user_id, created_at, expires_at) VALUES (?, ?, ?, ?)`,
		hashToken(sess.Token), userID, now.UnixNano(), sess.ExpiresAt.UnixNano())
	if err != nil {
		return models.Session{}, fmt.Errorf("insert session: %w", err)
	}
	return sess, nil
}

// SignOut removes the session. Unknown tokens are reported as ErrSessionNotFound.
func (s *Store) SignOut(ctx context.Context, token string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM sessions WHERE token_hash = ?`, hashToken(token))
	if err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrSessionNotFound
	}
	return nil
}

// Resolve returns the user owning token.
func (s *Store) Resolve(ctx context.Context, token string) (models.User, error) {
	if token == "" {
		return models.User{}, ErrSessionNotFound
	}
	var (
		u                models.User
		created, expires int64
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT u.id, u.email, u.created_at, s.expires_at
		FROM sessions s JOIN users u ON u.id = s.user_id
		WHERE s.token_hash = ?`, hashToken(token),
	).Scan(&u.ID, &u.Email, &created, &expires)
	if errors.Is(err, sql.ErrNoRows) {
		return models.User{}, ErrSessionNotFound
	}
	if err != nil {
		return models.User{}, fmt.Errorf("resolve session: %w", err)
	}
	if !timeutil.Now().Before(time.Unix(0, expires)) {
		return models.User{}, ErrSessionExpired
	}
	u.CreatedAt = time.Unix(0, created).UTC()
	return u, nil
}

func (s *Store) ListUsers(ctx context.Context) ([]models.User, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, email, created_at FROM users ORDER BY created_at, email`)
	if err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	defer rows.Close()
	var out []models.User
	for rows.Next() {
		var (
			u       models.User
			created int64
		)
		if err := rows.Scan(&u.ID, &u.Email, &created); err != nil {
			return nil, err
		}
		u.CreatedAt = time.Unix(0, created).UTC()
		out = append(out, u)
	}
	return out, rows.Err()
}

// PurgeExpired deletes sessions that expired before cutoff.
func (s *Store) PurgeExpired(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM sessions WHERE expires_at < ?`, cutoff.UnixNano())
	if err != nil {
		return 0, fmt.Errorf("purge sessions: %w", err)
	}
	return res.RowsAffected()
}

// CountExpired reports how many sessions PurgeExpired would delete.
func (s *Store) CountExpired(ctx context.Context, cutoff time.Time) (int64, error) {
	var n int64
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM sessions WHERE expires_at < ?`, cutoff.UnixNano()).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count sessions: %w", err)
	}
	return n, nil
}

func hashToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

func isUniqueViolation(err error) bool {
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}
