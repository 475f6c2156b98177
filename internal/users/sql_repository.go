package users

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/kabsmeiou/Pamahres/internal/models"
)

const (
	selectUserByUsername = `SELECT id, username, email, first_name, last_name, last_login, date_joined FROM users WHERE username = ?`
	insertUser           = `INSERT INTO users (id, username, email, first_name, last_name, last_login, date_joined) VALUES (?, ?, ?, ?, ?, ?, ?) ON CONFLICT (username) DO NOTHING`
	insertProfile        = `INSERT INTO profiles (id, user_id, created_at) VALUES (?, ?, ?)`
	insertUserActivity   = `INSERT INTO user_activities (id, user_id, created_at) VALUES (?, ?, ?)`
)

// SQLRepository stores users in a relational database (Postgres or SQLite).
// Schema is managed outside this package.
type SQLRepository struct {
	db  *sqlx.DB
	now func() time.Time
}

// NewSQLRepository wraps db. driver is the database/sql driver name and selects
// the placeholder style ("postgres" uses $N, anything else uses ?).
func NewSQLRepository(db *sql.DB, driver string) *SQLRepository {
	return &SQLRepository{db: sqlx.NewDb(db, driver), now: time.Now}
}

type userRow struct {
	ID         string       `db:"id"`
	Username   string       `db:"username"`
	Email      string       `db:"email"`
	FirstName  string       `db:"first_name"`
	LastName   string       `db:"last_name"`
	LastLogin  sql.NullTime `db:"last_login"`
	DateJoined time.Time    `db:"date_joined"`
}

func (r userRow) user() *models.User {
	u := &models.User{
		ID:         r.ID,
		Username:   r.Username,
		Email:      r.Email,
		FirstName:  r.FirstName,
		LastName:   r.LastName,
		DateJoined: r.DateJoined.UTC(),
	}
	if r.LastLogin.Valid {
		t := r.LastLogin.Time.UTC()
		u.LastLogin = &t
	}
	return u
}

func (r *SQLRepository) GetByUsername(ctx context.Context, username string) (*models.User, error) {
	var row userRow
	if err := r.db.GetContext(ctx, &row, r.db.Rebind(selectUserByUsername), username); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get user %q: %w", username, err)
	}
	return row.user(), nil
}

// CreateWithDependents inserts the user, its profile and its activity record in
// one transaction. A username conflict leaves the store untouched and returns
// the stored user.
func (r *SQLRepository) CreateWithDependents(ctx context.Context, u *models.User) (*models.User, bool, error) {
	now := r.now().UTC()
	if u.ID == "" {
		u.ID = uuid.NewString()
	}
	if u.DateJoined.IsZero() {
		u.DateJoined = now
	}

	var created bool
	err := r.withTx(ctx, func(tx *sqlx.Tx) error {
		var lastLogin sql.NullTime
		if u.LastLogin != nil {
			lastLogin = sql.NullTime{Time: u.LastLogin.UTC(), Valid: true}
		}
		res, err := tx.ExecContext(ctx, r.db.Rebind(insertUser), u.ID, u.Username, u.Email, u.FirstName, u.LastName, lastLogin, u.DateJoined)
		if err != nil {
			return fmt.Errorf("insert user: %w", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("insert user: %w", err)
		}
		if n == 0 {
			return nil
		}
		created = true

		if _, err := tx.ExecContext(ctx, r.db.Rebind(insertProfile), uuid.NewString(), u.ID, now); err != nil {
			return fmt.Errorf("insert profile: %w", err)
		}
		if _, err := tx.ExecContext(ctx, r.db.Rebind(insertUserActivity), uuid.NewString(), u.ID, now); err != nil {
			return fmt.Errorf("insert user activity: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, false, err
	}
	if created {
		return u, true, nil
	}

	existing, err := r.GetByUsername(ctx, u.Username)
	if err != nil {
		return nil, false, err
	}
	if existing == nil {
		return nil, false, fmt.Errorf("user %q conflicted on insert but cannot be read back", u.Username)
	}
	return existing, false, nil
}

// withTx commits when fn succeeds and rolls back on error or panic.
func (r *SQLRepository) withTx(ctx context.Context, fn func(tx *sqlx.Tx) error) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
	}()

	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			return fmt.Errorf("transaction error: %v, rollback error: %w", err, rbErr)
		}
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}
