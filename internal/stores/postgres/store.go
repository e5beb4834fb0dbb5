// Package postgres stores account documents in PostgreSQL JSONB columns.
// Users keep their persistent tokens in a JSONB object keyed by client id;
// verifications live in their own table with the expiration as a column.
package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pkg/errors"

	"github.com/studydeck/accounts/internal/model"
	"github.com/studydeck/accounts/internal/stores"
)

const uniqueViolation = "23505"

// DBTX is the subset of database/sql used by the store.
// Both *sql.DB and *sql.Tx satisfy it.
type DBTX interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type Store struct {
	db *sql.DB
}

func New(db *sql.DB) *Store {
	return &Store{db: db}
}

/* ==== USERS ==== */

func (s *Store) GetUserByID(ctx context.Context, id string) (*model.User, error) {
	return s.getUser(ctx, `SELECT doc FROM account_users WHERE id = $1`, id)
}

func (s *Store) GetUserByUsername(ctx context.Context, username string) (*model.User, error) {
	return s.getUser(ctx, `SELECT doc FROM account_users WHERE username_key = $1`, strings.ToLower(username))
}

func (s *Store) GetUserByEmail(ctx context.Context, email string) (*model.User, error) {
	return s.getUser(ctx, `SELECT doc FROM account_users WHERE email_key = $1`, strings.ToLower(email))
}

func (s *Store) CountUsersByEmail(ctx context.Context, email string) (int64, error) {
	var n int64
	err := s.db.QueryRowContext(ctx,
		`SELECT count(*) FROM account_users WHERE email_key = $1`,
		strings.ToLower(email)).Scan(&n)
	if err != nil {
		return 0, errors.Wrap(err, "db error")
	}
	return n, nil
}

func (s *Store) InsertUser(ctx context.Context, u *model.User) error {
	doc, err := json.Marshal(stores.NewUserDocument(*u))
	if err != nil {
		return errors.Wrap(err, "encode user")
	}
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO account_users (id, username_key, email_key, doc)
		 VALUES ($1, $2, $3, $4)
		 ON CONFLICT DO NOTHING`,
		u.ID, strings.ToLower(u.Username), strings.ToLower(u.Email), doc)
	if err != nil {
		return errors.Wrap(err, "db error")
	}
	if n, err := res.RowsAffected(); err != nil {
		return errors.Wrap(err, "db error")
	} else if n == 0 {
		return errors.Wrapf(stores.ErrConflict, "user %q or email is taken", u.Username)
	}
	return nil
}

func (s *Store) DeleteUser(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM account_users WHERE id = $1`, id)
	if err != nil {
		return errors.Wrap(err, "db error")
	}
	if n, err := res.RowsAffected(); err != nil {
		return errors.Wrap(err, "db error")
	} else if n == 0 {
		return stores.ErrNotFound
	}
	return nil
}

func (s *Store) UpdatePasswordHash(ctx context.Context, id string, h model.PasswordHash) (bool, error) {
	doc, err := json.Marshal(stores.NewPasswordHashDocument(&h))
	if err != nil {
		return false, errors.Wrap(err, "encode password hash")
	}
	return s.exec(ctx,
		`UPDATE account_users SET doc = jsonb_set(doc, '{passwordHash}', $2::jsonb)
		 WHERE id = $1`,
		id, doc)
}

func (s *Store) UpdateStatus(ctx context.Context, id string, from, to model.UserStatus) (bool, error) {
	return s.exec(ctx,
		`UPDATE account_users SET doc = jsonb_set(doc, '{status}', to_jsonb($3::int))
		 WHERE id = $1 AND (doc->>'status')::int = $2`,
		id, int64(from), int64(to))
}

func (s *Store) UpdateEmail(ctx context.Context, id, email string, status model.UserStatus) (bool, error) {
	ok, err := s.exec(ctx,
		`UPDATE account_users
		 SET email_key = $2,
		     doc = jsonb_set(jsonb_set(doc, '{email}', to_jsonb($3::text)), '{status}', to_jsonb($4::int))
		 WHERE id = $1`,
		id, strings.ToLower(email), email, int64(status))
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
		return false, errors.Wrap(stores.ErrConflict, "email already in use")
	}
	return ok, err
}

/* ==== PERSISTENT TOKENS ==== */

func (s *Store) GetPersistentToken(ctx context.Context, userID, clientID string) (*model.PersistentToken, error) {
	var raw []byte
	err := s.db.QueryRowContext(ctx,
		`SELECT tokens -> $2 FROM account_users WHERE id = $1`,
		userID, clientID).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, stores.ErrNotFound
	}
	if err != nil {
		return nil, errors.Wrap(err, "db error")
	}
	if raw == nil {
		return nil, stores.ErrNotFound
	}
	var doc stores.PersistentTokenDocument
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, errors.Wrap(err, "decode persistent token")
	}
	tok := doc.Model()
	return &tok, nil
}

func (s *Store) UpsertPersistentToken(ctx context.Context, userID string, tok model.PersistentToken) (bool, error) {
	doc, err := json.Marshal(stores.NewPersistentTokenDocument(tok))
	if err != nil {
		return false, errors.Wrap(err, "encode persistent token")
	}
	return s.exec(ctx,
		`UPDATE account_users SET tokens = jsonb_set(tokens, ARRAY[$2::text], $3::jsonb)
		 WHERE id = $1`,
		userID, tok.ClientID, doc)
}

// DeleteExpiredPersistentTokens rewrites the token object of userID without
// the entries expired at now. The row is locked for the read-modify-write.
func (s *Store) DeleteExpiredPersistentTokens(ctx context.Context, userID string, now time.Time) (int, error) {
	removed := 0
	err := withTx(ctx, s.db, func(ctx context.Context, tx DBTX) error {
		var raw []byte
		err := tx.QueryRowContext(ctx,
			`SELECT tokens FROM account_users WHERE id = $1 FOR UPDATE`,
			userID).Scan(&raw)
		if errors.Is(err, sql.ErrNoRows) {
			return nil
		}
		if err != nil {
			return err
		}

		var all map[string]stores.PersistentTokenDocument
		if err := json.Unmarshal(raw, &all); err != nil {
			return errors.Wrap(err, "decode persistent tokens")
		}
		for clientID, doc := range all {
			if doc.Model().ExpiredAt(now) {
				delete(all, clientID)
				removed++
			}
		}
		if removed == 0 {
			return nil
		}

		kept, err := json.Marshal(all)
		if err != nil {
			return err
		}
		_, err = tx.ExecContext(ctx, `UPDATE account_users SET tokens = $2::jsonb WHERE id = $1`, userID, kept)
		return err
	})
	if err != nil {
		return 0, errors.Wrap(err, "db error")
	}
	return removed, nil
}

/* ==== VERIFICATIONS ==== */

const activeVerificationFilter = `user_id = $1 AND email = $2 AND purpose = $3
	AND (expires_at IS NULL OR expires_at > $4)`

func (s *Store) FindActiveVerification(ctx context.Context, userID, email string, purpose model.Purpose, now time.Time) (*model.Verification, error) {
	var (
		raw     []byte
		expires sql.NullTime
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT doc, expires_at FROM account_verifications
		 WHERE `+activeVerificationFilter+`
		 ORDER BY created_at DESC LIMIT 1`,
		userID, email, int64(purpose), now).Scan(&raw, &expires)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, stores.ErrNotFound
	}
	if err != nil {
		return nil, errors.Wrap(err, "db error")
	}

	var doc stores.VerificationDocument
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, errors.Wrap(err, "decode verification")
	}
	v, err := doc.Model()
	if err != nil {
		return nil, err
	}
	// the column is authoritative once a verification has been expired
	v.ExpirationDate = nil
	if expires.Valid {
		at := expires.Time
		v.ExpirationDate = &at
	}
	return v, nil
}

func (s *Store) CountActiveVerifications(ctx context.Context, userID, email string, purpose model.Purpose, now time.Time) (int64, error) {
	var n int64
	err := s.db.QueryRowContext(ctx,
		`SELECT count(*) FROM account_verifications WHERE `+activeVerificationFilter,
		userID, email, int64(purpose), now).Scan(&n)
	if err != nil {
		return 0, errors.Wrap(err, "db error")
	}
	return n, nil
}

func (s *Store) InsertVerification(ctx context.Context, v *model.Verification) error {
	doc, err := json.Marshal(stores.NewVerificationDocument(*v))
	if err != nil {
		return errors.Wrap(err, "encode verification")
	}
	var expires sql.NullTime
	if v.ExpirationDate != nil {
		expires = sql.NullTime{Time: *v.ExpirationDate, Valid: true}
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO account_verifications (id, user_id, email, purpose, created_at, expires_at, doc)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		v.ID, v.UserID, v.Email, int64(v.Purpose), v.CreationDate, expires, doc)
	return errors.Wrap(err, "db error")
}

func (s *Store) ExpireVerification(ctx context.Context, id string, at time.Time) (bool, error) {
	return s.exec(ctx,
		`UPDATE account_verifications SET expires_at = $2
		 WHERE id = $1 AND (expires_at IS NULL OR expires_at > $2)`,
		id, at)
}

func (s *Store) DeleteVerifications(ctx context.Context, userID string) (int, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM account_verifications WHERE user_id = $1`, userID)
	if err != nil {
		return 0, errors.Wrap(err, "db error")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, errors.Wrap(err, "db error")
	}
	return int(n), nil
}

/* ==== HELPERS ==== */

func (s *Store) getUser(ctx context.Context, query string, arg string) (*model.User, error) {
	var raw []byte
	err := s.db.QueryRowContext(ctx, query, arg).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, stores.ErrNotFound
	}
	if err != nil {
		return nil, errors.Wrap(err, "db error")
	}
	var doc stores.UserDocument
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, errors.Wrap(err, "decode user")
	}
	return doc.Model()
}

// exec runs a filtered update and reports whether a row matched.
func (s *Store) exec(ctx context.Context, query string, args ...any) (bool, error) {
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return false, errors.Wrap(err, "db error")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, errors.Wrap(err, "db error")
	}
	return n > 0, nil
}

func withTx(ctx context.Context, db *sql.DB, fn func(ctx context.Context, tx DBTX) error) (err error) {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
		if err != nil {
			_ = tx.Rollback()
			return
		}
		err = tx.Commit()
	}()
	return fn(ctx, tx)
}
