package postgres

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pressly/goose/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/studydeck/accounts/internal/model"
	"github.com/studydeck/accounts/internal/stores"
)

var now = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func newStoreWithMock(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() {
		assert.NoError(t, mock.ExpectationsWereMet())
		_ = db.Close()
	})
	return New(db), mock
}

const userDoc = `{"id":"u1","username":"Alice","email":"alice@example.com","status":1,` +
	`"passwordHash":{"hash":"AQID","salt":"BAUG","version":"V2","lastChangeDate":"2026-03-01T12:00:00Z"},` +
	`"createdAt":"2026-03-01T12:00:00Z"}`

func TestGetUserByUsername_Found(t *testing.T) {
	s, mock := newStoreWithMock(t)

	mock.ExpectQuery(`(?s)^SELECT\s+doc\s+FROM\s+account_users\s+WHERE\s+username_key\s*=\s*\$1$`).
		WithArgs("alice").
		WillReturnRows(sqlmock.NewRows([]string{"doc"}).AddRow([]byte(userDoc)))

	u, err := s.GetUserByUsername(context.Background(), "ALICE")
	require.NoError(t, err)
	assert.Equal(t, "u1", u.ID)
	assert.Equal(t, model.StatusEmailNotVerified, u.Status)
	require.NotNil(t, u.PasswordHash)
	assert.Equal(t, []byte{1, 2, 3}, u.PasswordHash.Hash)
	assert.True(t, u.PasswordHash.LastChangeDate.Equal(now))
}

func TestGetUserByID_NotFound(t *testing.T) {
	s, mock := newStoreWithMock(t)

	mock.ExpectQuery(`SELECT\s+doc\s+FROM\s+account_users\s+WHERE\s+id`).
		WithArgs("ghost").
		WillReturnError(sql.ErrNoRows)

	_, err := s.GetUserByID(context.Background(), "ghost")
	assert.ErrorIs(t, err, stores.ErrNotFound)
}

func TestGetUserByEmail_DBError(t *testing.T) {
	s, mock := newStoreWithMock(t)

	mock.ExpectQuery(`SELECT\s+doc\s+FROM\s+account_users\s+WHERE\s+email_key`).
		WithArgs("alice@example.com").
		WillReturnError(errors.New("db down"))

	_, err := s.GetUserByEmail(context.Background(), "Alice@Example.com")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "db error: db down")
}

func TestCountUsersByEmail(t *testing.T) {
	s, mock := newStoreWithMock(t)

	mock.ExpectQuery(`SELECT\s+count\(\*\)\s+FROM\s+account_users`).
		WithArgs("alice@example.com").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(int64(1)))

	n, err := s.CountUsersByEmail(context.Background(), "alice@example.com")
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

func TestInsertUser(t *testing.T) {
	u := &model.User{ID: "u1", Username: "Alice", Email: "Alice@Example.com", CreatedAt: now}

	t.Run("inserted", func(t *testing.T) {
		s, mock := newStoreWithMock(t)
		mock.ExpectExec(`INSERT\s+INTO\s+account_users`).
			WithArgs("u1", "alice", "alice@example.com", sqlmock.AnyArg()).
			WillReturnResult(sqlmock.NewResult(0, 1))
		require.NoError(t, s.InsertUser(context.Background(), u))
	})

	t.Run("conflict", func(t *testing.T) {
		s, mock := newStoreWithMock(t)
		mock.ExpectExec(`INSERT\s+INTO\s+account_users`).
			WithArgs("u1", "alice", "alice@example.com", sqlmock.AnyArg()).
			WillReturnResult(sqlmock.NewResult(0, 0))
		assert.ErrorIs(t, s.InsertUser(context.Background(), u), stores.ErrConflict)
	})
}

func TestDeleteUser_NotFound(t *testing.T) {
	s, mock := newStoreWithMock(t)
	mock.ExpectExec(`DELETE\s+FROM\s+account_users`).
		WithArgs("u1").
		WillReturnResult(sqlmock.NewResult(0, 0))
	assert.ErrorIs(t, s.DeleteUser(context.Background(), "u1"), stores.ErrNotFound)
}

func TestUpdateStatus_FilterMiss(t *testing.T) {
	s, mock := newStoreWithMock(t)
	mock.ExpectExec(`(?s)UPDATE\s+account_users\s+SET\s+doc\s*=\s*jsonb_set\(doc,\s*'\{status\}'.*\(doc->>'status'\)::int\s*=\s*\$2`).
		WithArgs("u1", int64(model.StatusEmailNotVerified), int64(model.StatusOK)).
		WillReturnResult(sqlmock.NewResult(0, 0))

	ok, err := s.UpdateStatus(context.Background(), "u1", model.StatusEmailNotVerified, model.StatusOK)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestUpdatePasswordHash(t *testing.T) {
	s, mock := newStoreWithMock(t)
	mock.ExpectExec(`jsonb_set\(doc,\s*'\{passwordHash\}',\s*\$2::jsonb\)`).
		WithArgs("u1", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	ok, err := s.UpdatePasswordHash(context.Background(), "u1", model.PasswordHash{Hash: []byte{1}, Version: "V3"})
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestUpdateEmail_Conflict(t *testing.T) {
	s, mock := newStoreWithMock(t)
	mock.ExpectExec(`UPDATE\s+account_users\s+SET\s+email_key`).
		WithArgs("u1", "bob@example.com", "Bob@example.com", int64(model.StatusEmailNotVerified)).
		WillReturnError(&pgconn.PgError{Code: "23505"})

	_, err := s.UpdateEmail(context.Background(), "u1", "Bob@example.com", model.StatusEmailNotVerified)
	assert.ErrorIs(t, err, stores.ErrConflict)
}

func TestGetPersistentToken(t *testing.T) {
	t.Run("found", func(t *testing.T) {
		s, mock := newStoreWithMock(t)
		mock.ExpectQuery(`SELECT\s+tokens\s+->\s+\$2`).
			WithArgs("u1", "laptop").
			WillReturnRows(sqlmock.NewRows([]string{"tok"}).
				AddRow([]byte(`{"clientId":"laptop","hash":"AQI=","expirationDate":"2026-03-02T12:00:00Z"}`)))

		tok, err := s.GetPersistentToken(context.Background(), "u1", "laptop")
		require.NoError(t, err)
		assert.Equal(t, []byte{1, 2}, tok.Hash)
		assert.True(t, tok.ExpirationDate.Equal(now.Add(24*time.Hour)))
	})

	t.Run("missing client", func(t *testing.T) {
		s, mock := newStoreWithMock(t)
		mock.ExpectQuery(`SELECT\s+tokens\s+->\s+\$2`).
			WithArgs("u1", "phone").
			WillReturnRows(sqlmock.NewRows([]string{"tok"}).AddRow(nil))

		_, err := s.GetPersistentToken(context.Background(), "u1", "phone")
		assert.ErrorIs(t, err, stores.ErrNotFound)
	})
}

func TestUpsertPersistentToken(t *testing.T) {
	s, mock := newStoreWithMock(t)
	mock.ExpectExec(`jsonb_set\(tokens,\s*ARRAY\[\$2::text\],\s*\$3::jsonb\)`).
		WithArgs("u1", "laptop", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	ok, err := s.UpsertPersistentToken(context.Background(), "u1",
		model.PersistentToken{ClientID: "laptop", Hash: []byte{1}, ExpirationDate: now})
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestDeleteExpiredPersistentTokens(t *testing.T) {
	s, mock := newStoreWithMock(t)
	tokens := `{"laptop":{"clientId":"laptop","hash":"AQ==","expirationDate":"2026-03-02T12:00:00Z"},` +
		`"phone":{"clientId":"phone","hash":"Ag==","expirationDate":"2026-03-01T11:00:00Z"},` +
		`"tablet":{"clientId":"tablet","hash":"Aw==","expirationDate":"2026-03-01T12:00:00Z"}}`

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT\s+tokens\s+FROM\s+account_users\s+WHERE\s+id\s*=\s*\$1\s+FOR\s+UPDATE`).
		WithArgs("u1").
		WillReturnRows(sqlmock.NewRows([]string{"tokens"}).AddRow([]byte(tokens)))
	mock.ExpectExec(`UPDATE\s+account_users\s+SET\s+tokens\s*=\s*\$2::jsonb`).
		WithArgs("u1", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	removed, err := s.DeleteExpiredPersistentTokens(context.Background(), "u1", now)
	require.NoError(t, err)
	assert.Equal(t, 2, removed)
}

func TestDeleteExpiredPersistentTokens_RollsBackOnError(t *testing.T) {
	s, mock := newStoreWithMock(t)
	mock.ExpectBegin()
	mock.ExpectQuery(`FOR\s+UPDATE`).
		WithArgs("u1").
		WillReturnError(errors.New("lock timeout"))
	mock.ExpectRollback()

	_, err := s.DeleteExpiredPersistentTokens(context.Background(), "u1", now)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "lock timeout")
}

func TestFindActiveVerification(t *testing.T) {
	s, mock := newStoreWithMock(t)
	doc := `{"id":"v1","userId":"u1","email":"alice@example.com","purpose":1,` +
		`"creationDate":"2026-03-01T12:00:00Z","salt":"Bwc=","expirationDate":"2026-03-02T12:00:00Z"}`
	expiredAt := now.Add(time.Minute)

	mock.ExpectQuery(`(?s)SELECT\s+doc,\s*expires_at\s+FROM\s+account_verifications.*ORDER\s+BY\s+created_at\s+DESC\s+LIMIT\s+1`).
		WithArgs("u1", "alice@example.com", int64(model.PurposeEmailVerification), now).
		WillReturnRows(sqlmock.NewRows([]string{"doc", "expires_at"}).AddRow([]byte(doc), expiredAt))

	v, err := s.FindActiveVerification(context.Background(), "u1", "alice@example.com", model.PurposeEmailVerification, now)
	require.NoError(t, err)
	assert.Equal(t, "v1", v.ID)
	assert.Equal(t, []byte{7, 7}, v.Salt)
	require.NotNil(t, v.ExpirationDate)
	assert.True(t, v.ExpirationDate.Equal(expiredAt))
}

func TestFindActiveVerification_None(t *testing.T) {
	s, mock := newStoreWithMock(t)
	mock.ExpectQuery(`FROM\s+account_verifications`).
		WithArgs("u1", "alice@example.com", int64(model.PurposePasswordReset), now).
		WillReturnError(sql.ErrNoRows)

	_, err := s.FindActiveVerification(context.Background(), "u1", "alice@example.com", model.PurposePasswordReset, now)
	assert.ErrorIs(t, err, stores.ErrNotFound)
}

func TestInsertAndExpireVerification(t *testing.T) {
	s, mock := newStoreWithMock(t)
	exp := now.Add(24 * time.Hour)
	v := &model.Verification{
		ID: "v1", UserID: "u1", Email: "alice@example.com",
		Purpose: model.PurposePasswordReset, CreationDate: now, Salt: []byte{1}, ExpirationDate: &exp,
	}

	mock.ExpectExec(`INSERT\s+INTO\s+account_verifications`).
		WithArgs("v1", "u1", "alice@example.com", int64(model.PurposePasswordReset), now, sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`UPDATE\s+account_verifications\s+SET\s+expires_at\s*=\s*\$2`).
		WithArgs("v1", now).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, s.InsertVerification(context.Background(), v))
	ok, err := s.ExpireVerification(context.Background(), "v1", now)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestDeleteVerifications(t *testing.T) {
	s, mock := newStoreWithMock(t)
	mock.ExpectExec(`DELETE\s+FROM\s+account_verifications`).
		WithArgs("u1").
		WillReturnResult(sqlmock.NewResult(0, 3))

	n, err := s.DeleteVerifications(context.Background(), "u1")
	require.NoError(t, err)
	assert.Equal(t, 3, n)
}

func TestMigrate_UsesEmbeddedDir(t *testing.T) {
	db, _, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	orig := gooseUpContext
	defer func() { gooseUpContext = orig }()

	var gotDir string
	gooseUpContext = func(_ context.Context, _ *sql.DB, dir string, _ ...goose.OptionsFunc) error {
		gotDir = dir
		return nil
	}
	require.NoError(t, Migrate(context.Background(), db))
	assert.Equal(t, "migrations", gotDir)

	gooseUpContext = func(context.Context, *sql.DB, string, ...goose.OptionsFunc) error {
		return errors.New("boom")
	}
	err = Migrate(context.Background(), db)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "boom")
}
