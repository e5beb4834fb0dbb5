package flows

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/studydeck/accounts/internal/model"
	"github.com/studydeck/accounts/password"
)

var (
	errInvalidArgument  = errors.New("invalid argument")
	errInvalidOperation = errors.New("invalid operation")
	errUserMissing      = errors.New("user does not exist")
	errIdentical        = errors.New("password is identical")
	errTooRecent        = errors.New("password change too recent")
	errVerifyTooRecent  = errors.New("verification too recent")
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 5, 4, 10, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type memoryStore struct {
	mu            sync.Mutex
	users         map[string]model.User
	tokens        map[string]map[string]model.PersistentToken
	verifications []*model.Verification
	warnings      []string
	seq           int
}

func newMemoryStore() *memoryStore {
	return &memoryStore{
		users:  make(map[string]model.User),
		tokens: make(map[string]map[string]model.PersistentToken),
	}
}

func (s *memoryStore) put(u model.User) {
	s.mu.Lock()
	s.users[u.ID] = u
	s.mu.Unlock()
}

func (s *memoryStore) user(t *testing.T, id string) model.User {
	t.Helper()
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[id]
	if !ok {
		t.Fatalf("user %s missing", id)
	}
	return u
}

func (s *memoryStore) GetUser(_ context.Context, id string) (*model.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[id]
	if !ok {
		return nil, model.ErrNotFound
	}
	return &u, nil
}

func (s *memoryStore) GetUserByUsername(_ context.Context, name string) (*model.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, u := range s.users {
		if u.Username == name {
			u := u
			return &u, nil
		}
	}
	return nil, model.ErrNotFound
}

func (s *memoryStore) UpdatePasswordHash(_ context.Context, id string, h model.PasswordHash) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[id]
	if !ok {
		return false, nil
	}
	u.PasswordHash = &h
	s.users[id] = u
	return true, nil
}

func (s *memoryStore) UpdateStatus(_ context.Context, id string, from, to model.UserStatus) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[id]
	if !ok || u.Status != from {
		return false, nil
	}
	u.Status = to
	s.users[id] = u
	return true, nil
}

func (s *memoryStore) GetToken(_ context.Context, userID, clientID string) (*model.PersistentToken, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	tok, ok := s.tokens[userID][clientID]
	if !ok {
		return nil, model.ErrNotFound
	}
	return &tok, nil
}

func (s *memoryStore) UpsertToken(_ context.Context, userID string, tok model.PersistentToken) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.users[userID]; !ok {
		return false, nil
	}
	if s.tokens[userID] == nil {
		s.tokens[userID] = make(map[string]model.PersistentToken)
	}
	s.tokens[userID][tok.ClientID] = tok
	return true, nil
}

func (s *memoryStore) PurgeExpired(_ context.Context, userID string, now time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for id, tok := range s.tokens[userID] {
		if tok.ExpiredAt(now) {
			delete(s.tokens[userID], id)
			n++
		}
	}
	return n, nil
}

func (s *memoryStore) tokenCount(userID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.tokens[userID])
}

func (s *memoryStore) FindActive(_ context.Context, userID, email string, purpose model.Purpose, now time.Time) (*model.Verification, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := len(s.verifications) - 1; i >= 0; i-- {
		v := s.verifications[i]
		if v.UserID == userID && v.Email == email && v.Purpose == purpose && v.ActiveAt(now) {
			cp := *v
			return &cp, nil
		}
	}
	return nil, model.ErrNotFound
}

func (s *memoryStore) activeCount(userID, email string, purpose model.Purpose, now time.Time) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, v := range s.verifications {
		if v.UserID == userID && v.Email == email && v.Purpose == purpose && v.ActiveAt(now) {
			n++
		}
	}
	return n
}

func (s *memoryStore) Insert(_ context.Context, v *model.Verification) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *v
	s.verifications = append(s.verifications, &cp)
	return nil
}

func (s *memoryStore) Expire(_ context.Context, id string, at time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, v := range s.verifications {
		if v.ID == id {
			if !v.ActiveAt(at) {
				return false, nil
			}
			exp := at
			v.ExpirationDate = &exp
			return true, nil
		}
	}
	return false, nil
}

func (s *memoryStore) NewID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seq++
	return fmt.Sprintf("v-%d", s.seq)
}

func (s *memoryStore) Warn(_ context.Context, msg string, _ ...any) {
	s.mu.Lock()
	s.warnings = append(s.warnings, msg)
	s.mu.Unlock()
}

func testHasher(t *testing.T, current string) *password.Hasher {
	t.Helper()
	h, err := password.NewHasher(nil, current, nil)
	if err != nil {
		t.Fatalf("NewHasher error: %v", err)
	}
	return h
}

func credentialDeps(t *testing.T, store *memoryStore, clock *fakeClock) CredentialDeps {
	return CredentialDeps{
		Hasher:             testHasher(t, "V1"),
		Now:                clock.Now,
		GetUser:            store.GetUser,
		UpdatePasswordHash: store.UpdatePasswordHash,
		UpdateStatus:       store.UpdateStatus,
		Warn:               store.Warn,
		Errors: CredentialErrors{
			InvalidArgument:         errInvalidArgument,
			InvalidOperation:        errInvalidOperation,
			UserDoesNotExist:        errUserMissing,
			PasswordIsIdentical:     errIdentical,
			PasswordChangeTooRecent: errTooRecent,
		},
	}
}

func persistentTokenDeps(t *testing.T, store *memoryStore, clock *fakeClock) PersistentTokenDeps {
	return PersistentTokenDeps{
		Hasher:       testHasher(t, "V1"),
		MaxTokenAge:  30 * 24 * time.Hour,
		Now:          clock.Now,
		GetUser:      store.GetUser,
		GetToken:     store.GetToken,
		UpsertToken:  store.UpsertToken,
		PurgeExpired: store.PurgeExpired,
		Warn:         store.Warn,
		Errors: PersistentTokenErrors{
			InvalidArgument:  errInvalidArgument,
			InvalidOperation: errInvalidOperation,
			UserDoesNotExist: errUserMissing,
		},
	}
}

func verificationDeps(store *memoryStore, clock *fakeClock) VerificationDeps {
	return VerificationDeps{
		HashAlgorithm:      "SHA256",
		SaltLength:         16,
		PepperLength:       16,
		MinVerificationAge: time.Minute,
		MaxVerificationAge: 24 * time.Hour,
		Now:                clock.Now,
		NewID:              store.NewID,
		FindActive:         store.FindActive,
		Insert:             store.Insert,
		Expire:             store.Expire,
		GetUser:            store.GetUser,
		UpdateStatus:       store.UpdateStatus,
		Warn:               store.Warn,
		Errors: VerificationErrors{
			InvalidArgument:       errInvalidArgument,
			InvalidOperation:      errInvalidOperation,
			UserDoesNotExist:      errUserMissing,
			VerificationTooRecent: errVerifyTooRecent,
		},
	}
}
