package flows

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	"github.com/studydeck/accounts/internal/model"
	"github.com/studydeck/accounts/password"
)

func TestSavePasswordStoresHashAndClearsForcedChange(t *testing.T) {
	store, clock := newMemoryStore(), newFakeClock()
	store.put(model.User{ID: "u1", Status: model.StatusEmailNotVerifiedAndPasswordChangeRequired})
	deps := credentialDeps(t, store, clock)
	deps.MaxPasswordAge = 90 * 24 * time.Hour

	if err := RunSavePassword(context.Background(), "u1", "first-password", deps); err != nil {
		t.Fatalf("RunSavePassword error: %v", err)
	}

	u := store.user(t, "u1")
	if u.PasswordHash == nil || u.PasswordHash.Version != "V1" {
		t.Fatalf("expected V1 password hash, got %+v", u.PasswordHash)
	}
	if !u.PasswordHash.LastChangeDate.Equal(clock.Now()) {
		t.Fatalf("unexpected last change date %v", u.PasswordHash.LastChangeDate)
	}
	if u.PasswordHash.ExpirationDate == nil || !u.PasswordHash.ExpirationDate.Equal(clock.Now().Add(deps.MaxPasswordAge)) {
		t.Fatalf("unexpected expiration %v", u.PasswordHash.ExpirationDate)
	}
	if u.Status != model.StatusEmailNotVerified {
		t.Fatalf("expected EmailNotVerified, got %s", u.Status)
	}
}

func TestSavePasswordTooRecent(t *testing.T) {
	store, clock := newMemoryStore(), newFakeClock()
	store.put(model.User{ID: "u1"})
	deps := credentialDeps(t, store, clock)
	deps.MinPasswordAge = time.Hour

	if err := RunSavePassword(context.Background(), "u1", "first-password", deps); err != nil {
		t.Fatalf("first save error: %v", err)
	}
	clock.Advance(30 * time.Minute)
	if err := RunSavePassword(context.Background(), "u1", "second-password", deps); !errors.Is(err, errTooRecent) {
		t.Fatalf("expected too recent, got %v", err)
	}
	clock.Advance(31 * time.Minute)
	if err := RunSavePassword(context.Background(), "u1", "second-password", deps); err != nil {
		t.Fatalf("save after min age error: %v", err)
	}
}

func TestSavePasswordZeroMinAgeAllowsImmediateChange(t *testing.T) {
	store, clock := newMemoryStore(), newFakeClock()
	store.put(model.User{ID: "u1"})
	deps := credentialDeps(t, store, clock)
	deps.MinPasswordAge = 0

	if err := RunSavePassword(context.Background(), "u1", "first-password", deps); err != nil {
		t.Fatalf("first save error: %v", err)
	}
	if err := RunSavePassword(context.Background(), "u1", "second-password", deps); err != nil {
		t.Fatalf("save at the same instant error: %v", err)
	}
	if !store.user(t, "u1").PasswordHash.LastChangeDate.Equal(clock.Now()) {
		t.Fatal("expected the second save to be stored")
	}
}

func TestCheckPasswordReuse(t *testing.T) {
	store, clock := newMemoryStore(), newFakeClock()
	store.put(model.User{ID: "u1"})
	deps := credentialDeps(t, store, clock)
	deps.PreventReuse = true
	ctx := context.Background()

	if err := RunCheckPasswordReuse(ctx, "u1", "same-password", deps); err != nil {
		t.Fatalf("no stored hash: expected nil, got %v", err)
	}
	if err := RunSavePassword(ctx, "u1", "same-password", deps); err != nil {
		t.Fatalf("save error: %v", err)
	}
	before := *store.user(t, "u1").PasswordHash
	if err := RunCheckPasswordReuse(ctx, "u1", "same-password", deps); !errors.Is(err, errIdentical) {
		t.Fatalf("expected identical, got %v", err)
	}
	if err := RunCheckPasswordReuse(ctx, "u1", "other-password", deps); err != nil {
		t.Fatalf("different password: expected nil, got %v", err)
	}
	if after := *store.user(t, "u1").PasswordHash; !bytes.Equal(after.Hash, before.Hash) {
		t.Fatal("check must not change the stored hash")
	}

	deps.PreventReuse = false
	if err := RunCheckPasswordReuse(ctx, "u1", "same-password", deps); err != nil {
		t.Fatalf("reuse allowed: expected nil, got %v", err)
	}
	if err := RunCheckPasswordReuse(ctx, "ghost", "pw", deps); !errors.Is(err, errUserMissing) {
		t.Fatalf("expected user does not exist, got %v", err)
	}
}

func TestSavePasswordRejectsReuse(t *testing.T) {
	store, clock := newMemoryStore(), newFakeClock()
	store.put(model.User{ID: "u1"})
	deps := credentialDeps(t, store, clock)
	deps.PreventReuse = true

	if err := RunSavePassword(context.Background(), "u1", "same-password", deps); err != nil {
		t.Fatalf("first save error: %v", err)
	}
	clock.Advance(time.Second)
	if err := RunSavePassword(context.Background(), "u1", "same-password", deps); !errors.Is(err, errIdentical) {
		t.Fatalf("expected identical, got %v", err)
	}
}

func TestSavePasswordValidatesBeforeIO(t *testing.T) {
	deps := CredentialDeps{
		GetUser: func(context.Context, string) (*model.User, error) {
			t.Fatal("store must not be called for invalid input")
			return nil, nil
		},
		Errors: CredentialErrors{InvalidArgument: errInvalidArgument},
	}
	if err := RunSavePassword(context.Background(), " ", "pw", deps); !errors.Is(err, errInvalidArgument) {
		t.Fatalf("expected invalid argument, got %v", err)
	}
	if err := RunSavePassword(context.Background(), "u1", "", deps); !errors.Is(err, errInvalidArgument) {
		t.Fatalf("expected invalid argument, got %v", err)
	}
	if _, err := RunVerifyPassword(context.Background(), "u1", "\t", deps); !errors.Is(err, errInvalidArgument) {
		t.Fatalf("expected invalid argument, got %v", err)
	}
}

func TestSavePasswordUnknownUser(t *testing.T) {
	store, clock := newMemoryStore(), newFakeClock()
	if err := RunSavePassword(context.Background(), "ghost", "pw", credentialDeps(t, store, clock)); !errors.Is(err, errUserMissing) {
		t.Fatalf("expected user does not exist, got %v", err)
	}
}

func TestVerifyPasswordResults(t *testing.T) {
	store, clock := newMemoryStore(), newFakeClock()
	store.put(model.User{ID: "u1"})
	store.put(model.User{ID: "nohash"})
	deps := credentialDeps(t, store, clock)
	deps.MaxPasswordAge = time.Hour

	if err := RunSavePassword(context.Background(), "u1", "the-password", deps); err != nil {
		t.Fatalf("save error: %v", err)
	}

	cases := []struct {
		user, pw string
		advance  time.Duration
		want     model.CredentialResult
	}{
		{"u1", "the-password", 0, model.CredentialVerified},
		{"u1", "not-the-password", 0, model.CredentialNotVerified},
		{"nohash", "anything", 0, model.CredentialNotVerified},
		{"u1", "the-password", 2 * time.Hour, model.CredentialVerifiedAndExpired},
		{"u1", "not-the-password", 0, model.CredentialNotVerified},
	}
	for i, tc := range cases {
		clock.Advance(tc.advance)
		got, err := RunVerifyPassword(context.Background(), tc.user, tc.pw, deps)
		if err != nil {
			t.Fatalf("case %d: error %v", i, err)
		}
		if got != tc.want {
			t.Fatalf("case %d: got %s want %s", i, got, tc.want)
		}
	}
}

func TestVerifyPasswordRehashesOldVersion(t *testing.T) {
	store, clock := newMemoryStore(), newFakeClock()
	legacy := testHasher(t, "V1")
	hashed, err := legacy.HashPassword("legacy-password", nil, nil)
	if err != nil {
		t.Fatalf("hash error: %v", err)
	}
	changed := clock.Now().Add(-48 * time.Hour)
	store.put(model.User{ID: "u1", PasswordHash: &model.PasswordHash{
		Hash: hashed.Hash, Salt: hashed.Salt, Version: "V1", LastChangeDate: changed,
	}})

	deps := credentialDeps(t, store, clock)
	deps.Hasher = testHasher(t, "V2")

	got, err := RunVerifyPassword(context.Background(), "u1", "legacy-password", deps)
	if err != nil {
		t.Fatalf("verify error: %v", err)
	}
	if got != model.CredentialVerified {
		t.Fatalf("expected Verified, got %s", got)
	}

	u := store.user(t, "u1")
	if u.PasswordHash.Version != "V2" {
		t.Fatalf("expected rehash to V2, got %s", u.PasswordHash.Version)
	}
	if !u.PasswordHash.LastChangeDate.Equal(changed) {
		t.Fatal("rehash must not move the last change date")
	}

	got, err = RunVerifyPassword(context.Background(), "u1", "legacy-password", deps)
	if err != nil || got != model.CredentialVerified {
		t.Fatalf("expected Verified after rehash, got %s err=%v", got, err)
	}
}

func TestVerifyPasswordUnknownVersion(t *testing.T) {
	store, clock := newMemoryStore(), newFakeClock()
	store.put(model.User{ID: "u1", PasswordHash: &model.PasswordHash{Hash: []byte("h"), Salt: []byte("s"), Version: "Z9"}})

	_, err := RunVerifyPassword(context.Background(), "u1", "pw", credentialDeps(t, store, clock))
	if !errors.Is(err, errInvalidOperation) {
		t.Fatalf("expected invalid operation, got %v", err)
	}
}

func TestSavePasswordLostStatusRaceIsLogged(t *testing.T) {
	store, clock := newMemoryStore(), newFakeClock()
	store.put(model.User{ID: "u1", Status: model.StatusPasswordChangeRequired})
	deps := credentialDeps(t, store, clock)
	deps.UpdateStatus = func(context.Context, string, model.UserStatus, model.UserStatus) (bool, error) {
		return false, nil
	}

	if err := RunSavePassword(context.Background(), "u1", "pw-one", deps); err != nil {
		t.Fatalf("expected lost race to be benign, got %v", err)
	}
	if len(store.warnings) != 1 {
		t.Fatalf("expected one warning, got %v", store.warnings)
	}
}

func TestCredentialResultFromPasswordRejectsUnknown(t *testing.T) {
	if _, err := CredentialResultFromPassword(password.Result(42), false); !errors.Is(err, model.ErrInvalidEnumValue) {
		t.Fatalf("expected ErrInvalidEnumValue, got %v", err)
	}
}
