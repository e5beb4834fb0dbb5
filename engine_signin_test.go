package accounts

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestSignInAuthenticatedIssuesSession(t *testing.T) {
	env := newTestEnv(t, nil)
	user := env.register(t, "alice", "alice@example.com", "correct-password-123")

	resp, err := env.engine.SignIn(context.Background(), SignInRequest{
		Username: "Alice",
		Password: "correct-password-123",
	})
	if err != nil {
		t.Fatalf("SignIn failed: %v", err)
	}
	if resp.Result != SignInAuthenticated {
		t.Fatalf("expected Authenticated, got %v", resp.Result)
	}
	if resp.UserID != user.ID || resp.SessionToken == "" {
		t.Fatalf("unexpected response %+v", resp)
	}
	if !resp.PersistentTokenExpiresAt.IsZero() {
		t.Fatal("persistent token issued without remember me")
	}

	claims, err := env.engine.ParseSession(resp.SessionToken)
	if err != nil {
		t.Fatalf("ParseSession failed: %v", err)
	}
	if claims.UserID != user.ID || claims.Username != "alice" || UserStatus(claims.Status) != StatusOK {
		t.Fatalf("unexpected claims %+v", claims)
	}
	if got := env.engine.MetricsSnapshot().Counters[MetricSessionIssued]; got != 1 {
		t.Fatalf("expected 1 session issued, got %d", got)
	}
}

func TestSignInUnknownUserAndWrongPassword(t *testing.T) {
	env := newTestEnv(t, nil)
	env.register(t, "alice", "alice@example.com", "correct-password-123")
	ctx := context.Background()

	resp, err := env.engine.SignIn(ctx, SignInRequest{Username: "bob", Password: "whatever-password"})
	if err != nil || resp.Result != SignInNotAuthenticated {
		t.Fatalf("expected NotAuthenticated for unknown user, got %v %v", resp.Result, err)
	}

	resp, err = env.engine.SignIn(ctx, SignInRequest{Username: "alice", Password: "wrong-password"})
	if err != nil || resp.Result != SignInNotAuthenticated {
		t.Fatalf("expected NotAuthenticated, got %v %v", resp.Result, err)
	}
	if resp.SessionToken != "" {
		t.Fatal("session issued for wrong password")
	}
}

func TestSignInBlankInput(t *testing.T) {
	env := newTestEnv(t, nil)

	_, err := env.engine.SignIn(context.Background(), SignInRequest{Username: "alice", Password: " "})
	if !errors.Is(err, ErrInvalidArgument) {
		t.Fatalf("expected ErrInvalidArgument, got %v", err)
	}
	_, err = env.engine.SignIn(context.Background(), SignInRequest{Username: "alice", Password: "pw", RememberMe: true})
	if !errors.Is(err, ErrInvalidArgument) {
		t.Fatalf("expected ErrInvalidArgument for remember me without client, got %v", err)
	}
}

func TestSignInLockout(t *testing.T) {
	env := newTestEnv(t, nil)
	user := env.register(t, "alice", "alice@example.com", "correct-password-123")
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		resp, err := env.engine.SignIn(ctx, SignInRequest{Username: "alice", Password: "wrong-password"})
		if err != nil || resp.Result != SignInNotAuthenticated {
			t.Fatalf("attempt %d: expected NotAuthenticated, got %v %v", i+1, resp.Result, err)
		}
	}

	resp, err := env.engine.SignIn(ctx, SignInRequest{Username: "alice", Password: "correct-password-123"})
	if err != nil {
		t.Fatalf("SignIn failed: %v", err)
	}
	if resp.Result != SignInLockedOut || resp.SessionToken != "" {
		t.Fatalf("expected LockedOut without session, got %+v", resp)
	}
	if got := env.engine.MetricsSnapshot().Counters[MetricRateLimitHit]; got != 1 {
		t.Fatalf("expected rate limit metric, got %d", got)
	}

	env.mr.FastForward(16 * time.Minute)
	resp, err = env.engine.SignIn(ctx, SignInRequest{Username: "alice", Password: "correct-password-123"})
	if err != nil || resp.Result != SignInAuthenticated {
		t.Fatalf("expected Authenticated after window, got %v %v", resp.Result, err)
	}

	for i := 0; i < 3; i++ {
		_, _ = env.engine.SignIn(ctx, SignInRequest{Username: "alice", Password: "wrong-password"})
	}
	if err := env.engine.UnlockSignIn(ctx, user.ID); err != nil {
		t.Fatalf("UnlockSignIn failed: %v", err)
	}
	resp, err = env.engine.SignIn(ctx, SignInRequest{Username: "alice", Password: "correct-password-123"})
	if err != nil || resp.Result != SignInAuthenticated {
		t.Fatalf("expected Authenticated after unlock, got %v %v", resp.Result, err)
	}
}

func TestSignInSuspendedSkipsAttemptCounter(t *testing.T) {
	env := newTestEnv(t, nil)
	user := env.register(t, "alice", "alice@example.com", "correct-password-123")
	ctx := context.Background()

	if err := env.engine.SetUserStatus(ctx, user.ID, StatusSuspended); err != nil {
		t.Fatalf("SetUserStatus failed: %v", err)
	}
	for i := 0; i < 5; i++ {
		resp, err := env.engine.SignIn(ctx, SignInRequest{Username: "alice", Password: "correct-password-123"})
		if err != nil || resp.Result != SignInSuspended {
			t.Fatalf("expected Suspended, got %v %v", resp.Result, err)
		}
	}

	if err := env.engine.SetUserStatus(ctx, user.ID, StatusOK); err != nil {
		t.Fatalf("SetUserStatus failed: %v", err)
	}
	resp, err := env.engine.SignIn(ctx, SignInRequest{Username: "alice", Password: "correct-password-123"})
	if err != nil || resp.Result != SignInAuthenticated {
		t.Fatalf("expected Authenticated after reinstatement, got %v %v", resp.Result, err)
	}
}

func TestSignInPasswordExpiredStillIssuesSession(t *testing.T) {
	env := newTestEnv(t, func(c *Config) {
		c.Password.MaxPasswordAge = 24 * time.Hour
	})
	user := env.register(t, "alice", "alice@example.com", "correct-password-123")
	env.clock.Advance(25 * time.Hour)

	resp, err := env.engine.SignIn(context.Background(), SignInRequest{
		Username:     "alice",
		Password:     "correct-password-123",
		RememberMe:   true,
		ClientID:     "laptop",
		ClientSecret: "s3cret",
	})
	if err != nil {
		t.Fatalf("SignIn failed: %v", err)
	}
	if resp.Result != SignInPasswordExpired || resp.SessionToken == "" {
		t.Fatalf("expected PasswordExpired with session, got %+v", resp)
	}
	if !resp.PersistentTokenExpiresAt.IsZero() {
		t.Fatal("persistent token issued for expired password")
	}
	if _, err := env.engine.store.GetPersistentToken(context.Background(), user.ID, "laptop"); err == nil {
		t.Fatal("persistent token stored for expired password")
	}
}

func TestSignInForcedPasswordChange(t *testing.T) {
	env := newTestEnv(t, nil)
	user := env.register(t, "alice", "alice@example.com", "correct-password-123")
	ctx := context.Background()

	if err := env.engine.SetUserStatus(ctx, user.ID, StatusPasswordChangeRequired); err != nil {
		t.Fatalf("SetUserStatus failed: %v", err)
	}
	resp, err := env.engine.SignIn(ctx, SignInRequest{Username: "alice", Password: "correct-password-123"})
	if err != nil || resp.Result != SignInPasswordExpired {
		t.Fatalf("expected PasswordExpired, got %v %v", resp.Result, err)
	}

	if err := env.engine.ChangePassword(ctx, user.ID, "correct-password-123", "another-password-456"); err != nil {
		t.Fatalf("ChangePassword failed: %v", err)
	}
	if got := env.user(t, user.ID).Status; got != StatusOK {
		t.Fatalf("expected OK after password change, got %v", got)
	}
}

func TestSignInRememberMeAndRenew(t *testing.T) {
	env := newTestEnv(t, nil)
	user := env.register(t, "alice", "alice@example.com", "correct-password-123")
	ctx := context.Background()

	resp, err := env.engine.SignIn(ctx, SignInRequest{
		Username:     "alice",
		Password:     "correct-password-123",
		RememberMe:   true,
		ClientID:     "laptop",
		ClientSecret: "s3cret",
	})
	if err != nil || resp.Result != SignInAuthenticated {
		t.Fatalf("SignIn failed: %v %v", resp.Result, err)
	}
	want := env.clock.Now().Add(30 * 24 * time.Hour)
	if !resp.PersistentTokenExpiresAt.Equal(want) {
		t.Fatalf("expected persistent token expiry %v, got %v", want, resp.PersistentTokenExpiresAt)
	}

	renewed, err := env.engine.RenewToken(ctx, user.ID, "laptop", "s3cret")
	if err != nil {
		t.Fatalf("RenewToken failed: %v", err)
	}
	if renewed.Result != RenewAuthenticated || renewed.SessionToken == "" {
		t.Fatalf("expected Authenticated with session, got %+v", renewed)
	}

	renewed, err = env.engine.RenewToken(ctx, user.ID, "laptop", "wrong")
	if err != nil || renewed.Result != RenewNotAuthenticated || renewed.SessionToken != "" {
		t.Fatalf("expected NotAuthenticated, got %+v %v", renewed, err)
	}

	renewed, err = env.engine.RenewToken(ctx, user.ID, "phone", "s3cret")
	if err != nil || renewed.Result != RenewNoTokenAvailable {
		t.Fatalf("expected NoTokenAvailable, got %+v %v", renewed, err)
	}

	renewed, err = env.engine.RenewToken(ctx, "missing", "laptop", "s3cret")
	if err != nil || renewed.Result != RenewNotAuthenticated {
		t.Fatalf("expected NotAuthenticated for unknown user, got %+v %v", renewed, err)
	}
}

func TestRenewTokenStatusShortCircuits(t *testing.T) {
	env := newTestEnv(t, nil)
	user := env.register(t, "alice", "alice@example.com", "correct-password-123")
	ctx := context.Background()

	if _, err := env.engine.SavePersistentToken(ctx, user.ID, "laptop", "s3cret"); err != nil {
		t.Fatalf("SavePersistentToken failed: %v", err)
	}

	if err := env.engine.SetUserStatus(ctx, user.ID, StatusPasswordChangeRequired); err != nil {
		t.Fatalf("SetUserStatus failed: %v", err)
	}
	renewed, err := env.engine.RenewToken(ctx, user.ID, "laptop", "s3cret")
	if err != nil || renewed.Result != RenewPasswordExpired || renewed.SessionToken != "" {
		t.Fatalf("expected PasswordExpired without session, got %+v %v", renewed, err)
	}

	if err := env.engine.SetUserStatus(ctx, user.ID, StatusSuspended); err != nil {
		t.Fatalf("SetUserStatus failed: %v", err)
	}
	renewed, err = env.engine.RenewToken(ctx, user.ID, "laptop", "s3cret")
	if err != nil || renewed.Result != RenewSuspended {
		t.Fatalf("expected Suspended, got %+v %v", renewed, err)
	}
}

func TestPasswordChangeInvalidatesPersistentTokens(t *testing.T) {
	env := newTestEnv(t, nil)
	user := env.register(t, "alice", "alice@example.com", "correct-password-123")
	ctx := context.Background()

	if _, err := env.engine.SavePersistentToken(ctx, user.ID, "laptop", "s3cret"); err != nil {
		t.Fatalf("SavePersistentToken failed: %v", err)
	}
	if err := env.engine.ChangePassword(ctx, user.ID, "correct-password-123", "another-password-456"); err != nil {
		t.Fatalf("ChangePassword failed: %v", err)
	}

	res, err := env.engine.VerifyPersistentToken(ctx, user.ID, "laptop", "s3cret")
	if err != nil {
		t.Fatalf("VerifyPersistentToken failed: %v", err)
	}
	if res != PersistentTokenNotVerified {
		t.Fatalf("expected NotVerified after password change, got %v", res)
	}
}

func TestSignInAuditFingerprint(t *testing.T) {
	sink := NewChannelSink(64)
	env := newTestEnv(t, func(c *Config) {
		c.Audit.Enabled = true
		c.Audit.DropIfFull = false
	}, func(b *Builder) {
		b.WithAuditSink(sink)
	})
	env.register(t, "alice", "alice@example.com", "correct-password-123")

	ctx := WithRequestInfo(context.Background(), RequestInfo{
		Accept:    "application/json",
		RemoteIP:  "203.0.113.7",
		UserAgent: "test-agent",
	})
	if _, err := env.engine.SignIn(ctx, SignInRequest{Username: "alice", Password: "wrong-password"}); err != nil {
		t.Fatalf("SignIn failed: %v", err)
	}
	env.engine.Close()

	var found *AuditEvent
	for {
		select {
		case ev := <-sink.Events():
			if ev.EventType == auditEventSignIn {
				ev := ev
				found = &ev
			}
			continue
		default:
		}
		break
	}
	if found == nil {
		t.Fatal("no sign-in audit event")
	}
	if found.Success {
		t.Fatal("failed sign-in audited as success")
	}
	if found.Fingerprint == "" || len(found.Fingerprint) != 32 {
		t.Fatalf("expected hex MD5 fingerprint, got %q", found.Fingerprint)
	}
	if found.RemoteIP != "203.0.113.7" || found.Metadata["result"] != SignInNotAuthenticated.String() {
		t.Fatalf("unexpected audit event %+v", found)
	}
	if _, ok := found.Metadata["password"]; ok {
		t.Fatal("password leaked into audit metadata")
	}
}

func TestSignInWithoutSigningKey(t *testing.T) {
	env := newTestEnv(t, func(c *Config) {
		c.Session.PrivateKey = nil
	})
	env.register(t, "alice", "alice@example.com", "correct-password-123")

	_, err := env.engine.SignIn(context.Background(), SignInRequest{Username: "alice", Password: "correct-password-123"})
	if !errors.Is(err, ErrInvalidOperation) {
		t.Fatalf("expected ErrInvalidOperation, got %v", err)
	}
}
