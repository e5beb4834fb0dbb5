package accounts

import (
	"testing"
	"time"
)

func TestDefaultConfigIsValid(t *testing.T) {
	cfg := DefaultConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name      string
		mutate    func(*Config)
		wantValid bool
	}{
		{
			name:      "session leeway valid",
			mutate:    func(c *Config) { c.Session.Leeway = 45 * time.Second },
			wantValid: true,
		},
		{
			name:      "session leeway too large",
			mutate:    func(c *Config) { c.Session.Leeway = 3 * time.Minute },
			wantValid: false,
		},
		{
			name:      "session signing hs256",
			mutate:    func(c *Config) { c.Session.SigningMethod = "hs256" },
			wantValid: true,
		},
		{
			name:      "session signing unknown",
			mutate:    func(c *Config) { c.Session.SigningMethod = "rs256" },
			wantValid: false,
		},
		{
			name:      "session ttl zero",
			mutate:    func(c *Config) { c.Session.TTL = 0 },
			wantValid: false,
		},
		{
			name:      "password version blank",
			mutate:    func(c *Config) { c.Password.CurrentVersion = "" },
			wantValid: false,
		},
		{
			name: "password min age above max age",
			mutate: func(c *Config) {
				c.Password.MinPasswordAge = 2 * time.Hour
				c.Password.MaxPasswordAge = time.Hour
			},
			wantValid: false,
		},
		{
			name:      "password negative max age",
			mutate:    func(c *Config) { c.Password.MaxPasswordAge = -time.Second },
			wantValid: false,
		},
		{
			name:      "verification algorithm lower case",
			mutate:    func(c *Config) { c.Verification.HashAlgorithm = "sha256" },
			wantValid: true,
		},
		{
			name:      "verification algorithm unknown",
			mutate:    func(c *Config) { c.Verification.HashAlgorithm = "SHA1" },
			wantValid: false,
		},
		{
			name:      "verification salt too short",
			mutate:    func(c *Config) { c.Verification.SaltLength = 8 },
			wantValid: false,
		},
		{
			name:      "verification pepper too long",
			mutate:    func(c *Config) { c.Verification.PepperLength = 2048 },
			wantValid: false,
		},
		{
			name: "verification min age above max age",
			mutate: func(c *Config) {
				c.Verification.MinVerificationAge = 48 * time.Hour
			},
			wantValid: false,
		},
		{
			name:      "verification without max age",
			mutate:    func(c *Config) { c.Verification.MaxVerificationAge = 0 },
			wantValid: true,
		},
		{
			name:      "persistent token age zero",
			mutate:    func(c *Config) { c.PersistentToken.MaxTokenAge = 0 },
			wantValid: false,
		},
		{
			name:      "sign-in lockout disabled",
			mutate:    func(c *Config) { c.SignIn.MaxPasswordAttempts = 0 },
			wantValid: true,
		},
		{
			name:      "sign-in negative attempts",
			mutate:    func(c *Config) { c.SignIn.MaxPasswordAttempts = -1 },
			wantValid: false,
		},
		{
			name:      "sign-in window zero",
			mutate:    func(c *Config) { c.SignIn.AttemptWindow = 0 },
			wantValid: false,
		},
		{
			name:      "store prefix with colon",
			mutate:    func(c *Config) { c.Store.KeyPrefix = "a:b" },
			wantValid: false,
		},
		{
			name:      "store prefix blank",
			mutate:    func(c *Config) { c.Store.KeyPrefix = "" },
			wantValid: false,
		},
		{
			name:      "unit of work timeout zero",
			mutate:    func(c *Config) { c.Store.UnitOfWorkTimeout = 0 },
			wantValid: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.wantValid && err != nil {
				t.Fatalf("expected valid, got %v", err)
			}
			if !tt.wantValid && err == nil {
				t.Fatal("expected invalid config")
			}
		})
	}
}

func TestWithConfigCopiesKeys(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Session.PrivateKey = []byte("0123456789abcdef0123456789abcdef")

	b := New().WithConfig(cfg)
	cfg.Session.PrivateKey[0] = 'X'

	if b.config.Session.PrivateKey[0] != '0' {
		t.Fatal("builder shares the caller's key slice")
	}
}
