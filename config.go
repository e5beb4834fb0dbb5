package accounts

import (
	"errors"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/studydeck/accounts/password"
	"github.com/studydeck/accounts/token"
)

// Config is the complete engine configuration. Field names double as YAML
// keys for cmd/accountsctl.
type Config struct {
	Password        PasswordConfig
	PersistentToken PersistentTokenConfig
	Verification    VerificationConfig
	SignIn          SignInConfig
	Session         SessionConfig
	Audit           AuditConfig
	Metrics         MetricsConfig
	Store           StoreConfig
}

/*
====================================
PASSWORD CONFIG
====================================
*/

// PasswordConfig selects the current hashing version and the password
// lifetime policy. Zero ages disable the corresponding check.
type PasswordConfig struct {
	CurrentVersion string        `validate:"required"`
	MinPasswordAge time.Duration `validate:"gte=0"`
	MaxPasswordAge time.Duration `validate:"gte=0"`
	PreventReuse   bool
	// CustomVersions are registered next to the built-in presets.
	CustomVersions []password.Version `validate:"dive"`
}

/*
====================================
PERSISTENT TOKEN CONFIG
====================================
*/

type PersistentTokenConfig struct {
	MaxTokenAge time.Duration `validate:"gt=0"`
}

/*
====================================
VERIFICATION CONFIG
====================================
*/

type VerificationConfig struct {
	HashAlgorithm      string        `validate:"required"`
	SaltLength         int           `validate:"gte=16,lte=1024"`
	PepperLength       int           `validate:"gte=16,lte=1024"`
	MinVerificationAge time.Duration `validate:"gte=0"`
	MaxVerificationAge time.Duration `validate:"gte=0"`
	ResendCooldown     time.Duration `validate:"gte=0"`
}

/*
====================================
SIGN-IN CONFIG
====================================
*/

// SignInConfig bounds password attempts per user in a fixed window.
// MaxPasswordAttempts of zero disables lockout.
type SignInConfig struct {
	MaxPasswordAttempts int           `validate:"gte=0"`
	AttemptWindow       time.Duration `validate:"gt=0"`
}

/*
====================================
SESSION CONFIG
====================================
*/

// SessionConfig configures session token signing. Without a PrivateKey the
// engine cannot issue sessions and sign-in fails with ErrInvalidOperation
// once the credentials are accepted.
type SessionConfig struct {
	TTL           time.Duration `validate:"gt=0"`
	SigningMethod string        `validate:"oneof=ed25519 hs256"`
	PrivateKey    []byte
	PublicKey     []byte
	Issuer        string
	Audience      string
	Leeway        time.Duration `validate:"gte=0,lte=2m"`
	KeyID         string
}

/*
====================================
AUDIT & METRICS CONFIG
====================================
*/

type AuditConfig struct {
	Enabled    bool
	BufferSize int `validate:"gte=0"`
	DropIfFull bool
}

type MetricsConfig struct {
	Enabled                 bool
	EnableLatencyHistograms bool
}

/*
====================================
STORE CONFIG
====================================
*/

// StoreConfig names the Redis key prefix shared by the document store and
// the rate cache, and bounds the non-cancelable continuation of multi-step
// operations.
type StoreConfig struct {
	KeyPrefix         string        `validate:"required,excludesall=:"`
	UnitOfWorkTimeout time.Duration `validate:"gt=0"`
}

// DefaultConfig returns a configuration suitable for production with the
// exception of the session signing key, which must be supplied.
func DefaultConfig() Config {
	return Config{
		Password: PasswordConfig{
			CurrentVersion: password.V3.Name,
			MinPasswordAge: 0,
			MaxPasswordAge: 0,
			PreventReuse:   true,
		},
		PersistentToken: PersistentTokenConfig{
			MaxTokenAge: 30 * 24 * time.Hour,
		},
		Verification: VerificationConfig{
			HashAlgorithm:      "SHA512",
			SaltLength:         32,
			PepperLength:       32,
			MinVerificationAge: time.Minute,
			MaxVerificationAge: 24 * time.Hour,
			ResendCooldown:     time.Minute,
		},
		SignIn: SignInConfig{
			MaxPasswordAttempts: 10,
			AttemptWindow:       15 * time.Minute,
		},
		Session: SessionConfig{
			TTL:           15 * time.Minute,
			SigningMethod: "ed25519",
			Issuer:        "studydeck-accounts",
		},
		Audit: AuditConfig{
			Enabled:    false,
			BufferSize: 1024,
			DropIfFull: true,
		},
		Metrics: MetricsConfig{
			Enabled:                 true,
			EnableLatencyHistograms: false,
		},
		Store: StoreConfig{
			KeyPrefix:         "acct",
			UnitOfWorkTimeout: 30 * time.Second,
		},
	}
}

var configValidator = validator.New(validator.WithRequiredStructEnabled())

// Validate checks field constraints and cross-field rules. It does not
// resolve CurrentVersion against the registry; Build does.
func (c *Config) Validate() error {
	if err := configValidator.Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	if _, err := token.Algorithm(c.Verification.HashAlgorithm); err != nil {
		return fmt.Errorf("invalid config: Verification.HashAlgorithm: %w", err)
	}
	if c.Password.MaxPasswordAge > 0 && c.Password.MinPasswordAge >= c.Password.MaxPasswordAge {
		return errors.New("invalid config: Password.MinPasswordAge must be below MaxPasswordAge")
	}
	if c.Verification.MaxVerificationAge > 0 && c.Verification.MinVerificationAge >= c.Verification.MaxVerificationAge {
		return errors.New("invalid config: Verification.MinVerificationAge must be below MaxVerificationAge")
	}
	return nil
}

func cloneConfig(cfg Config) Config {
	out := cfg
	out.Password.CustomVersions = append([]password.Version(nil), cfg.Password.CustomVersions...)
	out.Session.PrivateKey = cloneBytes(cfg.Session.PrivateKey)
	out.Session.PublicKey = cloneBytes(cfg.Session.PublicKey)
	return out
}

func cloneBytes(b []byte) []byte {
	if b == nil {
		return nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}
