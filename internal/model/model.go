// Package model holds the account records and enumerations shared by the
// engine, its flows and the storage adapters.
package model

import (
	"errors"
	"fmt"
	"log/slog"
	"time"
)

var (
	// ErrNotFound is returned by stores when a record does not exist.
	ErrNotFound = errors.New("record not found")
	// ErrConflict is returned by stores when a uniqueness constraint would be violated.
	ErrConflict = errors.New("record conflicts with an existing record")
	// ErrInvalidEnumValue is returned by enum mappings for values they do not cover.
	ErrInvalidEnumValue = errors.New("invalid enum value")
)

// UserStatus is the lifecycle state of an account.
type UserStatus uint8

const (
	StatusOK UserStatus = iota
	StatusEmailNotVerified
	StatusPasswordChangeRequired
	StatusEmailNotVerifiedAndPasswordChangeRequired
	StatusSuspended
)

var statusNames = [...]string{
	StatusOK:                                       "OK",
	StatusEmailNotVerified:                         "EmailNotVerified",
	StatusPasswordChangeRequired:                   "PasswordChangeRequired",
	StatusEmailNotVerifiedAndPasswordChangeRequired: "EmailNotVerifiedAndPasswordChangeRequired",
	StatusSuspended:                                "Suspended",
}

func (s UserStatus) Valid() bool {
	return int(s) < len(statusNames)
}

func (s UserStatus) String() string {
	if !s.Valid() {
		return fmt.Sprintf("UserStatus(%d)", uint8(s))
	}
	return statusNames[s]
}

// ParseUserStatus resolves a status by its String form.
func ParseUserStatus(name string) (UserStatus, error) {
	for i, n := range statusNames {
		if n == name {
			return UserStatus(i), nil
		}
	}
	return 0, fmt.Errorf("%w: user status %q", ErrInvalidEnumValue, name)
}

// Purpose tells what a verification proves.
type Purpose uint8

const (
	PurposeEmailVerification Purpose = iota + 1
	PurposePasswordReset
)

func (p Purpose) Valid() bool {
	return p == PurposeEmailVerification || p == PurposePasswordReset
}

func (p Purpose) String() string {
	switch p {
	case PurposeEmailVerification:
		return "EmailVerification"
	case PurposePasswordReset:
		return "PasswordReset"
	default:
		return fmt.Sprintf("Purpose(%d)", uint8(p))
	}
}

// PasswordHash is the stored password credential of a user.
type PasswordHash struct {
	Hash           []byte
	Salt           []byte
	Version        string
	LastChangeDate time.Time
	ExpirationDate *time.Time
}

// ExpiredAt reports whether the password has an expiration date before now.
func (h PasswordHash) ExpiredAt(now time.Time) bool {
	return h.ExpirationDate != nil && h.ExpirationDate.Before(now)
}

// LogValue keeps key material out of log records.
func (h PasswordHash) LogValue() slog.Value {
	attrs := []slog.Attr{
		slog.String("version", h.Version),
		slog.Time("last_change", h.LastChangeDate),
	}
	if h.ExpirationDate != nil {
		attrs = append(attrs, slog.Time("expires", *h.ExpirationDate))
	}
	return slog.GroupValue(attrs...)
}

// User is an account record.
type User struct {
	ID           string
	Username     string
	Email        string
	DisplayName  string
	Status       UserStatus
	PasswordHash *PasswordHash
	CreatedAt    time.Time
}

// PersistentToken is a remember-me credential bound to one client id.
type PersistentToken struct {
	ClientID       string
	Hash           []byte
	ExpirationDate time.Time
}

// ExpiredAt reports whether the token is no longer usable at now.
func (t PersistentToken) ExpiredAt(now time.Time) bool {
	return !now.Before(t.ExpirationDate)
}

// LogValue keeps key material out of log records.
func (t PersistentToken) LogValue() slog.Value {
	return slog.GroupValue(
		slog.String("client_id", t.ClientID),
		slog.Time("expires", t.ExpirationDate),
	)
}

// Verification is a pending proof of email ownership or password reset.
// Only the salt is stored; the pepper exists solely in the mail sent to the user.
type Verification struct {
	ID             string
	UserID         string
	Email          string
	Purpose        Purpose
	CreationDate   time.Time
	Salt           []byte
	ExpirationDate *time.Time
}

// ActiveAt reports whether the verification can still be consumed at now.
func (v Verification) ActiveAt(now time.Time) bool {
	return v.ExpirationDate == nil || now.Before(*v.ExpirationDate)
}

// VerificationToken is handed to the mailer after a verification is created.
type VerificationToken struct {
	Email          string
	Purpose        Purpose
	Token          string
	Pepper         string
	ExpirationDate *time.Time
}
