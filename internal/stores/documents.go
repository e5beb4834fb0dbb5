package stores

import (
	"time"

	"github.com/pkg/errors"

	"github.com/studydeck/accounts/internal/model"
)

var (
	// ErrNotFound aliases the shared not-found sentinel so callers can match
	// either name.
	ErrNotFound = model.ErrNotFound
	// ErrConflict is returned when a username or email is already taken.
	ErrConflict = model.ErrConflict
)

// UserDocument is the persisted form of a user, shared by the Redis and
// Postgres adapters.
type UserDocument struct {
	ID           string                `json:"id"`
	Username     string                `json:"username"`
	Email        string                `json:"email"`
	DisplayName  string                `json:"displayName,omitempty"`
	Status       uint8                 `json:"status"`
	PasswordHash *PasswordHashDocument `json:"passwordHash,omitempty"`
	CreatedAt    time.Time             `json:"createdAt"`
}

type PasswordHashDocument struct {
	Hash           []byte     `json:"hash"`
	Salt           []byte     `json:"salt"`
	Version        string     `json:"version"`
	LastChangeDate time.Time  `json:"lastChangeDate"`
	ExpirationDate *time.Time `json:"expirationDate,omitempty"`
}

type PersistentTokenDocument struct {
	ClientID       string    `json:"clientId"`
	Hash           []byte    `json:"hash"`
	ExpirationDate time.Time `json:"expirationDate"`
}

type VerificationDocument struct {
	ID             string     `json:"id"`
	UserID         string     `json:"userId"`
	Email          string     `json:"email"`
	Purpose        uint8      `json:"purpose"`
	CreationDate   time.Time  `json:"creationDate"`
	Salt           []byte     `json:"salt"`
	ExpirationDate *time.Time `json:"expirationDate,omitempty"`
}

func NewUserDocument(u model.User) UserDocument {
	return UserDocument{
		ID:           u.ID,
		Username:     u.Username,
		Email:        u.Email,
		DisplayName:  u.DisplayName,
		Status:       uint8(u.Status),
		PasswordHash: NewPasswordHashDocument(u.PasswordHash),
		CreatedAt:    u.CreatedAt,
	}
}

func (d UserDocument) Model() (*model.User, error) {
	status := model.UserStatus(d.Status)
	if !status.Valid() {
		return nil, errors.Wrapf(model.ErrInvalidEnumValue, "user %s has status %d", d.ID, d.Status)
	}
	u := &model.User{
		ID:          d.ID,
		Username:    d.Username,
		Email:       d.Email,
		DisplayName: d.DisplayName,
		Status:      status,
		CreatedAt:   d.CreatedAt,
	}
	if d.PasswordHash != nil {
		h := d.PasswordHash.Model()
		u.PasswordHash = &h
	}
	return u, nil
}

func NewPasswordHashDocument(h *model.PasswordHash) *PasswordHashDocument {
	if h == nil {
		return nil
	}
	return &PasswordHashDocument{
		Hash:           h.Hash,
		Salt:           h.Salt,
		Version:        h.Version,
		LastChangeDate: h.LastChangeDate,
		ExpirationDate: h.ExpirationDate,
	}
}

func (d PasswordHashDocument) Model() model.PasswordHash {
	return model.PasswordHash{
		Hash:           d.Hash,
		Salt:           d.Salt,
		Version:        d.Version,
		LastChangeDate: d.LastChangeDate,
		ExpirationDate: d.ExpirationDate,
	}
}

func NewPersistentTokenDocument(t model.PersistentToken) PersistentTokenDocument {
	return PersistentTokenDocument{ClientID: t.ClientID, Hash: t.Hash, ExpirationDate: t.ExpirationDate}
}

func (d PersistentTokenDocument) Model() model.PersistentToken {
	return model.PersistentToken{ClientID: d.ClientID, Hash: d.Hash, ExpirationDate: d.ExpirationDate}
}

func NewVerificationDocument(v model.Verification) VerificationDocument {
	return VerificationDocument{
		ID:             v.ID,
		UserID:         v.UserID,
		Email:          v.Email,
		Purpose:        uint8(v.Purpose),
		CreationDate:   v.CreationDate,
		Salt:           v.Salt,
		ExpirationDate: v.ExpirationDate,
	}
}

func (d VerificationDocument) Model() (*model.Verification, error) {
	purpose := model.Purpose(d.Purpose)
	if !purpose.Valid() {
		return nil, errors.Wrapf(model.ErrInvalidEnumValue, "verification %s has purpose %d", d.ID, d.Purpose)
	}
	return &model.Verification{
		ID:             d.ID,
		UserID:         d.UserID,
		Email:          d.Email,
		Purpose:        purpose,
		CreationDate:   d.CreationDate,
		Salt:           d.Salt,
		ExpirationDate: d.ExpirationDate,
	}, nil
}
