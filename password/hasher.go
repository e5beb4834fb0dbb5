package password

import (
	"crypto/rand"
	"fmt"
	"io"
	"strings"
)

// Result is the outcome of a password verification.
type Result uint8

const (
	NotVerified Result = iota
	Verified
	VerifiedAndRehashRequired
)

func (r Result) String() string {
	switch r {
	case NotVerified:
		return "NotVerified"
	case Verified:
		return "Verified"
	case VerifiedAndRehashRequired:
		return "VerifiedAndRehashRequired"
	default:
		return fmt.Sprintf("Result(%d)", uint8(r))
	}
}

// Hash is a derived key together with the salt and version that produced it.
type Hash struct {
	Hash    []byte
	Salt    []byte
	Version string
}

// Hasher hashes with one current version and verifies against any version
// known to its registry.
type Hasher struct {
	registry *Registry
	current  Version
	random   io.Reader
}

// NewHasher returns a hasher whose current version is the one registered
// under current. A nil registry uses the built-in presets; a nil random
// source uses crypto/rand.
func NewHasher(registry *Registry, current string, random io.Reader) (*Hasher, error) {
	if registry == nil {
		registry = NewRegistry()
	}
	v, err := registry.Resolve(current)
	if err != nil {
		return nil, err
	}
	if random == nil {
		random = rand.Reader
	}
	return &Hasher{registry: registry, current: v, random: random}, nil
}

// Current returns the version used for new hashes.
func (h *Hasher) Current() Version {
	return h.current
}

// Resolve looks a version up by name.
func (h *Hasher) Resolve(name string) (Version, error) {
	return h.registry.Resolve(name)
}

// HashPassword derives a key from password. A nil salt is replaced by
// version.SaltLength random bytes; a nil version selects the current one.
func (h *Hasher) HashPassword(password string, salt []byte, version *Version) (Hash, error) {
	if strings.TrimSpace(password) == "" {
		return Hash{}, fmt.Errorf("%w: password is blank", ErrInvalidArgument)
	}

	v := h.current
	if version != nil {
		v = *version
		if err := v.validate(); err != nil {
			return Hash{}, err
		}
	}

	if salt == nil {
		salt = make([]byte, v.SaltLength)
		if _, err := io.ReadFull(h.random, salt); err != nil {
			return Hash{}, fmt.Errorf("password: read salt: %w", err)
		}
	}

	return Hash{
		Hash:    v.derive([]byte(password), salt),
		Salt:    salt,
		Version: v.Name,
	}, nil
}

// VerifyPassword recomputes the key for candidate with the given version and
// salt and compares it with expected in constant time. A match produced by a
// version other than the current one reports VerifiedAndRehashRequired.
func (h *Hasher) VerifyPassword(version Version, salt, expected []byte, candidate string) (Result, error) {
	if strings.TrimSpace(candidate) == "" {
		return NotVerified, fmt.Errorf("%w: password is blank", ErrInvalidArgument)
	}
	if err := version.validate(); err != nil {
		return NotVerified, err
	}

	computed := version.derive([]byte(candidate), salt)
	if !ConstantTimeEqual(computed, expected) {
		return NotVerified, nil
	}
	if version.Name != h.current.Name {
		return VerifiedAndRehashRequired, nil
	}
	return Verified, nil
}
