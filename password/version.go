package password

import (
	"crypto/sha1"
	"crypto/sha256"
	"crypto/sha512"
	"errors"
	"fmt"
	"hash"
	"sort"
	"strings"
	"sync"

	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/pbkdf2"
)

// ErrInvalidArgument is returned for blank passwords, unknown version names
// and invalid version parameters.
var ErrInvalidArgument = errors.New("password: invalid argument")

// Algorithm identifies the key derivation function of a Version.
type Algorithm uint8

const (
	PBKDF2SHA1 Algorithm = iota + 1
	PBKDF2SHA256
	PBKDF2SHA512
	Argon2id
)

func (a Algorithm) String() string {
	switch a {
	case PBKDF2SHA1:
		return "pbkdf2-sha1"
	case PBKDF2SHA256:
		return "pbkdf2-sha256"
	case PBKDF2SHA512:
		return "pbkdf2-sha512"
	case Argon2id:
		return "argon2id"
	default:
		return fmt.Sprintf("algorithm(%d)", uint8(a))
	}
}

// Version is a named, immutable hashing parameter set.
//
// Iterations is the PBKDF2 iteration count or the Argon2 time cost. Memory
// (KiB) and Threads are only used by Argon2id.
type Version struct {
	Name       string
	Algorithm  Algorithm
	Iterations uint32
	Memory     uint32
	Threads    uint8
	KeyLength  uint32
	SaltLength uint32
}

var (
	V1 = Version{Name: "V1", Algorithm: PBKDF2SHA1, Iterations: 10_000, KeyLength: 32, SaltLength: 16}
	V2 = Version{Name: "V2", Algorithm: PBKDF2SHA256, Iterations: 210_000, KeyLength: 32, SaltLength: 16}
	V3 = Version{Name: "V3", Algorithm: PBKDF2SHA512, Iterations: 210_000, KeyLength: 64, SaltLength: 32}
	A1 = Version{Name: "A1", Algorithm: Argon2id, Iterations: 3, Memory: 64 * 1024, Threads: 2, KeyLength: 32, SaltLength: 16}
)

// Presets returns the built-in versions in registration order.
func Presets() []Version {
	return []Version{V1, V2, V3, A1}
}

func (v Version) validate() error {
	if strings.TrimSpace(v.Name) == "" {
		return fmt.Errorf("%w: version name is empty", ErrInvalidArgument)
	}
	if v.Iterations == 0 {
		return fmt.Errorf("%w: version %s has zero iterations", ErrInvalidArgument, v.Name)
	}
	if v.KeyLength == 0 || v.SaltLength == 0 {
		return fmt.Errorf("%w: version %s has zero key or salt length", ErrInvalidArgument, v.Name)
	}
	switch v.Algorithm {
	case PBKDF2SHA1, PBKDF2SHA256, PBKDF2SHA512:
	case Argon2id:
		if v.Memory == 0 || v.Threads == 0 {
			return fmt.Errorf("%w: version %s needs memory and threads", ErrInvalidArgument, v.Name)
		}
	default:
		return fmt.Errorf("%w: version %s has unknown algorithm %s", ErrInvalidArgument, v.Name, v.Algorithm)
	}
	return nil
}

func (v Version) derive(password, salt []byte) []byte {
	switch v.Algorithm {
	case Argon2id:
		return argon2.IDKey(password, salt, v.Iterations, v.Memory, v.Threads, v.KeyLength)
	default:
		return pbkdf2.Key(password, salt, int(v.Iterations), int(v.KeyLength), v.prf())
	}
}

func (v Version) prf() func() hash.Hash {
	switch v.Algorithm {
	case PBKDF2SHA1:
		return sha1.New
	case PBKDF2SHA512:
		return sha512.New
	default:
		return sha256.New
	}
}

// Registry maps version names to parameter sets. A name, once registered,
// always resolves to the same parameters.
type Registry struct {
	mu       sync.RWMutex
	versions map[string]Version
}

// NewRegistry returns a registry holding the built-in presets.
func NewRegistry() *Registry {
	r := &Registry{versions: make(map[string]Version, 4)}
	for _, v := range Presets() {
		r.versions[v.Name] = v
	}
	return r
}

// Register adds a custom version. Registering an identical parameter set
// under an existing name is a no-op; reusing a name for different
// parameters fails.
func (r *Registry) Register(v Version) error {
	if err := v.validate(); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if existing, ok := r.versions[v.Name]; ok {
		if existing != v {
			return fmt.Errorf("%w: version name %q is already registered", ErrInvalidArgument, v.Name)
		}
		return nil
	}
	r.versions[v.Name] = v
	return nil
}

// Resolve returns the version registered under name.
func (r *Registry) Resolve(name string) (Version, error) {
	r.mu.RLock()
	v, ok := r.versions[name]
	r.mu.RUnlock()
	if !ok {
		return Version{}, fmt.Errorf("%w: unknown version %q", ErrInvalidArgument, name)
	}
	return v, nil
}

// Names lists registered version names in lexical order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	names := make([]string, 0, len(r.versions))
	for name := range r.versions {
		names = append(names, name)
	}
	r.mu.RUnlock()
	sort.Strings(names)
	return names
}
