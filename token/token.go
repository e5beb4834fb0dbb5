// Package token derives and compares email verification tokens.
//
// A token is the digest of the verification's email, creation time, salt and
// a pepper that only the recipient of the verification mail holds:
//
//	H(utf8(email) || big-endian int64(creation unix millis) || salt || pepper)
//
// Values and peppers travel base64url encoded without padding.
package token

import (
	"crypto/sha256"
	"crypto/sha512"
	"crypto/subtle"
	"encoding/base64"
	"encoding/binary"
	"errors"
	"fmt"
	"hash"
	"strings"
	"time"
)

// ErrInvalidOperation is returned when the configured hash algorithm is not
// supported.
var ErrInvalidOperation = errors.New("token: unsupported hash algorithm")

// ErrMalformed is returned when an encoded value is not valid base64url.
var ErrMalformed = errors.New("token: malformed encoding")

var encoding = base64.RawURLEncoding

// Source holds the stored inputs of a token derivation.
type Source struct {
	Email     string
	CreatedAt time.Time
	Salt      []byte
}

// Token is an encoded digest and the pepper it was derived with.
type Token struct {
	Value  string
	Pepper string
}

// Algorithm resolves a case-insensitive algorithm name.
func Algorithm(name string) (func() hash.Hash, error) {
	switch strings.ToUpper(strings.TrimSpace(name)) {
	case "SHA256":
		return sha256.New, nil
	case "SHA384":
		return sha512.New384, nil
	case "SHA512":
		return sha512.New, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrInvalidOperation, name)
	}
}

// Create derives the token for src and pepper with the named algorithm.
func Create(src Source, pepper []byte, algorithm string) (Token, error) {
	newHash, err := Algorithm(algorithm)
	if err != nil {
		return Token{}, err
	}

	h := newHash()
	h.Write([]byte(src.Email))
	var ts [8]byte
	binary.BigEndian.PutUint64(ts[:], uint64(src.CreatedAt.UnixMilli()))
	h.Write(ts[:])
	h.Write(src.Salt)
	h.Write(pepper)

	return Token{
		Value:  encoding.EncodeToString(h.Sum(nil)),
		Pepper: encoding.EncodeToString(pepper),
	}, nil
}

// DecodePepper decodes a pepper received from a client.
func DecodePepper(encoded string) ([]byte, error) {
	pepper, err := encoding.DecodeString(strings.TrimSpace(encoded))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	return pepper, nil
}

// Equal compares two encoded token values in constant time.
func Equal(a, b string) bool {
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}
