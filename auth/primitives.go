package auth

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha1"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"hash"
	"strings"

	"golang.org/x/crypto/pbkdf2"
)

// Algorithm is a SCRAM hash function name as sent by the server.
type Algorithm string

// Supported hash functions.
const (
	SHA1   Algorithm = "sha-1"
	SHA256 Algorithm = "sha-256"
)

// ParseAlgorithm accepts a hash name case-insensitively.
func ParseAlgorithm(name string) (Algorithm, error) {
	switch a := Algorithm(strings.ToLower(strings.TrimSpace(name))); a {
	case SHA1, SHA256:
		return a, nil
	}
	return "", NewProtocolError("unsupported hash function: %q", name)
}

// New returns the hash constructor.
func (a Algorithm) New() func() hash.Hash {
	if a == SHA1 {
		return sha1.New
	}
	return sha256.New
}

// Size is the digest length in bytes.
func (a Algorithm) Size() int {
	if a == SHA1 {
		return sha1.Size
	}
	return sha256.Size
}

// Hash digests data.
func Hash(a Algorithm, data []byte) []byte {
	h := a.New()()
	h.Write(data)
	return h.Sum(nil)
}

// HMAC signs data with key.
func HMAC(a Algorithm, key, data []byte) []byte {
	mac := hmac.New(a.New(), key)
	mac.Write(data)
	return mac.Sum(nil)
}

// PBKDF2 derives a key of keyLen bytes.
func PBKDF2(a Algorithm, password, salt []byte, iter, keyLen int) []byte {
	return pbkdf2.Key(password, salt, iter, keyLen, a.New())
}

// Base64 encodes with the standard padded alphabet.
func Base64(data []byte) string {
	return base64.StdEncoding.EncodeToString(data)
}

// Base64URL encodes with the URL-safe alphabet and no padding.
func Base64URL(data []byte) string {
	return base64.RawURLEncoding.EncodeToString(data)
}

// DecodeBase64 accepts either alphabet, with or without padding.
func DecodeBase64(s string) ([]byte, error) {
	s = strings.TrimRight(strings.TrimSpace(s), "=")
	s = strings.NewReplacer("-", "+", "_", "/").Replace(s)
	data, err := base64.RawStdEncoding.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("decode base64: %w", err)
	}
	return data, nil
}

const nonceChars = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789+/"

// Nonce returns n random characters from the base64 alphabet.
func Nonce(n int) string {
	b := make([]byte, n)
	_, _ = rand.Read(b)
	for i := range b {
		b[i] = nonceChars[b[i]&63]
	}
	return string(b)
}

// XOR combines two equal-length byte strings.
func XOR(a, b []byte) ([]byte, error) {
	if len(a) != len(b) {
		return nil, fmt.Errorf("xor length mismatch: %d != %d", len(a), len(b))
	}
	out := make([]byte, len(a))
	for i := range a {
		out[i] = a[i] ^ b[i]
	}
	return out, nil
}
