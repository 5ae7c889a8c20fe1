package auth

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/argon2"
)

var (
	ErrInvalidSecretHash       = errors.New("auth: invalid secret hash format")
	ErrIncompatibleHashVersion = errors.New("auth: incompatible argon2 hash version")
	errSecretMismatch          = errors.New("auth: secret mismatch")
)

// DigestSecret computes the cache's default salted hash: the secret
// concatenated with the user's stable identifier, digested with SHA-256.
func DigestSecret(secret, userID string) string {
	sum := sha256.Sum256([]byte(secret + userID))
	return hex.EncodeToString(sum[:])
}

// VerifySecret compares the supplied secret against a cached hash using a
// constant-time comparison. Two encodings are supported: argon2id encoded
// hashes as delivered by the remote service, and the local digest scheme.
func VerifySecret(storedHash, secret, userID string) error {
	if storedHash == "" {
		return errSecretMismatch
	}
	if strings.HasPrefix(storedHash, "$argon2id$") {
		return verifyArgon2id(storedHash, secret)
	}

	computed := DigestSecret(secret, userID)
	if subtle.ConstantTimeCompare([]byte(computed), []byte(storedHash)) == 1 {
		return nil
	}
	return errSecretMismatch
}

type argon2idParams struct {
	memory      uint32
	iterations  uint32
	parallelism uint8
}

// verifyArgon2id checks a secret against a standard
// $argon2id$v=19$m=...,t=...,p=...$salt$hash encoding.
func verifyArgon2id(encoded, secret string) error {
	parts := strings.Split(encoded, "$")
	if len(parts) != 6 {
		return ErrInvalidSecretHash
	}
	if parts[1] != "argon2id" {
		return ErrInvalidSecretHash
	}

	var version int
	if _, err := fmt.Sscanf(parts[2], "v=%d", &version); err != nil {
		return ErrInvalidSecretHash
	}
	if version != argon2.Version {
		return ErrIncompatibleHashVersion
	}

	var params argon2idParams
	if _, err := fmt.Sscanf(parts[3], "m=%d,t=%d,p=%d", &params.memory, &params.iterations, &params.parallelism); err != nil {
		return ErrInvalidSecretHash
	}

	salt, err := base64.RawStdEncoding.DecodeString(parts[4])
	if err != nil {
		return ErrInvalidSecretHash
	}
	expected, err := base64.RawStdEncoding.DecodeString(parts[5])
	if err != nil {
		return ErrInvalidSecretHash
	}

	computed := argon2.IDKey([]byte(secret), salt, params.iterations, params.memory, params.parallelism, uint32(len(expected)))
	if subtle.ConstantTimeCompare(expected, computed) == 1 {
		return nil
	}
	return errSecretMismatch
}
