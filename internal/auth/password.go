package auth

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"fmt"
	"strconv"
	"strings"

	"golang.org/x/crypto/argon2"
)

// Argon2id parameters for HashSecret.
const (
	argonTime    = 3
	argonMemory  = 64 * 1024
	argonThreads = 1
	argonKeyLen  = 32
	argonSaltLen = 16

	phcPrefix = "$argon2id$"
)

// HashSecret hashes a user secret with Argon2id in PHC string format:
// $argon2id$v=19$m=65536,t=3,p=1$<salt>$<hash>. The result can be stored
// in the configuration instead of the plain secret.
func HashSecret(secret string) (string, error) {
	salt := make([]byte, argonSaltLen)
	if _, err := rand.Read(salt); err != nil {
		return "", fmt.Errorf("generating salt: %w", err)
	}

	key := argon2.IDKey([]byte(secret), salt, argonTime, argonMemory, argonThreads, argonKeyLen)

	return fmt.Sprintf("%sv=%d$m=%d,t=%d,p=%d$%s$%s",
		phcPrefix, argon2.Version,
		argonMemory, argonTime, argonThreads,
		base64.RawStdEncoding.EncodeToString(salt),
		base64.RawStdEncoding.EncodeToString(key),
	), nil
}

// VerifySecret reports whether candidate matches stored. A stored value
// starting with "$argon2id$" is treated as a PHC hash; anything else is a
// plain secret compared in constant time.
func VerifySecret(candidate, stored string) (bool, error) {
	if !strings.HasPrefix(stored, phcPrefix) {
		return subtle.ConstantTimeCompare([]byte(candidate), []byte(stored)) == 1, nil
	}

	h, err := parsePHC(stored)
	if err != nil {
		return false, err
	}
	//nolint:gosec // G115: key length always fits uint32
	key := argon2.IDKey([]byte(candidate), h.salt, h.time, h.memory, h.threads, uint32(len(h.key)))
	return subtle.ConstantTimeCompare(key, h.key) == 1, nil
}

type phcHash struct {
	time    uint32
	memory  uint32
	threads uint8
	salt    []byte
	key     []byte
}

// parsePHC decodes "$argon2id$v=19$m=..,t=..,p=..$salt$key".
func parsePHC(s string) (phcHash, error) {
	var h phcHash

	fields := strings.Split(strings.TrimPrefix(s, phcPrefix), "$")
	if len(fields) != 4 { //nolint:mnd // version, params, salt, key
		return h, fmt.Errorf("invalid PHC hash format")
	}
	if fields[0] != "v="+strconv.Itoa(argon2.Version) {
		return h, fmt.Errorf("unsupported argon2 version %q", fields[0])
	}

	for _, kv := range strings.Split(fields[1], ",") {
		k, v, _ := strings.Cut(kv, "=")
		n, err := strconv.ParseUint(v, 10, 32)
		if err != nil {
			return h, fmt.Errorf("parsing parameter %q: %w", kv, err)
		}
		switch k {
		case "m":
			h.memory = uint32(n)
		case "t":
			h.time = uint32(n)
		case "p":
			if n > 255 { //nolint:mnd // argon2 lanes are a uint8
				return h, fmt.Errorf("parallelism %d out of range", n)
			}
			h.threads = uint8(n)
		default:
			return h, fmt.Errorf("unknown parameter %q", k)
		}
	}
	if h.memory == 0 || h.time == 0 || h.threads == 0 {
		return h, fmt.Errorf("incomplete argon2 parameters %q", fields[1])
	}

	var err error
	if h.salt, err = base64.RawStdEncoding.DecodeString(fields[2]); err != nil {
		return h, fmt.Errorf("decoding salt: %w", err)
	}
	if h.key, err = base64.RawStdEncoding.DecodeString(fields[3]); err != nil {
		return h, fmt.Errorf("decoding hash: %w", err)
	}
	return h, nil
}
