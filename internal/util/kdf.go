package util

import (
	"crypto/sha256"
	"fmt"
	"io"

	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/hkdf"
)

// Argon2idParams are the cost parameters used to stretch a local storage
// passphrase. They are persisted next to the salt so that a later change of
// defaults does not orphan existing data.
type Argon2idParams struct {
	Time        uint32 `json:"time"`
	MemoryKiB   uint32 `json:"memory"`
	Parallelism uint8  `json:"parallelism"`
}

func DefaultArgon2idParams() Argon2idParams {
	return Argon2idParams{
		Time:        1,
		MemoryKiB:   64 * 1024,
		Parallelism: 4,
	}
}

// DeriveStorageKey stretches passphrase with Argon2id and expands the result
// with HKDF-SHA256 bound to info. The intermediate master key is wiped.
func DeriveStorageKey(passphrase string, salt []byte, params Argon2idParams, info string) ([]byte, error) {
	if passphrase == "" {
		return nil, fmt.Errorf("empty passphrase")
	}
	if len(salt) == 0 {
		return nil, fmt.Errorf("empty salt")
	}
	master := argon2.IDKey([]byte(NormalizeNFC(passphrase)), salt, params.Time, params.MemoryKiB, params.Parallelism, AESKeySize)
	defer WipeBytes(master)

	h := hkdf.New(sha256.New, master, salt, []byte(info))
	key := make([]byte, AESKeySize)
	if _, err := io.ReadFull(h, key); err != nil {
		return nil, fmt.Errorf("reading from HKDF: %w", err)
	}
	return key, nil
}
