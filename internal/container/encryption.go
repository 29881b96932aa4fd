/*
 * Copyright (c) 2026 Firefly Software Solutions Inc.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package container

import (
	"crypto/rand"
	"fmt"

	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/chacha20poly1305"

	"github.com/google/uuid"

	scdberrors "scdb/internal/errors"
)

// argon2 tuning. These are deliberately modest (this runs once per Open,
// not per block) but still far beyond a fast KDF.
const (
	argon2Time    = 3
	argon2Memory  = 64 * 1024 // KiB
	argon2Threads = 2
	argon2KeyLen  = chacha20poly1305.KeySize
)

// encryptor seals/opens block payloads at rest with ChaCha20-Poly1305,
// keyed by an Argon2id-derived key. The instance UUID doubles as the KDF
// salt so two databases sharing a passphrase never share a key.
type encryptor struct {
	aead interface {
		Seal(dst, nonce, plaintext, additionalData []byte) []byte
		Open(dst, nonce, ciphertext, additionalData []byte) ([]byte, error)
		NonceSize() int
		Overhead() int
	}
}

func newEncryptor(passphrase string, instance uuid.UUID) (*encryptor, error) {
	if passphrase == "" {
		return nil, scdberrors.InvariantViolation("container: enableEncryption set without a passphrase")
	}
	salt, _ := instance.MarshalBinary()
	key := argon2.IDKey([]byte(passphrase), salt, argon2Time, argon2Memory, argon2Threads, argon2KeyLen)

	aead, err := chacha20poly1305.New(key)
	if err != nil {
		return nil, fmt.Errorf("container: init cipher: %w", err)
	}
	return &encryptor{aead: aead}, nil
}

// seal returns nonce||ciphertext||tag.
func (e *encryptor) seal(plaintext []byte) ([]byte, error) {
	nonce := make([]byte, e.aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("container: generate nonce: %w", err)
	}
	out := e.aead.Seal(nonce, nonce, plaintext, nil)
	return out, nil
}

// open reverses seal.
func (e *encryptor) open(sealed []byte) ([]byte, error) {
	n := e.aead.NonceSize()
	if len(sealed) < n {
		return nil, scdberrors.Corruption("container: sealed payload shorter than nonce")
	}
	nonce, ciphertext := sealed[:n], sealed[n:]
	return e.aead.Open(nil, nonce, ciphertext, nil)
}
