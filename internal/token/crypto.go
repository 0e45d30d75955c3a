package token

import (
	"crypto/cipher"
	"crypto/rand"
	"encoding/json"
	"fmt"
	"io"

	"golang.org/x/crypto/chacha20poly1305"
)

func newAEAD(key []byte) (cipher.AEAD, error) {
	if len(key) != chacha20poly1305.KeySize {
		return nil, fmt.Errorf("%w: encryption key must be %d bytes", ErrInvalidInput, chacha20poly1305.KeySize)
	}
	return chacha20poly1305.NewX(key)
}

func sealPayload(aead cipher.AEAD, p payload) ([]byte, error) {
	plaintext, err := json.Marshal(p)
	if err != nil {
		return nil, err
	}
	nonce := make([]byte, aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, err
	}
	return aead.Seal(nonce, nonce, plaintext, nil), nil
}

func openPayload(aead cipher.AEAD, sealed []byte) (payload, error) {
	if len(sealed) < aead.NonceSize() {
		return payload{}, fmt.Errorf("%w: sealed payload too short", ErrInvalidInput)
	}
	nonce, ciphertext := sealed[:aead.NonceSize()], sealed[aead.NonceSize():]
	plaintext, err := aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return payload{}, fmt.Errorf("decrypt credential: %w", err)
	}
	var p payload
	if err := json.Unmarshal(plaintext, &p); err != nil {
		return payload{}, err
	}
	return p, nil
}
