// Package cdn undoes the transforms the audio CDN applies to stored tracks:
// AES-CTR encryption of the payload and stripped Ogg/Vorbis header fields.
package cdn

import (
	"crypto/aes"
	"crypto/cipher"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
)

// ErrInvalidKey reports a key that is not hex or not a valid AES key length.
var ErrInvalidKey = errors.New("invalid decryption key")

// audioIV is the initial counter block the CDN uses for every track.
var audioIV = [aes.BlockSize]byte{
	0x72, 0xe0, 0x67, 0xfb, 0xdd, 0xcb, 0xcf, 0x77,
	0xeb, 0xe8, 0xbc, 0x64, 0x3f, 0x63, 0x0d, 0x93,
}

// Decrypt returns the plaintext of ciphertext under hexKey. The input slice
// is not modified.
func Decrypt(ciphertext []byte, hexKey string) ([]byte, error) {
	block, err := newCipher(hexKey)
	if err != nil {
		return nil, err
	}

	iv := audioIV
	plain := make([]byte, len(ciphertext))
	cipher.NewCTR(block, iv[:]).XORKeyStream(plain, ciphertext)
	return plain, nil
}

// ValidateKey reports whether hexKey would be accepted by Decrypt.
func ValidateKey(hexKey string) error {
	_, err := newCipher(hexKey)
	return err
}

func newCipher(hexKey string) (cipher.Block, error) {
	key, err := hex.DecodeString(strings.TrimSpace(hexKey))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidKey, err)
	}
	switch len(key) {
	case 16, 24, 32:
	default:
		return nil, fmt.Errorf("%w: %d bytes", ErrInvalidKey, len(key))
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidKey, err)
	}
	return block, nil
}
