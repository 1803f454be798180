package crypto

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrBadKey covers a wrong-length key at init and a wrong key at decrypt
	// (surfacing as a padding or tag failure).
	ErrBadKey = errors.New("bad encryption key")
	// ErrBadCiphertext covers any ciphertext that is not one of the two
	// recognized shapes.
	ErrBadCiphertext = errors.New("bad ciphertext")
)

const (
	cbcIVSize   = aes.BlockSize
	gcmIVSize   = 12
	gcmTagSize  = 16
	keySize     = 32
	hexKeyChars = keySize * 2
)

// Encryptor encrypts credential payloads at rest.
//
// The wire format is ASCII hex groups separated by colons:
//
//	HEX(16-byte IV) ":" HEX(AES-256-CBC ciphertext)            (default)
//	HEX(12-byte IV) ":" HEX(AES-256-GCM ciphertext) ":" HEX(tag)
//
// Both shapes are accepted on read; the three-group GCM form is written only
// when the encryptor is constructed WithGCM.
type Encryptor struct {
	key    []byte
	useGCM bool
}

type Option func(*Encryptor)

// WithGCM switches writes to the authenticated three-group format.
func WithGCM() Option {
	return func(e *Encryptor) { e.useGCM = true }
}

// NewEncryptor builds an encryptor from a 64-hex-character key.
func NewEncryptor(hexKey string, opts ...Option) (*Encryptor, error) {
	if len(hexKey) != hexKeyChars {
		return nil, fmt.Errorf("%w: key must be %d hex characters, got %d", ErrBadKey, hexKeyChars, len(hexKey))
	}
	key, err := hex.DecodeString(hexKey)
	if err != nil {
		return nil, fmt.Errorf("%w: key is not valid hex", ErrBadKey)
	}

	e := &Encryptor{key: key}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

func (e *Encryptor) Encrypt(plaintext []byte) (string, error) {
	if e.useGCM {
		return e.encryptGCM(plaintext)
	}
	return e.encryptCBC(plaintext)
}

func (e *Encryptor) Decrypt(ciphertext string) ([]byte, error) {
	parts := strings.Split(ciphertext, ":")
	switch len(parts) {
	case 2:
		return e.decryptCBC(parts[0], parts[1])
	case 3:
		return e.decryptGCM(parts[0], parts[1], parts[2])
	default:
		return nil, fmt.Errorf("%w: expected 2 or 3 hex groups, got %d", ErrBadCiphertext, len(parts))
	}
}

func (e *Encryptor) encryptCBC(plaintext []byte) (string, error) {
	block, err := aes.NewCipher(e.key)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrBadKey, err)
	}

	iv := make([]byte, cbcIVSize)
	if _, err := rand.Read(iv); err != nil {
		return "", err
	}

	padded := pkcs7Pad(plaintext, aes.BlockSize)
	out := make([]byte, len(padded))
	cipher.NewCBCEncrypter(block, iv).CryptBlocks(out, padded)

	return hex.EncodeToString(iv) + ":" + hex.EncodeToString(out), nil
}

func (e *Encryptor) decryptCBC(hexIV, hexCipher string) ([]byte, error) {
	iv, err := hex.DecodeString(hexIV)
	if err != nil || len(iv) != cbcIVSize {
		return nil, fmt.Errorf("%w: IV must be %d hex characters", ErrBadCiphertext, cbcIVSize*2)
	}
	data, err := hex.DecodeString(hexCipher)
	if err != nil || len(data) == 0 || len(data)%aes.BlockSize != 0 {
		return nil, fmt.Errorf("%w: ciphertext is not whole AES blocks", ErrBadCiphertext)
	}

	block, err := aes.NewCipher(e.key)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadKey, err)
	}

	out := make([]byte, len(data))
	cipher.NewCBCDecrypter(block, iv).CryptBlocks(out, data)

	plaintext, err := pkcs7Unpad(out, aes.BlockSize)
	if err != nil {
		// Invalid padding almost always means the key is wrong.
		return nil, ErrBadKey
	}
	return plaintext, nil
}

func (e *Encryptor) encryptGCM(plaintext []byte) (string, error) {
	aead, err := e.newGCM()
	if err != nil {
		return "", err
	}

	iv := make([]byte, gcmIVSize)
	if _, err := rand.Read(iv); err != nil {
		return "", err
	}

	sealed := aead.Seal(nil, iv, plaintext, nil)
	body := sealed[:len(sealed)-gcmTagSize]
	tag := sealed[len(sealed)-gcmTagSize:]

	return hex.EncodeToString(iv) + ":" + hex.EncodeToString(body) + ":" + hex.EncodeToString(tag), nil
}

func (e *Encryptor) decryptGCM(hexIV, hexCipher, hexTag string) ([]byte, error) {
	iv, err := hex.DecodeString(hexIV)
	if err != nil || len(iv) != gcmIVSize {
		return nil, fmt.Errorf("%w: IV must be %d hex characters", ErrBadCiphertext, gcmIVSize*2)
	}
	body, err := hex.DecodeString(hexCipher)
	if err != nil {
		return nil, fmt.Errorf("%w: ciphertext is not valid hex", ErrBadCiphertext)
	}
	tag, err := hex.DecodeString(hexTag)
	if err != nil || len(tag) != gcmTagSize {
		return nil, fmt.Errorf("%w: tag must be %d hex characters", ErrBadCiphertext, gcmTagSize*2)
	}

	aead, err := e.newGCM()
	if err != nil {
		return nil, err
	}

	plaintext, err := aead.Open(nil, iv, append(body, tag...), nil)
	if err != nil {
		return nil, ErrBadKey
	}
	return plaintext, nil
}

func (e *Encryptor) newGCM() (cipher.AEAD, error) {
	block, err := aes.NewCipher(e.key)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadKey, err)
	}
	return cipher.NewGCM(block)
}

func pkcs7Pad(data []byte, blockSize int) []byte {
	padding := blockSize - len(data)%blockSize
	return append(data, bytes.Repeat([]byte{byte(padding)}, padding)...)
}

func pkcs7Unpad(data []byte, blockSize int) ([]byte, error) {
	if len(data) == 0 || len(data)%blockSize != 0 {
		return nil, errors.New("invalid padded length")
	}
	padding := int(data[len(data)-1])
	if padding == 0 || padding > blockSize {
		return nil, errors.New("invalid padding byte")
	}
	for _, b := range data[len(data)-padding:] {
		if int(b) != padding {
			return nil, errors.New("inconsistent padding")
		}
	}
	return data[:len(data)-padding], nil
}
