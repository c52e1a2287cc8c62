package backup

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"io"
	"os"
	"time"

	"golang.org/x/crypto/pbkdf2"
)

const (
	keySize          = 32
	saltSize         = 16
	pbkdf2Iterations = 100000
)

// EncryptionStats contains statistics about encryption operations
type EncryptionStats struct {
	OriginalSize  int64         `json:"original_size"`
	EncryptedSize int64         `json:"encrypted_size"`
	Algorithm     string        `json:"algorithm"`
	KeyDerivation string        `json:"key_derivation"`
	Duration      time.Duration `json:"duration"`
}

// EncryptionManager seals payloads with AES-256-GCM. Output is
// nonce||ciphertext, prefixed by the PBKDF2 salt for passphrase keys.
type EncryptionManager struct {
	config *EncryptionConfig
}

// NewEncryptionManager creates a new encryption manager
func NewEncryptionManager(config *EncryptionConfig) *EncryptionManager {
	if config == nil {
		config = &EncryptionConfig{}
	}
	return &EncryptionManager{
		config: config,
	}
}

// Encrypt encrypts data using AES-256-GCM
func (em *EncryptionManager) Encrypt(data []byte) ([]byte, *EncryptionStats, error) {
	if !em.config.Enabled {
		return data, &EncryptionStats{
			OriginalSize:  int64(len(data)),
			EncryptedSize: int64(len(data)),
			Algorithm:     "NONE",
		}, nil
	}

	start := time.Now()

	var salt []byte
	var key []byte
	if em.config.UsesPassphrase() {
		salt = make([]byte, saltSize)
		if _, err := io.ReadFull(rand.Reader, salt); err != nil {
			return nil, nil, NewEncryptionError("failed to generate salt", err)
		}
		key = DeriveKey(em.config.Passphrase, salt)
	} else {
		var err error
		key, err = em.config.GetEncryptionKey()
		if err != nil {
			return nil, nil, NewEncryptionError("failed to get encryption key", err)
		}
	}

	gcm, err := newGCM(key)
	if err != nil {
		return nil, nil, err
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, nil, NewEncryptionError("failed to generate nonce", err)
	}

	out := make([]byte, 0, len(salt)+len(nonce)+len(data)+gcm.Overhead())
	out = append(out, salt...)
	out = append(out, nonce...)
	out = gcm.Seal(out, nonce, data, nil)

	return out, &EncryptionStats{
		OriginalSize:  int64(len(data)),
		EncryptedSize: int64(len(out)),
		Algorithm:     "AES-256-GCM",
		KeyDerivation: em.config.KeySource,
		Duration:      time.Since(start),
	}, nil
}

// Decrypt decrypts data produced by Encrypt
func (em *EncryptionManager) Decrypt(encryptedData []byte) ([]byte, error) {
	if !em.config.Enabled {
		return nil, NewEncryptionError("payload is encrypted but encryption is not configured", nil)
	}

	var key []byte
	if em.config.UsesPassphrase() {
		if len(encryptedData) < saltSize {
			return nil, NewEncryptionError("encrypted data too short", nil)
		}
		key = DeriveKey(em.config.Passphrase, encryptedData[:saltSize])
		encryptedData = encryptedData[saltSize:]
	} else {
		var err error
		key, err = em.config.GetEncryptionKey()
		if err != nil {
			return nil, NewEncryptionError("failed to get encryption key", err)
		}
	}

	gcm, err := newGCM(key)
	if err != nil {
		return nil, err
	}

	nonceSize := gcm.NonceSize()
	if len(encryptedData) < nonceSize {
		return nil, NewEncryptionError("encrypted data too short", nil)
	}

	nonce, ciphertext := encryptedData[:nonceSize], encryptedData[nonceSize:]
	plaintext, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, NewEncryptionError("failed to decrypt data", err)
	}
	return plaintext, nil
}

// IsEnabled returns whether encryption is enabled
func (em *EncryptionManager) IsEnabled() bool {
	return em.config.Enabled
}

// GetAlgorithm returns the encryption algorithm being used
func (em *EncryptionManager) GetAlgorithm() string {
	if !em.config.Enabled {
		return "NONE"
	}
	return "AES-256-GCM"
}

func newGCM(key []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, NewEncryptionError("failed to create AES cipher", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, NewEncryptionError("failed to create GCM cipher", err)
	}
	return gcm, nil
}

// DeriveKey derives an AES-256 key from a passphrase with PBKDF2-SHA256
func DeriveKey(passphrase string, salt []byte) []byte {
	return pbkdf2.Key([]byte(passphrase), salt, pbkdf2Iterations, keySize, sha256.New)
}

// GenerateKey generates a new random 256-bit key
func GenerateKey() ([]byte, error) {
	key := make([]byte, keySize)
	if _, err := rand.Read(key); err != nil {
		return nil, NewEncryptionError("failed to generate encryption key", err)
	}
	return key, nil
}

// ValidateKey rejects keys of the wrong size and trivially weak keys
func ValidateKey(key []byte) error {
	if len(key) != keySize {
		return NewEncryptionError("key must be 32 bytes for AES-256", nil)
	}

	allZeros, allOnes := true, true
	for _, b := range key {
		if b != 0 {
			allZeros = false
		}
		if b != 0xFF {
			allOnes = false
		}
	}

	if allZeros {
		return NewEncryptionError("key cannot be all zeros", nil)
	}
	if allOnes {
		return NewEncryptionError("key cannot be all ones", nil)
	}
	return nil
}

// SaveKeyToFile writes a key with owner-only permissions
func SaveKeyToFile(key []byte, path string) error {
	if err := ValidateKey(key); err != nil {
		return err
	}
	if err := os.WriteFile(path, key, 0600); err != nil {
		return NewEncryptionError("failed to save key to file", err)
	}
	return nil
}
