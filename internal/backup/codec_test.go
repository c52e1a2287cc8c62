package backup

import (
	"bytes"
	"encoding/hex"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var samplePayload = bytes.Repeat([]byte(`{"users":[{"id":"u1","email":"ana@school.edu","role":"student"}]}`), 64)

func TestCompressionManager_RoundTrip(t *testing.T) {
	cm := NewCompressionManager()

	for _, algorithm := range SupportedAlgorithms() {
		t.Run(string(algorithm), func(t *testing.T) {
			compressed, stats, err := cm.Compress(samplePayload, algorithm, 0)
			require.NoError(t, err)
			assert.Equal(t, algorithm, stats.Algorithm)
			assert.Equal(t, int64(len(samplePayload)), stats.OriginalSize)

			if algorithm != CompressionTypeNone {
				assert.Less(t, len(compressed), len(samplePayload))
				assert.Equal(t, algorithm, DetectCompression(compressed))
			}

			decompressed, err := cm.Decompress(compressed, algorithm)
			require.NoError(t, err)
			assert.Equal(t, samplePayload, decompressed)
		})
	}
}

func TestCompressionManager_LevelsAreClamped(t *testing.T) {
	cm := NewCompressionManager()

	_, stats, err := cm.Compress(samplePayload, CompressionTypeGzip, 99)
	require.NoError(t, err)
	assert.Equal(t, 9, stats.Level)

	_, stats, err = cm.Compress(samplePayload, CompressionTypeLZ4, 9)
	require.NoError(t, err)
	assert.Equal(t, 9, stats.Level)
}

func TestCompressionManager_Unsupported(t *testing.T) {
	cm := NewCompressionManager()

	_, _, err := cm.Compress(samplePayload, "brotli", 0)
	assert.True(t, IsErrorType(err, ErrorTypeCompression))

	_, err = cm.Decompress([]byte("not gzip"), CompressionTypeGzip)
	assert.True(t, IsErrorType(err, ErrorTypeCompression))
}

func TestDetectCompression_PlainJSON(t *testing.T) {
	assert.Equal(t, CompressionTypeNone, DetectCompression([]byte(`{"metadata":{}}`)))
	assert.Equal(t, CompressionTypeNone, DetectCompression(nil))
}

func TestEncryptionManager(t *testing.T) {
	key := bytes.Repeat([]byte{0x42}, 32)

	tests := []struct {
		name   string
		config *EncryptionConfig
	}{
		{
			name: "retriever",
			config: &EncryptionConfig{Enabled: true, KeyRetriever: func() ([]byte, error) {
				return key, nil
			}},
		},
		{
			name:   "passphrase",
			config: &EncryptionConfig{Enabled: true, KeySource: KeySourcePassphrase, Passphrase: "field-trip-secret"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			em := NewEncryptionManager(tt.config)

			sealed, stats, err := em.Encrypt(samplePayload)
			require.NoError(t, err)
			assert.Equal(t, "AES-256-GCM", stats.Algorithm)
			assert.NotEqual(t, samplePayload, sealed)

			again, _, err := em.Encrypt(samplePayload)
			require.NoError(t, err)
			assert.NotEqual(t, sealed, again, "nonce must differ per payload")

			opened, err := em.Decrypt(sealed)
			require.NoError(t, err)
			assert.Equal(t, samplePayload, opened)

			sealed[len(sealed)-1] ^= 0xFF
			_, err = em.Decrypt(sealed)
			assert.True(t, IsErrorType(err, ErrorTypeEncryption))
		})
	}
}

func TestEncryptionManager_EnvKey(t *testing.T) {
	key, err := GenerateKey()
	require.NoError(t, err)
	t.Setenv("TOURAPP_TEST_KEY", hex.EncodeToString(key))

	config := &EncryptionConfig{Enabled: true, KeySource: KeySourceEnv, KeyEnvVar: "TOURAPP_TEST_KEY"}
	require.NoError(t, config.Validate())

	em := NewEncryptionManager(config)
	sealed, _, err := em.Encrypt([]byte("hello"))
	require.NoError(t, err)

	opened, err := em.Decrypt(sealed)
	require.NoError(t, err)
	assert.Equal(t, "hello", string(opened))

	t.Setenv("TOURAPP_TEST_KEY", "abcd")
	_, _, err = em.Encrypt([]byte("hello"))
	assert.Error(t, err)
}

func TestEncryptionManager_Disabled(t *testing.T) {
	em := NewEncryptionManager(nil)

	out, _, err := em.Encrypt([]byte("plain"))
	require.NoError(t, err)
	assert.Equal(t, "plain", string(out))
	assert.Equal(t, "NONE", em.GetAlgorithm())

	_, err = em.Decrypt([]byte("plain"))
	assert.Error(t, err, "encrypted blobs cannot be read without a key")
}

func TestValidateKey(t *testing.T) {
	assert.Error(t, ValidateKey(make([]byte, 16)))
	assert.Error(t, ValidateKey(make([]byte, 32)))
	assert.Error(t, ValidateKey(bytes.Repeat([]byte{0xFF}, 32)))

	key, err := GenerateKey()
	require.NoError(t, err)
	assert.NoError(t, ValidateKey(key))
}

func TestPayloadCodec(t *testing.T) {
	codec := NewPayloadCodec(
		CompressionConfig{Algorithm: CompressionTypeZstd},
		&EncryptionConfig{Enabled: true, KeySource: KeySourcePassphrase, Passphrase: "field-trip-secret"},
	)

	assert.Equal(t, ".json.zst.enc", codec.Extension(FormatJSON))

	encoded, err := codec.Encode(samplePayload)
	require.NoError(t, err)
	assert.Equal(t, CompressionTypeZstd, encoded.Compression)
	assert.True(t, encoded.Encrypted)

	decoded, err := codec.Decode(encoded.Data, encoded.Compression, encoded.Encrypted)
	require.NoError(t, err)
	assert.Equal(t, samplePayload, decoded)

	plain := NewPlainCodec()
	assert.Equal(t, ".csv", plain.Extension(FormatCSV))
	encoded, err = plain.Encode(samplePayload)
	require.NoError(t, err)
	assert.Equal(t, samplePayload, encoded.Data)
	assert.Equal(t, CompressionTypeNone, encoded.Compression)
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		config  Config
		wantErr bool
	}{
		{"defaults", Config{}, false},
		{"gzip", Config{Compression: CompressionConfig{Algorithm: CompressionTypeGzip, Level: 9}}, false},
		{"unknown algorithm", Config{Compression: CompressionConfig{Algorithm: "rar"}}, true},
		{"negative cooldown", Config{Cooldown: -1}, true},
		{"file key without path", Config{Encryption: EncryptionConfig{Enabled: true, KeySource: KeySourceFile}}, true},
		{"short passphrase", Config{Encryption: EncryptionConfig{Enabled: true, KeySource: KeySourcePassphrase, Passphrase: "short"}}, true},
		{"env key", Config{Encryption: EncryptionConfig{Enabled: true}}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.config.SetDefaults()
			err := tt.config.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestCompressionConfig_ListsSupportedAlgorithms(t *testing.T) {
	err := (&CompressionConfig{Algorithm: "rar"}).Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "must be one of none, gzip, lz4, zstd")
}

func TestConfigDefaultsAndEnvironment(t *testing.T) {
	t.Setenv("TOURAPP_BACKUP_COMPRESSION", "GZIP")
	t.Setenv("TOURAPP_BACKUP_COOLDOWN", "30s")

	var config Config
	config.LoadFromEnvironment()
	config.SetDefaults()

	assert.Equal(t, CompressionTypeGzip, config.Compression.Algorithm)
	assert.Equal(t, "30s", config.Cooldown.String())
	assert.Equal(t, DefaultSweepSchedule, config.SweepSchedule)
	assert.Equal(t, DefaultAppVersion, config.AppVersion)
}
