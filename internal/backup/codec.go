package backup

// PayloadCodec turns serialized payload bytes into the stored blob form
// (compress then encrypt) and back
type PayloadCodec struct {
	compression *CompressionManager
	encryption  *EncryptionManager
	algorithm   CompressionType
	level       int
}

// EncodedPayload is a blob ready for upload
type EncodedPayload struct {
	Data        []byte
	Compression CompressionType
	Encrypted   bool
	Stats       *CompressionStats
}

// NewPayloadCodec builds a codec from the compression and encryption settings
func NewPayloadCodec(compression CompressionConfig, encryption *EncryptionConfig) *PayloadCodec {
	compression.SetDefaults()
	return &PayloadCodec{
		compression: NewCompressionManager(),
		encryption:  NewEncryptionManager(encryption),
		algorithm:   compression.Algorithm,
		level:       compression.Level,
	}
}

// NewPlainCodec stores payloads as-is
func NewPlainCodec() *PayloadCodec {
	return NewPayloadCodec(CompressionConfig{}, nil)
}

// Encode compresses then encrypts data according to configuration
func (c *PayloadCodec) Encode(data []byte) (*EncodedPayload, error) {
	compressed, stats, err := c.compression.Compress(data, c.algorithm, c.level)
	if err != nil {
		return nil, err
	}

	sealed, _, err := c.encryption.Encrypt(compressed)
	if err != nil {
		return nil, err
	}

	return &EncodedPayload{
		Data:        sealed,
		Compression: stats.Algorithm,
		Encrypted:   c.encryption.IsEnabled(),
		Stats:       stats,
	}, nil
}

// Decode reverses Encode for a blob written with the given settings
func (c *PayloadCodec) Decode(data []byte, compression CompressionType, encrypted bool) ([]byte, error) {
	if encrypted {
		plain, err := c.encryption.Decrypt(data)
		if err != nil {
			return nil, err
		}
		data = plain
	}
	return c.compression.Decompress(data, compression)
}

// Extension returns the filename suffix for a payload in the given format
func (c *PayloadCodec) Extension(format Format) string {
	ext := "." + string(format)
	if c.algorithm != "" {
		ext += c.algorithm.Extension()
	}
	if c.encryption.IsEnabled() {
		ext += ".enc"
	}
	return ext
}
