package disk

import "time"

// DefaultMaxItemSize bounds a single read. Larger files are reported as failed.
const DefaultMaxItemSize int64 = 256 << 20

// RecentWriteWindow is how long after its last write an image that fails to
// decode is still reported as retryable.
const RecentWriteWindow = 5 * time.Second

// Config represents disk backend configuration
type Config struct {
	MaxItemSize  int64 `yaml:"max_item_size" toml:"max_item_size"`
	VerifyDecode bool  `yaml:"verify_decode" toml:"verify_decode"`
}

// DefaultConfig returns the configuration used when none is given.
func DefaultConfig() *Config {
	return &Config{
		MaxItemSize:  DefaultMaxItemSize,
		VerifyDecode: true,
	}
}
