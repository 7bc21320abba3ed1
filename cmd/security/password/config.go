package password

import (
	"fmt"
	"runtime"
)

// Argon2idParams controls Argon2id hashing cost.
// MemoryKiB is in KiB as required by argon2.IDKey.
type Argon2idParams struct {
	MemoryKiB   uint32 `yaml:"memory_kib" env:"MEMORY_KIB"`
	Iterations  uint32 `yaml:"iterations" env:"ITERATIONS"`
	Parallelism uint8  `yaml:"parallelism" env:"PARALLELISM"`
	SaltLength  uint32 `yaml:"salt_length" env:"SALT_LENGTH"`
	KeyLength   uint32 `yaml:"key_length" env:"KEY_LENGTH"`
}

// Config is the single configuration surface for this package.
type Config struct {
	Params Argon2idParams `yaml:"argon2id" envPrefix:"ARGON2_"`

	// MaxBytes bounds the input fed to Argon2id. It is an anti-DoS limit, not a policy.
	MaxBytes int `yaml:"max_bytes" env:"MAX_BYTES"`
}

// DefaultConfig returns the baseline cost used for interactive logins.
func DefaultConfig() Config {
	// Clamp to [1..4] to keep resource usage predictable in containers.
	threads := runtime.NumCPU()
	if threads <= 0 {
		threads = 1
	}
	if threads > 4 {
		threads = 4
	}

	return Config{
		Params: Argon2idParams{
			MemoryKiB:   64 * 1024, // 64 MiB
			Iterations:  3,
			Parallelism: uint8(threads), // #nosec G115 -- clamped to [1..4] above; safe conversion.
			SaltLength:  16,
			KeyLength:   32,
		},
		MaxBytes: 1024,
	}
}

// Check validates the configured cost parameters.
func (c Config) Check() error {
	p := c.Params
	switch {
	case p.MemoryKiB < 8*1024 || p.MemoryKiB > 1024*1024:
		return fmt.Errorf("%w: memory_kib out of range [8192..1048576]", ErrInvalidParams)
	case p.Iterations < 1 || p.Iterations > 20:
		return fmt.Errorf("%w: iterations out of range [1..20]", ErrInvalidParams)
	case p.Parallelism < 1 || p.Parallelism > 64:
		return fmt.Errorf("%w: parallelism out of range [1..64]", ErrInvalidParams)
	case p.SaltLength < 8 || p.SaltLength > 64:
		return fmt.Errorf("%w: salt_length out of range [8..64]", ErrInvalidParams)
	case p.KeyLength < 16 || p.KeyLength > 64:
		return fmt.Errorf("%w: key_length out of range [16..64]", ErrInvalidParams)
	case c.MaxBytes <= 0:
		return fmt.Errorf("%w: max_bytes must be positive", ErrInvalidParams)
	}
	return nil
}
