// Package config holds the feature flags, security parameters and timings a
// store runs with, and loads them from YAML.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/roach88/docstate/internal/seal"
)

// Features toggles store subsystems. It is swapped as a whole by
// state.Store.Reconfigure.
type Features struct {
	Encryption   bool `yaml:"encryption" json:"encryption"`
	Caching      bool `yaml:"caching" json:"caching"`
	BatchUpdates bool `yaml:"batchUpdates" json:"batchUpdates"`
	Debouncing   bool `yaml:"debouncing" json:"debouncing"`
	Throttling   bool `yaml:"throttling" json:"throttling"`
	AuditLogging bool `yaml:"auditLogging" json:"auditLogging"`
	PIIDetection bool `yaml:"piiDetection" json:"piiDetection"`
}

// Security holds key derivation and retention parameters.
// EncryptionKeySize is in bits.
type Security struct {
	EncryptionAlgorithm string `yaml:"encryptionAlgorithm" validate:"required,eq=AES-GCM"`
	EncryptionKeySize   int    `yaml:"encryptionKeySize" validate:"oneof=128 192 256"`
	SaltLength          int    `yaml:"saltLength" validate:"min=8,max=64"`
	Iterations          int    `yaml:"iterations" validate:"min=1"`
	AuditRetentionDays  int    `yaml:"auditRetentionDays" validate:"min=0"`
	// Passphrase feeds key derivation. Empty means a random passphrase is
	// generated and stored with the crypto parameters.
	Passphrase string `yaml:"passphrase"`
}

// SealOptions converts the security settings to seal.Options.
func (s Security) SealOptions() seal.Options {
	return seal.Options{
		Algorithm:  s.EncryptionAlgorithm,
		KeySize:    s.EncryptionKeySize / 8,
		SaltLength: s.SaltLength,
		Iterations: s.Iterations,
	}
}

// Timings are the delays of the deferred subsystems.
type Timings struct {
	CacheTTL           time.Duration `yaml:"cacheTTL" validate:"gt=0"`
	CacheMaxEntries    int           `yaml:"cacheMaxEntries" validate:"min=1"`
	BatchWindow        time.Duration `yaml:"batchWindow" validate:"gt=0"`
	PersistDelay       time.Duration `yaml:"persistDelay" validate:"gt=0"`
	AuditFlushInterval time.Duration `yaml:"auditFlushInterval" validate:"gt=0"`
}

// Storage selects the durable backend.
type Storage struct {
	Backend string `yaml:"backend" validate:"oneof=sqlite badger memory"`
	Path    string `yaml:"path" validate:"required_unless=Backend memory"`
}

// Config is the full store configuration.
type Config struct {
	Name           string   `yaml:"name" validate:"required,max=128,excludesall=:"`
	Features       Features `yaml:"features"`
	Security       Security `yaml:"security"`
	Timings        Timings  `yaml:"timings"`
	SensitivePaths []string `yaml:"sensitivePaths" validate:"dive,required"`
	// Schema is an optional CUE file describing the state shape. Relative
	// paths resolve against the config file's directory.
	Schema  string  `yaml:"schema"`
	Storage Storage `yaml:"storage"`
}

// Default returns the configuration used when no file is given.
func Default() Config {
	return Config{
		Name: "default",
		Features: Features{
			Caching:      true,
			BatchUpdates: false,
			Debouncing:   true,
			Throttling:   true,
			AuditLogging: true,
		},
		Security: Security{
			EncryptionAlgorithm: seal.AlgorithmAESGCM,
			EncryptionKeySize:   256,
			SaltLength:          16,
			Iterations:          100_000,
			AuditRetentionDays:  30,
		},
		Timings: Timings{
			CacheTTL:           5 * time.Second,
			CacheMaxEntries:    256,
			BatchWindow:        16 * time.Millisecond,
			PersistDelay:       500 * time.Millisecond,
			AuditFlushInterval: 30 * time.Second,
		},
		Storage: Storage{
			Backend: "sqlite",
			Path:    "docstate.db",
		},
	}
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks field constraints. It does not check sensitive paths
// against a schema; see ValidatePaths.
func (c Config) Validate() error {
	err := validate.Struct(c)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return fmt.Errorf("validate config: %w", err)
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		msgs = append(msgs, fmt.Sprintf("%s: failed %q (value %v)", fe.Namespace(), fe.Tag(), fe.Value()))
	}
	return fmt.Errorf("invalid config: %s", strings.Join(msgs, "; "))
}

// Parse decodes YAML over Default, so omitted fields keep their defaults.
// Unknown fields are rejected.
func Parse(data []byte) (Config, error) {
	cfg := Default()
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil {
		if errors.Is(err, io.EOF) {
			return cfg, nil
		}
		return Config{}, fmt.Errorf("parse config: %w", err)
	}
	return cfg, nil
}

// Load reads, parses and validates a config file. A relative Schema is
// resolved against the file's directory.
func Load(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config: %w", err)
	}
	cfg, err := Parse(data)
	if err != nil {
		return Config{}, fmt.Errorf("%s: %w", path, err)
	}
	if cfg.Schema != "" && !filepath.IsAbs(cfg.Schema) {
		cfg.Schema = filepath.Join(filepath.Dir(path), cfg.Schema)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}
