package seal

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/awnumar/memguard"
	"golang.org/x/crypto/pbkdf2"
)

// AlgorithmAESGCM is the only supported cipher.
const AlgorithmAESGCM = "AES-GCM"

const nonceSize = 12

// Params are the persisted inputs needed to re-derive a key.
//
// Passphrase is set only when it was generated by DeriveKey; a caller supplied
// passphrase is never written out.
type Params struct {
	Algorithm  string `json:"algorithm"`
	KeySize    int    `json:"keySize"`
	SaltLength int    `json:"saltLength"`
	Iterations int    `json:"iterations"`
	Salt       string `json:"salt"`
	Passphrase string `json:"passphrase,omitempty"`
}

// Options select algorithm parameters for a new key. KeySize is in bytes.
type Options struct {
	Algorithm  string
	KeySize    int
	SaltLength int
	Iterations int
}

// DefaultOptions matches config.Default security settings.
func DefaultOptions() Options {
	return Options{
		Algorithm:  AlgorithmAESGCM,
		KeySize:    32,
		SaltLength: 16,
		Iterations: 100_000,
	}
}

// Context holds a derived key. The key bytes live in a memguard enclave and
// are only decrypted into locked memory for the duration of one operation.
type Context struct {
	params Params
	key    *memguard.Enclave
}

// DeriveKey creates a new key from passphrase and a fresh random salt.
// An empty passphrase is replaced by a random one, which is recorded in the
// returned Params so that Restore can reproduce the key without prompting.
func DeriveKey(passphrase string, opts Options) (*Context, error) {
	if err := opts.check(); err != nil {
		return nil, &CryptoError{Op: "derive", Err: err}
	}

	salt := make([]byte, opts.SaltLength)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return nil, &CryptoError{Op: "derive", Err: fmt.Errorf("generate salt: %w", err)}
	}

	p := Params{
		Algorithm:  opts.Algorithm,
		KeySize:    opts.KeySize,
		SaltLength: opts.SaltLength,
		Iterations: opts.Iterations,
		Salt:       base64.StdEncoding.EncodeToString(salt),
	}
	if passphrase == "" {
		generated := make([]byte, 32)
		if _, err := io.ReadFull(rand.Reader, generated); err != nil {
			return nil, &CryptoError{Op: "derive", Err: fmt.Errorf("generate passphrase: %w", err)}
		}
		passphrase = base64.RawURLEncoding.EncodeToString(generated)
		p.Passphrase = passphrase
	}

	return newContext(p, passphrase, salt), nil
}

// Restore re-derives the key described by p. passphrase is ignored when p
// carries a generated passphrase.
func Restore(p Params, passphrase string) (*Context, error) {
	opts := Options{Algorithm: p.Algorithm, KeySize: p.KeySize, SaltLength: p.SaltLength, Iterations: p.Iterations}
	if err := opts.check(); err != nil {
		return nil, &CryptoError{Op: "restore", Err: err}
	}
	salt, err := base64.StdEncoding.DecodeString(p.Salt)
	if err != nil {
		return nil, &CryptoError{Op: "restore", Err: fmt.Errorf("decode salt: %w", err)}
	}
	if len(salt) == 0 {
		return nil, &CryptoError{Op: "restore", Err: errors.New("empty salt")}
	}
	if p.Passphrase != "" {
		passphrase = p.Passphrase
	}
	return newContext(p, passphrase, salt), nil
}

func newContext(p Params, passphrase string, salt []byte) *Context {
	raw := pbkdf2.Key([]byte(passphrase), salt, p.Iterations, p.KeySize, sha256.New)
	// NewEnclave wipes raw.
	return &Context{params: p, key: memguard.NewEnclave(raw)}
}

// Params returns the persisted form of this key.
func (c *Context) Params() Params {
	return c.params
}

// Seal encrypts plaintext bound to path and returns base64 nonce||ciphertext.
func (c *Context) Seal(path string, plaintext []byte) (string, error) {
	var out string
	err := c.withAEAD(func(aead cipher.AEAD) error {
		nonce := make([]byte, nonceSize)
		if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
			return fmt.Errorf("generate nonce: %w", err)
		}
		sealed := aead.Seal(nonce, nonce, plaintext, []byte(path))
		out = base64.StdEncoding.EncodeToString(sealed)
		return nil
	})
	if err != nil {
		return "", &CryptoError{Op: "encrypt", Path: path, Err: err}
	}
	return out, nil
}

// Open reverses Seal. A ciphertext moved to another path fails to open.
func (c *Context) Open(path, ciphertext string) ([]byte, error) {
	var out []byte
	err := c.withAEAD(func(aead cipher.AEAD) error {
		data, err := base64.StdEncoding.DecodeString(ciphertext)
		if err != nil {
			return fmt.Errorf("decode ciphertext: %w", err)
		}
		if len(data) < nonceSize+aead.Overhead() {
			return errors.New("ciphertext too short")
		}
		out, err = aead.Open(nil, data[:nonceSize], data[nonceSize:], []byte(path))
		if err != nil {
			return fmt.Errorf("authenticate: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, &CryptoError{Op: "decrypt", Path: path, Err: err}
	}
	return out, nil
}

func (c *Context) withAEAD(fn func(cipher.AEAD) error) error {
	if c == nil || c.key == nil {
		return ErrNoKey
	}
	buf, err := c.key.Open()
	if err != nil {
		return fmt.Errorf("open key enclave: %w", err)
	}
	defer buf.Destroy()

	block, err := aes.NewCipher(buf.Bytes())
	if err != nil {
		return fmt.Errorf("create cipher: %w", err)
	}
	aead, err := cipher.NewGCMWithNonceSize(block, nonceSize)
	if err != nil {
		return fmt.Errorf("create gcm: %w", err)
	}
	return fn(aead)
}

func (o Options) check() error {
	if !strings.EqualFold(o.Algorithm, AlgorithmAESGCM) {
		return fmt.Errorf("unsupported algorithm %q", o.Algorithm)
	}
	switch o.KeySize {
	case 16, 24, 32:
	default:
		return fmt.Errorf("key size must be 16, 24 or 32 bytes, got %d", o.KeySize)
	}
	if o.SaltLength < 8 {
		return fmt.Errorf("salt length must be at least 8 bytes, got %d", o.SaltLength)
	}
	if o.Iterations < 1 {
		return fmt.Errorf("iterations must be positive, got %d", o.Iterations)
	}
	return nil
}
