// Package credentials resolves and stores the Privlens API key.
// It defines a small Store interface with environment, in-memory, and
// encrypted-file backends, plus the lookup chain the CLI uses: an
// explicit flag value wins, then PRIVLENS_API_KEY, then the encrypted
// credentials file under the user config directory.
package credentials

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"
)

// =============================================================================
// Store Interface
// =============================================================================

// Store is the interface for credential storage and retrieval. Implement it
// to plug in an external backend such as a vault or an OS keychain wrapper.
type Store interface {
	// Get retrieves a credential by key.
	Get(ctx context.Context, key string) (*Credential, error)

	// Set stores a credential. Read-only stores return ErrReadOnly.
	Set(ctx context.Context, key string, cred *Credential) error

	// Delete removes a credential.
	Delete(ctx context.Context, key string) error

	// List returns all credential keys matching a prefix.
	List(ctx context.Context, prefix string) ([]string, error)

	// Exists reports whether a credential is present.
	Exists(ctx context.Context, key string) (bool, error)
}

// =============================================================================
// Credential Types
// =============================================================================

// Credential is a stored secret together with its bookkeeping fields.
type Credential struct {
	// Key is the credential identifier, e.g. "api.key".
	Key string `json:"key"`

	// Type categorizes the credential.
	Type CredentialType `json:"type"`

	// Value is the secret itself.
	Value string `json:"value"`

	// Metadata holds optional extra information (org id, key owner).
	Metadata map[string]string `json:"metadata,omitempty"`

	// ExpiresAt marks when the credential stops being valid, if ever.
	ExpiresAt *time.Time `json:"expires_at,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// CredentialType labels what kind of secret a credential holds.
type CredentialType string

const (
	CredentialTypeAPIKey CredentialType = "api_key"
	CredentialTypeToken  CredentialType = "token"
	CredentialTypeSecret CredentialType = "secret"
)

// IsExpired reports whether the credential is past its expiry time.
func (c *Credential) IsExpired() bool {
	if c.ExpiresAt == nil {
		return false
	}
	return time.Now().After(*c.ExpiresAt)
}

// =============================================================================
// Well-Known Names
// =============================================================================

const (
	// EnvPrefix is prepended to environment lookups, so the key "api.key"
	// resolves from PRIVLENS_API_KEY.
	EnvPrefix = "PRIVLENS_"

	// VaultKeyEnv names the environment variable holding the base64-encoded
	// AES key that unlocks the credentials file.
	VaultKeyEnv = "PRIVLENS_VAULT_KEY"

	// KeyAPIKey is the credential key the CLI resolves before talking to
	// the scanning service.
	KeyAPIKey = "api.key"

	// DefaultFileName is the credentials file name under the user config
	// directory.
	DefaultFileName = "credentials.enc"
)

// =============================================================================
// Errors
// =============================================================================

var (
	ErrCredentialNotFound = errors.New("credential not found")
	ErrCredentialExpired  = errors.New("credential expired")
	ErrReadOnly           = errors.New("store is read-only")
	ErrInvalidKey         = errors.New("invalid credential key")
	ErrEncryptionFailed   = errors.New("encryption failed")
	ErrDecryptionFailed   = errors.New("decryption failed")
)

// =============================================================================
// Environment Store
// =============================================================================

// EnvStore reads credentials from environment variables. It is read-only
// and suits CI jobs where secrets arrive through the process environment.
type EnvStore struct {
	// Prefix is prepended to every lookup, e.g. "PRIVLENS_".
	Prefix string
}

// NewEnvStore returns a store reading environment variables with the given
// prefix.
func NewEnvStore(prefix string) *EnvStore {
	return &EnvStore{Prefix: prefix}
}

// envName converts a credential key to its environment variable name:
// "api.key" with prefix "PRIVLENS_" becomes "PRIVLENS_API_KEY".
func (s *EnvStore) envName(key string) string {
	name := strings.ToUpper(key)
	name = strings.ReplaceAll(name, ".", "_")
	name = strings.ReplaceAll(name, "-", "_")
	return s.Prefix + name
}

func (s *EnvStore) Get(ctx context.Context, key string) (*Credential, error) {
	value := os.Getenv(s.envName(key))
	if value == "" {
		return nil, ErrCredentialNotFound
	}
	now := time.Now()
	return &Credential{
		Key:       key,
		Type:      CredentialTypeSecret,
		Value:     value,
		CreatedAt: now,
		UpdatedAt: now,
	}, nil
}

func (s *EnvStore) Set(ctx context.Context, key string, cred *Credential) error {
	return ErrReadOnly
}

func (s *EnvStore) Delete(ctx context.Context, key string) error {
	return ErrReadOnly
}

// List returns the names of environment variables whose name starts with
// the prefixed form of prefix.
func (s *EnvStore) List(ctx context.Context, prefix string) ([]string, error) {
	search := s.envName(prefix)
	var names []string
	for _, kv := range os.Environ() {
		name, _, ok := strings.Cut(kv, "=")
		if ok && strings.HasPrefix(name, search) {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names, nil
}

func (s *EnvStore) Exists(ctx context.Context, key string) (bool, error) {
	_, ok := os.LookupEnv(s.envName(key))
	return ok, nil
}

// =============================================================================
// Memory Store
// =============================================================================

// MemoryStore keeps credentials in process memory. It backs tests and can
// serve as the writable layer of a Chain.
type MemoryStore struct {
	mu    sync.RWMutex
	creds map[string]*Credential
}

// NewMemoryStore returns an empty in-memory credential store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{creds: make(map[string]*Credential)}
}

func (s *MemoryStore) Get(ctx context.Context, key string) (*Credential, error) {
	if err := ValidateKey(key); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	cred, ok := s.creds[key]
	if !ok {
		return nil, ErrCredentialNotFound
	}
	cp := *cred
	return &cp, nil
}

func (s *MemoryStore) Set(ctx context.Context, key string, cred *Credential) error {
	if err := ValidateKey(key); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.creds[key] = stamped(key, cred)
	return nil
}

func (s *MemoryStore) Delete(ctx context.Context, key string) error {
	if err := ValidateKey(key); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	cred, ok := s.creds[key]
	if !ok {
		return ErrCredentialNotFound
	}
	SecureClear(cred)
	delete(s.creds, key)
	return nil
}

func (s *MemoryStore) List(ctx context.Context, prefix string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return matchingKeys(s.creds, prefix), nil
}

func (s *MemoryStore) Exists(ctx context.Context, key string) (bool, error) {
	if err := ValidateKey(key); err != nil {
		return false, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.creds[key]
	return ok, nil
}

// stamped copies cred with its key and timestamps filled in. The caller's
// value is left untouched.
func stamped(key string, cred *Credential) *Credential {
	cp := *cred
	cp.Key = key
	cp.UpdatedAt = time.Now()
	if cp.CreatedAt.IsZero() {
		cp.CreatedAt = cp.UpdatedAt
	}
	return &cp
}

// matchingKeys collects map keys with the given prefix in sorted order.
func matchingKeys(creds map[string]*Credential, prefix string) []string {
	var keys []string
	for key := range creds {
		if strings.HasPrefix(key, prefix) {
			keys = append(keys, key)
		}
	}
	sort.Strings(keys)
	return keys
}

// =============================================================================
// Encryption
// =============================================================================

// Encryptor seals and opens the credentials file payload.
type Encryptor interface {
	Encrypt(plaintext []byte) ([]byte, error)
	Decrypt(ciphertext []byte) ([]byte, error)
}

// AESEncryptor implements Encryptor with AES-GCM. A fresh nonce is generated
// per message and prepended to the ciphertext.
type AESEncryptor struct {
	key []byte
}

// NewAESEncryptor returns an AES-GCM encryptor. The key must be 16, 24, or
// 32 bytes long.
func NewAESEncryptor(key []byte) (*AESEncryptor, error) {
	switch len(key) {
	case 16, 24, 32:
		return &AESEncryptor{key: key}, nil
	default:
		return nil, fmt.Errorf("aes key must be 16, 24, or 32 bytes, got %d", len(key))
	}
}

// NewAESEncryptorFromEnv builds an encryptor from a base64-encoded key held
// in the named environment variable.
func NewAESEncryptorFromEnv(envVar string) (*AESEncryptor, error) {
	encoded := os.Getenv(envVar)
	if encoded == "" {
		return nil, fmt.Errorf("%s is not set", envVar)
	}
	key, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("decode key from %s: %w", envVar, err)
	}
	return NewAESEncryptor(key)
}

func (e *AESEncryptor) Encrypt(plaintext []byte) ([]byte, error) {
	gcm, err := e.aead()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEncryptionFailed, err)
	}
	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEncryptionFailed, err)
	}
	return gcm.Seal(nonce, nonce, plaintext, nil), nil
}

func (e *AESEncryptor) Decrypt(ciphertext []byte) ([]byte, error) {
	gcm, err := e.aead()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecryptionFailed, err)
	}
	if len(ciphertext) < gcm.NonceSize() {
		return nil, fmt.Errorf("%w: ciphertext shorter than nonce", ErrDecryptionFailed)
	}
	nonce, sealed := ciphertext[:gcm.NonceSize()], ciphertext[gcm.NonceSize():]
	plaintext, err := gcm.Open(nil, nonce, sealed, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecryptionFailed, err)
	}
	return plaintext, nil
}

func (e *AESEncryptor) aead() (cipher.AEAD, error) {
	block, err := aes.NewCipher(e.key)
	if err != nil {
		return nil, err
	}
	return cipher.NewGCM(block)
}

// =============================================================================
// File Store
// =============================================================================

// FileStore persists credentials as an AES-GCM encrypted JSON file. The
// whole file is sealed as one payload, so every mutation rewrites it.
type FileStore struct {
	mu    sync.RWMutex
	path  string
	enc   Encryptor
	creds map[string]*Credential
}

// NewFileStore opens the encrypted credentials file at path, creating the
// parent directory when missing. The file itself is created on first Set.
func NewFileStore(path string, enc Encryptor) (*FileStore, error) {
	if enc == nil {
		return nil, fmt.Errorf("file store needs an encryptor")
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0700); err != nil {
			return nil, fmt.Errorf("create credentials dir: %w", err)
		}
	}
	s := &FileStore{
		path:  path,
		enc:   enc,
		creds: make(map[string]*Credential),
	}
	if _, err := os.Stat(path); err == nil {
		if err := s.load(); err != nil {
			return nil, fmt.Errorf("load credentials file: %w", err)
		}
	}
	return s, nil
}

// Path returns the location of the credentials file.
func (s *FileStore) Path() string {
	return s.path
}

func (s *FileStore) load() error {
	sealed, err := os.ReadFile(s.path)
	if err != nil {
		return err
	}
	plain, err := s.enc.Decrypt(sealed)
	if err != nil {
		return err
	}
	return json.Unmarshal(plain, &s.creds)
}

// save writes the sealed file. Callers hold the write lock.
func (s *FileStore) save() error {
	plain, err := json.Marshal(s.creds)
	if err != nil {
		return err
	}
	sealed, err := s.enc.Encrypt(plain)
	if err != nil {
		return err
	}
	return os.WriteFile(s.path, sealed, 0600)
}

func (s *FileStore) Get(ctx context.Context, key string) (*Credential, error) {
	if err := ValidateKey(key); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	cred, ok := s.creds[key]
	if !ok {
		return nil, ErrCredentialNotFound
	}
	cp := *cred
	return &cp, nil
}

func (s *FileStore) Set(ctx context.Context, key string, cred *Credential) error {
	if err := ValidateKey(key); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.creds[key] = stamped(key, cred)
	return s.save()
}

func (s *FileStore) Delete(ctx context.Context, key string) error {
	if err := ValidateKey(key); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	cred, ok := s.creds[key]
	if !ok {
		return ErrCredentialNotFound
	}
	SecureClear(cred)
	delete(s.creds, key)
	return s.save()
}

func (s *FileStore) List(ctx context.Context, prefix string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return matchingKeys(s.creds, prefix), nil
}

func (s *FileStore) Exists(ctx context.Context, key string) (bool, error) {
	if err := ValidateKey(key); err != nil {
		return false, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.creds[key]
	return ok, nil
}

// DefaultPath returns the standard location of the credentials file,
// typically ~/.config/privlens/credentials.enc on Linux.
func DefaultPath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return DefaultFileName
	}
	return filepath.Join(dir, "privlens", DefaultFileName)
}

// OpenDefaultFileStore opens the credentials file at DefaultPath, unlocking
// it with the key from PRIVLENS_VAULT_KEY.
func OpenDefaultFileStore() (*FileStore, error) {
	enc, err := NewAESEncryptorFromEnv(VaultKeyEnv)
	if err != nil {
		return nil, err
	}
	return NewFileStore(DefaultPath(), enc)
}

// =============================================================================
// Chain
// =============================================================================

// Chain consults several stores in order. Reads return the first match and
// writes land in the first store that accepts them.
type Chain struct {
	stores []Store
}

// NewChain builds a chain over the given stores. Earlier stores win.
func NewChain(stores ...Store) *Chain {
	return &Chain{stores: stores}
}

func (c *Chain) Get(ctx context.Context, key string) (*Credential, error) {
	for _, store := range c.stores {
		cred, err := store.Get(ctx, key)
		if err == nil {
			return cred, nil
		}
		if !errors.Is(err, ErrCredentialNotFound) {
			return nil, err
		}
	}
	return nil, ErrCredentialNotFound
}

func (c *Chain) Set(ctx context.Context, key string, cred *Credential) error {
	for _, store := range c.stores {
		err := store.Set(ctx, key, cred)
		if err == nil {
			return nil
		}
		if !errors.Is(err, ErrReadOnly) {
			return err
		}
	}
	return ErrReadOnly
}

// Delete removes the credential from every writable store, so a copy
// shadowed by an earlier store does not resurface later.
func (c *Chain) Delete(ctx context.Context, key string) error {
	deleted := false
	for _, store := range c.stores {
		err := store.Delete(ctx, key)
		if err == nil {
			deleted = true
			continue
		}
		if errors.Is(err, ErrReadOnly) || errors.Is(err, ErrCredentialNotFound) {
			continue
		}
		return err
	}
	if !deleted {
		return ErrCredentialNotFound
	}
	return nil
}

func (c *Chain) List(ctx context.Context, prefix string) ([]string, error) {
	seen := make(map[string]bool)
	var keys []string
	for _, store := range c.stores {
		part, err := store.List(ctx, prefix)
		if err != nil {
			continue
		}
		for _, key := range part {
			if !seen[key] {
				seen[key] = true
				keys = append(keys, key)
			}
		}
	}
	sort.Strings(keys)
	return keys, nil
}

func (c *Chain) Exists(ctx context.Context, key string) (bool, error) {
	for _, store := range c.stores {
		ok, err := store.Exists(ctx, key)
		if err == nil && ok {
			return true, nil
		}
	}
	return false, nil
}

// =============================================================================
// API Key Resolution
// =============================================================================

// DefaultChain returns the CLI lookup chain: PRIVLENS_-prefixed environment
// variables first, then the encrypted credentials file when the vault key
// is configured.
func DefaultChain() Store {
	stores := []Store{NewEnvStore(EnvPrefix)}
	if fs, err := OpenDefaultFileStore(); err == nil {
		stores = append(stores, fs)
	}
	return NewChain(stores...)
}

// ResolveAPIKey returns the API key for one CLI invocation. An explicit
// flag value wins over the store. Expired credentials return
// ErrCredentialExpired.
func ResolveAPIKey(ctx context.Context, flagValue string, store Store) (string, error) {
	if flagValue != "" {
		return flagValue, nil
	}
	if store == nil {
		return "", ErrCredentialNotFound
	}
	cred, err := store.Get(ctx, KeyAPIKey)
	if err != nil {
		return "", err
	}
	if cred.IsExpired() {
		return "", ErrCredentialExpired
	}
	return cred.Value, nil
}

// =============================================================================
// Key Validation
// =============================================================================

// Credential keys are dotted identifiers. The pattern rejects anything that
// could smuggle a path into file-backed stores.
var keyPattern = regexp.MustCompile(`^[a-zA-Z0-9][a-zA-Z0-9._-]*$`)

// ValidateKey checks that a credential key is well formed.
func ValidateKey(key string) error {
	if key == "" {
		return ErrInvalidKey
	}
	if len(key) > 256 {
		return fmt.Errorf("%w: key longer than 256 characters", ErrInvalidKey)
	}
	if strings.Contains(key, "..") || strings.ContainsAny(key, `/\`) {
		return fmt.Errorf("%w: path separators not allowed", ErrInvalidKey)
	}
	if !keyPattern.MatchString(key) {
		return fmt.Errorf("%w: unexpected characters", ErrInvalidKey)
	}
	return nil
}

// =============================================================================
// Secure Memory
// =============================================================================

// SecureClear empties a credential's sensitive fields. Go strings are
// immutable, so this drops references rather than zeroing pages.
func SecureClear(cred *Credential) {
	if cred == nil {
		return
	}
	cred.Key = ""
	cred.Value = ""
	cred.Metadata = nil
	cred.ExpiresAt = nil
}

// =============================================================================
// Interface Compliance
// =============================================================================

var (
	_ Store     = (*EnvStore)(nil)
	_ Store     = (*MemoryStore)(nil)
	_ Store     = (*FileStore)(nil)
	_ Store     = (*Chain)(nil)
	_ Encryptor = (*AESEncryptor)(nil)
)
