// Package credentials is the opaque get/set-secret service consumed by provider resolution.
//
// Secrets live in an encrypted file (<dir>/.agentcore/secrets.json.enc, scrypt-derived
// AES-256-GCM) and fall back to environment variables of the same name.
package credentials

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"golang.org/x/crypto/scrypt"

	"agentcore/pkg/logx"
)

// Secrets file configuration.
const (
	FileName  = "secrets.json.enc"
	saltSize  = 16
	nonceSize = 12
	scryptN   = 32768
	scryptR   = 8
	scryptP   = 1
	keySize   = 32
	gcmTagLen = 16
)

// ErrWrongPassword is returned when the secrets file cannot be authenticated.
var ErrWrongPassword = errors.New("incorrect password or corrupted secrets file")

// Lookup returns the secret for ref. ok is false when nothing is stored.
type Lookup interface {
	Get(ref string) (value string, ok bool)
}

// Store is an in-memory secret set backed by the encrypted file.
type Store struct {
	secrets map[string]string
	getenv  func(string) string
	mu      sync.RWMutex
}

// NewStore creates an empty store that falls back to the process environment.
func NewStore() *Store {
	return &Store{secrets: make(map[string]string), getenv: os.Getenv}
}

// Static returns a store holding exactly the given secrets and no environment fallback.
func Static(secrets map[string]string) *Store {
	s := &Store{secrets: make(map[string]string, len(secrets)), getenv: func(string) string { return "" }}
	for k, v := range secrets {
		s.secrets[k] = v
	}
	return s
}

// Get returns the stored secret, then the environment variable named ref.
func (s *Store) Get(ref string) (string, bool) {
	if ref == "" {
		return "", false
	}
	s.mu.RLock()
	v, ok := s.secrets[ref]
	s.mu.RUnlock()
	if ok && v != "" {
		return v, true
	}
	if v := s.getenv(ref); v != "" {
		return v, true
	}
	return "", false
}

// Set stores a secret in memory.
func (s *Store) Set(ref, value string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.secrets[ref] = value
}

// Delete removes a secret from memory.
func (s *Store) Delete(ref string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.secrets, ref)
}

// Names returns the stored secret names (not values), sorted.
func (s *Store) Names() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	names := make([]string, 0, len(s.secrets))
	for n := range s.secrets {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Path returns the secrets file location for dir.
func Path(dir string) string {
	return filepath.Join(dir, ".agentcore", FileName)
}

// Exists reports whether a secrets file is present in dir.
func Exists(dir string) bool {
	_, err := os.Stat(Path(dir))
	return err == nil
}

// Save encrypts the in-memory secrets into dir.
func (s *Store) Save(dir, password string) error {
	s.mu.RLock()
	snapshot := make(map[string]string, len(s.secrets))
	for k, v := range s.secrets {
		snapshot[k] = v
	}
	s.mu.RUnlock()
	return encryptFile(Path(dir), password, snapshot)
}

// Load decrypts the secrets file in dir and merges it into the store.
func (s *Store) Load(dir, password string) error {
	secrets, err := decryptFile(Path(dir), password)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for k, v := range secrets {
		s.secrets[k] = v
	}
	return nil
}

func deriveKey(password string, salt []byte) ([]byte, error) {
	pw := []byte(password)
	defer zero(pw)
	key, err := scrypt.Key(pw, salt, scryptN, scryptR, scryptP, keySize)
	if err != nil {
		return nil, fmt.Errorf("failed to derive encryption key: %w", err)
	}
	return key, nil
}

func newGCM(key []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM: %w", err)
	}
	return gcm, nil
}

// encryptFile writes [salt][nonce][ciphertext+tag] with 0600 permissions.
func encryptFile(path, password string, secrets map[string]string) error {
	salt := make([]byte, saltSize)
	if _, err := rand.Read(salt); err != nil {
		return fmt.Errorf("failed to generate salt: %w", err)
	}
	key, err := deriveKey(password, salt)
	if err != nil {
		return err
	}
	defer zero(key)

	plaintext, err := json.Marshal(secrets)
	if err != nil {
		return fmt.Errorf("failed to marshal secrets: %w", err)
	}
	defer zero(plaintext)

	gcm, err := newGCM(key)
	if err != nil {
		return err
	}
	nonce := make([]byte, nonceSize)
	if _, err := rand.Read(nonce); err != nil {
		return fmt.Errorf("failed to generate nonce: %w", err)
	}
	ciphertext := gcm.Seal(nil, nonce, plaintext, nil)

	data := make([]byte, 0, saltSize+nonceSize+len(ciphertext))
	data = append(data, salt...)
	data = append(data, nonce...)
	data = append(data, ciphertext...)

	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return fmt.Errorf("failed to create secrets directory: %w", err)
	}
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write secrets file: %w", err)
	}
	return nil
}

func decryptFile(path, password string) (map[string]string, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("failed to stat secrets file: %w", err)
	}
	if info.Mode().Perm() != 0600 {
		logx.Warnf("Secrets file %s has permissions %04o, fixing to 0600", path, info.Mode().Perm())
		if err := os.Chmod(path, 0600); err != nil {
			return nil, fmt.Errorf("failed to fix file permissions: %w", err)
		}
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read secrets file: %w", err)
	}
	if len(data) < saltSize+nonceSize+gcmTagLen {
		return nil, fmt.Errorf("secrets file is corrupted or invalid format (too small)")
	}
	salt := data[:saltSize]
	nonce := data[saltSize : saltSize+nonceSize]
	ciphertext := data[saltSize+nonceSize:]

	key, err := deriveKey(password, salt)
	if err != nil {
		return nil, err
	}
	defer zero(key)

	gcm, err := newGCM(key)
	if err != nil {
		return nil, err
	}
	plaintext, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, ErrWrongPassword
	}
	defer zero(plaintext)

	var secrets map[string]string
	if err := json.Unmarshal(plaintext, &secrets); err != nil {
		return nil, fmt.Errorf("failed to parse decrypted secrets: %w", err)
	}
	return secrets, nil
}

func zero(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
