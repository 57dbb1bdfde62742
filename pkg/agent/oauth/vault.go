package oauth

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"os"
	"sync"

	"golang.org/x/crypto/argon2"
	"golang.org/x/term"
)

// Argon2id parameters (OWASP recommended) and vault layout constants.
const (
	vaultArgonTime    = 3
	vaultArgonMemory  = 64 * 1024 // 64 MB
	vaultArgonThreads = 4
	vaultArgonKeyLen  = 32 // AES-256
	vaultSaltLen      = 16

	vaultVerifyKey   = "__verify__"
	vaultVerifyValue = "tgagent-vault-ok"
)

type vaultEntry struct {
	Nonce      string `json:"nonce"`
	Ciphertext string `json:"ciphertext"`
}

type vaultFile struct {
	Version int                   `json:"version"`
	Salt    string                `json:"salt"`
	Entries map[string]vaultEntry `json:"entries"`
}

// Vault is an encrypted file credential store: one AES-256-GCM encrypted
// token record per provider, key derived from a master password with
// Argon2id. It implements Store and is the alternative to the SQLite
// repository when tokens must stay unreadable at rest.
type Vault struct {
	path string

	mu   sync.Mutex
	key  []byte // derived AES key, nil while locked
	data *vaultFile
}

// NewVault creates a vault instance for the given file path. Call Open
// before using it as a Store.
func NewVault(path string) *Vault {
	return &Vault{path: path}
}

// Exists reports whether the vault file exists on disk.
func (v *Vault) Exists() bool {
	_, err := os.Stat(v.path)
	return err == nil
}

// Open unlocks an existing vault or initializes a new one with the given
// master password. A wrong password fails on the verification entry.
func (v *Vault) Open(password string) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	if !v.Exists() {
		salt := make([]byte, vaultSaltLen)
		if _, err := rand.Read(salt); err != nil {
			return fmt.Errorf("generating salt: %w", err)
		}
		v.key = vaultDeriveKey(password, salt)
		v.data = &vaultFile{
			Version: 1,
			Salt:    base64.StdEncoding.EncodeToString(salt),
			Entries: make(map[string]vaultEntry),
		}
		verify, err := vaultEncrypt(v.key, []byte(vaultVerifyValue))
		if err != nil {
			return err
		}
		v.data.Entries[vaultVerifyKey] = verify
		return v.saveLocked()
	}

	raw, err := os.ReadFile(v.path)
	if err != nil {
		return fmt.Errorf("reading vault: %w", err)
	}
	var data vaultFile
	if err := json.Unmarshal(raw, &data); err != nil {
		return fmt.Errorf("parsing vault: %w", err)
	}
	salt, err := base64.StdEncoding.DecodeString(data.Salt)
	if err != nil {
		return fmt.Errorf("decoding salt: %w", err)
	}

	key := vaultDeriveKey(password, salt)
	if verify, ok := data.Entries[vaultVerifyKey]; ok {
		if _, err := vaultDecrypt(key, verify); err != nil {
			return fmt.Errorf("wrong vault password")
		}
	}

	v.key = key
	v.data = &data
	return nil
}

// Lock zeroes the derived key, locking the vault.
func (v *Vault) Lock() {
	v.mu.Lock()
	defer v.mu.Unlock()
	for i := range v.key {
		v.key[i] = 0
	}
	v.key = nil
}

// GetToken decrypts the token record for a provider, or returns nil if
// none is stored.
func (v *Vault) GetToken(_ context.Context, provider string) (*Token, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	if v.key == nil {
		return nil, fmt.Errorf("vault is locked")
	}
	entry, ok := v.data.Entries[provider]
	if !ok {
		return nil, nil
	}
	plaintext, err := vaultDecrypt(v.key, entry)
	if err != nil {
		return nil, fmt.Errorf("decrypting token for %s: %w", provider, err)
	}
	var token Token
	if err := json.Unmarshal(plaintext, &token); err != nil {
		return nil, fmt.Errorf("parsing token for %s: %w", provider, err)
	}
	return &token, nil
}

// SaveToken encrypts and persists the token record, replacing any
// previous record for the same provider.
func (v *Vault) SaveToken(_ context.Context, token *Token) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	if v.key == nil {
		return fmt.Errorf("vault is locked")
	}
	plaintext, err := json.Marshal(token)
	if err != nil {
		return fmt.Errorf("encoding token: %w", err)
	}
	entry, err := vaultEncrypt(v.key, plaintext)
	if err != nil {
		return fmt.Errorf("encrypting token for %s: %w", token.Provider, err)
	}
	v.data.Entries[token.Provider] = entry
	return v.saveLocked()
}

// DeleteToken removes the provider's token record.
func (v *Vault) DeleteToken(_ context.Context, provider string) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	if v.key == nil {
		return fmt.Errorf("vault is locked")
	}
	delete(v.data.Entries, provider)
	return v.saveLocked()
}

func (v *Vault) saveLocked() error {
	data, err := json.MarshalIndent(v.data, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling vault: %w", err)
	}
	if err := os.WriteFile(v.path, data, 0o600); err != nil {
		return fmt.Errorf("writing vault: %w", err)
	}
	return nil
}

func vaultDeriveKey(password string, salt []byte) []byte {
	return argon2.IDKey([]byte(password), salt, vaultArgonTime, vaultArgonMemory, vaultArgonThreads, vaultArgonKeyLen)
}

func vaultEncrypt(key, plaintext []byte) (vaultEntry, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return vaultEntry{}, err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return vaultEntry{}, err
	}
	nonce := make([]byte, gcm.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return vaultEntry{}, err
	}
	ciphertext := gcm.Seal(nil, nonce, plaintext, nil)
	return vaultEntry{
		Nonce:      base64.StdEncoding.EncodeToString(nonce),
		Ciphertext: base64.StdEncoding.EncodeToString(ciphertext),
	}, nil
}

func vaultDecrypt(key []byte, entry vaultEntry) ([]byte, error) {
	nonce, err := base64.StdEncoding.DecodeString(entry.Nonce)
	if err != nil {
		return nil, fmt.Errorf("decoding nonce: %w", err)
	}
	ciphertext, err := base64.StdEncoding.DecodeString(entry.Ciphertext)
	if err != nil {
		return nil, fmt.Errorf("decoding ciphertext: %w", err)
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}
	plaintext, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, fmt.Errorf("decryption failed (wrong password?)")
	}
	return plaintext, nil
}

// ReadPassword reads a password from the terminal without echoing,
// falling back to plain stdin when not attached to a TTY.
func ReadPassword(prompt string) (string, error) {
	fmt.Print(prompt)
	fd := int(os.Stdin.Fd())
	password, err := term.ReadPassword(fd)
	if err != nil {
		var buf [1024]byte
		n, readErr := os.Stdin.Read(buf[:])
		if readErr != nil {
			return "", fmt.Errorf("reading password: %w", readErr)
		}
		password = buf[:n]
	}
	fmt.Println()

	s := string(password)
	for len(s) > 0 && (s[len(s)-1] == '\n' || s[len(s)-1] == '\r') {
		s = s[:len(s)-1]
	}
	return s, nil
}
