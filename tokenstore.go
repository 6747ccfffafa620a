/*
 * Copyright 2024 Firebolt Analytics, Inc.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package firebolt

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"time"

	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/pbkdf2"
)

// TokenIdentity keys the token cache. It is derived from the credential
// that earned the token, never from the account name: the same service
// account shares one cached token across accounts.
type TokenIdentity struct {
	ID     string
	Secret string
}

// CacheKey returns a stable, non-reversible key for this identity.
func (id TokenIdentity) CacheKey() string {
	sum := sha256.Sum256([]byte(id.ID + id.Secret))
	return hex.EncodeToString(sum[:])
}

// StoredToken is a cached bearer token together with its expiration time in
// unix seconds. Zero expiration means the token does not expire.
type StoredToken struct {
	Token      string `json:"token"`
	Expiration int64  `json:"expiration,omitempty"`
}

// Expired reports whether the record is past its expiration.
func (t *StoredToken) Expired(now time.Time) bool {
	return t.Expiration != 0 && !now.Before(time.Unix(t.Expiration, 0))
}

// TokenStore persists issued tokens so that new processes skip the
// credential exchange. A miss is (nil, nil), never an error.
type TokenStore interface {
	Get(ctx context.Context, identity TokenIdentity) (*StoredToken, error)
	Put(ctx context.Context, identity TokenIdentity, token *StoredToken) error
	Delete(ctx context.Context, identity TokenIdentity) error
}

// FileTokenStore caches tokens on disk, one file per credential identity.
// Records are sealed with a key derived from the credential secret, so a
// record is only readable by a process holding the same credentials.
type FileTokenStore struct {
	dir string
}

// Ensure FileTokenStore implements TokenStore.
var _ TokenStore = (*FileTokenStore)(nil)

const kdfIterations = 39000

// NewFileTokenStore creates a store rooted at dir, creating it if needed.
// An empty dir defaults to ~/.firebolt.
func NewFileTokenStore(dir string) (*FileTokenStore, error) {
	if dir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, err
		}
		dir = filepath.Join(home, ".firebolt")
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, err
	}
	return &FileTokenStore{dir: dir}, nil
}

// tokenRecord is the on-disk shape. Token is sealed with
// chacha20poly1305 under a PBKDF2 key of (identity secret, salt).
type tokenRecord struct {
	Salt       string `json:"salt"`
	Nonce      string `json:"nonce"`
	Token      string `json:"token"`
	Expiration int64  `json:"expiration,omitempty"`
}

func (s *FileTokenStore) path(identity TokenIdentity) string {
	return filepath.Join(s.dir, identity.CacheKey()+".json")
}

// Get returns the cached token for identity. Missing, unreadable, corrupt
// and expired records are all a miss.
func (s *FileTokenStore) Get(_ context.Context, identity TokenIdentity) (*StoredToken, error) {
	data, err := os.ReadFile(s.path(identity))
	if err != nil {
		return nil, nil
	}

	var rec tokenRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, nil
	}
	salt, err := base64.StdEncoding.DecodeString(rec.Salt)
	if err != nil {
		return nil, nil
	}
	nonce, err := base64.StdEncoding.DecodeString(rec.Nonce)
	if err != nil {
		return nil, nil
	}
	sealed, err := base64.StdEncoding.DecodeString(rec.Token)
	if err != nil {
		return nil, nil
	}

	aead, err := chacha20poly1305.New(deriveKey(identity.Secret, salt))
	if err != nil {
		return nil, nil
	}
	if len(nonce) != aead.NonceSize() {
		return nil, nil
	}
	token, err := aead.Open(nil, nonce, sealed, nil)
	if err != nil {
		// Sealed with different credentials, or tampered with.
		return nil, nil
	}

	tok := &StoredToken{Token: string(token), Expiration: rec.Expiration}
	if tok.Expired(time.Now()) {
		return nil, nil
	}
	return tok, nil
}

// Put seals token and writes it for identity, replacing any previous
// record.
func (s *FileTokenStore) Put(_ context.Context, identity TokenIdentity, token *StoredToken) error {
	salt := make([]byte, 16)
	if _, err := rand.Read(salt); err != nil {
		return err
	}

	aead, err := chacha20poly1305.New(deriveKey(identity.Secret, salt))
	if err != nil {
		return err
	}
	nonce := make([]byte, aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return err
	}
	sealed := aead.Seal(nil, nonce, []byte(token.Token), nil)

	data, err := json.Marshal(tokenRecord{
		Salt:       base64.StdEncoding.EncodeToString(salt),
		Nonce:      base64.StdEncoding.EncodeToString(nonce),
		Token:      base64.StdEncoding.EncodeToString(sealed),
		Expiration: token.Expiration,
	})
	if err != nil {
		return err
	}
	return os.WriteFile(s.path(identity), data, 0o600)
}

// Delete removes the record for identity if one exists.
func (s *FileTokenStore) Delete(_ context.Context, identity TokenIdentity) error {
	err := os.Remove(s.path(identity))
	if os.IsNotExist(err) {
		return nil
	}
	return err
}

func deriveKey(secret string, salt []byte) []byte {
	return pbkdf2.Key([]byte(secret), salt, kdfIterations, chacha20poly1305.KeySize, sha256.New)
}

// MemoryTokenStore caches tokens in process memory. It is what the SDK
// falls back to in tests and in environments without a usable home
// directory.
type MemoryTokenStore struct {
	mu     sync.Mutex
	tokens map[string]StoredToken
}

// Ensure MemoryTokenStore implements TokenStore.
var _ TokenStore = (*MemoryTokenStore)(nil)

// NewMemoryTokenStore creates an empty in-memory store.
func NewMemoryTokenStore() *MemoryTokenStore {
	return &MemoryTokenStore{tokens: make(map[string]StoredToken)}
}

func (s *MemoryTokenStore) Get(_ context.Context, identity TokenIdentity) (*StoredToken, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	tok, ok := s.tokens[identity.CacheKey()]
	if !ok || tok.Expired(time.Now()) {
		return nil, nil
	}
	return &tok, nil
}

func (s *MemoryTokenStore) Put(_ context.Context, identity TokenIdentity, token *StoredToken) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tokens[identity.CacheKey()] = *token
	return nil
}

func (s *MemoryTokenStore) Delete(_ context.Context, identity TokenIdentity) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.tokens, identity.CacheKey())
	return nil
}
