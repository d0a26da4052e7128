// Package store implements the hub's persisted account table: a map
// from registered nick to credential class and password material,
// generalizing the `hubdb` package the teacher's cmd/go-hub/cmd wired
// but never included in the retrieved tree.
package store

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/json"
	"errors"
	"io"

	"github.com/hidal-go/hidalgo/kv"
	"github.com/hidal-go/hidalgo/kv/flat"
	"golang.org/x/crypto/bcrypt"

	"github.com/klondi/mimicmod-lan/internal/registry"
	"github.com/klondi/mimicmod-lan/internal/session"
)

// ErrNotFound is returned when a nick has no registered account.
var ErrNotFound = errors.New("store: account not found")

// record is the on-disk shape of one account.
//
// The live ADC challenge-response in spec §4.3 is
// base32(SHA256(password||challenge)): the hub must recover the
// password bytes on every login, so a one-way bcrypt hash cannot be
// the sole record — AES-GCM-sealed password bytes back the protocol
// path. PasswordHash is a separate bcrypt digest of the same password
// used only by ConfirmPassword, the slower, non-protocol-path check
// for callers that already hold the plaintext; it never needs to
// recover plaintext.
type record struct {
	Credentials   registry.Credentials `json:"credentials"`
	SealedPassword []byte              `json:"sealed_password,omitempty"`
	PasswordHash   []byte              `json:"password_hash,omitempty"`
	Restricted     bool                `json:"restricted,omitempty"`
}

// Store is the account table, backed by a hidalgo key/value database.
// The hub opens an in-memory flat store by default; operators point
// it at a durable backend (bolt, badger, ...) via the same kv.KV
// interface.
type Store struct {
	db  kv.KV
	gcm cipher.AEAD
}

// Open wraps an already-opened hidalgo KV handle. key must be 16, 24,
// or 32 bytes (AES-128/192/256). The key is not stored anywhere by
// this package.
func Open(db kv.KV, key []byte) (*Store, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}
	return &Store{db: db, gcm: gcm}, nil
}

// OpenMemory opens a process-local, non-persistent store with a
// freshly generated key, useful for tests and ephemeral hubs.
func OpenMemory() *Store {
	key := make([]byte, 32)
	_, _ = rand.Read(key)
	s, err := Open(flat.New(flat.NewMemMap()), key)
	if err != nil {
		panic(err) // fixed 32-byte AES-256 key can never fail to construct
	}
	return s
}

func accountKey(nick string) kv.Key {
	return kv.Key{[]byte("account"), []byte(nick)}
}

func (s *Store) seal(password string) ([]byte, error) {
	nonce := make([]byte, s.gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, err
	}
	return s.gcm.Seal(nonce, nonce, []byte(password), nil), nil
}

func (s *Store) unseal(sealed []byte) (string, error) {
	n := s.gcm.NonceSize()
	if len(sealed) < n {
		return "", errors.New("store: sealed password truncated")
	}
	plain, err := s.gcm.Open(nil, sealed[:n], sealed[n:], nil)
	if err != nil {
		return "", err
	}
	return string(plain), nil
}

// Register creates or overwrites a password-protected account.
func (s *Store) Register(ctx context.Context, nick, password string, cred registry.Credentials) error {
	sealed, err := s.seal(password)
	if err != nil {
		return err
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return err
	}
	rec := record{Credentials: cred, SealedPassword: sealed, PasswordHash: hash}
	return s.put(ctx, nick, rec)
}

// RegisterNoPassword creates or overwrites an account that logs in
// without a password challenge.
func (s *Store) RegisterNoPassword(ctx context.Context, nick string, cred registry.Credentials) error {
	return s.put(ctx, nick, record{Credentials: cred})
}

// SetRestricted marks a nick as reserved (spec §4.3 "restricted-nick
// ACL"), independent of whether it has a registered account.
func (s *Store) SetRestricted(ctx context.Context, nick string) error {
	rec, err := s.get(ctx, nick)
	if err != nil && err != ErrNotFound {
		return err
	}
	rec.Restricted = true
	return s.put(ctx, nick, rec)
}

func (s *Store) put(ctx context.Context, nick string, rec record) error {
	buf, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	tx, err := s.db.Tx(ctx, true)
	if err != nil {
		return err
	}
	if err := tx.Put(accountKey(nick), kv.Value(buf)); err != nil {
		tx.Close()
		return err
	}
	return tx.Commit(ctx)
}

func (s *Store) get(ctx context.Context, nick string) (record, error) {
	tx, err := s.db.Tx(ctx, false)
	if err != nil {
		return record{}, err
	}
	defer tx.Close()
	vals, err := tx.Get(ctx, []kv.Key{accountKey(nick)})
	if err != nil {
		return record{}, err
	}
	if len(vals) == 0 || vals[0] == nil {
		return record{}, ErrNotFound
	}
	var rec record
	if err := json.Unmarshal(vals[0], &rec); err != nil {
		return record{}, err
	}
	return rec, nil
}

// Account reports the credential class and password requirement for
// a nick, matching the session.ACL.Account contract.
func (s *Store) Account(nick string) (cred registry.Credentials, needsPassword bool, found bool) {
	rec, err := s.get(context.Background(), nick)
	if err != nil {
		return 0, false, false
	}
	return rec.Credentials, len(rec.SealedPassword) > 0, true
}

// NickRestricted reports whether nick is on the restricted list.
func (s *Store) NickRestricted(nick string) bool {
	rec, err := s.get(context.Background(), nick)
	if err != nil {
		return false
	}
	return rec.Restricted
}

// VerifyPassword checks a base32(SHA256(password||challenge))
// response against the sealed password on file, per spec §4.3.
func (s *Store) VerifyPassword(nick, challenge, response string) bool {
	rec, err := s.get(context.Background(), nick)
	if err != nil || len(rec.SealedPassword) == 0 {
		return false
	}
	password, err := s.unseal(rec.SealedPassword)
	if err != nil {
		return false
	}
	return session.VerifyChallengeResponse(password, challenge, response)
}

// ConfirmPassword checks a plaintext password against the account's
// bcrypt digest, for operator-facing flows (e.g. a password change)
// that hold the plaintext directly and so never need SealedPassword.
func (s *Store) ConfirmPassword(nick, password string) bool {
	rec, err := s.get(context.Background(), nick)
	if err != nil || len(rec.PasswordHash) == 0 {
		return false
	}
	return bcrypt.CompareHashAndPassword(rec.PasswordHash, []byte(password)) == nil
}

