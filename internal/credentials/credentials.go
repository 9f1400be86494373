// Package credentials keeps the operator's exchange keys and backend identity
// on disk. Secrets are sealed with AES-256-GCM.
package credentials

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/denisbrodbeck/machineid"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/digitalinkpact/cryptopiggy/internal/backend"
	"github.com/digitalinkpact/cryptopiggy/pkg/crypto"
)

// Acknowledgment must be typed before keys are stored.
const Acknowledgment = "I UNDERSTAND THE RISKS"

const appID = "cryptopiggy"

var (
	ErrNotAcknowledged = errors.New("credentials: risk acknowledgment not given")
	ErrMissingKeys     = errors.New("credentials: api key and secret are required")
)

// Record is the stored credential set.
type Record struct {
	UserID     string `json:"user_id"`
	Exchange   string `json:"exchange"`
	APIKey     string `json:"api_key"`
	APISecret  string `json:"api_secret"`
	BackendURL string `json:"backend_url"`
	Validated  bool   `json:"validated"`
}

// HasKeys reports whether both key and secret are set.
func (r Record) HasKeys() bool { return r.APIKey != "" && r.APISecret != "" }

// Masked returns r with the secret hidden and the key shortened, for display.
func (r Record) Masked() Record {
	r.APISecret = mask(r.APISecret, 0)
	r.APIKey = mask(r.APIKey, 4)
	return r
}

func mask(s string, keep int) string {
	if s == "" {
		return ""
	}
	if len(s) <= keep {
		return strings.Repeat("*", len(s))
	}
	return s[:keep] + strings.Repeat("*", 8)
}

// Defaults fill fields missing from the file, usually from the environment.
type Defaults struct {
	UserID     string
	Exchange   string
	APIKey     string
	APISecret  string
	BackendURL string
}

// Store reads and writes the credentials file.
type Store struct {
	path string
	enc  *crypto.Encryptor
	log  *zap.Logger
}

// NewStore seals secrets with key (32 bytes).
func NewStore(path string, key []byte, logger *zap.Logger) (*Store, error) {
	enc, err := crypto.NewEncryptor(key, 1)
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{path: path, enc: enc, log: logger.Named("credentials")}, nil
}

// Key returns the sealing key: the base64 value when given, else a key derived
// from the machine id.
func Key(b64 string) ([]byte, error) {
	if b64 != "" {
		return crypto.ParseKey(b64)
	}
	id, err := machineid.ProtectedID(appID)
	if err != nil {
		return nil, fmt.Errorf("machine id: %w", err)
	}
	return crypto.DeriveKey(id, appID), nil
}

// DefaultUserID is a stable per-host id, or a random UUID when the host id is
// unavailable.
func DefaultUserID() string {
	if id, err := machineid.ProtectedID(appID); err == nil && id != "" {
		if len(id) > 32 {
			id = id[:32]
		}
		return id
	}
	return uuid.NewString()
}

// Load reads the file and fills gaps from def. A missing or unreadable file
// yields just the defaults.
func (s *Store) Load(def Defaults) Record {
	var rec Record
	data, err := os.ReadFile(s.path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
	case err != nil:
		s.log.Warn("read credentials failed", zap.Error(err))
	default:
		if err := json.Unmarshal(data, &rec); err != nil {
			s.log.Warn("credentials file is not valid JSON", zap.String("path", s.path), zap.Error(err))
			rec = Record{}
		}
	}

	rec.APIKey = s.open(rec.APIKey)
	rec.APISecret = s.open(rec.APISecret)

	rec.UserID = firstNonEmpty(rec.UserID, def.UserID)
	if rec.UserID == "" {
		rec.UserID = DefaultUserID()
	}
	rec.Exchange = firstNonEmpty(rec.Exchange, def.Exchange, "binanceus")
	rec.APIKey = firstNonEmpty(rec.APIKey, def.APIKey)
	rec.APISecret = firstNonEmpty(rec.APISecret, def.APISecret)
	rec.BackendURL = firstNonEmpty(rec.BackendURL, def.BackendURL, "http://localhost:8000")
	return rec
}

// open decrypts v; plaintext from older files passes through.
func (s *Store) open(v string) string {
	if !crypto.IsEncrypted(v) {
		return v
	}
	plain, err := s.enc.Decrypt(v)
	if err != nil {
		s.log.Warn("cannot decrypt stored secret; re-enter credentials", zap.Error(err))
		return ""
	}
	return plain
}

// Save writes rec with sealed secrets, readable by the owner only.
func (s *Store) Save(rec Record) error {
	var err error
	out := rec
	if out.APIKey != "" {
		if out.APIKey, err = s.enc.Encrypt(rec.APIKey); err != nil {
			return err
		}
	}
	if out.APISecret != "" {
		if out.APISecret, err = s.enc.Encrypt(rec.APISecret); err != nil {
			return err
		}
	}
	data, err := json.MarshalIndent(out, "", "  ")
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0o700); err != nil {
		return err
	}
	return os.WriteFile(s.path, data, 0o600)
}

// Configure stores new keys after the typed acknowledgment. Changing keys
// clears the validated flag.
func (s *Store) Configure(ack string, rec Record) (Record, error) {
	if subtle.ConstantTimeCompare([]byte(strings.TrimSpace(ack)), []byte(Acknowledgment)) != 1 {
		return rec, ErrNotAcknowledged
	}
	rec.APIKey = strings.TrimSpace(rec.APIKey)
	rec.APISecret = strings.TrimSpace(rec.APISecret)
	if !rec.HasKeys() {
		return rec, ErrMissingKeys
	}
	rec.Exchange = strings.ToLower(strings.TrimSpace(rec.Exchange))
	rec.Validated = false
	if err := s.Save(rec); err != nil {
		return rec, err
	}
	s.log.Info("credentials stored", zap.String("exchange", rec.Exchange), zap.String("user_id", rec.UserID))
	return rec, nil
}

// Syncer is the backend call used by Sync.
type Syncer interface {
	SyncCredentials(ctx context.Context, req backend.CredentialsRequest) backend.SyncResult
}

// Sync sends the keys to the backend for validation and persists the
// validated flag.
func (s *Store) Sync(ctx context.Context, b Syncer, rec Record) (Record, backend.SyncResult, error) {
	if rec.UserID == "" {
		return rec, backend.SyncResult{}, backend.ErrNoUserID
	}
	if !rec.HasKeys() {
		return rec, backend.SyncResult{}, ErrMissingKeys
	}
	res := b.SyncCredentials(ctx, backend.CredentialsRequest{
		UserID:    rec.UserID,
		Exchange:  rec.Exchange,
		APIKey:    rec.APIKey,
		APISecret: rec.APISecret,
	})
	rec.Validated = res.Validated()
	if err := s.Save(rec); err != nil {
		return rec, res, err
	}
	if rec.Validated {
		s.log.Info("credentials validated by backend", zap.String("user_id", rec.UserID))
	} else {
		s.log.Warn("credential sync failed", zap.String("reason", res.Message()))
	}
	return rec, res, nil
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
