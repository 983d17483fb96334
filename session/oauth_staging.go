package session

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"time"

	"github.com/pkg/errors"

	clienterrors "github.com/hanzong05/farm2go-sub002/internal/errors"
)

const verifierLength = 32

// StagedAuth is the handshake state written immediately before an external
// auth redirect and read back by the callback screen. Entries expire after
// the staging TTL and are discarded on read.
type StagedAuth struct {
	State        string    `json:"state"`
	CodeVerifier string    `json:"code_verifier"`
	Nonce        string    `json:"nonce"`
	RedirectTo   string    `json:"redirect_to,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
}

// NewStagedAuth generates a staging entry with fresh state, PKCE verifier,
// and nonce values.
func NewStagedAuth(redirectTo string) (*StagedAuth, error) {
	state, err := randomURLSafe(verifierLength)
	if err != nil {
		return nil, errors.Wrap(err, "[NewStagedAuth] generate state")
	}
	verifier, err := randomURLSafe(verifierLength)
	if err != nil {
		return nil, errors.Wrap(err, "[NewStagedAuth] generate verifier")
	}
	nonce, err := randomURLSafe(verifierLength)
	if err != nil {
		return nil, errors.Wrap(err, "[NewStagedAuth] generate nonce")
	}

	return &StagedAuth{
		State:        state,
		CodeVerifier: verifier,
		Nonce:        nonce,
		RedirectTo:   redirectTo,
	}, nil
}

// Challenge returns the S256 PKCE challenge for the staged verifier.
func (a *StagedAuth) Challenge() string {
	hash := sha256.Sum256([]byte(a.CodeVerifier))
	return base64.URLEncoding.WithPadding(base64.NoPadding).EncodeToString(hash[:])
}

// StageAuth persists the staging entry, stamping its creation time.
func (s *Store) StageAuth(entry *StagedAuth) error {
	if entry == nil {
		return errors.New("[StageAuth] entry is required")
	}
	entry.CreatedAt = s.nowTime()

	blob, err := json.Marshal(entry)
	if err != nil {
		return errors.Wrap(err, "[StageAuth] marshal entry")
	}
	if err := s.blobs.Set(keyStagedAuth, blob); err != nil {
		return errors.Wrap(err, "[StageAuth] persist entry")
	}
	return nil
}

// ConsumeStagedAuth reads and discards the staging entry. Returns
// ErrStagingNotFound when none exists and ErrStagingExpired when the TTL has
// elapsed; expired entries are purged on read.
func (s *Store) ConsumeStagedAuth() (*StagedAuth, error) {
	blob, err := s.blobs.Get(keyStagedAuth)
	if err != nil {
		return nil, clienterrors.ErrStagingNotFound
	}

	// One-shot: the entry is gone regardless of the outcome below.
	if err := s.blobs.Delete(keyStagedAuth); err != nil {
		s.log.Warn().Err(err).Msg("failed to purge staged auth entry")
	}

	var entry StagedAuth
	if err := json.Unmarshal(blob, &entry); err != nil {
		return nil, errors.Wrap(err, "[ConsumeStagedAuth] unmarshal entry")
	}

	if s.nowTime().Sub(entry.CreatedAt) > s.stagingTTL {
		return nil, clienterrors.ErrStagingExpired
	}

	return &entry, nil
}

// ClearStagedAuth removes any staged entry without reading it.
func (s *Store) ClearStagedAuth() error {
	return s.blobs.Delete(keyStagedAuth)
}

func randomURLSafe(length int) (string, error) {
	buf := make([]byte, length)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return base64.URLEncoding.WithPadding(base64.NoPadding).EncodeToString(buf), nil
}
