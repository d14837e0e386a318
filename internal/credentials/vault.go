// Package credentials stores provider credentials as sealed blobs. The
// payload shape is owned by the provider adapters; this package only
// seals, unseals, and addresses blobs by (user, platform, account).
package credentials

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/jmylchreest/recarr/internal/models"
	"github.com/jmylchreest/recarr/internal/recerr"
	"github.com/jmylchreest/recarr/internal/repository"
)

// ErrSealedTooShort is returned when a stored blob is shorter than the
// nonce it must carry.
var ErrSealedTooShort = errors.New("sealed blob too short")

// Sealer encrypts and decrypts credential payloads.
type Sealer interface {
	Seal(plain []byte) ([]byte, error)
	Open(sealed []byte) ([]byte, error)
}

// aesSealer is an AES-256-GCM sealer with the nonce prefixed to the
// ciphertext.
type aesSealer struct {
	aead cipher.AEAD
}

// NewAESSealer creates a sealer from a 32-byte key.
func NewAESSealer(key []byte) (Sealer, error) {
	if len(key) != 32 {
		return nil, fmt.Errorf("sealer key must be 32 bytes, got %d", len(key))
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("creating cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("creating gcm: %w", err)
	}
	return &aesSealer{aead: aead}, nil
}

func (s *aesSealer) Seal(plain []byte) ([]byte, error) {
	nonce := make([]byte, s.aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("generating nonce: %w", err)
	}
	return s.aead.Seal(nonce, nonce, plain, nil), nil
}

func (s *aesSealer) Open(sealed []byte) ([]byte, error) {
	ns := s.aead.NonceSize()
	if len(sealed) < ns {
		return nil, ErrSealedTooShort
	}
	plain, err := s.aead.Open(nil, sealed[:ns], sealed[ns:], nil)
	if err != nil {
		return nil, fmt.Errorf("opening sealed blob: %w", err)
	}
	return plain, nil
}

// Vault addresses sealed credential payloads by identity.
type Vault struct {
	repo   repository.CredentialRepository
	sealer Sealer
}

// NewVault creates a vault over the credential repository.
func NewVault(repo repository.CredentialRepository, sealer Sealer) *Vault {
	return &Vault{repo: repo, sealer: sealer}
}

// Store seals payload and upserts the credential row of
// (user, platform, account).
func (v *Vault) Store(ctx context.Context, userID models.ULID, platform, account string, payload any) (*models.Credential, error) {
	plain, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encoding credential payload: %w", err)
	}
	blob, err := v.sealer.Seal(plain)
	if err != nil {
		return nil, err
	}

	cred, err := v.repo.GetByIdentity(ctx, userID, platform, account)
	if err != nil {
		return nil, err
	}
	if cred != nil {
		cred.Blob = blob
		if err := v.repo.Update(ctx, cred); err != nil {
			return nil, err
		}
		return cred, nil
	}

	cred = &models.Credential{
		UserID:      userID,
		Platform:    platform,
		AccountName: account,
		Blob:        blob,
	}
	if err := v.repo.Create(ctx, cred); err != nil {
		return nil, err
	}
	return cred, nil
}

// Fetch unseals the credential of (user, platform, account) into out.
// Disabled or missing credentials surface as auth errors so pipeline
// steps fail without retry.
func (v *Vault) Fetch(ctx context.Context, userID models.ULID, platform, account string, out any) error {
	cred, err := v.repo.GetByIdentity(ctx, userID, platform, account)
	if err != nil {
		return err
	}
	if cred == nil {
		return recerr.New(recerr.KindAuthExpired, "no credential for %s/%s", platform, account)
	}
	if !cred.IsEnabled() {
		return recerr.New(recerr.KindAuthExpired, "credential %s/%s is disabled", platform, account)
	}
	return v.open(cred, out)
}

// FetchByID unseals a credential addressed by id.
func (v *Vault) FetchByID(ctx context.Context, id, userID models.ULID, out any) (*models.Credential, error) {
	cred, err := v.repo.GetByID(ctx, id, userID)
	if err != nil {
		return nil, err
	}
	if cred == nil {
		return nil, recerr.NotFound("credential")
	}
	if !cred.IsEnabled() {
		return nil, recerr.New(recerr.KindAuthExpired, "credential %s/%s is disabled", cred.Platform, cred.AccountName)
	}
	if err := v.open(cred, out); err != nil {
		return nil, err
	}
	return cred, nil
}

func (v *Vault) open(cred *models.Credential, out any) error {
	plain, err := v.sealer.Open(cred.Blob)
	if err != nil {
		return fmt.Errorf("unsealing credential %s/%s: %w", cred.Platform, cred.AccountName, err)
	}
	if err := json.Unmarshal(plain, out); err != nil {
		return fmt.Errorf("decoding credential payload: %w", err)
	}
	return nil
}

// TrackRefreshToken records a refresh-token lifetime so maintenance can
// prune dead grants.
func (v *Vault) TrackRefreshToken(ctx context.Context, userID, credentialID models.ULID, expiresAt models.Time) error {
	return v.repo.SaveRefreshToken(ctx, &models.RefreshToken{
		UserID:       userID,
		CredentialID: credentialID,
		ExpiresAt:    expiresAt,
	})
}
