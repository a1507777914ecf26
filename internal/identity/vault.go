package identity

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/json"
	"errors"
	"fmt"

	"golang.org/x/crypto/nacl/secretbox"

	"github.com/shotsapp/shots/internal/settings"
)

// VaultKey is the settings key holding the persisted principal.
const VaultKey = settings.KeyIdentitySession

const (
	vaultPlain  byte = 0
	vaultSealed byte = 1
)

// Vault errors.
var (
	ErrVaultLocked  = errors.New("stored session is sealed and no vault key is configured")
	ErrVaultCorrupt = errors.New("stored session cannot be opened")
)

// KeyValue is the slice of the settings store the vault needs.
type KeyValue interface {
	Data(ctx context.Context, key string) ([]byte, error)
	SetData(ctx context.Context, key string, v []byte) error
	Remove(ctx context.Context, key string) error
}

// SessionVault persists the signed-in principal across restarts. With a
// secret configured the record is sealed with NaCl secretbox.
type SessionVault struct {
	kv  KeyValue
	key *[32]byte
}

// NewSessionVault creates a vault over kv. An empty secret stores the
// record unsealed.
func NewSessionVault(kv KeyValue, secret string) *SessionVault {
	v := &SessionVault{kv: kv}
	if secret != "" {
		k := sha256.Sum256([]byte(secret))
		v.key = &k
	}
	return v
}

// Save stores p. A nil principal clears the vault.
func (v *SessionVault) Save(ctx context.Context, p *Principal) error {
	if p == nil {
		return v.kv.Remove(ctx, VaultKey)
	}

	msg, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("failed to encode session: %w", err)
	}

	var record []byte
	if v.key == nil {
		record = append([]byte{vaultPlain}, msg...)
	} else {
		var nonce [24]byte
		if _, err := rand.Read(nonce[:]); err != nil {
			return fmt.Errorf("failed to generate vault nonce: %w", err)
		}
		record = append([]byte{vaultSealed}, nonce[:]...)
		record = secretbox.Seal(record, msg, &nonce, v.key)
	}

	if err := v.kv.SetData(ctx, VaultKey, record); err != nil {
		return fmt.Errorf("failed to store session: %w", err)
	}
	return nil
}

// Load returns the stored principal, or nil when nothing is stored.
func (v *SessionVault) Load(ctx context.Context) (*Principal, error) {
	record, err := v.kv.Data(ctx, VaultKey)
	if err != nil {
		return nil, fmt.Errorf("failed to read session: %w", err)
	}
	if len(record) == 0 {
		return nil, nil
	}

	var msg []byte
	switch record[0] {
	case vaultPlain:
		msg = record[1:]
	case vaultSealed:
		if v.key == nil {
			return nil, ErrVaultLocked
		}
		if len(record) < 1+24+secretbox.Overhead {
			return nil, ErrVaultCorrupt
		}
		var nonce [24]byte
		copy(nonce[:], record[1:25])
		opened, ok := secretbox.Open(nil, record[25:], &nonce, v.key)
		if !ok {
			return nil, ErrVaultCorrupt
		}
		msg = opened
	default:
		return nil, ErrVaultCorrupt
	}

	var p Principal
	if err := json.Unmarshal(msg, &p); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrVaultCorrupt, err)
	}
	if p.UID == "" {
		return nil, ErrVaultCorrupt
	}
	return &p, nil
}
