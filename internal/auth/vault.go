package auth

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/mjuhola/sessionguard/internal/api"
	"github.com/mjuhola/sessionguard/internal/storage"
)

// ErrSessionEnded is returned when an operation carries an epoch from a
// session that has since been torn down. The result it was carrying must be
// discarded, never applied.
var ErrSessionEnded = errors.New("session ended")

// Vault is the single writer for the in-memory token pair and its durable
// mirror. Memory and storage are mutated under one lock, so a reader never
// observes a token in memory that does not match what is persisted.
//
// The epoch counter advances every time the credentials are cleared. An
// in-flight refresh captures the epoch before it starts; if logout happens
// meanwhile, ApplyRefresh rejects the stale result instead of resurrecting
// credentials for a dead session.
type Vault struct {
	mu    sync.Mutex
	store storage.CredentialStore
	pair  *api.TokenPair
	epoch uint64
}

func NewVault(store storage.CredentialStore) *Vault {
	return &Vault{store: store}
}

// Load reads the persisted pair into memory on startup. A missing pair is
// not an error; the vault just stays empty.
func (v *Vault) Load(ctx context.Context) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	pair, err := v.store.Load(ctx)
	if errors.Is(err, storage.ErrNoCredentials) {
		v.pair = nil
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to load persisted credentials: %w", err)
	}

	v.pair = pair
	return nil
}

// SetPair persists the pair and updates memory atomically with respect to
// readers.
func (v *Vault) SetPair(ctx context.Context, pair api.TokenPair) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.setLocked(ctx, pair)
}

func (v *Vault) setLocked(ctx context.Context, pair api.TokenPair) error {
	if err := v.store.Save(ctx, pair); err != nil {
		return fmt.Errorf("failed to persist credentials: %w", err)
	}
	p := pair
	v.pair = &p
	return nil
}

// Clear removes the pair from memory and durable storage and advances the
// epoch, invalidating any refresh still in flight.
func (v *Vault) Clear(ctx context.Context) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.clearLocked(ctx)
}

func (v *Vault) clearLocked(ctx context.Context) error {
	v.pair = nil
	v.epoch++
	if err := v.store.Delete(ctx); err != nil {
		return fmt.Errorf("failed to delete persisted credentials: %w", err)
	}
	return nil
}

// AccessToken returns the current access token, if any.
func (v *Vault) AccessToken() (string, bool) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.pair == nil {
		return "", false
	}
	return v.pair.AccessToken, true
}

// RefreshToken returns the current refresh token, if any.
func (v *Vault) RefreshToken() (string, bool) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.pair == nil {
		return "", false
	}
	return v.pair.RefreshToken, true
}

// HasPair reports whether a token pair is currently held.
func (v *Vault) HasPair() bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.pair != nil
}

// Epoch returns the current session generation.
func (v *Vault) Epoch() uint64 {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.epoch
}

// ApplyRefresh installs a refreshed pair, but only if the session that
// initiated the refresh is still alive. Returns ErrSessionEnded otherwise.
func (v *Vault) ApplyRefresh(ctx context.Context, epoch uint64, pair api.TokenPair) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	if v.epoch != epoch {
		return ErrSessionEnded
	}
	return v.setLocked(ctx, pair)
}

// ClearIfEpoch clears the credentials only if the given session generation
// is still current. A no-op when the session already ended.
func (v *Vault) ClearIfEpoch(ctx context.Context, epoch uint64) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	if v.epoch != epoch {
		return nil
	}
	return v.clearLocked(ctx)
}
