// ABOUTME: Loads operator-provisioned API keys from a TOML seed file
// ABOUTME: Raw keys are hashed before storage; existing keys are left alone

package server

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/google/uuid"

	"github.com/ravediamond/mcph-gateway/internal/auth"
	"github.com/ravediamond/mcph-gateway/internal/store"
)

// keySeedFile is the TOML shape of an API key seed file:
//
//	[[keys]]
//	owner = "ops"
//	name = "ci-deploy"
//	key = "mcph_live_..."
//	scopes = ["crates:read", "crates:write"]
type keySeedFile struct {
	Keys []keySeed `toml:"keys"`
}

type keySeed struct {
	Owner  string   `toml:"owner"`
	Name   string   `toml:"name"`
	Key    string   `toml:"key"`
	Scopes []string `toml:"scopes"`
}

// SeedKeys loads API keys from a TOML file into the store. Keys whose hash
// already exists are skipped, so re-running at every startup is safe.
func SeedKeys(ctx context.Context, keys store.KeyStore, path string, logger *slog.Logger) error {
	if logger == nil {
		logger = slog.Default()
	}

	var file keySeedFile
	if _, err := toml.DecodeFile(path, &file); err != nil {
		return fmt.Errorf("parsing key file %s: %w", path, err)
	}

	created := 0
	for i, seed := range file.Keys {
		if seed.Owner == "" || seed.Key == "" {
			return fmt.Errorf("key entry %d: owner and key are required", i)
		}

		hash := auth.HashKey(seed.Key)
		if _, err := keys.GetKeyByHash(ctx, hash); err == nil {
			continue
		} else if err != store.ErrNotFound {
			return fmt.Errorf("checking existing key for %s: %w", seed.Owner, err)
		}

		err := keys.CreateKey(ctx, &store.APIKey{
			ID:        uuid.New().String(),
			OwnerID:   seed.Owner,
			Name:      seed.Name,
			KeyHash:   hash,
			Scopes:    seed.Scopes,
			Active:    true,
			CreatedAt: time.Now(),
		})
		if err != nil {
			return fmt.Errorf("creating key for %s: %w", seed.Owner, err)
		}
		created++
	}

	if created > 0 {
		logger.Info("seeded API keys", "file", path, "created", created)
	}
	return nil
}
