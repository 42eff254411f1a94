// ABOUTME: Store interfaces and data types for mcph-gateway persistence
// ABOUTME: Defines APIKey, Client, Crate, ToolUsage and the Store interface

package store

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a requested entity does not exist
var ErrNotFound = errors.New("not found")

// ErrDuplicateClient is returned when registering a client ID that already exists
var ErrDuplicateClient = errors.New("client already registered")

// APIKey represents a long-lived credential issued to an operator or integration.
// The raw key is never stored; only its SHA-256 hash.
type APIKey struct {
	ID         string
	OwnerID    string
	Name       string
	KeyHash    string // hex SHA-256 of the raw key
	Scopes     []string
	Active     bool
	ExpiresAt  *time.Time
	LastUsedAt *time.Time
	CreatedAt  time.Time
}

// Expired reports whether the key has an expiry in the past.
func (k *APIKey) Expired(now time.Time) bool {
	return k.ExpiresAt != nil && now.After(*k.ExpiresAt)
}

// Client represents a durably registered OAuth client.
// Created via dynamic registration, read-only thereafter.
type Client struct {
	ClientID      string
	SecretHash    string // bcrypt hash, empty for public clients
	Name          string
	RedirectURIs  []string
	GrantTypes    []string
	ResponseTypes []string
	Scope         string
	CreatedAt     time.Time
}

// HasRedirectURI reports whether uri is one of the client's registered URIs.
func (c *Client) HasRedirectURI(uri string) bool {
	for _, u := range c.RedirectURIs {
		if u == uri {
			return true
		}
	}
	return false
}

// Crate represents stored artifact metadata. The bytes themselves live in
// the blob store under StoragePath.
type Crate struct {
	ID          string
	OwnerID     string
	Title       string
	Description string
	ContentType string
	SizeBytes   int64
	StoragePath string
	Public      bool
	Downloads   int64
	ExpiresAt   *time.Time // set for guest uploads, nil for owned crates
	CreatedAt   time.Time
}

// ToolUsage is a per-caller invocation counter for a single tool.
type ToolUsage struct {
	CallerID   string
	Tool       string
	Count      int64
	LastUsedAt time.Time
}

// KeyStore defines API key persistence operations.
type KeyStore interface {
	CreateKey(ctx context.Context, key *APIKey) error
	GetKeyByHash(ctx context.Context, keyHash string) (*APIKey, error)
	TouchKey(ctx context.Context, id string, now time.Time, cooldown time.Duration) error
	ListKeys(ctx context.Context, ownerID string) ([]*APIKey, error)
	DeactivateKey(ctx context.Context, id string) error
}

// ClientStore defines OAuth client persistence operations.
type ClientStore interface {
	CreateClient(ctx context.Context, client *Client) error
	GetClient(ctx context.Context, clientID string) (*Client, error)
	ListClients(ctx context.Context) ([]*Client, error)
}

// CrateStore defines crate metadata persistence operations.
type CrateStore interface {
	CreateCrate(ctx context.Context, crate *Crate) error
	GetCrate(ctx context.Context, id string) (*Crate, error)
	ListCrates(ctx context.Context, ownerID string, limit int) ([]*Crate, error)
	SearchCrates(ctx context.Context, ownerID, query string, limit int) ([]*Crate, error)
	DeleteCrate(ctx context.Context, id string) error
	IncrementDownloads(ctx context.Context, id string) error
	DeleteExpiredCrates(ctx context.Context, now time.Time) ([]string, error)
}

// UsageStore defines per-caller tool usage accounting.
type UsageStore interface {
	IncrementToolUsage(ctx context.Context, callerID, tool string, now time.Time) error
	GetToolUsage(ctx context.Context, callerID string) ([]*ToolUsage, error)
}

// Store combines all persistence operations backed by a single database.
type Store interface {
	KeyStore
	ClientStore
	CrateStore
	UsageStore

	Ping(ctx context.Context) error
	Close() error
}
