// ABOUTME: SQLite implementation for durable OAuth client registration records
// ABOUTME: Clients survive restarts; one-time authorization codes live only in memory

package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// CreateClient stores a registered OAuth client.
// Returns ErrDuplicateClient if the client ID is already taken.
func (s *SQLiteStore) CreateClient(ctx context.Context, client *Client) error {
	if client.CreatedAt.IsZero() {
		client.CreatedAt = time.Now().UTC()
	}

	redirectJSON, err := json.Marshal(client.RedirectURIs)
	if err != nil {
		return fmt.Errorf("marshaling redirect URIs: %w", err)
	}
	grantJSON, err := json.Marshal(client.GrantTypes)
	if err != nil {
		return fmt.Errorf("marshaling grant types: %w", err)
	}
	responseJSON, err := json.Marshal(client.ResponseTypes)
	if err != nil {
		return fmt.Errorf("marshaling response types: %w", err)
	}

	query := `
		INSERT INTO oauth_clients (client_id, secret_hash, name, redirect_uris_json, grant_types_json, response_types_json, scope, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err = s.db.ExecContext(ctx, query,
		client.ClientID,
		client.SecretHash,
		client.Name,
		string(redirectJSON),
		string(grantJSON),
		string(responseJSON),
		client.Scope,
		client.CreatedAt.UTC().Format(time.RFC3339),
	)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed") {
			return ErrDuplicateClient
		}
		return fmt.Errorf("inserting oauth client: %w", err)
	}

	s.logger.Info("registered oauth client", "client_id", client.ClientID, "name", client.Name)
	return nil
}

// GetClient retrieves a registered client by ID.
// Returns ErrNotFound if the client does not exist.
func (s *SQLiteStore) GetClient(ctx context.Context, clientID string) (*Client, error) {
	query := `
		SELECT client_id, secret_hash, name, redirect_uris_json, grant_types_json, response_types_json, scope, created_at
		FROM oauth_clients
		WHERE client_id = ?
	`

	row := s.db.QueryRowContext(ctx, query, clientID)
	return scanClient(row)
}

// ListClients returns all registered clients, newest first.
func (s *SQLiteStore) ListClients(ctx context.Context) ([]*Client, error) {
	query := `
		SELECT client_id, secret_hash, name, redirect_uris_json, grant_types_json, response_types_json, scope, created_at
		FROM oauth_clients
		ORDER BY created_at DESC
	`

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("querying oauth clients: %w", err)
	}
	defer rows.Close()

	var clients []*Client
	for rows.Next() {
		client, err := scanClient(rows)
		if err != nil {
			return nil, err
		}
		clients = append(clients, client)
	}
	return clients, rows.Err()
}

func scanClient(row rowScanner) (*Client, error) {
	var (
		client       Client
		redirectJSON string
		grantJSON    string
		responseJSON string
		createdAt    string
	)

	err := row.Scan(&client.ClientID, &client.SecretHash, &client.Name, &redirectJSON, &grantJSON, &responseJSON, &client.Scope, &createdAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scanning oauth client: %w", err)
	}

	if err := json.Unmarshal([]byte(redirectJSON), &client.RedirectURIs); err != nil {
		return nil, fmt.Errorf("unmarshaling redirect URIs: %w", err)
	}
	if err := json.Unmarshal([]byte(grantJSON), &client.GrantTypes); err != nil {
		return nil, fmt.Errorf("unmarshaling grant types: %w", err)
	}
	if err := json.Unmarshal([]byte(responseJSON), &client.ResponseTypes); err != nil {
		return nil, fmt.Errorf("unmarshaling response types: %w", err)
	}
	if client.CreatedAt, err = time.Parse(time.RFC3339, createdAt); err != nil {
		return nil, fmt.Errorf("parsing created_at: %w", err)
	}

	return &client, nil
}
