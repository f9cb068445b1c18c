package postgres

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/nkiryanov/gophauth/internal/apperrors"
	"github.com/nkiryanov/gophauth/internal/models"
)

type ClientRepo struct {
	DB DBTX
}

const createClient = `-- name: CreateClientIfNotExists
INSERT INTO clients (id, secret_hash, scopes, token_ttl_seconds)
VALUES ($1, $2, $3, $4)
ON CONFLICT (id) DO NOTHING
`

func (r *ClientRepo) CreateIfNotExists(ctx context.Context, client models.Client) (bool, error) {
	tag, err := r.DB.Exec(ctx, createClient,
		client.ID,
		client.SecretHash,
		models.NormalizeSet(client.Scopes),
		int64(client.TokenTTL/time.Second),
	)
	if err != nil {
		return false, dbError(err)
	}

	return tag.RowsAffected() == 1, nil
}

const getClient = `-- name: GetClient
SELECT id, created_at, secret_hash, scopes, token_ttl_seconds
FROM clients
WHERE id = $1
`

func (r *ClientRepo) GetClient(ctx context.Context, clientID string) (models.Client, error) {
	rows, _ := r.DB.Query(ctx, getClient, clientID)
	client, err := pgx.CollectOneRow(rows, func(row pgx.CollectableRow) (models.Client, error) {
		var c models.Client
		var ttlSeconds int64
		err := row.Scan(&c.ID, &c.CreatedAt, &c.SecretHash, &c.Scopes, &ttlSeconds)
		c.TokenTTL = time.Duration(ttlSeconds) * time.Second
		return c, err
	})

	switch {
	case err == nil:
		return client, nil
	case isNoRows(err):
		return client, apperrors.ErrClientNotFound
	default:
		return client, dbError(err)
	}
}
