package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/nkiryanov/gophauth/internal/apperrors"
	"github.com/nkiryanov/gophauth/internal/repository"
)

// DBTX is satisfied by *pgxpool.Pool and pgx.Tx
// Begin on pgx.Tx creates savepoint, so storages nest
type DBTX interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Begin(ctx context.Context) (pgx.Tx, error)
}

type Storage struct {
	db DBTX
}

func NewStorage(db DBTX) repository.Storage {
	return &Storage{db: db}
}

func (s *Storage) User() repository.UserRepo {
	return &UserRepo{DB: s.db}
}

func (s *Storage) Client() repository.ClientRepo {
	return &ClientRepo{DB: s.db}
}

func (s *Storage) Refresh() repository.RefreshTokenRepo {
	return &RefreshTokenRepo{DB: s.db}
}

func (s *Storage) InTx(ctx context.Context, fn func(repository.Storage) error) (err error) {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return dbError(err)
	}

	defer func() {
		switch err {
		case nil:
			err = dbError(tx.Commit(ctx))
		default:
			_ = tx.Rollback(ctx)
		}
	}()

	err = fn(NewStorage(tx))

	return err
}

// Unexpected database failure means the store is unavailable for the caller
func dbError(err error) error {
	if err == nil {
		return nil
	}
	return apperrors.Transient(fmt.Errorf("db error: %w", err))
}

func isNoRows(err error) bool {
	return errors.Is(err, pgx.ErrNoRows)
}
