package postgres

import (
	"errors"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/stretchr/testify/require"

	"github.com/nkiryanov/gophauth/internal/apperrors"
	"github.com/nkiryanov/gophauth/internal/models"
	"github.com/nkiryanov/gophauth/internal/repository"
	"github.com/nkiryanov/gophauth/internal/testutil"
)

func Test_Storage(t *testing.T) {
	t.Parallel()

	pg := testutil.StartPostgresContainer(t)
	t.Cleanup(pg.Terminate)

	t.Run("in tx commits", func(t *testing.T) {
		testutil.WithTx(pg.Pool, t, func(tx pgx.Tx) {
			s := NewStorage(tx)

			err := s.InTx(t.Context(), func(txs repository.Storage) error {
				_, err := txs.User().CreateUser(t.Context(), models.User{Email: "commit@example.com", HashedPassword: "h"})
				return err
			})
			require.NoError(t, err)

			_, err = s.User().GetUserByEmail(t.Context(), "commit@example.com")
			require.NoError(t, err, "user has to be visible after commit")
		})
	})

	t.Run("in tx rolls back on error", func(t *testing.T) {
		testutil.WithTx(pg.Pool, t, func(tx pgx.Tx) {
			s := NewStorage(tx)
			boom := errors.New("boom")

			err := s.InTx(t.Context(), func(txs repository.Storage) error {
				_, err := txs.User().CreateUser(t.Context(), models.User{Email: "rollback@example.com", HashedPassword: "h"})
				require.NoError(t, err)
				return boom
			})
			require.ErrorIs(t, err, boom)

			_, err = s.User().GetUserByEmail(t.Context(), "rollback@example.com")
			require.ErrorIs(t, err, apperrors.ErrUserNotFound, "user must be rolled back")
		})
	})

	t.Run("aborted tx is transient", func(t *testing.T) {
		testutil.WithTx(pg.Pool, t, func(tx pgx.Tx) {
			s := NewStorage(tx)
			_, err := tx.Exec(t.Context(), "SELECT 1/0")
			require.Error(t, err)

			// tx is aborted now, every statement fails until rollback
			_, err = s.User().GetUserByEmail(t.Context(), "any@example.com")

			require.True(t, apperrors.IsTransient(err), "unexpected db failure must be transient, got %v", err)
		})
	})
}
