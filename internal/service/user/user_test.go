package user

import (
	"testing"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/nkiryanov/gophauth/internal/apperrors"
	"github.com/nkiryanov/gophauth/internal/models"
	"github.com/nkiryanov/gophauth/internal/repository/postgres"
	"github.com/nkiryanov/gophauth/internal/service/auth"
	"github.com/nkiryanov/gophauth/internal/testutil"
)

func TestUser(t *testing.T) {
	t.Parallel()

	pg := testutil.StartPostgresContainer(t)
	t.Cleanup(pg.Terminate)

	// Helper function to create UserService within transaction
	inTx := func(t *testing.T, fn func(s *UserService)) {
		testutil.WithTx(pg.Pool, t, func(tx pgx.Tx) {
			storage := postgres.NewStorage(tx)
			fn(NewService(auth.BcryptHasher{Cost: bcrypt.MinCost}, storage))
		})
	}

	t.Run("CreateUser", func(t *testing.T) {
		t.Run("create ok", func(t *testing.T) {
			inTx(t, func(s *UserService) {
				user, err := s.CreateUser(t.Context(), "test@example.com", "password123")

				require.NoError(t, err, "creating new user should be ok")
				require.NotEqual(t, uuid.Nil, user.ID, "user ID should not be empty")
				require.Equal(t, "test@example.com", user.Email, "email should match")
				require.NotEmpty(t, user.HashedPassword, "password hash should not be empty")
				require.NotEqual(t, "password123", user.HashedPassword, "password should be hashed")
				require.Equal(t, []string{models.RoleUser}, user.Roles, "default role should be set")
				require.NotZero(t, user.CreatedAt, "created at should be set")
			})
		})

		t.Run("empty password fail", func(t *testing.T) {
			inTx(t, func(s *UserService) {
				_, err := s.CreateUser(t.Context(), "test@example.com", "")

				require.Error(t, err, "creating user with empty password should fail")
			})
		})

		t.Run("create duplicate user fail", func(t *testing.T) {
			inTx(t, func(s *UserService) {
				_, err := s.CreateUser(t.Context(), "test@example.com", "password123")
				require.NoError(t, err, "first user creation should succeed")

				_, err = s.CreateUser(t.Context(), "test@example.com", "different_password")

				require.ErrorIs(t, err, apperrors.ErrUserAlreadyExists)
			})
		})
	})

	t.Run("Authenticate", func(t *testing.T) {
		t.Run("ok", func(t *testing.T) {
			inTx(t, func(s *UserService) {
				created, err := s.CreateUser(t.Context(), "test@example.com", "password123")
				require.NoError(t, err)

				user, err := s.Authenticate(t.Context(), "test@example.com", "password123")

				require.NoError(t, err, "login with correct credentials should succeed")
				require.Equal(t, created.ID, user.ID, "user ID should match")
			})
		})

		t.Run("invalid password fail", func(t *testing.T) {
			inTx(t, func(s *UserService) {
				_, err := s.CreateUser(t.Context(), "test@example.com", "password123")
				require.NoError(t, err)

				_, err = s.Authenticate(t.Context(), "test@example.com", "wrong-password")

				require.ErrorIs(t, err, apperrors.ErrInvalidCredentials)
			})
		})

		t.Run("not existed user has the same error", func(t *testing.T) {
			inTx(t, func(s *UserService) {
				_, err := s.Authenticate(t.Context(), "nobody@example.com", "password123")

				require.ErrorIs(t, err, apperrors.ErrInvalidCredentials)
				require.NotErrorIs(t, err, apperrors.ErrUserNotFound, "user existence must not leak")
			})
		})
	})

	t.Run("GetUserByID", func(t *testing.T) {
		t.Run("existed ok", func(t *testing.T) {
			inTx(t, func(s *UserService) {
				created, err := s.CreateUser(t.Context(), "test@example.com", "password123")
				require.NoError(t, err)

				user, err := s.GetUserByID(t.Context(), created.ID)

				require.NoError(t, err, "getting existing user by ID should succeed")
				require.Equal(t, created, user)
			})
		})

		t.Run("not existed fail", func(t *testing.T) {
			inTx(t, func(s *UserService) {
				_, err := s.GetUserByID(t.Context(), uuid.New())

				require.ErrorIs(t, err, apperrors.ErrUserNotFound)
			})
		})
	})
}
