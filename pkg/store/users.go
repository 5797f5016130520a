package store

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"time"

	"github.com/wpfleet/wpfleet/pkg/models"
)

// ============================================
// USER OPERATIONS
// ============================================

func (s *Store) GetUser(ctx context.Context, email string) (*models.User, error) {
	return getByField[models.User](s.db, ctx, "email", email, models.ErrUserNotFound, "Nodes", "Sites")
}

func (s *Store) GetUserByID(ctx context.Context, id uint) (*models.User, error) {
	return getByField[models.User](s.db, ctx, "id", id, models.ErrUserNotFound, "Nodes", "Sites")
}

func (s *Store) ListUsers(ctx context.Context) ([]*models.User, error) {
	return listAll[models.User](s.db, ctx, "Nodes", "Sites")
}

func (s *Store) CreateUser(ctx context.Context, user *models.User) error {
	if err := user.Validate(); err != nil {
		return err
	}
	if err := s.db.WithContext(ctx).Create(user).Error; err != nil {
		if isUniqueConstraintError(err) {
			return models.ErrDuplicateUser
		}
		return err
	}
	return nil
}

// UpdatePassword replaces a user's password hash.
func (s *Store) UpdatePassword(ctx context.Context, email, passwordHash string) error {
	result := s.db.WithContext(ctx).
		Model(&models.User{}).
		Where("email = ?", email).
		Update("password_hash", passwordHash)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return models.ErrUserNotFound
	}
	return nil
}

// DisableMFA clears a user's MFA secret and flag.
func (s *Store) DisableMFA(ctx context.Context, email string) error {
	result := s.db.WithContext(ctx).
		Model(&models.User{}).
		Where("email = ?", email).
		Updates(map[string]any{
			"mfa_enabled": false,
			"mfa_secret":  "",
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return models.ErrUserNotFound
	}
	return nil
}

// EnsureAdminUser creates the initial super_admin when the users table
// is empty. email and passwordHash come from the admin section of the
// master config; with no configured hash a random password is generated
// and returned exactly once so the operator can record it.
func (s *Store) EnsureAdminUser(ctx context.Context, email, passwordHash string) (string, error) {
	users, err := s.ListUsers(ctx)
	if err != nil {
		return "", err
	}
	if len(users) > 0 {
		return "", nil
	}

	if email == "" {
		email = "admin@localhost"
	}

	var generated string
	if passwordHash == "" {
		generated, err = randomPassword()
		if err != nil {
			return "", fmt.Errorf("failed to generate admin password: %w", err)
		}
		passwordHash, err = models.HashPassword(generated)
		if err != nil {
			return "", fmt.Errorf("failed to hash admin password: %w", err)
		}
	}

	admin := &models.User{
		Email:        email,
		FullName:     "Administrator",
		PasswordHash: passwordHash,
		Role:         models.RoleSuperAdmin,
		IsActive:     true,
	}
	if err := s.CreateUser(ctx, admin); err != nil {
		return "", fmt.Errorf("failed to create admin user: %w", err)
	}
	return generated, nil
}

func randomPassword() (string, error) {
	buf := make([]byte, 18)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}

// UpdateLastLogin stamps the user's last successful authentication.
func (s *Store) UpdateLastLogin(ctx context.Context, userID uint, timestamp time.Time) error {
	return s.db.WithContext(ctx).
		Model(&models.User{}).
		Where("id = ?", userID).
		Update("last_login", timestamp).Error
}

// ValidateCredentials checks email/password and returns the user.
func (s *Store) ValidateCredentials(ctx context.Context, email, password string) (*models.User, error) {
	user, err := s.GetUser(ctx, email)
	if err != nil {
		if errors.Is(err, models.ErrUserNotFound) {
			return nil, models.ErrInvalidCredentials
		}
		return nil, err
	}

	if !user.IsActive {
		return nil, models.ErrUserDisabled
	}

	if !models.VerifyPassword(password, user.PasswordHash) {
		return nil, models.ErrInvalidCredentials
	}

	return user, nil
}
