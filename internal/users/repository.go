package users

import (
	"context"

	"github.com/kabsmeiou/Pamahres/internal/models"
)

// UserRepository defines persistence operations for users
type UserRepository interface {
	// GetByUsername returns (nil, nil) when no user has the username.
	GetByUsername(ctx context.Context, username string) (*models.User, error)
	// CreateWithDependents stores u together with its Profile and UserActivity.
	// When a user with the same username already exists nothing is written and
	// the existing record is returned with created=false.
	CreateWithDependents(ctx context.Context, u *models.User) (user *models.User, created bool, err error)
}
