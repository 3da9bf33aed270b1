package profiles

import (
	"context"
	"errors"

	"github.com/matedash/authbridge/internal/models"
)

var (
	ErrNotFound  = errors.New("profile not found")
	ErrDuplicate = errors.New("profile already exists")
)

// Repository defines persistence operations for profiles
type Repository interface {
	// Insert stores a new profile; returns ErrDuplicate when the id or email is taken.
	Insert(ctx context.Context, p *models.Profile) error
	GetByID(ctx context.Context, id string) (*models.Profile, error)
	GetByEmail(ctx context.Context, email string) (*models.Profile, error)
	Update(ctx context.Context, id string, patch models.ProfilePatch) (*models.Profile, error)
	// CompleteOnboarding clears isFirstTimeUser. Repeated calls return the
	// profile unchanged.
	CompleteOnboarding(ctx context.Context, id string) (*models.Profile, error)
	Delete(ctx context.Context, id string) error
	List(ctx context.Context, opts ListOptions) (*ListResult, error)
}
