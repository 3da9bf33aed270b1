package profiles

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/matedash/authbridge/internal/models"
	"github.com/matedash/authbridge/pkg/logger"
)

// ErrMissingIdentity is returned when a create request carries no id or email.
var ErrMissingIdentity = errors.New("profile id and email are required")

// Service encapsulates profile business logic
type Service struct {
	repo Repository
}

func NewService(r Repository) *Service {
	return &Service{repo: r}
}

// Create stores a new profile with server defaults (role "user",
// isFirstTimeUser true) unless the patch overrides them. When a profile with
// the same id already exists it is returned unchanged and created is false.
func (s *Service) Create(ctx context.Context, patch models.ProfilePatch) (p *models.Profile, created bool, err error) {
	if patch.ID == nil || *patch.ID == "" || patch.Email == nil || *patch.Email == "" {
		return nil, false, ErrMissingIdentity
	}
	now := time.Now().UTC()
	p = &models.Profile{
		ID:              *patch.ID,
		Role:            models.RoleUser,
		IsFirstTimeUser: true,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	patch.Apply(p)
	p.Email = normalizeEmail(p.Email)
	if p.Role == "" {
		p.Role = models.RoleUser
	}

	err = s.repo.Insert(ctx, p)
	if errors.Is(err, ErrDuplicate) {
		existing, gerr := s.repo.GetByID(ctx, p.ID)
		if gerr == nil {
			logger.Debugw("profile create is a no-op, returning existing", "id", p.ID)
			return existing, false, nil
		}
		if errors.Is(gerr, ErrNotFound) {
			// the email belongs to a different identity
			return nil, false, ErrDuplicate
		}
		return nil, false, gerr
	}
	if err != nil {
		return nil, false, err
	}
	logger.Infow("profile created", "id", p.ID, "role", p.Role)
	return p, true, nil
}

func (s *Service) GetByID(ctx context.Context, id string) (*models.Profile, error) {
	return s.repo.GetByID(ctx, id)
}

func (s *Service) GetByEmail(ctx context.Context, email string) (*models.Profile, error) {
	return s.repo.GetByEmail(ctx, normalizeEmail(email))
}

// Update applies a partial profile. The onboarding flag can only be changed
// through CompleteOnboarding, so it is dropped from the patch.
func (s *Service) Update(ctx context.Context, id string, patch models.ProfilePatch) (*models.Profile, error) {
	patch.ID = nil
	if patch.IsFirstTimeUser != nil {
		logger.Debugw("ignoring isFirstTimeUser in profile update", "id", id)
		patch.IsFirstTimeUser = nil
	}
	if patch.Email != nil {
		e := normalizeEmail(*patch.Email)
		patch.Email = &e
	}
	return s.repo.Update(ctx, id, patch)
}

// CompleteOnboarding flips isFirstTimeUser to false. It is one-way: repeated
// calls return the already-onboarded profile.
func (s *Service) CompleteOnboarding(ctx context.Context, id string) (*models.Profile, error) {
	p, err := s.repo.CompleteOnboarding(ctx, id)
	if err != nil {
		return nil, err
	}
	logger.Infow("onboarding completed", "id", id)
	return p, nil
}

func (s *Service) Delete(ctx context.Context, id string) error {
	return s.repo.Delete(ctx, id)
}

// List returns one page of profiles matching opts.
func (s *Service) List(ctx context.Context, opts ListOptions) (*ListResult, error) {
	return s.repo.List(ctx, opts)
}

func normalizeEmail(e string) string {
	return strings.ToLower(strings.TrimSpace(e))
}
