package profiles

import (
	"context"
	"errors"
	"strings"

	domain "mbobook/internal/domain/entity/profiles"
	interfaces "mbobook/internal/domain/interfaces"

	"github.com/google/uuid"
)

var (
	ErrNilProfile = errors.New("profile is nil")
	ErrMissingUID = errors.New("profile uid is required")
)

type Service struct {
	repo interfaces.ProfileRepository
}

func NewService(repo interfaces.ProfileRepository) *Service {
	return &Service{repo: repo}
}

func (s *Service) CreateProfile(ctx context.Context, profile *domain.BookProfile) error {
	if profile == nil {
		return ErrNilProfile
	}
	profile.Symbol = strings.TrimSpace(profile.Symbol)
	if err := profile.Validate(); err != nil {
		return err
	}
	return s.repo.CreateProfile(ctx, profile)
}

func (s *Service) GetProfile(ctx context.Context, uid uuid.UUID) (*domain.BookProfile, error) {
	return s.repo.GetProfile(ctx, uid)
}

func (s *Service) GetProfileBySymbol(ctx context.Context, symbol string) (*domain.BookProfile, error) {
	return s.repo.GetProfileBySymbol(ctx, strings.TrimSpace(symbol))
}

func (s *Service) ListProfiles(ctx context.Context) ([]domain.BookProfile, error) {
	return s.repo.ListProfiles(ctx)
}

func (s *Service) UpdateProfile(ctx context.Context, profile *domain.BookProfile) error {
	if profile == nil {
		return ErrNilProfile
	}
	if profile.UID == uuid.Nil {
		return ErrMissingUID
	}
	profile.Symbol = strings.TrimSpace(profile.Symbol)
	if err := profile.Validate(); err != nil {
		return err
	}
	return s.repo.UpdateProfile(ctx, profile)
}

func (s *Service) DeleteProfile(ctx context.Context, uid uuid.UUID) error {
	return s.repo.DeleteProfile(ctx, uid)
}

func (s *Service) Close() {
	s.repo.Close()
}
