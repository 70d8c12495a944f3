package interfaces

import (
	"context"

	domain "mbobook/internal/domain/entity/profiles"

	"github.com/google/uuid"
)

type ProfileRepository interface {
	CreateProfile(ctx context.Context, profile *domain.BookProfile) error
	GetProfile(ctx context.Context, uid uuid.UUID) (*domain.BookProfile, error)
	GetProfileBySymbol(ctx context.Context, symbol string) (*domain.BookProfile, error)
	ListProfiles(ctx context.Context) ([]domain.BookProfile, error)
	UpdateProfile(ctx context.Context, profile *domain.BookProfile) error
	DeleteProfile(ctx context.Context, uid uuid.UUID) error
	Close()
}
