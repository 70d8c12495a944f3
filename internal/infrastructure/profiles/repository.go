package profiles

import (
	"context"
	"errors"
	"fmt"
	"time"

	domain "mbobook/internal/domain/entity/profiles"
	"mbobook/internal/infrastructure/profiles/models"

	"github.com/google/uuid"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

// ErrProfileNotFound is returned for unknown or soft-deleted profiles.
var ErrProfileNotFound = domain.ErrProfileNotFound

type Repository struct {
	db *gorm.DB
}

func NewRepository(ctx context.Context, dsn string) (*Repository, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{})
	if err != nil {
		return nil, fmt.Errorf("open gorm postgres: %w", err)
	}
	if err := db.WithContext(ctx).AutoMigrate(&models.ProfileModel{}); err != nil {
		return nil, fmt.Errorf("migrate book_profiles: %w", err)
	}
	return &Repository{db: db}, nil
}

func (r *Repository) Close() {
	if r == nil || r.db == nil {
		return
	}
	if sqlDB, err := r.db.DB(); err == nil {
		_ = sqlDB.Close()
	}
}

func (r *Repository) CreateProfile(ctx context.Context, profile *domain.BookProfile) error {
	if profile == nil {
		return errors.New("profile is nil")
	}
	if profile.UID == uuid.Nil {
		profile.UID = uuid.New()
	}
	now := time.Now().UTC()
	if profile.CreatedAt.IsZero() {
		profile.CreatedAt = now
	}
	profile.UpdatedAt = now

	model := models.FromDomain(profile)
	if err := r.db.WithContext(ctx).Create(&model).Error; err != nil {
		return err
	}
	*profile = *model.ToDomain()
	return nil
}

func (r *Repository) GetProfile(ctx context.Context, uid uuid.UUID) (*domain.BookProfile, error) {
	var model models.ProfileModel
	err := r.db.WithContext(ctx).First(&model, "uid = ?", uid).Error
	if err != nil {
		return nil, mapNotFound(err)
	}
	return model.ToDomain(), nil
}

func (r *Repository) GetProfileBySymbol(ctx context.Context, symbol string) (*domain.BookProfile, error) {
	var model models.ProfileModel
	err := r.db.WithContext(ctx).First(&model, "symbol = ?", symbol).Error
	if err != nil {
		return nil, mapNotFound(err)
	}
	return model.ToDomain(), nil
}

func (r *Repository) ListProfiles(ctx context.Context) ([]domain.BookProfile, error) {
	var rows []models.ProfileModel
	if err := r.db.WithContext(ctx).Order("symbol ASC").Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]domain.BookProfile, 0, len(rows))
	for _, row := range rows {
		out = append(out, *row.ToDomain())
	}
	return out, nil
}

func (r *Repository) UpdateProfile(ctx context.Context, profile *domain.BookProfile) error {
	if profile == nil {
		return errors.New("profile is nil")
	}
	if profile.UID == uuid.Nil {
		return errors.New("profile UID is required")
	}
	profile.UpdatedAt = time.Now().UTC()

	res := r.db.WithContext(ctx).
		Model(&models.ProfileModel{}).
		Where("uid = ?", profile.UID).
		Updates(map[string]any{
			"symbol":        profile.Symbol,
			"instrument_id": profile.InstrumentID,
			"price_min":     profile.PriceMin,
			"price_max":     profile.PriceMax,
			"tick_size":     profile.TickSize,
			"price_scale":   profile.PriceScale,
			"description":   profile.Description,
			"updated_at":    profile.UpdatedAt,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrProfileNotFound
	}
	return nil
}

// DeleteProfile soft deletes the row; it stays in the table with deleted_at set.
func (r *Repository) DeleteProfile(ctx context.Context, uid uuid.UUID) error {
	res := r.db.WithContext(ctx).Delete(&models.ProfileModel{}, "uid = ?", uid)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrProfileNotFound
	}
	return nil
}

func mapNotFound(err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrProfileNotFound
	}
	return err
}
