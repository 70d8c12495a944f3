package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	domain "mbobook/internal/domain/entity/profiles"
)

type ProfileModel struct {
	UID          uuid.UUID      `gorm:"primaryKey;column:uid;type:uuid"`
	Symbol       string         `gorm:"column:symbol;type:varchar(64);not null;uniqueIndex"`
	InstrumentID uint32         `gorm:"column:instrument_id;type:bigint"`
	PriceMin     int64          `gorm:"column:price_min;type:bigint;not null"`
	PriceMax     int64          `gorm:"column:price_max;type:bigint;not null"`
	TickSize     int64          `gorm:"column:tick_size;type:bigint;not null"`
	PriceScale   int32          `gorm:"column:price_scale;type:integer;not null"`
	Description  string         `gorm:"column:description;type:varchar"`
	CreatedAt    time.Time      `gorm:"column:created_at;type:timestamp;default:CURRENT_TIMESTAMP"`
	UpdatedAt    time.Time      `gorm:"column:updated_at;type:timestamp;default:CURRENT_TIMESTAMP"`
	DeletedAt    gorm.DeletedAt `gorm:"column:deleted_at;type:timestamp;index"`
}

func (ProfileModel) TableName() string {
	return "book_profiles"
}

func FromDomain(p *domain.BookProfile) ProfileModel {
	m := ProfileModel{
		UID:          p.UID,
		Symbol:       p.Symbol,
		InstrumentID: p.InstrumentID,
		PriceMin:     p.PriceMin,
		PriceMax:     p.PriceMax,
		TickSize:     p.TickSize,
		PriceScale:   p.PriceScale,
		Description:  p.Description,
		CreatedAt:    p.CreatedAt,
		UpdatedAt:    p.UpdatedAt,
	}
	if p.DeletedAt != nil {
		m.DeletedAt = gorm.DeletedAt{Time: *p.DeletedAt, Valid: true}
	}
	return m
}

func (m ProfileModel) ToDomain() *domain.BookProfile {
	p := &domain.BookProfile{
		UID:          m.UID,
		Symbol:       m.Symbol,
		InstrumentID: m.InstrumentID,
		PriceMin:     m.PriceMin,
		PriceMax:     m.PriceMax,
		TickSize:     m.TickSize,
		PriceScale:   m.PriceScale,
		Description:  m.Description,
		CreatedAt:    m.CreatedAt,
		UpdatedAt:    m.UpdatedAt,
	}
	if m.DeletedAt.Valid {
		t := m.DeletedAt.Time
		p.DeletedAt = &t
	}
	return p
}
