package models

import (
	"gorm.io/gorm"
)

// Category groups consultants and bookings by consulting domain.
// ConsultantCount and BookingCount are denormalized counters; they are
// written only by the consultant and booking services, never from request
// payloads.
type Category struct {
	gorm.Model
	Name            string `gorm:"column:name;size:255;not null;uniqueIndex" json:"name"`
	Description     string `gorm:"column:description;type:text" json:"description"`
	Icon            string `gorm:"column:icon;size:100" json:"icon"`
	Color           string `gorm:"column:color;size:7" json:"color"`
	IsActive        bool   `gorm:"column:is_active;default:true" json:"is_active"`
	SortOrder       int    `gorm:"column:sort_order;default:0" json:"sort_order"`
	ConsultantCount int    `gorm:"column:consultant_count;default:0" json:"consultant_count"`
	BookingCount    int    `gorm:"column:booking_count;default:0" json:"booking_count"`
}

func (Category) TableName() string {
	return "categories"
}
