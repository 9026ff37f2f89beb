package models

import (
	"time"

	"gorm.io/gorm"
)

const (
	BookingPending   = "pending"
	BookingConfirmed = "confirmed"
	BookingCompleted = "completed"
	BookingCancelled = "cancelled"
	BookingNoShow    = "no-show"
)

const (
	MeetingVideo    = "video"
	MeetingAudio    = "audio"
	MeetingInPerson = "in-person"
)

const (
	CancelledByClient     = "client"
	CancelledByConsultant = "consultant"
	CancelledByAdmin      = "admin"
)

type Booking struct {
	gorm.Model
	Reference    string    `gorm:"column:reference;size:50;not null;uniqueIndex" json:"reference"`
	ClientID     uint      `gorm:"column:client_id;not null;index" json:"client_id"`
	ConsultantID uint      `gorm:"column:consultant_id;not null;index" json:"consultant_id"`
	CategoryID   uint      `gorm:"column:category_id;not null" json:"category_id"`
	Date         time.Time `gorm:"column:date;not null" json:"date"`
	StartTime    string    `gorm:"column:start_time;size:5;not null" json:"start_time"`
	EndTime      string    `gorm:"column:end_time;size:5;not null" json:"end_time"`
	Duration     int       `gorm:"column:duration;not null" json:"duration"`
	Status       string    `gorm:"column:status;size:20;not null;default:pending" json:"status"`
	TotalAmount  float64   `gorm:"column:total_amount;not null" json:"total_amount"`

	ClientNotes     string `gorm:"column:client_notes;type:text" json:"client_notes,omitempty"`
	ConsultantNotes string `gorm:"column:consultant_notes;type:text" json:"consultant_notes,omitempty"`
	MeetingType     string `gorm:"column:meeting_type;size:20;default:video" json:"meeting_type"`
	Location        string `gorm:"column:location;size:255" json:"location,omitempty"`

	CancellationReason string     `gorm:"column:cancellation_reason;size:200" json:"cancellation_reason,omitempty"`
	CancelledBy        string     `gorm:"column:cancelled_by;size:20" json:"cancelled_by,omitempty"`
	CancelledAt        *time.Time `gorm:"column:cancelled_at" json:"cancelled_at,omitempty"`
	CompletedAt        *time.Time `gorm:"column:completed_at" json:"completed_at,omitempty"`

	RatingScore  int        `gorm:"column:rating_score;default:0" json:"rating_score,omitempty"`
	RatingReview string     `gorm:"column:rating_review;type:text" json:"rating_review,omitempty"`
	RatedAt      *time.Time `gorm:"column:rated_at" json:"rated_at,omitempty"`

	Client     *User       `gorm:"foreignKey:ClientID" json:"client,omitempty"`
	Consultant *Consultant `gorm:"foreignKey:ConsultantID" json:"consultant,omitempty"`
	Category   *Category   `gorm:"foreignKey:CategoryID" json:"category,omitempty"`
}

func (Booking) TableName() string {
	return "bookings"
}

// IsTerminal reports whether no further status transition may leave s.
func IsTerminal(s string) bool {
	return s == BookingCompleted || s == BookingCancelled || s == BookingNoShow
}

// Rated reports whether the booking already carries a rating.
func (b *Booking) Rated() bool {
	return b.RatingScore != 0
}
