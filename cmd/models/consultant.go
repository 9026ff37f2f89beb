package models

import (
	"time"

	"github.com/lib/pq"
	"gorm.io/gorm"
)

var SupportedLanguages = []string{
	"english", "spanish", "french", "german",
	"mandarin", "hindi", "arabic", "portuguese",
}

type Consultant struct {
	gorm.Model
	UserID     uint    `gorm:"column:user_id;not null;uniqueIndex" json:"user_id"`
	Bio        string  `gorm:"column:bio;type:text" json:"bio"`
	Experience int     `gorm:"column:experience;not null" json:"experience"`
	HourlyRate float64 `gorm:"column:hourly_rate;not null" json:"hourly_rate"`

	Qualifications  pq.StringArray `gorm:"column:qualifications;type:text[]" json:"qualifications"`
	Certifications  pq.StringArray `gorm:"column:certifications;type:text[]" json:"certifications"`
	Languages       pq.StringArray `gorm:"column:languages;type:text[]" json:"languages"`
	Specializations pq.StringArray `gorm:"column:specializations;type:text[]" json:"specializations"`
	Achievements    pq.StringArray `gorm:"column:achievements;type:text[]" json:"achievements"`

	RatingAverage float64 `gorm:"column:rating_average;default:0" json:"rating_average"`
	RatingCount   int     `gorm:"column:rating_count;default:0" json:"rating_count"`

	IsVerified        bool `gorm:"column:is_verified;default:false" json:"is_verified"`
	IsActive          bool `gorm:"column:is_active;default:true" json:"is_active"`
	TotalBookings     int  `gorm:"column:total_bookings;default:0" json:"total_bookings"`
	CompletedBookings int  `gorm:"column:completed_bookings;default:0" json:"completed_bookings"`

	User           *User                    `gorm:"foreignKey:UserID" json:"user,omitempty"`
	Categories     []Category               `gorm:"many2many:consultant_categories;" json:"categories,omitempty"`
	Availabilities []ConsultantAvailability `gorm:"foreignKey:ConsultantID;constraint:OnDelete:CASCADE" json:"availability,omitempty"`
}

func (Consultant) TableName() string {
	return "consultants"
}

// CompletionRate is completed bookings as a percentage of all bookings,
// zero when the consultant has no bookings yet.
func (c *Consultant) CompletionRate() float64 {
	if c.TotalBookings == 0 {
		return 0
	}
	return float64(c.CompletedBookings) / float64(c.TotalBookings) * 100
}

// IsCurrentlyAvailableAt reports whether now falls inside the consultant's
// window for today's weekday.
func (c *Consultant) IsCurrentlyAvailableAt(now time.Time) bool {
	if !c.IsActive {
		return false
	}
	weekday := int(now.Weekday())
	clock := now.Format("15:04")
	for _, slot := range c.Availabilities {
		if slot.Weekday != weekday || !slot.IsAvailable {
			continue
		}
		if slot.StartTime <= clock && clock < slot.EndTime {
			return true
		}
	}
	return false
}

// ConsultantAvailability is one weekday window. Times are HH:MM strings so
// string comparison orders them correctly.
type ConsultantAvailability struct {
	gorm.Model
	ConsultantID uint   `gorm:"column:consultant_id;not null;index" json:"consultant_id"`
	Weekday      int    `gorm:"column:weekday;not null" json:"weekday"`
	IsAvailable  bool   `gorm:"column:is_available;default:false" json:"is_available"`
	StartTime    string `gorm:"column:start_time;size:5" json:"start_time"`
	EndTime      string `gorm:"column:end_time;size:5" json:"end_time"`
}

func (ConsultantAvailability) TableName() string {
	return "consultant_availabilities"
}
