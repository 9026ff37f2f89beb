package booking

import (
	"github.com/consultly/consultly-server/cmd/models"
	"gorm.io/gorm"
)

// RecomputeConsultantRating rewrites a consultant's rating aggregate from
// the full set of that consultant's rated bookings. A full recompute, not a
// running average, so the stored aggregate always matches the visible set
// even after out-of-band corrections.
func RecomputeConsultantRating(tx *gorm.DB, consultantID uint) error {
	var result struct {
		Average float64
		Count   int64
	}

	err := tx.Model(&models.Booking{}).
		Select("COALESCE(AVG(rating_score), 0) AS average, COUNT(*) AS count").
		Where("consultant_id = ? AND rating_score > 0", consultantID).
		Scan(&result).Error
	if err != nil {
		return err
	}

	return tx.Model(&models.Consultant{}).Where("id = ?", consultantID).
		Updates(map[string]interface{}{
			"rating_average": result.Average,
			"rating_count":   result.Count,
		}).Error
}
