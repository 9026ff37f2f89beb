package consultant

import (
	"github.com/consultly/consultly-server/cmd/models"
	"gorm.io/gorm"
)

// ApplyCategoryDelta reconciles category consultant counters after a
// consultant's category set changes. Counts move relative to the set loaded
// at the start of the update: every removed category is decremented, every
// added one incremented. Must run inside the same transaction as the
// profile write.
func ApplyCategoryDelta(tx *gorm.DB, oldIDs, newIDs []uint) error {
	oldSet := make(map[uint]bool, len(oldIDs))
	for _, id := range oldIDs {
		oldSet[id] = true
	}
	newSet := make(map[uint]bool, len(newIDs))
	for _, id := range newIDs {
		newSet[id] = true
	}

	for id := range oldSet {
		if newSet[id] {
			continue
		}
		err := tx.Model(&models.Category{}).Where("id = ? AND consultant_count > 0", id).
			UpdateColumn("consultant_count", gorm.Expr("consultant_count - 1")).Error
		if err != nil {
			return err
		}
	}

	for id := range newSet {
		if oldSet[id] {
			continue
		}
		err := tx.Model(&models.Category{}).Where("id = ?", id).
			UpdateColumn("consultant_count", gorm.Expr("consultant_count + 1")).Error
		if err != nil {
			return err
		}
	}

	return nil
}

func categoryIDs(categories []models.Category) []uint {
	ids := make([]uint, 0, len(categories))
	for _, c := range categories {
		ids = append(ids, c.ID)
	}
	return ids
}
