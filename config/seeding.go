package config

import (
	"errors"
	"log"

	"gorm.io/gorm"
	"p9e.in/rdiesel/models"
)

// Mobile clients read these keys out of the catalog snapshot.
var defaultConfigurations = map[string]string{
	"volume_tolerance_liters": "5",
	"max_photos_per_category": "3",
	"min_photos_total":        "1",
}

// SeedConfigurations inserts the default configuration keys if missing.
// Existing values are never overwritten.
func SeedConfigurations() {
	for key, value := range defaultConfigurations {
		var existing models.Configuration
		err := DB.Where("key = ?", key).First(&existing).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			if err := DB.Create(&models.Configuration{Key: key, Value: value}).Error; err != nil {
				log.Printf("Warning: could not seed configuration %q: %v", key, err)
			}
			continue
		}
		if err != nil {
			log.Printf("Warning: could not check configuration %q: %v", key, err)
		}
	}
}
