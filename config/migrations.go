package config

import (
	"github.com/go-gormigrate/gormigrate/v2"
	"gorm.io/gorm"
	"p9e.in/rdiesel/models"
)

func Migrations(db *gorm.DB) error {
	m := gormigrate.New(db, gormigrate.DefaultOptions, []*gormigrate.Migration{
		{
			ID: "20250812_create_catalog_tables",
			Migrate: func(tx *gorm.DB) error {
				return tx.AutoMigrate(&models.MeterDevice{}, &models.Pump{},
					&models.Client{}, &models.Vehicle{}, &models.Configuration{})
			},
		},
		{
			ID: "20250812_create_loading_tables",
			Migrate: func(tx *gorm.DB) error {
				return tx.AutoMigrate(&models.Loading{}, &models.Evidence{}, &models.Signature{})
			},
		},
		{
			ID: "20250902_add_loading_location",
			Migrate: func(tx *gorm.DB) error {
				for _, col := range []string{"latitude", "longitude"} {
					if err := tx.Exec("ALTER TABLE loadings ADD COLUMN IF NOT EXISTS " + col + " double precision").Error; err != nil {
						return err
					}
				}
				return nil
			},
		},
		{
			ID: "20250902_add_pump_geofence",
			Migrate: func(tx *gorm.DB) error {
				return tx.Exec("ALTER TABLE pumps ADD COLUMN IF NOT EXISTS geofence text").Error
			},
		},
	})

	return m.Migrate()
}
