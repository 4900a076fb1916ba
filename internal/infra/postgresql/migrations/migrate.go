package migrations

import (
	"github.com/gleamora/push-pipeline/internal/domain"
	"github.com/gleamora/push-pipeline/internal/repository"
	"github.com/go-gormigrate/gormigrate/v2"
	"gorm.io/gorm"
)

func Migrate(db *gorm.DB) error {
	m := gormigrate.New(db, gormigrate.DefaultOptions, []*gormigrate.Migration{
		{
			ID: "000001_create_templates",
			Migrate: func(tx *gorm.DB) error {
				if err := tx.AutoMigrate(&domain.Template{}); err != nil {
					return err
				}
				return tx.Exec(`CREATE INDEX IF NOT EXISTS idx_templates_status ON templates (status)`).Error
			},
			Rollback: func(tx *gorm.DB) error {
				return tx.Migrator().DropTable(&domain.Template{})
			},
		},
		{
			ID: "000002_create_devices",
			Migrate: func(tx *gorm.DB) error {
				if err := tx.AutoMigrate(&domain.Device{}); err != nil {
					return err
				}
				indexes := []string{
					`CREATE INDEX IF NOT EXISTS idx_devices_user_eligible ON devices (user_id) WHERE active AND token_healthy AND notifications_enabled`,
					`CREATE UNIQUE INDEX IF NOT EXISTS idx_devices_token ON devices (token)`,
				}
				for _, sql := range indexes {
					if err := tx.Exec(sql).Error; err != nil {
						return err
					}
				}
				return nil
			},
			Rollback: func(tx *gorm.DB) error {
				return tx.Migrator().DropTable(&domain.Device{})
			},
		},
		{
			ID: "000003_create_users",
			Migrate: func(tx *gorm.DB) error {
				return tx.AutoMigrate(&repository.UserModel{})
			},
			Rollback: func(tx *gorm.DB) error {
				return tx.Migrator().DropTable(&repository.UserModel{})
			},
		},
		{
			ID: "000004_create_delivery_records",
			Migrate: func(tx *gorm.DB) error {
				if err := tx.AutoMigrate(&repository.DeliveryRecordModel{}); err != nil {
					return err
				}
				return tx.Exec(`CREATE INDEX IF NOT EXISTS idx_delivery_records_request_created ON delivery_records (request_id, created_at)`).Error
			},
			Rollback: func(tx *gorm.DB) error {
				return tx.Migrator().DropTable(&repository.DeliveryRecordModel{})
			},
		},
	})

	return m.Migrate()
}
