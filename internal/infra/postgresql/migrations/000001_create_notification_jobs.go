package migrations

import (
	"github.com/go-gormigrate/gormigrate/v2"
	"github.com/kursadbilgin/wali-dispatch/internal/repository"
	"gorm.io/gorm"
)

func createNotificationJobsTable() *gormigrate.Migration {
	return &gormigrate.Migration{
		ID: "000001_create_notification_jobs",
		Migrate: func(tx *gorm.DB) error {
			if err := tx.AutoMigrate(&repository.NotificationJobModel{}); err != nil {
				return err
			}
			return execAll(tx, []string{
				`CREATE INDEX IF NOT EXISTS idx_notification_jobs_status_event_created ON notification_jobs (status, event, created_at)`,
				`CREATE INDEX IF NOT EXISTS idx_notification_jobs_target_phone ON notification_jobs (target_phone)`,
				`CREATE INDEX IF NOT EXISTS idx_notification_jobs_stale ON notification_jobs (created_at) WHERE status = 'queued' AND mode = 'dispatch'`,
			})
		},
		Rollback: func(tx *gorm.DB) error {
			return tx.Migrator().DropTable(&repository.NotificationJobModel{})
		},
	}
}
