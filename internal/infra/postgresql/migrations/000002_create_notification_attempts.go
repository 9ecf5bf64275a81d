package migrations

import (
	"github.com/go-gormigrate/gormigrate/v2"
	"github.com/kursadbilgin/wali-dispatch/internal/repository"
	"gorm.io/gorm"
)

func createNotificationAttemptsTable() *gormigrate.Migration {
	return &gormigrate.Migration{
		ID: "000002_create_notification_attempts",
		Migrate: func(tx *gorm.DB) error {
			if err := tx.AutoMigrate(&repository.NotificationAttemptModel{}); err != nil {
				return err
			}

			// Attempts go with their job.
			return tx.Exec(`
				ALTER TABLE notification_attempts
				ADD CONSTRAINT fk_attempts_job
				FOREIGN KEY (job_id) REFERENCES notification_jobs (id) ON DELETE CASCADE
			`).Error
		},
		Rollback: func(tx *gorm.DB) error {
			return tx.Migrator().DropTable("notification_attempts")
		},
	}
}
