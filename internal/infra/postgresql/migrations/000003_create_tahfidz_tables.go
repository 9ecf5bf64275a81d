package migrations

import (
	"github.com/go-gormigrate/gormigrate/v2"
	"github.com/kursadbilgin/wali-dispatch/internal/repository"
	"gorm.io/gorm"
)

func createTahfidzTables() *gormigrate.Migration {
	models := []any{
		&repository.SantriModel{},
		&repository.SetoranModel{},
		&repository.UjianModel{},
		&repository.PerizinanModel{},
		&repository.PelanggaranModel{},
		&repository.PrestasiModel{},
	}

	return &gormigrate.Migration{
		ID: "000003_create_tahfidz_tables",
		Migrate: func(tx *gorm.DB) error {
			if err := tx.AutoMigrate(models...); err != nil {
				return err
			}
			return execAll(tx, []string{
				`CREATE INDEX IF NOT EXISTS idx_setoran_santri_reviewed ON setoran (santri_id, reviewed_at)`,
				`CREATE INDEX IF NOT EXISTS idx_ujian_santri ON ujian (santri_id)`,
				`CREATE INDEX IF NOT EXISTS idx_perizinan_santri ON perizinan (santri_id)`,
				`CREATE INDEX IF NOT EXISTS idx_pelanggaran_santri ON pelanggaran (santri_id)`,
				`CREATE INDEX IF NOT EXISTS idx_prestasi_santri ON prestasi (santri_id)`,
			})
		},
		Rollback: func(tx *gorm.DB) error {
			return tx.Migrator().DropTable(models...)
		},
	}
}
