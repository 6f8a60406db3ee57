package gorm

import (
	"github.com/go-gormigrate/gormigrate/v2"
	gormdb "gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/asnar00/firefly/pkg/models"
)

// runMigrations applies the schema with gormigrate. Later migrations are
// strictly additive; columns added after first release go through
// addColumnIfMissing so existing deployments upgrade in place.
func runMigrations(db *gormdb.DB) error {
	m := gormigrate.New(db, gormigrate.DefaultOptions, []*gormigrate.Migration{
		{
			ID: "001_core_tables",
			Migrate: func(tx *gormdb.DB) error {
				if err := tx.AutoMigrate(&User{}); err != nil {
					return err
				}
				if err := tx.AutoMigrate(&Post{}); err != nil {
					return err
				}
				return tx.AutoMigrate(&Template{})
			},
			Rollback: func(tx *gormdb.DB) error {
				return tx.Migrator().DropTable("templates", "posts", "users")
			},
		},
		{
			ID: "002_match_cache",
			Migrate: func(tx *gormdb.DB) error {
				if err := tx.AutoMigrate(&QueryResult{}); err != nil {
					return err
				}
				if err := tx.AutoMigrate(&QueryView{}); err != nil {
					return err
				}
				return tx.AutoMigrate(&SearchCache{})
			},
			Rollback: func(tx *gormdb.DB) error {
				return tx.Migrator().DropTable("search_cache", "query_views", "query_results")
			},
		},
		{
			ID: "003_reserved_templates",
			Migrate: func(tx *gormdb.DB) error {
				seed := []Template{
					{Name: models.TemplatePost, Placeholder: "What's happening?"},
					{Name: models.TemplateProfile, Placeholder: "Tell people about yourself"},
					{Name: models.TemplateQuery, Placeholder: "What are you looking for?"},
				}
				return tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&seed).Error
			},
			Rollback: func(tx *gormdb.DB) error {
				return tx.Where("name IN ?", []string{
					models.TemplatePost, models.TemplateProfile, models.TemplateQuery,
				}).Delete(&Template{}).Error
			},
		},
		{
			ID: "004_activity_columns",
			Migrate: func(tx *gormdb.DB) error {
				if err := addColumnIfMissing(tx, &User{}, "last_activity"); err != nil {
					return err
				}
				if err := addColumnIfMissing(tx, &Post{}, "last_match_added_at"); err != nil {
					return err
				}
				return addColumnIfMissing(tx, &Post{}, "revision")
			},
			Rollback: func(tx *gormdb.DB) error {
				// Additive only; nothing to undo safely.
				return nil
			},
		},
	})

	return m.Migrate()
}

// addColumnIfMissing is the portable ADD COLUMN IF NOT EXISTS.
func addColumnIfMissing(tx *gormdb.DB, model any, column string) error {
	if tx.Migrator().HasColumn(model, column) {
		return nil
	}
	return tx.Migrator().AddColumn(model, column)
}
