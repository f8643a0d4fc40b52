package database

import (
	"embed"
	"fmt"
	"io/fs"
	"regexp"
	"strconv"

	"gorm.io/gorm"
)

//go:embed migrations/*/up.sql migrations/*/down.sql
var migrationsFS embed.FS

var migrationVersionRegex = regexp.MustCompile(`^(\d+)`)

type SchemaVersion uint64

type SchemaMigration struct {
	Version SchemaVersion `gorm:"primaryKey"`
}

func CurrentSchemaVersion(db *gorm.DB) (SchemaVersion, error) {
	var schemaMigration SchemaMigration

	err := db.
		Model(&SchemaMigration{}).
		Select("version").
		Order("version desc").
		Limit(1).
		Scan(&schemaMigration).Error

	return schemaMigration.Version, err
}

type Migration struct {
	Version SchemaVersion
	Dir     fs.DirEntry
}

func (migration *Migration) Up(db *gorm.DB) error {
	sql, err := migration.readSQL("up.sql")
	if err != nil {
		return err
	}

	return db.Exec(sql).Error
}

func (migration *Migration) Down(db *gorm.DB) error {
	sql, err := migration.readSQL("down.sql")
	if err != nil {
		return err
	}

	return db.Exec(sql).Error
}

func (migration *Migration) readSQL(name string) (string, error) {
	data, err := fs.ReadFile(migrationsFS, fmt.Sprintf("migrations/%s/%s", migration.DirName(), name))
	if err != nil {
		return "", fmt.Errorf("failed to read %s for migration %s: %w", name, migration.DirName(), err)
	}

	return string(data), nil
}

func (migration *Migration) DirName() string {
	return migration.Dir.Name()
}

// Migrate applies every embedded migration newer than the recorded schema
// version, each inside its own transaction together with its version row.
func Migrate(db *gorm.DB) error {
	if err := db.AutoMigrate(&SchemaMigration{}); err != nil {
		return fmt.Errorf("failed to create schema_migrations: %w", err)
	}

	currentVersion, err := CurrentSchemaVersion(db)
	if err != nil {
		return err
	}

	migrations, err := MigrationsNewerThan(currentVersion)
	if err != nil {
		return err
	}

	for _, migration := range migrations {
		err := db.Transaction(func(tx *gorm.DB) error {
			if err := tx.Create(&SchemaMigration{Version: migration.Version}).Error; err != nil {
				return err
			}

			return migration.Up(tx)
		})
		if err != nil {
			return fmt.Errorf("failed to apply migration %d: %w", migration.Version, err)
		}
	}

	return nil
}

// Rollback reverts the most recently applied migration.
func Rollback(db *gorm.DB) error {
	currentVersion, err := CurrentSchemaVersion(db)
	if err != nil {
		return err
	}
	if currentVersion == 0 {
		return nil
	}

	migrations, err := MigrationsNewerThan(currentVersion - 1)
	if err != nil {
		return err
	}
	if len(migrations) == 0 || migrations[0].Version != currentVersion {
		return fmt.Errorf("migration %d is not embedded", currentVersion)
	}

	migration := migrations[0]
	return db.Transaction(func(tx *gorm.DB) error {
		if err := migration.Down(tx); err != nil {
			return err
		}

		return tx.Delete(&SchemaMigration{}, "version = ?", migration.Version).Error
	})
}

func MigrationsNewerThan(minVersion SchemaVersion) ([]Migration, error) {
	entries, err := fs.ReadDir(migrationsFS, "migrations")
	if err != nil {
		return nil, err
	}

	var migrations []Migration
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}

		match := migrationVersionRegex.FindStringSubmatch(entry.Name())
		if len(match) != 2 {
			return nil, fmt.Errorf("invalid migration directory name: %s - missing version prefix", entry.Name())
		}

		versionInt, err := strconv.ParseUint(match[1], 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid migration version: %s - %w", match[1], err)
		}

		version := SchemaVersion(versionInt)
		if version <= minVersion {
			continue
		}

		migrations = append(migrations, Migration{
			Version: version,
			Dir:     entry,
		})
	}

	return migrations, nil
}
