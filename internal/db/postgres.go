package db

import (
	"fmt"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"github.com/zignalhq/zignal-backend/internal/platform/logger"
	"github.com/zignalhq/zignal-backend/internal/types"
	"github.com/zignalhq/zignal-backend/internal/utils"
)

type PostgresService struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewPostgresService(log *logger.Logger) (*PostgresService, error) {
	serviceLog := log.With("service", "PostgresService")

	log.Info("Loading environment variables...")
	postgresHost := utils.GetEnv("POSTGRES_HOST", "localhost", log)
	postgresPort := utils.GetEnv("POSTGRES_PORT", "5432", log)
	postgresUser := utils.GetEnv("POSTGRES_USER", "postgres", log)
	postgresPassword := utils.GetEnv("POSTGRES_PASSWORD", "", log)
	postgresName := utils.GetEnv("POSTGRES_NAME", "zignal", log)
	log.Debug("Environment variables loaded")

	dsn := fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=disable", postgresUser, postgresPassword, postgresHost, postgresPort, postgresName)

	log.Info("Connecting to Postgres...")
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		DisableForeignKeyConstraintWhenMigrating: true,
	})
	if err != nil {
		log.Error("Failed to connect to Postgres", "error", err)
		return nil, fmt.Errorf("Failed to connect to Postgres: %w", err)
	}

	if err := db.Exec(`CREATE EXTENSION IF NOT EXISTS "uuid-ossp";`).Error; err != nil {
		log.Error("Failed to enable uuid-ossp extension", "error", err)
		return nil, fmt.Errorf("Failed to enable uuid-ossp extension: %w", err)
	}
	log.Info("uuid-ossp extension enabled")

	return &PostgresService{db: db, log: serviceLog}, nil
}

func (s *PostgresService) AutoMigrateAll() error {
	s.log.Info("Auto migrating postgres tables...")
	err := s.db.AutoMigrate(
		&types.Company{},
		&types.Project{},
		&types.Folder{},
		&types.FileRecord{},
	)
	if err != nil {
		s.log.Error("Auto migration failed for postgres tables", "error", err)
		return err
	}
	s.log.Info("Configuring foreign key relationships for postgres tables...")
	stmts := []struct {
		table string
		name  string
		sql   string
	}{
		{
			table: "project",
			name:  "fk_project_company_id",
			sql: `
        ALTER TABLE "project"
        ADD CONSTRAINT "fk_project_company_id"
        FOREIGN KEY ("company_id")
        REFERENCES "company"("id")
        ON DELETE CASCADE`,
		},
		{
			table: "folder",
			name:  "fk_folder_company_id",
			sql: `
        ALTER TABLE "folder"
        ADD CONSTRAINT "fk_folder_company_id"
        FOREIGN KEY ("company_id")
        REFERENCES "company"("id")
        ON DELETE CASCADE`,
		},
		{
			table: "file_record",
			name:  "fk_file_record_project_id",
			sql: `
        ALTER TABLE "file_record"
        ADD CONSTRAINT "fk_file_record_project_id"
        FOREIGN KEY ("project_id")
        REFERENCES "project"("id")
        ON DELETE SET NULL`,
		},
		{
			table: "file_record",
			name:  "fk_file_record_folder_id",
			sql: `
        ALTER TABLE "file_record"
        ADD CONSTRAINT "fk_file_record_folder_id"
        FOREIGN KEY ("folder_id")
        REFERENCES "folder"("id")
        ON DELETE SET NULL`,
		},
	}
	for _, stmt := range stmts {
		dropSQL := fmt.Sprintf(`ALTER TABLE IF EXISTS "%s" DROP CONSTRAINT IF EXISTS "%s"`, stmt.table, stmt.name)
		if err := s.db.Exec(dropSQL).Error; err != nil {
			return fmt.Errorf("Failed to drop %s: %w", stmt.name, err)
		}
		if err := s.db.Exec(stmt.sql).Error; err != nil {
			return fmt.Errorf("Failed to add %s: %w", stmt.name, err)
		}
	}
	return nil
}

func (s *PostgresService) DB() *gorm.DB {
	return s.db
}
