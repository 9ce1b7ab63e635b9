package main

import (
	"flag"

	"github.com/Capstone-E1/extractlab_backend/config"
	"github.com/Capstone-E1/extractlab_backend/internal/database"
)

func main() {
	var (
		drop   = flag.Bool("drop", false, "Drop all tables before creating")
		create = flag.Bool("create", true, "Create tables")
		check  = flag.Bool("check", false, "Check if tables exist")
	)
	flag.Parse()

	cfg := config.Load()
	logger := cfg.Logging.NewLogger()

	logger.Info("🏗️  ExtractLab Database Migration Tool")

	if cfg.Database.Driver == "memory" {
		logger.Fatal("⚠️  DB_DRIVER=memory has no tables to migrate, set postgres or sqlite")
	}
	if cfg.Database.Driver == "postgres" && cfg.Database.Password == "" {
		logger.Warn("⚠️  DB_PASSWORD is empty, set DB_HOST, DB_PORT, DB_USER, DB_PASSWORD, DB_NAME and DB_SSLMODE")
	}

	db, err := database.Connect(cfg.Database, logger)
	if err != nil {
		logger.WithError(err).Fatal("❌ Failed to connect to database")
	}
	defer db.Close()

	if *drop {
		logger.Info("🗑️  Dropping existing tables...")
		if err := database.DropTables(db, logger); err != nil {
			logger.WithError(err).Fatal("❌ Failed to drop tables")
		}
	}

	if *create {
		logger.Info("🏗️  Creating database tables...")
		if err := database.CreateTables(db, logger); err != nil {
			logger.WithError(err).Fatal("❌ Failed to create tables")
		}
	}

	if *check {
		logger.Info("🔍 Checking if tables exist...")
		if err := database.CheckTablesExist(db); err != nil {
			logger.WithError(err).Fatal("❌ Table check failed")
		}
		logger.Info("✅ All tables present")
	}

	logger.Info("🎉 Database migration completed successfully!")
}
