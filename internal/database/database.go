package database

import (
	"fmt"
	"os"

	"github.com/sirupsen/logrus"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/dslovacek55-hash/Reality/internal/models"
)

// Database is the shared storage context. It is constructed once in main,
// passed to every component, and torn down on shutdown.
type Database struct {
	db     *gorm.DB
	logger *logrus.Logger
}

func NewDatabase(dbPath string, log *logrus.Logger) (*Database, error) {
	if log == nil {
		log = logrus.New()
		log.SetFormatter(&logrus.JSONFormatter{})
		log.SetOutput(os.Stdout)
	}

	db, err := gorm.Open(sqlite.Open(dbPath+"?_foreign_keys=on"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	d := &Database{db: db, logger: log}
	if err := d.RunMigrations(); err != nil {
		return nil, err
	}
	return d, nil
}

func (d *Database) RunMigrations() error {
	err := d.db.AutoMigrate(
		&models.Property{},
		&models.PriceHistoryEntry{},
		&models.UserFilter{},
		&models.Notification{},
		&models.ScrapeRun{},
		&models.Favorite{},
		&models.KuPriceStats{},
		&models.ReferenceBenchmark{},
	)
	if err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}
	return nil
}

// DB exposes the underlying gorm handle for components that manage their own
// transactions.
func (d *Database) DB() *gorm.DB {
	return d.db
}

// Transaction runs fn inside a single storage transaction.
func (d *Database) Transaction(fn func(tx *gorm.DB) error) error {
	return d.db.Transaction(fn)
}

func (d *Database) Close() error {
	sqlDB, err := d.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
