package db

import (
	"database/sql"
	"fmt"
	"strings"
	"time"

	"gorm.io/driver/mysql"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
	_ "modernc.org/sqlite"

	"ixf-sync/pkg/store"
)

// Config selects and addresses the database. For mysql either DSN or the
// host parts are used; for sqlite Path is the database file.
type Config struct {
	Driver string `yaml:"driver" validate:"oneof=mysql sqlite"`
	DSN    string `yaml:"dsn"`
	Host   string `yaml:"host"`
	Port   string `yaml:"port"`
	User   string `yaml:"user"`
	Pass   string `yaml:"pass"`
	Name   string `yaml:"name"`
	Path   string `yaml:"path"`
}

func (c Config) mysqlDSN() string {
	if c.DSN != "" {
		return c.DSN
	}
	return fmt.Sprintf("%s:%s@tcp(%s:%s)/%s?charset=utf8mb4&parseTime=True&loc=Local", c.User, c.Pass, c.Host, c.Port, c.Name)
}

// Open connects to the configured database. Migrations are separate, see Migrate.
func Open(cfg Config) (*gorm.DB, error) {
	gcfg := &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	}
	switch cfg.Driver {
	case "sqlite":
		return openSQLite(cfg, gcfg)
	case "mysql", "":
		return openMySQL(cfg, gcfg)
	default:
		return nil, fmt.Errorf("unsupported database driver %q", cfg.Driver)
	}
}

func openMySQL(cfg Config, gcfg *gorm.Config) (*gorm.DB, error) {
	dsn := cfg.mysqlDSN()
	db, err := gorm.Open(mysql.Open(dsn), gcfg)
	if err != nil {
		// Try to create database if missing
		if cfg.DSN == "" && strings.Contains(err.Error(), "Unknown database") {
			if cerr := createDatabase(cfg.User, cfg.Pass, cfg.Host, cfg.Port, cfg.Name); cerr != nil {
				return nil, fmt.Errorf("create database failed: %w", cerr)
			}
			db, err = gorm.Open(mysql.Open(dsn), gcfg)
			if err != nil {
				return nil, err
			}
		} else {
			return nil, err
		}
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	sqlDB.SetConnMaxLifetime(time.Hour)
	sqlDB.SetMaxIdleConns(5)
	sqlDB.SetMaxOpenConns(20)
	return db, nil
}

func openSQLite(cfg Config, gcfg *gorm.Config) (*gorm.DB, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("sqlite path not set")
	}
	dsn := cfg.Path + "?_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)"
	db, err := gorm.Open(sqlite.Dialector{DriverName: "sqlite", DSN: dsn}, gcfg)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", cfg.Path, err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	// a single writer; transactions must use the handle they are given
	sqlDB.SetMaxOpenConns(1)
	return db, nil
}

// Migrate creates or updates every table of the store.
func Migrate(db *gorm.DB) error {
	if err := db.AutoMigrate(store.Models...); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	return nil
}

func createDatabase(user, pass, host, port, dbname string) error {
	dsn := fmt.Sprintf("%s:%s@tcp(%s:%s)/", user, pass, host, port)
	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return err
	}
	defer db.Close()
	_, err = db.Exec(fmt.Sprintf("CREATE DATABASE IF NOT EXISTS `%s` DEFAULT CHARACTER SET utf8mb4", dbname))
	return err
}
