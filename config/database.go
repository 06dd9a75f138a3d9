package config

import (
	"context"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	mysqldriver "github.com/go-sql-driver/mysql"
	"github.com/uptrace/opentelemetry-go-extra/otelgorm"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
	"gorm.io/gorm/schema"
)

// DSN builds the go-sql-driver/mysql data source name.
func (c DatabaseConfig) DSN() string {
	dsn := mysqldriver.NewConfig()
	dsn.User = c.User
	dsn.Passwd = c.Password
	dsn.Net = "tcp"
	dsn.Addr = fmt.Sprintf("%s:%s", c.Host, c.Port)
	dsn.DBName = c.Name
	dsn.ParseTime = true
	dsn.Loc = time.UTC
	dsn.Params = map[string]string{"charset": "utf8mb4"}

	// Cloud Run + Cloud SQL: when DB_HOST is "/cloudsql/<CONNECTION_NAME>",
	// connect using a Unix domain socket provided by Cloud SQL Auth Proxy.
	if strings.HasPrefix(c.Host, "/cloudsql/") {
		dsn.Net = "unix"
		dsn.Addr = c.Host
	}
	return dsn.FormatDSN()
}

// ConnectDatabaseWithRetry opens the pool, retrying with capped exponential backoff
// until it succeeds or ctx is done. The caller owns the returned handle.
func ConnectDatabaseWithRetry(ctx context.Context, cfg DatabaseConfig) (*gorm.DB, error) {
	var attempt int
	for {
		attempt++
		db, err := OpenDatabase(mysql.Open(cfg.DSN()), cfg)
		if err == nil {
			log.Printf("connected to database (attempt=%d)", attempt)
			return db, nil
		}

		sleep := time.Second * time.Duration(1<<min(attempt, 5))
		if sleep > 30*time.Second {
			sleep = 30 * time.Second
		}
		log.Printf("failed to connect database (attempt=%d): %v; retrying in %s", attempt, err, sleep)
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("connect database: %w", ctx.Err())
		case <-time.After(sleep):
		}
	}
}

// OpenDatabase opens gorm on the given dialector, tunes the database/sql pool
// and installs the tracing and owner guard plugins.
func OpenDatabase(dialector gorm.Dialector, cfg DatabaseConfig) (*gorm.DB, error) {
	db, err := gorm.Open(dialector, initConfig())
	if err != nil {
		return nil, err
	}

	if sqlDB, derr := db.DB(); derr == nil && sqlDB != nil {
		if cfg.MaxOpenConns > 0 {
			sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
		}
		if cfg.MaxIdleConns >= 0 {
			sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
		}
		if cfg.ConnMaxLifetime > 0 {
			sqlDB.SetConnMaxLifetime(cfg.ConnMaxLifetime)
		}
		if cfg.ConnMaxIdleTime > 0 {
			sqlDB.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)
		}
	}

	if pluginErr := db.Use(otelgorm.NewPlugin()); pluginErr != nil {
		log.Printf("db connected but failed to install otelgorm plugin: %v", pluginErr)
	}
	if pluginErr := db.Use(NewOwnerGuardPlugin()); pluginErr != nil {
		return nil, fmt.Errorf("install owner guard plugin: %w", pluginErr)
	}
	return db, nil
}

// CloseDatabase releases the pool; safe on nil.
func CloseDatabase(db *gorm.DB) error {
	if db == nil {
		return nil
	}
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// PingDatabase checks store connectivity for the health endpoints.
func PingDatabase(ctx context.Context, db *gorm.DB) error {
	if db == nil {
		return fmt.Errorf("db is nil")
	}
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

func min(a, b int) int {
	if a < b {
		return a
	}
	return b
}

// InitConfig Initialize Config
func initConfig() *gorm.Config {
	return &gorm.Config{
		Logger:         initLog(),
		NamingStrategy: initNamingStrategy(),
	}
}

// InitLog Connection Log Configuration
func initLog() logger.Interface {
	newLogger := logger.New(
		log.New(os.Stdout, "\r\n", log.LstdFlags), // Output to standard output
		logger.Config{
			Colorful:      false,
			LogLevel:      logger.Error,
			SlowThreshold: time.Second,
		},
	)
	return newLogger
}

// InitNamingStrategy Init NamingStrategy
func initNamingStrategy() *schema.NamingStrategy {
	return &schema.NamingStrategy{
		SingularTable: false,
		TablePrefix:   "",
	}
}
