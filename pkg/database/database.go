package database

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/chongs12/learning-rag/pkg/config"
	"github.com/chongs12/learning-rag/pkg/logger"
)

const (
	connectAttempts = 5
	slowQuery       = 500 * time.Millisecond
)

type Database struct {
	*gorm.DB
}

// Open connects to MySQL, retrying while the server is still starting. SQL is logged
// through the shared logrus logger; every statement in development mode, slow ones otherwise.
func Open(ctx context.Context, cfg *config.DatabaseConfig, mode string) (*Database, error) {
	dsn := fmt.Sprintf("%s:%s@tcp(%s:%s)/%s?charset=utf8mb4&parseTime=True&loc=Local",
		cfg.Username, cfg.Password, cfg.Host, cfg.Port, cfg.Database)

	level := gormlogger.Warn
	if mode == "development" {
		level = gormlogger.Info
	}
	gormConfig := &gorm.Config{
		Logger: gormlogger.New(logger.Get(), gormlogger.Config{
			SlowThreshold:             slowQuery,
			LogLevel:                  level,
			IgnoreRecordNotFoundError: true,
		}),
	}

	var (
		connection *gorm.DB
		err        error
	)
	backoff := time.Second
	for attempt := 1; attempt <= connectAttempts; attempt++ {
		connection, err = connect(ctx, dsn, gormConfig, cfg)
		if err == nil {
			break
		}
		logger.WithFields(logrus.Fields{
			"event_type": "db_connect",
			"attempt":    attempt,
			"host":       cfg.Host,
		}).WithError(err).Warn("database not reachable yet")
		if attempt == connectAttempts {
			return nil, err
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(backoff):
		}
		backoff *= 2
	}

	logger.WithFields(logrus.Fields{"event_type": "db_connect", "database": cfg.Database}).Info("Database connection established")
	return &Database{connection}, nil
}

func connect(ctx context.Context, dsn string, gormConfig *gorm.Config, cfg *config.DatabaseConfig) (*gorm.DB, error) {
	connection, err := gorm.Open(mysql.Open(dsn), gormConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	sqlDB, err := connection.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get database instance: %w", err)
	}
	sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
	sqlDB.SetConnMaxLifetime(cfg.MaxLifetime)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := sqlDB.PingContext(pingCtx); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	return connection, nil
}

func (d *Database) Close() error {
	sqlDB, err := d.DB.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// Ping backs the readiness probe.
func (d *Database) Ping(ctx context.Context) error {
	sqlDB, err := d.DB.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

func (d *Database) AutoMigrate(models ...interface{}) error {
	if err := d.DB.AutoMigrate(models...); err != nil {
		return fmt.Errorf("failed to auto migrate: %w", err)
	}
	logger.Info("Database migration completed successfully")
	return nil
}
