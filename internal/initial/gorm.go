package initial

import (
	"fmt"
	"log"
	"os"
	"time"

	"DeskRelay/internal/config"
	"DeskRelay/internal/modules/conversation/domain/entity"
	"DeskRelay/pkg/zlog"

	"go.uber.org/zap"
	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// NewGormDB 按 driver 打开 postgres 或 mysql 连接
func NewGormDB(conf config.DatabaseConfig, appName string) (*gorm.DB, error) {
	var dialector gorm.Dialector
	switch conf.Driver {
	case "mysql":
		dsn := fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?charset=utf8mb4&parseTime=True&loc=UTC",
			conf.User, conf.Password, conf.Host, conf.Port, conf.DatabaseName)
		dialector = mysql.Open(dsn)
	case "postgres", "":
		dsn := fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s TimeZone=UTC application_name=%s",
			conf.Host, conf.Port, conf.User, conf.Password, conf.DatabaseName, conf.SSLMode, appName)
		dialector = postgres.Open(dsn)
	default:
		return nil, fmt.Errorf("unsupported database driver %q", conf.Driver)
	}

	gormLogger := logger.New(
		log.New(os.Stdout, "\r\n", log.LstdFlags),
		logger.Config{
			SlowThreshold:             time.Second,
			LogLevel:                  logger.Warn,
			IgnoreRecordNotFoundError: true,
			Colorful:                  false,
		},
	)
	db, err := gorm.Open(dialector, &gorm.Config{Logger: gormLogger})
	if err != nil {
		return nil, err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	if conf.MaxOpenConns > 0 {
		sqlDB.SetMaxOpenConns(conf.MaxOpenConns)
	}
	if conf.MaxIdleConns > 0 {
		sqlDB.SetMaxIdleConns(conf.MaxIdleConns)
	}
	sqlDB.SetConnMaxLifetime(30 * time.Minute)

	if conf.AutoMigrate {
		if err := Migrate(db); err != nil {
			return nil, err
		}
	}
	zlog.Info("database connected", zap.String("driver", conf.Driver), zap.String("host", conf.Host))
	return db, nil
}

// Migrate 自动迁移，如果没有建表，会自动创建对应的表
func Migrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&entity.Account{},
		&entity.Team{},
		&entity.Agent{},
		&entity.Conversation{},
		&entity.Message{},
		&entity.AIClassification{},
		&entity.AIDraft{},
	)
}
