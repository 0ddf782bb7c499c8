package database

import (
	"time"

	"github.com/spf13/viper"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func NewSource() (*gorm.DB, error) {
	dialector := postgres.Open(viper.GetString("database.dsn"))
	source, err := gorm.Open(dialector, &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, err
	}

	conn, err := source.DB()
	if err != nil {
		return nil, err
	}
	conn.SetMaxIdleConns(viper.GetInt("database.max_idle_conns"))
	conn.SetMaxOpenConns(viper.GetInt("database.max_open_conns"))
	conn.SetConnMaxLifetime(time.Hour)

	return source, nil
}
