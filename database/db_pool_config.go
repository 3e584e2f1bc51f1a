package database

import (
	"time"

	"github.com/spf13/viper"
)

type PoolConfig struct {
	User     string
	Password string
	Host     string
	Port     string
	DBName   string

	MaxOpenConns    int32
	MinConns        int32
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
}

func init() {
	viper.SetDefault("DB_MAX_OPEN_CONNS", 25)
	viper.SetDefault("DB_MIN_CONNS", 5)
	viper.SetDefault("DB_CONN_MAX_LIFETIME", 4*time.Hour)
	viper.SetDefault("DB_CONN_MAX_IDLE_TIME", 15*time.Minute)
	viper.SetDefault("POSTGRES_PORT", "5432")
}

// GetPoolConfigFromEnv reads POSTGRES_USER, POSTGRES_PASSWORD, POSTGRES_HOST,
// POSTGRES_PORT and POSTGRES_DB plus the optional pool tunables.
func GetPoolConfigFromEnv() PoolConfig {
	for _, key := range []string{
		"POSTGRES_USER", "POSTGRES_PASSWORD", "POSTGRES_HOST", "POSTGRES_PORT", "POSTGRES_DB",
		"DB_MAX_OPEN_CONNS", "DB_MIN_CONNS", "DB_CONN_MAX_LIFETIME", "DB_CONN_MAX_IDLE_TIME",
	} {
		_ = viper.BindEnv(key)
	}

	cfg := PoolConfig{
		User:            viper.GetString("POSTGRES_USER"),
		Password:        viper.GetString("POSTGRES_PASSWORD"),
		Host:            viper.GetString("POSTGRES_HOST"),
		Port:            viper.GetString("POSTGRES_PORT"),
		DBName:          viper.GetString("POSTGRES_DB"),
		MaxOpenConns:    viper.GetInt32("DB_MAX_OPEN_CONNS"),
		MinConns:        viper.GetInt32("DB_MIN_CONNS"),
		ConnMaxLifetime: viper.GetDuration("DB_CONN_MAX_LIFETIME"),
		ConnMaxIdleTime: viper.GetDuration("DB_CONN_MAX_IDLE_TIME"),
	}

	if cfg.MaxOpenConns <= 0 {
		cfg.MaxOpenConns = 25
	}
	if cfg.MinConns < 0 {
		cfg.MinConns = 0
	}

	return cfg
}
