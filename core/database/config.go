package database

import (
	"fmt"
	"net/url"

	coreconfig "github.com/youpin-city/mafueng-bot/core/config"
)

// Config holds PostgreSQL connection settings for the session store.
type Config = coreconfig.DatabaseConfig

// DSN renders cfg in the key=value form accepted by lib/pq.
func DSN(cfg Config) string {
	return fmt.Sprintf(
		"user=%s password=%s host=%s port=%s dbname=%s sslmode=%s",
		cfg.User, cfg.Password, cfg.Host, cfg.Port, cfg.Name, cfg.SSLMode,
	)
}

// MigrateURL renders cfg as the postgres:// URL used by golang-migrate.
func MigrateURL(cfg Config) string {
	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(cfg.User, cfg.Password),
		Host:     cfg.Host + ":" + cfg.Port,
		Path:     "/" + cfg.Name,
		RawQuery: "sslmode=" + url.QueryEscape(cfg.SSLMode),
	}
	return u.String()
}
