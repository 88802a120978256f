package database

import "strings"

// Config holds connection settings for the Postgres history backend.
type Config struct {
	Host           string `yaml:"host" envconfig:"DB_HOST"`
	Port           string `yaml:"port" envconfig:"DB_PORT"`
	User           string `yaml:"user" envconfig:"DB_USER"`
	Password       string `yaml:"password" envconfig:"DB_PASSWORD"`
	Name           string `yaml:"name" envconfig:"DB_NAME"`
	SSLMode        string `yaml:"sslmode" envconfig:"DB_SSLMODE"`
	MaxConnections int    `yaml:"max_connections" envconfig:"DB_MAX_CONNECTIONS"`
}

// DSN renders the libpq connection string for this config.
func (c Config) DSN() string {
	pairs := []string{
		"user=" + c.User,
		"password=" + c.Password,
		"host=" + c.Host,
		"port=" + c.Port,
		"dbname=" + c.Name,
		"sslmode=" + c.SSLMode,
	}
	return strings.Join(pairs, " ")
}

// Normalize fills connection defaults for fields the operator left empty.
func (c *Config) Normalize() {
	if c.Host == "" {
		c.Host = "localhost"
	}
	if c.Port == "" {
		c.Port = "5432"
	}
	if c.SSLMode == "" {
		c.SSLMode = "disable"
	}
	if c.MaxConnections <= 0 {
		c.MaxConnections = 5
	}
}
