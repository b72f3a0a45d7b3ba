package config

import (
	"time"

	"github.com/kelseyhightower/envconfig"
	"github.com/pkg/errors"
)

// Server is the server process configuration, read from LAHAK_* variables.
type Server struct {
	HTTPAddr      string        `split_words:"true" default:":8080"`
	Storage       string        `default:"memory"`
	MySQLDSN      string        `envconfig:"MYSQL_DSN" default:"root:root@tcp(localhost:3306)/lahak?parseTime=true"`
	Lock          string        `default:"memory"`
	RedisAddr     string        `split_words:"true" default:"localhost:6379"`
	LockTTL       time.Duration `split_words:"true" default:"5s"`
	LockWait      time.Duration `split_words:"true" default:"2s"`
	SeedFile      string        `split_words:"true"`
	AssetDir      string        `split_words:"true"`
	MigrationsDir string        `split_words:"true" default:"migrations"`
	LogJSON       bool          `split_words:"true" default:"false"`
}

func LoadServer() (Server, error) {
	var c Server
	if err := envconfig.Process("lahak", &c); err != nil {
		return c, errors.Wrap(err, "read server config")
	}
	return c, nil
}

// Client is the CLI configuration. CacheDir and PrefsPath fall back to the
// user's cache and config directories when left empty.
type Client struct {
	ServerURL       string `split_words:"true" default:"http://localhost:8080"`
	CacheDir        string `split_words:"true"`
	AssetGeneration string `split_words:"true" default:"static-v1"`
	PrefsPath       string `split_words:"true"`
}

func LoadClient() (Client, error) {
	var c Client
	if err := envconfig.Process("lahak", &c); err != nil {
		return c, errors.Wrap(err, "read client config")
	}
	return c, nil
}
