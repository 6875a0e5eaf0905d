package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"
)

type Config struct {
	ListenAddr          string        `env:"LISTEN_ADDR"            yaml:"listen_addr"`
	DBPath              string        `env:"DB_PATH"                yaml:"db_path"`
	CallbackURL         string        `env:"CALLBACK_URL"           yaml:"callback_url"`
	DefaultHub          string        `env:"DEFAULT_HUB"            yaml:"default_hub"`
	AlwaysUseDefaultHub bool          `env:"ALWAYS_USE_DEFAULT_HUB" yaml:"always_use_default_hub"`
	LeaseSeconds        int64         `env:"LEASE_SECONDS"          yaml:"lease_seconds"`
	VerifyToken         string        `env:"VERIFY_TOKEN"           yaml:"verify_token"`
	HubSecret           string        `env:"HUB_SECRET"             yaml:"hub_secret"`
	HTTPTimeout         time.Duration `env:"HTTP_TIMEOUT"           yaml:"http_timeout"`
	RenewalSpec         string        `env:"RENEWAL_SPEC"           yaml:"renewal_spec"`
	HubRequestInterval  time.Duration `env:"HUB_REQUEST_INTERVAL"   yaml:"hub_request_interval"`
	PostsPageSize       uint64        `env:"POSTS_PAGE_SIZE"        yaml:"posts_page_size"`
}

func Default() Config {
	return Config{
		ListenAddr:         ":8080",
		DBPath:             "db.sqlite",
		DefaultHub:         "http://pollinghub.appspot.com/",
		LeaseSeconds:       90 * 24 * 60 * 60,
		HTTPTimeout:        10 * time.Second,
		RenewalSpec:        "0 3 * * *",
		HubRequestInterval: time.Second,
		PostsPageSize:      30,
	}
}

// LoadConfig layers the optional YAML file over the defaults and the
// environment over both.
func LoadConfig(path string) (Config, error) {
	cfg := Default()

	path = strings.TrimSpace(path)
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config file: %w", err)
		}

		if err = yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("decode config file: %w", err)
		}
	}

	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func (c Config) Validate() error {
	var errs []error

	if strings.TrimSpace(c.CallbackURL) == "" {
		errs = append(errs, errors.New("CALLBACK_URL is required"))
	}
	if strings.TrimSpace(c.VerifyToken) == "" {
		errs = append(errs, errors.New("VERIFY_TOKEN is required"))
	}
	if strings.TrimSpace(c.DefaultHub) == "" {
		errs = append(errs, errors.New("DEFAULT_HUB is empty"))
	}
	if c.LeaseSeconds <= 0 {
		errs = append(errs, fmt.Errorf("LEASE_SECONDS must be positive (got %d)", c.LeaseSeconds))
	}
	if c.HTTPTimeout <= 0 {
		errs = append(errs, fmt.Errorf("HTTP_TIMEOUT must be positive (got %s)", c.HTTPTimeout))
	}
	if c.PostsPageSize == 0 {
		errs = append(errs, errors.New("POSTS_PAGE_SIZE must be positive"))
	}

	return errors.Join(errs...)
}
