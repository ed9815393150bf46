package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"postboard/auth"
	"postboard/storage"
)

// devSecretKey signs tokens in development. It is refused in production.
const devSecretKey = "dev-secret-key-change-me"

type Config struct {
	Port     int            `json:"port"`
	Env      string         `json:"env"`
	Database PostgresConfig `json:"database"`
	// DatabaseURL wins over Database when set. A "sqlite://" prefix selects sqlite.
	DatabaseURL     string       `json:"database_url"`
	SecretKey       string       `json:"secret_key"`
	TokenTTLMinutes int          `json:"access_token_expire_minutes"`
	BcryptCost      int          `json:"bcrypt_cost"`
	CORSOrigins     []string     `json:"cors_origins"`
	Images          ImagesConfig `json:"images"`
}

type PostgresConfig struct {
	Host     string `json:"host"`
	Port     int    `json:"port"`
	User     string `json:"user"`
	Password string `json:"password"`
	Name     string `json:"name"`
}

// ImagesConfig picks where uploads go: "disk" keeps them in Dir and serves
// them below BaseURL, "s3" puts them into a bucket.
type ImagesConfig struct {
	Backend string           `json:"backend"`
	Dir     string           `json:"dir"`
	BaseURL string           `json:"base_url"`
	S3      storage.S3Config `json:"s3"`
}

func (pc PostgresConfig) ConnectionInfo() string {
	if pc.Password == "" {
		return fmt.Sprintf("host=%s port=%d user=%s dbname=%s sslmode=disable", pc.Host, pc.Port, pc.User, pc.Name)
	}
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=disable", pc.Host, pc.Port, pc.User, pc.Password, pc.Name)
}

// DSN returns what the database is opened with.
func (c Config) DSN() string {
	if c.DatabaseURL != "" {
		return c.DatabaseURL
	}
	return c.Database.ConnectionInfo()
}

func (c Config) IsProd() bool {
	return c.Env == "prod"
}

// AuthConfig returns the settings of the credentials service.
func (c Config) AuthConfig() auth.Config {
	return auth.Config{
		SecretKey:  c.SecretKey,
		TokenTTL:   time.Duration(c.TokenTTLMinutes) * time.Minute,
		BcryptCost: c.BcryptCost,
	}
}

// Validate refuses settings that would run an insecure or broken server.
func (c Config) Validate() error {
	if c.SecretKey == "" {
		return errors.New("config: secret_key is required")
	}
	if c.IsProd() && c.SecretKey == devSecretKey {
		return errors.New("config: the development secret_key must not be used in production")
	}
	if c.TokenTTLMinutes < 0 {
		return errors.New("config: access_token_expire_minutes must not be negative")
	}
	switch c.Images.Backend {
	case "disk":
		if c.Images.Dir == "" {
			return errors.New("config: images.dir is required for the disk backend")
		}
	case "s3":
		if c.Images.S3.Bucket == "" || c.Images.S3.PublicURL == "" {
			return errors.New("config: images.s3 needs a bucket and a public_url")
		}
	default:
		return fmt.Errorf("config: unknown image backend %q", c.Images.Backend)
	}
	return nil
}

func DefaultConfig() Config {
	return Config{
		Port:            8000,
		Env:             "dev",
		Database:        DefaultPostgresConfig(),
		SecretKey:       devSecretKey,
		TokenTTLMinutes: 30,
		CORSOrigins:     []string{"http://localhost:3000"},
		Images: ImagesConfig{
			Backend: "disk",
			Dir:     "uploads",
			BaseURL: "/uploads",
		},
	}
}

func DefaultPostgresConfig() PostgresConfig {
	return PostgresConfig{
		Host:     "localhost",
		Port:     5432,
		User:     "postgres",
		Password: "",
		Name:     "postboard",
	}
}

// LoadConfig reads .config.json if present and falls back to the default dev
// setup otherwise. In production the file is required. Variables from the
// environment (or a .env file) override whatever the file says.
func LoadConfig(configRequired bool) (Config, error) {
	c := DefaultConfig()
	f, err := os.Open(".config.json")
	switch {
	case err == nil:
		defer f.Close()
		if err := json.NewDecoder(f).Decode(&c); err != nil {
			return Config{}, fmt.Errorf("decoding .config.json: %w", err)
		}
		log.Println("Successfully loaded .config.json")
	case configRequired:
		return Config{}, fmt.Errorf("a .config.json file is required in production: %w", err)
	default:
		log.Println("Using the default config")
	}

	if err := godotenv.Load(); err == nil {
		log.Println("Successfully loaded .env")
	}
	if err := c.applyEnv(os.LookupEnv); err != nil {
		return Config{}, err
	}
	return c, nil
}

// applyEnv overrides fields from environment variables. lookup is os.LookupEnv outside of tests.
func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	str := func(name string, dst *string) {
		if v, ok := lookup(name); ok && v != "" {
			*dst = v
		}
	}
	num := func(name string, dst *int) error {
		v, ok := lookup(name)
		if !ok || v == "" {
			return nil
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("config: %s must be an integer, got %q", name, v)
		}
		*dst = n
		return nil
	}

	str("ENV", &c.Env)
	str("SECRET_KEY", &c.SecretKey)
	str("DATABASE_URL", &c.DatabaseURL)
	str("IMAGE_BACKEND", &c.Images.Backend)
	str("IMAGE_DIR", &c.Images.Dir)
	str("IMAGE_BASE_URL", &c.Images.BaseURL)
	str("S3_ENDPOINT", &c.Images.S3.Endpoint)
	str("S3_REGION", &c.Images.S3.Region)
	str("S3_BUCKET", &c.Images.S3.Bucket)
	str("S3_ACCESS_KEY_ID", &c.Images.S3.AccessKeyID)
	str("S3_SECRET_ACCESS_KEY", &c.Images.S3.SecretAccessKey)
	str("S3_PUBLIC_URL", &c.Images.S3.PublicURL)
	if v, ok := lookup("CORS_ORIGINS"); ok && v != "" {
		c.CORSOrigins = nil
		for _, o := range strings.Split(v, ",") {
			if o = strings.TrimSpace(o); o != "" {
				c.CORSOrigins = append(c.CORSOrigins, o)
			}
		}
	}
	for name, dst := range map[string]*int{
		"PORT":                        &c.Port,
		"ACCESS_TOKEN_EXPIRE_MINUTES": &c.TokenTTLMinutes,
		"BCRYPT_COST":                 &c.BcryptCost,
	} {
		if err := num(name, dst); err != nil {
			return err
		}
	}
	return nil
}
