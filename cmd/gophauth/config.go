package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/pflag"

	"github.com/nkiryanov/gophauth/internal/logger"
	"github.com/nkiryanov/gophauth/internal/service/auth/refresh"
	"github.com/nkiryanov/gophauth/internal/service/auth/tokenmanager"
)

const (
	defaultListenAddr   = "localhost:8000"
	defaultLoggingLevel = logger.LevelInfo
	defaultEnvironment  = logger.EnvProduction
	defaultIssuer       = "http://auth-service"
)

var (
	defaultAccessAudience = []string{"document-service", "api-gateway"}
	defaultSystemAudience = []string{"document-service"}
)

type Config struct {
	// Default logging level
	LogLevel string

	// Address on which the service will be run
	ListenAddr string

	// Database to connect to
	DatabaseDSN string

	// Environment: 'dev' or 'prod'
	Environment string

	// 'iss' of every issued token
	Issuer string

	// 'aud' of user tokens
	AccessAudience []string

	// 'aud' of client credentials tokens
	SystemAudience []string

	// PEM encoded private key. Required in production
	// In development the key is generated on start if not set
	SigningKeyFile string

	AccessTTL  time.Duration
	RefreshTTL time.Duration

	// 'Secure' attribute of refresh token cookie
	CookieSecure bool

	// Clients to create on start: 'id:secret:scope1,scope2:ttlSeconds;...'
	SeedClients string
}

func NewConfig() *Config {
	return &Config{
		LogLevel:       defaultLoggingLevel,
		ListenAddr:     defaultListenAddr,
		Environment:    defaultEnvironment,
		Issuer:         defaultIssuer,
		AccessAudience: defaultAccessAudience,
		SystemAudience: defaultSystemAudience,
		AccessTTL:      tokenmanager.DefaultAccessTTL,
		RefreshTTL:     refresh.DefaultTTL,
		CookieSecure:   true,
	}
}

// Load variable from '.env' file (should be located at working directory)
func (c *Config) LoadDotEnv(getwd func() (string, error)) error {
	wd, err := getwd()
	if err != nil {
		return err
	}

	envMap, err := godotenv.Read(filepath.Join(wd, ".env"))

	switch {
	case err == nil:
		return c.LoadEnv(func(key string) string {
			return envMap[key]
		})
	case errors.Is(err, os.ErrNotExist):
		return nil
	default:
		return err
	}
}

func (c *Config) LoadEnv(getenv func(string) string) error {
	// Set option to value if it not empty
	setString := func(o *string) func(value string) error {
		return func(value string) error {
			if value != "" {
				*o = value
			}
			return nil
		}
	}
	setList := func(o *[]string) func(value string) error {
		return func(value string) error {
			if value != "" {
				*o = splitList(value)
			}
			return nil
		}
	}
	setDuration := func(o *time.Duration) func(value string) error {
		return func(value string) error {
			if value == "" {
				return nil
			}
			d, err := time.ParseDuration(value)
			if err != nil {
				return err
			}
			*o = d
			return nil
		}
	}
	setBool := func(o *bool) func(value string) error {
		return func(value string) error {
			if value == "" {
				return nil
			}
			b, err := strconv.ParseBool(value)
			if err != nil {
				return err
			}
			*o = b
			return nil
		}
	}

	envMap := map[string]func(string) error{
		"RUN_ADDRESS":      setString(&c.ListenAddr),
		"DATABASE_URI":     setString(&c.DatabaseDSN),
		"LOG_LEVEL":        setString(&c.LogLevel),
		"ENVIRONMENT":      setString(&c.Environment),
		"ISSUER":           setString(&c.Issuer),
		"ACCESS_AUDIENCE":  setList(&c.AccessAudience),
		"SYSTEM_AUDIENCE":  setList(&c.SystemAudience),
		"SIGNING_KEY_FILE": setString(&c.SigningKeyFile),
		"ACCESS_TTL":       setDuration(&c.AccessTTL),
		"REFRESH_TTL":      setDuration(&c.RefreshTTL),
		"COOKIE_SECURE":    setBool(&c.CookieSecure),
		"SEED_CLIENTS":     setString(&c.SeedClients),
	}

	var errs []error
	for key, parseFn := range envMap {
		if err := parseFn(getenv(key)); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", key, err))
		}
	}
	return errors.Join(errs...)
}

func (c *Config) ParseFlags(args []string) error {
	fs := pflag.NewFlagSet("gophauth", pflag.ContinueOnError)

	fs.StringVarP(&c.ListenAddr, "address", "a", c.ListenAddr, "Server listen address")
	fs.StringVarP(&c.DatabaseDSN, "database", "d", c.DatabaseDSN, "Database connection string")
	fs.StringVarP(&c.LogLevel, "log-level", "l", c.LogLevel, "Logging level (debug, info, warn, error)")
	fs.StringVarP(&c.Environment, "environment", "e", c.Environment, "Environment (dev, prod)")
	fs.StringVarP(&c.Issuer, "issuer", "i", c.Issuer, "Issuer of tokens")
	fs.StringSliceVar(&c.AccessAudience, "access-audience", c.AccessAudience, "Audience of user tokens")
	fs.StringSliceVar(&c.SystemAudience, "system-audience", c.SystemAudience, "Audience of client tokens")
	fs.StringVarP(&c.SigningKeyFile, "signing-key", "k", c.SigningKeyFile, "PEM private key file")
	fs.DurationVar(&c.AccessTTL, "access-ttl", c.AccessTTL, "Access token lifetime")
	fs.DurationVar(&c.RefreshTTL, "refresh-ttl", c.RefreshTTL, "Refresh token lifetime")
	fs.BoolVar(&c.CookieSecure, "cookie-secure", c.CookieSecure, "Set Secure attribute on refresh cookie")
	fs.StringVar(&c.SeedClients, "seed-clients", c.SeedClients, "Clients to create: id:secret:scopes:ttlSeconds;...")

	return fs.Parse(args)
}

// Validate reports setup the service must not start with
func (c *Config) Validate() error {
	var errs []error

	if c.DatabaseDSN == "" {
		errs = append(errs, errors.New("database connection string is required"))
	}
	if c.Issuer == "" {
		errs = append(errs, errors.New("issuer is required"))
	}
	if len(c.AccessAudience) == 0 {
		errs = append(errs, errors.New("access audience is required"))
	}
	if c.AccessTTL <= 0 || c.RefreshTTL <= 0 {
		errs = append(errs, errors.New("token lifetimes must be positive"))
	}
	if c.Environment == logger.EnvProduction && c.SigningKeyFile == "" {
		errs = append(errs, errors.New("signing key file is required in production"))
	}

	return errors.Join(errs...)
}

func splitList(value string) []string {
	var items []string
	for _, item := range strings.Split(value, ",") {
		if item = strings.TrimSpace(item); item != "" {
			items = append(items, item)
		}
	}
	return items
}
