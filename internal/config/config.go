package config

import (
	"errors"
	"fmt"
	"os"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"
)

var configLogger zerolog.Logger

func SetLogger(l zerolog.Logger) {
	configLogger = l
}

// Config represents the complete configuration structure
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Logging   LoggingConfig   `yaml:"logging"`
	Storage   StorageConfig   `yaml:"storage"`
	Media     MediaConfig     `yaml:"media"`
	Editor    EditorConfig    `yaml:"editor"`
	Poll      PollConfig      `yaml:"poll"`
	LinkedIn  LinkedInConfig  `yaml:"linkedin"`
	Auth      AuthConfig      `yaml:"auth"`
	Scheduler SchedulerConfig `yaml:"scheduler"`

	// Secrets are read from the environment only.
	Secrets Secrets `yaml:"-"`
}

type ServerConfig struct {
	Host string `yaml:"host" default:"0.0.0.0"`
	Port string `yaml:"port" default:"12600"`

	MaxUploadBytes int `yaml:"max_upload_bytes" default:"10485760"`
}

func (s ServerConfig) Addr() string {
	return s.Host + ":" + s.Port
}

type LoggingConfig struct {
	Level string `yaml:"level" default:"info"`
	// Format is "console" for humans or "json" for log collectors.
	Format string `yaml:"format" default:"console"`
}

type StorageConfig struct {
	Driver      string      `yaml:"driver" default:"sqlite"`
	Path        string      `yaml:"path" default:"./postdeck.db"`
	Compression string      `yaml:"compression" default:"zstd"`
	Retry       RetryConfig `yaml:"retry"`
}

type RetryConfig struct {
	Initial    time.Duration `yaml:"initial" default:"200ms"`
	MaxElapsed time.Duration `yaml:"max_elapsed" default:"5s"`
}

type MediaConfig struct {
	Driver   string   `yaml:"driver" default:"fs"`
	Dir      string   `yaml:"dir" default:"./media"`
	MaxFiles int      `yaml:"max_files" default:"9"`
	S3       S3Config `yaml:"s3"`
}

type S3Config struct {
	Endpoint  string `yaml:"endpoint" default:""`
	Region    string `yaml:"region" default:"auto"`
	Bucket    string `yaml:"bucket" default:"postdeck-media"`
	PublicURL string `yaml:"public_url" default:""`
}

type EditorConfig struct {
	HistoryLimit int           `yaml:"history_limit" default:"100"`
	IdleTimeout  time.Duration `yaml:"idle_timeout" default:"30m"`
}

type PollConfig struct {
	MinDays int `yaml:"min_days" default:"1"`
	MaxDays int `yaml:"max_days" default:"7"`
}

type LinkedInConfig struct {
	// DryRun publishes nowhere and returns fake post ids.
	DryRun  bool          `yaml:"dry_run" default:"false"`
	BaseURL string        `yaml:"base_url" default:"https://api.linkedin.com"`
	Version string        `yaml:"version" default:"202405"`
	Timeout time.Duration `yaml:"timeout" default:"30s"`
}

type AuthConfig struct {
	Provider    string `yaml:"provider" default:"header"`
	Header      string `yaml:"header" default:"X-User-Id"`
	DefaultUser string `yaml:"default_user" default:""`
}

type SchedulerConfig struct {
	Enabled  bool          `yaml:"enabled" default:"true"`
	Interval time.Duration `yaml:"interval" default:"30s"`
}

type Secrets struct {
	ClerkKey      string
	LinkedInToken string
	S3AccessKeyId string
	S3SecretKey   string
}

const (
	EnvClerkKey      = "CLERK_API"
	EnvLinkedInToken = "LINKEDIN_TOKEN"
	EnvS3AccessKey   = "S3_ACCESS_KEY_ID"
	EnvS3SecretKey   = "S3_SECRET_ACCESS_KEY"
)

var AppConfig *Config

// LoadConfig reads path over the defaults. A missing file leaves the defaults in place.
func LoadConfig(path string) (*Config, error) {
	config := &Config{}

	// Apply default values first
	applyDefaults(config)

	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
		configLogger.Info().Str("path", path).Msg("Config file not found, using defaults")
	case err != nil:
		return nil, fmt.Errorf("failed to read config file: %w", err)
	default:
		if err := yaml.Unmarshal(data, config); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	config.Secrets = LoadSecrets()
	if err := config.Validate(); err != nil {
		return nil, err
	}

	AppConfig = config
	return config, nil
}

// LoadEnv loads .env files into the process environment. Missing files are not an error.
func LoadEnv(files ...string) {
	if err := godotenv.Load(files...); err != nil {
		configLogger.Debug().Err(err).Msg("No .env file loaded")
	}
}

func LoadSecrets() Secrets {
	return Secrets{
		ClerkKey:      os.Getenv(EnvClerkKey),
		LinkedInToken: os.Getenv(EnvLinkedInToken),
		S3AccessKeyId: os.Getenv(EnvS3AccessKey),
		S3SecretKey:   os.Getenv(EnvS3SecretKey),
	}
}

func (c *Config) Validate() error {
	var errs []error

	switch c.Storage.Driver {
	case "sqlite", "memory":
	default:
		errs = append(errs, fmt.Errorf("storage.driver: unknown driver %q", c.Storage.Driver))
	}
	switch c.Media.Driver {
	case "fs", "s3":
	default:
		errs = append(errs, fmt.Errorf("media.driver: unknown driver %q", c.Media.Driver))
	}
	switch c.Logging.Format {
	case "console", "json":
	default:
		errs = append(errs, fmt.Errorf("logging.format: unknown format %q", c.Logging.Format))
	}
	switch c.Auth.Provider {
	case "header", "clerk":
	default:
		errs = append(errs, fmt.Errorf("auth.provider: unknown provider %q", c.Auth.Provider))
	}

	if c.Poll.MinDays < 1 || c.Poll.MaxDays < c.Poll.MinDays {
		errs = append(errs, fmt.Errorf("poll: invalid day range %d..%d", c.Poll.MinDays, c.Poll.MaxDays))
	}
	if c.Media.MaxFiles < 1 {
		errs = append(errs, fmt.Errorf("media.max_files must be at least 1, got %d", c.Media.MaxFiles))
	}
	if c.Editor.HistoryLimit < 0 {
		errs = append(errs, fmt.Errorf("editor.history_limit must not be negative, got %d", c.Editor.HistoryLimit))
	}
	if c.Scheduler.Enabled && c.Scheduler.Interval <= 0 {
		errs = append(errs, fmt.Errorf("scheduler.interval must be positive, got %s", c.Scheduler.Interval))
	}

	if len(errs) > 0 {
		return fmt.Errorf("invalid configuration: %w", errors.Join(errs...))
	}
	return nil
}

func ApplyDefaults(config interface{}) {
	applyDefaults(config)
}

var durationType = reflect.TypeOf(time.Duration(0))

func applyDefaults(config interface{}) {
	v := reflect.ValueOf(config)
	if v.Kind() == reflect.Ptr {
		v = v.Elem()
	}

	if v.Kind() != reflect.Struct {
		return
	}

	t := v.Type()
	for i := 0; i < v.NumField(); i++ {
		field := v.Field(i)
		fieldType := t.Field(i)

		if !field.IsValid() || !field.CanSet() {
			continue
		}

		// Recursively apply defaults to nested structs
		if field.Kind() == reflect.Struct {
			applyDefaults(field.Addr().Interface())
			continue
		}

		defaultValue := fieldType.Tag.Get("default")
		if defaultValue == "" {
			continue
		}

		if field.Type() == durationType {
			if val, err := time.ParseDuration(defaultValue); err == nil {
				field.SetInt(int64(val))
			}
			continue
		}

		switch field.Kind() {
		case reflect.String:
			field.SetString(defaultValue)
		case reflect.Bool:
			if val, err := strconv.ParseBool(defaultValue); err == nil {
				field.SetBool(val)
			}
		case reflect.Int, reflect.Int64:
			if val, err := strconv.ParseInt(defaultValue, 10, 64); err == nil {
				field.SetInt(val)
			}
		case reflect.Float64:
			if val, err := strconv.ParseFloat(defaultValue, 64); err == nil {
				field.SetFloat(val)
			}
		case reflect.Slice:
			if field.Len() == 0 && field.Type().Elem().Kind() == reflect.String {
				parts := strings.Split(defaultValue, ",")
				slice := reflect.MakeSlice(field.Type(), len(parts), len(parts))
				for j, part := range parts {
					slice.Index(j).SetString(strings.TrimSpace(part))
				}
				field.Set(slice)
			}
		default:
			configLogger.Warn().
				Str("field_name", fieldType.Name).
				Str("field_type", field.Kind().String()).
				Msg("Unsupported field type for default value")
		}
	}
}
