package config

import (
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/kelseyhightower/envconfig"
	utilerrors "k8s.io/apimachinery/pkg/util/errors"
	"k8s.io/client-go/util/homedir"
)

const (
	// APIKeyEnv is the environment variable holding the batch service bearer token.
	APIKeyEnv = "OPENAI_API_KEY"

	DatabaseTypeSqlite   = "sqlite"
	DatabaseTypePostgres = "pgsql"
)

var ErrMissingCredential = errors.New(APIKeyEnv + " is not set")

type Config struct {
	Service  *svcConfig
	Database *dbConfig
	Archive  *archiveConfig
}

type svcConfig struct {
	APIKey           string        `envconfig:"OPENAI_API_KEY" json:"-"`
	BaseURL          string        `envconfig:"OPENAI_BASE_URL" default:"https://api.openai.com/v1" validate:"required,url"`
	Model            string        `envconfig:"TEXBATCH_MODEL" default:"gpt-5" validate:"required"`
	SystemPrompt     string        `envconfig:"TEXBATCH_SYSTEM_PROMPT" default:"You are a LaTeX expert assistant." validate:"required"`
	CompletionWindow string        `envconfig:"TEXBATCH_COMPLETION_WINDOW" default:"24h" validate:"required"`
	PollInterval     time.Duration `envconfig:"TEXBATCH_POLL_INTERVAL" default:"60s" validate:"gt=0"`
	PollJitter       time.Duration `envconfig:"TEXBATCH_POLL_JITTER" default:"0s" validate:"gte=0"`
	HTTPTimeout      time.Duration `envconfig:"TEXBATCH_HTTP_TIMEOUT" default:"60s" validate:"gt=0"`
	ArtifactPath     string        `envconfig:"TEXBATCH_ARTIFACT_PATH" default:"batch_requests.jsonl" validate:"required"`
	LogLevel         string        `envconfig:"TEXBATCH_LOG_LEVEL" default:"info"`
	MetricsFile      string        `envconfig:"TEXBATCH_METRICS_FILE" default:""`
	EventsSink       string        `envconfig:"TEXBATCH_EVENTS" default:""`
}

type dbConfig struct {
	Type     string `envconfig:"TEXBATCH_DB_TYPE" default:"sqlite" validate:"oneof=sqlite pgsql"`
	Name     string `envconfig:"TEXBATCH_DB_NAME" default:""`
	Hostname string `envconfig:"TEXBATCH_DB_HOST" default:"localhost"`
	Port     int    `envconfig:"TEXBATCH_DB_PORT" default:"5432"`
	User     string `envconfig:"TEXBATCH_DB_USER" default:"admin"`
	Password string `envconfig:"TEXBATCH_DB_PASS" default:"adminpass" json:"-"`
}

type archiveConfig struct {
	Endpoint  string `envconfig:"TEXBATCH_ARCHIVE_ENDPOINT" default:""`
	Bucket    string `envconfig:"TEXBATCH_ARCHIVE_BUCKET" default:"texbatch" validate:"required_with=Endpoint"`
	Region    string `envconfig:"TEXBATCH_ARCHIVE_REGION" default:""`
	AccessKey string `envconfig:"TEXBATCH_ARCHIVE_ACCESS_KEY" default:""`
	SecretKey string `envconfig:"TEXBATCH_ARCHIVE_SECRET_KEY" default:"" json:"-"`
	UseSSL    bool   `envconfig:"TEXBATCH_ARCHIVE_USE_SSL" default:"false"`
}

// New reads the configuration from the environment.
func New() (*Config, error) {
	cfg := new(Config)
	if err := envconfig.Process("", cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// NewDefault returns a configuration holding only the default values.
func NewDefault() *Config {
	return &Config{
		Service: &svcConfig{
			BaseURL:          "https://api.openai.com/v1",
			Model:            "gpt-5",
			SystemPrompt:     "You are a LaTeX expert assistant.",
			CompletionWindow: "24h",
			PollInterval:     60 * time.Second,
			HTTPTimeout:      60 * time.Second,
			ArtifactPath:     "batch_requests.jsonl",
			LogLevel:         "info",
		},
		Database: &dbConfig{
			Type:     DatabaseTypeSqlite,
			Hostname: "localhost",
			Port:     5432,
			User:     "admin",
			Password: "adminpass",
		},
		Archive: &archiveConfig{
			Bucket: "texbatch",
		},
	}
}

// CheckCredential fails when no bearer token is configured.
func (c *Config) CheckCredential() error {
	if c.Service == nil || c.Service.APIKey == "" {
		return ErrMissingCredential
	}
	return nil
}

// DatabasePath returns the database name, defaulting to a file under the
// user's home directory for sqlite.
func (c *Config) DatabasePath() string {
	if c.Database.Name != "" {
		return c.Database.Name
	}
	if c.Database.Type == DatabaseTypePostgres {
		return "texbatch"
	}
	return filepath.Join(homedir.HomeDir(), ".texbatch", "texbatch.db")
}

// ArchiveEnabled reports whether an object storage endpoint is configured.
func (c *Config) ArchiveEnabled() bool {
	return c.Archive != nil && c.Archive.Endpoint != ""
}

func (c *Config) Validate() error {
	v := validator.New()

	validationErrors := make([]error, 0)
	for _, s := range []any{c.Service, c.Database, c.Archive} {
		validationErrors = append(validationErrors, validateStruct(v, s)...)
	}
	if len(validationErrors) > 0 {
		return fmt.Errorf("invalid configuration: %v", utilerrors.NewAggregate(validationErrors).Error())
	}
	return nil
}

func validateStruct(v *validator.Validate, s any) []error {
	err := v.Struct(s)
	if err == nil {
		return nil
	}

	var fieldErrors validator.ValidationErrors
	if !errors.As(err, &fieldErrors) {
		return []error{err}
	}

	errs := make([]error, 0, len(fieldErrors))
	for _, fe := range fieldErrors {
		errs = append(errs, fmt.Errorf("%s: failed on %q (value %v)", fe.Namespace(), fe.Tag(), fe.Value()))
	}
	return errs
}
