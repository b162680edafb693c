package config

import (
	"io/fs"
	"os"
	"reflect"
	"strings"
	"time"

	"github.com/creasty/defaults"
	"github.com/iancoleman/strcase"
	"github.com/joho/godotenv"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
	"github.com/pkg/errors"
)

const (
	configFileEnv     = "CONFIG_FILE"
	defaultConfigFile = "/config/spines.yaml"
	dotEnvFile        = ".env"
)

type Config struct {
	DatabaseBusyTimeout       time.Duration `koanf:"database_busy_timeout" default:"5s"`
	DatabaseConnectRetryCount int           `koanf:"database_connect_retry_count" default:"5"`
	DatabaseConnectRetryDelay time.Duration `koanf:"database_connect_retry_delay" default:"2s"`
	DatabaseDebug             bool          `koanf:"database_debug"`
	DatabaseFilePath          string        `koanf:"database_file_path" required:"true"`
	DatabaseMaxRetries        int           `koanf:"database_max_retries" default:"5"`

	ServerHost string `koanf:"server_host" default:"0.0.0.0"`
	ServerPort int    `koanf:"server_port" default:"8888"`

	BooksPath   string `koanf:"books_path" default:"/books"`
	TempPath    string `koanf:"temp_path" default:"/data/temp"`
	HoldingPath string `koanf:"holding_path" default:"/data/review"`

	WorkerProcesses    int           `koanf:"worker_processes" default:"2"`
	WorkerPollInterval time.Duration `koanf:"worker_poll_interval" default:"5s"`

	EbookMetaPath                string        `koanf:"ebook_meta_path" default:"ebook-meta"`
	ExtractionTimeout            time.Duration `koanf:"extraction_timeout" default:"60s"`
	ExtractionWeightISBN         float64       `koanf:"extraction_weight_isbn" default:"0.45"`
	ExtractionWeightTitleAuthor  float64       `koanf:"extraction_weight_title_author" default:"0.25"`
	ExtractionWeightAgreement    float64       `koanf:"extraction_weight_agreement" default:"0.15"`
	ExtractionWeightPlausibility float64       `koanf:"extraction_weight_plausibility" default:"0.15"`

	AutoAcceptThreshold      float64 `koanf:"auto_accept_threshold" default:"0.85"`
	MatchFloor               float64 `koanf:"match_floor" default:"0.5"`
	MatchActionableThreshold float64 `koanf:"match_actionable_threshold" default:"0.75"`

	OCRURL     string        `koanf:"ocr_url"`
	OCRModel   string        `koanf:"ocr_model" default:"mistral-small3.2:24b"`
	OCRTimeout time.Duration `koanf:"ocr_timeout" default:"120s"`

	ISBNLookupURL     string        `koanf:"isbn_lookup_url" default:"https://openlibrary.org"`
	ISBNLookupTimeout time.Duration `koanf:"isbn_lookup_timeout" default:"15s"`

	ProgressPingInterval time.Duration `koanf:"progress_ping_interval" default:"15s"`
	ProgressIdleTimeout  time.Duration `koanf:"progress_idle_timeout" default:"5m"`

	TempCleanupMaxAge time.Duration `koanf:"temp_cleanup_max_age" default:"24h"`
	JobLogRetention   time.Duration `koanf:"job_log_retention" default:"720h"`
}

// New loads the config from (in increasing precedence) struct defaults, the
// YAML file named by CONFIG_FILE, and environment variables. A .env file in
// the working directory is loaded into the environment first if present.
func New() (*Config, error) {
	if _, err := os.Stat(dotEnvFile); err == nil {
		if err := godotenv.Load(dotEnvFile); err != nil {
			return nil, errors.Wrap(err, "failed to load .env file")
		}
	}

	cfg := &Config{}
	if err := defaults.Set(cfg); err != nil {
		return nil, errors.WithStack(err)
	}

	k := koanf.New(".")

	configFile := os.Getenv(configFileEnv)
	if configFile == "" {
		configFile = defaultConfigFile
	}
	if err := k.Load(file.Provider(configFile), yaml.Parser()); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, errors.Wrapf(err, "failed to load config file %s", configFile)
	}

	keys := knownKeys()
	err := k.Load(env.ProviderWithValue("", ".", func(name, value string) (string, interface{}) {
		key := strings.ToLower(name)
		if _, ok := keys[key]; !ok || value == "" {
			return "", nil
		}
		return key, value
	}), nil)
	if err != nil {
		return nil, errors.WithStack(err)
	}

	if err := k.Unmarshal("", cfg); err != nil {
		return nil, errors.Wrap(err, "failed to decode config")
	}

	if err := validateRequired(cfg); err != nil {
		return nil, err
	}
	if err := cfg.validateRanges(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Defaults returns a config holding only the tag defaults. Debug tools use it
// when they don't need a database or server.
func Defaults() *Config {
	cfg := &Config{}
	_ = defaults.Set(cfg)
	return cfg
}

// NewForTest returns a config suitable for tests: an in-memory database and
// loopback server host. Paths are left empty for tests to fill in.
func NewForTest() *Config {
	cfg := Defaults()
	cfg.DatabaseFilePath = ":memory:"
	cfg.ServerHost = "127.0.0.1"
	cfg.BooksPath = ""
	cfg.TempPath = ""
	cfg.HoldingPath = ""
	return cfg
}

func knownKeys() map[string]struct{} {
	keys := map[string]struct{}{}
	t := reflect.TypeOf(Config{})
	for i := 0; i < t.NumField(); i++ {
		keys[configKey(t.Field(i))] = struct{}{}
	}
	return keys
}

func configKey(field reflect.StructField) string {
	if tag := field.Tag.Get("koanf"); tag != "" {
		return tag
	}
	return toSnakeCase(field.Name)
}

func validateRequired(cfg *Config) error {
	v := reflect.ValueOf(cfg).Elem()
	t := v.Type()
	for i := 0; i < t.NumField(); i++ {
		field := t.Field(i)
		if field.Tag.Get("required") != "true" {
			continue
		}
		if v.Field(i).IsZero() {
			key := configKey(field)
			return errors.Errorf("missing required config: set %s env var or %s in config file", strings.ToUpper(key), key)
		}
	}
	return nil
}

// validateRanges catches settings that would load fine but make the pipeline
// misbehave, like a match floor above the auto-accept threshold.
func (cfg *Config) validateRanges() error {
	for key, v := range map[string]float64{
		"auto_accept_threshold":      cfg.AutoAcceptThreshold,
		"match_floor":                cfg.MatchFloor,
		"match_actionable_threshold": cfg.MatchActionableThreshold,
	} {
		if v < 0 || v > 1 {
			return errors.Errorf("%s must be between 0 and 1, got %g", key, v)
		}
	}
	if cfg.MatchFloor > cfg.MatchActionableThreshold {
		return errors.Errorf("match_floor (%g) can't exceed match_actionable_threshold (%g)", cfg.MatchFloor, cfg.MatchActionableThreshold)
	}
	if cfg.WorkerProcesses < 1 {
		return errors.Errorf("worker_processes must be at least 1, got %d", cfg.WorkerProcesses)
	}
	return nil
}

func toSnakeCase(s string) string {
	return strcase.ToSnake(s)
}
