// Package config provides configuration loading and validation for the CLI
// and the HTTP service.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/jonathan/carousel-generator/internal/generator"
	"github.com/jonathan/carousel-generator/internal/llm"
	"github.com/jonathan/carousel-generator/internal/pipeline"
)

// Storage backends.
const (
	StorageGCS   = "gcs"
	StorageLocal = "local"
)

// Config represents the service configuration. Values come from, in order of
// precedence: CLI flags, a JSON or YAML config file, the environment (and
// .env), then defaults.
type Config struct {
	AppEnv   string `json:"app_env,omitempty" yaml:"app_env,omitempty"`
	LogLevel string `json:"log_level,omitempty" yaml:"log_level,omitempty" validate:"omitempty,oneof=trace debug info warn error fatal panic disabled"`
	Port     int    `json:"port,omitempty" yaml:"port,omitempty" validate:"min=1,max=65535"`

	// Models
	Provider               string `json:"provider,omitempty" yaml:"provider,omitempty" validate:"oneof=gemini openai"`
	GoogleAPIKey           string `json:"google_api_key,omitempty" yaml:"google_api_key,omitempty"`
	OpenAIAPIKey           string `json:"openai_api_key,omitempty" yaml:"openai_api_key,omitempty"`
	OpenAIBaseURL          string `json:"openai_base_url,omitempty" yaml:"openai_base_url,omitempty" validate:"omitempty,url"`
	// TextModel and ImageModel default to the provider's models when empty.
	TextModel              string `json:"text_model,omitempty" yaml:"text_model,omitempty"`
	ImageModel             string `json:"image_model,omitempty" yaml:"image_model,omitempty"`
	ModelRequestsPerMinute int    `json:"model_requests_per_minute,omitempty" yaml:"model_requests_per_minute,omitempty" validate:"min=0"`

	// Sheet source and results sink
	SpreadsheetID         string   `json:"spreadsheet_id,omitempty" yaml:"spreadsheet_id,omitempty"`
	SheetsCredentialsFile string   `json:"sheets_credentials_file,omitempty" yaml:"sheets_credentials_file,omitempty"`
	SheetFile             string   `json:"sheet_file,omitempty" yaml:"sheet_file,omitempty"`
	SourceSheetName       string   `json:"source_sheet_name,omitempty" yaml:"source_sheet_name,omitempty"`
	OutputSheetName       string   `json:"output_sheet_name,omitempty" yaml:"output_sheet_name,omitempty"`
	AllowedVirality       []string `json:"allowed_virality,omitempty" yaml:"allowed_virality,omitempty"`
	AllowedEngagement     []string `json:"allowed_engagement,omitempty" yaml:"allowed_engagement,omitempty"`

	// Output
	Bucket         string `json:"bucket,omitempty" yaml:"bucket,omitempty" validate:"required_if=StorageBackend gcs"`
	StorageBackend string `json:"storage_backend,omitempty" yaml:"storage_backend,omitempty" validate:"oneof=gcs local"`
	OutputDir      string `json:"output_dir,omitempty" yaml:"output_dir,omitempty" validate:"required"`

	// Generation
	ImageCount        int    `json:"image_count,omitempty" yaml:"image_count,omitempty" validate:"min=1,max=10"`
	BatchSize         int    `json:"batch_size,omitempty" yaml:"batch_size,omitempty" validate:"min=0"`
	MaxParallelImages int    `json:"max_parallel_images,omitempty" yaml:"max_parallel_images,omitempty" validate:"min=1"`
	RetryAttempts     int    `json:"retry_attempts,omitempty" yaml:"retry_attempts,omitempty" validate:"min=1,max=10"`
	RetryDelay        string `json:"retry_delay,omitempty" yaml:"retry_delay,omitempty"`
	OverlayFallback   *bool  `json:"overlay_fallback,omitempty" yaml:"overlay_fallback,omitempty"`
	Style             string `json:"style,omitempty" yaml:"style,omitempty"`

	DatabaseURL string `json:"database_url,omitempty" yaml:"database_url,omitempty"`
}

// Defaults returns the built-in configuration.
func Defaults() Config {
	overlay := true
	return Config{
		AppEnv:                 "production",
		LogLevel:               "info",
		Port:                   8080,
		Provider:               string(llm.ProviderGemini),
		ModelRequestsPerMinute: 60,
		SourceSheetName:        "INSTAGRAM",
		OutputSheetName:        "Generated_Content",
		AllowedVirality:        []string{"VIRUS", "BEST", "GOOD"},
		AllowedEngagement:      []string{"BEST ER", "VIRAL ER"},
		Bucket:                 "content-generator-output",
		StorageBackend:         StorageGCS,
		OutputDir:              "output/posts",
		ImageCount:             10,
		MaxParallelImages:      10,
		RetryAttempts:          3,
		RetryDelay:             "2s",
		OverlayFallback:        &overlay,
		Style:                  generator.DefaultStyle,
	}
}

// LoadDotEnv loads .env files into the environment when they exist. Values
// already set in the environment win.
func LoadDotEnv(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	var existing []string
	for _, p := range paths {
		if _, err := os.Stat(p); err == nil {
			existing = append(existing, p)
		}
	}
	if len(existing) == 0 {
		return nil
	}
	if err := godotenv.Load(existing...); err != nil {
		return fmt.Errorf("failed to load env file: %w", err)
	}
	return nil
}

// FromEnv reads configuration from environment variables. Unset variables
// leave fields at their zero value. Malformed numbers are reported.
func FromEnv() (Config, error) {
	return fromLookup(os.LookupEnv)
}

func fromLookup(lookup func(string) (string, bool)) (Config, error) {
	get := func(key string) string {
		v, _ := lookup(key)
		return strings.TrimSpace(v)
	}
	var errs []error
	getInt := func(key string) int {
		v := get(key)
		if v == "" {
			return 0
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %q is not an integer", key, v))
		}
		return n
	}

	cfg := Config{
		AppEnv:                 get("APP_ENV"),
		LogLevel:               strings.ToLower(get("LOG_LEVEL")),
		Port:                   getInt("PORT"),
		Provider:               strings.ToLower(get("LLM_PROVIDER")),
		GoogleAPIKey:           get("GOOGLE_API_KEY"),
		OpenAIAPIKey:           get("OPENAI_API_KEY"),
		OpenAIBaseURL:          get("OPENAI_BASE_URL"),
		TextModel:              get("TEXT_MODEL"),
		ImageModel:             get("IMAGE_MODEL"),
		ModelRequestsPerMinute: getInt("MODEL_REQUESTS_PER_MINUTE"),
		SpreadsheetID:          get("SHEETS_SPREADSHEET_ID"),
		SheetsCredentialsFile:  get("SHEETS_CREDENTIALS_FILE"),
		SheetFile:              get("SHEET_FILE"),
		SourceSheetName:        get("SOURCE_SHEET_NAME"),
		OutputSheetName:        get("OUTPUT_SHEET_NAME"),
		AllowedVirality:        SplitList(get("ALLOWED_VIRALITY")),
		AllowedEngagement:      SplitList(get("ALLOWED_ENGAGEMENT")),
		Bucket:                 get("GCS_BUCKET"),
		StorageBackend:         strings.ToLower(get("STORAGE_BACKEND")),
		OutputDir:              get("OUTPUT_DIR"),
		ImageCount:             getInt("CAROUSEL_IMAGE_COUNT"),
		BatchSize:              getInt("BATCH_SIZE"),
		MaxParallelImages:      getInt("MAX_PARALLEL_IMAGES"),
		RetryAttempts:          getInt("RETRY_ATTEMPTS"),
		RetryDelay:             get("RETRY_DELAY"),
		Style:                  get("STYLE"),
		DatabaseURL:            get("DATABASE_URL"),
	}
	if cfg.GoogleAPIKey == "" {
		cfg.GoogleAPIKey = get("GEMINI_API_KEY")
	}
	if v := get("ENABLE_TEXT_OVERLAY_FALLBACK"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			errs = append(errs, fmt.Errorf("ENABLE_TEXT_OVERLAY_FALLBACK: %q is not a boolean", v))
		} else {
			cfg.OverlayFallback = &b
		}
	}
	return cfg, errors.Join(errs...)
}

// LoadConfig loads configuration from a JSON or YAML file, chosen by
// extension (.json, .yaml, .yml).
func LoadConfig(path string) (*Config, error) {
	if path == "" {
		return nil, fmt.Errorf("config path is empty")
	}

	// Resolve path relative to current directory if not absolute
	if !filepath.IsAbs(path) {
		cwd, err := os.Getwd()
		if err != nil {
			return nil, fmt.Errorf("failed to get current directory: %w", err)
		}
		path = filepath.Join(cwd, path)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	var cfg Config
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config YAML: %w", err)
		}
	case ".json":
		if err := json.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config JSON: %w", err)
		}
	default:
		return nil, fmt.Errorf("unsupported config file extension %q", filepath.Ext(path))
	}

	return &cfg, nil
}

// Load resolves the file (when path is set), environment and defaults into
// one configuration. Flags are applied by the caller afterwards.
func Load(path string) (Config, error) {
	env, err := FromEnv()
	if err != nil {
		return Config{}, fmt.Errorf("config error: %w", err)
	}
	merged := env
	if path != "" {
		file, err := LoadConfig(path)
		if err != nil {
			return Config{}, err
		}
		merged = file.MergeWithDefaults(env)
	}
	return merged.MergeWithDefaults(Defaults()), nil
}

// MergeWithDefaults returns a new Config with empty fields filled from
// defaults.
func (c *Config) MergeWithDefaults(defaults Config) Config {
	result := *c

	// String fields: use default if empty
	for _, f := range []struct {
		dst *string
		src string
	}{
		{&result.AppEnv, defaults.AppEnv},
		{&result.LogLevel, defaults.LogLevel},
		{&result.Provider, defaults.Provider},
		{&result.GoogleAPIKey, defaults.GoogleAPIKey},
		{&result.OpenAIAPIKey, defaults.OpenAIAPIKey},
		{&result.OpenAIBaseURL, defaults.OpenAIBaseURL},
		{&result.TextModel, defaults.TextModel},
		{&result.ImageModel, defaults.ImageModel},
		{&result.SpreadsheetID, defaults.SpreadsheetID},
		{&result.SheetsCredentialsFile, defaults.SheetsCredentialsFile},
		{&result.SheetFile, defaults.SheetFile},
		{&result.SourceSheetName, defaults.SourceSheetName},
		{&result.OutputSheetName, defaults.OutputSheetName},
		{&result.Bucket, defaults.Bucket},
		{&result.StorageBackend, defaults.StorageBackend},
		{&result.OutputDir, defaults.OutputDir},
		{&result.RetryDelay, defaults.RetryDelay},
		{&result.Style, defaults.Style},
		{&result.DatabaseURL, defaults.DatabaseURL},
	} {
		if *f.dst == "" {
			*f.dst = f.src
		}
	}

	// Int fields: use default if zero
	for _, f := range []struct {
		dst *int
		src int
	}{
		{&result.Port, defaults.Port},
		{&result.ModelRequestsPerMinute, defaults.ModelRequestsPerMinute},
		{&result.ImageCount, defaults.ImageCount},
		{&result.BatchSize, defaults.BatchSize},
		{&result.MaxParallelImages, defaults.MaxParallelImages},
		{&result.RetryAttempts, defaults.RetryAttempts},
	} {
		if *f.dst == 0 {
			*f.dst = f.src
		}
	}

	if len(result.AllowedVirality) == 0 {
		result.AllowedVirality = defaults.AllowedVirality
	}
	if len(result.AllowedEngagement) == 0 {
		result.AllowedEngagement = defaults.AllowedEngagement
	}
	if result.OverlayFallback == nil {
		result.OverlayFallback = defaults.OverlayFallback
	}

	return result
}

var validate = validator.New()

// Validate checks field ranges and that the selected provider has a key.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		var ve validator.ValidationErrors
		if errors.As(err, &ve) && len(ve) > 0 {
			return fmt.Errorf("config error: %s failed %q", ve[0].Field(), ve[0].Tag())
		}
		return fmt.Errorf("config error: %w", err)
	}
	if _, err := c.retryDelay(); err != nil {
		return err
	}
	if c.APIKey() == "" {
		switch llm.Provider(c.Provider) {
		case llm.ProviderOpenAI:
			return fmt.Errorf("config error: OPENAI_API_KEY is required for provider openai")
		default:
			return fmt.Errorf("config error: GOOGLE_API_KEY is required for provider gemini")
		}
	}
	return nil
}

// ValidateSheetSource checks that sheet mode has somewhere to read from.
func (c *Config) ValidateSheetSource() error {
	if c.SheetFile == "" && c.SpreadsheetID == "" {
		return fmt.Errorf("config error: SHEETS_SPREADSHEET_ID or SHEET_FILE is required to read posts")
	}
	return nil
}

// APIKey returns the key for the selected provider.
func (c *Config) APIKey() string {
	if llm.Provider(c.Provider) == llm.ProviderOpenAI {
		return c.OpenAIAPIKey
	}
	return c.GoogleAPIKey
}

// LLMConfig returns the model configuration for the selected provider.
func (c *Config) LLMConfig() *llm.Config {
	cfg := llm.ConfigFor(llm.Provider(c.Provider), c.TextModel, c.ImageModel)
	cfg.RequestsPerMinute = c.ModelRequestsPerMinute
	cfg.BaseURL = c.OpenAIBaseURL
	return cfg
}

// ToolRetry returns the backoff policy for sheet and storage calls.
func (c *Config) ToolRetry() pipeline.RetryPolicy {
	policy := pipeline.DefaultToolRetry()
	if c.RetryAttempts > 0 {
		policy.MaxAttempts = c.RetryAttempts
	}
	if d, err := c.retryDelay(); err == nil && d > 0 {
		policy.InitialWait = d
	}
	return policy
}

// Overlay reports whether failed slides fall back to a text overlay.
func (c *Config) Overlay() bool {
	return c.OverlayFallback == nil || *c.OverlayFallback
}

func (c *Config) retryDelay() (time.Duration, error) {
	if c.RetryDelay == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(c.RetryDelay)
	if err != nil {
		// Bare numbers are seconds.
		secs, ferr := strconv.ParseFloat(c.RetryDelay, 64)
		if ferr != nil || secs < 0 {
			return 0, fmt.Errorf("config error: 'retry_delay' %q is not a duration", c.RetryDelay)
		}
		return time.Duration(secs * float64(time.Second)), nil
	}
	if d < 0 {
		return 0, fmt.Errorf("config error: 'retry_delay' must be non-negative")
	}
	return d, nil
}

// SplitList parses a comma-separated list, trimming entries and dropping
// empty ones.
func SplitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
