// Package config loads apgen settings from an optional YAML file, APGEN_*
// environment variables and built-in defaults, in that order of precedence
// (environment wins over the file).
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/abhisek/apgen/internal/imagegen"
)

// Config is the full runtime configuration.
type Config struct {
	ContentDir  string   `mapstructure:"content_dir"`
	OutputDir   string   `mapstructure:"output_dir"`
	BatchDir    string   `mapstructure:"batch_dir"`
	PromptDir   string   `mapstructure:"prompt_dir"`
	TemplateDir string   `mapstructure:"template_dir"`
	Courses     []string `mapstructure:"courses"`

	// Units restricts generation to these 1-based unit numbers.
	// Empty means every unit.
	Units []int `mapstructure:"units"`

	// DBPath enables the LLM usage ledger when set.
	DBPath string `mapstructure:"db_path"`

	LLM        LLMConfig        `mapstructure:"llm"`
	Generation GenerationConfig `mapstructure:"generation"`
	Images     ImageConfig      `mapstructure:"images"`
	Log        LogConfig        `mapstructure:"log"`
	Metrics    MetricsConfig    `mapstructure:"metrics"`
	Publish    PublishConfig    `mapstructure:"publish"`
}

// LLMConfig selects the text model. API keys only come from the
// environment.
type LLMConfig struct {
	// Provider is empty to use the first provider with a key set.
	Provider    string        `mapstructure:"provider"`
	Model       string        `mapstructure:"model"`
	Timeout     time.Duration `mapstructure:"timeout"`
	MaxAttempts int           `mapstructure:"max_attempts"`
	MaxTokens   int           `mapstructure:"max_tokens"`
	Temperature float64       `mapstructure:"temperature"`
}

type GenerationConfig struct {
	SetsPerUnit     int `mapstructure:"sets_per_unit"`
	MCQPerSet       int `mapstructure:"mcq_per_set"`
	FRQPerSet       int `mapstructure:"frq_per_set"`
	MaxRepairRounds int `mapstructure:"max_repair_rounds"`
	PriorityLOs     int `mapstructure:"priority_los"`
	TextConcurrency int `mapstructure:"text_concurrency"`
}

type ImageConfig struct {
	Model        string        `mapstructure:"model"`
	BatchModel   string        `mapstructure:"batch_model"`
	Concurrency  int           `mapstructure:"concurrency"`
	Spacing      time.Duration `mapstructure:"spacing"`
	PollInterval time.Duration `mapstructure:"poll_interval"`
	Mode         string        `mapstructure:"mode"`
	AspectRatio  string        `mapstructure:"aspect_ratio"`
}

type LogConfig struct {
	Level string `mapstructure:"level"`
	File  string `mapstructure:"file"`
}

type MetricsConfig struct {
	Textfile  string `mapstructure:"textfile"`
	Workbooks bool   `mapstructure:"workbooks"`
}

type PublishConfig struct {
	Endpoint  string `mapstructure:"endpoint"`
	AccessKey string `mapstructure:"access_key"`
	SecretKey string `mapstructure:"secret_key"`
	Bucket    string `mapstructure:"bucket"`
	Prefix    string `mapstructure:"prefix"`
	UseSSL    bool   `mapstructure:"use_ssl"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("content_dir", "content")
	v.SetDefault("output_dir", "output")
	v.SetDefault("batch_dir", "batch_jobs")
	v.SetDefault("prompt_dir", "")
	v.SetDefault("template_dir", "")
	v.SetDefault("courses", []string{"ap_statistics"})
	v.SetDefault("units", []int{})
	v.SetDefault("db_path", "")

	v.SetDefault("llm.provider", "")
	v.SetDefault("llm.model", "")
	v.SetDefault("llm.timeout", 5*time.Minute)
	v.SetDefault("llm.max_attempts", 3)
	v.SetDefault("llm.max_tokens", 16384)
	v.SetDefault("llm.temperature", 0.7)

	v.SetDefault("generation.sets_per_unit", 20)
	v.SetDefault("generation.mcq_per_set", 25)
	v.SetDefault("generation.frq_per_set", 5)
	v.SetDefault("generation.max_repair_rounds", 4)
	v.SetDefault("generation.priority_los", 10)
	v.SetDefault("generation.text_concurrency", 60)

	v.SetDefault("images.model", imagegen.DefaultModel)
	v.SetDefault("images.batch_model", imagegen.DefaultBatchModel)
	v.SetDefault("images.concurrency", 5)
	v.SetDefault("images.spacing", time.Second)
	v.SetDefault("images.poll_interval", imagegen.DefaultPollInterval)
	v.SetDefault("images.mode", string(imagegen.ModeDegrade))
	v.SetDefault("images.aspect_ratio", imagegen.DefaultAspectRatio)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.file", "")

	v.SetDefault("metrics.textfile", "")
	v.SetDefault("metrics.workbooks", false)

	v.SetDefault("publish.endpoint", "")
	v.SetDefault("publish.access_key", "")
	v.SetDefault("publish.secret_key", "")
	v.SetDefault("publish.bucket", "")
	v.SetDefault("publish.prefix", "")
	v.SetDefault("publish.use_ssl", true)
}

// Load reads configuration. A non-empty path must exist; otherwise an
// apgen.yaml in the working directory is used when present.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("APGEN")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Object storage credentials also come from the usual MinIO variables.
	_ = v.BindEnv("publish.access_key", "APGEN_PUBLISH_ACCESS_KEY", "MINIO_ACCESS_KEY")
	_ = v.BindEnv("publish.secret_key", "APGEN_PUBLISH_SECRET_KEY", "MINIO_SECRET_KEY")

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	} else {
		v.SetConfigName("apgen")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, fmt.Errorf("read config: %w", err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks that numeric knobs are in range.
func (c *Config) Validate() error {
	g := c.Generation
	switch {
	case g.SetsPerUnit < 1:
		return fmt.Errorf("generation.sets_per_unit must be at least 1, got %d", g.SetsPerUnit)
	case g.MCQPerSet < 1 || g.FRQPerSet < 1:
		return fmt.Errorf("items per set must be at least 1")
	case g.MaxRepairRounds < 0:
		return fmt.Errorf("generation.max_repair_rounds must not be negative")
	case c.LLM.MaxAttempts < 1:
		return fmt.Errorf("llm.max_attempts must be at least 1, got %d", c.LLM.MaxAttempts)
	case c.LLM.Temperature < 0 || c.LLM.Temperature > 2:
		return fmt.Errorf("llm.temperature must be within [0, 2], got %g", c.LLM.Temperature)
	case c.Images.Concurrency < 1:
		return fmt.Errorf("images.concurrency must be at least 1, got %d", c.Images.Concurrency)
	}
	for _, u := range c.Units {
		if u < 1 {
			return fmt.Errorf("units are 1-based, got %d", u)
		}
	}
	if _, err := imagegen.ParseMode(c.Images.Mode); err != nil {
		return err
	}
	return nil
}

// WantsUnit reports whether the 0-based unit index passes the unit filter.
func (c *Config) WantsUnit(index int) bool {
	if len(c.Units) == 0 {
		return true
	}
	for _, u := range c.Units {
		if u == index+1 {
			return true
		}
	}
	return false
}

// PublishEnabled reports whether object storage publishing is configured.
func (c *Config) PublishEnabled() bool {
	return c.Publish.Endpoint != "" && c.Publish.Bucket != ""
}
