package config

import (
	"fmt"
	"strings"
	"time"
	_ "time/tzdata"

	"github.com/spf13/viper"
)

type Config struct {
	Env             string        `mapstructure:"ENV"`
	Port            string        `mapstructure:"PORT"`
	DatabaseURL     string        `mapstructure:"DATABASE_URL"`
	AdminKey        string        `mapstructure:"ADMIN_KEY"`
	CORSAllowed     string        `mapstructure:"CORS_ALLOWED_ORIGINS"`
	RequestTimeout  time.Duration `mapstructure:"REQUEST_TIMEOUT"`
	LogLevel        string        `mapstructure:"LOG_LEVEL"`
	MaxUploadSizeMB int64         `mapstructure:"MAX_UPLOAD_MB"`

	Timezone          string `mapstructure:"TIMEZONE"`
	StrictWorkingDays bool   `mapstructure:"STRICT_WORKING_DAYS"`
	ShiftScopeLOB     bool   `mapstructure:"SHIFT_SCOPE_LOB"`
	ProfileFormula    string `mapstructure:"PROFILE_FORMULA"`
	ScoringWorkers    int    `mapstructure:"SCORING_WORKERS"`
	MatchStrategy     string `mapstructure:"MATCH_STRATEGY"`

	LLMProvider    string        `mapstructure:"LLM_PROVIDER"`
	LLMBaseURL     string        `mapstructure:"LLM_BASE_URL"`
	LLMAPIKey      string        `mapstructure:"LLM_API_KEY"`
	LLMModel       string        `mapstructure:"LLM_MODEL"`
	LLMAPIVersion  string        `mapstructure:"LLM_API_VERSION"`
	LLMTimeout     time.Duration `mapstructure:"LLM_TIMEOUT"`
	LLMRatePerSec  float64       `mapstructure:"LLM_RATE_PER_SEC"`
	LLMBurst       int           `mapstructure:"LLM_BURST"`
	LLMTemperature float32       `mapstructure:"LLM_TEMPERATURE"`
	LLMEnrich      bool          `mapstructure:"LLM_ENRICH"`

	KafkaBrokers string `mapstructure:"KAFKA_BROKERS"`
	KafkaTopic   string `mapstructure:"KAFKA_TOPIC"`
}

func Load() (Config, error) {
	v := viper.New()
	v.SetConfigFile(".env")
	v.SetConfigType("env")
	v.AutomaticEnv()
	_ = v.ReadInConfig()

	setDefaults(v)
	for _, key := range []string{"DATABASE_URL", "ADMIN_KEY", "LLM_BASE_URL", "LLM_API_KEY", "LLM_MODEL", "KAFKA_BROKERS"} {
		_ = v.BindEnv(key)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, err
	}
	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("ENV", "dev")
	v.SetDefault("PORT", "8080")
	v.SetDefault("REQUEST_TIMEOUT", "30s")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("CORS_ALLOWED_ORIGINS", "*")
	v.SetDefault("MAX_UPLOAD_MB", 20)

	v.SetDefault("TIMEZONE", "UTC")
	v.SetDefault("STRICT_WORKING_DAYS", true)
	v.SetDefault("SHIFT_SCOPE_LOB", false)
	v.SetDefault("PROFILE_FORMULA", "extended")
	v.SetDefault("SCORING_WORKERS", 4)
	v.SetDefault("MATCH_STRATEGY", "score")

	v.SetDefault("LLM_PROVIDER", "none")
	v.SetDefault("LLM_TIMEOUT", "20s")
	v.SetDefault("LLM_RATE_PER_SEC", 2.0)
	v.SetDefault("LLM_BURST", 1)
	v.SetDefault("LLM_API_VERSION", "2024-02-01")
	v.SetDefault("LLM_TEMPERATURE", 0.7)
	v.SetDefault("LLM_ENRICH", false)

	v.SetDefault("KAFKA_TOPIC", "ticket-assignments")
}

func (c Config) validate() error {
	switch strings.ToLower(c.MatchStrategy) {
	case "score", "llm":
	default:
		return fmt.Errorf("MATCH_STRATEGY must be score or llm, got %q", c.MatchStrategy)
	}
	switch strings.ToLower(c.LLMProvider) {
	case "", "none", "mock", "http", "openai", "azure":
	default:
		return fmt.Errorf("unknown LLM_PROVIDER %q", c.LLMProvider)
	}
	if c.LLMTemperature < 0 || c.LLMTemperature > 2 {
		return fmt.Errorf("LLM_TEMPERATURE must be within [0,2], got %v", c.LLMTemperature)
	}
	if c.LLMEnrich && (c.LLMProvider == "" || strings.EqualFold(c.LLMProvider, "none")) {
		return fmt.Errorf("LLM_ENRICH needs LLM_PROVIDER")
	}
	if _, err := time.LoadLocation(c.Timezone); err != nil {
		return fmt.Errorf("TIMEZONE: %w", err)
	}
	return nil
}

// Location is the zone shift windows are written in.
func (c Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

func (c Config) Brokers() []string {
	var out []string
	for _, b := range strings.Split(c.KafkaBrokers, ",") {
		if b = strings.TrimSpace(b); b != "" {
			out = append(out, b)
		}
	}
	return out
}
