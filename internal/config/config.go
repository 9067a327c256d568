package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/noah-isme/secretaria-go-api/internal/database"
)

// Config holds runtime configuration values for the API service.
type Config struct {
	AppName                string
	AppEnv                 string
	AppPort                string
	Timezone               string
	DatabaseURL            string
	DatabaseMaxOpenConns   int
	DatabaseMaxIdleConns   int
	DatabaseConnLifetime   time.Duration
	CORSAllowOrigins       string
	RedisURL               string
	NATSURL                string
	EventChannelBase       string
	JWTSecret              string
	CloudinaryCloudName    string
	CloudinaryAPIKey       string
	CloudinaryAPISecret    string
	CloudinaryUploadFolder string
	ReportCacheTTL         time.Duration
	FeeRefreshSchedule     string
	MatchSingleThreshold   float64
	MatchStrictThreshold   float64
	MatchGroupedThreshold  float64
	MatchTieMargin         float64
	StatementImportLimit   int
	OpenAIAPIKey           string
	OpenAIModel            string
	AssistantSessionTTL    time.Duration
}

// HTTPAddress returns the address the HTTP server should listen on.
func (c Config) HTTPAddress() string {
	if strings.HasPrefix(c.AppPort, ":") {
		return c.AppPort
	}

	return fmt.Sprintf(":%s", c.AppPort)
}

// PostgresOptions maps pool settings onto the database connector.
func (c Config) PostgresOptions() database.PostgresOptions {
	return database.PostgresOptions{
		MaxOpenConns:    c.DatabaseMaxOpenConns,
		MaxIdleConns:    c.DatabaseMaxIdleConns,
		ConnMaxLifetime: c.DatabaseConnLifetime,
		Debug:           c.AppEnv == "development",
	}
}

// Location resolves the configured school timezone used for "today".
func (c Config) Location() *time.Location {
	if c.Timezone == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// Load reads configuration values from environment variables and optional .env file.
func Load() (Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	v.SetEnvPrefix("SECRETARIA")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	v.SetDefault("app.name", "Secretaria API")
	v.SetDefault("app.env", "development")
	v.SetDefault("app.port", "8080")
	v.SetDefault("app.timezone", "America/Sao_Paulo")
	v.SetDefault("database.max_open_conns", 20)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.conn_max_lifetime", "30m")
	v.SetDefault("http.cors_origins", "*")
	v.SetDefault("events.channel", "secretaria:events")
	v.SetDefault("cloudinary.folder", "secretaria/reports")
	v.SetDefault("report.cache_ttl", "5m")
	v.SetDefault("fees.refresh_schedule", "0 5 * * *")
	v.SetDefault("matching.single_threshold", 0.90)
	v.SetDefault("matching.strict_threshold", 0.95)
	v.SetDefault("matching.grouped_threshold", 0.80)
	v.SetDefault("matching.tie_margin", 0.01)
	v.SetDefault("statement.import_limit", 2000)
	v.SetDefault("openai.model", "gpt-4o-mini")
	v.SetDefault("assistant.session_ttl", "2h")

	ttl, err := parseDuration(v.GetString("report.cache_ttl"), "5m")
	if err != nil {
		return Config{}, fmt.Errorf("invalid report cache ttl: %w", err)
	}

	sessionTTL, err := parseDuration(v.GetString("assistant.session_ttl"), "2h")
	if err != nil {
		return Config{}, fmt.Errorf("invalid assistant session ttl: %w", err)
	}

	connLifetime, err := parseDuration(v.GetString("database.conn_max_lifetime"), "30m")
	if err != nil {
		return Config{}, fmt.Errorf("invalid database connection lifetime: %w", err)
	}

	cfg := Config{
		AppName:                v.GetString("app.name"),
		AppEnv:                 v.GetString("app.env"),
		AppPort:                v.GetString("app.port"),
		Timezone:               v.GetString("app.timezone"),
		DatabaseURL:            v.GetString("database.url"),
		DatabaseMaxOpenConns:   v.GetInt("database.max_open_conns"),
		DatabaseMaxIdleConns:   v.GetInt("database.max_idle_conns"),
		DatabaseConnLifetime:   connLifetime,
		CORSAllowOrigins:       v.GetString("http.cors_origins"),
		RedisURL:               v.GetString("redis.url"),
		NATSURL:                v.GetString("nats.url"),
		EventChannelBase:       v.GetString("events.channel"),
		JWTSecret:              v.GetString("jwt.secret"),
		CloudinaryCloudName:    v.GetString("cloudinary.cloud_name"),
		CloudinaryAPIKey:       v.GetString("cloudinary.api_key"),
		CloudinaryAPISecret:    v.GetString("cloudinary.api_secret"),
		CloudinaryUploadFolder: v.GetString("cloudinary.folder"),
		ReportCacheTTL:         ttl,
		FeeRefreshSchedule:     v.GetString("fees.refresh_schedule"),
		MatchSingleThreshold:   v.GetFloat64("matching.single_threshold"),
		MatchStrictThreshold:   v.GetFloat64("matching.strict_threshold"),
		MatchGroupedThreshold:  v.GetFloat64("matching.grouped_threshold"),
		MatchTieMargin:         v.GetFloat64("matching.tie_margin"),
		StatementImportLimit:   v.GetInt("statement.import_limit"),
		OpenAIAPIKey:           v.GetString("openai_api_key"),
		OpenAIModel:            v.GetString("openai.model"),
		AssistantSessionTTL:    sessionTTL,
	}

	if cfg.JWTSecret == "" {
		return Config{}, fmt.Errorf("jwt secret must be provided")
	}

	if err := cfg.validateThresholds(); err != nil {
		return Config{}, err
	}

	if cfg.StatementImportLimit <= 0 {
		cfg.StatementImportLimit = 2000
	}

	return cfg, nil
}

func (c Config) validateThresholds() error {
	for name, value := range map[string]float64{
		"single":  c.MatchSingleThreshold,
		"strict":  c.MatchStrictThreshold,
		"grouped": c.MatchGroupedThreshold,
	} {
		if value <= 0 || value > 1 {
			return fmt.Errorf("matching %s threshold must be within (0, 1]", name)
		}
	}
	if c.MatchStrictThreshold < c.MatchSingleThreshold {
		return fmt.Errorf("matching strict threshold must not be below the single threshold")
	}
	if c.MatchTieMargin < 0 || c.MatchTieMargin >= 1 {
		return fmt.Errorf("matching tie margin must be within [0, 1)")
	}
	return nil
}

func parseDuration(value, fallback string) (time.Duration, error) {
	if strings.TrimSpace(value) == "" {
		value = fallback
	}
	return time.ParseDuration(value)
}
