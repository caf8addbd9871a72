package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config holds runtime configuration values for the API service.
type Config struct {
	AppName             string
	AppEnv              string
	AppPort             string
	DatabaseURL         string
	RedisURL            string
	FrontendURL         string
	UploadsDir          string
	MaxUploadMB         int
	SessionTTL          time.Duration
	OAuthConsumerKey    string
	OAuthConsumerSecret string
	GraderURL           string
	GraderBearerToken   string
	GraderTimeout       time.Duration
	EvaluationTimeout   time.Duration
	OutcomeTimeout      time.Duration
	HTTPSEnabled        bool
	Debug               bool
}

// HTTPAddress returns the address the HTTP server should listen on.
func (c Config) HTTPAddress() string {
	if strings.HasPrefix(c.AppPort, ":") {
		return c.AppPort
	}

	return fmt.Sprintf(":%s", c.AppPort)
}

// Load reads configuration values from environment variables and optional .env file.
func Load() (Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	v.SetEnvPrefix("LAMBA")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	v.SetDefault("app.name", "LAMBA API")
	v.SetDefault("app.env", "development")
	v.SetDefault("app.port", "8080")
	v.SetDefault("frontend.url", "/app")
	v.SetDefault("uploads.dir", "uploads")
	v.SetDefault("uploads.max_mb", 20)
	v.SetDefault("session.ttl", "1h")
	v.SetDefault("grader.url", "http://lamb.lamb-project.org:9099")
	v.SetDefault("grader.timeout", "30s")
	v.SetDefault("evaluation.timeout", "5m")
	v.SetDefault("outcome.timeout", "30s")

	sessionTTL, err := time.ParseDuration(v.GetString("session.ttl"))
	if err != nil {
		return Config{}, fmt.Errorf("invalid session ttl: %w", err)
	}

	graderTimeout, err := time.ParseDuration(v.GetString("grader.timeout"))
	if err != nil {
		return Config{}, fmt.Errorf("invalid grader timeout: %w", err)
	}

	evaluationTimeout, err := time.ParseDuration(v.GetString("evaluation.timeout"))
	if err != nil {
		return Config{}, fmt.Errorf("invalid evaluation timeout: %w", err)
	}

	outcomeTimeout, err := time.ParseDuration(v.GetString("outcome.timeout"))
	if err != nil {
		return Config{}, fmt.Errorf("invalid outcome timeout: %w", err)
	}

	cfg := Config{
		AppName:             v.GetString("app.name"),
		AppEnv:              v.GetString("app.env"),
		AppPort:             v.GetString("app.port"),
		DatabaseURL:         v.GetString("database.url"),
		RedisURL:            v.GetString("redis.url"),
		FrontendURL:         v.GetString("frontend.url"),
		UploadsDir:          v.GetString("uploads.dir"),
		MaxUploadMB:         v.GetInt("uploads.max_mb"),
		SessionTTL:          sessionTTL,
		OAuthConsumerKey:    v.GetString("oauth.consumer_key"),
		OAuthConsumerSecret: v.GetString("oauth.consumer_secret"),
		GraderURL:           v.GetString("grader.url"),
		GraderBearerToken:   v.GetString("grader.bearer_token"),
		GraderTimeout:       graderTimeout,
		EvaluationTimeout:   evaluationTimeout,
		OutcomeTimeout:      outcomeTimeout,
		HTTPSEnabled:        v.GetBool("https.enabled"),
		Debug:               v.GetBool("debug"),
	}

	if cfg.MaxUploadMB <= 0 {
		cfg.MaxUploadMB = 20
	}

	return cfg, nil
}
