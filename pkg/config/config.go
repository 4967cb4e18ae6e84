// Package config loads the server configuration from the environment,
// optionally seeded from a .env file.
package config

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"

	"audiomon-server/pkg/errors"
)

// Config represents the complete application configuration
type Config struct {
	Audio        AudioConfig        `json:"audio"`
	Knobs        KnobsConfig        `json:"knobs"`
	Capture      CaptureConfig      `json:"capture"`
	Aggregation  AggregationConfig  `json:"aggregation"`
	Emit         EmitConfig         `json:"emit"`
	Backpressure BackpressureConfig `json:"backpressure"`
	Database     DatabaseConfig     `json:"database"`
	AMQP         AMQPConfig         `json:"amqp"`
	HTTP         HTTPConfig         `json:"http"`
	Logging      LoggingConfig      `json:"logging"`
}

// AudioConfig describes the PCM format delivered by the ingest layer.
type AudioConfig struct {
	SampleRate int `json:"sample_rate"`
	Channels   int `json:"channels"`
}

// KnobsConfig seeds the resolver baseline.
type KnobsConfig struct {
	// BaselineFile points at an optional JSON file of key/value overrides
	// applied on top of catalog defaults at startup.
	BaselineFile string `json:"baseline_file"`
}

// CaptureConfig controls segment recording and the disk writer.
type CaptureConfig struct {
	Enabled       bool   `json:"enabled"`
	BaseDir       string `json:"base_dir"`
	QueueCapacity int    `json:"queue_capacity"`
	GuardMultiple int    `json:"guard_multiple"`
}

// AggregationConfig controls the in-memory bucket aggregator.
type AggregationConfig struct {
	BucketCeiling int `json:"bucket_ceiling"`
}

// EmitConfig controls the metric row emitter.
type EmitConfig struct {
	QueueCapacity int `json:"queue_capacity"`
}

// BackpressureConfig selects the overflow strategy for the async queues.
type BackpressureConfig struct {
	Strategy  string  `json:"strategy"`
	HighWater float64 `json:"high_water"`
	LowWater  float64 `json:"low_water"`
}

// DatabaseConfig controls MySQL persistence.
type DatabaseConfig struct {
	Enabled         bool          `json:"enabled"`
	Host            string        `json:"host"`
	Port            int           `json:"port"`
	Database        string        `json:"database"`
	Username        string        `json:"username"`
	Password        string        `json:"-"`
	MaxOpenConns    int           `json:"max_open_conns"`
	MaxIdleConns    int           `json:"max_idle_conns"`
	ConnMaxLifetime time.Duration `json:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `json:"conn_max_idle_time"`
	RetentionDays   int           `json:"retention_days"`
}

// AMQPConfig controls the broker relay.
type AMQPConfig struct {
	Enabled      bool   `json:"enabled"`
	URL          string `json:"-"`
	QueueName    string `json:"queue_name"`
	ExchangeName string `json:"exchange_name"`
	RoutingKey   string `json:"routing_key"`
}

// HTTPConfig holds HTTP server configuration.
type HTTPConfig struct {
	Port           int           `json:"port"`
	MetricsEnabled bool          `json:"metrics_enabled"`
	ReadTimeout    time.Duration `json:"read_timeout"`
	WriteTimeout   time.Duration `json:"write_timeout"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level  string `json:"level"`
	Format string `json:"format"`
}

// Load reads configuration from the environment, seeded from a .env file
// when one is present.
func Load(logger *logrus.Logger) (*Config, error) {
	loadDotEnv(logger)

	config := &Config{
		Audio: AudioConfig{
			SampleRate: getEnvInt("AUDIO_SAMPLE_RATE", 16000),
			Channels:   getEnvInt("AUDIO_CHANNELS", 1),
		},
		Knobs: KnobsConfig{
			BaselineFile: getEnv("KNOBS_BASELINE_FILE", ""),
		},
		Capture: CaptureConfig{
			Enabled:       getEnvBool("CAPTURE_ENABLED", true),
			BaseDir:       getEnv("CAPTURE_BASE_DIR", "./captures"),
			QueueCapacity: getEnvInt("CAPTURE_QUEUE_CAPACITY", 256),
			GuardMultiple: getEnvInt("CAPTURE_GUARD_MULTIPLE", 2),
		},
		Aggregation: AggregationConfig{
			BucketCeiling: getEnvInt("AGGREGATION_BUCKET_CEILING", 2000),
		},
		Emit: EmitConfig{
			QueueCapacity: getEnvInt("EMIT_QUEUE_CAPACITY", 10000),
		},
		Backpressure: BackpressureConfig{
			Strategy:  getEnv("BACKPRESSURE_STRATEGY", "drop_oldest"),
			HighWater: getEnvFloat("BACKPRESSURE_HIGH_WATER", 0.8),
			LowWater:  getEnvFloat("BACKPRESSURE_LOW_WATER", 0.5),
		},
		Database: DatabaseConfig{
			Enabled:         getEnvBool("DB_ENABLED", false),
			Host:            getEnv("DB_HOST", "localhost"),
			Port:            getEnvInt("DB_PORT", 3306),
			Database:        getEnv("DB_NAME", "audiomon"),
			Username:        getEnv("DB_USER", "audiomon"),
			Password:        getEnv("DB_PASSWORD", ""),
			MaxOpenConns:    getEnvInt("DB_MAX_OPEN_CONNS", 10),
			MaxIdleConns:    getEnvInt("DB_MAX_IDLE_CONNS", 5),
			ConnMaxLifetime: getEnvDuration("DB_CONN_MAX_LIFETIME", time.Hour),
			ConnMaxIdleTime: getEnvDuration("DB_CONN_MAX_IDLE_TIME", 10*time.Minute),
			RetentionDays:   getEnvInt("DB_RETENTION_DAYS", 30),
		},
		AMQP: AMQPConfig{
			Enabled:      getEnvBool("AMQP_ENABLED", false),
			URL:          getEnv("AMQP_URL", ""),
			QueueName:    getEnv("AMQP_QUEUE_NAME", "audiomon.events"),
			ExchangeName: getEnv("AMQP_EXCHANGE_NAME", ""),
			RoutingKey:   getEnv("AMQP_ROUTING_KEY", ""),
		},
		HTTP: HTTPConfig{
			Port:           getEnvInt("HTTP_PORT", 8080),
			MetricsEnabled: getEnvBool("METRICS_ENABLED", true),
			ReadTimeout:    getEnvDuration("HTTP_READ_TIMEOUT", 10*time.Second),
			WriteTimeout:   getEnvDuration("HTTP_WRITE_TIMEOUT", 30*time.Second),
		},
		Logging: LoggingConfig{
			Level:  getEnv("LOG_LEVEL", "info"),
			Format: getEnv("LOG_FORMAT", "json"),
		},
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}
	return config, nil
}

// Validate rejects configurations the server cannot run with.
func (c *Config) Validate() error {
	if c.Audio.SampleRate <= 0 {
		return errors.NewConfiguration("AUDIO_SAMPLE_RATE must be positive", map[string]interface{}{
			"sample_rate": c.Audio.SampleRate,
		})
	}
	if c.Audio.Channels <= 0 {
		return errors.NewConfiguration("AUDIO_CHANNELS must be positive", map[string]interface{}{
			"channels": c.Audio.Channels,
		})
	}
	if c.Capture.GuardMultiple < 1 {
		return errors.NewConfiguration("CAPTURE_GUARD_MULTIPLE must be at least 1", map[string]interface{}{
			"guard_multiple": c.Capture.GuardMultiple,
		})
	}
	if c.Backpressure.HighWater <= c.Backpressure.LowWater {
		return errors.NewConfiguration("BACKPRESSURE_HIGH_WATER must exceed BACKPRESSURE_LOW_WATER", map[string]interface{}{
			"high_water": c.Backpressure.HighWater,
			"low_water":  c.Backpressure.LowWater,
		})
	}
	switch c.Backpressure.Strategy {
	case "drop_oldest", "drop_newest", "drop_random", "throttle":
	default:
		return errors.NewConfiguration("unknown BACKPRESSURE_STRATEGY", map[string]interface{}{
			"strategy": c.Backpressure.Strategy,
		})
	}
	if c.HTTP.Port <= 0 || c.HTTP.Port > 65535 {
		return errors.NewConfiguration("HTTP_PORT out of range", map[string]interface{}{
			"port": c.HTTP.Port,
		})
	}
	if c.Database.Enabled && c.Database.Password == "" {
		return errors.NewConfiguration("DB_PASSWORD is required when DB_ENABLED is set", nil)
	}
	if c.AMQP.Enabled && c.AMQP.URL == "" {
		return errors.NewConfiguration("AMQP_URL is required when AMQP_ENABLED is set", nil)
	}
	return nil
}

// ConfigureLogger applies the logging section to a logrus logger.
func (c *Config) ConfigureLogger(logger *logrus.Logger) {
	level, err := logrus.ParseLevel(c.Logging.Level)
	if err != nil {
		level = logrus.InfoLevel
		logger.WithField("level", c.Logging.Level).Warn("Unknown log level, falling back to info")
	}
	logger.SetLevel(level)

	if strings.EqualFold(c.Logging.Format, "json") {
		logger.SetFormatter(&logrus.JSONFormatter{})
	} else {
		logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}
}

func loadDotEnv(logger *logrus.Logger) {
	wd, err := os.Getwd()
	if err != nil {
		logger.WithError(err).Warn("Failed to get current working directory")
		wd = "unknown"
	}

	possibleEnvFiles := []string{
		".env",
		"../.env",
		filepath.Join(wd, ".env"),
	}

	for _, envFile := range possibleEnvFiles {
		if _, statErr := os.Stat(envFile); statErr == nil {
			if loadErr := godotenv.Load(envFile); loadErr == nil {
				absPath, _ := filepath.Abs(envFile)
				logger.WithFields(logrus.Fields{
					"working_dir": wd,
					"path":        absPath,
				}).Info("Successfully loaded .env file")
				return
			}
		}
	}

	logger.WithField("working_dir", wd).Warn("No .env file found, using environment variables only")
}

// Helper function to get a string environment variable with a default value
func getEnv(key, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}

// Helper function to get a boolean environment variable with a default value
func getEnvBool(key string, defaultValue bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}

	switch strings.ToLower(value) {
	case "true", "yes", "1", "on":
		return true
	case "false", "no", "0", "off":
		return false
	default:
		return defaultValue
	}
}

// Helper function to get an integer environment variable with a default value
func getEnvInt(key string, defaultValue int) int {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}

	intValue, err := strconv.Atoi(value)
	if err != nil {
		return defaultValue
	}
	return intValue
}

// Helper function to get a duration environment variable with a default value
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}

	duration, err := time.ParseDuration(value)
	if err != nil {
		return defaultValue
	}
	return duration
}

// getEnvFloat retrieves an environment variable and converts it to float64
func getEnvFloat(key string, defaultValue float64) float64 {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}

	floatValue, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return defaultValue
	}
	return floatValue
}
