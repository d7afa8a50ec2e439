package config

import (
	"errors"
	"net/url"
	"os"
	"runtime"
	"strconv"
	"time"

	sharedcfg "github.com/couchcryptid/storm-data-shared/config"
)

// Config holds all service settings, populated from environment variables.
type Config struct {
	KafkaBrokers     []string
	KafkaSourceTopic string
	KafkaSinkTopic   string
	KafkaGroupID     string
	HTTPAddr         string
	LogLevel         string
	LogFormat        string
	ShutdownTimeout  time.Duration

	BatchSize          int
	BatchFlushInterval time.Duration

	// Grid server configuration.
	GridServerURL     string
	GridServerTimeout time.Duration
	GridCacheSize     int

	// Engine configuration.
	WorkerCount      int
	EngineParamsFile string
	RunTimeout       time.Duration
}

// Load reads configuration from environment variables, applying defaults where unset.
func Load() (*Config, error) {
	shutdownTimeout, err := sharedcfg.ParseShutdownTimeout()
	if err != nil {
		return nil, err
	}

	batchSize, err := sharedcfg.ParseBatchSize()
	if err != nil {
		return nil, err
	}

	flushInterval, err := sharedcfg.ParseBatchFlushInterval()
	if err != nil {
		return nil, err
	}

	gridTimeout, err := parsePositiveDuration("GRID_SERVER_TIMEOUT", "10s")
	if err != nil {
		return nil, err
	}

	runTimeout, err := parsePositiveDuration("RUN_TIMEOUT", "2m")
	if err != nil {
		return nil, err
	}

	workers, err := parsePositiveInt("WORKER_COUNT", runtime.GOMAXPROCS(0))
	if err != nil {
		return nil, err
	}

	cacheSize, err := parsePositiveInt("GRID_CACHE_SIZE", 256)
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		KafkaBrokers:       sharedcfg.ParseBrokers(sharedcfg.EnvOrDefault("KAFKA_BROKERS", "localhost:9092")),
		KafkaSourceTopic:   sharedcfg.EnvOrDefault("KAFKA_SOURCE_TOPIC", "phase-correct-requests"),
		KafkaSinkTopic:     sharedcfg.EnvOrDefault("KAFKA_SINK_TOPIC", "phase-correct-results"),
		KafkaGroupID:       sharedcfg.EnvOrDefault("KAFKA_GROUP_ID", "storm-phase-correct"),
		HTTPAddr:           sharedcfg.EnvOrDefault("HTTP_ADDR", ":8080"),
		LogLevel:           sharedcfg.EnvOrDefault("LOG_LEVEL", "info"),
		LogFormat:          sharedcfg.EnvOrDefault("LOG_FORMAT", "json"),
		ShutdownTimeout:    shutdownTimeout,
		BatchSize:          batchSize,
		BatchFlushInterval: flushInterval,

		GridServerURL:     sharedcfg.EnvOrDefault("GRID_SERVER_URL", "http://localhost:8081"),
		GridServerTimeout: gridTimeout,
		GridCacheSize:     cacheSize,

		WorkerCount:      workers,
		EngineParamsFile: os.Getenv("ENGINE_PARAMS_FILE"),
		RunTimeout:       runTimeout,
	}

	if len(cfg.KafkaBrokers) == 0 {
		return nil, errors.New("KAFKA_BROKERS is required")
	}
	if cfg.KafkaSourceTopic == "" {
		return nil, errors.New("KAFKA_SOURCE_TOPIC is required")
	}
	if cfg.KafkaSinkTopic == "" {
		return nil, errors.New("KAFKA_SINK_TOPIC is required")
	}
	if u, err := url.Parse(cfg.GridServerURL); err != nil || u.Scheme == "" || u.Host == "" {
		return nil, errors.New("invalid GRID_SERVER_URL")
	}

	return cfg, nil
}

func parsePositiveDuration(name, def string) (time.Duration, error) {
	d, err := time.ParseDuration(sharedcfg.EnvOrDefault(name, def))
	if err != nil || d <= 0 {
		return 0, errors.New("invalid " + name)
	}
	return d, nil
}

func parsePositiveInt(name string, def int) (int, error) {
	s := os.Getenv(name)
	if s == "" {
		return def, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil || n <= 0 {
		return 0, errors.New("invalid " + name)
	}
	return n, nil
}
