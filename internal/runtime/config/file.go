package config

import (
	"fmt"
	"time"

	"github.com/BurntSushi/toml"
)

// fileConfig mirrors Config in TOML. Durations are strings such as "8s".
type fileConfig struct {
	Queue struct {
		Name                string `toml:"name"`
		Workers             int    `toml:"workers"`
		Concurrency         int    `toml:"concurrency"`
		BatchSize           int    `toml:"batch_size"`
		WaitTime            string `toml:"wait_time"`
		HealthCheckTimeout  string `toml:"health_check_timeout"`
		CommandPollInterval string `toml:"command_poll_interval"`
		FailureBackoff      string `toml:"failure_backoff"`
		DebugMode           bool   `toml:"debug_mode"`
	} `toml:"queue"`

	Stream struct {
		Transport        string   `toml:"transport"`
		Topic            string   `toml:"topic"`
		Source           string   `toml:"source"`
		KafkaBrokers     []string `toml:"kafka_brokers"`
		RabbitMQURL      string   `toml:"rabbitmq_url"`
		NATSURL          string   `toml:"nats_url"`
		HTTPPublisherURL string   `toml:"http_publisher_url"`
		IOFile           string   `toml:"io_file"`
	} `toml:"stream"`

	AWS struct {
		Region          string `toml:"region"`
		AccountID       string `toml:"account_id"`
		AccessKeyID     string `toml:"access_key_id"`
		SecretAccessKey string `toml:"secret_access_key"`
		Endpoint        string `toml:"endpoint"`
	} `toml:"aws"`

	Log struct {
		Level  string `toml:"level"`
		Format string `toml:"format"`
	} `toml:"log"`

	Status struct {
		Port               int      `toml:"port"`
		MetricsEnabled     bool     `toml:"metrics_enabled"`
		CORSAllowedOrigins []string `toml:"cors_allowed_origins"`
	} `toml:"status"`
}

// LoadFile decodes a TOML file and overlays every value it sets on base.
func LoadFile(path string, base Config) (Config, error) {
	var fc fileConfig
	meta, err := toml.DecodeFile(path, &fc)
	if err != nil {
		return base, fmt.Errorf("config: decode %s: %w", path, err)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		return base, fmt.Errorf("config: unknown keys in %s: %v", path, undecoded)
	}
	return fc.apply(base)
}

// Decode parses TOML from a string; it behaves like LoadFile.
func Decode(data string, base Config) (Config, error) {
	var fc fileConfig
	meta, err := toml.Decode(data, &fc)
	if err != nil {
		return base, fmt.Errorf("config: decode: %w", err)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		return base, fmt.Errorf("config: unknown keys: %v", undecoded)
	}
	return fc.apply(base)
}

func (fc fileConfig) apply(cfg Config) (Config, error) {
	setString(&cfg.QueueName, fc.Queue.Name)
	setInt(&cfg.Workers, fc.Queue.Workers)
	setInt(&cfg.Concurrency, fc.Queue.Concurrency)
	setInt(&cfg.BatchSize, fc.Queue.BatchSize)
	cfg.DebugMode = cfg.DebugMode || fc.Queue.DebugMode

	durations := []struct {
		key   string
		raw   string
		field *time.Duration
	}{
		{"queue.wait_time", fc.Queue.WaitTime, &cfg.WaitTime},
		{"queue.health_check_timeout", fc.Queue.HealthCheckTimeout, &cfg.HealthCheckTimeout},
		{"queue.command_poll_interval", fc.Queue.CommandPollInterval, &cfg.CommandPollInterval},
		{"queue.failure_backoff", fc.Queue.FailureBackoff, &cfg.FailureBackoff},
	}
	for _, d := range durations {
		if d.raw == "" {
			continue
		}
		parsed, err := time.ParseDuration(d.raw)
		if err != nil {
			return cfg, fmt.Errorf("config: %s: %w", d.key, err)
		}
		*d.field = parsed
	}

	setString(&cfg.StreamTransport, fc.Stream.Transport)
	setString(&cfg.StreamTopic, fc.Stream.Topic)
	setString(&cfg.EventSource, fc.Stream.Source)
	if len(fc.Stream.KafkaBrokers) > 0 {
		cfg.KafkaBrokers = fc.Stream.KafkaBrokers
	}
	setString(&cfg.RabbitMQURL, fc.Stream.RabbitMQURL)
	setString(&cfg.NATSURL, fc.Stream.NATSURL)
	setString(&cfg.HTTPPublisherURL, fc.Stream.HTTPPublisherURL)
	setString(&cfg.IOFile, fc.Stream.IOFile)

	setString(&cfg.AWSRegion, fc.AWS.Region)
	setString(&cfg.AWSAccountID, fc.AWS.AccountID)
	setString(&cfg.AWSAccessKeyID, fc.AWS.AccessKeyID)
	setString(&cfg.AWSSecretAccessKey, fc.AWS.SecretAccessKey)
	setString(&cfg.AWSEndpoint, fc.AWS.Endpoint)

	setString(&cfg.LogLevel, fc.Log.Level)
	setString(&cfg.LogFormat, fc.Log.Format)

	setInt(&cfg.StatusPort, fc.Status.Port)
	cfg.MetricsEnabled = cfg.MetricsEnabled || fc.Status.MetricsEnabled
	if len(fc.Status.CORSAllowedOrigins) > 0 {
		cfg.StatusCORSAllowedOrigins = fc.Status.CORSAllowedOrigins
	}
	return cfg, nil
}

func setString(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

func setInt(dst *int, v int) {
	if v != 0 {
		*dst = v
	}
}
