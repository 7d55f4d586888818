package main

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/LeonardoBeccarini/soil_processor/internal/services/processor"
	"github.com/LeonardoBeccarini/soil_processor/pkg/rabbitmq"
)

type MQTTConfig struct {
	Host           string        `mapstructure:"host"`
	Port           int           `mapstructure:"port"`
	User           string        `mapstructure:"user"`
	Password       string        `mapstructure:"password"`
	ClientID       string        `mapstructure:"client_id"` // empty: generated
	KeepAlive      time.Duration `mapstructure:"keep_alive"`
	ConnectRetries int           `mapstructure:"connect_retries"`
	ConnectMaxWait time.Duration `mapstructure:"connect_max_wait"`

	PublishTimeout  time.Duration `mapstructure:"publish_timeout"`
	BreakerFailures int           `mapstructure:"breaker_failures"`
	BreakerOpenFor  time.Duration `mapstructure:"breaker_open_for"`
}

type LogConfig struct {
	Level string `mapstructure:"level"`
}

type Config struct {
	MQTT     MQTTConfig               `mapstructure:"mqtt"`
	Topics   processor.TopicsConfig   `mapstructure:"topics"`
	Pipeline processor.PipelineConfig `mapstructure:"pipeline"`
	Watchdog processor.WatchdogConfig `mapstructure:"watchdog"`
	Influx   processor.InfluxConfig   `mapstructure:"influx"`
	HTTP     processor.HTTPConfig     `mapstructure:"http"`
	Log      LogConfig                `mapstructure:"log"`
	Dedup    processor.DedupConfig    `mapstructure:"dedup"`
	Workers  processor.WorkersConfig  `mapstructure:"workers"`
}

func setDefaults(v *viper.Viper) {
	p := processor.DefaultPipelineConfig()
	w := processor.DefaultWatchdogConfig()
	t := processor.DefaultTopicsConfig()

	v.SetDefault("mqtt.host", "localhost")
	v.SetDefault("mqtt.port", 1883)
	v.SetDefault("mqtt.user", "guest")
	v.SetDefault("mqtt.password", "guest")
	v.SetDefault("mqtt.client_id", "")
	v.SetDefault("mqtt.keep_alive", 30*time.Second)
	v.SetDefault("mqtt.connect_retries", 5)
	v.SetDefault("mqtt.connect_max_wait", 30*time.Second)
	v.SetDefault("mqtt.publish_timeout", 2*time.Second)
	v.SetDefault("mqtt.breaker_failures", 5)
	v.SetDefault("mqtt.breaker_open_for", 10*time.Second)

	v.SetDefault("topics.raw", t.Raw)
	v.SetDefault("topics.processed", t.Processed)
	v.SetDefault("topics.summary", t.Summary)

	v.SetDefault("pipeline.median_window", p.MedianWindow)
	v.SetDefault("pipeline.residual_window", p.ResidualWindow)
	v.SetDefault("pipeline.clamp_window", p.ClampWindow)
	v.SetDefault("pipeline.ema_alpha", p.EMAAlpha)
	v.SetDefault("pipeline.max_jump", p.MaxJump)
	v.SetDefault("pipeline.ooo_slack_s", p.OOOSlack)
	v.SetDefault("pipeline.noisy_variance_threshold", p.NoisyVarianceThreshold)
	v.SetDefault("pipeline.noisy_persist", p.NoisyPersist)
	v.SetDefault("pipeline.noise_variance_max", p.NoiseVarianceMax)
	v.SetDefault("pipeline.min_residuals", p.MinResiduals)
	v.SetDefault("pipeline.thresholds.dry_below", p.Thresholds.DryBelow)
	v.SetDefault("pipeline.thresholds.overwater_above", p.Thresholds.OverwaterAbove)
	v.SetDefault("pipeline.thresholds.spiky_clamp_count", p.Thresholds.SpikyClampCount)

	v.SetDefault("watchdog.scan_interval", w.ScanInterval)
	v.SetDefault("watchdog.summary_interval", w.SummaryInterval)
	v.SetDefault("watchdog.stale_after", w.StaleAfter)

	v.SetDefault("influx.enabled", false)
	v.SetDefault("influx.url", "http://localhost:8086")
	v.SetDefault("influx.token", "")
	v.SetDefault("influx.org", "msut")
	v.SetDefault("influx.bucket", "processor")
	v.SetDefault("influx.batch_size", 10)
	v.SetDefault("influx.flush_interval", time.Second)

	v.SetDefault("http.port", 8080)
	v.SetDefault("http.rate_limit", 10.0)
	v.SetDefault("http.rate_burst", 5)
	v.SetDefault("http.ready_error_age", 2*time.Second)

	v.SetDefault("log.level", "info")

	v.SetDefault("dedup.ttl", 10*time.Minute)
	v.SetDefault("dedup.max_keys", 20000)

	v.SetDefault("workers.count", 0)
	v.SetDefault("workers.queue_size", 256)
}

// loadConfig reads config.yml from . or configs when present, then applies
// environment overrides such as MQTT_HOST or PIPELINE_MEDIAN_WINDOW.
func loadConfig(v *viper.Viper) (Config, error) {
	setDefaults(v)
	v.SetConfigName("config")
	v.SetConfigType("yml")
	v.AddConfigPath(".")
	v.AddConfigPath("configs")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) validate() error {
	if strings.TrimSpace(c.MQTT.Host) == "" {
		return errors.New("mqtt.host is required")
	}
	if c.MQTT.Port <= 0 || c.MQTT.Port > 65535 {
		return fmt.Errorf("mqtt.port out of range: %d", c.MQTT.Port)
	}
	if strings.TrimSpace(c.Topics.Raw) == "" || strings.TrimSpace(c.Topics.Summary) == "" {
		return errors.New("topics.raw and topics.summary are required")
	}
	if !strings.Contains(c.Topics.Processed, "{sensor}") {
		return fmt.Errorf("topics.processed must contain {sensor}: %q", c.Topics.Processed)
	}
	if err := c.Pipeline.Validate(); err != nil {
		return err
	}
	if err := c.Watchdog.Validate(); err != nil {
		return err
	}
	if c.Influx.Enabled && (c.Influx.URL == "" || c.Influx.Org == "" || c.Influx.Bucket == "") {
		return errors.New("influx.url, influx.org and influx.bucket are required when influx is enabled")
	}
	if c.HTTP.Port <= 0 || c.HTTP.Port > 65535 {
		return fmt.Errorf("http.port out of range: %d", c.HTTP.Port)
	}
	return nil
}

func (c Config) rabbit(clientID string) *rabbitmq.RabbitMQConfig {
	return &rabbitmq.RabbitMQConfig{
		Host:           c.MQTT.Host,
		Port:           c.MQTT.Port,
		User:           c.MQTT.User,
		Password:       c.MQTT.Password,
		ClientID:       clientID,
		KeepAlive:      c.MQTT.KeepAlive,
		ConnectRetries: c.MQTT.ConnectRetries,
		ConnectMaxWait: c.MQTT.ConnectMaxWait,
	}
}

func (c Config) publisher() rabbitmq.PublisherConfig {
	return rabbitmq.PublisherConfig{
		Timeout:         c.MQTT.PublishTimeout,
		BreakerFailures: c.MQTT.BreakerFailures,
		BreakerOpenFor:  c.MQTT.BreakerOpenFor,
	}
}

func (c Config) service() processor.ServiceConfig {
	return processor.ServiceConfig{
		Topics:   c.Topics,
		Pipeline: c.Pipeline,
		Watchdog: c.Watchdog,
		Workers:  c.Workers,
		Dedup:    c.Dedup,
	}
}
