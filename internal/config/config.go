package config

import (
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Server    ServerConfig
	Redis     RedisConfig
	Scheduler SchedulerConfig
	Preview   PreviewConfig
	Audio     AudioConfig
	RateLimit RateLimitConfig
}

type ServerConfig struct {
	Port string
	Env  string
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

type SchedulerConfig struct {
	Enabled      bool
	TickInterval time.Duration
}

type PreviewConfig struct {
	LockTTL      time.Duration
	LockWait     time.Duration
	PollInterval time.Duration
}

type AudioConfig struct {
	URL     string
	APIKey  string
	Timeout time.Duration
}

type RateLimitConfig struct {
	JobsPerMin      int
	SchedulesPerMin int
	PreviewsPerMin  int
}

func Load() (*Config, error) {
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("./config")

	// Environment variables
	viper.AutomaticEnv()

	// Defaults
	viper.SetDefault("server.port", "3000")
	viper.SetDefault("server.env", "development")
	viper.SetDefault("redis.addr", "localhost:6379")
	viper.SetDefault("redis.password", "")
	viper.SetDefault("redis.db", 0)
	viper.SetDefault("scheduler.enabled", true)
	viper.SetDefault("scheduler.tick_interval", "30s")
	viper.SetDefault("preview.lock_ttl", "60s")
	viper.SetDefault("preview.lock_wait", "30s")
	viper.SetDefault("preview.poll_interval", "100ms")
	viper.SetDefault("audio.url", "")
	viper.SetDefault("audio.api_key", "")
	viper.SetDefault("audio.timeout", "45s")
	viper.SetDefault("ratelimit.jobs_per_min", 60)
	viper.SetDefault("ratelimit.schedules_per_min", 30)
	viper.SetDefault("ratelimit.previews_per_min", 20)

	// Try to read config file (optional)
	_ = viper.ReadInConfig()

	cfg := &Config{
		Server: ServerConfig{
			Port: viper.GetString("server.port"),
			Env:  viper.GetString("server.env"),
		},
		Redis: RedisConfig{
			Addr:     viper.GetString("redis.addr"),
			Password: viper.GetString("redis.password"),
			DB:       viper.GetInt("redis.db"),
		},
		Scheduler: SchedulerConfig{
			Enabled:      viper.GetBool("scheduler.enabled"),
			TickInterval: viper.GetDuration("scheduler.tick_interval"),
		},
		Preview: PreviewConfig{
			LockTTL:      viper.GetDuration("preview.lock_ttl"),
			LockWait:     viper.GetDuration("preview.lock_wait"),
			PollInterval: viper.GetDuration("preview.poll_interval"),
		},
		Audio: AudioConfig{
			URL:     viper.GetString("audio.url"),
			APIKey:  viper.GetString("audio.api_key"),
			Timeout: viper.GetDuration("audio.timeout"),
		},
		RateLimit: RateLimitConfig{
			JobsPerMin:      viper.GetInt("ratelimit.jobs_per_min"),
			SchedulesPerMin: viper.GetInt("ratelimit.schedules_per_min"),
			PreviewsPerMin:  viper.GetInt("ratelimit.previews_per_min"),
		},
	}

	return cfg, nil
}
