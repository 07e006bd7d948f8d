package config

import (
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// readSecret reads a Docker secret from a file path specified by an env var
// with _FILE suffix. If FOO is already set directly, the file is skipped.
// If FOO_FILE is set, reads the file content and sets FOO.
func readSecret(envKey string) {
	if os.Getenv(envKey) != "" {
		return
	}
	fileKey := envKey + "_FILE"
	filePath := os.Getenv(fileKey)
	if filePath == "" {
		return
	}
	data, err := os.ReadFile(filePath)
	if err != nil {
		return
	}
	val := strings.TrimSpace(string(data))
	os.Setenv(envKey, val)
}

type Config struct {
	Server    ServerConfig
	Redis     RedisConfig
	R2        R2Config
	Grab      GrabConfig
	Worker    WorkerConfig
	RateLimit RateLimitConfig
}

type ServerConfig struct {
	Port          string
	Env           string
	LogLevel      string
	SessionSecret string
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

type R2Config struct {
	AccountID       string
	Endpoint        string
	AccessKeyID     string
	SecretAccessKey string
	BucketName      string
}

// GrabConfig controls the download/transcode pipeline.
type GrabConfig struct {
	AudioFormat  string
	AudioQuality string
	TempDir      string
	JobTimeout   time.Duration
	LinkTTL      time.Duration
	ArtifactTTL  time.Duration
}

type WorkerConfig struct {
	Concurrency   int
	SweepInterval time.Duration
}

type RateLimitConfig struct {
	DownloadsPerHour int
}

func Load() (*Config, error) {
	// Read Docker Swarm secrets from _FILE env vars before Viper binds
	readSecret("REDIS_PASSWORD")
	readSecret("R2_ACCOUNT_ID")
	readSecret("R2_ACCESS_KEY_ID")
	readSecret("R2_SECRET_ACCESS_KEY")
	readSecret("SESSION_SECRET")

	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("./config")

	// Environment variables
	viper.AutomaticEnv()

	// Bind environment variables with underscores to nested config keys
	_ = viper.BindEnv("server.port", "SERVER_PORT")
	_ = viper.BindEnv("server.env", "SERVER_ENV")
	_ = viper.BindEnv("server.log_level", "LOG_LEVEL")
	_ = viper.BindEnv("server.session_secret", "SESSION_SECRET")
	_ = viper.BindEnv("redis.addr", "REDIS_ADDR")
	_ = viper.BindEnv("redis.password", "REDIS_PASSWORD")
	_ = viper.BindEnv("redis.db", "REDIS_DB")
	_ = viper.BindEnv("r2.account_id", "R2_ACCOUNT_ID")
	_ = viper.BindEnv("r2.endpoint", "R2_ENDPOINT_URL")
	_ = viper.BindEnv("r2.access_key_id", "R2_ACCESS_KEY_ID")
	_ = viper.BindEnv("r2.secret_access_key", "R2_SECRET_ACCESS_KEY")
	_ = viper.BindEnv("r2.bucket_name", "R2_BUCKET_NAME")
	_ = viper.BindEnv("grab.audio_format", "GRAB_AUDIO_FORMAT")
	_ = viper.BindEnv("grab.audio_quality", "GRAB_AUDIO_QUALITY")
	_ = viper.BindEnv("grab.temp_dir", "GRAB_TEMP_DIR")
	_ = viper.BindEnv("grab.job_timeout", "GRAB_JOB_TIMEOUT")
	_ = viper.BindEnv("grab.link_ttl", "GRAB_LINK_TTL")
	_ = viper.BindEnv("grab.artifact_ttl", "GRAB_ARTIFACT_TTL")
	_ = viper.BindEnv("worker.concurrency", "WORKER_CONCURRENCY")
	_ = viper.BindEnv("worker.sweep_interval", "WORKER_SWEEP_INTERVAL")
	_ = viper.BindEnv("ratelimit.downloads_per_hour", "RATELIMIT_DOWNLOADS_PER_HOUR")

	// Defaults
	viper.SetDefault("server.port", "5000")
	viper.SetDefault("server.env", "development")
	viper.SetDefault("server.log_level", "info")
	viper.SetDefault("server.session_secret", "")
	viper.SetDefault("redis.addr", "localhost:6379")
	viper.SetDefault("redis.password", "")
	viper.SetDefault("redis.db", 0)
	viper.SetDefault("grab.audio_format", "mp3")
	viper.SetDefault("grab.audio_quality", "192K")
	viper.SetDefault("grab.temp_dir", os.TempDir())
	viper.SetDefault("grab.job_timeout", "10m")
	viper.SetDefault("grab.link_ttl", "15m")
	viper.SetDefault("grab.artifact_ttl", "15m")
	viper.SetDefault("worker.concurrency", 5)
	viper.SetDefault("worker.sweep_interval", "5m")
	viper.SetDefault("ratelimit.downloads_per_hour", 30)

	// Try to read config file (optional)
	_ = viper.ReadInConfig()

	cfg := &Config{
		Server: ServerConfig{
			Port:          viper.GetString("server.port"),
			Env:           viper.GetString("server.env"),
			LogLevel:      viper.GetString("server.log_level"),
			SessionSecret: viper.GetString("server.session_secret"),
		},
		Redis: RedisConfig{
			Addr:     viper.GetString("redis.addr"),
			Password: viper.GetString("redis.password"),
			DB:       viper.GetInt("redis.db"),
		},
		R2: R2Config{
			AccountID:       viper.GetString("r2.account_id"),
			Endpoint:        viper.GetString("r2.endpoint"),
			AccessKeyID:     viper.GetString("r2.access_key_id"),
			SecretAccessKey: viper.GetString("r2.secret_access_key"),
			BucketName:      viper.GetString("r2.bucket_name"),
		},
		Grab: GrabConfig{
			AudioFormat:  viper.GetString("grab.audio_format"),
			AudioQuality: viper.GetString("grab.audio_quality"),
			TempDir:      viper.GetString("grab.temp_dir"),
			JobTimeout:   viper.GetDuration("grab.job_timeout"),
			LinkTTL:      viper.GetDuration("grab.link_ttl"),
			ArtifactTTL:  viper.GetDuration("grab.artifact_ttl"),
		},
		Worker: WorkerConfig{
			Concurrency:   viper.GetInt("worker.concurrency"),
			SweepInterval: viper.GetDuration("worker.sweep_interval"),
		},
		RateLimit: RateLimitConfig{
			DownloadsPerHour: viper.GetInt("ratelimit.downloads_per_hour"),
		},
	}

	return cfg, nil
}
