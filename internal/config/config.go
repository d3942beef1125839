// Package config loads renderd settings from command line flags, the
// environment and an optional .env file, in that order of precedence.
package config

import (
	"io/fs"
	"os"
	"strings"
	"time"

	"github.com/jessevdk/go-flags"
	"github.com/joho/godotenv"

	"pyro/internal/pkg/errors"
	"pyro/internal/pkg/logger"
)

// Render backends.
const (
	BackendSoftware = "software"
	BackendRemote   = "remote"
)

type Config struct {
	HTTPPort       string        `long:"http-port" env:"HTTP_PORT" default:"8081" description:"HTTP listen port"`
	StaticDir      string        `long:"static-dir" env:"STATIC_DIR" default:"./html" description:"directory served at / (empty disables)"`
	RequestTimeout time.Duration `long:"request-timeout" env:"REQUEST_TIMEOUT" default:"2m" description:"per request timeout"`
	CORSOrigins    []string      `long:"cors-origin" env:"CORS_ALLOWED_ORIGINS" env-delim:"," default:"http://localhost:8081" default:"http://localhost:5173" description:"allowed CORS origins"`

	ResourceRoot    string        `long:"resource-root" env:"RESOURCE_ROOT" default:"./res" description:"renderer resource root"`
	RenderWidth     int           `long:"width" env:"RENDER_WIDTH" default:"640" description:"initial frame width"`
	RenderHeight    int           `long:"height" env:"RENDER_HEIGHT" default:"480" description:"initial frame height"`
	QueueCapacity   int           `long:"queue-capacity" env:"QUEUE_CAPACITY" default:"64" description:"render jobs waiting before new ones are rejected"`
	RenderBackend   string        `long:"backend" env:"RENDER_BACKEND" default:"software" choice:"software" choice:"remote" description:"native renderer"`
	RendererURL     string        `long:"renderer-url" env:"RENDERER_HTTP_BASEURL" description:"remote renderer base URL"`
	RendererTimeout time.Duration `long:"renderer-timeout" env:"RENDERER_TIMEOUT" default:"10m" description:"remote renderer call timeout"`
	SceneCacheSize  int           `long:"scene-cache" env:"SCENE_CACHE_SIZE" default:"16" description:"scenes retained by id"`
	SceneHotReload  bool          `long:"hot-reload" env:"SCENE_HOT_RELOAD" description:"watch scene files and reload on change"`

	RateLimitRPS   float64 `long:"rate-limit-rps" env:"RATE_LIMIT_RPS" default:"20" description:"render requests per second per client (0 disables)"`
	RateLimitBurst int     `long:"rate-limit-burst" env:"RATE_LIMIT_BURST" default:"40" description:"render request burst per client"`

	DatabaseURL       string        `long:"database-url" env:"DATABASE_URL" description:"PostgreSQL URL for async jobs"`
	RedisAddr         string        `long:"redis-addr" env:"REDIS_ADDR" description:"Redis address for async jobs"`
	JobQueueName      string        `long:"job-queue" env:"JOB_QUEUE_NAME" default:"pyro:render_jobs" description:"Redis list holding async job ids"`
	WorkerConcurrency int           `long:"workers" env:"WORKER_CONCURRENCY" default:"2" description:"async intake workers"`
	WorkerBackoff     time.Duration `long:"worker-backoff" env:"WORKER_BACKOFF" default:"2s" description:"delay before a rejected async job is retried"`

	StorageProvider    string `long:"storage" env:"STORAGE_PROVIDER" default:"localfs" choice:"localfs" choice:"gdrive" description:"frame storage"`
	StorageLocalRoot   string `long:"storage-root" env:"STORAGE_LOCAL_ROOT" default:"./data" description:"localfs storage root"`
	GDriveClientID     string `long:"gdrive-client-id" env:"GDRIVE_CLIENT_ID"`
	GDriveClientSecret string `long:"gdrive-client-secret" env:"GDRIVE_CLIENT_SECRET"`
	GDriveRefreshToken string `long:"gdrive-refresh-token" env:"GDRIVE_REFRESH_TOKEN"`
	GDriveFolderID     string `long:"gdrive-folder-id" env:"GDRIVE_FOLDER_ID"`

	LogLevel  string `long:"log-level" env:"LOG_LEVEL" default:"info" description:"debug, info, warn or error"`
	LogFormat string `long:"log-format" env:"LOG_FORMAT" default:"json" choice:"json" choice:"text"`
	LogSource bool   `long:"log-source" env:"LOG_SOURCE" description:"add source locations to logs"`

	ShutdownTimeout time.Duration `long:"shutdown-timeout" env:"SHUTDOWN_TIMEOUT" default:"30s"`
}

// Load reads the .env file named by ENV_FILE (default ".env") if it exists,
// then parses args. Variables already set in the environment win over the
// file.
func Load(args []string) (*Config, error) {
	envFile := strings.TrimSpace(os.Getenv("ENV_FILE"))
	if envFile == "" {
		envFile = ".env"
	}
	if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, errors.Wrap(err, "config.Load", "read env file").WithField("file", envFile)
	}

	var cfg Config
	parser := flags.NewParser(&cfg, flags.HelpFlag|flags.PassDoubleDash|flags.IgnoreUnknown)
	if _, err := parser.ParseArgs(args); err != nil {
		return nil, errors.WrapWithCode(err, errors.CodeValidation, "config.Load", "parse arguments")
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) Validate() error {
	if c.RenderWidth <= 0 || c.RenderHeight <= 0 {
		return errors.ValidationField("render_size", "width and height must be positive")
	}
	if c.QueueCapacity <= 0 {
		return errors.ValidationField("queue_capacity", "must be positive")
	}
	if c.RenderBackend == BackendRemote && strings.TrimSpace(c.RendererURL) == "" {
		return errors.ValidationField("renderer_url", "RENDERER_HTTP_BASEURL is required for the remote backend")
	}
	if c.RateLimitRPS < 0 || c.RateLimitBurst < 0 {
		return errors.ValidationField("rate_limit", "must not be negative")
	}
	if c.AsyncEnabled() {
		if c.WorkerConcurrency <= 0 {
			return errors.ValidationField("workers", "must be positive")
		}
		if c.StorageProvider == "gdrive" && (c.GDriveClientID == "" || c.GDriveClientSecret == "" || c.GDriveRefreshToken == "") {
			return errors.ValidationField("storage", "gdrive storage needs client id, secret and refresh token")
		}
	}
	return nil
}

// AsyncEnabled reports whether the Postgres/Redis job intake is configured.
func (c *Config) AsyncEnabled() bool {
	return c.DatabaseURL != "" && c.RedisAddr != ""
}

func (c *Config) Logger(service string) logger.Config {
	return logger.Config{
		Level:       c.LogLevel,
		Format:      c.LogFormat,
		Output:      os.Stdout,
		AddSource:   c.LogSource,
		ServiceName: service,
	}
}
