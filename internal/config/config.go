package config

import (
	"os"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// defaultPrompt is the guidance text sent unchanged with every ASR call.
// It instructs Whisper on spelling and discourages hallucinated words for
// Persian-language lecture recordings, the service's primary workload.
const defaultPrompt = `متن این فایل صوتی مربوط به یک جلسهٔ آموزشی به زبان فارسی است.
لطفاً واژگان را با املای رایج فارسی بنویس و اعداد را به صورت رقم ثبت کن.
نام‌های علمی و اصطلاحات را همان‌گونه که ادا می‌شود ثبت کن.
از حدس‌زدن یا افزودن کلمات خودداری کن؛ فقط آنچه گفته می‌شود را بنویس.`

type Config struct {
	DatabaseURL string `env:"DATABASE_URL,required"`

	DataDir  string `env:"DATA_DIR" envDefault:"./data"`
	WatchDir string `env:"WATCH_DIR"` // optional drop directory for ingestion

	HTTPAddr     string        `env:"HTTP_ADDR" envDefault:":8080"`
	ReadTimeout  time.Duration `env:"HTTP_READ_TIMEOUT" envDefault:"5s"`
	WriteTimeout time.Duration `env:"HTTP_WRITE_TIMEOUT" envDefault:"10m"`
	IdleTimeout  time.Duration `env:"HTTP_IDLE_TIMEOUT" envDefault:"120s"`
	MaxUploadMB  int64         `env:"MAX_UPLOAD_MB" envDefault:"30"`

	AuthToken string `env:"AUTH_TOKEN"`
	LogLevel  string `env:"LOG_LEVEL" envDefault:"info"`

	// ASR service
	ASRURL        string        `env:"ASR_URL" envDefault:"https://api.openai.com/v1/audio/transcriptions"`
	ASRAPIKey     string        `env:"ASR_API_KEY"`
	ASRModel      string        `env:"ASR_MODEL" envDefault:"whisper-1"`
	ASRLanguage   string        `env:"ASR_LANGUAGE" envDefault:"fa"`
	ASRPrompt     string        `env:"ASR_PROMPT"`
	ASRTimeout    time.Duration `env:"ASR_TIMEOUT" envDefault:"120s"`
	ASRWorkers    int           `env:"ASR_CONCURRENCY" envDefault:"3"`
	ASRAttempts   int           `env:"ASR_RETRIES" envDefault:"3"`
	ASRRetryDelay time.Duration `env:"ASR_RETRY_BASE_DELAY" envDefault:"1s"`

	// Segmentation
	SegmentSeconds float64 `env:"SEGMENT_SECONDS" envDefault:"150"`

	// MQTT status notifications (disabled when broker URL is empty)
	MQTTBrokerURL string `env:"MQTT_BROKER_URL"`
	MQTTClientID  string `env:"MQTT_CLIENT_ID" envDefault:"vn-engine"`
	MQTTTopic     string `env:"MQTT_TOPIC" envDefault:"vn/recordings"`
	MQTTUsername  string `env:"MQTT_USERNAME"`
	MQTTPassword  string `env:"MQTT_PASSWORD"`

	S3 S3Config
}

// S3Config enables tiered blob storage when bucket and credentials are set.
type S3Config struct {
	Bucket    string `env:"S3_BUCKET"`
	Region    string `env:"S3_REGION" envDefault:"us-east-1"`
	Endpoint  string `env:"S3_ENDPOINT"` // custom endpoint for MinIO and friends
	AccessKey string `env:"S3_ACCESS_KEY"`
	SecretKey string `env:"S3_SECRET_KEY"`
	Prefix    string `env:"S3_PREFIX"`
}

// Enabled reports whether S3 storage is configured.
func (c S3Config) Enabled() bool {
	return c.Bucket != "" && c.AccessKey != "" && c.SecretKey != ""
}

// Overrides holds CLI flag values that take priority over env vars.
type Overrides struct {
	EnvFile     string
	HTTPAddr    string
	LogLevel    string
	DatabaseURL string
	DataDir     string
	WatchDir    string
}

// Load reads configuration from .env file, environment variables, and CLI overrides.
// Priority: CLI flags > environment variables > .env file > struct defaults.
func Load(overrides Overrides) (*Config, error) {
	// Load .env file (silent if missing)
	envFile := overrides.EnvFile
	if envFile == "" {
		envFile = ".env"
	}
	if _, err := os.Stat(envFile); err == nil {
		_ = godotenv.Load(envFile)
	}

	// Parse environment variables into config struct
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, err
	}
	if cfg.ASRPrompt == "" {
		cfg.ASRPrompt = defaultPrompt
	}

	// Apply CLI overrides (non-empty values win)
	if overrides.HTTPAddr != "" {
		cfg.HTTPAddr = overrides.HTTPAddr
	}
	if overrides.LogLevel != "" {
		cfg.LogLevel = overrides.LogLevel
	}
	if overrides.DatabaseURL != "" {
		cfg.DatabaseURL = overrides.DatabaseURL
	}
	if overrides.DataDir != "" {
		cfg.DataDir = overrides.DataDir
	}
	if overrides.WatchDir != "" {
		cfg.WatchDir = overrides.WatchDir
	}

	return cfg, nil
}
