package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type Config struct {
	APIBaseURL  string `yaml:"api_base_url"`
	PushURL     string `yaml:"push_url"`
	AccessToken string `yaml:"access_token"`
	DeviceID    string `yaml:"device_id"`

	PageSize          int           `yaml:"page_size"`
	UploadConcurrency int           `yaml:"upload_concurrency"`
	MaxAttachments    int           `yaml:"max_attachments"`
	MaxImageSize      int64         `yaml:"max_image_size"`
	NonFriendCap      int           `yaml:"non_friend_cap"`
	GroupingThreshold time.Duration `yaml:"grouping_threshold"`
	SectionGap        time.Duration `yaml:"section_gap"`

	TypingIdle   time.Duration `yaml:"typing_idle"`
	TypingHard   time.Duration `yaml:"typing_hard"`
	TypingTTL    time.Duration `yaml:"typing_ttl"`
	PingInterval time.Duration `yaml:"ping_interval"`

	APIRateLimit   float64       `yaml:"api_rate_limit"`
	APIBurst       int           `yaml:"api_burst"`
	RequestTimeout time.Duration `yaml:"request_timeout"`

	// PresenceCountsAsRead treats "active in room" signals as read receipts.
	PresenceCountsAsRead bool `yaml:"presence_counts_as_read"`

	ArchiveDriver     string `yaml:"archive_driver"`
	ArchivePath       string `yaml:"archive_path"`
	ArchivePassphrase string `yaml:"archive_passphrase"`

	DBHost     string `yaml:"db_host"`
	DBPort     string `yaml:"db_port"`
	DBUser     string `yaml:"db_user"`
	DBPassword string `yaml:"db_password"`
	DBName     string `yaml:"db_name"`

	ListenAddr    string `yaml:"listen_addr"`
	ControlSecret string `yaml:"control_secret"`
	LogLevel      string `yaml:"log_level"`
}

const (
	ArchiveNone     = "none"
	ArchivePebble   = "pebble"
	ArchivePostgres = "postgres"
)

func defaults() *Config {
	return &Config{
		APIBaseURL:           "http://localhost:5000",
		PushURL:              "ws://localhost:5000/ws",
		PageSize:             20,
		UploadConcurrency:    3,
		MaxAttachments:       3,
		MaxImageSize:         15 << 20,
		NonFriendCap:         3,
		GroupingThreshold:    5 * time.Minute,
		SectionGap:           10 * time.Minute,
		TypingIdle:           2 * time.Second,
		TypingHard:           20 * time.Second,
		TypingTTL:            20 * time.Second,
		PingInterval:         20 * time.Second,
		APIRateLimit:         10,
		APIBurst:             20,
		RequestTimeout:       30 * time.Second,
		PresenceCountsAsRead: true,
		ArchiveDriver:        ArchiveNone,
		ArchivePath:          "data/archive",
		DBHost:               "localhost",
		DBPort:               "5432",
		DBUser:               "pulse",
		DBPassword:           "pulse_dev_password",
		DBName:               "pulse",
		ListenAddr:           "127.0.0.1:7070",
		ControlSecret:        "dev-secret-change-me",
		LogLevel:             "info",
	}
}

// Load reads configuration from the environment, after loading a .env
// file from the working directory when one exists.
func Load() *Config {
	_ = godotenv.Load()
	cfg := defaults()
	cfg.applyEnv()
	return cfg
}

// LoadFile reads a YAML file on top of the defaults. Environment values
// still win over the file.
func LoadFile(path string) (*Config, error) {
	_ = godotenv.Load()
	cfg := defaults()
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}
	cfg.applyEnv()
	return cfg, nil
}

func (c *Config) applyEnv() {
	c.APIBaseURL = getEnv("API_BASE_URL", c.APIBaseURL)
	c.PushURL = getEnv("PUSH_URL", c.PushURL)
	c.AccessToken = getEnv("ACCESS_TOKEN", c.AccessToken)
	c.DeviceID = getEnv("DEVICE_ID", c.DeviceID)

	c.PageSize = getEnvInt("PAGE_SIZE", c.PageSize)
	c.UploadConcurrency = getEnvInt("UPLOAD_CONCURRENCY", c.UploadConcurrency)
	c.MaxAttachments = getEnvInt("MAX_ATTACHMENTS", c.MaxAttachments)
	c.MaxImageSize = int64(getEnvInt("MAX_IMAGE_SIZE", int(c.MaxImageSize)))
	c.NonFriendCap = getEnvInt("NON_FRIEND_CAP", c.NonFriendCap)
	c.GroupingThreshold = getEnvDuration("GROUPING_THRESHOLD", c.GroupingThreshold)
	c.SectionGap = getEnvDuration("SECTION_GAP", c.SectionGap)

	c.TypingIdle = getEnvDuration("TYPING_IDLE", c.TypingIdle)
	c.TypingHard = getEnvDuration("TYPING_HARD", c.TypingHard)
	c.TypingTTL = getEnvDuration("TYPING_TTL", c.TypingTTL)
	c.PingInterval = getEnvDuration("PING_INTERVAL", c.PingInterval)

	c.APIRateLimit = getEnvFloat("API_RATE_LIMIT", c.APIRateLimit)
	c.APIBurst = getEnvInt("API_BURST", c.APIBurst)
	c.RequestTimeout = getEnvDuration("REQUEST_TIMEOUT", c.RequestTimeout)
	c.PresenceCountsAsRead = getEnvBool("PRESENCE_COUNTS_AS_READ", c.PresenceCountsAsRead)

	c.ArchiveDriver = getEnv("ARCHIVE_DRIVER", c.ArchiveDriver)
	c.ArchivePath = getEnv("ARCHIVE_PATH", c.ArchivePath)
	c.ArchivePassphrase = getEnv("ARCHIVE_PASSPHRASE", c.ArchivePassphrase)

	c.DBHost = getEnv("DB_HOST", c.DBHost)
	c.DBPort = getEnv("DB_PORT", c.DBPort)
	c.DBUser = getEnv("DB_USER", c.DBUser)
	c.DBPassword = getEnv("DB_PASSWORD", c.DBPassword)
	c.DBName = getEnv("DB_NAME", c.DBName)

	c.ListenAddr = getEnv("LISTEN_ADDR", c.ListenAddr)
	c.ControlSecret = getEnv("CONTROL_SECRET", c.ControlSecret)
	c.LogLevel = getEnv("LOG_LEVEL", c.LogLevel)
}

func (c *Config) Validate() error {
	var errs []error
	if c.APIBaseURL == "" {
		errs = append(errs, errors.New("API_BASE_URL is required"))
	}
	switch c.ArchiveDriver {
	case ArchiveNone, ArchivePebble, ArchivePostgres:
	default:
		errs = append(errs, fmt.Errorf("unknown archive driver %q", c.ArchiveDriver))
	}
	if c.PageSize <= 0 {
		errs = append(errs, errors.New("PAGE_SIZE must be positive"))
	}
	if c.UploadConcurrency <= 0 {
		errs = append(errs, errors.New("UPLOAD_CONCURRENCY must be positive"))
	}
	return errors.Join(errs...)
}

// DatabaseURL is the PostgreSQL DSN for the archive.
func (c *Config) DatabaseURL() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=disable", c.DBUser, c.DBPassword, c.DBHost, c.DBPort, c.DBName)
}

func getEnv(key, fallback string) string {
	val, exists := os.LookupEnv(key)

	if exists {
		return val
	}

	return fallback
}

func getEnvInt(key string, fallback int) int {
	n, err := strconv.Atoi(getEnv(key, ""))
	if err != nil {
		return fallback
	}
	return n
}

func getEnvFloat(key string, fallback float64) float64 {
	f, err := strconv.ParseFloat(getEnv(key, ""), 64)
	if err != nil {
		return fallback
	}
	return f
}

func getEnvBool(key string, fallback bool) bool {
	b, err := strconv.ParseBool(getEnv(key, ""))
	if err != nil {
		return fallback
	}
	return b
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	d, err := time.ParseDuration(getEnv(key, ""))
	if err != nil {
		return fallback
	}
	return d
}
