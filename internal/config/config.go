// Package config loads the bot configuration from defaults, an optional YAML
// file, a .env file and MARKETBOT_* environment variables, then validates it.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// ErrConfiguration wraps every loading or validation failure.
var ErrConfiguration = errors.New("configuration error")

// EnvPrefix prefixes every environment override, e.g. MARKETBOT_TWITTER_BOT_USER_ID.
const EnvPrefix = "MARKETBOT"

// Config is the full bot configuration.
type Config struct {
	Logger       LoggerConfig       `mapstructure:"logger"`
	Database     DatabaseConfig     `mapstructure:"database"`
	Twitter      TwitterConfig      `mapstructure:"twitter"`
	Market       MarketConfig       `mapstructure:"market"`
	Images       ImagesConfig       `mapstructure:"images"`
	Admission    AdmissionConfig    `mapstructure:"admission"`
	Conversation ConversationConfig `mapstructure:"conversation"`
	Scheduler    SchedulerConfig    `mapstructure:"scheduler"`
	Telegram     TelegramConfig     `mapstructure:"telegram"`
	Gemini       GeminiConfig       `mapstructure:"gemini"`
	Redis        RedisConfig        `mapstructure:"redis"`
}

// LoggerConfig selects the log level and handler.
type LoggerConfig struct {
	Level string `mapstructure:"level" validate:"oneof=debug info warn error"`
	JSON  bool   `mapstructure:"json"`
}

// DatabaseConfig selects the store backend.
type DatabaseConfig struct {
	Driver            string `mapstructure:"driver"             validate:"oneof=sqlite json"`
	Path              string `mapstructure:"path"               validate:"required"`
	ProcessedCapacity int    `mapstructure:"processed_capacity" validate:"min=1"`
}

// TwitterConfig holds the bot account's API credentials.
type TwitterConfig struct {
	ConsumerKey    string        `mapstructure:"consumer_key"    validate:"required"`
	ConsumerSecret string        `mapstructure:"consumer_secret" validate:"required"`
	AccessToken    string        `mapstructure:"access_token"    validate:"required"`
	AccessSecret   string        `mapstructure:"access_secret"   validate:"required"`
	BotUserID      string        `mapstructure:"bot_user_id"     validate:"required,numeric"`
	BaseURL        string        `mapstructure:"base_url"        validate:"required,url"`
	Timeout        time.Duration `mapstructure:"timeout"         validate:"min=1s"`
}

// MarketConfig points at the market-creation backend.
type MarketConfig struct {
	APIURL  string        `mapstructure:"api_url"  validate:"required,url"`
	APIKey  string        `mapstructure:"api_key"`
	BaseURL string        `mapstructure:"base_url" validate:"required,url"`
	Timeout time.Duration `mapstructure:"timeout"  validate:"min=1s"`
}

// ImagesConfig controls the image download and upload pipeline.
type ImagesConfig struct {
	Backend         string        `mapstructure:"backend"          validate:"oneof=ipfs s3"`
	UploadURL       string        `mapstructure:"upload_url"       validate:"omitempty,url"`
	AllowedPrefixes []string      `mapstructure:"allowed_prefixes" validate:"min=1,dive,url"`
	MaxBytes        int64         `mapstructure:"max_bytes"        validate:"min=1"`
	Timeout         time.Duration `mapstructure:"timeout"          validate:"min=1s"`
	S3              S3Config      `mapstructure:"s3"`
}

// S3Config locates the image bucket when Images.Backend is "s3".
type S3Config struct {
	Endpoint       string `mapstructure:"endpoint"         validate:"omitempty,url"`
	Region         string `mapstructure:"region"`
	Bucket         string `mapstructure:"bucket"`
	AccessKey      string `mapstructure:"access_key"`
	SecretKey      string `mapstructure:"secret_key"`
	ForcePathStyle bool   `mapstructure:"force_path_style"`
	PublicBaseURL  string `mapstructure:"public_base_url"  validate:"omitempty,url"`
}

// AdmissionConfig holds the rate limit and account-quality thresholds.
type AdmissionConfig struct {
	MaxRequestsPerHour int  `mapstructure:"max_requests_per_hour" validate:"min=1"`
	MinFollowers       int  `mapstructure:"min_followers"         validate:"min=0"`
	MinTweets          int  `mapstructure:"min_tweets"            validate:"min=0"`
	RequireVerified    bool `mapstructure:"require_verified"`
}

// ConversationConfig bounds the template window.
type ConversationConfig struct {
	TTL time.Duration `mapstructure:"ttl" validate:"min=1m"`
}

// TaskConfig enables and schedules one task.
type TaskConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Schedule string `mapstructure:"schedule" validate:"required_if=Enabled true"`
}

// SchedulerConfig maps task names to their schedule.
type SchedulerConfig struct {
	Tasks map[string]TaskConfig `mapstructure:"tasks" validate:"dive"`
}

// TelegramConfig enables the operator console when Token is set.
type TelegramConfig struct {
	Token        string `mapstructure:"token"`
	AdminUserID  int64  `mapstructure:"admin_user_id"  validate:"required_with=Token"`
	NotifyChatID int64  `mapstructure:"notify_chat_id"`
}

// Enabled reports whether the console should start.
func (c TelegramConfig) Enabled() bool {
	return c.Token != ""
}

// GeminiConfig configures the optional LLM intent fallback.
type GeminiConfig struct {
	Enabled           bool    `mapstructure:"enabled"`
	APIKey            string  `mapstructure:"api_key"             validate:"required_if=Enabled true"`
	ModelName         string  `mapstructure:"model_name"          validate:"required"`
	Temperature       float32 `mapstructure:"temperature"         validate:"min=0,max=2"`
	MaxRetries        int     `mapstructure:"max_retries"         validate:"min=0"`
	RetryDelaySeconds int     `mapstructure:"retry_delay_seconds" validate:"min=0"`
}

// RedisConfig enables the cross-replica poll lock.
type RedisConfig struct {
	Enabled  bool          `mapstructure:"enabled"`
	Addr     string        `mapstructure:"addr"     validate:"required_if=Enabled true"`
	Password string        `mapstructure:"password"`
	DB       int           `mapstructure:"db"       validate:"min=0"`
	TLS      bool          `mapstructure:"tls"`
	LockTTL  time.Duration `mapstructure:"lock_ttl" validate:"min=1s"`
}

// LoadConfig reads path (a missing file is fine), applies .env and
// MARKETBOT_* overrides over the defaults and validates the result.
func LoadConfig(path string) (*Config, error) {
	// .env is optional; real environment variables win over it.
	_ = godotenv.Load()

	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) && !isNotExist(err) {
				return nil, fmt.Errorf("%w: failed to read config file %s: %v", ErrConfiguration, path, err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("%w: failed to parse config: %v", ErrConfiguration, err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrConfiguration, err)
	}
	return &cfg, nil
}

// Validate checks struct tags plus the rules that span sections.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return err
	}
	if c.Images.Backend == "s3" {
		s := c.Images.S3
		if s.Bucket == "" || s.Region == "" || s.AccessKey == "" || s.SecretKey == "" {
			return errors.New("images.s3 bucket, region, access_key and secret_key are required when images.backend is s3")
		}
	}
	return nil
}
