package config

import (
	"errors"
	"io/fs"
	"time"

	"github.com/spf13/viper"
)

// Task names known to the scheduler.
const (
	TaskMentionPoll         = "mention_poll"
	TaskExpireConversations = "expire_conversations"
	TaskSQLMaintenance      = "sql_maintenance"
)

func setDefaults(v *viper.Viper) {
	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.json", false)

	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.path", "marketbot.db")
	v.SetDefault("database.processed_capacity", 10000)

	// Credentials have no defaults but must be known keys for env overrides to bind.
	v.SetDefault("twitter.consumer_key", "")
	v.SetDefault("twitter.consumer_secret", "")
	v.SetDefault("twitter.access_token", "")
	v.SetDefault("twitter.access_secret", "")
	v.SetDefault("twitter.bot_user_id", "")
	v.SetDefault("twitter.base_url", "https://api.twitter.com")
	v.SetDefault("twitter.timeout", 30*time.Second)

	v.SetDefault("market.api_url", "")
	v.SetDefault("market.api_key", "")
	v.SetDefault("market.base_url", "https://yosoku.fun/markets")
	v.SetDefault("market.timeout", 60*time.Second)

	v.SetDefault("images.backend", "ipfs")
	v.SetDefault("images.upload_url", "https://api.yosoku.fun/api/v1/upload-image")
	v.SetDefault("images.allowed_prefixes", []string{"https://pbs.twimg.com/"})
	v.SetDefault("images.max_bytes", 5*1024*1024)
	v.SetDefault("images.timeout", 30*time.Second)
	v.SetDefault("images.s3.endpoint", "")
	v.SetDefault("images.s3.region", "")
	v.SetDefault("images.s3.bucket", "")
	v.SetDefault("images.s3.access_key", "")
	v.SetDefault("images.s3.secret_key", "")
	v.SetDefault("images.s3.force_path_style", false)
	v.SetDefault("images.s3.public_base_url", "")

	v.SetDefault("admission.max_requests_per_hour", 3)
	v.SetDefault("admission.min_followers", 100)
	v.SetDefault("admission.min_tweets", 100)
	v.SetDefault("admission.require_verified", true)

	v.SetDefault("conversation.ttl", time.Hour)

	v.SetDefault("scheduler.tasks", map[string]any{
		TaskMentionPoll:         map[string]any{"enabled": true, "schedule": "*/15 * * * * *"},
		TaskExpireConversations: map[string]any{"enabled": true, "schedule": "0 * * * * *"},
		TaskSQLMaintenance:      map[string]any{"enabled": true, "schedule": "0 0 4 * * *"},
	})

	v.SetDefault("telegram.token", "")
	v.SetDefault("telegram.admin_user_id", 0)
	v.SetDefault("telegram.notify_chat_id", 0)

	v.SetDefault("gemini.enabled", false)
	v.SetDefault("gemini.api_key", "")
	v.SetDefault("gemini.model_name", "gemini-2.0-flash")
	v.SetDefault("gemini.temperature", 0.0)
	v.SetDefault("gemini.max_retries", 2)
	v.SetDefault("gemini.retry_delay_seconds", 2)

	v.SetDefault("redis.enabled", false)
	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.tls", false)
	v.SetDefault("redis.lock_ttl", 2*time.Minute)
}

func isNotExist(err error) bool {
	return errors.Is(err, fs.ErrNotExist)
}
