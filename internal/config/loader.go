// Package config 提供配置加载功能
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/spf13/viper"
)

// DefaultPath 默认配置文件路径
const DefaultPath = "configs/config.yaml"

var envPattern = regexp.MustCompile(`\${(\w+)(:([^}]*))?}`)

// Load 加载配置文件
// 按优先级加载：默认值 -> 配置文件 -> 环境配置 -> 环境变量
// path 为空时使用 DefaultPath，且文件缺失不视为错误
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")

	optional := path == ""
	if optional {
		path = DefaultPath
	}

	// 1. 加载主配置
	if err := loadConfigFile(v, path, optional); err != nil {
		return nil, err
	}

	// 2. 加载环境特定配置
	env := os.Getenv("APP_ENV")
	if env == "" {
		env = "development"
	}
	envFile := filepath.Join(filepath.Dir(path), fmt.Sprintf("config.%s.yaml", env))
	if err := loadConfigFile(v, envFile, true); err != nil {
		return nil, err
	}

	// 3. 绑定环境变量 (直接覆盖)
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	setDefaults(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// loadConfigFile 读取文件，执行环境变量替换，并加载到 viper
func loadConfigFile(v *viper.Viper, path string, optional bool) error {
	content, err := os.ReadFile(path)
	if err != nil {
		if optional && os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	reader := strings.NewReader(expandEnv(string(content)))
	if v.ConfigFileUsed() == "" {
		if err := v.ReadConfig(reader); err != nil {
			return fmt.Errorf("failed to read processed config %s: %w", path, err)
		}
		// 手动标记已加载文件，后续文件走 MergeConfig
		v.SetConfigFile(path)
	} else {
		if err := v.MergeConfig(reader); err != nil {
			return fmt.Errorf("failed to merge processed config %s: %w", path, err)
		}
	}

	return nil
}

// expandEnv 替换字符串中的 ${VAR:default} 占位符
func expandEnv(s string) string {
	// g1: 变量名, g2: 默认值部分（含冒号）, g3: 默认值内容
	return envPattern.ReplaceAllStringFunc(s, func(match string) string {
		submatch := envPattern.FindStringSubmatch(match)
		key := submatch[1]
		hasDefault := submatch[2] != ""
		defVal := submatch[3]

		if val, ok := os.LookupEnv(key); ok {
			return val
		}
		if hasDefault {
			return defVal
		}
		// 保留原样以便识别未定义的变量
		return match
	})
}

// MustLoad 加载配置，失败时 panic
func MustLoad(path string) *Config {
	cfg, err := Load(path)
	if err != nil {
		panic(fmt.Sprintf("failed to load config: %v", err))
	}
	return cfg
}

// Validate 校验摘要参数
func (c *Config) Validate() error {
	s := c.Summary
	switch {
	case s.GatherChapters < 1:
		return fmt.Errorf("summary.gather_chapters must be >= 1, got %d", s.GatherChapters)
	case s.MaxChapters < 1:
		return fmt.Errorf("summary.max_chapters must be >= 1, got %d", s.MaxChapters)
	case s.BigSummaryInterval < 1:
		return fmt.Errorf("summary.big_summary_interval must be >= 1, got %d", s.BigSummaryInterval)
	case s.Quota.PerMinute < 1:
		return fmt.Errorf("summary.quota.per_minute must be >= 1, got %d", s.Quota.PerMinute)
	case s.Quota.MaxAttempts < 1:
		return fmt.Errorf("summary.quota.max_attempts must be >= 1, got %d", s.Quota.MaxAttempts)
	}
	if _, ok := c.LLM.Providers[c.LLM.DefaultProvider]; !ok {
		return fmt.Errorf("llm.default_provider %q has no provider config", c.LLM.DefaultProvider)
	}
	return nil
}

// setDefaults 设置配置默认值
func setDefaults(v *viper.Viper) {
	// 应用默认值
	v.SetDefault("app.name", "story-summary-ai")
	v.SetDefault("app.version", "v0.0.0")
	v.SetDefault("app.env", "development")

	// LLM 默认值，Gemini 走 OpenAI 兼容端点
	v.SetDefault("llm.default_provider", "gemini")
	v.SetDefault("llm.providers.gemini.api_key", os.Getenv("GEMINI_API_KEY"))
	v.SetDefault("llm.providers.gemini.base_url", "https://generativelanguage.googleapis.com/v1beta/openai/")
	v.SetDefault("llm.providers.gemini.model", "gemini-2.0-flash")
	v.SetDefault("llm.providers.gemini.temperature", 0.3)
	v.SetDefault("llm.providers.gemini.timeout", "120s")

	// 摘要流水线默认值
	v.SetDefault("summary.story_root", "story")
	v.SetDefault("summary.output_dir", "summary")
	v.SetDefault("summary.language", "Vietnamese")
	v.SetDefault("summary.gather_chapters", 2)
	v.SetDefault("summary.max_chapters", 1000)
	v.SetDefault("summary.big_summary_interval", 100)
	v.SetDefault("summary.time_per_chapter", "20s")
	v.SetDefault("summary.run_timeout", "0s")
	v.SetDefault("summary.quota.per_minute", 15)
	v.SetDefault("summary.quota.daily_limit", 1500)
	v.SetDefault("summary.quota.max_attempts", 5)

	// Redis 默认值
	v.SetDefault("cache.redis.enabled", false)
	v.SetDefault("cache.redis.host", "localhost")
	v.SetDefault("cache.redis.port", 6379)
	v.SetDefault("cache.redis.db", 0)
	v.SetDefault("cache.redis.pool_size", 10)
	v.SetDefault("cache.redis.min_idle_conns", 2)
	v.SetDefault("cache.redis.dial_timeout", "5s")
	v.SetDefault("cache.redis.read_timeout", "3s")
	v.SetDefault("cache.redis.write_timeout", "3s")
	v.SetDefault("cache.redis.checkpoint_ttl", "168h")
	v.SetDefault("cache.redis.result_ttl", "720h")

	// Redis Stream 默认值
	v.SetDefault("messaging.redis_stream.enabled", false)
	v.SetDefault("messaging.redis_stream.max_len", 10000)
	v.SetDefault("messaging.redis_stream.consumer_group_prefix", "story-summary-")
	v.SetDefault("messaging.redis_stream.block_timeout", "5s")
	v.SetDefault("messaging.redis_stream.claim_interval", "30s")
	v.SetDefault("messaging.redis_stream.retry_limit", 3)
	v.SetDefault("messaging.redis_stream.retry_backoff.initial", "10s")
	v.SetDefault("messaging.redis_stream.retry_backoff.max", "10m")
	v.SetDefault("messaging.redis_stream.retry_backoff.multiplier", 2.0)

	// 可观测性默认值
	v.SetDefault("observability.logging.level", "info")
	v.SetDefault("observability.logging.format", "text")
	v.SetDefault("observability.tracing.enabled", false)
	v.SetDefault("observability.tracing.endpoint", "localhost:4317")
	v.SetDefault("observability.tracing.sample_rate", 1.0)
	v.SetDefault("observability.metrics.enabled", false)
	v.SetDefault("observability.metrics.port", 9464)
	v.SetDefault("observability.metrics.path", "/metrics")
}
