package config

import (
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Store     StoreConfig     `yaml:"store" mapstructure:"store"`
	Reddit    RedditConfig    `yaml:"reddit" mapstructure:"reddit"`
	Search    SearchConfig    `yaml:"search" mapstructure:"search"`
	Score     ScoreConfig     `yaml:"score" mapstructure:"score"`
	Filter    FilterConfig    `yaml:"filter" mapstructure:"filter"`
	Anthropic AnthropicConfig `yaml:"anthropic" mapstructure:"anthropic"`
	Analyze   AnalyzeConfig   `yaml:"analyze" mapstructure:"analyze"`
	Report    ReportConfig    `yaml:"report" mapstructure:"report"`
	Server    ServerConfig    `yaml:"server" mapstructure:"server"`
	Log       LogConfig       `yaml:"log" mapstructure:"log"`
}

// StoreConfig configures the database backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"` // "sqlite" or "postgres"
	Path        string `yaml:"path" mapstructure:"path"`     // sqlite file path
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
}

// RedditConfig holds Reddit API credentials and client behavior.
type RedditConfig struct {
	ClientID     string  `yaml:"client_id" mapstructure:"client_id"`
	ClientSecret string  `yaml:"client_secret" mapstructure:"client_secret"`
	UserAgent    string  `yaml:"user_agent" mapstructure:"user_agent"`
	RequestsPerS float64 `yaml:"requests_per_sec" mapstructure:"requests_per_sec"`
}

// SearchConfig configures the collect stage.
type SearchConfig struct {
	Subreddits         []string `yaml:"subreddits" mapstructure:"subreddits"`
	Keywords           []string `yaml:"keywords" mapstructure:"keywords"`
	PostsPerKeyword    int      `yaml:"posts_per_keyword" mapstructure:"posts_per_keyword"`
	SortMethod         string   `yaml:"sort_method" mapstructure:"sort_method"`
	TimeFilter         string   `yaml:"time_filter" mapstructure:"time_filter"`
	MaxCommentsPerPost int      `yaml:"max_comments_per_post" mapstructure:"max_comments_per_post"`
	MinPostScore       int      `yaml:"min_post_score" mapstructure:"min_post_score"`
	ExcludeNSFW        bool     `yaml:"exclude_nsfw" mapstructure:"exclude_nsfw"`
	ExcludeDeleted     bool     `yaml:"exclude_deleted" mapstructure:"exclude_deleted"`
}

// ScoreConfig is the externally supplied opportunity scoring policy.
type ScoreConfig struct {
	W1          float64 `yaml:"w1_score_velocity" mapstructure:"w1_score_velocity"`
	W2          float64 `yaml:"w2_comment_velocity" mapstructure:"w2_comment_velocity"`
	W3          float64 `yaml:"w3_comment_score" mapstructure:"w3_comment_score"`
	W4          float64 `yaml:"w4_comment_replies" mapstructure:"w4_comment_replies"`
	MinAgeHours float64 `yaml:"min_age_hours" mapstructure:"min_age_hours"`
	DepthDecay  string  `yaml:"depth_decay" mapstructure:"depth_decay"`
	DecayBase   float64 `yaml:"decay_base" mapstructure:"decay_base"`
}

// FilterConfig configures pending-set selection for the analyze stage.
type FilterConfig struct {
	// MinScore is an absolute opportunity score threshold.
	MinScore float64 `yaml:"min_score" mapstructure:"min_score"`
	// Percentile, when > 0, selects the top (100-Percentile)% per kind
	// instead of the absolute threshold.
	Percentile float64 `yaml:"percentile" mapstructure:"percentile"`
}

// AnthropicConfig holds Anthropic API settings.
type AnthropicConfig struct {
	Key       string `yaml:"key" mapstructure:"key"`
	Model     string `yaml:"model" mapstructure:"model"`
	MaxTokens int64  `yaml:"max_tokens" mapstructure:"max_tokens"`
}

// AnalyzeConfig configures the batch analysis coordinator.
type AnalyzeConfig struct {
	MaxBatchSize       int    `yaml:"max_batch_size" mapstructure:"max_batch_size"`
	InterBatchDelaySec int    `yaml:"inter_batch_delay_secs" mapstructure:"inter_batch_delay_secs"`
	MaxConcurrency     int    `yaml:"max_concurrency" mapstructure:"max_concurrency"`
	TaxonomyFile       string `yaml:"taxonomy_file" mapstructure:"taxonomy_file"`
}

// ReportConfig configures report generation.
type ReportConfig struct {
	OutputDir string `yaml:"output_dir" mapstructure:"output_dir"`
	Title     string `yaml:"title" mapstructure:"title"`
}

// ServerConfig configures the status API server.
type ServerConfig struct {
	Port int `yaml:"port" mapstructure:"port"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	v.SetEnvPrefix("OUTREACH")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.path", "outreach.db")
	v.SetDefault("reddit.user_agent", "outreach-cli/1.0")
	v.SetDefault("reddit.requests_per_sec", 1.0)
	v.SetDefault("search.posts_per_keyword", 25)
	v.SetDefault("search.sort_method", "top")
	v.SetDefault("search.time_filter", "week")
	v.SetDefault("search.max_comments_per_post", 10)
	v.SetDefault("search.exclude_nsfw", true)
	v.SetDefault("search.exclude_deleted", true)
	v.SetDefault("score.w1_score_velocity", 1.0)
	v.SetDefault("score.w2_comment_velocity", 1.5)
	v.SetDefault("score.w3_comment_score", 1.0)
	v.SetDefault("score.w4_comment_replies", 2.0)
	v.SetDefault("score.min_age_hours", 2.0)
	v.SetDefault("score.depth_decay", "reciprocal")
	v.SetDefault("filter.percentile", 95)
	v.SetDefault("anthropic.model", "claude-haiku-4-5-20251001")
	v.SetDefault("anthropic.max_tokens", 2048)
	v.SetDefault("analyze.max_batch_size", 5)
	v.SetDefault("analyze.inter_batch_delay_secs", 5)
	v.SetDefault("analyze.max_concurrency", 1)
	v.SetDefault("analyze.taxonomy_file", "taxonomy.yaml")
	v.SetDefault("report.output_dir", "reports")
	v.SetDefault("report.title", "Reddit Engagement Strategy Briefing")
	v.SetDefault("server.port", 8080)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	return &cfg, nil
}

// Validate checks everything the orchestrator needs before any stage runs.
// Failures here are fatal (ConfigurationError).
func (c *Config) Validate() error {
	switch c.Store.Driver {
	case "sqlite":
		if c.Store.Path == "" {
			return eris.New("config: store.path required for sqlite driver")
		}
	case "postgres":
		if c.Store.DatabaseURL == "" {
			return eris.New("config: store.database_url required for postgres driver")
		}
	default:
		return eris.Errorf("config: unknown store driver %q", c.Store.Driver)
	}

	if len(c.Search.Subreddits) == 0 {
		return eris.New("config: search.subreddits must not be empty")
	}
	if len(c.Search.Keywords) == 0 {
		return eris.New("config: search.keywords must not be empty")
	}
	if c.Score.MinAgeHours <= 0 {
		return eris.New("config: score.min_age_hours must be positive")
	}
	if c.Filter.Percentile < 0 || c.Filter.Percentile >= 100 {
		return eris.Errorf("config: filter.percentile %v outside [0, 100)", c.Filter.Percentile)
	}
	if c.Analyze.MaxBatchSize <= 0 {
		return eris.New("config: analyze.max_batch_size must be positive")
	}
	if c.Analyze.InterBatchDelaySec < 0 {
		return eris.New("config: analyze.inter_batch_delay_secs must not be negative")
	}
	return nil
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
