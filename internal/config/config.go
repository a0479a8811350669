package config

import (
	"errors"
	"fmt"
	"os"
	"regexp"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
	"github.com/spf13/viper"

	"github.com/kjannette/trahn-botengine/internal/logger"
)

type Config struct {
	// Secrets (from .env)
	APIKey          string
	WebhookURL      string
	BotName         string
	CORSAllowOrigin string
	HTTPAddr        string

	// Storage
	Storage     string // postgres | memory
	DatabaseURL string
	DBHost      string
	DBPort      int
	DBName      string
	DBUser      string
	DBPassword  string

	// Market data
	RedisAddr      string
	RedisPassword  string
	RedisDB        int
	SnapshotMaxAge time.Duration

	// Events
	KafkaBrokers  []string
	DecisionTopic string

	// Orders
	OrderGatewayURL      string
	OrderGatewayAPIKey   string
	PaperSlippagePercent float64
	PaperFeePercent      float64

	// Risk
	RequireStopLoss         bool
	MaxOrderAmount          float64
	SafeModeCooldownMinutes int
	SafeModeMaxDailyTrades  int
	DayCutoffHourUTC        int

	// Timing
	TickInterval time.Duration
	TickTimeout  time.Duration

	Log logger.Config
}

func defaults(v *viper.Viper) {
	v.SetDefault("bot_name", "TrahnBotEngine")
	v.SetDefault("cors_allow_origin", "*")
	v.SetDefault("http_addr", ":3001")

	v.SetDefault("storage", "postgres")
	v.SetDefault("db_host", "localhost")
	v.SetDefault("db_port", 5432)
	v.SetDefault("db_name", "trahn_botengine")
	v.SetDefault("db_user", "postgres")

	v.SetDefault("redis_addr", "localhost:6379")
	v.SetDefault("redis_db", 0)
	v.SetDefault("snapshot_max_age", "2m")

	v.SetDefault("kafka_brokers", "")
	v.SetDefault("decision_topic", "bot.decisions")

	v.SetDefault("paper_slippage_percent", 0.1)
	v.SetDefault("paper_fee_percent", 0.1)

	v.SetDefault("require_stop_loss", false)
	v.SetDefault("max_order_amount", 0)
	v.SetDefault("safe_mode_cooldown_minutes", 30)
	v.SetDefault("safe_mode_max_daily_trades", 5)
	v.SetDefault("day_cutoff_hour_utc", 0)

	v.SetDefault("tick_interval", "30s")
	v.SetDefault("tick_timeout", "10s")

	v.SetDefault("log_level", "info")
	v.SetDefault("log_format", "text")
	v.SetDefault("log_file", "stdout")
	v.SetDefault("log_max_size_mb", 100)
	v.SetDefault("log_max_backups", 5)
	v.SetDefault("log_max_age_days", 30)
	v.SetDefault("log_compress", true)
}

// Load layers defaults, configs/config.yaml (optional), .env and the process environment,
// later sources winning. Keys are the lower-cased env names, e.g. tick_interval / TICK_INTERVAL.
func Load() (*Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	defaults(v)
	v.AddConfigPath("configs")
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config file: %w", err)
		}
	}
	v.AutomaticEnv()

	return fromViper(v)
}

func fromViper(v *viper.Viper) (*Config, error) {
	cfg := &Config{
		APIKey:          envSub(v, "api_key"),
		WebhookURL:      envSub(v, "webhook_url"),
		BotName:         v.GetString("bot_name"),
		CORSAllowOrigin: v.GetString("cors_allow_origin"),
		HTTPAddr:        v.GetString("http_addr"),

		Storage:     strings.ToLower(v.GetString("storage")),
		DatabaseURL: envSub(v, "database_url"),
		DBHost:      v.GetString("db_host"),
		DBPort:      v.GetInt("db_port"),
		DBName:      v.GetString("db_name"),
		DBUser:      v.GetString("db_user"),
		DBPassword:  envSub(v, "db_password"),

		RedisAddr:     v.GetString("redis_addr"),
		RedisPassword: envSub(v, "redis_password"),
		RedisDB:       v.GetInt("redis_db"),

		KafkaBrokers:  splitList(v.GetString("kafka_brokers")),
		DecisionTopic: v.GetString("decision_topic"),

		OrderGatewayURL:      v.GetString("order_gateway_url"),
		OrderGatewayAPIKey:   envSub(v, "order_gateway_api_key"),
		PaperSlippagePercent: v.GetFloat64("paper_slippage_percent"),
		PaperFeePercent:      v.GetFloat64("paper_fee_percent"),

		RequireStopLoss:         v.GetBool("require_stop_loss"),
		MaxOrderAmount:          v.GetFloat64("max_order_amount"),
		SafeModeCooldownMinutes: v.GetInt("safe_mode_cooldown_minutes"),
		SafeModeMaxDailyTrades:  v.GetInt("safe_mode_max_daily_trades"),
		DayCutoffHourUTC:        v.GetInt("day_cutoff_hour_utc"),

		Log: logger.Config{
			Level:      v.GetString("log_level"),
			Format:     v.GetString("log_format"),
			Output:     v.GetString("log_file"),
			MaxSize:    v.GetInt("log_max_size_mb"),
			MaxBackups: v.GetInt("log_max_backups"),
			MaxAge:     v.GetInt("log_max_age_days"),
			Compress:   v.GetBool("log_compress"),
		},
	}

	var err error
	if cfg.SnapshotMaxAge, err = duration(v, "snapshot_max_age"); err != nil {
		return nil, err
	}
	if cfg.TickInterval, err = duration(v, "tick_interval"); err != nil {
		return nil, err
	}
	if cfg.TickTimeout, err = duration(v, "tick_timeout"); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate returns every hard error at once and logs soft warnings.
func (c *Config) Validate(log *logrus.Entry) error {
	var errs []error

	switch c.Storage {
	case "postgres", "memory":
	default:
		errs = append(errs, fmt.Errorf("STORAGE must be postgres or memory, got %q", c.Storage))
	}
	if c.TickInterval <= 0 {
		errs = append(errs, errors.New("TICK_INTERVAL must be positive"))
	}
	if c.TickTimeout <= 0 || c.TickTimeout > c.TickInterval {
		errs = append(errs, errors.New("TICK_TIMEOUT must be positive and no longer than TICK_INTERVAL"))
	}
	if c.DayCutoffHourUTC < 0 || c.DayCutoffHourUTC > 23 {
		errs = append(errs, errors.New("DAY_CUTOFF_HOUR_UTC must be in 0..23"))
	}
	if c.PaperSlippagePercent < 0 || c.PaperFeePercent < 0 {
		errs = append(errs, errors.New("paper slippage and fee percentages must not be negative"))
	}
	if c.MaxOrderAmount < 0 {
		errs = append(errs, errors.New("MAX_ORDER_AMOUNT must not be negative"))
	}

	if c.APIKey == "" {
		log.Warn("API_KEY not set, REST API has no authentication")
	}
	if c.OrderGatewayURL == "" {
		log.Warn("ORDER_GATEWAY_URL not set, live-mode orders will fail")
	}
	if len(c.KafkaBrokers) == 0 {
		log.Warn("KAFKA_BROKERS not set, decision events are not published to Kafka")
	}
	if c.Storage == "memory" {
		log.Warn("STORAGE=memory, bots and decision log are lost on restart")
	}

	return errors.Join(errs...)
}

func (c *Config) Print(log *logrus.Entry) {
	log.WithFields(logrus.Fields{
		"bot_name":          c.BotName,
		"http_addr":         c.HTTPAddr,
		"storage":           c.Storage,
		"redis_addr":        c.RedisAddr,
		"kafka_brokers":     strings.Join(c.KafkaBrokers, ","),
		"decision_topic":    c.DecisionTopic,
		"order_gateway":     boolLabel(c.OrderGatewayURL != "", "configured", "not set"),
		"tick_interval":     c.TickInterval.String(),
		"tick_timeout":      c.TickTimeout.String(),
		"snapshot_max_age":  c.SnapshotMaxAge.String(),
		"require_stop_loss": c.RequireStopLoss,
		"max_order_amount":  c.MaxOrderAmount,
		"day_cutoff_hour":   c.DayCutoffHourUTC,
		"paper_fee_pct":     c.PaperFeePercent,
		"paper_slip_pct":    c.PaperSlippagePercent,
	}).Info("configuration loaded")
}

func (c *Config) DSN() string {
	if c.DatabaseURL != "" {
		return c.DatabaseURL
	}
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=disable",
		c.DBUser, c.DBPassword, c.DBHost, c.DBPort, c.DBName)
}

// --- helpers ---

var envRef = regexp.MustCompile(`\$\{(\w+)\}`)

// envSub expands ${VAR} references so secrets in config.yaml can point at the environment.
func envSub(v *viper.Viper, key string) string {
	val := v.GetString(key)
	if val == "" {
		return ""
	}
	return envRef.ReplaceAllStringFunc(val, func(match string) string {
		return os.Getenv(strings.TrimSuffix(strings.TrimPrefix(match, "${"), "}"))
	})
}

func duration(v *viper.Viper, key string) (time.Duration, error) {
	raw := v.GetString(key)
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid duration %q", strings.ToUpper(key), raw)
	}
	return d, nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func boolLabel(cond bool, ifTrue, ifFalse string) string {
	if cond {
		return ifTrue
	}
	return ifFalse
}
