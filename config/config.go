package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
	"github.com/yourusername/gpay-checkout/models"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

type Config struct {
	Port        string
	Env         string
	LogLevel    string
	CORSOrigins []string

	DatabaseURL string

	RedisAddr     string
	RedisPassword string
	RedisDB       int

	KafkaBrokers []string
	AuditTopic   string

	JWTSecret        string
	JWTRefreshSecret string

	GatewayTimeout    time.Duration
	CheckoutLockTTL   time.Duration
	WebhookReplayTTL  time.Duration
	WebhookRateLimit  int
	WebhookRateWindow time.Duration

	Card CardGatewayConfig
	EFT  EFTGatewayConfig
}

type CardGatewayConfig struct {
	APIURL        string
	SecretKey     string
	WebhookSecret string
}

type EFTGatewayConfig struct {
	MerchantID  string
	MerchantKey string
	Passphrase  string
	ProcessURL  string
	APIURL      string
	ReturnURL   string
	CancelURL   string
	NotifyURL   string
	Currency    string
}

func LoadConfig() (*Config, error) {
	godotenv.Load()

	v := viper.New()
	v.AutomaticEnv()
	setDefaults(v)

	if path := v.GetString("CONFIG_FILE"); path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
	}

	cfg := &Config{
		Port:        v.GetString("PORT"),
		Env:         v.GetString("ENV"),
		LogLevel:    v.GetString("LOG_LEVEL"),
		CORSOrigins: splitList(v.GetString("CORS_ALLOW_ORIGINS")),

		DatabaseURL: v.GetString("DATABASE_URL"),

		RedisAddr:     v.GetString("REDIS_ADDR"),
		RedisPassword: v.GetString("REDIS_PASSWORD"),
		RedisDB:       v.GetInt("REDIS_DB"),

		KafkaBrokers: splitList(v.GetString("KAFKA_BROKERS")),
		AuditTopic:   v.GetString("AUDIT_TOPIC"),

		JWTSecret:        v.GetString("JWT_SECRET"),
		JWTRefreshSecret: v.GetString("JWT_REFRESH_SECRET"),

		GatewayTimeout:    v.GetDuration("GATEWAY_TIMEOUT"),
		CheckoutLockTTL:   v.GetDuration("CHECKOUT_LOCK_TTL"),
		WebhookReplayTTL:  v.GetDuration("WEBHOOK_REPLAY_TTL"),
		WebhookRateLimit:  v.GetInt("WEBHOOK_RATE_LIMIT"),
		WebhookRateWindow: v.GetDuration("WEBHOOK_RATE_WINDOW"),

		Card: CardGatewayConfig{
			APIURL:        v.GetString("CARD_API_URL"),
			SecretKey:     v.GetString("CARD_SECRET_KEY"),
			WebhookSecret: v.GetString("CARD_WEBHOOK_SECRET"),
		},
		EFT: EFTGatewayConfig{
			MerchantID:  v.GetString("EFT_MERCHANT_ID"),
			MerchantKey: v.GetString("EFT_MERCHANT_KEY"),
			Passphrase:  v.GetString("EFT_PASSPHRASE"),
			ProcessURL:  v.GetString("EFT_PROCESS_URL"),
			APIURL:      v.GetString("EFT_API_URL"),
			ReturnURL:   v.GetString("EFT_RETURN_URL"),
			CancelURL:   v.GetString("EFT_CANCEL_URL"),
			NotifyURL:   v.GetString("EFT_NOTIFY_URL"),
			Currency:    v.GetString("EFT_CURRENCY"),
		},
	}

	if cfg.GatewayTimeout <= 0 {
		return nil, fmt.Errorf("GATEWAY_TIMEOUT must be positive, got %s", cfg.GatewayTimeout)
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("PORT", "8080")
	v.SetDefault("ENV", "development")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("CORS_ALLOW_ORIGINS", "http://localhost:3000")
	v.SetDefault("REDIS_DB", 0)
	v.SetDefault("AUDIT_TOPIC", "payments.audit")
	v.SetDefault("GATEWAY_TIMEOUT", "10s")
	v.SetDefault("CHECKOUT_LOCK_TTL", "30s")
	v.SetDefault("WEBHOOK_REPLAY_TTL", "10m")
	v.SetDefault("WEBHOOK_RATE_LIMIT", 120)
	v.SetDefault("WEBHOOK_RATE_WINDOW", "1m")
	v.SetDefault("CARD_API_URL", "https://api.cardgateway.example/v1")
	v.SetDefault("EFT_PROCESS_URL", "https://sandbox.payfast.co.za/eng/process")
	v.SetDefault("EFT_API_URL", "https://api.payfast.co.za")
	v.SetDefault("EFT_CURRENCY", "ZAR")
}

func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// NewLogger builds the process logger. Production uses the JSON encoder.
func NewLogger(cfg *Config) (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(cfg.LogLevel)
	if err != nil {
		return nil, fmt.Errorf("invalid LOG_LEVEL %q: %w", cfg.LogLevel, err)
	}

	zc := zap.NewDevelopmentConfig()
	if cfg.IsProduction() {
		zc = zap.NewProductionConfig()
	}
	zc.Level = zap.NewAtomicLevelAt(level)

	logger, err := zc.Build()
	if err != nil {
		return nil, fmt.Errorf("failed to build logger: %w", err)
	}
	return logger.With(zap.String("service", "gpay-checkout")), nil
}

func InitDB(cfg *Config) (*gorm.DB, error) {
	db, err := gorm.Open(postgres.Open(cfg.DatabaseURL), &gorm.Config{TranslateError: true})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if err := Migrate(db); err != nil {
		return nil, err
	}

	return db, nil
}

// Migrate creates or updates every table the payment core owns or touches.
func Migrate(db *gorm.DB) error {
	err := db.AutoMigrate(
		&models.User{},
		&models.Order{},
		&models.Invoice{},
		&models.InvoicePayment{},
		&models.Transaction{},
		&models.Refund{},
		&models.WebhookEvent{},
		&models.AuditEvent{},
	)
	if err != nil {
		return fmt.Errorf("failed to migrate database: %w", err)
	}
	return nil
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
