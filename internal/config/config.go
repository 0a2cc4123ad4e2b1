package config

import (
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
)

type Config struct {
	DBHost     string
	DBUser     string
	DBPassword string
	DBName     string
	DBPort     string
	AppPort    string
	AppEnv     string
	JWTSecret  string

	RedisAddr     string
	RedisPassword string
	RedisDB       int

	KafkaBrokers      []string
	KafkaPaymentTopic string

	TracingEnabled bool

	// PublicBaseURL is the externally reachable origin used to build gateway callback URLs.
	PublicBaseURL      string
	PaymentRedirectURL string

	Payment PaymentConfig

	BankRedirect BankRedirectConfig
	QRBank       QRBankConfig
	WalletA      WalletAConfig
	WalletB      WalletBConfig
}

type PaymentConfig struct {
	GatewayTimeout time.Duration
	// PaidTolerance is the largest residual balance still treated as fully paid.
	PaidTolerance        decimal.Decimal
	RejectAmountMismatch bool
	PollInterval         time.Duration
	PollMinAge           time.Duration
	PollBatchSize        int
	// AllowInsecureSignatures enables digest-only signing when no key material is configured.
	// Always false when AppEnv is production.
	AllowInsecureSignatures bool
	Sandbox                 bool
}

type BankRedirectConfig struct {
	MerchantID         string
	TerminalID         string
	PrivateKeyPath     string
	PrivateKeyPassword string
	BankPublicKeyPath  string
	BaseURL            string
}

type QRBankConfig struct {
	MerchantID string
	SecretKey  string
	BaseURL    string
}

type WalletAConfig struct {
	ClientID      string
	ClientSecret  string
	SigningKey    string
	WebhookSecret string
	BaseURL       string
}

type WalletBConfig struct {
	MerchantID string
	SecretKey  string
	BaseURL    string
}

func LoadConfig() *Config {
	_ = godotenv.Load()

	cfg := &Config{
		DBHost:     os.Getenv("DB_HOST"),
		DBUser:     os.Getenv("DB_USER"),
		DBPassword: os.Getenv("DB_PASSWORD"),
		DBName:     os.Getenv("DB_NAME"),
		DBPort:     os.Getenv("DB_PORT"),
		AppPort:    getEnv("APP_PORT", "8080"),
		AppEnv:     os.Getenv("APP_ENV"),
		JWTSecret:  os.Getenv("JWT_SECRET"),

		RedisAddr:     os.Getenv("REDIS_ADDR"),
		RedisPassword: os.Getenv("REDIS_PASSWORD"),
		RedisDB:       getIntEnv("REDIS_DB", 0),

		KafkaBrokers:      splitList(os.Getenv("KAFKA_BROKERS")),
		KafkaPaymentTopic: getEnv("KAFKA_PAYMENT_TOPIC", "online-payments"),

		TracingEnabled: getBoolEnv("TRACING_ENABLED", false),

		PublicBaseURL:      strings.TrimRight(os.Getenv("PUBLIC_BASE_URL"), "/"),
		PaymentRedirectURL: os.Getenv("PAYMENT_REDIRECT_URL"),

		Payment: PaymentConfig{
			GatewayTimeout:          getDurationEnv("GATEWAY_TIMEOUT", 30*time.Second),
			PaidTolerance:           getDecimalEnv("PAID_TOLERANCE", decimal.RequireFromString("0.01")),
			RejectAmountMismatch:    getBoolEnv("REJECT_AMOUNT_MISMATCH", true),
			PollInterval:            getDurationEnv("STATUS_POLL_INTERVAL", 5*time.Minute),
			PollMinAge:              getDurationEnv("STATUS_POLL_AGE", 10*time.Minute),
			PollBatchSize:           getIntEnv("STATUS_POLL_BATCH", 50),
			AllowInsecureSignatures: getBoolEnv("ALLOW_INSECURE_SIGNATURES", false),
			Sandbox:                 getBoolEnv("GATEWAY_SANDBOX", true),
		},

		BankRedirect: BankRedirectConfig{
			MerchantID:         os.Getenv("BANKREDIRECT_MERCHANT_ID"),
			TerminalID:         os.Getenv("BANKREDIRECT_TERMINAL_ID"),
			PrivateKeyPath:     os.Getenv("BANKREDIRECT_PRIVATE_KEY_PATH"),
			PrivateKeyPassword: os.Getenv("BANKREDIRECT_PRIVATE_KEY_PASSWORD"),
			BankPublicKeyPath:  os.Getenv("BANKREDIRECT_BANK_PUBLIC_KEY_PATH"),
			BaseURL:            os.Getenv("BANKREDIRECT_BASE_URL"),
		},
		QRBank: QRBankConfig{
			MerchantID: os.Getenv("QRBANK_MERCHANT_ID"),
			SecretKey:  os.Getenv("QRBANK_SECRET_KEY"),
			BaseURL:    os.Getenv("QRBANK_BASE_URL"),
		},
		WalletA: WalletAConfig{
			ClientID:      os.Getenv("WALLETA_CLIENT_ID"),
			ClientSecret:  os.Getenv("WALLETA_CLIENT_SECRET"),
			SigningKey:    os.Getenv("WALLETA_SIGNING_KEY"),
			WebhookSecret: os.Getenv("WALLETA_WEBHOOK_SECRET"),
			BaseURL:       os.Getenv("WALLETA_BASE_URL"),
		},
		WalletB: WalletBConfig{
			MerchantID: os.Getenv("WALLETB_MERCHANT_ID"),
			SecretKey:  os.Getenv("WALLETB_SECRET_KEY"),
			BaseURL:    os.Getenv("WALLETB_BASE_URL"),
		},
	}

	if cfg.IsProduction() {
		cfg.Payment.AllowInsecureSignatures = false
		cfg.Payment.Sandbox = false
	}

	if cfg.DBHost == "" {
		log.Fatal("Environment variables not loaded properly")
	}

	return cfg
}

func (c *Config) IsProduction() bool {
	return c.AppEnv == "production"
}

// CallbackURL returns the public webhook URL for a gateway kind.
func (c *Config) CallbackURL(gateway string) string {
	return c.PublicBaseURL + "/payments/online/callback/" + gateway
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getIntEnv(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getBoolEnv(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return defaultValue
}

func getDurationEnv(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

func getDecimalEnv(key string, defaultValue decimal.Decimal) decimal.Decimal {
	if value := os.Getenv(key); value != "" {
		if d, err := decimal.NewFromString(value); err == nil && !d.IsNegative() {
			return d
		}
	}
	return defaultValue
}

func splitList(raw string) []string {
	if raw == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
