// Package config provides application configuration.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all application configuration.
type Config struct {
	Port        string
	DBPath      string
	PublicURL   string
	SessionTTL  time.Duration
	RateLimit   RateLimitConfig
	WhatsApp    WhatsAppConfig
	NLUProvider NLUProviderConfig
	Marketplace MarketplaceConfig
	Payment     PaymentConfig
	Mailer      MailerConfig
}

// WhatsAppConfig holds WhatsApp Cloud API credentials.
type WhatsAppConfig struct {
	APIURL        string
	PhoneNumberID string
	AccessToken   string
	VerifyToken   string
	SendTimeout   time.Duration
}

// NLUProviderConfig configures the optional primary intent provider.
// An empty URL disables the provider; the deterministic matcher then
// serves every request.
type NLUProviderConfig struct {
	URL     string
	Timeout time.Duration
}

// MarketplaceConfig configures the marketplace backend client.
type MarketplaceConfig struct {
	BaseURL string
	APIKey  string
	Timeout time.Duration
}

// PaymentConfig holds payment provider secrets.
type PaymentConfig struct {
	FlutterwaveSecretKey  string
	FlutterwaveSecretHash string
	PaystackSecretKey     string
	Timeout               time.Duration
}

// MailerConfig configures the transactional email sender.
type MailerConfig struct {
	APIURL      string
	APIKey      string
	SenderName  string
	SenderEmail string
	Timeout     time.Duration
}

// RateLimitConfig bounds inbound message throughput per sender.
type RateLimitConfig struct {
	PerMinute int
	Burst     int
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	cfg := &Config{
		Port:       getEnv("PORT", "8080"),
		DBPath:     getEnv("DB_PATH", "./data/bot.db"),
		PublicURL:  getEnv("PUBLIC_URL", ""),
		SessionTTL: getEnvDuration("SESSION_TTL", 72*time.Hour),
		RateLimit: RateLimitConfig{
			PerMinute: getEnvInt("RATE_LIMIT_PER_MINUTE", 20),
			Burst:     getEnvInt("RATE_LIMIT_BURST", 5),
		},
		WhatsApp: WhatsAppConfig{
			APIURL:        getEnv("WHATSAPP_API_URL", "https://graph.facebook.com/v19.0"),
			PhoneNumberID: getEnv("WHATSAPP_PHONE_NUMBER_ID", ""),
			AccessToken:   getEnv("WHATSAPP_ACCESS_TOKEN", ""),
			VerifyToken:   getEnv("WHATSAPP_VERIFY_TOKEN", ""),
			SendTimeout:   getEnvDuration("WHATSAPP_SEND_TIMEOUT", 10*time.Second),
		},
		NLUProvider: NLUProviderConfig{
			URL:     getEnv("NLU_PROVIDER_URL", ""),
			Timeout: getEnvDuration("NLU_PROVIDER_TIMEOUT", 3*time.Second),
		},
		Marketplace: MarketplaceConfig{
			BaseURL: getEnv("MARKETPLACE_API_URL", "https://api.drugsng.com"),
			APIKey:  getEnv("MARKETPLACE_API_KEY", ""),
			Timeout: getEnvDuration("MARKETPLACE_TIMEOUT", 10*time.Second),
		},
		Payment: PaymentConfig{
			FlutterwaveSecretKey:  getEnv("FLUTTERWAVE_SECRET_KEY", ""),
			FlutterwaveSecretHash: getEnv("FLUTTERWAVE_SECRET_HASH", ""),
			PaystackSecretKey:     getEnv("PAYSTACK_SECRET_KEY", ""),
			Timeout:               getEnvDuration("PAYMENT_TIMEOUT", 10*time.Second),
		},
		Mailer: MailerConfig{
			APIURL:      getEnv("BREVO_API_URL", "https://api.brevo.com/v3"),
			APIKey:      getEnv("BREVO_API_KEY", ""),
			SenderName:  getEnv("MAIL_SENDER_NAME", "Drugs.ng"),
			SenderEmail: getEnv("MAIL_SENDER_EMAIL", "no-reply@drugs.ng"),
			Timeout:     getEnvDuration("MAILER_TIMEOUT", 10*time.Second),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Validate checks that all required configuration fields are set.
func (c *Config) Validate() error {
	if c.Port == "" {
		return fmt.Errorf("PORT cannot be empty")
	}
	if c.DBPath == "" {
		return fmt.Errorf("DB_PATH cannot be empty")
	}
	if c.SessionTTL <= 0 {
		return fmt.Errorf("SESSION_TTL must be > 0")
	}
	if c.RateLimit.PerMinute <= 0 {
		return fmt.Errorf("RATE_LIMIT_PER_MINUTE must be > 0")
	}
	if c.NLUProvider.URL != "" && c.NLUProvider.Timeout <= 0 {
		return fmt.Errorf("NLU_PROVIDER_TIMEOUT must be > 0")
	}
	return nil
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool {
	return c.PublicURL == "" ||
		strings.Contains(c.PublicURL, "localhost") ||
		strings.Contains(c.PublicURL, "127.0.0.1")
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	n, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return n
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	d, err := time.ParseDuration(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return d
}
