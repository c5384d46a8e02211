package config

import (
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Environment string
	ServerAddr  string
	LogLevel    string

	DBHost     string
	DBPort     string
	DBUser     string
	DBPassword string
	DBName     string
	DBSSLMode  string

	RazorpayKeyID         string
	RazorpayKeySecret     string
	RazorpayWebhookSecret string

	SMTPHost  string
	SMTPPort  string
	SMTPUser  string
	SMTPPass  string
	EmailFrom string

	// Kafka (comma-separated brokers, empty disables publishing)
	KafkaBrokers       string
	KafkaPaymentsTopic string
	KafkaEmailTopic    string
	KafkaConsumerGroup string

	// Redis backs the batch job lock; empty disables it
	RedisAddr     string
	RedisPassword string
	RedisDB       int

	JWTSecret      string
	JaegerEndpoint string

	DefaultCommissionRate string
	CommissionTimeout     time.Duration
	ProcessorTimeout      time.Duration
	NotificationTimeout   time.Duration
	ReminderRatePerSecond float64
	ReminderInterval      time.Duration
	JobLockTTL            time.Duration
	ReceiptDir            string

	ApprovalPolicyFile string
	ApprovalPolicy     ApprovalPolicy
}

// LoadConfig reads .env (first match wins) and the process environment.
func LoadConfig() Config {
	envLocations := []string{
		".env",              // project root
		"config/.env",       // config subdirectory
		"../config/.env",    // one level up
		"../../config/.env", // two levels up
	}

	envLoaded := false
	for _, location := range envLocations {
		if err := godotenv.Load(location); err == nil {
			envLoaded = true
			break
		}
	}

	if !envLoaded {
		log.Println("No .env file found, using environment variables")
	}

	cfg := Config{
		Environment: getEnvWithDefault("APP_ENV", "development"),
		ServerAddr:  getEnvWithDefault("SERVER_ADDR", ":8080"),
		LogLevel:    getEnvWithDefault("LOG_LEVEL", "INFO"),

		DBHost:     getEnvWithDefault("DB_HOST", "localhost"),
		DBPort:     getEnvWithDefault("DB_PORT", "5432"),
		DBUser:     getEnvWithDefault("DB_USER", "postgres"),
		DBPassword: os.Getenv("DB_PASSWORD"),
		DBName:     getEnvWithDefault("DB_NAME", "marketplace"),
		DBSSLMode:  getEnvWithDefault("DB_SSLMODE", "disable"),

		RazorpayKeyID:         os.Getenv("RAZORPAY_KEY_ID"),
		RazorpayKeySecret:     os.Getenv("RAZORPAY_KEY_SECRET"),
		RazorpayWebhookSecret: os.Getenv("RAZORPAY_WEBHOOK_SECRET"),

		SMTPHost:  getEnvWithDefault("SMTP_HOST", "smtp.gmail.com"),
		SMTPPort:  getEnvWithDefault("SMTP_PORT", "587"),
		SMTPUser:  os.Getenv("SMTP_USER"),
		SMTPPass:  os.Getenv("SMTP_PASS"),
		EmailFrom: os.Getenv("EMAIL_FROM"),

		KafkaBrokers:       os.Getenv("KAFKA_BROKERS"),
		KafkaPaymentsTopic: getEnvWithDefault("KAFKA_PAYMENTS_TOPIC", "payments"),
		KafkaEmailTopic:    getEnvWithDefault("KAFKA_EMAIL_TOPIC", "emails"),
		KafkaConsumerGroup: getEnvWithDefault("KAFKA_CONSUMER_GROUP", "settlement-email-consumer"),

		RedisAddr:     os.Getenv("REDIS_ADDR"),
		RedisPassword: os.Getenv("REDIS_PASSWORD"),
		RedisDB:       getIntEnv("REDIS_DB", 0),

		JWTSecret:      os.Getenv("JWT_SECRET"),
		JaegerEndpoint: os.Getenv("JAEGER_ENDPOINT"),

		DefaultCommissionRate: getEnvWithDefault("COMMISSION_DEFAULT_RATE", "20"),
		CommissionTimeout:     getDurationEnv("COMMISSION_TIMEOUT", 3*time.Second),
		ProcessorTimeout:      getDurationEnv("PROCESSOR_TIMEOUT", 10*time.Second),
		NotificationTimeout:   getDurationEnv("NOTIFICATION_TIMEOUT", 5*time.Second),
		ReminderRatePerSecond: getFloatEnv("REMINDER_RATE_PER_SECOND", 5),
		ReminderInterval:      getDurationEnv("REMINDER_INTERVAL", 24*time.Hour),
		JobLockTTL:            getDurationEnv("JOB_LOCK_TTL", 10*time.Minute),
		ReceiptDir:            getEnvWithDefault("RECEIPT_DIR", os.TempDir()),

		ApprovalPolicyFile: os.Getenv("APPROVAL_POLICY_FILE"),
	}

	policy, err := LoadApprovalPolicy(cfg.ApprovalPolicyFile)
	if err != nil {
		log.Printf("Approval policy not loaded (%v), falling back to admin-only approval", err)
	}
	cfg.ApprovalPolicy = policy.WithEnvOverrides()

	return cfg
}

// DBConnString returns the lib/pq key=value connection string.
func (c Config) DBConnString() string {
	parts := []string{
		"host=" + c.DBHost,
		"port=" + c.DBPort,
		"user=" + c.DBUser,
		"dbname=" + c.DBName,
		"sslmode=" + c.DBSSLMode,
	}
	if c.DBPassword != "" {
		parts = append(parts, "password="+c.DBPassword)
	}
	return strings.Join(parts, " ")
}

// Brokers splits KafkaBrokers, dropping blanks.
func (c Config) Brokers() []string {
	var brokers []string
	for _, b := range strings.Split(c.KafkaBrokers, ",") {
		if b = strings.TrimSpace(b); b != "" {
			brokers = append(brokers, b)
		}
	}
	return brokers
}

func (c Config) IsProduction() bool {
	return strings.EqualFold(c.Environment, "production")
}

func getEnvWithDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getIntEnv(key string, defaultValue int) int {
	if v, err := strconv.Atoi(os.Getenv(key)); err == nil {
		return v
	}
	return defaultValue
}

func getFloatEnv(key string, defaultValue float64) float64 {
	if v, err := strconv.ParseFloat(os.Getenv(key), 64); err == nil {
		return v
	}
	return defaultValue
}

func getDurationEnv(key string, defaultValue time.Duration) time.Duration {
	if v, err := time.ParseDuration(os.Getenv(key)); err == nil {
		return v
	}
	return defaultValue
}

func getBoolEnv(key string) (bool, bool) {
	v, err := strconv.ParseBool(os.Getenv(key))
	return v, err == nil
}
