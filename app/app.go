// Package app builds the dependency graph shared by the API server and the
// operator CLI.
package app

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"time"

	"marketplace-settlement/config"
	"marketplace-settlement/db"
	apihttp "marketplace-settlement/http"
	"marketplace-settlement/http/handlers"
	"marketplace-settlement/logger"
	"marketplace-settlement/services"
	eventbus "marketplace-settlement/services/kafka"
	"marketplace-settlement/tracing"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
)

const serviceName = "marketplace-settlement"

type App struct {
	Config config.Config
	Log    *logger.Logger

	DB       *sql.DB
	Store    *db.Store
	Producer *eventbus.Producer
	DLQ      *eventbus.SQLDeadLetterStore

	Settlement *services.Executor
	Approvals  *services.ApprovalService
	Refunds    *services.RefundService
	Validator  *services.Validator
	Healer     *services.Healer
	Reminders  *services.ReminderScheduler
	Exporter   *services.ReportExporter
	Webhooks   *services.WebhookProcessor

	closers []func() error
}

// NewLogger builds the process logger from LOG_LEVEL and APP_ENV.
func NewLogger(cfg config.Config) *logger.Logger {
	log, err := logger.New(logger.Config{
		Level:        logger.ParseLevel(cfg.LogLevel),
		Development:  !cfg.IsProduction(),
		EnableCaller: true,
	})
	if err != nil {
		return logger.NewDefault()
	}
	return log
}

// New connects to Postgres and wires every service. Kafka, Redis, Razorpay
// and tracing are optional; each is skipped with a log line when it is not
// configured.
func New(ctx context.Context, cfg config.Config, log *logger.Logger) (*App, error) {
	a := &App{Config: cfg, Log: log}

	shutdownTracing, err := tracing.Init(serviceName, cfg.JaegerEndpoint)
	if err != nil {
		log.Warn("Tracing disabled: %v", err)
	} else {
		a.closers = append(a.closers, func() error {
			sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return shutdownTracing(sctx)
		})
	}

	conn, err := db.Open(ctx, cfg)
	if err != nil {
		a.Close()
		return nil, err
	}
	a.DB = conn
	a.closers = append(a.closers, conn.Close)
	a.Store = db.NewStore(conn, log)
	log.Info("Database connection established")

	a.DLQ = eventbus.NewSQLDeadLetterStore(conn, log)
	brokers := cfg.Brokers()
	eventbus.EnsureTopics(ctx, brokers, []string{cfg.KafkaPaymentsTopic, cfg.KafkaEmailTopic}, log)
	a.Producer = eventbus.NewProducer(brokers, a.DLQ, log)
	// closers run in reverse, so the producer flushes before the DLQ's db closes
	a.closers = append(a.closers, a.Producer.Close)

	defaultRate, err := decimal.NewFromString(cfg.DefaultCommissionRate)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("invalid COMMISSION_DEFAULT_RATE %q: %w", cfg.DefaultCommissionRate, err)
	}
	commission := services.NewTierCommissionResolver(defaultRate, cfg.CommissionTimeout, log)
	notifier := services.NewEmailNotifier(a.Producer, services.NewReceiptGenerator(cfg.ReceiptDir),
		cfg.KafkaEmailTopic, cfg.KafkaPaymentsTopic, log)

	a.Settlement = services.NewExecutor(a.Store, commission, notifier, log,
		services.WithNotifyTimeout(cfg.NotificationTimeout))
	a.Approvals = services.NewApprovalService(a.Store, a.Settlement, services.PolicyFromConfig(cfg.ApprovalPolicy), log)
	a.Webhooks = services.NewWebhookProcessor(cfg.RazorpayWebhookSecret, a.Store, a.Settlement, log)

	var gateway services.RefundGateway
	if g, err := services.NewRazorpayGateway(cfg.RazorpayKeyID, cfg.RazorpayKeySecret); err != nil {
		log.Warn("Refunds disabled: %v", err)
	} else {
		gateway = g
	}
	a.Refunds = services.NewRefundService(gateway, a.Store, a.Settlement, cfg.ProcessorTimeout, log)

	lock := a.jobLock(ctx)
	a.Validator = services.NewValidator(a.Store, log)
	a.Healer = services.NewHealer(a.Validator, a.Store, lock, cfg.JobLockTTL, log)
	a.Reminders = services.NewReminderScheduler(a.Store, notifier, lock, cfg.JobLockTTL, cfg.ReminderRatePerSecond, log)
	a.Exporter = services.NewReportExporter(a.Store)

	return a, nil
}

func (a *App) jobLock(ctx context.Context) services.JobLock {
	if a.Config.RedisAddr == "" {
		a.Log.Info("Redis is disabled (REDIS_ADDR is empty), batch jobs run without a lock")
		return services.NoopJobLock{}
	}
	client := redis.NewClient(&redis.Options{
		Addr:     a.Config.RedisAddr,
		Password: a.Config.RedisPassword,
		DB:       a.Config.RedisDB,
	})
	a.closers = append(a.closers, client.Close)

	pctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := client.Ping(pctx).Err(); err != nil {
		// keep the lock: jobs will fail fast instead of running unguarded
		a.Log.Warn("Redis at %s is not reachable: %v", a.Config.RedisAddr, err)
	} else {
		a.Log.Info("Redis job lock connected to %s", a.Config.RedisAddr)
	}
	return services.NewRedisJobLock(client, a.Log)
}

// Router mounts the API.
func (a *App) Router() http.Handler {
	return apihttp.NewRouter(apihttp.Routes{
		JWTSecret:      a.Config.JWTSecret,
		Log:            a.Log,
		Health:         handlers.Health(a.DB),
		Payments:       handlers.NewPaymentHandler(a.Settlement, a.Approvals, a.Refunds, a.Log),
		Reconciliation: handlers.NewReconciliationHandler(a.Validator, a.Healer, a.Exporter, a.Log),
		Reminders:      handlers.NewReminderHandler(a.Reminders),
		Imports:        handlers.NewImportHandler(a.Settlement, a.Log),
		Webhooks:       handlers.NewWebhookHandler(a.Webhooks, a.Log),
		DLQ:            handlers.NewDLQHandler(a.DLQ, a.Producer, a.Log),
	})
}

// RunEmailConsumer delivers queued emails over SMTP until ctx is done. It
// returns immediately when Kafka or SMTP is not configured.
func (a *App) RunEmailConsumer(ctx context.Context) {
	brokers := a.Config.Brokers()
	if len(brokers) == 0 {
		return
	}
	sender, err := services.NewSMTPSender(a.Config, a.Log)
	if err != nil {
		a.Log.Warn("Email consumer not started: %v", err)
		return
	}
	consumer := eventbus.NewEmailConsumer(brokers, a.Config.KafkaEmailTopic, a.Config.KafkaConsumerGroup, sender, a.DLQ, a.Log)
	defer consumer.Close()
	consumer.Run(ctx)
}

// RunReminderLoop sweeps pending payments every interval until ctx is done.
func (a *App) RunReminderLoop(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			res, err := a.Reminders.SendReminders(ctx)
			if err != nil {
				a.Log.Warn("Reminder sweep skipped: %v", err)
				continue
			}
			a.Log.Info("Reminder sweep sent %d reminders", res.Sent)
		}
	}
}

// Close releases everything New opened, newest first.
func (a *App) Close() error {
	var first error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil && first == nil {
			first = err
		}
	}
	a.closers = nil
	return first
}
