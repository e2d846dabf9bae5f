package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/aws/aws-sdk-go-v2/service/sesv2"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"

	"github.com/cabinethq/scheduling-platform/cmd/mainconfig"
	appconfig "github.com/cabinethq/scheduling-platform/internal/config"
	"github.com/cabinethq/scheduling-platform/internal/notify"
	"github.com/cabinethq/scheduling-platform/internal/observability/metrics"
	"github.com/cabinethq/scheduling-platform/pkg/logging"
)

func main() {
	_ = godotenv.Load()
	cfg := appconfig.Load()

	logger := logging.New(cfg.LogLevel)
	logger.Info("starting reminder dispatch worker",
		"env", cfg.Env,
		"poll_interval", cfg.ReminderPollInterval.String(),
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if cfg.DatabaseURL == "" {
		logger.Error("DATABASE_URL is required")
		os.Exit(1)
	}
	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Error("failed to connect to postgres", "error", err)
		os.Exit(1)
	}
	defer pool.Close()

	source := notify.NewPostgresReminderStore(pool)

	// Email: SendGrid by default, SES when selected. Falls back to the stub
	// sender so a missing key never blocks SMS/push reminders.
	var email notify.EmailSender
	var pushQueue notify.PushQueue
	needAWS := cfg.EmailProvider == "ses" || cfg.ReminderHandoffQueue != ""
	if needAWS {
		awsCfg, err := mainconfig.LoadAWSConfig(ctx, cfg)
		if err != nil {
			logger.Error("failed to load AWS config", "error", err)
			os.Exit(1)
		}
		if cfg.EmailProvider == "ses" {
			email = notify.NewSESSender(sesv2.NewFromConfig(awsCfg), notify.SESConfig{
				FromEmail: cfg.SESFromEmail,
				FromName:  cfg.SESFromName,
			}, logger)
			logger.Info("SES email sender initialized")
		}
		if cfg.ReminderHandoffQueue != "" {
			pushQueue = notify.NewSQSPushQueue(sqs.NewFromConfig(awsCfg), cfg.ReminderHandoffQueue)
			logger.Info("push handoff queue initialized", "queue_url", cfg.ReminderHandoffQueue)
		}
	}
	if email == nil {
		if sender := notify.NewSendGridSender(notify.SendGridConfig{
			APIKey:    cfg.SendGridAPIKey,
			FromEmail: cfg.SendGridFromEmail,
			FromName:  cfg.SendGridFromName,
		}, logger); sender != nil {
			email = sender
			logger.Info("sendgrid email sender initialized")
		} else {
			email = notify.NewStubEmailSender(logger)
			logger.Warn("email reminders stubbed (no provider configured)")
		}
	}

	// SMS gateway integration is deployment-specific; the stub keeps SMS
	// reminders observable in logs until one is wired in.
	sms := notify.NewStubSMSSender(logger)

	dispatcher := notify.NewDispatcher(source, email, sms, pushQueue, notify.DispatcherConfig{
		PollInterval: cfg.ReminderPollInterval,
		BatchSize:    cfg.ReminderBatchSize,
	}, metrics.NewDispatchMetrics(nil), logger)

	if err := dispatcher.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("dispatcher stopped", "error", err)
		os.Exit(1)
	}
	logger.Info("reminder worker stopped")
}
