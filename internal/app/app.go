// Package app wires configuration into running job services. The three
// entry points (trigger API, one-shot reminder worker, one-shot auto-sync
// worker) share this bootstrap so provider construction lives in one
// place.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/sideshow/apns2"
	"github.com/sideshow/apns2/token"

	"billwatch/internal/config"
	"billwatch/internal/db"
	"billwatch/internal/external"
	"billwatch/internal/notifications/email"
	"billwatch/internal/notifications/push"
	"billwatch/internal/scheduler"
	"billwatch/internal/types"
)

// NewLogger creates the process-wide structured JSON logger for the given
// level.
func NewLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	handler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl})
	return slog.New(handler)
}

// NewPool connects a pgx pool with the configured sizing and verifies it
// with a ping.
func NewPool(ctx context.Context, cfg *config.Config) (*pgxpool.Pool, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.Database.URL.Unmask())
	if err != nil {
		return nil, fmt.Errorf("parsing database URL: %w", err)
	}
	poolCfg.MaxConns = int32(cfg.Database.MaxConns)
	poolCfg.MinConns = int32(cfg.Database.MinConns)
	poolCfg.MaxConnLifetime = cfg.Database.MaxConnLifetime

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("creating connection pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}
	return pool, nil
}

// NewEmailChannel builds the reminder email channel on top of the
// configured provider.
func NewEmailChannel(cfg *config.Config, logger *slog.Logger) (*email.Channel, error) {
	var provider external.EmailProvider
	switch cfg.Email.Provider {
	case "sendgrid":
		provider = external.NewSendGridClient(nil, external.SendGridClientConfig{
			APIKey: cfg.Email.SendGridAPIKey.Unmask(),
			Logger: logger,
		})
	case "smtp":
		provider = external.NewSMTPClient(external.SMTPClientConfig{
			Host:     cfg.Email.SMTPHost,
			Port:     cfg.Email.SMTPPort,
			Username: cfg.Email.SMTPUser,
			Password: cfg.Email.SMTPPassword.Unmask(),
			Logger:   logger,
		})
	default:
		return nil, fmt.Errorf("unknown email provider %q", cfg.Email.Provider)
	}

	return email.NewChannel(email.ChannelConfig{
		Provider:    provider,
		FromAddress: cfg.Email.FromAddress,
		FromName:    cfg.Email.FromName,
		Logger:      logger,
	}), nil
}

// NewPushChannels builds the web push and APNs transports. When no APNs
// signing key is configured the native channel constructs without a
// client and reports every send as failed; such deployments must keep
// device_tokens empty.
func NewPushChannels(cfg *config.Config, logger *slog.Logger) (*push.WebPushChannel, *push.APNSChannel, error) {
	webPush := push.NewWebPushChannel(push.WebPushConfig{
		VAPIDPublicKey:  cfg.Push.VAPIDPublicKey,
		VAPIDPrivateKey: cfg.Push.VAPIDPrivateKey.Unmask(),
		Subscriber:      cfg.Push.VAPIDSubject,
		HTTPClient:      http.DefaultClient,
		Logger:          logger,
	})

	apnsCfg := push.APNSConfig{
		Topic:  cfg.Push.APNSTopic,
		Logger: logger,
	}
	if cfg.Push.APNSKeyFile != "" {
		authKey, err := token.AuthKeyFromFile(cfg.Push.APNSKeyFile)
		if err != nil {
			return nil, nil, fmt.Errorf("loading APNs signing key: %w", err)
		}
		apnsClient := apns2.NewTokenClient(&token.Token{
			AuthKey: authKey,
			KeyID:   cfg.Push.APNSKeyID,
			TeamID:  cfg.Push.APNSTeamID,
		})
		if cfg.Push.APNSProduction {
			apnsClient = apnsClient.Production()
		} else {
			apnsClient = apnsClient.Development()
		}
		apnsCfg.Client = apnsClient
	}

	return webPush, push.NewAPNSChannel(apnsCfg), nil
}

// NewMetrics returns the CloudWatch recorder when metrics are enabled,
// otherwise a no-op.
func NewMetrics(ctx context.Context, cfg *config.Config, logger *slog.Logger) (scheduler.Metrics, error) {
	if !cfg.Metrics.Enabled {
		return scheduler.NopMetrics{}, nil
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.Metrics.AWSRegion))
	if err != nil {
		return nil, fmt.Errorf("loading AWS configuration: %w", err)
	}
	client := cloudwatch.NewFromConfig(awsCfg)
	return external.NewCloudWatchMetrics(client, cfg.Metrics.Namespace, logger), nil
}

// NewDrainWorker assembles the reminder drain worker on the shared pool.
func NewDrainWorker(ctx context.Context, cfg *config.Config, pool *pgxpool.Pool, logger *slog.Logger) (*scheduler.DrainWorker, error) {
	emailChannel, err := NewEmailChannel(cfg, logger)
	if err != nil {
		return nil, err
	}
	webPush, native, err := NewPushChannels(cfg, logger)
	if err != nil {
		return nil, err
	}
	metrics, err := NewMetrics(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}

	return scheduler.NewDrainWorker(scheduler.DrainWorkerConfig{
		Queue:           db.NewQueueRepository(pool),
		Bills:           db.NewBillRepository(pool),
		Settings:        db.NewSettingsRepository(pool),
		Targets:         db.NewTargetRepository(pool),
		Email:           emailChannel,
		WebPush:         webPush,
		Native:          native,
		Metrics:         metrics,
		Logger:          logger,
		BatchSize:       cfg.Cron.DrainBatchSize,
		SendTimeout:     cfg.Cron.SendTimeout,
		UserConcurrency: cfg.Cron.DrainUserConcurrency,
	}), nil
}

// NewAutoSync assembles the auto-sync orchestrator on the shared pool.
// The syncer parameter is the mailbox scan pipeline; pass UnwiredSyncer
// until one is deployed.
func NewAutoSync(ctx context.Context, cfg *config.Config, pool *pgxpool.Pool, logger *slog.Logger, syncer scheduler.Syncer) (*scheduler.AutoSyncOrchestrator, error) {
	webPush, native, err := NewPushChannels(cfg, logger)
	if err != nil {
		return nil, err
	}
	metrics, err := NewMetrics(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}

	return scheduler.NewAutoSyncOrchestrator(scheduler.AutoSyncConfig{
		Locks:            db.NewSyncLockRepository(pool),
		Mailbox:          db.NewMailboxRepository(pool),
		Syncer:           syncer,
		Settings:         db.NewSettingsRepository(pool),
		Targets:          db.NewTargetRepository(pool),
		WebPush:          webPush,
		Native:           native,
		Metrics:          metrics,
		Logger:           logger,
		BatchConcurrency: cfg.Sync.BatchConcurrency,
		PerUserTimeout:   cfg.Sync.PerUserTimeout,
		LockTTL:          cfg.Sync.LockTTL,
		MaxResults:       cfg.Sync.MaxResults,
		DaysBack:         cfg.Sync.DaysBack,
	}), nil
}

// UnwiredSyncer is the placeholder mailbox scan pipeline. It reports every
// sync as failed so the eligibility backoff kicks in rather than retrying
// each cycle. Deployments replace it when the extraction service is wired.
type UnwiredSyncer struct{}

// PerformSync always fails with an upstream error.
func (UnwiredSyncer) PerformSync(_ context.Context, _ string, _ types.SyncOptions) (types.SyncResult, error) {
	return types.SyncResult{}, types.NewAppError(
		types.ErrCodeUpstreamMailbox,
		"mailbox sync pipeline not configured",
		nil,
	)
}

var _ scheduler.Syncer = UnwiredSyncer{}
