// Package app wires the copier services from configuration.
package app

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/julienbonastre/listing-copier/internal/compat"
	"github.com/julienbonastre/listing-copier/internal/config"
	"github.com/julienbonastre/listing-copier/internal/copier"
	"github.com/julienbonastre/listing-copier/internal/database"
	"github.com/julienbonastre/listing-copier/internal/events"
	"github.com/julienbonastre/listing-copier/internal/marketplace"
	"github.com/julienbonastre/listing-copier/internal/metrics"
	"github.com/julienbonastre/listing-copier/internal/tokens"
)

// App holds the long-lived services of one process.
type App struct {
	Config  *config.Config
	Logger  *zap.Logger
	DB      *database.DB
	Metrics *metrics.Metrics
	Events  events.Publisher
	Client  *marketplace.Client
	Copier  *copier.Service
	Compat  *compat.Service
}

// New opens the database, connects to NATS and builds the services.
func New(cfg *config.Config, logger *zap.Logger) (*App, error) {
	key, err := database.ParseEncryptionKey(cfg.Database.EncryptionKey)
	if err != nil {
		return nil, err
	}
	if key == nil {
		logger.Warn("No encryption key configured; seller credentials are stored in plain text")
	}

	db, err := database.Open(cfg.Database.Path, key)
	if err != nil {
		return nil, err
	}

	publisher, err := events.Connect(cfg.NATS.URL, cfg.NATS.SubjectPrefix, logger.Named("events"))
	if err != nil {
		db.Close()
		return nil, err
	}

	m := metrics.New()

	provider := tokens.NewProvider(db, tokens.Config{
		ClientID:     cfg.Marketplace.ClientID,
		ClientSecret: cfg.Marketplace.ClientSecret,
		TokenURL:     cfg.Marketplace.TokenURL,
	}, logger.Named("tokens"))

	client := marketplace.NewClient(marketplace.Config{
		BaseURL:           cfg.Marketplace.BaseURL,
		RequestTimeout:    cfg.Marketplace.RequestTimeout,
		CreateTimeout:     cfg.Marketplace.CreateTimeout,
		RateLimitRetries:  cfg.Marketplace.RateLimitRetries,
		RateLimitBaseWait: cfg.Marketplace.RateLimitBaseWait,
	}, provider, logger.Named("marketplace"))
	client.SetRateLimitObserver(m)

	strategy, err := userProductStrategy(cfg.Compat.UserProductStrategy, cfg.Compat.ProductBatchSize)
	if err != nil {
		publisher.Close()
		db.Close()
		return nil, err
	}
	compatCopier := compat.NewCopier(client, strategy, logger.Named("compat"))

	copySvc := copier.NewService(client, logger.Named("copier"), copier.Options{
		MaxAttempts: cfg.Copy.MaxAttempts,
		Concurrency: cfg.Copy.Concurrency,
		Compat:      compatCopier,
		Logs:        db,
		Events:      publisher,
		Metrics:     m,
	})

	compatSvc := compat.NewService(client, compatCopier, db, db, logger.Named("compat"), compat.ServiceOptions{
		Pacing:  cfg.Compat.TargetPacing,
		Events:  publisher,
		Metrics: m,
	})

	return &App{
		Config:  cfg,
		Logger:  logger,
		DB:      db,
		Metrics: m,
		Events:  publisher,
		Client:  client,
		Copier:  copySvc,
		Compat:  compatSvc,
	}, nil
}

func userProductStrategy(name string, batchSize int) (compat.UserProductStrategy, error) {
	switch name {
	case "", "copy_paste":
		return compat.CopyPasteStrategy{}, nil
	case "product_list":
		return compat.ProductListStrategy{BatchSize: batchSize}, nil
	default:
		return nil, fmt.Errorf("unknown user product strategy %q", name)
	}
}

// Close releases the NATS connection and the database.
func (a *App) Close() {
	a.Events.Close()
	if err := a.DB.Close(); err != nil {
		a.Logger.Error("Failed to close database", zap.Error(err))
	}
}
