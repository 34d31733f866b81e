package main

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/septivank/occupancy-billing-worker/internal/config"
	"github.com/septivank/occupancy-billing-worker/internal/db"
	"github.com/septivank/occupancy-billing-worker/internal/identity"
	"github.com/septivank/occupancy-billing-worker/internal/mq"
	"github.com/septivank/occupancy-billing-worker/internal/mqtt"
	"github.com/septivank/occupancy-billing-worker/internal/repository"
	"github.com/septivank/occupancy-billing-worker/internal/service"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

func startWorker(
	lc fx.Lifecycle,
	client *mqtt.Client,
	channel *mqtt.Channel,
	cfg *config.Config,
	logger *zap.Logger,
) {
	// Register before connecting so the initial connect also subscribes
	client.SetOnConnect(channel.HandleConnect)
	client.SetOnDisconnect(channel.HandleDisconnect)

	lc.Append(fx.Hook{
		OnStart: func(startCtx context.Context) error {
			logger.Info("connecting to MQTT broker",
				zap.String("broker", cfg.MQTT.BrokerURL),
				zap.String("client_id", cfg.MQTT.ClientID))
			if err := client.Connect(); err != nil {
				logger.Error("mqtt connection failed", zap.Error(err))
				return err
			}
			return channel.Start()
		},
		OnStop: func(stopCtx context.Context) error {
			channel.Stop()
			if err := client.Close(); err != nil {
				logger.Error("failed to close mqtt client", zap.Error(err))
				return err
			}
			logger.Info("worker stopped gracefully")
			return nil
		},
	})
}

// ProvideDBPool creates a new database pool instance
func ProvideDBPool(lc fx.Lifecycle, logger *zap.Logger, cfg *config.Config) (*pgxpool.Pool, error) {
	return db.NewPool(lc, logger, cfg.Database.URL, cfg.Database.Migrate)
}

// ProvideStore exposes the postgres repository as the engine's store
func ProvideStore(pool *pgxpool.Pool) repository.Store {
	return repository.NewRepository(pool)
}

// ProvideResolver creates the bearer token resolver
func ProvideResolver(cfg *config.Config) service.IdentityResolver {
	return identity.NewResolver(cfg.Auth.JWTSecret)
}

// ProvideEmitter creates the device command emitter shared by the engine and the channel
func ProvideEmitter() *service.Emitter {
	return service.NewEmitter()
}

// ProvideBillEventPublisher creates the RabbitMQ bill event publisher,
// or a no-op publisher when RABBITMQ_URL is not set
func ProvideBillEventPublisher(lc fx.Lifecycle, logger *zap.Logger, cfg *config.Config) (mq.BillEventPublisher, error) {
	if cfg.RabbitMQ.URL == "" {
		logger.Info("RABBITMQ_URL not set, bill events are disabled")
		return mq.NopPublisher{}, nil
	}

	conn, err := mq.NewConnection(lc, logger, cfg.RabbitMQ.URL)
	if err != nil {
		return nil, err
	}

	publisher, err := mq.NewPublisher(conn, cfg.RabbitMQ.BillingExchange, logger)
	if err != nil {
		return nil, err
	}

	lc.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			return publisher.Close()
		},
	})

	return publisher, nil
}

// ProvideProcessorService creates a new processor service instance
func ProvideProcessorService(
	store repository.Store,
	resolver service.IdentityResolver,
	emitter *service.Emitter,
	publisher mq.BillEventPublisher,
	cfg *config.Config,
	logger *zap.Logger,
) *service.ProcessorService {
	return service.NewProcessorService(store, resolver, emitter, publisher, cfg, logger)
}

// ProvideMQTTClient creates the broker client; it connects when the app starts
func ProvideMQTTClient(cfg *config.Config, logger *zap.Logger) *mqtt.Client {
	return mqtt.NewClient(cfg.MQTT, logger.Named("mqtt"))
}

// ProvideChannel creates the device command channel
func ProvideChannel(
	client *mqtt.Client,
	processor *service.ProcessorService,
	emitter *service.Emitter,
	cfg *config.Config,
	logger *zap.Logger,
) *mqtt.Channel {
	return mqtt.NewChannel(client, processor, emitter, cfg.MQTT, logger.Named("channel"))
}
