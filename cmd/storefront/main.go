package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/Hawyaa/alora-backend/internal/cache"
	"github.com/Hawyaa/alora-backend/internal/catalog"
	"github.com/Hawyaa/alora-backend/internal/config"
	h "github.com/Hawyaa/alora-backend/internal/http"
	"github.com/Hawyaa/alora-backend/internal/logger"
	"github.com/Hawyaa/alora-backend/internal/payment"
	"github.com/Hawyaa/alora-backend/internal/pricing"
	"github.com/Hawyaa/alora-backend/internal/publisher"
	"github.com/Hawyaa/alora-backend/internal/repository"
	"github.com/Hawyaa/alora-backend/internal/service"
	"github.com/redis/go-redis/v9"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	log := logger.New(os.Stdout, cfg.LogLevel, cfg.LogFormat)
	slog.SetDefault(log)

	if err := run(cfg, log); err != nil {
		log.Error("storefront stopped with error", "error", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config, log *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	products, err := catalog.NewRepository(cfg.CatalogDBPath)
	if err != nil {
		return err
	}
	defer products.Close()
	if err := products.RunMigrations(cfg.CatalogMigrationsPath); err != nil {
		return err
	}
	log.Info("catalog ready", "path", cfg.CatalogDBPath)

	var cartRepo repository.CartRepository
	if cfg.MongoURI != "" {
		mongoDB, err := repository.ConnectMongoDB(ctx, cfg.MongoURI, cfg.MongoDatabase)
		if err != nil {
			return err
		}
		defer mongoDB.Client().Disconnect(context.Background())

		mongoCarts := repository.NewMongoCartRepository(mongoDB)
		if err := mongoCarts.CreateIndexes(ctx); err != nil {
			return err
		}
		cartRepo = mongoCarts
		log.Info("connected to MongoDB", "database", cfg.MongoDatabase)
	} else {
		cartRepo = repository.NewMemoryCartRepository()
		log.Warn("MONGO_URI not set, carts are kept in memory")
	}

	var cartCache cache.CartCache = cache.NopCache{}
	if cfg.RedisAddr != "" {
		redisClient := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		defer redisClient.Close()
		if err := redisClient.Ping(ctx).Err(); err != nil {
			return err
		}
		cartCache = cache.NewRedisCache(redisClient)
		log.Info("redis ping succeeded", "addr", cfg.RedisAddr)
	}

	var orderRepo interface {
		repository.OrderRepository
		repository.OutboxRepository
	}
	if cfg.Postgres.Host != "" {
		db, err := repository.ConnectPostgres(&repository.Credentials{
			Host:              cfg.Postgres.Host,
			Port:              cfg.Postgres.Port,
			User:              cfg.Postgres.User,
			Password:          cfg.Postgres.Password,
			DBName:            cfg.Postgres.DBName,
			MigrationsDirPath: cfg.Postgres.MigrationsPath,
		})
		if err != nil {
			return err
		}
		defer db.Close()
		if err := repository.RunPostgresMigrations(db, cfg.Postgres.MigrationsPath); err != nil {
			return err
		}
		orderRepo = repository.NewPostgresOrderRepository(db)
		log.Info("connected to Postgres", "host", cfg.Postgres.Host, "database", cfg.Postgres.DBName)
	} else {
		orderRepo = repository.NewMemoryOrderRepository()
		log.Warn("POSTGRES_HOST not set, orders are kept in memory")
	}

	gateway := payment.NewClient(payment.Config{
		BaseURL:     cfg.Payment.BaseURL,
		SecretKey:   cfg.Payment.SecretKey,
		Timeout:     cfg.Payment.Timeout,
		CallbackURL: cfg.Payment.CallbackURL,
		Title:       cfg.Payment.Title,
		Description: cfg.Payment.Description,
	})

	engine := pricing.NewEngine(pricing.Config{Shipping: cfg.ShippingFlat, TaxRate: cfg.TaxRate})
	carts := service.NewCartService(cartRepo, cartCache, products, log)
	orders := service.NewOrderService(orderRepo, carts, products, engine, cfg.Payment.Currency, log)
	recon := service.NewReconciliationService(orderRepo, gateway, carts, service.DefaultVerifyTimeout, log)
	payments := service.NewPaymentService(orderRepo, gateway, recon, cfg.Payment.ReturnURL, log)

	var wg sync.WaitGroup
	if len(cfg.KafkaBrokers) > 0 {
		writer := publisher.NewKafkaWriter(cfg.OrderEventsTopic, cfg.KafkaBrokers...)
		defer writer.Close()

		poller := publisher.NewOutboxPoller(orderRepo, writer, cfg.OutboxInterval, log)
		wg.Add(1)
		go func() {
			defer wg.Done()
			poller.Run(ctx)
		}()
	} else {
		log.Warn("KAFKA_BROKERS not set, order events stay in the outbox")
	}

	router := h.NewRouter(h.RouterConfig{
		JWTSecret:          cfg.JWTSecret,
		RequestTimeout:     cfg.RequestTimeout,
		MaxRequestBodySize: cfg.MaxRequestBodySize,
	}, h.Services{
		Carts:          carts,
		Orders:         orders,
		Payments:       payments,
		Reconciliation: recon,
	}, log)

	srv := &http.Server{
		Addr:         ":" + cfg.HTTPPort,
		Handler:      router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: cfg.RequestTimeout + 5*time.Second,
		IdleTimeout:  60 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		log.Info("storefront starting", "port", cfg.HTTPPort)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case err := <-serveErr:
		if err != nil {
			stop()
			wg.Wait()
			return err
		}
	case <-ctx.Done():
	}

	log.Info("shutting down server...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	wg.Wait()

	log.Info("server exited")
	return nil
}
