// Package main запускает HTTP-сервер интеграции магазина с Битрикс24.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/ibrokxim/bitrix-telegram/internal/bitrix"
	"github.com/ibrokxim/bitrix-telegram/internal/catalog"
	"github.com/ibrokxim/bitrix-telegram/internal/config"
	"github.com/ibrokxim/bitrix-telegram/internal/handler"
	"github.com/ibrokxim/bitrix-telegram/internal/notify"
	"github.com/ibrokxim/bitrix-telegram/internal/repository"
	"github.com/ibrokxim/bitrix-telegram/internal/service"
	"github.com/ibrokxim/bitrix-telegram/internal/stage"
	"github.com/ibrokxim/bitrix-telegram/internal/sync"
	"github.com/ibrokxim/bitrix-telegram/internal/telegram"
)

func main() {
	logger, _ := zap.NewProduction()
	defer logger.Sync()

	sugar := logger.Sugar()

	cfg, err := config.Parse()
	if err != nil {
		sugar.Fatalw("configuration error", "error", err.Error())
	}

	repo, err := repository.NewPostgresRepository(cfg.DatabaseURI)
	if err != nil {
		sugar.Fatalw("database initialization error", "error", err.Error())
	}
	defer repo.Close()

	crm := bitrix.NewClient(cfg.BitrixWebhookURL)

	var rdb *redis.Client
	if cfg.RedisAddr != "" {
		rdb = redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		if err := rdb.Ping(context.Background()).Err(); err != nil {
			// Каталог работает и без кеша, просто медленнее.
			sugar.Warnw("redis unavailable, catalog cache disabled", "error", err.Error())
			rdb = nil
		}
	}

	notifier, err := telegram.New(cfg.TelegramToken, cfg.TelegramAdminChatID, logger)
	if err != nil {
		sugar.Fatalw("telegram initialization error", "error", err.Error())
	}

	composer := notify.NewComposer(cfg.MiniAppURL)

	svc := service.NewService(repo, crm, notifier, composer, service.Options{
		FirstOrderCategoryID:  cfg.FirstOrderCategoryID,
		RepeatOrderCategoryID: cfg.RepeatOrderCategoryID,
		AssignedByID:          cfg.AssignedByID,
		CurrencyID:            cfg.CurrencyID,
	}, logger)
	defer svc.Close()

	engine := sync.NewEngine(repo, crm, notifier, composer, stage.Default(), logger)
	catalogSvc := catalog.NewService(crm, rdb, logger)

	h := handler.NewHandler(svc, engine, catalogSvc, notifier, composer, cfg.WebhookToken, logger)
	r := h.SetupRouter()

	server := &http.Server{
		Addr:    cfg.RunAddress,
		Handler: r,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Подписка на события обновления сделок, если известен внешний адрес вебхука
	if cfg.EventHandlerURL != "" {
		if err := crm.RegisterDealUpdateHandler(ctx, cfg.EventHandlerURL); err != nil {
			// Вебхук можно привязать и вручную в портале, поэтому не падаем.
			sugar.Warnw("failed to bind deal update event", "handler", cfg.EventHandlerURL, "error", err.Error())
		} else {
			sugar.Infow("deal update event bound", "handler", cfg.EventHandlerURL)
			defer func() {
				unbindCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				if err := crm.UnregisterDealUpdateHandler(unbindCtx, cfg.EventHandlerURL); err != nil {
					sugar.Warnw("failed to unbind deal update event", "error", err.Error())
				}
			}()
		}
	}

	g, ctx := errgroup.WithContext(ctx)

	// Фоновая сверка статусов с Битрикс24
	g.Go(func() error {
		engine.StartReconciliation(ctx, cfg.SyncInterval, cfg.SyncBatchSize)
		return nil
	})

	// Запуск HTTP-сервера
	g.Go(func() error {
		sugar.Infow("starting server", "addr", cfg.RunAddress)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})

	// Graceful shutdown при отмене контекста (сигнал или ошибка в другой горутине)
	g.Go(func() error {
		<-ctx.Done()
		sugar.Info("shutting down server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown error: %w", err)
		}
		sugar.Info("server stopped gracefully")
		return nil
	})

	if err := g.Wait(); err != nil {
		sugar.Fatalw("application terminated with error", "error", err)
	}
}
