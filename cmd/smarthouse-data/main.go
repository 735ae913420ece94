package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"smarthouse-data/internal/codec"
	"smarthouse-data/internal/config"
	httpapi "smarthouse-data/internal/http"
	"smarthouse-data/internal/logger"
	"smarthouse-data/internal/notify"
	"smarthouse-data/internal/repository"
	"smarthouse-data/internal/service"
	"smarthouse-data/internal/sheets"
	"smarthouse-data/internal/store"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

func main() {
	cfg := config.Load()

	log, err := logger.NewLogger(cfg.Log.Level, cfg.Log.Format, "smarthouse-data")
	if err != nil {
		panic(err)
	}
	defer log.Sync()

	if err := cfg.Validate(); err != nil {
		log.Fatal("invalid configuration", zap.Error(err))
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	backend, closeBackend, err := sheets.Open(ctx, cfg, log)
	if err != nil {
		log.Fatal("failed to open tabular store", zap.String("backend", cfg.Sheets.Backend), zap.Error(err))
	}
	gateway := sheets.NewGateway(backend, sheets.GatewayOptions(&cfg.Sheets), log)

	// Redis：扫描租约和 redis 通知流共用
	var redisClient *redis.Client
	if cfg.Notify.Transport == config.TransportRedis || cfg.Sweep.Enabled {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err := redisClient.Ping(ctx).Err(); err != nil {
			log.Warn("redis unavailable, sweep runs without lease", zap.String("addr", cfg.Redis.Addr), zap.Error(err))
			_ = redisClient.Close()
			redisClient = nil
		}
	}

	var publisher notify.Publisher = notify.NopPublisher{}
	var mqttClient *notify.MQTTClient
	switch cfg.Notify.Transport {
	case config.TransportRedis:
		if redisClient != nil {
			publisher = notify.NewRedisStreamPublisher(redisClient, cfg.Notify.Stream, 10000)
		} else {
			log.Warn("redis notification transport disabled, redis unavailable")
		}
	case config.TransportMQTT:
		mqttClient, err = notify.NewMQTTClient(&cfg.MQTT, log)
		if err != nil {
			log.Warn("mqtt notification transport disabled", zap.String("broker", cfg.MQTT.Broker), zap.Error(err))
		} else {
			publisher = notify.NewMQTTPublisher(mqttClient, cfg.MQTT.Topic, cfg.MQTT.QoS)
		}
	}

	codecs := codec.NewRegistry(log)
	repo := repository.New(gateway, codecs, repository.Options{
		PeopleTTL:        cfg.Cache.PeopleTTL,
		SettingsTTL:      cfg.Cache.SettingsTTL,
		NotificationsTTL: cfg.Cache.NotificationsTTL,
		AuditTTL:         cfg.Cache.AuditTTL,
	}, publisher, log)

	housing := httpapi.NewHousingHandler(repo, codecs, log)
	housing.SweepActorID = cfg.Sweep.ActorID

	router := httpapi.NewRouter(log)
	router.RegisterSystemRoutes()
	router.RegisterHousingRoutes(housing)

	if cfg.Sweep.Enabled {
		var lease *store.Lease
		if redisClient != nil {
			hostname, _ := os.Hostname()
			owner := hostname + "-" + uuid.NewString()
			lease = store.NewLease(store.NewRedisKV(redisClient), service.SweepLockKey, owner, cfg.Sweep.LockTTL)
		}
		sweeper := service.NewStatusSweeper(repo, lease, cfg.Sweep.Interval, cfg.Sweep.ActorID, log)
		go sweeper.Run(ctx)
	}

	srv := service.NewServer(cfg.HTTP.Addr, router, log)

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-sigCh:
		cancel()
	case err := <-errCh:
		log.Error("HTTP server stopped", zap.Error(err))
		cancel()
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	_ = srv.Stop(shutdownCtx)
	if mqttClient != nil {
		mqttClient.Disconnect()
	}
	if redisClient != nil {
		_ = redisClient.Close()
	}
	if err := closeBackend(); err != nil {
		log.Warn("failed to close tabular store", zap.Error(err))
	}
}
