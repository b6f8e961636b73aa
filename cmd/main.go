package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/robfig/cron/v3"
	"github.com/wb-go/wbf/config"
	"github.com/wb-go/wbf/dbpg"
	"github.com/wb-go/wbf/zlog"

	"rollcall/cmd/buildCFG"
	"rollcall/internal/api/api"
	rabbitReader "rollcall/internal/consumerWorker"
	"rollcall/internal/handler"
	"rollcall/internal/model"
	"rollcall/internal/processor"
	"rollcall/internal/qrverify"
	"rollcall/internal/rabbit"
	"rollcall/internal/repo"
	"rollcall/internal/scheduler"
	"rollcall/internal/service"
	"rollcall/internal/verifier"
)

func main() {
	zlog.Init()
	log := zlog.Logger

	cfg := config.New()
	if err := cfg.Load("config.yaml", "", "'"); err != nil {
		log.Fatal().Msgf("failed to load configuration: %v", err)
	}
	serverCfg := buildCFG.BuildServerConfig(cfg, &log)
	port := serverCfg.Port

	masterDSN, slaveDSNs, poolOptions, err := buildCFG.BuildDBConfig(cfg, &log)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to build DB config")
	}
	db, err := dbpg.New(masterDSN, slaveDSNs, poolOptions)
	if err != nil {
		log.Fatal().Msgf("failed to connect to DB: %v", err)
	}
	if err := db.Master.Ping(); err != nil {
		log.Fatal().Msgf("DB ping failed: %v", err)
	}
	log.Info().Msg("Database connected successfully")

	repository, err := repo.NewRepository(db, &log)
	if err != nil {
		log.Fatal().Msgf("failed to initialize repository: %v", err)
	}
	cwd, err := os.Getwd()
	if err != nil {
		log.Fatal().Err(err).Msg("cannot get working directory")
	}
	migrationPath := filepath.Join(cwd, "migrations/postgres")
	if err := repository.MigrateUp(migrationPath); err != nil {
		log.Fatal().Err(err).Msg("migration failed")
	}
	log.Info().Msg("Migrations applied successfully")

	rabbitCfg, err := buildCFG.BuildRabbitConfig(cfg, &log)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load RabbitMQ config")
	}
	rmq, err := rabbit.NewRabbit(rabbitCfg.Url, rabbitCfg.Exchange, rabbitCfg.Queue)
	if err != nil {
		log.Fatal().Msgf("Failed to connect to RabbitMQ: %v", err)
	}
	defer rmq.Close()

	redisCfg := buildCFG.BuildRedisConfig(cfg, &log)
	rdb := redis.NewClient(&redis.Options{
		Addr:     redisCfg.Addr,
		Password: redisCfg.Password,
		DB:       redisCfg.DB,
	})
	defer rdb.Close()

	attendanceCfg, err := buildCFG.BuildAttendanceConfig(cfg, &log)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load attendance config")
	}

	auth := verifier.NewRepoAuthorizer(repository)
	qrVerifier := qrverify.New([]byte(attendanceCfg.QRSecret), rdb, attendanceCfg.QRReplayTTL)
	bioVerifier := verifier.NewDeviceBiometric([]byte(attendanceCfg.BiometricSecret))

	processors := map[model.Method]processor.Processor{
		model.MethodQRCode:      processor.NewQRProcessor(qrVerifier),
		model.MethodGeolocation: processor.NewGeoProcessor(processor.DefaultAccuracyThresholdMeters),
		model.MethodManual:      processor.NewManualProcessor(auth),
		model.MethodBiometric:   processor.NewBiometricProcessor(bioVerifier),
	}

	sched := scheduler.New(&log)
	statsService := service.NewStats(repository, &log)
	attendanceService := service.NewAttendance(repository, processors, auth, rmq, sched, &log)

	workerCtx, cancelWorkers := context.WithCancel(context.Background())

	statsReader := rabbitReader.NewReader(rmq, statsService)
	statsReader.Start(workerCtx)

	retention := cron.New()
	retentionDays := attendanceCfg.RetentionDays
	_, err = retention.AddFunc("0 3 * * *", func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
		defer cancel()
		cutoff := time.Now().AddDate(0, 0, -retentionDays)
		deleted, err := repository.DeleteAttendancesOlderThan(ctx, cutoff)
		if err != nil {
			log.Error().Err(err).Msg("retention sweep failed")
			return
		}
		log.Info().Int64("deleted", deleted).Msg("retention sweep finished")
	})
	if err != nil {
		log.Fatal().Err(err).Msg("failed to schedule retention sweep")
	}
	retention.Start()

	h := handler.New(attendanceService, statsService, &log)
	app := api.NewRouters(&api.Routers{Handler: h})

	serverErrChan := make(chan error, 1)
	go func() {
		log.Info().Msgf("Starting server on %s", port)
		if err := app.Run(":" + port); err != nil {
			serverErrChan <- fmt.Errorf("failed to start server: %w", err)
		}
	}()

	signalChan := make(chan os.Signal, 1)
	signal.Notify(signalChan, os.Interrupt, syscall.SIGTERM)

	select {
	case sig := <-signalChan:
		log.Info().Msgf("Received signal %s. Initiating shutdown...", sig)
	case err := <-serverErrChan:
		log.Error().Msgf("Server error: %v", err)
	}

	cancelWorkers()
	statsReader.Stop()
	sched.Shutdown()
	<-retention.Stop().Done()

	log.Info().Msg("Shutdown complete")
}
