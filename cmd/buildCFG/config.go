package buildCFG

import (
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/wb-go/wbf/config"
	"github.com/wb-go/wbf/dbpg"
)

type ServerConfig struct {
	Port string
}

type RabbitConfig struct {
	Url      string
	Exchange string
	Queue    string
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

type AttendanceConfig struct {
	QRSecret        string
	BiometricSecret string
	QRReplayTTL     time.Duration
	RetentionDays   int
}

func BuildServerConfig(cfg *config.Config, log *zerolog.Logger) *ServerConfig {
	port := cfg.GetString("server.port")
	if port == "" {
		port = "8080"
		log.Warn().Msg("server.port not set, falling back to 8080")
	}
	return &ServerConfig{Port: port}
}

func BuildDBConfig(cfg *config.Config, log *zerolog.Logger) (string, []string, *dbpg.Options, error) {
	masterDSN := cfg.GetString("database.master_dsn")
	if masterDSN == "" {
		return "", nil, nil, fmt.Errorf("database.master_dsn is required")
	}
	slaveDSNs := cfg.GetStringSlice("database.slave_dsns")

	opts := &dbpg.Options{
		MaxOpenConns:    cfg.GetInt("database.max_open_conns"),
		MaxIdleConns:    cfg.GetInt("database.max_idle_conns"),
		ConnMaxLifetime: cfg.GetDuration("database.conn_max_lifetime"),
	}
	if opts.MaxOpenConns == 0 {
		opts.MaxOpenConns = 10
	}
	if opts.MaxIdleConns == 0 {
		opts.MaxIdleConns = 5
	}

	log.Info().Int("slaves", len(slaveDSNs)).Msg("database configuration loaded")
	return masterDSN, slaveDSNs, opts, nil
}

func BuildRabbitConfig(cfg *config.Config, log *zerolog.Logger) (*RabbitConfig, error) {
	url := cfg.GetString("rabbitmq.url")
	if url == "" {
		return nil, fmt.Errorf("rabbitmq.url is required")
	}

	rc := &RabbitConfig{
		Url:      url,
		Exchange: cfg.GetString("rabbitmq.exchange"),
		Queue:    cfg.GetString("rabbitmq.queue"),
	}
	if rc.Exchange == "" {
		rc.Exchange = "attendance.stats"
	}
	if rc.Queue == "" {
		rc.Queue = "attendance.stats.recompute"
	}

	log.Info().Str("exchange", rc.Exchange).Str("queue", rc.Queue).Msg("rabbitmq configuration loaded")
	return rc, nil
}

func BuildRedisConfig(cfg *config.Config, log *zerolog.Logger) *RedisConfig {
	rc := &RedisConfig{
		Addr:     cfg.GetString("redis.addr"),
		Password: cfg.GetString("redis.password"),
		DB:       cfg.GetInt("redis.db"),
	}
	if rc.Addr == "" {
		rc.Addr = "localhost:6379"
		log.Warn().Msg("redis.addr not set, falling back to localhost:6379")
	}
	return rc
}

func BuildAttendanceConfig(cfg *config.Config, log *zerolog.Logger) (*AttendanceConfig, error) {
	ac := &AttendanceConfig{
		QRSecret:        cfg.GetString("attendance.qr_secret"),
		BiometricSecret: cfg.GetString("attendance.biometric_secret"),
		QRReplayTTL:     cfg.GetDuration("attendance.qr_replay_ttl"),
		RetentionDays:   cfg.GetInt("attendance.retention_days"),
	}
	if ac.QRSecret == "" {
		return nil, fmt.Errorf("attendance.qr_secret is required")
	}
	if ac.BiometricSecret == "" {
		return nil, fmt.Errorf("attendance.biometric_secret is required")
	}
	if ac.QRReplayTTL == 0 {
		ac.QRReplayTTL = 24 * time.Hour
	}
	if ac.RetentionDays == 0 {
		ac.RetentionDays = 365
	}

	log.Info().Int("retention_days", ac.RetentionDays).Msg("attendance configuration loaded")
	return ac, nil
}
