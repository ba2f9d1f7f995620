package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/nats-io/nats.go"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/hackgods/clinic-scheduling/internal/activity"
	"github.com/hackgods/clinic-scheduling/internal/appointment"
	"github.com/hackgods/clinic-scheduling/internal/config"
	"github.com/hackgods/clinic-scheduling/internal/db"
	"github.com/hackgods/clinic-scheduling/internal/doctor"
	redisclient "github.com/hackgods/clinic-scheduling/internal/redis"
)

// App holds the connections and the appointment service shared by the
// server and the expiry worker. Redis and NATS are optional: without Redis
// bookings skip the slot lock, without NATS events only go to event_logs.
type App struct {
	Config  config.Config
	Logger  zerolog.Logger
	Pool    *pgxpool.Pool
	Redis   *redis.Client
	Nats    *nats.Conn
	Doctors *doctor.CachedDirectory
	Service *appointment.Service
}

func New(ctx context.Context, cfg config.Config, logger zerolog.Logger) (*App, error) {
	app := &App{Config: cfg, Logger: logger}

	pgCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	pool, err := db.ConnectPostgres(pgCtx, cfg.PostgresDSN, db.PoolOptions{
		MaxConns: cfg.DBMaxConns,
		MinConns: cfg.DBMinConns,
	})
	cancel()
	if err != nil {
		return nil, fmt.Errorf("postgres: %w", err)
	}
	app.Pool = pool
	logger.Info().Msg("connected to Postgres")

	var locker redisclient.Locker = redisclient.NopLocker{}
	rdb, err := redisclient.NewRedisClient(ctx, redisclient.Options{
		Addr:     cfg.RedisAddr,
		Username: cfg.RedisUsername,
		Password: cfg.RedisPassword,
	})
	if err != nil {
		logger.Warn().Err(err).Msg("redis unavailable, slot locks disabled")
	} else {
		app.Redis = rdb
		locker = redisclient.NewRedisSlotLocker(rdb, cfg.LockTTL)
		logger.Info().Str("addr", cfg.RedisAddr).Msg("connected to Redis")
	}

	recorders := activity.Multi{activity.NewPgRecorder(pool)}
	if cfg.NatsURL != "" {
		nc, err := activity.Connect(cfg.NatsURL)
		if err != nil {
			logger.Warn().Err(err).Msg("nats unavailable, events are only written to event_logs")
		} else {
			app.Nats = nc
			recorders = append(recorders, activity.NewNatsPublisher(nc))
			logger.Info().Str("url", cfg.NatsURL).Msg("connected to NATS")
		}
	}

	app.Doctors = doctor.NewCachedDirectory(doctor.NewPgDirectory(pool), cfg.DoctorCacheSize, cfg.DoctorCacheTTL)
	app.Service = appointment.NewService(
		appointment.NewPgRepository(pool),
		app.Doctors,
		locker,
		recorders,
		appointment.OptionsFromConfig(cfg),
		logger.With().Str("component", "appointment").Logger(),
	)

	return app, nil
}

func (a *App) Close() error {
	var errs []error
	if a.Nats != nil {
		if err := a.Nats.Drain(); err != nil {
			errs = append(errs, fmt.Errorf("drain nats: %w", err))
		}
	}
	if a.Redis != nil {
		if err := a.Redis.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close redis: %w", err))
		}
	}
	if a.Pool != nil {
		a.Pool.Close()
	}
	return errors.Join(errs...)
}
