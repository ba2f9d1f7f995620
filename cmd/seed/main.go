package main

import (
	"context"
	"os"
	"time"

	"github.com/brianvoe/gofakeit/v7"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"github.com/hackgods/clinic-scheduling/internal/config"
	"github.com/hackgods/clinic-scheduling/internal/db"
	"github.com/hackgods/clinic-scheduling/internal/logging"
)

const (
	doctorCount  = 50
	patientCount = 5000
	blockDays    = 14
)

var (
	specialties = []string{
		"Dermatology",
		"Cardiology",
		"General Practice",
		"Orthopedics",
		"Endocrinology",
		"Neurology",
		"Pediatrics",
		"Psychiatry",
		"Ophthalmology",
		"ENT",
	}
	timezones     = []string{"UTC", "America/Sao_Paulo", "America/Mexico_City", "America/Bogota", "Europe/Madrid"}
	slotDurations = []int{15, 20, 30, 30, 45}
	blockReasons  = []string{"Staff meeting", "Surgery", "Conference", "Personal leave", "Training"}
)

type shift struct{ start, end int }

// morning and afternoon shifts, Monday to Friday, with a short Saturday.
var weekTemplate = map[time.Weekday][]shift{
	time.Monday:    {{8 * 60, 12 * 60}, {13 * 60, 17 * 60}},
	time.Tuesday:   {{8 * 60, 12 * 60}, {13 * 60, 17 * 60}},
	time.Wednesday: {{8 * 60, 12 * 60}, {13 * 60, 17 * 60}},
	time.Thursday:  {{8 * 60, 12 * 60}, {13 * 60, 17 * 60}},
	time.Friday:    {{8 * 60, 12 * 60}, {13 * 60, 16 * 60}},
	time.Saturday:  {{9 * 60, 12 * 60}},
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		bootLogger := zerolog.New(os.Stderr)
		bootLogger.Fatal().Err(err).Msg("config load error")
	}
	logger := logging.New(cfg, "seed")
	logger.Info().Msg("seed starting")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := db.ConnectPostgres(ctx, cfg.PostgresDSN, db.PoolOptions{MaxConns: 4, MinConns: 1})
	if err != nil {
		logger.Fatal().Err(err).Msg("connect postgres")
	}
	defer pool.Close()

	faker := gofakeit.New(uint64(time.Now().UnixNano()))

	doctors, err := seedDoctors(context.Background(), pool, faker, doctorCount, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("seed doctors")
	}
	if err := seedPatients(context.Background(), pool, faker, patientCount, logger); err != nil {
		logger.Fatal().Err(err).Msg("seed patients")
	}
	if err := seedBlocks(context.Background(), pool, faker, doctors, logger); err != nil {
		logger.Fatal().Err(err).Msg("seed time blocks")
	}

	logger.Info().Msg("seed complete")
}

func minuteTime(m int) pgtype.Time {
	return pgtype.Time{Microseconds: int64(m) * int64(time.Minute/time.Microsecond), Valid: true}
}

func seedDoctors(ctx context.Context, pool *pgxpool.Pool, faker *gofakeit.Faker, count int, logger zerolog.Logger) ([]uuid.UUID, error) {
	logger.Info().Int("count", count).Msg("seeding doctors")

	tx, err := pool.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	ids := make([]uuid.UUID, 0, count)
	for i := 0; i < count; i++ {
		id := uuid.New()
		price := int64(faker.Number(50, 400)) * 100

		_, err := tx.Exec(ctx, `
			INSERT INTO doctors (id, name, specialty, slot_duration_minutes, timezone, active, accepts_insurance, consultation_price)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		`, id, "Dr. "+faker.Name(), faker.RandomString(specialties),
			slotDurations[faker.Number(0, len(slotDurations)-1)],
			faker.RandomString(timezones),
			faker.Float32Range(0, 1) > 0.05,
			faker.Bool(),
			price,
		)
		if err != nil {
			return nil, err
		}

		batch := &pgx.Batch{}
		for day, shifts := range weekTemplate {
			for _, s := range shifts {
				batch.Queue(`
					INSERT INTO doctor_availability (id, doctor_id, day_of_week, start_time, end_time, active)
					VALUES ($1, $2, $3, $4, $5, true)
				`, uuid.New(), id, int16(day), minuteTime(s.start), minuteTime(s.end))
			}
		}
		if err := tx.SendBatch(ctx, batch).Close(); err != nil {
			return nil, err
		}

		ids = append(ids, id)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}

	logger.Info().Msg("doctors seeded")
	return ids, nil
}

func seedPatients(ctx context.Context, pool *pgxpool.Pool, faker *gofakeit.Faker, count int, logger zerolog.Logger) error {
	logger.Info().Int("count", count).Msg("seeding patients")

	const batchSize = 500

	for offset := 0; offset < count; offset += batchSize {
		end := min(offset+batchSize, count)

		batch := &pgx.Batch{}
		for i := offset; i < end; i++ {
			batch.Queue(`
				INSERT INTO patients (id, name, email)
				VALUES ($1, $2, $3)
			`, uuid.New(), faker.Name(), faker.Email())
		}
		if err := pool.SendBatch(ctx, batch).Close(); err != nil {
			return err
		}

		logger.Info().Int("done", end).Int("total", count).Msg("patients seeded")
	}

	return nil
}

// seedBlocks gives roughly one doctor in three a blocked hour on some of
// the coming days.
func seedBlocks(ctx context.Context, pool *pgxpool.Pool, faker *gofakeit.Faker, doctors []uuid.UUID, logger zerolog.Logger) error {
	today := time.Now().UTC().Truncate(24 * time.Hour)

	batch := &pgx.Batch{}
	for _, id := range doctors {
		if faker.Number(0, 2) != 0 {
			continue
		}
		for d := 1; d <= blockDays; d++ {
			if faker.Number(0, 4) != 0 {
				continue
			}
			start := today.AddDate(0, 0, d).Add(time.Duration(faker.Number(9, 15)) * time.Hour)
			batch.Queue(`
				INSERT INTO time_blocks (id, doctor_id, start_at, end_at, reason)
				VALUES ($1, $2, $3, $4, $5)
			`, uuid.New(), id, start, start.Add(time.Hour), faker.RandomString(blockReasons))
		}
	}

	logger.Info().Int("count", batch.Len()).Msg("seeding time blocks")
	return pool.SendBatch(ctx, batch).Close()
}
