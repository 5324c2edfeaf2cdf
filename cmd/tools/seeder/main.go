package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/alexedwards/argon2id"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"

	"github.com/noah-isme/backend-fotoko/internal/auth"
	"github.com/noah-isme/backend-fotoko/internal/db"
	"github.com/noah-isme/backend-fotoko/internal/obs"
)

type seedEvent struct {
	Slug     string
	Name     string
	Location string
	Date     string
	Photos   int
}

var events = []seedEvent{
	{"maraton-ciudad-2024", "Maratón de la Ciudad 2024", "Buenos Aires", "2024-10-06", 24},
	{"triatlon-costa", "Triatlón de la Costa", "Mar del Plata", "2024-11-17", 16},
	{"fiesta-fin-de-curso", "Fiesta de fin de curso", "Córdoba", "2024-12-13", 12},
}

type seedCoupon struct {
	Code        string
	Kind        string
	PercentBps  int32
	AmountMinor int64
	FreePhotos  int32
}

var coupons = []seedCoupon{
	{Code: "BIENVENIDA10", Kind: "PERCENTAGE", PercentBps: 1000},
	{Code: "MENOS30", Kind: "FIXED", AmountMinor: 3000},
	{Code: "DOSGRATIS", Kind: "FIXED", FreePhotos: 2},
}

func main() {
	_ = godotenv.Load()
	logger := obs.NewLogger(os.Getenv("LOG_FORMAT"), "info").With().Str("component", "seeder").Logger()

	dsn := os.Getenv("DATABASE_URL")
	if dsn == "" {
		logger.Fatal().Msg("DATABASE_URL is not set")
	}
	if err := db.Migrate(dsn); err != nil {
		logger.Fatal().Err(err).Msg("apply migrations")
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()
	pool, err := db.Open(ctx, db.PoolConfig{URL: dsn, ApplicationName: "fotoko-seeder"})
	if err != nil {
		logger.Fatal().Err(err).Msg("open database")
	}
	defer pool.Close()
	q := db.New(pool)

	if err := seedAdmin(ctx, q, logger); err != nil {
		logger.Fatal().Err(err).Msg("seed admin")
	}
	for _, e := range events {
		if err := seedCatalog(ctx, q, e, logger); err != nil {
			logger.Fatal().Err(err).Str("event", e.Slug).Msg("seed event")
		}
	}
	for _, c := range coupons {
		if err := seedCouponRow(ctx, q, c); err != nil {
			logger.Fatal().Err(err).Str("coupon", c.Code).Msg("seed coupon")
		}
	}
	logger.Info().Msg("seeding completed")
}

func seedAdmin(ctx context.Context, q *db.Queries, log zerolog.Logger) error {
	email := valueOr(os.Getenv("SEED_ADMIN_EMAIL"), "admin@fotoko.local")
	password := valueOr(os.Getenv("SEED_ADMIN_PASSWORD"), "fotoko-admin")
	hash, err := argon2id.CreateHash(password, argon2id.DefaultParams)
	if err != nil {
		return err
	}
	_, err = q.CreateUser(ctx, db.CreateUserParams{
		Name:         "Admin",
		Email:        email,
		PasswordHash: hash,
		Roles:        []string{auth.RoleAdmin},
	})
	if isUniqueViolation(err) {
		// Existing account: make sure it can reach the admin routes.
		_, err = q.SetUserRoles(ctx, email, []string{auth.RoleAdmin})
	}
	if err != nil {
		return err
	}
	log.Info().Str("email", email).Msg("admin ready")
	return nil
}

func seedCatalog(ctx context.Context, q *db.Queries, e seedEvent, log zerolog.Logger) error {
	if _, err := q.GetEventBySlug(ctx, e.Slug); err == nil {
		log.Info().Str("event", e.Slug).Msg("event exists, skipping")
		return nil
	} else if !errors.Is(err, pgx.ErrNoRows) {
		return err
	}

	day, err := time.Parse("2006-01-02", e.Date)
	if err != nil {
		return err
	}
	event, err := q.CreateEvent(ctx, db.CreateEventParams{
		Slug:      e.Slug,
		Name:      e.Name,
		Location:  e.Location,
		EventDate: pgtype.Date{Time: day, Valid: true},
		CoverUrl:  picsum(e.Slug, 0),
		Published: true,
	})
	if err != nil {
		return err
	}
	for i := 1; i <= e.Photos; i++ {
		if _, err := q.CreatePhoto(ctx, db.CreatePhotoParams{
			EventID:     event.ID,
			Url:         picsum(e.Slug, i),
			Filename:    fmt.Sprintf("%s-%03d.jpg", e.Slug, i),
			ContentType: "image/jpeg",
		}); err != nil {
			return err
		}
	}
	log.Info().Str("event", e.Slug).Int("photos", e.Photos).Msg("event seeded")
	return nil
}

func seedCouponRow(ctx context.Context, q *db.Queries, c seedCoupon) error {
	_, err := q.CreateCoupon(ctx, db.CreateCouponParams{
		Code:        c.Code,
		Kind:        c.Kind,
		PercentBps:  c.PercentBps,
		AmountMinor: c.AmountMinor,
		FreePhotos:  c.FreePhotos,
		Active:      true,
	})
	if isUniqueViolation(err) {
		return nil
	}
	return err
}

func picsum(seed string, n int) string {
	return fmt.Sprintf("https://picsum.photos/seed/%s-%d/1200/800", seed, n)
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

func valueOr(v, fallback string) string {
	if v == "" {
		return fallback
	}
	return v
}
