// Command seed-db provisions partners and API keys for local development.
package main

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"flag"
	"log/slog"
	"os"
	"os/signal"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/swiftsip/dispatch/internal/storage/postgres"
)

type partnerJSON struct {
	ID                 string  `json:"id"`
	Name               string  `json:"name"`
	Mobile             string  `json:"mobile"`
	Email              string  `json:"email"`
	DrivingLicense     string  `json:"driving_license"`
	LiquorLicense      string  `json:"liquor_license"`
	VehicleModel       string  `json:"vehicle_model"`
	LicensePlate       string  `json:"license_plate"`
	VerificationStatus string  `json:"verification_status"`
	Rating             float64 `json:"rating"`
	TotalDeliveries    int     `json:"total_deliveries"`
	AcceptanceRate     float64 `json:"acceptance_rate"`
	CompletionRate     float64 `json:"completion_rate"`
	APIKey             string  `json:"api_key"`
}

func main() {
	var (
		databaseURL  string
		partnersFile string
		adminKey     string
		apiKeyPepper string
	)

	flag.StringVar(&databaseURL, "database-url", "", "PostgreSQL connection URL (or DATABASE_URL env)")
	flag.StringVar(&partnersFile, "partners-file", "db/seed/partners.json", "path to partners JSON file")
	flag.StringVar(&adminKey, "admin-key", "", "assigner API key to seed (or DISPATCH_SEED_ADMIN_KEY env)")
	flag.StringVar(&apiKeyPepper, "api-key-pepper", "", "HMAC pepper for API key hashing (or DISPATCH_API_KEY_PEPPER env)")
	flag.Parse()

	if databaseURL == "" {
		databaseURL = os.Getenv("DATABASE_URL")
	}
	if databaseURL == "" {
		slog.Error("database URL is required: set --database-url or DATABASE_URL")
		os.Exit(1)
	}
	if adminKey == "" {
		adminKey = os.Getenv("DISPATCH_SEED_ADMIN_KEY")
	}
	if adminKey == "" {
		slog.Error("admin key is required: set --admin-key or DISPATCH_SEED_ADMIN_KEY")
		os.Exit(1)
	}
	if apiKeyPepper == "" {
		apiKeyPepper = os.Getenv("DISPATCH_API_KEY_PEPPER")
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	if err := run(ctx, databaseURL, partnersFile, adminKey, apiKeyPepper); err != nil {
		slog.Error("seed failed", slog.String("error", err.Error()))
		os.Exit(1)
	}

	slog.Info("seed completed successfully")
}

func run(ctx context.Context, databaseURL, partnersFile, adminKey, pepper string) error {
	slog.Info("connecting to database")

	pool, err := postgres.NewPool(ctx, databaseURL)
	if err != nil {
		return errors.Wrap(err, "connect to database")
	}
	defer pool.Close()

	slog.Info("running migrations")

	if err := postgres.RunMigrations(ctx, pool); err != nil {
		return errors.Wrap(err, "run migrations")
	}

	if err := seedPartners(ctx, pool, partnersFile, pepper); err != nil {
		return errors.Wrap(err, "seed partners")
	}

	if err := seedAPIKey(ctx, pool, "assigner", "", adminKey, pepper, []string{"admin"}); err != nil {
		return errors.Wrap(err, "seed assigner key")
	}

	return nil
}

const upsertPartnerSQL = `
INSERT INTO partners (
    id, name, mobile, email, driving_license, liquor_license,
    vehicle_model, license_plate, verification_status,
    rating, total_deliveries, acceptance_rate, completion_rate
) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
ON CONFLICT (id) DO UPDATE SET
    name = EXCLUDED.name,
    mobile = EXCLUDED.mobile,
    email = EXCLUDED.email,
    driving_license = EXCLUDED.driving_license,
    liquor_license = EXCLUDED.liquor_license,
    vehicle_model = EXCLUDED.vehicle_model,
    license_plate = EXCLUDED.license_plate,
    verification_status = EXCLUDED.verification_status,
    rating = EXCLUDED.rating,
    total_deliveries = EXCLUDED.total_deliveries,
    acceptance_rate = EXCLUDED.acceptance_rate,
    completion_rate = EXCLUDED.completion_rate`

func seedPartners(ctx context.Context, pool *pgxpool.Pool, partnersFile, pepper string) error {
	slog.Info("reading partners file", slog.String("path", partnersFile))

	data, err := os.ReadFile(partnersFile)
	if err != nil {
		return errors.Wrap(err, "read partners file")
	}

	var partners []partnerJSON
	if err := json.Unmarshal(data, &partners); err != nil {
		return errors.Wrap(err, "parse partners JSON")
	}

	slog.Info("upserting partners", slog.Int("count", len(partners)))

	for _, p := range partners {
		if _, err := pool.Exec(ctx, upsertPartnerSQL,
			p.ID, p.Name, p.Mobile, p.Email, p.DrivingLicense, p.LiquorLicense,
			p.VehicleModel, p.LicensePlate, p.VerificationStatus,
			p.Rating, p.TotalDeliveries, p.AcceptanceRate, p.CompletionRate,
		); err != nil {
			return errors.Wrapf(err, "upsert partner %s", p.ID)
		}

		slog.Info("upserted partner", slog.String("id", p.ID), slog.String("name", p.Name))

		if p.APIKey != "" {
			if err := seedAPIKey(ctx, pool, p.ID+"-key", p.ID, p.APIKey, pepper, nil); err != nil {
				return errors.Wrapf(err, "seed key for partner %s", p.ID)
			}
		}
	}

	return nil
}

const upsertAPIKeySQL = `
INSERT INTO api_keys (id, partner_id, key_hash, name, scopes, active)
VALUES ($1, $2, $3, $4, $5, TRUE)
ON CONFLICT (id) DO UPDATE SET
    partner_id = EXCLUDED.partner_id,
    key_hash = EXCLUDED.key_hash,
    name = EXCLUDED.name,
    scopes = EXCLUDED.scopes,
    active = TRUE`

func seedAPIKey(ctx context.Context, pool *pgxpool.Pool, id, partnerID, key, pepper string, scopes []string) error {
	mac := hmac.New(sha256.New, []byte(pepper))
	mac.Write([]byte(key))
	keyHash := hex.EncodeToString(mac.Sum(nil))

	if scopes == nil {
		scopes = []string{}
	}
	if _, err := pool.Exec(ctx, upsertAPIKeySQL, id, partnerID, keyHash, id, scopes); err != nil {
		return errors.Wrapf(err, "upsert API key %s", id)
	}

	slog.Info("upserted API key", slog.String("id", id), slog.String("partner_id", partnerID))
	return nil
}
