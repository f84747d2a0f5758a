package main

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"math/rand"
	"os"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	_ "modernc.org/sqlite"

	"github.com/solari-labs/adctl/internal/config"
)

var (
	configPath = flag.String("config", "", "path to config file (defaults to env-based loading)")
	customerID = flag.String("customer", "", "customer ID to seed entities under (required)")
	count      = flag.Int("count", 25, "number of entities to seed per entity kind")
	clean      = flag.Bool("clean", false, "delete existing seeded rows for this customer before seeding")
)

var entityKinds = []string{"Campaign", "AdGroup", "Keyword", "Ad", "Product"}

func main() {
	flag.Parse()
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))

	if *customerID == "" {
		log.Fatal("-customer is required")
	}

	var cfg *config.Config
	var err error
	if *configPath != "" {
		cfg, err = config.LoadConfig(*configPath)
	} else {
		cfg, err = config.LoadConfigFromEnv()
	}
	if err != nil {
		log.Fatalf("loading config: %v", err)
	}

	ctx := context.Background()
	snapshotDate := time.Now().Format("2006-01-02")

	switch cfg.Profile {
	case config.ProfileLite:
		db, err := sql.Open("sqlite", cfg.Storage.FilesystemPath)
		if err != nil {
			log.Fatalf("opening sqlite database: %v", err)
		}
		defer db.Close()
		if err := seedSQLite(ctx, db, *customerID, snapshotDate, *count, *clean, logger); err != nil {
			log.Fatalf("seeding: %v", err)
		}
	case config.ProfileStandard:
		db, err := sql.Open("pgx", cfg.GetDatabaseURL())
		if err != nil {
			log.Fatalf("opening postgres database: %v", err)
		}
		defer db.Close()
		if err := seedPostgres(ctx, db, *customerID, snapshotDate, *count, *clean, logger); err != nil {
			log.Fatalf("seeding: %v", err)
		}
	default:
		log.Fatalf("unknown deployment profile %q", cfg.Profile)
	}

	logger.Info("seeding complete", "customer_id", *customerID, "entities_per_kind", *count)
}

type syntheticEntity struct {
	kind      string
	id        string
	name      string
	status    string
	adGroupID string
	matchType string
	keyword   string
	bidMicros int64
	budget    int64
	clicks    int64
	impr      int64
	cost      int64
	conv      float64
	convValue float64
}

func generateEntities(customerID string, n int) []syntheticEntity {
	rng := rand.New(rand.NewSource(1))
	var entities []syntheticEntity
	for _, kind := range entityKinds {
		for i := 0; i < n; i++ {
			e := syntheticEntity{
				kind:      kind,
				id:        fmt.Sprintf("%s-%04d", kind, i),
				name:      fmt.Sprintf("%s %d", kind, i),
				status:    "ENABLED",
				bidMicros: int64(500_000 + rng.Intn(4_500_000)),
				budget:    int64(10_000_000 + rng.Intn(90_000_000)),
				impr:      int64(rng.Intn(50_000)),
			}
			e.clicks = int64(float64(e.impr) * (0.01 + rng.Float64()*0.08))
			e.cost = e.clicks * int64(200_000+rng.Intn(800_000))
			e.conv = float64(e.clicks) * (0.02 + rng.Float64()*0.1)
			e.convValue = e.conv * float64(20_000_000+rng.Intn(80_000_000))
			if kind == "Keyword" {
				matchTypes := []string{"EXACT", "PHRASE", "BROAD"}
				e.adGroupID = fmt.Sprintf("AdGroup-%04d", i%n)
				e.matchType = matchTypes[i%len(matchTypes)]
				e.keyword = fmt.Sprintf("keyword phrase %d", i)
			}
			entities = append(entities, e)
		}
	}
	return entities
}

func seedSQLite(ctx context.Context, db *sql.DB, customerID, snapshotDate string, n int, clean bool, logger *slog.Logger) error {
	if clean {
		for _, table := range []string{"entity_snapshot", "entity_metrics_windowed", "entity_metrics_daily"} {
			if _, err := db.ExecContext(ctx, "DELETE FROM "+table+" WHERE customer_id = ?", customerID); err != nil {
				return fmt.Errorf("cleaning %s: %w", table, err)
			}
		}
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for _, e := range generateEntities(customerID, n) {
		if _, err := tx.ExecContext(ctx, `
			INSERT OR REPLACE INTO entity_snapshot
				(customer_id, entity_kind, entity_id, name, status, ad_group_id, match_type, keyword_text, bid_micros, budget_micros)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			customerID, e.kind, e.id, e.name, e.status, nullStr(e.adGroupID), nullStr(e.matchType), nullStr(e.keyword), e.bidMicros, e.budget); err != nil {
			return fmt.Errorf("inserting entity_snapshot %s: %w", e.id, err)
		}

		if _, err := tx.ExecContext(ctx, `
			INSERT OR REPLACE INTO entity_metrics_windowed
				(customer_id, entity_kind, entity_id, snapshot_date,
				 clicks_7d, impressions_7d, cost_micros_7d, conversions_7d, conv_value_7d,
				 clicks_30d, impressions_30d, cost_micros_30d, conversions_30d, conv_value_30d)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			customerID, e.kind, e.id, snapshotDate,
			e.clicks/4, e.impr/4, e.cost/4, e.conv/4, e.convValue/4,
			e.clicks, e.impr, e.cost, e.conv, e.convValue); err != nil {
			return fmt.Errorf("inserting entity_metrics_windowed %s: %w", e.id, err)
		}

		if _, err := tx.ExecContext(ctx, `
			INSERT OR REPLACE INTO entity_metrics_daily
				(customer_id, entity_kind, entity_id, metric_date, impressions, clicks, cost_micros, conversions, conversions_value)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			customerID, e.kind, e.id, snapshotDate, e.impr/30, e.clicks/30, e.cost/30, e.conv/30, e.convValue/30); err != nil {
			return fmt.Errorf("inserting entity_metrics_daily %s: %w", e.id, err)
		}
	}

	return tx.Commit()
}

func seedPostgres(ctx context.Context, db *sql.DB, customerID, snapshotDate string, n int, clean bool, logger *slog.Logger) error {
	if clean {
		for _, table := range []string{
			"analytics.entity_snapshot", "analytics.entity_metrics_windowed", "analytics.entity_metrics_daily",
		} {
			if _, err := db.ExecContext(ctx, "DELETE FROM "+table+" WHERE customer_id = $1", customerID); err != nil {
				return fmt.Errorf("cleaning %s: %w", table, err)
			}
		}
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for _, e := range generateEntities(customerID, n) {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO analytics.entity_snapshot
				(customer_id, entity_kind, entity_id, name, status, ad_group_id, match_type, keyword_text, bid_micros, budget_micros)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
			ON CONFLICT (customer_id, entity_kind, entity_id) DO UPDATE SET
				name = EXCLUDED.name, status = EXCLUDED.status, ad_group_id = EXCLUDED.ad_group_id,
				match_type = EXCLUDED.match_type, keyword_text = EXCLUDED.keyword_text,
				bid_micros = EXCLUDED.bid_micros, budget_micros = EXCLUDED.budget_micros`,
			customerID, e.kind, e.id, e.name, e.status, nullStr(e.adGroupID), nullStr(e.matchType), nullStr(e.keyword), e.bidMicros, e.budget); err != nil {
			return fmt.Errorf("inserting entity_snapshot %s: %w", e.id, err)
		}

		if _, err := tx.ExecContext(ctx, `
			INSERT INTO analytics.entity_metrics_windowed
				(customer_id, entity_kind, entity_id, snapshot_date,
				 clicks_7d, impressions_7d, cost_micros_7d, conversions_7d, conv_value_7d,
				 clicks_30d, impressions_30d, cost_micros_30d, conversions_30d, conv_value_30d)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
			ON CONFLICT (customer_id, entity_kind, entity_id, snapshot_date) DO UPDATE SET
				clicks_7d = EXCLUDED.clicks_7d, impressions_7d = EXCLUDED.impressions_7d,
				cost_micros_7d = EXCLUDED.cost_micros_7d, conversions_7d = EXCLUDED.conversions_7d,
				conv_value_7d = EXCLUDED.conv_value_7d, clicks_30d = EXCLUDED.clicks_30d,
				impressions_30d = EXCLUDED.impressions_30d, cost_micros_30d = EXCLUDED.cost_micros_30d,
				conversions_30d = EXCLUDED.conversions_30d, conv_value_30d = EXCLUDED.conv_value_30d`,
			customerID, e.kind, e.id, snapshotDate,
			e.clicks/4, e.impr/4, e.cost/4, e.conv/4, e.convValue/4,
			e.clicks, e.impr, e.cost, e.conv, e.convValue); err != nil {
			return fmt.Errorf("inserting entity_metrics_windowed %s: %w", e.id, err)
		}

		if _, err := tx.ExecContext(ctx, `
			INSERT INTO analytics.entity_metrics_daily
				(customer_id, entity_kind, entity_id, metric_date, impressions, clicks, cost_micros, conversions, conversions_value)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
			ON CONFLICT (customer_id, entity_kind, entity_id, metric_date) DO UPDATE SET
				impressions = EXCLUDED.impressions, clicks = EXCLUDED.clicks, cost_micros = EXCLUDED.cost_micros,
				conversions = EXCLUDED.conversions, conversions_value = EXCLUDED.conversions_value`,
			customerID, e.kind, e.id, snapshotDate, e.impr/30, e.clicks/30, e.cost/30, e.conv/30, e.convValue/30); err != nil {
			return fmt.Errorf("inserting entity_metrics_daily %s: %w", e.id, err)
		}
	}

	return tx.Commit()
}

func nullStr(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}
