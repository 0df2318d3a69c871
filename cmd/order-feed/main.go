// Command order-feed imports historical terminal orders from gzipped NDJSON
// exports into the orders table. Only delivered and cancelled orders are
// accepted; the live lifecycle owns everything else.
package main

import (
	"bufio"
	"context"
	"encoding/json"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"time"

	"github.com/bits-and-blooms/bloom/v3"
	"github.com/go-faster/errors"
	pgzip "github.com/klauspost/pgzip"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/swiftsip/dispatch/internal/domain/order"
	"github.com/swiftsip/dispatch/internal/storage/postgres"
)

const (
	bloomCapacity = 10_000_000
	bloomFPR      = 0.001
	maxWorkers    = 4
	progressEvery = 100_000
)

// orderJSON mirrors one line of the export format.
type orderJSON struct {
	ID              string `json:"id"`
	PartnerID       string `json:"partner_id"`
	VendorName      string `json:"vendor_name"`
	VendorAddress   string `json:"vendor_address"`
	CustomerName    string `json:"customer_name"`
	CustomerAddress string `json:"customer_address"`
	CustomerPhone   string `json:"customer_phone"`
	Items           []struct {
		Name      string          `json:"name"`
		Quantity  int             `json:"quantity"`
		UnitPrice decimal.Decimal `json:"unit_price"`
	} `json:"items"`
	TotalAmount   decimal.Decimal `json:"total_amount"`
	DeliveryFee   decimal.Decimal `json:"delivery_fee"`
	Status        string          `json:"status"`
	PaymentMethod string          `json:"payment_method"`
	EstimatedTime string          `json:"estimated_time"`
	Distance      string          `json:"distance"`
	AssignedAt    time.Time       `json:"assigned_at"`
	AcceptedAt    *time.Time      `json:"accepted_at"`
	PickedUpAt    *time.Time      `json:"picked_up_at"`
	DeliveredAt   *time.Time      `json:"delivered_at"`
	CancelReason  string          `json:"cancel_reason"`
	CancelCause   string          `json:"cancel_cause"`
}

// seenFilter is a bloom filter shared across file workers. False positives
// only cost a skipped insert retry; the ON CONFLICT guard on the orders table
// is the actual dedup authority.
type seenFilter struct {
	mu     sync.Mutex
	filter *bloom.BloomFilter
}

func (s *seenFilter) testAndAdd(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.filter.TestAndAddString(id)
}

func main() {
	var (
		dataDir     string
		databaseURL string
	)

	flag.StringVar(&dataDir, "data-dir", "data", "directory containing orders-*.ndjson.gz exports")
	flag.StringVar(&databaseURL, "database-url", "", "PostgreSQL connection URL (or DATABASE_URL env)")
	flag.Parse()

	if databaseURL == "" {
		databaseURL = os.Getenv("DATABASE_URL")
	}
	if databaseURL == "" {
		slog.Error("database URL is required: set --database-url or DATABASE_URL")
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	if err := run(ctx, dataDir, databaseURL); err != nil {
		slog.Error("order feed import failed", slog.String("error", err.Error()))
		os.Exit(1)
	}

	slog.Info("order feed import completed successfully")
}

func run(ctx context.Context, dataDir, databaseURL string) error {
	files, err := filepath.Glob(filepath.Join(dataDir, "orders-*.ndjson.gz"))
	if err != nil {
		return errors.Wrap(err, "glob exports")
	}
	if len(files) == 0 {
		return errors.Errorf("no orders-*.ndjson.gz files in %s", dataDir)
	}

	slog.Info("connecting to database")

	pool, err := postgres.NewPool(ctx, databaseURL)
	if err != nil {
		return errors.Wrap(err, "connect to database")
	}
	defer pool.Close()

	if err := postgres.RunMigrations(ctx, pool); err != nil {
		return errors.Wrap(err, "run migrations")
	}

	repo := postgres.NewOrderRepository(pool)
	seen := &seenFilter{filter: bloom.NewWithEstimates(bloomCapacity, bloomFPR)}

	slog.Info("importing exports", slog.Int("files", len(files)))

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(maxWorkers)
	for _, f := range files {
		g.Go(importFile(ctx, f, repo, seen))
	}
	return g.Wait()
}

func importFile(ctx context.Context, path string, repo *postgres.OrderRepository, seen *seenFilter) func() error {
	return func() error {
		var total, imported, skipped uint64

		if err := streamGzFile(ctx, path, func(line []byte) error {
			total++
			if total%progressEvery == 0 {
				slog.Info("import progress",
					slog.String("file", filepath.Base(path)),
					slog.Uint64("lines", total),
				)
			}

			var row orderJSON
			if err := json.Unmarshal(line, &row); err != nil {
				slog.Warn("skipping malformed line",
					slog.String("file", filepath.Base(path)),
					slog.Uint64("line", total),
				)
				skipped++
				return nil
			}

			o, err := toOrder(row)
			if err != nil {
				slog.Warn("skipping order",
					slog.String("id", row.ID),
					slog.String("reason", err.Error()),
				)
				skipped++
				return nil
			}

			if seen.testAndAdd(o.ID) {
				skipped++
				return nil
			}

			if err := repo.Append(ctx, o); err != nil {
				return errors.Wrapf(err, "append order %s", o.ID)
			}
			imported++
			return nil
		}); err != nil {
			return errors.Wrapf(err, "import %s", path)
		}

		slog.Info("file complete",
			slog.String("file", filepath.Base(path)),
			slog.Uint64("imported", imported),
			slog.Uint64("skipped", skipped),
		)
		return nil
	}
}

func toOrder(row orderJSON) (*order.Order, error) {
	if row.ID == "" || row.PartnerID == "" {
		return nil, errors.New("missing id or partner_id")
	}

	status, err := order.ParseStatus(row.Status)
	if err != nil {
		return nil, err
	}
	if !status.Terminal() {
		return nil, errors.Errorf("non-terminal status %q", row.Status)
	}

	o := &order.Order{
		ID:              row.ID,
		PartnerID:       row.PartnerID,
		VendorName:      row.VendorName,
		VendorAddress:   row.VendorAddress,
		CustomerName:    row.CustomerName,
		CustomerAddress: row.CustomerAddress,
		CustomerPhone:   row.CustomerPhone,
		TotalAmount:     row.TotalAmount,
		DeliveryFee:     row.DeliveryFee,
		Status:          status,
		PaymentMethod:   row.PaymentMethod,
		EstimatedTime:   row.EstimatedTime,
		Distance:        row.Distance,
		AssignedAt:      row.AssignedAt,
		AcceptedAt:      row.AcceptedAt,
		PickedUpAt:      row.PickedUpAt,
		DeliveredAt:     row.DeliveredAt,
		CancelReason:    row.CancelReason,
		CancelCause:     order.CancelCause(row.CancelCause),
	}
	for _, it := range row.Items {
		o.Items = append(o.Items, order.LineItem{
			Name:      it.Name,
			Quantity:  it.Quantity,
			UnitPrice: it.UnitPrice,
		})
	}
	return o, nil
}

// streamGzFile opens a gzip-compressed file and calls fn for each line.
func streamGzFile(ctx context.Context, path string, fn func(line []byte) error) error {
	f, err := os.Open(path)
	if err != nil {
		return errors.Wrapf(err, "open %s", path)
	}
	defer func() { _ = f.Close() }()

	gz, err := pgzip.NewReader(f)
	if err != nil {
		return errors.Wrapf(err, "create gzip reader for %s", path)
	}
	defer func() { _ = gz.Close() }()

	scanner := bufio.NewScanner(gz)
	scanner.Buffer(make([]byte, 0, 1<<20), 1<<20)
	for scanner.Scan() {
		if err := ctx.Err(); err != nil {
			return err
		}
		if len(scanner.Bytes()) == 0 {
			continue
		}
		if err := fn(scanner.Bytes()); err != nil {
			return err
		}
	}

	if err := scanner.Err(); err != nil {
		return errors.Wrapf(err, "scan %s", path)
	}

	return nil
}
