package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"

	"github.com/hibiken/asynq"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/coopbooks/coopbooks/internal/app"
	"github.com/coopbooks/coopbooks/internal/chart"
	"github.com/coopbooks/coopbooks/internal/ledger"
	"github.com/coopbooks/coopbooks/internal/platform/cache"
	"github.com/coopbooks/coopbooks/internal/platform/db"
	"github.com/coopbooks/coopbooks/jobs"
)

func main() {
	closeYear := flag.Int("close-year", 0, "enqueue a fiscal close ending in this year")
	closeMonth := flag.Int("close-month", 0, "end month of the new fiscal year (1-12)")
	closePeriod := flag.Int("close-period", 12, "period of the new fiscal year in months (12 or 13)")
	excluded := flag.String("exclude", "", "comma separated account ids protected from the close purge")
	flag.Parse()

	ctx := context.Background()

	cfg, err := app.LoadConfig()
	if err != nil {
		slog.Default().Error("load config", slog.Any("error", err))
		os.Exit(1)
	}
	logger := app.NewLogger(cfg)

	if *closeYear != 0 {
		if err := enqueueClose(ctx, cfg, logger, *closeYear, *closeMonth, *closePeriod, *excluded); err != nil {
			logger.Error("enqueue fiscal close", slog.Any("error", err))
			os.Exit(1)
		}
		return
	}

	if err := printChart(ctx, cfg); err != nil {
		logger.Error("print chart", slog.Any("error", err))
		os.Exit(1)
	}
}

func enqueueClose(ctx context.Context, cfg *app.Config, logger *slog.Logger, year, month, period int, excluded string) error {
	ids, err := parseIDs(excluded)
	if err != nil {
		return err
	}
	client, err := jobs.NewClient(asynq.RedisClientOpt{Addr: cfg.RedisAddr})
	if err != nil {
		return err
	}
	defer func() {
		if err := client.Close(); err != nil {
			logger.Warn("asynq close", slog.Any("error", err))
		}
	}()
	info, err := client.EnqueueFiscalClose(ctx, jobs.FiscalClosePayload{
		Year:               year,
		EndMonth:           month,
		Period:             period,
		ExcludedAccountIDs: ids,
	})
	if err != nil {
		return err
	}
	logger.Info("fiscal close enqueued", slog.String("task_id", info.ID), slog.String("queue", info.Queue))
	return nil
}

func parseIDs(raw string) ([]int64, error) {
	if raw == "" {
		return nil, nil
	}
	parts := strings.Split(raw, ",")
	ids := make([]int64, 0, len(parts))
	for _, part := range parts {
		id, err := strconv.ParseInt(strings.TrimSpace(part), 10, 64)
		if err != nil {
			return nil, fmt.Errorf("parse excluded account id %q: %w", part, err)
		}
		ids = append(ids, id)
	}
	return ids, nil
}

// printChart lists every account with its current value balance. Balances
// are fetched concurrently; the derived Current Year Earnings lookup sums
// the earnings types.
func printChart(ctx context.Context, cfg *app.Config) error {
	pool, err := db.New(ctx, cfg.PGDSN)
	if err != nil {
		return err
	}
	defer pool.Close()

	var balanceCache *ledger.Cache
	if redisClient, err := cache.New(ctx, cfg.RedisAddr); err == nil {
		balanceCache = ledger.NewCache(redisClient, cfg.BalanceCacheTTL)
		defer func() { _ = redisClient.Close() }()
	}

	chartService := chart.NewService(chart.NewRepository(pool))
	ledgerService := ledger.NewService(ledger.NewRepository(pool), balanceCache)

	tree, err := chartService.GetChart(ctx)
	if err != nil {
		return err
	}

	balances := make([]decimal.Decimal, len(tree.Accounts))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(8)
	for i, account := range tree.Accounts {
		g.Go(func() error {
			balance, err := ledgerService.CurrentBalance(gctx, account.ID)
			if err != nil {
				return err
			}
			balances[i] = balance
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	for i, account := range tree.Accounts {
		fmt.Printf("%-8s %-40s %12s\n", account.FullNumber, account.Name, balances[i].StringFixed(2))
	}
	return nil
}
