// Command listening-stats ingests Spotify play history into PostgreSQL and
// serves pre-aggregated listening stats.
//
// Usage:
//
//	listening-stats [serve|ingest|aggregate|seed-buckets|migrate] [flags]
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/justestif/go-listening-stats/internal/aggregate"
	"github.com/justestif/go-listening-stats/internal/auth"
	"github.com/justestif/go-listening-stats/internal/buckets"
	"github.com/justestif/go-listening-stats/internal/canonical"
	"github.com/justestif/go-listening-stats/internal/config"
	"github.com/justestif/go-listening-stats/internal/db"
	"github.com/justestif/go-listening-stats/internal/ingest"
	"github.com/justestif/go-listening-stats/internal/lock"
	"github.com/justestif/go-listening-stats/internal/logging"
	"github.com/justestif/go-listening-stats/internal/scheduler"
	"github.com/justestif/go-listening-stats/internal/spotify"
	"github.com/justestif/go-listening-stats/internal/stats"
	"github.com/justestif/go-listening-stats/internal/web"
)

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	cmd := "serve"
	if len(args) > 0 && args[0] != "" && args[0][0] != '-' {
		cmd, args = args[0], args[1:]
	}

	load := config.Load
	if cmd == "migrate" || cmd == "seed-buckets" {
		load = config.LoadStorage
	}
	cfg, err := load()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	logging.Init(logging.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Caller: cfg.Logging.Caller,
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	switch cmd {
	case "serve":
		return serve(ctx, cfg)
	case "ingest":
		return ingestOnce(ctx, cfg)
	case "aggregate":
		return aggregateCmd(ctx, cfg, args)
	case "seed-buckets":
		return seedBuckets(ctx, cfg, args)
	case "migrate":
		return migrate(ctx, cfg)
	default:
		return fmt.Errorf("unknown command %q (want serve, ingest, aggregate, seed-buckets or migrate)", cmd)
	}
}

// app holds the wired services.
type app struct {
	db        *db.DB
	ingest    *ingest.Service
	aggregate *aggregate.Service
	stats     *stats.Service
}

func (a *app) Close() {
	a.ingest.Wait()
	a.db.Close()
}

func openDB(ctx context.Context, cfg *config.Config) (*db.DB, error) {
	database, err := db.New(ctx, cfg.Database.URL, db.WithMaxConns(cfg.Database.MaxConns))
	if err != nil {
		return nil, fmt.Errorf("connecting to database: %w", err)
	}
	return database, nil
}

func newApp(ctx context.Context, cfg *config.Config) (*app, error) {
	database, err := openDB(ctx, cfg)
	if err != nil {
		return nil, err
	}
	if cfg.Database.MigrateOnStart {
		if err := applyMigrations(ctx, database); err != nil {
			database.Close()
			return nil, err
		}
	}

	var authOpts []auth.Option
	if cfg.Spotify.TokenCachePath != "" {
		authOpts = append(authOpts, auth.WithTokenCache(auth.NewTokenCache(cfg.Spotify.TokenCachePath)))
	}
	authenticator, err := auth.New(cfg.Spotify.ClientID, cfg.Spotify.ClientSecret, cfg.Spotify.RefreshToken, authOpts...)
	if err != nil {
		database.Close()
		return nil, fmt.Errorf("creating authenticator: %w", err)
	}
	httpClient, err := authenticator.Client(context.WithoutCancel(ctx))
	if err != nil {
		database.Close()
		return nil, fmt.Errorf("creating spotify client: %w", err)
	}

	client := spotify.New(httpClient,
		spotify.WithBaseURL(cfg.Spotify.APIURL),
		spotify.WithFetchTimeout(cfg.Spotify.FetchTimeout),
		spotify.WithPaging(cfg.Spotify.PageLimit, cfg.Spotify.MaxPages),
		spotify.WithRateLimit(cfg.Spotify.RequestsPerSecond),
		spotify.WithImageWidth(cfg.Spotify.ImageWidth),
	)

	locker := newLocker(cfg, database)

	catalog := database.Catalog().WithBatchSize(cfg.Ingest.BatchSize)
	enricher := ingest.NewImageEnricher(client, catalog,
		ingest.WithEnrichConcurrency(cfg.Ingest.EnrichConcurrency),
		ingest.WithChunkSize(cfg.Ingest.ChunkSize),
	)

	return &app{
		db: database,
		ingest: ingest.New(client, database.Plays(), catalog,
			ingest.WithLocker(locker),
			ingest.WithImageEnricher(enricher),
			ingest.WithCanonicalResolver(canonical.NewResolver(database.Canonical())),
			ingest.WithFetchTimeout(cfg.Spotify.FetchTimeout),
			ingest.WithEnrichTimeout(cfg.Ingest.EnrichTimeout),
		),
		aggregate: aggregate.New(database.Stats(),
			aggregate.WithLocker(locker),
			aggregate.WithDays(cfg.Aggregate.Days),
		),
		stats: stats.New(database.Stats(),
			stats.WithTopN(cfg.Stats.TopN),
			stats.WithMaxRangeDays(cfg.Stats.MaxRangeDays),
			stats.WithDefaultImage(cfg.Stats.DefaultImageURL),
		),
	}, nil
}

func newLocker(cfg *config.Config, database *db.DB) lock.Locker {
	if cfg.Lock.Mode == config.LockModePostgres {
		return database.Locker()
	}
	return lock.NewLocal()
}

func serve(ctx context.Context, cfg *config.Config) error {
	a, err := newApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.Close()
	checkData(ctx, a.db)

	tree := scheduler.NewTree("listening-stats", scheduler.DefaultTreeConfig())
	jobs := []*scheduler.Job{
		{
			Name:       ingest.LockName,
			Interval:   cfg.Ingest.Interval,
			RunOnStart: cfg.Ingest.RunOnStart,
			Run: func(ctx context.Context) error {
				_, err := a.ingest.Run(ctx)
				return err
			},
		},
		{
			Name:       aggregate.LockName,
			Interval:   cfg.Aggregate.Interval,
			RunOnStart: cfg.Aggregate.RunOnStart,
			Run: func(ctx context.Context) error {
				_, err := a.aggregate.AggregateRecent(ctx, time.Now())
				return err
			},
		},
	}
	for _, j := range jobs {
		if _, err := tree.AddJob(j); err != nil {
			return err
		}
	}

	handlers := web.NewHandlers(a.ingest, a.aggregate, a.stats, a.db,
		web.WithCacheMaxAge(cfg.Server.CacheMaxAge),
	)
	tree.AddAPI(web.NewServer(web.ServerConfig{
		Addr:            cfg.Server.Addr,
		ReadTimeout:     cfg.Server.ReadTimeout,
		WriteTimeout:    cfg.Server.WriteTimeout,
		IdleTimeout:     cfg.Server.IdleTimeout,
		ShutdownTimeout: cfg.Server.ShutdownTimeout,
		CronToken:       cfg.Cron.Token,
		CORSOrigins:     cfg.Server.CORSOrigins,
		RateLimit:       cfg.Server.RateLimit,
		RateWindow:      cfg.Server.RateWindow,
	}, handlers))

	logging.Info().Str("addr", cfg.Server.Addr).Str("lock_mode", cfg.Lock.Mode).Msg("listening-stats starting")
	err = tree.Root().Serve(ctx)
	if err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("supervisor: %w", err)
	}
	logging.Info().Msg("listening-stats stopped")
	return nil
}

// checkData logs how much data is stored and warns when no buckets are seeded.
func checkData(ctx context.Context, database *db.DB) {
	plays, err := database.Plays().Count(ctx)
	if err != nil {
		logging.Warn().Err(err).Msg("counting plays")
	}
	first, last, err := database.Buckets().YearRange(ctx)
	switch {
	case errors.Is(err, db.ErrNotFound):
		logging.Warn().Msg("no buckets seeded; run seed-buckets or rollups will be skipped")
	case err != nil:
		logging.Warn().Err(err).Msg("reading seeded years")
	default:
		logging.Info().Int("plays", plays).Int("first_year", first).Int("last_year", last).Msg("stored data")
	}
}

func ingestOnce(ctx context.Context, cfg *config.Config) error {
	a, err := newApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	res, err := a.ingest.Run(ctx)
	if err != nil {
		return fmt.Errorf("ingesting: %w", err)
	}
	fmt.Printf("Fetched %d plays, stored %d new (%d rejected) in %s\n",
		res.Fetched, res.NewPlays, res.Rejected, res.Elapsed.Round(time.Millisecond))
	return nil
}

func aggregateCmd(ctx context.Context, cfg *config.Config, args []string) error {
	fs := flag.NewFlagSet("aggregate", flag.ContinueOnError)
	from := fs.String("from", "", "first day to rebuild (YYYY-MM-DD); default is the recent window")
	to := fs.String("to", "", "last day to rebuild (YYYY-MM-DD); default is today")
	if err := fs.Parse(args); err != nil {
		return err
	}

	a, err := newApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	var res *aggregate.Result
	if *from == "" {
		res, err = a.aggregate.AggregateRecent(ctx, time.Now())
	} else {
		start, perr := buckets.ParseDate(*from)
		if perr != nil {
			return fmt.Errorf("parsing -from: %w", perr)
		}
		end := buckets.Day(time.Now())
		if *to != "" {
			if end, perr = buckets.ParseDate(*to); perr != nil {
				return fmt.Errorf("parsing -to: %w", perr)
			}
		}
		res, err = a.aggregate.AggregateRange(ctx, start, end)
	}
	if err != nil {
		return fmt.Errorf("aggregating: %w", err)
	}

	for _, d := range res.Days {
		fmt.Printf("%s  %4d plays  %3d tracks  %3d artists\n", d.Date, d.Plays, d.Tracks, d.Artists)
	}
	fmt.Printf("Rebuilt %d days in %s\n", len(res.Days), res.Elapsed.Round(time.Millisecond))
	return nil
}

func seedBuckets(ctx context.Context, cfg *config.Config, args []string) error {
	fs := flag.NewFlagSet("seed-buckets", flag.ContinueOnError)
	from := fs.Int("from", 2015, "first year")
	to := fs.Int("to", 2035, "last year")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *to < *from {
		return fmt.Errorf("-to %d is before -from %d", *to, *from)
	}

	set := buckets.Generate(*from, *to)
	if err := buckets.Validate(set); err != nil {
		return fmt.Errorf("generated buckets: %w", err)
	}

	database, err := openDB(ctx, cfg)
	if err != nil {
		return err
	}
	defer database.Close()

	if err := database.Buckets().Seed(ctx, set); err != nil {
		return fmt.Errorf("seeding buckets: %w", err)
	}
	fmt.Printf("Seeded %d years, %d months, %d weeks\n", len(set.Years), len(set.Months), len(set.Weeks))

	// Days aggregated before their buckets existed only have day rows.
	res, err := aggregate.New(database.Stats(), aggregate.WithLocker(newLocker(cfg, database))).RollUpStored(ctx)
	if err != nil {
		return fmt.Errorf("rolling up stored days: %w", err)
	}
	if res.Start != "" {
		fmt.Printf("Rolled up %d buckets covering %s..%s\n", len(res.Buckets), res.Start, res.End)
	}
	return nil
}

func migrate(ctx context.Context, cfg *config.Config) error {
	database, err := openDB(ctx, cfg)
	if err != nil {
		return err
	}
	defer database.Close()
	return applyMigrations(ctx, database)
}

func applyMigrations(ctx context.Context, database *db.DB) error {
	applied, err := database.Migrate(ctx)
	if err != nil {
		return fmt.Errorf("migrating: %w", err)
	}
	for _, name := range applied {
		logging.Info().Str("migration", name).Msg("applied migration")
	}
	return nil
}
