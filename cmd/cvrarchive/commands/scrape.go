package commands

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"cvrarchive/lib/configutil"
	"cvrarchive/lib/scrapers/cvr"
	"cvrarchive/lib/serviceutil"
	"cvrarchive/lib/telemetry"
	"cvrarchive/services/archive"

	"github.com/dgraph-io/badger/v4"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

type Config struct {
	BaseUrl    string `json:"base_url"`
	Username   string `json:"username"`
	Password   string `json:"password"`
	OutputDir  string `json:"output_dir"`
	EventLimit int    `json:"event_limit"`
	MaxRecords int    `json:"max_records"`
	CacheDir   string `json:"cache_dir"`
}

var outputDir *string
var eventLimit *int
var cacheDir *string

func init() {
	outputDir = scrapeCmd.Flags().String("output", "", "The directory to write scraped tables to (overrides config).")
	eventLimit = scrapeCmd.Flags().Int("limit", -1, "Max distinct events to extract, 0 = unbounded (overrides config).")
	cacheDir = scrapeCmd.Flags().String("cache", "", "Page cache directory (overrides config).")
	rootCmd.AddCommand(scrapeCmd)
}

func readConfig() Config {
	// the original deployment kept credentials in a .env next to the binary
	err := godotenv.Load()
	if err != nil && !os.IsNotExist(err) {
		slog.Warn("failed to load .env", "err", err)
	}

	cfg, err := configutil.ReadConfig[Config]("config.json5")
	if err != nil && !os.IsNotExist(err) {
		serviceutil.Fatal("failed to read config", err)
	}

	if v := os.Getenv("CVR_USERNAME"); v != "" {
		cfg.Username = v
	}
	if v := os.Getenv("CVR_PASSWORD"); v != "" {
		cfg.Password = v
	}
	if cfg.BaseUrl == "" {
		cfg.BaseUrl = "https://my.cvrobotics.org"
	}
	if cfg.OutputDir == "" {
		cfg.OutputDir = "cvr_data"
	}
	if *outputDir != "" {
		cfg.OutputDir = *outputDir
	}
	if *eventLimit >= 0 {
		cfg.EventLimit = *eventLimit
	}
	if *cacheDir != "" {
		cfg.CacheDir = *cacheDir
	}
	return cfg
}

func createClient(ctx context.Context, cfg Config) (*cvr.Client, func()) {
	ctx, cancel := context.WithTimeout(ctx, time.Second*30)
	defer cancel()

	opts := cvr.ClientOptions{BaseUrl: cfg.BaseUrl}
	cleanup := func() {}
	if cfg.CacheDir != "" {
		db, err := badger.Open(badger.DefaultOptions(cfg.CacheDir).WithLogger(nil))
		if err != nil {
			serviceutil.Fatal("failed to open page cache", err)
		}
		opts.Cache = db
		cleanup = func() { db.Close() }
	}

	client, err := cvr.NewClient(ctx, opts)
	if err != nil {
		serviceutil.Fatal("failed to initialize client", err)
	}
	err = client.Login(ctx, cvr.Credentials{
		Username: cfg.Username,
		Password: cfg.Password,
	})
	if err != nil {
		serviceutil.Fatal("failed to login", err)
	}
	return client, cleanup
}

var scrapeCmd = &cobra.Command{
	Use:   "scrape [--output <dir>] [--limit <n>] [--cache <dir>]",
	Short: "Logs in, walks the archived event list and writes per-event and aggregate CSV tables.",
	Run: func(cmd *cobra.Command, args []string) {
		ctx := cmd.Context()
		cfg := readConfig()

		t, err := telemetry.SetupFromEnv(ctx, "cvrarchive")
		if err != nil && !os.IsNotExist(err) {
			serviceutil.Fatal("failed to setup telemetry", err)
		}
		if err == nil {
			defer t.Shutdown(context.Background())
			telemetry.InstrumentPerfStats(ctx)
		}

		slog.Info("scraping using user", "username", cfg.Username)
		client, closeCache := createClient(ctx, cfg)
		defer closeCache()
		sink := archive.NewSink(cfg.OutputDir)

		t1 := time.Now()
		summary, runErr := archive.Run(ctx, client, sink, archive.RunOptions{
			EventLimit: cfg.EventLimit,
			MaxRecords: cfg.MaxRecords,
		})
		t2 := time.Now()

		fmt.Println(summary.Render())
		slog.Info("scraping time", "seconds", t2.Sub(t1).Seconds())

		if runErr != nil {
			serviceutil.Fatal("run ended with a fatal error, partial output was kept", runErr)
		}
	},
}
