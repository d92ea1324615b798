package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/dvloznov/branch-sheets-sync/internal/app"
	"github.com/dvloznov/branch-sheets-sync/internal/config"
	infraBQ "github.com/dvloznov/branch-sheets-sync/internal/infra/bigquery"
	"github.com/dvloznov/branch-sheets-sync/internal/logger"
	"github.com/dvloznov/branch-sheets-sync/internal/records"
	"github.com/dvloznov/branch-sheets-sync/internal/uploads"
	"github.com/rs/zerolog"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	cfg, err := config.Load()
	if err != nil {
		log := logger.New()
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}
	log := logger.NewWithLevel(cfg.LogLevel)

	switch os.Args[1] {
	case "sync":
		runSync(log, cfg)
	case "archive":
		runArchive(log, cfg)
	case "check":
		runCheck(log, cfg)
	case "cleanup":
		runCleanup(log, cfg)
	case "runs":
		runRuns(log, cfg)
	case "help", "-h", "--help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println("Branch Sheets Sync CLI")
	fmt.Println("\nUsage:")
	fmt.Println("  cli <command> [options]")
	fmt.Println("\nCommands:")
	fmt.Println("  sync      Append an export to the status spreadsheets")
	fmt.Println("  archive   Build the zip archive of an export")
	fmt.Println("  check     List the worksheets of a status spreadsheet")
	fmt.Println("  cleanup   Remove archives older than ARCHIVE_MAX_AGE")
	fmt.Println("  runs      Show recent sync runs recorded in BigQuery")
	fmt.Println("  help      Show this help message")
	fmt.Println("\nRun 'cli <command> -h' for more information on a command.")
}

// setup validates cfg and wires the services.
func setup(log zerolog.Logger, cfg *config.Config, dryRun bool) (context.Context, *app.App) {
	if err := cfg.Validate(); err != nil {
		log.Fatal().Err(err).Msg("Invalid configuration")
	}

	ctx := logger.WithContext(context.Background(), log)
	services, err := app.New(ctx, cfg, app.Options{DryRun: dryRun})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize services")
	}
	return ctx, services
}

// ingest stages a local file or a gs:// object.
func ingest(ctx context.Context, services *app.App, file string) (*uploads.Upload, error) {
	if strings.HasPrefix(file, "gs://") {
		return services.Pipeline.IngestFromGCS(ctx, file)
	}

	f, err := os.Open(file)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	return services.Pipeline.Ingest(ctx, file, f)
}

func runSync(log zerolog.Logger, cfg *config.Config) {
	fs := flag.NewFlagSet("sync", flag.ExitOnError)
	file := fs.String("file", "", "Export to sync (.xlsx or .csv, local path or gs:// URI)")
	dryRun := fs.Bool("dry-run", false, "Write to an in-memory spreadsheet and print the result")
	fs.Parse(os.Args[2:])

	if *file == "" {
		log.Fatal().Msg("Usage: cli sync -file PATH [-dry-run]")
	}

	ctx, services := setup(log, cfg, *dryRun)
	defer services.Close()

	u, err := ingest(ctx, services, *file)
	if err != nil {
		log.Fatal().Err(err).Str("file", *file).Msg("Failed to read export")
	}

	sum, err := services.Pipeline.Sync(ctx, u.ID)
	if sum != nil {
		fmt.Print(sum.Message)
	}
	if err != nil {
		log.Fatal().Err(err).Msg("Sync failed")
	}

	if *dryRun {
		for _, st := range records.Statuses {
			id := cfg.Sync.SpreadsheetIDs[st]
			if id == "" {
				continue
			}
			for _, title := range services.Remote.Titles(id) {
				fmt.Printf("\n[%s] %s\n", st, title)
				for _, row := range services.Remote.Cells(id, title) {
					fmt.Println("  " + strings.Join(row, " | "))
				}
			}
		}
	}
}

func runArchive(log zerolog.Logger, cfg *config.Config) {
	fs := flag.NewFlagSet("archive", flag.ExitOnError)
	file := fs.String("file", "", "Export to archive (.xlsx or .csv, local path or gs:// URI)")
	out := fs.String("out", "", "Directory for the archive (defaults to ARCHIVE_DIR)")
	fs.Parse(os.Args[2:])

	if *file == "" {
		log.Fatal().Msg("Usage: cli archive -file PATH [-out DIR]")
	}
	if *out != "" {
		cfg.ArchiveDir = *out
	}

	// Archives never touch the spreadsheets.
	ctx, services := setup(log, cfg, true)
	defer services.Close()

	u, err := ingest(ctx, services, *file)
	if err != nil {
		log.Fatal().Err(err).Str("file", *file).Msg("Failed to read export")
	}

	res, err := services.Pipeline.Archive(ctx, u.ID)
	if err != nil {
		log.Fatal().Err(err).Msg("Archive failed")
	}

	fmt.Printf("Archive: %s\n", res.Path)
	if res.GCSURI != "" {
		fmt.Printf("Uploaded: %s\n", res.GCSURI)
	}
	fmt.Printf("Records: %d\n", res.TotalRecords)
	for _, st := range records.Statuses {
		if n, ok := res.StatusSummary[string(st)]; ok {
			fmt.Printf("  %s: %d\n", st, n)
		}
	}
}

func runCheck(log zerolog.Logger, cfg *config.Config) {
	fs := flag.NewFlagSet("check", flag.ExitOnError)
	status := fs.String("status", string(records.StatusSuccess), "Status whose spreadsheet to list")
	fs.Parse(os.Args[2:])

	st, ok := records.ParseStatus(*status)
	if !ok {
		log.Fatal().Str("status", *status).Msg("Unknown status")
	}

	ctx, services := setup(log, cfg, false)
	defer services.Close()

	titles, err := services.Pipeline.Check(ctx, st)
	if err != nil {
		log.Fatal().Err(err).Msg("Check failed")
	}

	fmt.Printf("%s spreadsheet has %d worksheets:\n", st, len(titles))
	for _, title := range titles {
		fmt.Printf("  %s\n", title)
	}
}

func runCleanup(log zerolog.Logger, cfg *config.Config) {
	fs := flag.NewFlagSet("cleanup", flag.ExitOnError)
	maxAge := fs.Duration("max-age", cfg.ArchiveMaxAge, "Remove archives older than this")
	fs.Parse(os.Args[2:])

	cfg.ArchiveMaxAge = *maxAge
	ctx, services := setup(log, cfg, true)
	defer services.Close()

	res, err := services.Cleaner.Run(ctx)
	if err != nil {
		log.Fatal().Err(err).Msg("Cleanup failed")
	}
	fmt.Printf("Removed %d archives from %s\n", res.Archives, services.Archives.Dir())
}

func runRuns(log zerolog.Logger, cfg *config.Config) {
	fs := flag.NewFlagSet("runs", flag.ExitOnError)
	limit := fs.Int("limit", 10, "Number of runs to show")
	asJSON := fs.Bool("json", false, "Print runs as JSON")
	fs.Parse(os.Args[2:])

	if cfg.BigQueryProject == "" || cfg.BigQueryDataset == "" {
		log.Fatal().Msg("BIGQUERY_PROJECT and BIGQUERY_DATASET must be set")
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()
	ctx = logger.WithContext(ctx, log)

	repo, err := infraBQ.NewRunRepository(ctx, cfg.BigQueryProject, cfg.BigQueryDataset)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create run repository")
	}
	defer repo.Close()

	runs, err := repo.ListRecentRuns(ctx, *limit)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to list runs")
	}

	if *asJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		enc.Encode(runs)
		return
	}

	for _, r := range runs {
		state := "ok"
		if !r.Success {
			state = "FAILED"
		}
		fmt.Printf("%s  %-6s  rows=%-5d skipped=%-3d dropped=%-3d %s\n",
			r.StartedTS.Format(time.RFC3339), state, r.RowsAppended, r.BranchesSkipped, r.DroppedRecords, r.RunID)
	}
}
