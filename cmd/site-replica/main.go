package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"site-replica/pkg/config"
	"site-replica/pkg/crawler"
	"site-replica/pkg/fetch"
	"site-replica/pkg/models"
	"site-replica/pkg/storage"
)

const version = "0.4.1"

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "crawl":
		runCrawl(os.Args[2:])
	case "resume":
		runResume(os.Args[2:])
	case "validate":
		runValidate(os.Args[2:])
	case "version":
		fmt.Printf("site-replica %s\n", version)
	case "-h", "--help", "help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println(`site-replica - Offline website replication

Usage:
  site-replica <command> [options]

Commands:
  crawl       Replicate a site from a seed URL
  resume      Resume a paused crawl (same process only)
  validate    Validate configuration file
  version     Show version info

Run 'site-replica <command> -h' for command-specific help.`)
}

// setupLogger builds the process logger at the configured level.
func setupLogger(levelStr string) *logrus.Logger {
	log := logrus.New()
	log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true, TimestampFormat: "15:04:05.000"})
	log.SetLevel(logrus.InfoLevel)

	if levelStr != "" {
		level, err := logrus.ParseLevel(levelStr)
		if err != nil {
			log.Warnf("Invalid log level '%s', using 'info'. Error: %v", levelStr, err)
		} else {
			log.SetLevel(level)
		}
	}
	return log
}

// buildController assembles the store, HTTP stack, and controller from config.
// The returned cleanup closes the store.
func buildController(cfg *config.AppConfig, log *logrus.Logger) (*crawler.Controller, func(), error) {
	store, err := storage.NewBadgerStore(cfg.StateDir, log.WithField("component", "storage"))
	if err != nil {
		return nil, nil, err
	}

	client := fetch.NewClient(cfg.HTTPClientSettings, log)
	fetcher := fetch.NewFetcher(client, cfg.UserAgent, cfg.MaxPageSizeBytes, log)
	robots := fetch.NewRobotsHandler(fetcher, cfg.UserAgent, log)

	ctrl := crawler.NewController(cfg, store, fetcher, robots, log)
	cleanup := func() {
		if err := store.Close(); err != nil {
			log.Errorf("Error closing store: %v", err)
		}
	}
	return ctrl, cleanup, nil
}

// runCrawl handles the crawl subcommand
func runCrawl(args []string) {
	fs := flag.NewFlagSet("crawl", flag.ExitOnError)
	seedURL := fs.String("url", "", "Seed URL to replicate (required)")
	depth := fs.Int("depth", 1, "Maximum crawl depth (levels from the seed)")
	images := fs.Bool("images", true, "Download images and rewrite references")
	css := fs.Bool("css", true, "Preserve stylesheets and scripts")
	nav := fs.Bool("nav", true, "Rewrite same-domain navigation to local preview paths")
	robots := fs.Bool("robots", true, "Respect robots.txt")
	configFile := fs.String("config", "", "Path to YAML config file (optional)")
	logLevel := fs.String("loglevel", "", "Log level (debug, info, warn, error, fatal)")

	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: site-replica crawl [options]\n\nOptions:\n")
		fs.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nExamples:\n")
		fmt.Fprintf(os.Stderr, "  site-replica crawl -url https://example.com -depth 2\n")
		fmt.Fprintf(os.Stderr, "  site-replica crawl -url example.com -images=false -nav=false\n")
	}

	if err := fs.Parse(args); err != nil {
		os.Exit(1)
	}
	if *seedURL == "" {
		fmt.Fprintln(os.Stderr, "Error: -url is required")
		fs.Usage()
		os.Exit(1)
	}

	cfg, err := config.Load(*configFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	if *logLevel != "" {
		cfg.LogLevel = *logLevel
	}
	log := setupLogger(cfg.LogLevel)

	ctrl, cleanup, err := buildController(cfg, log)
	if err != nil {
		log.Fatalf("Initialization failed: %v", err)
	}
	defer cleanup()

	// The configured default_options apply unless a flag was passed explicitly.
	opts := cfg.DefaultOptions
	fs.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "images":
			opts.DownloadImages = *images
		case "css":
			opts.PreserveCSS = *css
		case "nav":
			opts.PreserveNav = *nav
		case "robots":
			opts.RespectRobots = *robots
		}
	})

	crawlID := uuid.NewString()
	log.WithFields(logrus.Fields{"crawl_id": crawlID, "url": *seedURL, "depth": *depth}).Info("Starting crawl")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := ctrl.StartCrawl(ctx, crawlID, *seedURL, *depth, opts); err != nil {
		log.Errorf("Crawl failed: %v", err)
		os.Exit(1)
	}

	job, err := ctrl.GetCrawl(crawlID)
	if err != nil {
		log.Errorf("Could not load final job state: %v", err)
		os.Exit(1)
	}
	log.WithFields(logrus.Fields{"crawl_id": crawlID, "status": job.Status, "pages": job.PageCount}).Info("Crawl finished")
	if job.Status != models.StatusCompleted {
		os.Exit(1)
	}
}

// runResume handles the resume subcommand. Sessions live in process memory,
// so this only succeeds against a crawl paused by this same process; it
// exists for embedding scenarios and reports the limitation otherwise.
func runResume(args []string) {
	fs := flag.NewFlagSet("resume", flag.ExitOnError)
	crawlID := fs.String("id", "", "Crawl ID to resume (required)")
	configFile := fs.String("config", "", "Path to YAML config file (optional)")
	logLevel := fs.String("loglevel", "", "Log level (debug, info, warn, error, fatal)")

	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: site-replica resume [options]\n\nOptions:\n")
		fs.PrintDefaults()
	}

	if err := fs.Parse(args); err != nil {
		os.Exit(1)
	}
	if *crawlID == "" {
		fmt.Fprintln(os.Stderr, "Error: -id is required")
		fs.Usage()
		os.Exit(1)
	}

	cfg, err := config.Load(*configFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	if *logLevel != "" {
		cfg.LogLevel = *logLevel
	}
	log := setupLogger(cfg.LogLevel)

	ctrl, cleanup, err := buildController(cfg, log)
	if err != nil {
		log.Fatalf("Initialization failed: %v", err)
	}
	defer cleanup()

	if err := ctrl.ResumeCrawl(*crawlID); err != nil {
		log.Errorf("Resume failed: %v", err)
		os.Exit(1)
	}
}

// runValidate handles the validate subcommand
func runValidate(args []string) {
	fs := flag.NewFlagSet("validate", flag.ExitOnError)
	configFile := fs.String("config", "config.yaml", "Path to config file")

	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: site-replica validate [options]\n\nOptions:\n")
		fs.PrintDefaults()
	}

	if err := fs.Parse(args); err != nil {
		os.Exit(1)
	}

	os.Exit(doValidate(*configFile, os.Stdout, os.Stderr))
}

// doValidate performs validation and writes output to the provided writers.
// Returns exit code (0 = success, 1 = error).
func doValidate(configPath string, stdout, stderr io.Writer) int {
	data, err := os.ReadFile(configPath)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}

	cfg, err := config.Parse(data)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}

	warnings, err := cfg.Validate()
	for _, w := range warnings {
		fmt.Fprintf(stdout, "WARN: %s\n", w)
	}
	if err != nil {
		fmt.Fprintf(stderr, "ERROR: %v\n", err)
		return 1
	}

	fmt.Fprintln(stdout, "Configuration valid.")
	return 0
}
