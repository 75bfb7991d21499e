// Package main is the nutrirag CLI entry point.
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/hyperjump/nutrirag/internal/cli"
	"github.com/hyperjump/nutrirag/internal/config"
	"github.com/hyperjump/nutrirag/internal/extract"
	"github.com/hyperjump/nutrirag/internal/ingest"
	"github.com/hyperjump/nutrirag/internal/models"
	"github.com/hyperjump/nutrirag/internal/server"
	"github.com/hyperjump/nutrirag/internal/storage"
	"github.com/hyperjump/nutrirag/internal/vector"
	"github.com/hyperjump/nutrirag/internal/watcher"
	"github.com/hyperjump/nutrirag/pkg/utils"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

var version = "dev"

const defaultConfigPath = "config.yaml"

const defaultServerURL = "http://localhost:8080"

// loadConfig loads .env, the config file at path and environment overrides, then
// validates credentials. A missing file at the default path yields the defaults.
func loadConfig(path string, needChat bool) (*config.Config, error) {
	if err := config.LoadEnv(); err != nil {
		return nil, err
	}
	var cfg *config.Config
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) && path == defaultConfigPath {
		cfg = config.Default()
	} else {
		loaded, err := config.Load(path)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}
	config.ApplyEnv(cfg)
	if err := cfg.Validate(needChat); err != nil {
		return nil, err
	}
	return cfg, nil
}

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}
	command := os.Args[1]
	switch command {
	case "serve", "server":
		runServe()
	case "ingest":
		runIngest()
	case "query":
		runQuery()
	case "delete":
		runDelete()
	case "status":
		runStatus()
	case "recommend":
		runRecommend()
	case "clear-cache":
		runClearCache()
	case "drop-index":
		runDropIndex()
	case "init-config":
		runInitConfig()
	case "version", "--version", "-v":
		fmt.Printf("nutrirag version %s\n", version)
	case "help", "--help", "-h":
		printUsage()
	default:
		fmt.Printf("Unknown command: %s\n", command)
		printUsage()
		os.Exit(1)
	}
}

// setup loads config, creates the logger and initializes components. Failures exit.
func setup(configPath string, debug, needChat bool, opts initOptions) (*config.Config, *zap.Logger, *Components) {
	cfg, err := loadConfig(configPath, needChat)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}
	debugMode := cfg.Debug || debug
	logger, err := utils.NewLogger(debugMode)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create logger: %v\n", err)
		os.Exit(1)
	}
	components, err := initializeComponents(context.Background(), cfg, logger, opts)
	if err != nil {
		logger.Fatal("Failed to initialize components", zap.Error(err))
	}
	return cfg, logger, components
}

func runServe() {
	fs := flag.NewFlagSet("serve", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path")
	debug := fs.Bool("debug", false, "enable debug logging")
	watch := fs.Bool("watch", false, "ingest files dropped into watch.directories")
	_ = fs.Parse(os.Args[2:])

	cfg, logger, components := setup(*configPath, *debug, false, initOptions{registerer: prometheus.DefaultRegisterer})
	defer logger.Sync()
	defer components.Close()

	opts := []server.Option{}
	if cfg.OpenAIAPIKey != "" {
		wf, err := newWorkflow(cfg, components.Engine, logger)
		if err != nil {
			logger.Fatal("Failed to initialize recommendations", zap.Error(err))
		}
		opts = append(opts, server.WithRecommender(wf))
	} else {
		logger.Warn("recommendations disabled", zap.String("missing", config.EnvOpenAIKey))
	}

	var watchSvc *watcher.Watcher
	if *watch {
		if len(cfg.Watch.Directories) == 0 {
			logger.Fatal("--watch needs watch.directories in the config")
		}
		watchSvc = watcher.New(cfg.Watch.Directories, components.Ingester,
			watcher.WithLogger(logger),
			watcher.WithDebounce(time.Duration(cfg.Watch.DebounceMS)*time.Millisecond))
		if err := watchSvc.Start(context.Background()); err != nil {
			logger.Fatal("Failed to start watcher", zap.Error(err))
		}
		go watchSvc.Sync(context.Background())
		opts = append(opts, server.WithWatch(watchSvc))
	}

	opts = append(opts, server.WithCacheDir(cfg.Cache.Dir))
	srv := server.NewServer(components.Engine, &cfg.Server, logger, opts...)
	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("Server failed", zap.Error(err))
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	logger.Info("Shutting down...")
	if watchSvc != nil {
		watchSvc.Stop()
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = srv.Stop(ctx)
}

func runIngest() {
	fs := flag.NewFlagSet("ingest", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path")
	urlList := fs.Bool("url-list", false, "treat the .xlsx argument as a list of URLs to ingest")
	column := fs.String("column", "", "URL column header for --url-list (default from config)")
	itemType := fs.String("type", ingest.ItemTypeDocument, "item type of ingested chunks")
	category := fs.String("category", ingest.CategoryArticle, "category metadata of ingested chunks")
	_ = fs.Parse(argsReorder(os.Args[2:]))

	if fs.NArg() < 1 {
		fmt.Println("Usage: nutrirag ingest [flags] <file|directory|url|urls.xlsx>")
		os.Exit(1)
	}
	target := fs.Arg(0)

	cfg, logger, components := setup(*configPath, false, false, initOptions{
		ingest: []ingest.Option{ingest.WithItemType(*itemType), ingest.WithCategory(*category)},
	})
	defer logger.Sync()
	defer components.Close()
	ctx := context.Background()
	in := components.Ingester

	switch {
	case isURL(target):
		res, err := in.IngestURL(ctx, target)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Ingest failed: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("Ingested %s: %d chunk(s)\n", res.Source, res.Chunks)
	case *urlList:
		col := *column
		if col == "" {
			col = cfg.Ingest.URLColumn
		}
		results, err := in.IngestURLList(ctx, target, col)
		for _, res := range results {
			fmt.Printf("Ingested %s: %d chunk(s)\n", res.Source, res.Chunks)
		}
		if err != nil {
			fmt.Fprintf(os.Stderr, "Some URLs failed: %v\n", err)
			os.Exit(1)
		}
	default:
		info, err := os.Stat(target)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to stat path: %v\n", err)
			os.Exit(1)
		}
		if info.IsDir() {
			n, err := in.IngestDirectory(ctx, target)
			if err != nil {
				fmt.Fprintf(os.Stderr, "Ingesting directory failed: %v\n", err)
				os.Exit(1)
			}
			fmt.Printf("Ingested %d file(s) from %s\n", n, target)
			return
		}
		if !extract.Supported(target) {
			fmt.Fprintf(os.Stderr, "Unsupported file type %q; supported: %s\n",
				filepath.Ext(target), strings.Join(extract.SupportedExtensions, " "))
			os.Exit(1)
		}
		res, err := in.IngestFile(ctx, target)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Ingest failed: %v\n", err)
			os.Exit(1)
		}
		if res.Skipped {
			fmt.Printf("Unchanged, skipped: %s\n", res.Source)
			return
		}
		fmt.Printf("Ingested %s: %d chunk(s)\n", res.Source, res.Chunks)
	}
}

func runQuery() {
	fs := flag.NewFlagSet("query", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path (direct mode)")
	serverURL := fs.String("server", defaultServerURL, "server URL (empty = open the index directly)")
	topK := fs.Int("top-k", 0, "number of matches (default from config)")
	outputFormat := fs.String("output", "text", "output format: text or json")
	filter := filterFlag{}
	fs.Var(filter, "filter", "metadata equality filter key=value (repeatable)")
	_ = fs.Parse(argsReorder(os.Args[2:]))

	text := buildQuery(fs.Args())
	if text == "" {
		fmt.Println("Usage: nutrirag query [flags] <text>")
		fs.PrintDefaults()
		os.Exit(1)
	}
	format, err := cli.ParseOutputFormat(*outputFormat)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	query := models.RetrievalQuery{Query: text, TopK: *topK}
	if len(filter) > 0 {
		query.Filter = filter
	}

	var response *models.RetrievalResponse
	if *serverURL != "" {
		response = new(models.RetrievalResponse)
		err = postJSON(*serverURL+"/api/v1/retrievals", query, response)
	} else {
		cfg, logger, components := setup(*configPath, false, false, initOptions{})
		defer logger.Sync()
		defer components.Close()
		if query.TopK == 0 {
			query.TopK = cfg.Retrieval.DefaultTopK
		}
		response, err = components.Engine.Retrieve(context.Background(), query)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Query failed: %v\n", err)
		os.Exit(1)
	}
	if err := cli.WriteRetrievals(os.Stdout, response, format); err != nil {
		fmt.Fprintf(os.Stderr, "Output failed: %v\n", err)
		os.Exit(1)
	}
}

func runDelete() {
	fs := flag.NewFlagSet("delete", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path")
	source := fs.Bool("source", false, "treat the argument as an ingested source (file path or URL) and remove all its items")
	_ = fs.Parse(argsReorder(os.Args[2:]))

	if fs.NArg() < 1 {
		fmt.Println("Usage: nutrirag delete [flags] <item-id|source>")
		os.Exit(1)
	}
	target := fs.Arg(0)

	_, logger, components := setup(*configPath, false, false, initOptions{})
	defer logger.Sync()
	defer components.Close()
	ctx := context.Background()

	if *source {
		n, err := components.Ingester.RemoveSource(ctx, target)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Deletion failed: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("Removed %d item(s) of %s\n", n, target)
		return
	}
	if err := components.Engine.DeleteItem(ctx, target); err != nil {
		fmt.Fprintf(os.Stderr, "Deletion failed: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("Item deleted: %s\n", target)
}

func runStatus() {
	fs := flag.NewFlagSet("status", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path (direct mode)")
	serverURL := fs.String("server", defaultServerURL, "server URL (empty = open the index directly)")
	outputFormat := fs.String("output", "text", "output format: text or json")
	_ = fs.Parse(os.Args[2:])

	format, err := cli.ParseOutputFormat(*outputFormat)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	var status server.StatusResponse
	if *serverURL != "" {
		err = getJSON(*serverURL+"/api/v1/status", &status)
	} else {
		cfg, logger, components := setup(*configPath, false, false, initOptions{})
		defer logger.Sync()
		defer components.Close()
		status.Index, err = components.Engine.Stats(context.Background())
		if usage, uerr := storage.DirUsage(cfg.Cache.Dir); uerr == nil {
			status.DiskUsage = usage
		}
	}
	if err == nil && status.Index == nil {
		err = errors.New("empty status response")
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Status failed: %v\n", err)
		os.Exit(1)
	}
	if err := cli.WriteStatus(os.Stdout, status.Index, status.DiskUsage, format); err != nil {
		fmt.Fprintf(os.Stderr, "Output failed: %v\n", err)
		os.Exit(1)
	}
	for _, d := range status.WatchDirectories {
		if format == cli.OutputText {
			fmt.Printf("watching:                 %s\n", d)
		}
	}
}

func runRecommend() {
	fs := flag.NewFlagSet("recommend", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path")
	outputFormat := fs.String("output", "text", "output format: text or json")
	_ = fs.Parse(argsReorder(os.Args[2:]))

	if fs.NArg() < 1 {
		fmt.Println("Usage: nutrirag recommend [flags] <profile.json>")
		os.Exit(1)
	}
	format, err := cli.ParseOutputFormat(*outputFormat)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	profile, err := readProfile(fs.Arg(0))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to read profile: %v\n", err)
		os.Exit(1)
	}

	cfg, logger, components := setup(*configPath, false, true, initOptions{})
	defer logger.Sync()
	defer components.Close()
	wf, err := newWorkflow(cfg, components.Engine, logger)
	if err != nil {
		logger.Fatal("Failed to initialize recommendations", zap.Error(err))
	}
	rec, err := wf.Run(context.Background(), *profile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Recommendation failed: %v\n", err)
		os.Exit(1)
	}
	if err := cli.WriteRecommendation(os.Stdout, rec, format); err != nil {
		fmt.Fprintf(os.Stderr, "Output failed: %v\n", err)
		os.Exit(1)
	}
}

func runClearCache() {
	fs := flag.NewFlagSet("clear-cache", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path")
	_ = fs.Parse(os.Args[2:])

	_, logger, components := setup(*configPath, false, false, initOptions{})
	defer logger.Sync()
	defer components.Close()
	if err := components.Engine.ClearCaches(context.Background()); err != nil {
		fmt.Fprintf(os.Stderr, "Clear cache failed: %v\n", err)
		os.Exit(1)
	}
	fmt.Println("Embedding and result caches cleared")
}

func runDropIndex() {
	fs := flag.NewFlagSet("drop-index", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path")
	deleteDocs := fs.Bool("delete-docs", true, "also delete the indexed documents")
	_ = fs.Parse(os.Args[2:])

	cfg, err := loadConfig(*configPath, false)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}
	logger, err := utils.NewLogger(cfg.Debug)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	ctx := context.Background()
	prov, err := vector.RemoteProvisioner(ctx, cfg.Redis.URL, cfg.Index.FilterableFields, logger)
	if err != nil || prov == nil {
		fmt.Fprintf(os.Stderr, "Drop index needs a reachable redis.url: %v\n", err)
		os.Exit(1)
	}
	defer prov.Close()
	if err := prov.DropIndex(ctx, cfg.Index.Name, *deleteDocs); err != nil {
		fmt.Fprintf(os.Stderr, "Drop index failed: %v\n", err)
		os.Exit(1)
	}
	if err := clearResultCache(ctx, cfg, logger); err != nil {
		fmt.Fprintf(os.Stderr, "Index dropped but clearing the result cache failed: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("Index dropped: %s\n", cfg.Index.Name)
}

func runInitConfig() {
	fs := flag.NewFlagSet("init-config", flag.ExitOnError)
	force := fs.Bool("force", false, "overwrite an existing file")
	_ = fs.Parse(os.Args[2:])

	path := defaultConfigPath
	if fs.NArg() > 0 {
		path = fs.Arg(0)
	}
	if _, err := os.Stat(path); err == nil && !*force {
		fmt.Fprintf(os.Stderr, "%s already exists (use --force to overwrite)\n", path)
		os.Exit(1)
	}
	cfg := &config.Config{}
	config.ApplyDefaults(cfg)
	if err := config.Save(path, cfg); err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}
	fmt.Printf("Config written to %s\n", path)
}

// buildQuery joins all positional args with spaces so multi-word queries work the same
// with or without shell quoting.
func buildQuery(args []string) string {
	return strings.TrimSpace(strings.Join(args, " "))
}

// argsReorder moves flags that appear after the positional arguments to the front so
// that flag.Parse sees them. The flag package stops at the first non-flag argument.
func argsReorder(args []string) []string {
	for i, a := range args {
		if len(a) > 0 && a[0] == '-' {
			if i == 0 {
				return args
			}
			reordered := make([]string, 0, len(args))
			reordered = append(reordered, args[i:]...)
			reordered = append(reordered, args[:i]...)
			return reordered
		}
	}
	return args
}

// filterFlag collects repeated key=value flags into a metadata filter.
type filterFlag map[string]interface{}

func (f filterFlag) String() string {
	parts := make([]string, 0, len(f))
	for k, v := range f {
		parts = append(parts, fmt.Sprintf("%s=%v", k, v))
	}
	return strings.Join(parts, ",")
}

func (f filterFlag) Set(s string) error {
	key, value, ok := strings.Cut(s, "=")
	key = strings.TrimSpace(key)
	if !ok || key == "" {
		return fmt.Errorf("filter must be key=value, got %q", s)
	}
	f[key] = parseScalar(strings.TrimSpace(value))
	return nil
}

// parseScalar turns a flag value into a bool or number when it looks like one.
func parseScalar(s string) interface{} {
	if s == "true" || s == "false" {
		return s == "true"
	}
	if n, err := strconv.ParseFloat(s, 64); err == nil {
		return n
	}
	return s
}

func isURL(s string) bool {
	return strings.HasPrefix(s, "http://") || strings.HasPrefix(s, "https://")
}

func readProfile(path string) (*models.UserProfile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var p models.UserProfile
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("invalid profile JSON: %w", err)
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return &p, nil
}

func postJSON(url string, body, out interface{}) error {
	data, err := json.Marshal(body)
	if err != nil {
		return err
	}
	resp, err := http.Post(url, "application/json", bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	return decodeResponse(resp, out)
}

func getJSON(url string, out interface{}) error {
	resp, err := http.Get(url)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	return decodeResponse(resp, out)
}

func decodeResponse(resp *http.Response, out interface{}) error {
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("server returned %d: %s", resp.StatusCode, strings.TrimSpace(string(b)))
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func printUsage() {
	fmt.Println(`nutrirag - nutrition knowledge base with cached retrieval and meal recommendations

Usage:
  nutrirag serve [flags]                 Start the HTTP server
  nutrirag ingest [flags] <path|url>     Ingest a file, directory, URL or URL list
  nutrirag query [flags] <text>          Retrieve matching items
  nutrirag delete [flags] <id>           Delete an item (or a source with --source)
  nutrirag status [flags]                Show index and cache status
  nutrirag recommend [flags] <profile>   Recommend meals for a profile JSON file
  nutrirag clear-cache [flags]           Clear the embedding and result caches
  nutrirag drop-index [flags]            Drop the remote index
  nutrirag init-config [path]            Write a config file with defaults
  nutrirag version                       Show version
  nutrirag help                          Show this help

Common Flags:
  --config string    Config file path (default: ./config.yaml, defaults when missing)

Serve Flags:
  --debug            Enable debug logging
  --watch            Ingest files dropped into watch.directories

Ingest Flags:
  --url-list         Treat an .xlsx argument as a list of URLs
  --column string    URL column header (default: urls)
  --type string      Item type of ingested chunks (default: nutrition_document)
  --category string  Category metadata (default: nutrition_article)

Query Flags:
  --server string    Server URL (default: http://localhost:8080). Use --server "" to open the index directly.
  --top-k int        Number of matches (default from config)
  --filter k=v       Metadata equality filter, repeatable
  --output string    Output format: text or json (default: text)

Status Flags:
  --server string    Server URL (default: http://localhost:8080). Use --server "" to open the index directly.
  --output string    Output format: text or json (default: text)

Environment:
  APP_ENV              production or development
  OPENAI_API_KEY       Required for OpenAI embeddings and recommendations
  REDIS_URL            Redis Stack URL for the remote index and result cache
  NUTRIRAG_CACHE_DIR   Cache directory
  NUTRIRAG_INDEX_NAME  Index name

Examples:
  nutrirag serve --watch
  nutrirag ingest ./guides
  nutrirag ingest --url-list sources.xlsx
  nutrirag query --filter item_type=nutrition_document "high protein breakfast"
  nutrirag status --output json
  nutrirag recommend profile.json`)
}
