// Package cli implements the muni-map CLI commands.
package cli

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/common/expfmt"
	"github.com/spf13/cobra"

	"github.com/rcliao/muni-map/internal/config"
	"github.com/rcliao/muni-map/internal/mapper"
	"github.com/rcliao/muni-map/internal/matcher"
	"github.com/rcliao/muni-map/internal/model"
	"github.com/rcliao/muni-map/internal/normalize"
	"github.com/rcliao/muni-map/internal/provider"
	"github.com/rcliao/muni-map/internal/repository"
	"github.com/rcliao/muni-map/internal/store"
)

var (
	configPath  string
	dbPath      string
	formatFlag  string
	verbose     bool
	offline     bool
	showMetrics bool

	cfg      *config.Config
	logger   *slog.Logger
	registry = prometheus.NewRegistry()
)

// RootCmd is the top-level command.
var RootCmd = &cobra.Command{
	Use:   "muni-map",
	Short: "Map Swiss municipality codes and names across historical states",
	Long: "Translate BFS municipality codes between snapshot dates and resolve free-text names " +
		"to canonical codes. Snapshots are cached in SQLite.",
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		level := slog.LevelInfo
		if verbose {
			level = slog.LevelDebug
		}
		logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
		slog.SetDefault(logger)

		var err error
		cfg, err = loadConfig()
		return err
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if !showMetrics {
			return
		}
		families, err := registry.Gather()
		if err != nil {
			logger.Warn("gather metrics", "error", err)
			return
		}
		enc := expfmt.NewEncoder(os.Stderr, expfmt.NewFormat(expfmt.TypeTextPlain))
		for _, mf := range families {
			enc.Encode(mf)
		}
	},
}

func init() {
	RootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Config file (default: $MUNI_MAP_CONFIG or ~/.muni-map/config.yaml)")
	RootCmd.PersistentFlags().StringVarP(&dbPath, "db", "d", "", "Database path (default: $MUNI_MAP_DB or db_path from config)")
	RootCmd.PersistentFlags().StringVarP(&formatFlag, "format", "f", "json", "Output format: json or csv")
	RootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Debug logging")
	RootCmd.PersistentFlags().BoolVar(&offline, "offline", false, "Serve from the cache only, never contact the registry")
	RootCmd.PersistentFlags().BoolVar(&showMetrics, "metrics", false, "Print repository metrics to stderr on exit")
}

func loadConfig() (*config.Config, error) {
	path := configPath
	if path == "" {
		path = os.Getenv("MUNI_MAP_CONFIG")
	}
	if path == "" {
		home, _ := os.UserHomeDir()
		def := filepath.Join(home, ".muni-map", "config.yaml")
		if _, err := os.Stat(def); errors.Is(err, fs.ErrNotExist) {
			return config.DefaultConfig(), nil
		}
		path = def
	}
	return config.Load(path)
}

func getDBPath() string {
	if dbPath != "" {
		return dbPath
	}
	if env := os.Getenv("MUNI_MAP_DB"); env != "" {
		return env
	}
	return cfg.DBPath
}

func openStore() (*store.SQLiteStore, error) {
	return store.NewSQLiteStore(getDBPath())
}

// openRepository wires the store, the registry client and the metrics
// registry into a repository.
func openRepository(s store.Store) (*repository.Repository, error) {
	ttl, err := cfg.TTL()
	if err != nil {
		return nil, err
	}
	opts := repository.Options{
		Store:       s,
		MaxRetries:  cfg.MaxRetries,
		TTL:         ttl,
		Concurrency: cfg.FetchConcurrency,
		Registerer:  registry,
		Logger:      logger,
	}
	if !offline && !cfg.Provider.Offline {
		start, _ := time.Parse(model.DateLayout, cfg.StartDate)
		opts.Provider = provider.NewBFS(provider.BFSOptions{
			BaseURL:       cfg.Provider.BaseURL,
			RatePerSecond: cfg.Provider.RatePerSecond,
			Timeout:       cfg.Provider.Timeout,
			StartDate:     start,
			Logger:        logger,
		})
	}
	return repository.New(opts), nil
}

func newMatcher(repo matcher.SnapshotSource) (*matcher.Matcher, error) {
	aliases, err := config.LoadAliases(cfg.AliasPath)
	if err != nil {
		return nil, err
	}
	return matcher.New(repo, matcher.Options{
		Threshold:         cfg.Threshold,
		Normalizer:        normalize.New(aliases),
		ForeignCodes:      cfg.Matching.ForeignCodes,
		ForeignIndicators: cfg.Matching.ForeignIndicators,
		FalsePositives:    cfg.Matching.FalsePositives,
		Logger:            logger,
	}), nil
}

// session opens everything a mapping command needs. close releases the store.
type session struct {
	store   *store.SQLiteStore
	repo    *repository.Repository
	matcher *matcher.Matcher
	mapper  *mapper.Mapper
}

func openSession() (*session, error) {
	s, err := openStore()
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	repo, err := openRepository(s)
	if err != nil {
		s.Close()
		return nil, err
	}
	m, err := newMatcher(repo)
	if err != nil {
		s.Close()
		return nil, err
	}
	return &session{store: s, repo: repo, matcher: m, mapper: mapper.New(repo, m, logger)}, nil
}

func (s *session) close() {
	s.store.Close()
}

func exitErr(msg string, err error) {
	fmt.Fprintf(os.Stderr, "error: %s: %v\n", msg, err)
	os.Exit(1)
}
