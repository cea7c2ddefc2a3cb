package cli

import (
	"bufio"
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/viper"

	"github.com/dmitrijs2005/bugtracker/internal/buildinfo"
	"github.com/dmitrijs2005/bugtracker/internal/client/cache"
	"github.com/dmitrijs2005/bugtracker/internal/client/client"
	"github.com/dmitrijs2005/bugtracker/internal/client/config"
	"github.com/dmitrijs2005/bugtracker/internal/client/feed"
	"github.com/dmitrijs2005/bugtracker/internal/client/models"
	"github.com/dmitrijs2005/bugtracker/internal/client/platform"
	"github.com/dmitrijs2005/bugtracker/internal/client/repositories/metadata"
	"github.com/dmitrijs2005/bugtracker/internal/client/screenshots"
	"github.com/dmitrijs2005/bugtracker/internal/client/services"
	"github.com/dmitrijs2005/bugtracker/internal/filex"
	"github.com/dmitrijs2005/bugtracker/internal/logging"

	_ "modernc.org/sqlite"
)

var ErrAmbiguousID = errors.New("id prefix matches more than one bug")

// App holds everything a command needs. Build it with NewApp and release it
// with Close.
type App struct {
	cfg      *config.Config
	viper    *viper.Viper
	logger   logging.Logger
	db       *sql.DB
	engine   *services.SyncEngine
	cache    *cache.SnapshotCache
	identity services.IdentityService
	poller   *feed.Poller
	shots    *screenshots.S3Store

	out         io.Writer
	in          *bufio.Reader
	interactive bool
	started     bool
}

// NewApp opens the cache database and wires the engine with the change feed
// selected in cfg. Nothing talks to the network until a command starts the
// engine.
func NewApp(ctx context.Context, cfg *config.Config, v *viper.Viper, out io.Writer) (*App, error) {
	logger := logging.New(logging.Options{File: cfg.LogFile, Level: cfg.LogLevel, JSON: cfg.LogJSON})

	cachePath := cfg.CachePath
	if cachePath == "" {
		dir, err := filex.DataDir(config.AppName)
		if err != nil {
			return nil, err
		}
		cachePath = config.DefaultCachePath(dir)
	}
	if err := filex.EnsureParentDir(cachePath); err != nil {
		return nil, err
	}

	db, err := client.InitDatabase(ctx, cachePath)
	if err != nil {
		return nil, fmt.Errorf("open cache %s: %w", cachePath, err)
	}

	var cacheOpts []cache.Option
	if cfg.CachePassphrase != "" {
		cacheOpts = append(cacheOpts, cache.WithPassphrase(cfg.CachePassphrase))
	}
	snapshots := cache.NewSnapshotCache(metadata.NewSQLiteRepository(db), logger, cacheOpts...)

	listener, poller := newListener(cfg, logger)

	var shots *screenshots.S3Store
	deps := services.Deps{
		Client:   client.NewRESTClient(cfg.Remote, nil, logger),
		Cache:    snapshots,
		Feed:     listener,
		Platform: platform.NewDetector(),
		Logger:   logger,
	}
	if cfg.S3.Enabled() {
		s3c, err := screenshots.NewS3Client(ctx, cfg.S3)
		if err != nil {
			_ = db.Close()
			return nil, err
		}
		shots = screenshots.NewS3Store(s3c, cfg.S3, logger)
		deps.Screenshots = shots
	}

	identity := services.NewIdentityService(db, logger)
	deps.Identity = identity

	return &App{
		cfg:         cfg,
		viper:       v,
		logger:      logger,
		db:          db,
		engine:      services.NewSyncEngine(deps, cfg.EngineOptions(buildinfo.Version)),
		cache:       snapshots,
		identity:    identity,
		poller:      poller,
		shots:       shots,
		out:         out,
		in:          bufio.NewReader(os.Stdin),
		interactive: stdinIsTerminal(),
	}, nil
}

func newListener(cfg *config.Config, logger logging.Logger) (feed.Listener, *feed.Poller) {
	switch cfg.FeedMode {
	case feed.ModeRealtime:
		return feed.NewRealtimeSubscriber(feed.RealtimeConfig{
			URL:    cfg.RealtimeURL,
			APIKey: cfg.Remote.APIKey,
			Table:  cfg.Remote.Table,
		}, logger), nil
	case feed.ModeGRPC:
		return feed.NewGRPCSubscriber(cfg.GRPCAddr, cfg.Remote.APIKey, logger), nil
	default:
		p := feed.NewPoller(cfg.PollInterval, logger)
		return p, p
	}
}

func (a *App) Close() {
	a.engine.Close()
	if a.db != nil {
		_ = a.db.Close()
	}
}

// start runs the engine's initial load once per process.
func (a *App) start(ctx context.Context) error {
	if a.started {
		return nil
	}
	if err := a.engine.Start(ctx); err != nil {
		return err
	}
	a.started = true
	return nil
}

// resolveID expands a unique id prefix, as shown by list, to the full id.
// Unknown prefixes are returned unchanged so the engine reports them.
func (a *App) resolveID(prefix string) (string, error) {
	var match string
	for _, r := range a.engine.Records("") {
		if r.ID == prefix {
			return r.ID, nil
		}
		if len(prefix) >= 4 && len(r.ID) > len(prefix) && r.ID[:len(prefix)] == prefix {
			if match != "" {
				return "", fmt.Errorf("%w: %s", ErrAmbiguousID, prefix)
			}
			match = r.ID
		}
	}
	if match == "" {
		return prefix, nil
	}
	return match, nil
}

func (a *App) lookup(ctx context.Context, prefix string) (models.BugRecord, error) {
	if err := a.start(ctx); err != nil {
		return models.BugRecord{}, err
	}
	id, err := a.resolveID(prefix)
	if err != nil {
		return models.BugRecord{}, err
	}
	r, ok := a.engine.Get(id)
	if !ok {
		return models.BugRecord{}, fmt.Errorf("%w: %s", services.ErrNotFound, prefix)
	}
	return r, nil
}
