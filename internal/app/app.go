// Package app wires together the collaborators every role binary
// (pack, stage, verify, writebfids) needs: configuration, the catalog
// gateway, the WebDAV door and frontend clients, and a per-role logger and
// status writer. It exists so the Python sources' module-scope globals
// (running, script_id, mongo_db, ...) become one explicit value built once
// per process and threaded through every component constructor instead of
// package-level mutable state, per spec.md §9's design note.
package app

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/dcache-sapphire/smallfiles-packer/internal/archivecache"
	"github.com/dcache-sapphire/smallfiles-packer/internal/catalog"
	"github.com/dcache-sapphire/smallfiles-packer/internal/config"
	"github.com/dcache-sapphire/smallfiles-packer/internal/debug"
	"github.com/dcache-sapphire/smallfiles-packer/internal/errors"
	"github.com/dcache-sapphire/smallfiles-packer/internal/fetch"
	"github.com/dcache-sapphire/smallfiles-packer/internal/frontend"
	"github.com/dcache-sapphire/smallfiles-packer/internal/logging"
	"github.com/dcache-sapphire/smallfiles-packer/internal/status"
	"github.com/dcache-sapphire/smallfiles-packer/internal/webdav"
)

// SignalContext returns a context cancelled on SIGINT/SIGTERM, following
// the teacher's cleanup.go pattern exactly: in-flight HTTP requests are
// allowed to complete, and the next cooperative suspension point in the
// running Tick is what actually aborts work, per spec.md §5.
func SignalContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())

	ch := make(chan os.Signal, 1)
	signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		s := <-ch
		debug.Log("signal %v received, cleaning up", s)
		cancel()
	}()

	return ctx, cancel
}

// App bundles the collaborators shared by every role.
type App struct {
	Config   *config.Config
	Gateway  *catalog.Gateway
	WebDAV   *webdav.Client
	Frontend *frontend.Client
	Fetcher  *fetch.Fetcher
	Log      *logging.Logger
	Status   *status.Writer
}

// Role names, used for the per-role log file and status file naming
// convention spec.md §6 specifies.
const (
	RolePack       = "pack"
	RoleStage      = "stage"
	RoleVerify     = "verify"
	RoleWritebfids = "writebfids"
)

// New loads configPath, validates it, opens the catalog connection and
// wires every shared client. The catalog's crash-recovery sweep
// (Sanitize, invariant I5) runs here so every role starts from a clean
// slate regardless of what a previous crash left behind.
func New(ctx context.Context, configPath, role string) (*App, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, errors.Wrapf(err, "loading configuration from %q", configPath)
	}

	level, err := logging.ParseLevel(cfg.Common.LogLevel)
	if err != nil {
		return nil, err
	}
	logPath := filepath.Join("/var/log", role+"-"+cfg.Common.ScriptID+".log")
	logger, err := logging.New(role, cfg.Common.ScriptID, logPath, level)
	if err != nil {
		return nil, err
	}

	gateway, err := catalog.Open(ctx, cfg.Common.MongoURL, cfg.Common.MongoDB)
	if err != nil {
		_ = logger.Close()
		return nil, err
	}

	if err := gateway.Sanitize(ctx, cfg.Common.ScriptID); err != nil {
		_ = gateway.Close(ctx)
		_ = logger.Close()
		return nil, err
	}

	var rt http.RoundTripper
	wdClient := webdav.New(cfg.Common.WebDAVDoorURL, macaroon(cfg.Common.Macaroon), rt)
	feClient := frontend.New(cfg.Common.FrontendURL, rt)
	fetcher := fetch.New(cfg.Common.DriverURL, wdClient)

	statusWriter := status.New("/var/log", role, cfg.Common.ScriptID, 30*time.Second)

	return &App{
		Config:   cfg,
		Gateway:  gateway,
		WebDAV:   wdClient,
		Frontend: feClient,
		Fetcher:  fetcher,
		Log:      logger,
		Status:   statusWriter,
	}, nil
}

// Close releases every resource New acquired, in reverse order.
func (a *App) Close(ctx context.Context) {
	if a.Status != nil {
		_ = a.Status.Close()
	}
	if a.Gateway != nil {
		_ = a.Gateway.Close(ctx)
	}
	if a.Log != nil {
		_ = a.Log.Close()
	}
}

// ArchiveCache opens the stager's on-disk extraction cache under the
// configured working directory, evicting entries idle longer than
// keep_archive_time minutes.
func (a *App) ArchiveCache() (*archivecache.Cache, error) {
	dir := filepath.Join(a.Config.Common.WorkingDir, "stage-tmp")
	idle := time.Duration(a.Config.Common.KeepArchiveTime) * time.Minute
	return archivecache.Open(dir, idle)
}

// RunLoop drives a role's single-threaded tick loop: call tick, then sleep
// loopDelay seconds, until ctx is cancelled. The cooperative suspension
// point spec.md §5 requires lives inside each Tick implementation; RunLoop
// itself only needs to stop sleeping promptly on cancellation so shutdown
// is not delayed by a long loop_delay.
func RunLoop(ctx context.Context, loopDelay time.Duration, tick func(context.Context) error, onErr func(error)) {
	for {
		if ctx.Err() != nil {
			return
		}
		if err := tick(ctx); err != nil {
			onErr(err)
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(loopDelay):
		}
	}
}

// macaroon reads the bearer token from a path on disk, per spec.md §6
// ("macaroon (path to a bearer token)"). An empty configured path yields
// an empty token, which is how tests against an unauthenticated fixture
// door run.
func macaroon(path string) string {
	if path == "" {
		return ""
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(data))
}
