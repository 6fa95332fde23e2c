// Package server wires the gophdeobf server together: storage, the token
// ledger, the job pipeline, and the gRPC and HTTP front ends. It handles
// graceful shutdown on SIGINT/SIGTERM/SIGQUIT.
package server

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/dmitrijs2005/gophdeobf/internal/logging"
	"github.com/dmitrijs2005/gophdeobf/internal/server/config"
	"github.com/dmitrijs2005/gophdeobf/internal/server/fetch"
	"github.com/dmitrijs2005/gophdeobf/internal/server/httpapi"
	"github.com/dmitrijs2005/gophdeobf/internal/server/results"
	"github.com/dmitrijs2005/gophdeobf/internal/server/services"
	"github.com/dmitrijs2005/gophdeobf/internal/server/storage"
	"github.com/dmitrijs2005/gophdeobf/internal/server/transformer"

	gs "github.com/dmitrijs2005/gophdeobf/internal/server/grpc"
)

type App struct {
	config   *config.Config
	logger   logging.Logger
	store    *storage.Store
	ledger   *services.LedgerService
	pipeline *services.PipelineService
}

func NewApp(ctx context.Context, c *config.Config) (*App, error) {

	logger := logging.NewJSONLogger(os.Stdout, c.LogLevel)

	store, err := storage.Open(ctx, c.StorageKind, c.DatabaseDSN)
	if err != nil {
		return nil, fmt.Errorf("storage init error: %w", err)
	}

	ledger := services.NewLedgerService(store.Accounts, logger, c)

	var opts []services.PipelineOption
	if len(c.AllowedDownloadHosts) > 0 {
		opts = append(opts, services.WithDownloader(fetch.NewHTTPDownloader(nil, c.DownloadTimeout, c.AllowedDownloadHosts)))
	}
	if c.ArchiveResults {
		s3, err := results.NewS3Store(ctx, c)
		if err != nil {
			_ = store.Close()
			return nil, fmt.Errorf("result archive init error: %w", err)
		}
		opts = append(opts, services.WithArchiver(s3))
	}

	tool := transformer.New(c.ToolCommand, c.ToolPath)
	pipeline := services.NewPipelineService(ledger, tool, logger, c, opts...)

	logger.Info(ctx, "Storage ready", "kind", store.Kind)

	return &App{config: c, logger: logger, store: store, ledger: ledger, pipeline: pipeline}, nil
}

func (app *App) initSignalHandler(cancelFunc context.CancelFunc) {
	// Channel to catch OS signals.
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)

	go func() {
		<-sigs
		cancelFunc()
	}()
}

func (app *App) startGRPCServer(ctx context.Context, cancelFunc context.CancelFunc) {

	s := gs.NewGRPCServer(app.config.EndpointAddrGRPC, app.logger, app.pipeline, app.ledger,
		app.config.SecretKey, app.config.GiftRoleID)

	if err := s.Run(ctx); err != nil {
		app.logger.Error(ctx, err.Error())
		cancelFunc()
	}
}

func (app *App) startHTTPServer(ctx context.Context, cancelFunc context.CancelFunc) {

	s := httpapi.NewServer(app.config.EndpointAddrHTTP, app.logger, app.store, app.pipeline, app.ledger,
		app.config.SecretKey, app.config.MaxUploadBytes)

	if err := s.Run(ctx); err != nil {
		app.logger.Error(ctx, err.Error())
		cancelFunc()
	}
}

func (app *App) Run(ctx context.Context) {

	ctx, cancelFunc := context.WithCancel(ctx)
	defer cancelFunc()

	app.logger.Info(ctx, "Starting app...")

	app.initSignalHandler(cancelFunc)

	var wg sync.WaitGroup

	wg.Add(2)
	go func() {
		defer wg.Done()
		app.startGRPCServer(ctx, cancelFunc)
	}()
	go func() {
		defer wg.Done()
		app.startHTTPServer(ctx, cancelFunc)
	}()

	wg.Wait()

	if err := app.store.Close(); err != nil {
		app.logger.Error(context.Background(), "storage close", "error", err)
	}
	app.logger.Info(context.Background(), "Stopped")
}
