// Command nanoedgerd is the NanoEdgeRT runtime: it boots the store, the
// Service Manager, the Function Dispatcher, the Queue Executor, and the
// HTTP Front Door, then serves until SIGINT/SIGTERM and shuts down every
// component in dependency order (spec §5).
package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/nanoedge/nanoedgert/internal/auth"
	"github.com/nanoedge/nanoedgert/internal/config"
	"github.com/nanoedge/nanoedgert/internal/dispatcher"
	"github.com/nanoedge/nanoedgert/internal/httpapi"
	"github.com/nanoedge/nanoedgert/internal/queue"
	"github.com/nanoedge/nanoedgert/internal/servicemgr"
	"github.com/nanoedge/nanoedgert/internal/store"
	"github.com/nanoedge/nanoedgert/pkg/logger"
	"github.com/nanoedge/nanoedgert/pkg/version"
)

func main() {
	if len(os.Args) > 1 && (os.Args[1] == "--version" || os.Args[1] == "-v") {
		log.Println(version.FullVersion())
		return
	}

	cfg, err := config.Load(os.Args[1:])
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	appLog := logger.New(cfg.Logging())

	st, err := store.Open(cfg.DBPath)
	if err != nil {
		appLog.Fatalf("open store: %v", err)
	}
	defer st.Close()

	authMgr := auth.New(st)
	svcMgr := servicemgr.New(st, appLog)
	disp := dispatcher.New(st)
	executor := queue.New(st, disp, appLog)

	_, router := httpapi.New(st, svcMgr, disp, authMgr, appLog, executor)
	server := &http.Server{
		Addr:    cfg.Addr(),
		Handler: router,
	}

	rootCtx := context.Background()
	if err := executor.Start(rootCtx); err != nil {
		appLog.Fatalf("start queue executor: %v", err)
	}

	serveErrs := make(chan error, 1)
	go func() {
		appLog.WithField("addr", cfg.Addr()).Info("nanoedgerd listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErrs <- err
			return
		}
		serveErrs <- nil
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-serveErrs:
		if err != nil {
			appLog.Fatalf("http front door: %v", err)
		}
	case <-sigCh:
		appLog.Info("shutdown signal received")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Runtime.ShutdownGracePeriod)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		appLog.Warnf("http front door shutdown: %v", err)
	}
	svcMgr.StopAll(shutdownCtx)
	if err := executor.Stop(shutdownCtx); err != nil {
		appLog.Warnf("queue executor shutdown: %v", err)
	}

	appLog.Info("nanoedgerd stopped")
}
