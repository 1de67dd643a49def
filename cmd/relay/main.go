package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/spf13/cobra"

	"github.com/astromechza/viewsync/pkg/broadcast"
	"github.com/astromechza/viewsync/pkg/cli"
	"github.com/astromechza/viewsync/pkg/relay"
	"github.com/astromechza/viewsync/pkg/viz"
)

const (
	flagAddr           = "addr"
	flagDatabase       = "database"
	flagBackupInterval = "backup-interval"
	flagDumpDir        = "dump-dir"
	flagRender         = "render"
)

func main() {
	if err := mainInner(); err != nil {
		slog.Error(err.Error())
		os.Exit(1)
	}
}

func mainInner() error {
	cmd := &cobra.Command{
		Use:          "relay",
		Short:        "Serve shared media to viewer instances over websockets",
		Args:         cobra.NoArgs,
		SilenceUsage: true,
		RunE:         run,
	}
	cli.AddCommonFlags(cmd)
	cmd.Flags().String(flagAddr, "localhost:8080", "the address to listen on")
	cmd.Flags().String(flagDatabase, "relay.sqlite3", "sqlite database to back media up to, empty to disable")
	cmd.Flags().Duration(flagBackupInterval, 5*time.Second, "how often changed media are backed up")
	cmd.Flags().String(flagDumpDir, "", "directory to dump every medium document to on shutdown")
	cmd.Flags().Bool(flagRender, false, "also render the history of every channel state key when dumping")
	return cmd.Execute()
}

func run(cmd *cobra.Command, _ []string) error {
	v, logger, err := cli.Setup(cmd)
	if err != nil {
		return err
	}

	var db *sql.DB
	if path := v.GetString(flagDatabase); path != "" {
		logger.Info("opening database", "path", path)
		if db, err = sql.Open("sqlite3", path); err != nil {
			return fmt.Errorf("failed to open database: %w", err)
		}
		defer db.Close()
	}

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	server, err := relay.NewServer(ctx, relay.ServerParams{Database: db, Logger: logger})
	if err != nil {
		return err
	}

	wg := new(sync.WaitGroup)
	wg.Add(1)
	go func() {
		defer wg.Done()
		server.RunBackups(ctx, v.GetDuration(flagBackupInterval))
	}()

	httpServer := &http.Server{Addr: v.GetString(flagAddr), Handler: server.Router()}
	listenErr := make(chan error, 1)
	wg.Add(1)
	go func() {
		defer wg.Done()
		logger.Info("listening", "addr", httpServer.Addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			listenErr <- err
		}
	}()

	exit := make(chan os.Signal, 1)
	signal.Notify(exit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case sig := <-exit:
		logger.Info("signal caught", "sig", sig)
	case err = <-listenErr:
		logger.Error("server listen failed", "err", err)
	}
	cancel()
	_ = httpServer.Close()
	wg.Wait()

	if dir := v.GetString(flagDumpDir); dir != "" {
		dump(logger, server, dir, v.GetBool(flagRender))
	}
	return err
}

func dump(logger *slog.Logger, server *relay.Server, dir string, render bool) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		logger.Error("failed to create dump dir", "err", err)
		return
	}
	for _, space := range server.Spaces() {
		path := filepath.Join(dir, space.Name()+".automerge")
		if err := os.WriteFile(path, space.Save(), 0o644); err != nil {
			logger.Error("failed to dump", "medium", space.Name(), "err", err)
			continue
		}
		logger.Info("dumped", "medium", space.Name(), "path", path)
		if render {
			renderChannels(logger, space, dir)
		}
	}
}

func renderChannels(logger *slog.Logger, space *relay.Space, dir string) {
	doc, err := space.Fork()
	if err != nil {
		logger.Error("failed to fork", "medium", space.Name(), "err", err)
		return
	}
	keys, err := space.Keys()
	if err != nil {
		logger.Error("failed to list keys", "medium", space.Name(), "err", err)
		return
	}
	for _, key := range keys {
		if kind, _ := broadcast.Classify(key); kind != broadcast.KindState {
			continue
		}
		out, err := viz.RenderToDir(doc, dir, space.Name()+"-"+key, relay.KeysRoot, key)
		if err != nil {
			logger.Error("failed to render", "medium", space.Name(), "key", key, "err", err)
			continue
		}
		logger.Info("rendered", "medium", space.Name(), "key", key, "path", "file://"+out)
	}
}
