// Copyright 2018 The klaytn Authors
// This file is part of the klaytn library.
//
// The klaytn library is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// The klaytn library is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with the klaytn library. If not, see <http://www.gnu.org/licenses/>.

package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"gopkg.in/urfave/cli.v1"

	"github.com/ground-x/compute-coordinator/config"
	"github.com/ground-x/compute-coordinator/coordinator"
	"github.com/ground-x/compute-coordinator/httpapi"
	"github.com/ground-x/compute-coordinator/log"
	"github.com/ground-x/compute-coordinator/metrics"
)

var logger = log.NewModuleLogger("coordinatord")

var app = cli.NewApp()

func init() {
	app.Name = "coordinatord"
	app.Usage = "Decentralized GPU/AI compute marketplace coordinator"
	app.Flags = config.Flags
	app.Action = run
}

func run(ctx *cli.Context) error {
	cfg, err := config.MakeConfig(ctx)
	if err != nil {
		return err
	}
	log.ChangeGlobalLogLevel(log.ParseLvl(cfg.LogLevel))

	coord, err := coordinator.New(cfg)
	if err != nil {
		return fmt.Errorf("failed to assemble coordinator: %w", err)
	}

	rootCtx, cancel := context.WithCancel(context.Background())
	defer cancel()
	coord.Start(rootCtx)

	srv := httpapi.New(httpapi.Deps{
		Keys:               coord.Keys,
		Limiter:            coord.Limiter,
		Store:              coord.Store,
		Registry:           coord.Registry,
		Queue:              coord.Queue,
		Waiter:             coord.Waiter,
		Receipts:           coord.Receipts,
		CORSAllowedOrigins: cfg.CORSAllowedOrigins,
	})

	mux := http.NewServeMux()
	mux.Handle("/", srv)
	mux.Handle("/metrics", metrics.Handler())
	mux.Handle("/debug/metrics", metrics.Handler())

	httpServer := &http.Server{
		Addr:    fmt.Sprintf("%s:%d", cfg.BindHost, cfg.BindPort),
		Handler: mux,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("listening", "addr", httpServer.Addr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		logger.Info("received signal, shutting down", "signal", sig.String())
	case err := <-errCh:
		logger.Error("http server failed", "err", err)
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful http shutdown failed", "err", err)
	}
	cancel()
	coord.Shutdown()
	return nil
}

func main() {
	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
