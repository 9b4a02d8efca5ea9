// Command manager runs the centralized MAPD coordinator: it owns the
// TSWAP plan for every connected agent, dispatches tasks, and serves a
// small HTTP status dashboard, per SPEC_FULL.md's "centralized manager"
// row.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/sync/errgroup"

	"github.com/niceyeti/mapd/internal/config"
	"github.com/niceyeti/mapd/internal/grid"
	"github.com/niceyeti/mapd/internal/managerloop"
	"github.com/niceyeti/mapd/internal/overlay"
)

const topic = overlay.Topic("mapd")

func main() {
	configPath := flag.String("config", "", "path to a YAML config file (optional; MAPD_* env vars and defaults otherwise)")
	mapPath := flag.String("map", "", "path to an ASCII map file (overrides config's map_path)")
	listenAddr := flag.String("listen", "", "overlay hub listen address (overrides config's overlay_listen_addr)")
	statusAddr := flag.String("status", "", "HTTP status dashboard listen address (overrides config's status_addr)")
	flag.Parse()

	if err := run(*configPath, *mapPath, *listenAddr, *statusAddr); err != nil {
		log.Fatal(err)
	}
}

func run(configPath, mapPathFlag, listenAddrFlag, statusAddrFlag string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("manager: %w", err)
	}
	if mapPathFlag != "" {
		cfg.MapPath = mapPathFlag
	}
	if listenAddrFlag != "" {
		cfg.OverlayListenAddr = listenAddrFlag
	}
	if statusAddrFlag != "" {
		cfg.StatusAddr = statusAddrFlag
	}
	if cfg.MapPath == "" {
		return fmt.Errorf("manager: a map file is required (-map or config's map_path)")
	}

	mapText, err := os.ReadFile(cfg.MapPath)
	if err != nil {
		return fmt.Errorf("manager: read map: %w", err)
	}
	g, err := grid.Parse(string(mapText))
	if err != nil {
		return fmt.Errorf("manager: parse map: %w", err)
	}
	graph := grid.BuildGraph(g)

	hub := overlay.NewHub(cfg.OverlayListenAddr)
	mgr := managerloop.New(cfg, graph, hub, topic, func(format string, args ...any) { log.Printf(format, args...) })

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	group, gctx := errgroup.WithContext(ctx)
	group.Go(func() error {
		return hub.Serve()
	})
	group.Go(func() error {
		<-gctx.Done()
		return hub.Close()
	})
	group.Go(func() error {
		defer stop() // a manager Run exit (overlay closed) also unwinds the hub/dashboard
		return mgr.Run(gctx, os.Stdin)
	})
	group.Go(func() error {
		return serveDashboard(gctx, cfg.StatusAddr, mgr)
	})

	log.Printf("[manager] listening for overlay peers on %s, map %s, dashboard on %s", cfg.OverlayListenAddr, cfg.MapPath, cfg.StatusAddr)
	return group.Wait()
}
