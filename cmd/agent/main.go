// Command agent runs one MAPD agent process, in either
// centralized-executor or decentralized-TSWAP mode, per §4.5.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/niceyeti/mapd/internal/agentloop"
	"github.com/niceyeti/mapd/internal/config"
	"github.com/niceyeti/mapd/internal/grid"
	"github.com/niceyeti/mapd/internal/overlay"
)

const topic = overlay.Topic("mapd")

func main() {
	configPath := flag.String("config", "", "path to a YAML config file (optional; MAPD_* env vars and defaults otherwise)")
	mapPath := flag.String("map", "", "path to an ASCII map file (overrides config's map_path)")
	dialAddr := flag.String("dial", "", "manager overlay hub address to dial (overrides config's overlay_dial_addr)")
	id := flag.String("id", "", "this agent's peer id (required)")
	decentralized := flag.Bool("decentralized", false, "run decentralized TSWAP instead of the default centralized-executor mode")
	flag.Parse()

	if err := run(*configPath, *mapPath, *dialAddr, *id, *decentralized); err != nil {
		log.Fatal(err)
	}
}

func run(configPath, mapPathFlag, dialAddrFlag, id string, decentralized bool) error {
	if id == "" {
		return fmt.Errorf("agent: -id is required")
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("agent: %w", err)
	}
	if mapPathFlag != "" {
		cfg.MapPath = mapPathFlag
	}
	if dialAddrFlag != "" {
		cfg.OverlayDialAddr = dialAddrFlag
	}
	if cfg.MapPath == "" {
		return fmt.Errorf("agent: a map file is required (-map or config's map_path)")
	}
	if cfg.OverlayDialAddr == "" {
		return fmt.Errorf("agent: a manager address is required (-dial or config's overlay_dial_addr)")
	}

	mapText, err := os.ReadFile(cfg.MapPath)
	if err != nil {
		return fmt.Errorf("agent: read map: %w", err)
	}
	g, err := grid.Parse(string(mapText))
	if err != nil {
		return fmt.Errorf("agent: parse map: %w", err)
	}
	graph := grid.BuildGraph(g)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	client, err := overlay.Dial(ctx, cfg.OverlayDialAddr)
	if err != nil {
		return fmt.Errorf("agent: %w", err)
	}
	defer client.Close()

	mode := agentloop.CentralizedExecutor
	if decentralized {
		mode = agentloop.Decentralized
	}
	a := agentloop.New(cfg, graph, client, topic, id, mode, func(format string, args ...any) { log.Printf(format, args...) })

	log.Printf("[agent %s] dialing manager at %s, map %s, decentralized=%v", id, cfg.OverlayDialAddr, cfg.MapPath, decentralized)
	return a.Run(ctx)
}
