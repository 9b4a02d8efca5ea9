// Package config loads manager/agent configuration with
// github.com/spf13/viper (the teacher's tabular/go.mod dependency),
// following its standard SetDefault/AutomaticEnv/ReadInConfig sequence:
// defaults are set in code, then an optional YAML file and MAPD_*-prefixed
// environment variables may override them.
package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// Config holds every timing constant and resource cap named in §5 and §6,
// plus the process-specific addressing each of manager/agent needs.
type Config struct {
	// MapPath is the ASCII map file to load (§4.1).
	MapPath string `mapstructure:"map_path"`

	// OverlayListenAddr is the address a Hub listens on (manager); empty
	// for agents, which dial out instead.
	OverlayListenAddr string `mapstructure:"overlay_listen_addr"`
	// OverlayDialAddr is the hub address an agent dials; cmd/agent
	// refuses to start when it is empty. The manager does not dial.
	OverlayDialAddr string `mapstructure:"overlay_dial_addr"`

	// TPos is the periodic position-broadcast interval (§4.5, default 1s).
	TPos time.Duration `mapstructure:"t_pos"`
	// TPlan is the manager's TSWAP/replan tick interval (§4.5, 300-500ms).
	TPlan time.Duration `mapstructure:"t_plan"`
	// TStale marks a peer's NeighborInfo entry stale (§5, default 10s).
	TStale time.Duration `mapstructure:"t_stale"`
	// TCleanup is the interval of the stale-peer/ledger sweep (§5, 5s).
	TCleanup time.Duration `mapstructure:"t_cleanup"`

	// ElectionDiscoveryWindow bounds initial peer discovery (§4.5, 3s).
	ElectionDiscoveryWindow time.Duration `mapstructure:"election_discovery_window"`
	// ElectionCollectionWindow bounds occupied_response collection (§4.5, 2s).
	ElectionCollectionWindow time.Duration `mapstructure:"election_collection_window"`

	// NAgentsMax bounds live agents the manager tracks (§5, default 500).
	NAgentsMax int `mapstructure:"n_agents_max"`
	// NPeersMax bounds overlay peers / dedup ledger capacity (§5, default 1000).
	NPeersMax int `mapstructure:"n_peers_max"`

	// TaskWatchdogTicks is the default per-task tick budget (§D.3); 0
	// disables the watchdog.
	TaskWatchdogTicks int `mapstructure:"task_watchdog_ticks"`

	// AutoDispatch controls whether the manager immediately hands a
	// freshly-idle agent the next queued task on completion (§D.5).
	AutoDispatch bool `mapstructure:"auto_dispatch"`

	// StatusAddr is the manager's HTTP status-dashboard listen address.
	StatusAddr string `mapstructure:"status_addr"`
}

// Defaults returns the spec's documented default configuration.
func Defaults() Config {
	return Config{
		MapPath:                  "",
		OverlayListenAddr:        ":7000",
		OverlayDialAddr:          "",
		TPos:                     time.Second,
		TPlan:                    400 * time.Millisecond,
		TStale:                   10 * time.Second,
		TCleanup:                 5 * time.Second,
		ElectionDiscoveryWindow:  3 * time.Second,
		ElectionCollectionWindow: 2 * time.Second,
		NAgentsMax:               500,
		NPeersMax:                1000,
		TaskWatchdogTicks:        50,
		AutoDispatch:             true,
		StatusAddr:               ":8080",
	}
}

// Load builds a viper instance seeded with Defaults, optionally merges
// configPath (a YAML file; "" skips this step), then applies MAPD_*
// environment variable overrides, and unmarshals the result into a Config.
func Load(configPath string) (Config, error) {
	v := viper.New()

	d := Defaults()
	v.SetDefault("map_path", d.MapPath)
	v.SetDefault("overlay_listen_addr", d.OverlayListenAddr)
	v.SetDefault("overlay_dial_addr", d.OverlayDialAddr)
	v.SetDefault("t_pos", d.TPos)
	v.SetDefault("t_plan", d.TPlan)
	v.SetDefault("t_stale", d.TStale)
	v.SetDefault("t_cleanup", d.TCleanup)
	v.SetDefault("election_discovery_window", d.ElectionDiscoveryWindow)
	v.SetDefault("election_collection_window", d.ElectionCollectionWindow)
	v.SetDefault("n_agents_max", d.NAgentsMax)
	v.SetDefault("n_peers_max", d.NPeersMax)
	v.SetDefault("task_watchdog_ticks", d.TaskWatchdogTicks)
	v.SetDefault("auto_dispatch", d.AutoDispatch)
	v.SetDefault("status_addr", d.StatusAddr)

	v.SetEnvPrefix("mapd")
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("config: read %s: %w", configPath, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("config: unmarshal: %w", err)
	}
	return cfg, nil
}
