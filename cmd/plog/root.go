package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/hudacode/prayerlog/internal/cache"
	"github.com/hudacode/prayerlog/internal/config"
	"github.com/hudacode/prayerlog/internal/remote"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "plog",
	Short: "Offline-first prayer and activity attendance tracker",
	Long: `plog tracks student attendance for daily prayers and other activities.

Records are written to a device-local cache first, so marking attendance
works with no network at all. A background sync reconciles the cache with
the shared server whenever it is reachable; conflicts resolve by record
timestamp, newest wins.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default ./.plog.yaml or $HOME/.plog.yaml)")

	rootCmd.AddGroup(
		&cobra.Group{ID: "tracking", Title: "Attendance Tracking:"},
		&cobra.Group{ID: "sync", Title: "Synchronization:"},
		&cobra.Group{ID: "roster", Title: "Roster Management:"},
		&cobra.Group{ID: "server", Title: "Server:"},
	)
}

// loadConfig reads configuration or exits. Command Run funcs call this
// rather than threading errors through cobra.
func loadConfig() *config.Config {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
		os.Exit(1)
	}
	return cfg
}

// openCache opens the local cache and initializes its schema, or exits.
// Callers own the Close.
func openCache(cfg *config.Config) *cache.Cache {
	c, err := cache.Open(cfg.CachePath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error opening local cache: %v\n", err)
		os.Exit(1)
	}
	if err := c.InitSchema(); err != nil {
		c.Close()
		fmt.Fprintf(os.Stderr, "Error initializing cache schema: %v\n", err)
		os.Exit(1)
	}
	return c
}

// newRemote builds the HTTP client and availability prober for the
// configured server.
func newRemote(cfg *config.Config) (*remote.Client, *remote.Prober) {
	client := remote.NewClient(cfg.RemoteURL, cfg.PushTimeout, nil)
	prober := remote.NewProber(client, cfg.ProbeWindow, cfg.ProbeTimeout, nil)
	return client, prober
}

// today returns the current calendar date in record date format.
func today() string {
	return time.Now().Format("2006-01-02")
}
