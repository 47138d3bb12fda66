package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/chaz8081/gomipow/internal/ble"
	"github.com/chaz8081/gomipow/internal/config"
	"github.com/chaz8081/gomipow/internal/driver"
	"github.com/chaz8081/gomipow/internal/light"
	"github.com/chaz8081/gomipow/internal/mqtt"
	"github.com/chaz8081/gomipow/internal/store"
)

func main() {
	// CLI flags
	configPath := flag.String("config", "", "path to config file (default: ~/.config/gomipow/config.yaml)")
	initConfig := flag.Bool("init-config", false, "write the default config file and exit")
	pair := flag.Bool("pair", false, "scan for unpaired bulbs, print them and exit")
	add := flag.String("add", "", "scan for unpaired bulbs, pair the one with this id and exit")
	flag.Parse()

	if *initConfig {
		path, err := config.WriteDefault()
		if err != nil {
			fatal("write default config", err)
		}
		if path == "" {
			fmt.Printf("Config already exists at %s\n", config.DefaultConfigPath())
		} else {
			fmt.Printf("Wrote default config to %s\n", path)
		}
		return
	}

	// Load configuration
	cfg, err := loadConfig(*configPath)
	if err != nil {
		fatal("config", err)
	}
	if err := cfg.Validate(); err != nil {
		fatal("config validation", err)
	}

	slog.SetDefault(newLogger(os.Stderr, cfg))
	printBanner(cfg)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := run(ctx, cfg, *pair, *add); err != nil {
		fatal("gomipow", err)
	}
}

func run(ctx context.Context, cfg *config.Config, pairOnly bool, addID string) error {
	catalog, err := ble.CatalogForProfile(cfg.Catalog.Profile, strings.ToLower(cfg.Catalog.ControlService))
	if err != nil {
		return err
	}

	adapter := ble.NewTinyGoAdapter()
	if err := adapter.Enable(); err != nil {
		return fmt.Errorf("enable bluetooth: %w", err)
	}

	db, err := store.Open(ctx, store.Config{Path: cfg.Storage.Path, BusyTimeout: cfg.Storage.BusyTimeout})
	if err != nil {
		return err
	}
	defer db.Close()
	slog.Info("[STORE] database ready", "path", db.Path())

	states := store.New(db)
	registry := store.NewRegistry(db)

	dispatcher := ble.NewDispatcher(adapter, catalog, states, ble.DispatcherOptions{
		FindTimeout:     cfg.BLE.FindTimeout,
		DisconnectDelay: cfg.BLE.DisconnectDelay,
	})
	defer dispatcher.Close()

	// Late discoveries are forwarded once the bridge exists.
	late := make(chan ble.DeviceRecord, 16)
	matcher := ble.NewMatcher(adapter, catalog, ble.MatcherOptions{
		ScanTimeout: cfg.BLE.ScanTimeout,
		Timeout:     cfg.BLE.DiscoveryTimeout,
		OnLateDevice: func(rec ble.DeviceRecord) {
			slog.Info("[BLE] late device identified", "id", rec.ID, "name", rec.Name)
			select {
			case late <- rec:
			default:
			}
		},
	})

	drv := driver.New(catalog, registry, states, dispatcher, matcher)
	if err := drv.Init(ctx); err != nil {
		return err
	}

	if pairOnly {
		return printDiscovered(ctx, os.Stdout, drv)
	}
	if addID != "" {
		return addDiscovered(ctx, os.Stdout, drv, addID)
	}

	var client *mqtt.Client
	var bridge *mqtt.Bridge
	if cfg.MQTT.Enabled {
		client, err = mqtt.Connect(mqtt.Config{
			Host:        cfg.MQTT.Host,
			Port:        cfg.MQTT.Port,
			ClientID:    cfg.MQTT.ClientID,
			Username:    cfg.MQTT.Username,
			Password:    cfg.MQTT.Password,
			TLS:         cfg.MQTT.TLS,
			QoS:         byte(cfg.MQTT.QoS),
			StatusTopic: cfg.MQTT.TopicPrefix + "/status",
		})
		if err != nil {
			return err
		}
		defer client.Close()

		bridge = mqtt.NewBridge(client, drv, mqtt.BridgeConfig{
			TopicPrefix:     cfg.MQTT.TopicPrefix,
			DiscoveryPrefix: cfg.MQTT.DiscoveryPrefix,
			QoS:             byte(cfg.MQTT.QoS),
		})
		if err := bridge.Start(ctx); err != nil {
			return err
		}
	} else {
		slog.Warn("MQTT disabled; pair bulbs with -pair and -add <id>")
	}

	// Signal handling for graceful shutdown
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	slog.Info("Ready", "devices", len(drv.Devices()))
	for {
		select {
		case rec := <-late:
			if bridge != nil {
				bridge.DeviceDiscovered(rec)
			}
		case sig := <-sigCh:
			slog.Info("Shutting down", "signal", sig.String())
			return nil
		}
	}
}

// pairer is the part of the driver used by -pair and -add.
type pairer interface {
	ListDevices(ctx context.Context) ([]ble.DeviceRecord, error)
	AddDevice(ctx context.Context, rec ble.DeviceRecord) (light.State, error)
}

// printDiscovered runs one pairing scan and prints the result.
func printDiscovered(ctx context.Context, w io.Writer, p pairer) error {
	fmt.Fprintln(w, "Scanning for bulbs...")
	recs, err := p.ListDevices(ctx)
	if err != nil {
		return err
	}
	if len(recs) == 0 {
		fmt.Fprintln(w, "No new bulbs found.")
		return nil
	}
	for _, rec := range recs {
		fmt.Fprintf(w, "  %s  %-12s %s\n", rec.ID, rec.Family, rec.Name)
	}
	return nil
}

// addDiscovered runs one pairing scan and pairs the bulb with the given id.
// Family and name come from the scan, so the bulb must be in range.
func addDiscovered(ctx context.Context, w io.Writer, p pairer, id string) error {
	fmt.Fprintln(w, "Scanning for bulbs...")
	recs, err := p.ListDevices(ctx)
	if err != nil {
		return err
	}
	for _, rec := range recs {
		if !strings.EqualFold(rec.ID, id) {
			continue
		}
		if _, err := p.AddDevice(ctx, rec); err != nil {
			return err
		}
		fmt.Fprintf(w, "Paired %s (%s)\n", rec.ID, rec.Name)
		return nil
	}
	return fmt.Errorf("bulb %s not found among %d unpaired bulbs; run -pair to list them", id, len(recs))
}

// loadConfig loads the config from the specified path, or falls back to
// the default config path, or uses built-in defaults.
func loadConfig(path string) (*config.Config, error) {
	if path != "" {
		return config.Load(path)
	}

	// Try default config path
	defaultPath := config.DefaultConfigPath()
	if _, err := os.Stat(defaultPath); err == nil {
		cfg, err := config.Load(defaultPath)
		if err != nil {
			return nil, fmt.Errorf("loading %s: %w", defaultPath, err)
		}
		slog.Info("Config loaded", "path", defaultPath)
		return cfg, nil
	}

	// No config file, use defaults
	slog.Info("No config file found, using defaults")
	cfg := config.Default()
	cfg.EnsureClientID()
	return cfg, nil
}

// newLogger builds the process logger from log_level and log_format.
func newLogger(w io.Writer, cfg *config.Config) *slog.Logger {
	opts := &slog.HandlerOptions{Level: config.ParseLogLevel(cfg.LogLevel)}
	if cfg.LogFormat == "json" {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

// printBanner displays the startup configuration summary.
func printBanner(cfg *config.Config) {
	fmt.Println("=== gomipow ===")
	fmt.Printf("  Catalog: %s\n", cfg.Catalog.Profile)
	fmt.Printf("  BLE:     scan %s, discovery %s, linger %s\n", cfg.BLE.ScanTimeout, cfg.BLE.DiscoveryTimeout, cfg.BLE.DisconnectDelay)
	fmt.Printf("  Storage: %s\n", cfg.Storage.Path)
	if cfg.MQTT.Enabled {
		fmt.Printf("  MQTT:    %s:%d (%s)\n", cfg.MQTT.Host, cfg.MQTT.Port, cfg.MQTT.TopicPrefix)
	} else {
		fmt.Println("  MQTT:    disabled")
	}
	fmt.Printf("  Log:     %s (%s)\n", cfg.LogLevel, cfg.LogFormat)
	fmt.Println("===============")
}

func fatal(what string, err error) {
	slog.Error(what, "error", err)
	os.Exit(1)
}
