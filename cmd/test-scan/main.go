// Command test-scan is a manual test for bulb discovery.
// It scans for nearby bulbs of the selected catalog, runs the
// identification handshake and prints every bulb it finds.
//
// Usage:
//
//	go run ./cmd/test-scan [--profile flic|mipow] [--service ff02] [--timeout 5s]
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/chaz8081/gomipow/internal/ble"
)

func main() {
	profile := flag.String("profile", ble.ProfileFlic, "catalog profile: flic or mipow")
	service := flag.String("service", "", "mipow control service (default ff02)")
	timeout := flag.Duration("timeout", 5*time.Second, "scan and identification timeout")
	verbose := flag.Bool("v", false, "debug logging")
	flag.Parse()

	if *verbose {
		slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelDebug})))
	}

	catalog, err := ble.CatalogForProfile(*profile, *service)
	if err != nil {
		fmt.Printf("Error: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("Scanning for %s bulbs (services %v) for %s...\n", *profile, catalog.ControlServices(), *timeout)

	matcher := ble.NewMatcher(ble.NewTinyGoAdapter(), catalog, ble.MatcherOptions{
		ScanTimeout: *timeout,
		Timeout:     *timeout,
		OnLateDevice: func(rec ble.DeviceRecord) {
			fmt.Printf("  late: %s  %-12s %q\n", rec.ID, rec.Family, rec.Name)
		},
	})

	start := time.Now()
	recs, err := matcher.Discover(context.Background(), nil)
	if err != nil {
		fmt.Printf("Error: %v\n", err)
		os.Exit(1)
	}
	for _, rec := range recs {
		fmt.Printf("  %s  %-12s %q\n", rec.ID, rec.Family, rec.Name)
	}
	fmt.Printf("\nDone in %s (%d found).\n", time.Since(start).Round(time.Millisecond), len(recs))

	// Give late identifications a chance to print.
	time.Sleep(*timeout)
}
