package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/fatih/color"
	"github.com/hedzr/go-ringbuf/v2/mpmc"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/srg/brushlink/internal/device"
	"github.com/srg/brushlink/internal/groutine"
	"github.com/srg/brushlink/internal/sonicare"
)

// scanCmd represents the scan command
var scanCmd = &cobra.Command{
	Use:   "scan",
	Short: "List nearby toothbrushes",
	Long: `Scan for Bluetooth Low Energy advertisements and list the Sonicare
toothbrushes in range, with the address to put in an entry.

A device counts as a toothbrush when it advertises the Sonicare service or the
"Philips Sonicare" name. Use --all to list every device instead.`,
	Args: cobra.NoArgs,
	RunE: runScan,
}

var (
	scanDuration time.Duration
	scanAll      bool
)

const (
	scanBufferSize    = 256
	scanDrainInterval = 100 * time.Millisecond
)

func init() {
	scanCmd.Flags().DurationVarP(&scanDuration, "duration", "d", 10*time.Second, "Scan duration")
	scanCmd.Flags().BoolVar(&scanAll, "all", false, "List every device, not only toothbrushes")
	scanCmd.Flags().String("backend", "", "Bluetooth backend (go-ble, tinygo)")
}

// scanEntry is the latest advertisement seen from one address.
type scanEntry struct {
	Address    string
	Name       string
	RSSI       int
	Toothbrush bool
	LastSeen   time.Time
}

type scanRecord struct {
	adv device.Advertisement
	at  time.Time
}

func runScan(cmd *cobra.Command, _ []string) error {
	if scanDuration <= 0 {
		return fmt.Errorf("invalid duration %s: must be positive", scanDuration)
	}

	cfg, logger, err := configureLogger(cmd)
	if err != nil {
		return err
	}

	// All arguments validated - don't show usage on runtime errors
	cmd.SilenceUsage = true

	s, err := scannerFactory(cfg, logger)
	if err != nil {
		return fmt.Errorf("failed to create %s scanner: %w", cfg.Bluetooth.Backend, err)
	}

	parent := cmd.Context()
	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := stopContext(parent)
	defer stop()
	ctx, cancel := context.WithTimeout(ctx, scanDuration)
	defer cancel()

	if isTerminal(cmd.ErrOrStderr()) {
		fmt.Fprintf(cmd.ErrOrStderr(), "Scanning for %s...\n", scanDuration)
	}
	entries, err := collectAdvertisements(ctx, s, logger)
	if err != nil {
		return err
	}

	if !scanAll {
		entries = onlyToothbrushes(entries)
	}
	return writeScanTable(cmd.OutOrStdout(), entries, time.Now())
}

// collectAdvertisements scans until ctx is done and returns one entry per
// address, sorted by signal strength. The scan callback only enqueues into a
// lock-free ring; a drain loop folds records into the result.
func collectAdvertisements(ctx context.Context, s device.ScanningDevice, logger *logrus.Logger) ([]scanEntry, error) {
	buf := mpmc.NewOverlappedRingBuffer[scanRecord](scanBufferSize)
	seen := make(map[string]scanEntry)

	drain := func() {
		for !buf.IsEmpty() {
			rec, err := buf.Dequeue()
			if err != nil {
				return
			}
			addr := strings.ToUpper(rec.adv.Addr())
			seen[addr] = scanEntry{
				Address:    rec.adv.Addr(),
				Name:       mergeName(seen[addr].Name, rec.adv.LocalName()),
				RSSI:       rec.adv.RSSI(),
				Toothbrush: seen[addr].Toothbrush || sonicare.IsToothbrush(rec.adv),
				LastSeen:   rec.at,
			}
		}
	}

	scanDone := make(chan error, 1)
	groutine.Go(ctx, "scan", func(ctx context.Context) {
		scanDone <- s.Scan(ctx, true, func(adv device.Advertisement) {
			if overwrites, err := buf.EnqueueM(scanRecord{adv: adv, at: time.Now()}); err != nil {
				logger.WithError(err).Debug("Dropped advertisement")
			} else if overwrites > 0 {
				logger.WithField("overwrites", overwrites).Debug("Scan buffer overflowed")
			}
		})
	})

	ticker := time.NewTicker(scanDrainInterval)
	defer ticker.Stop()

	var scanErr error
loop:
	for {
		select {
		case <-ticker.C:
			drain()
		case scanErr = <-scanDone:
			break loop
		}
	}
	drain()

	if scanErr != nil && !errors.Is(scanErr, context.Canceled) && !errors.Is(scanErr, context.DeadlineExceeded) {
		return nil, fmt.Errorf("scan failed: %w", scanErr)
	}

	entries := make([]scanEntry, 0, len(seen))
	for _, e := range seen {
		entries = append(entries, e)
	}
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].RSSI != entries[j].RSSI {
			return entries[i].RSSI > entries[j].RSSI
		}
		return entries[i].Address < entries[j].Address
	})
	return entries, nil
}

// mergeName keeps a known name when a later advertisement (a scan response
// or a bare ADV_IND) comes without one.
func mergeName(prev, next string) string {
	if next == "" {
		return prev
	}
	return next
}

func onlyToothbrushes(entries []scanEntry) []scanEntry {
	out := entries[:0:0]
	for _, e := range entries {
		if e.Toothbrush {
			out = append(out, e)
		}
	}
	return out
}

// isTerminal reports whether w is an interactive terminal.
func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}

func writeScanTable(out io.Writer, entries []scanEntry, now time.Time) error {
	if len(entries) == 0 {
		_, err := fmt.Fprintln(out, "No toothbrushes discovered")
		return err
	}

	brush := color.New(color.FgCyan, color.Bold)

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "NAME\tADDRESS\tRSSI\tLAST SEEN\tSONICARE")
	for _, e := range entries {
		name := e.Name
		if name == "" {
			name = "-"
		}
		if len(name) > 24 {
			name = name[:21] + "..."
		}

		// last column, so its colouring never skews the alignment
		kind := "no"
		if e.Toothbrush {
			kind = brush.Sprint("yes")
		}

		lastSeen := now.Sub(e.LastSeen).Truncate(time.Second)
		fmt.Fprintf(w, "%s\t%s\t%d dBm\t%s ago\t%s\n", name, e.Address, e.RSSI, lastSeen, kind)
	}
	return w.Flush()
}
