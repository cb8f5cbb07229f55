package main

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/signal"
	"sort"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/udptrace/udptrace/internal/dispatch"
	"github.com/udptrace/udptrace/internal/reply"
	"github.com/udptrace/udptrace/internal/resolve"
	"github.com/udptrace/udptrace/internal/tracer"
	"github.com/udptrace/udptrace/pkg/hop"
)

// cliConfig holds the parsed command-line flags.
type cliConfig struct {
	maxHops            int
	measurementTimeout time.Duration
	ttlIncrementDelay  time.Duration
	pollInterval       time.Duration
	verbose            bool
}

// NewRootCmd creates and returns the root cobra command, matching the
// teacher's cmd/gtr shape: flags populate a config struct, RunE does
// the work.
func NewRootCmd() *cobra.Command {
	var cfg cliConfig

	cmd := &cobra.Command{
		Use:   "udptrace <target>",
		Short: "Continuous UDP traceroute with live RTT/loss stats",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd, args[0], &cfg)
		},
	}

	cmd.Flags().IntVar(&cfg.maxHops, "max-hops", 32, "maximum TTL to probe")
	cmd.Flags().DurationVar(&cfg.measurementTimeout, "timeout", time.Second, "per-hop measurement timeout")
	cmd.Flags().DurationVar(&cfg.ttlIncrementDelay, "stagger", 500*time.Millisecond, "delay between spawning successive hop probers")
	cmd.Flags().DurationVar(&cfg.pollInterval, "refresh", time.Second, "how often the live table is redrawn")
	cmd.Flags().BoolVarP(&cfg.verbose, "verbose", "v", false, "debug-level logging")

	return cmd
}

func run(cmd *cobra.Command, target string, cfg *cliConfig) error {
	log, err := newLogger(cfg.verbose)
	if err != nil {
		return fmt.Errorf("build logger: %w", err)
	}
	defer log.Sync() //nolint:errcheck

	if !resolve.ValidHostname(target) && net.ParseIP(target) == nil {
		return fmt.Errorf("%w: %q does not look like a hostname or IPv4 address", resolve.ErrInvalidAddress, target)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		cancel()
	}()

	targetIP, err := resolve.IPv4(ctx, target)
	if err != nil {
		return err
	}

	watcher, err := reply.New(log)
	if err != nil {
		return err
	}
	defer watcher.Close() //nolint:errcheck

	dispatcher, err := dispatch.New(log)
	if err != nil {
		return err
	}
	defer dispatcher.Close() //nolint:errcheck

	traceCfg := tracer.DefaultConfig()
	traceCfg.MaxHops = cfg.maxHops
	traceCfg.MeasurementTimeout = cfg.measurementTimeout
	traceCfg.TTLIncrementDelay = cfg.ttlIncrementDelay

	t, err := tracer.New(log, targetIP, dispatcher, watcher, traceCfg)
	if err != nil {
		return err
	}

	fmt.Fprintf(cmd.OutOrStdout(), "tracing to %s (%s), %d hops max\n", target, targetIP, cfg.maxHops)

	done := make(chan error, 1)
	go func() { done <- t.Run(ctx) }()

	ticker := time.NewTicker(cfg.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case err := <-done:
			printSnapshot(cmd, t.Hops(), t.FoundAllHops())
			if err != nil && ctx.Err() == nil {
				return err
			}
			return nil
		case <-ticker.C:
			printSnapshot(cmd, t.Hops(), t.FoundAllHops())
		}
	}
}

func printSnapshot(cmd *cobra.Command, snaps []hop.Snapshot, reached bool) {
	out := cmd.OutOrStdout()
	fmt.Fprintln(out, "---")
	sort.Slice(snaps, func(i, j int) bool { return snaps[i].TTL < snaps[j].TTL })
	for _, s := range snaps {
		meanStr := "*"
		if s.RTTMeanMsValid {
			meanStr = fmt.Sprintf("%.1fms", s.RTTMeanMs)
		}
		fmt.Fprintf(out, "%2d  %-15s  %8s  ok=%d loss=%d\n", s.TTL, s.IPv4, meanStr, s.Successes, s.Failures)
	}
	if reached {
		fmt.Fprintln(out, "target reached")
	}
}

func newLogger(verbose bool) (*zap.Logger, error) {
	if verbose {
		return zap.NewDevelopment()
	}
	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(zap.InfoLevel)
	return cfg.Build()
}
