package main

import (
	"fmt"
	"math/rand/v2"

	"github.com/spf13/cobra"
	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/joshuapare/asankit/asan/alloc"
	"github.com/joshuapare/asankit/asan/source"
)

var (
	statsCount   int
	statsMaxSize uint64
	statsKeep    int
)

func init() {
	cmd := newStatsCmd()
	cmd.Flags().IntVar(&statsCount, "count", 10000, "Number of allocations")
	cmd.Flags().Uint64Var(&statsMaxSize, "max-size", 256, "Largest object size")
	cmd.Flags().IntVar(&statsKeep, "keep", 0, "Objects left allocated at the end")
	rootCmd.AddCommand(cmd)
}

func newStatsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Run an allocation workload and show heap statistics",
		Long: `The stats command allocates and frees objects of random sizes and
reports allocator, quarantine and arena statistics.

Example:
  asanctl stats
  asanctl stats --count 100000 --max-size 4096
  asanctl stats --quarantine-bytes 65536 --json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStats()
		},
	}
}

// HeapStats is the JSON shape of the stats command.
type HeapStats struct {
	Allocator alloc.Stats       `json:"allocator"`
	Arena     source.ArenaStats `json:"arena"`
	Bridge    map[string]uint64 `json:"bridge"`
}

func runStats() error {
	if statsCount < 0 || statsMaxSize == 0 {
		return fmt.Errorf("--count must be >= 0 and --max-size > 0")
	}
	rt, err := newRuntime(cfg)
	if err != nil {
		return err
	}
	defer rt.Close()

	rng := rand.New(rand.NewPCG(1, 2))
	for i := range statsCount {
		p := rt.Allocate(uintptr(rng.Uint64N(statsMaxSize)+1), 0)
		if p == 0 {
			return fmt.Errorf("allocation %d: out of memory", i)
		}
		if statsCount-i > statsKeep {
			rt.Deallocate(p)
		}
	}

	forwarded, truncated, malformed := rt.Bridge().Stats()
	hs := HeapStats{
		Allocator: rt.Stats(),
		Arena:     rt.ArenaStats(),
		Bridge: map[string]uint64{
			"forwarded": forwarded,
			"truncated": truncated,
			"malformed": malformed,
		},
	}
	if jsonOut {
		return printJSON(hs)
	}
	printHeapStats(hs)
	return nil
}

func printHeapStats(hs HeapStats) {
	p := message.NewPrinter(language.English)
	a, ar := hs.Allocator, hs.Arena

	printInfo("Allocator:\n")
	printInfo("%s", p.Sprintf("  allocations:     %d\n", a.Allocations))
	printInfo("%s", p.Sprintf("  deallocations:   %d\n", a.Deallocations))
	printInfo("%s", p.Sprintf("  evictions:       %d\n", a.Evictions))
	printInfo("%s", p.Sprintf("  failures:        %d\n", a.Failures))
	printInfo("%s", p.Sprintf("  violations:      %d\n", a.Violations))
	printInfo("%s", p.Sprintf("  live:            %d objects, %d bytes\n", a.Live, a.LiveBytes))
	printInfo("%s", p.Sprintf("  quarantined:     %d objects, %d bytes\n", a.Quarantined, a.QuarantinedBytes))
	printInfo("%s", p.Sprintf("  released:        %d remembered\n", a.Released))

	printInfo("Arena:\n")
	printInfo("%s", p.Sprintf("  capacity:        %d bytes\n", ar.Capacity))
	printInfo("%s", p.Sprintf("  high water:      %d bytes\n", ar.HighWater))
	printInfo("%s", p.Sprintf("  in use:          %d bytes in %d blocks\n", ar.InUse, ar.Live))
	printInfo("%s", p.Sprintf("  free spans:      %d bytes\n", ar.Free))
	printInfo("%s", p.Sprintf("  reused blocks:   %d (%d merges)\n", ar.Reused, ar.Coalesced))

	printInfo("Bridge:\n")
	printInfo("%s", p.Sprintf("  forwarded:       %d\n", hs.Bridge["forwarded"]))
	printInfo("%s", p.Sprintf("  truncated:       %d\n", hs.Bridge["truncated"]))
}
