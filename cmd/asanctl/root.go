package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/joshuapare/asankit/pkg/asan"
)

var (
	// Global flags
	verbose bool
	quiet   bool
	jsonOut bool
	noColor bool

	// cfg holds the runtime configuration: flags > ASANKIT_* env > defaults.
	cfg = asan.NewViper()

	// exitFunc terminates the process on a violation. Tests replace it.
	exitFunc = os.Exit

	// stdout and diagOut receive command output and sanitizer diagnostics.
	stdout  io.Writer = os.Stdout
	diagOut io.Writer = os.Stderr
)

var rootCmd = &cobra.Command{
	Use:   "asanctl",
	Short: "Exercise the asankit guarded heap",
	Long: `asanctl drives the asankit guarded allocator: it runs the hello-world
demo, replays heap bugs the sanitizer must catch, and reports heap statistics.
Every runtime setting can also be given as an ASANKIT_* environment variable.`,
	Version:       "0.1.0",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		if noColor {
			color.NoColor = true
		}
	},
}

func init() {
	// Global flags
	pf := rootCmd.PersistentFlags()
	pf.BoolVarP(&verbose, "verbose", "v", false, "Enable verbose output")
	pf.BoolVarP(&quiet, "quiet", "q", false, "Suppress all output except errors")
	pf.BoolVar(&jsonOut, "json", false, "Output in JSON format")
	pf.BoolVar(&noColor, "no-color", false, "Disable colored output")

	// Runtime flags, bound to the same keys as the environment
	pf.Int("arena-size", 0, "Bytes mapped for the heap (default 64 MiB)")
	pf.Uint64("redzone", 0, "Minimum redzone on each side of an object (default 128)")
	pf.Uint64("quarantine-bytes", 0, "Quarantine budget in bytes (default 50 MiB)")
	pf.Int("quarantine-items", 0, "Maximum quarantined objects (0 = unbounded)")
	pf.Int("log-capacity", 0, "Diagnostic buffer size (default 4096)")
	pf.Int("exit-code", 0, "Exit status on violation (default 66)")
	pf.Bool("callers", false, "Record allocation call sites")
	pf.Bool("debug", false, "Trace allocator activity")

	bindFlag(asan.KeyArenaSize, "arena-size")
	bindFlag(asan.KeyRedzone, "redzone")
	bindFlag(asan.KeyQuarantineBytes, "quarantine-bytes")
	bindFlag(asan.KeyQuarantineItems, "quarantine-items")
	bindFlag(asan.KeyLogCapacity, "log-capacity")
	bindFlag(asan.KeyExitCode, "exit-code")
	bindFlag(asan.KeyCallers, "callers")
	bindFlag(asan.KeyDebug, "debug")
}

func bindFlag(key, name string) {
	if err := cfg.BindPFlag(key, rootCmd.PersistentFlags().Lookup(name)); err != nil {
		panic(fmt.Sprintf("binding --%s: %v", name, err))
	}
}

func execute() {
	if err := rootCmd.Execute(); err != nil {
		printError("%v\n", err)
		os.Exit(1)
	}
}

// newRuntime builds a sanitizer runtime from the merged configuration.
func newRuntime(v *viper.Viper) (*asan.Runtime, error) {
	c, err := asan.ConfigFromViper(v)
	if err != nil {
		return nil, err
	}
	c.Sink = newColorSink(diagOut)
	printVerbose("Runtime: arena=%d redzone=%d quarantine=%d exit=%d\n",
		c.ArenaSize, c.Redzone, c.QuarantineBytes, c.ExitCode)
	return asan.New(c, asan.WithExit(exitFunc))
}

// Helper functions for output

// printInfo prints an info message if not in quiet mode
func printInfo(format string, args ...interface{}) {
	if !quiet {
		fmt.Fprintf(stdout, format, args...)
	}
}

// printError prints an error message
func printError(format string, args ...interface{}) {
	fmt.Fprintf(os.Stderr, "Error: "+format, args...)
}

// printVerbose prints a verbose message if verbose mode is enabled
func printVerbose(format string, args ...interface{}) {
	if verbose && !quiet {
		fmt.Fprintf(stdout, format, args...)
	}
}

// printJSON outputs data as JSON
func printJSON(v interface{}) error {
	encoder := json.NewEncoder(stdout)
	encoder.SetIndent("", "  ")
	return encoder.Encode(v)
}
