package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var demoSize uint64

func init() {
	cmd := newDemoCmd()
	cmd.Flags().Uint64Var(&demoSize, "size", 8, "Bytes to allocate")
	rootCmd.AddCommand(cmd)
}

func newDemoCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "demo",
		Short: "Allocate, print and free one object",
		Long: `The demo command allocates an object from the guarded heap, traces its
address through the diagnostic bridge and frees it again.

Example:
  asanctl demo
  asanctl demo --size 64 --debug`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDemo()
		},
	}
}

func runDemo() error {
	rt, err := newRuntime(cfg)
	if err != nil {
		return err
	}
	defer rt.Close()

	p := rt.Allocate(uintptr(demoSize), 0)
	if p == 0 {
		return fmt.Errorf("allocating %d bytes: out of memory", demoSize)
	}
	rt.Trace("p: %v", p)
	printInfo("allocated %d bytes at %s\n", demoSize, p)
	rt.Deallocate(p)
	printVerbose("freed %s\n", p)
	return nil
}
