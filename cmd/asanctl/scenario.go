package main

import (
	"fmt"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"github.com/joshuapare/asankit/pkg/asan"
)

// scenario provokes one class of heap bug. Scenarios that are caught end in
// a call to exitFunc before they return.
type scenario struct {
	desc string
	run  func(rt *asan.Runtime) error
}

var scenarios = map[string]scenario{
	"overflow": {
		desc: "write one byte past the end of an object, then free it",
		run: func(rt *asan.Runtime) error {
			p := rt.Allocate(8, 0)
			rt.Bytes(p, 9)[8] = 'X'
			rt.Deallocate(p)
			return nil
		},
	},
	"underflow": {
		desc: "write one byte before the start of an object, then free it",
		run: func(rt *asan.Runtime) error {
			p := rt.Allocate(8, 0)
			rt.Bytes(p-1, 1)[0] = 'X'
			rt.Deallocate(p)
			return nil
		},
	},
	"double-free": {
		desc: "free the same object twice",
		run: func(rt *asan.Runtime) error {
			p := rt.Allocate(16, 0)
			rt.Deallocate(p)
			rt.Deallocate(p)
			return nil
		},
	},
	"use-after-free": {
		desc: "store into an object after freeing it",
		run: func(rt *asan.Runtime) error {
			p := rt.Allocate(32, 0)
			rt.Deallocate(p)
			rt.Store(p, 4)
			return nil
		},
	},
	"unknown-pointer": {
		desc: "free an address the heap never returned",
		run: func(rt *asan.Runtime) error {
			p := rt.Allocate(32, 0)
			rt.Deallocate(p.Add(8))
			return nil
		},
	},
	"overlap": {
		desc: "memcpy between overlapping ranges",
		run: func(rt *asan.Runtime) error {
			h := rt.Hooks()
			p, err := h.Malloc(32)
			if err != nil {
				return err
			}
			_, err = h.Memcpy(p.Add(4), p, 16)
			_ = rt.Enforce(err)
			return nil
		},
	},
	"strcpy": {
		desc: "strcpy a string into an object one byte too small",
		run: func(rt *asan.Runtime) error {
			h := rt.Hooks()
			src, err := h.Calloc(1, 6)
			if err != nil {
				return err
			}
			copy(rt.Bytes(src, 5), "hello")
			dst, err := h.Malloc(5)
			if err != nil {
				return err
			}
			_, err = h.Strcpy(dst, src)
			_ = rt.Enforce(err)
			return nil
		},
	},
	"leak": {
		desc: "exit with objects still allocated",
		run: func(rt *asan.Runtime) error {
			for i := range 3 {
				_ = rt.Allocate(uintptr(16*(i+1)), 0)
			}
			if n := rt.ReportLeaks(); n > 0 {
				return fmt.Errorf("%d objects leaked", n)
			}
			return nil
		},
	},
}

var scenarioList bool

func init() {
	cmd := newScenarioCmd()
	cmd.Flags().BoolVar(&scenarioList, "list", false, "List available scenarios")
	rootCmd.AddCommand(cmd)
}

func newScenarioCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "scenario <name>",
		Short: "Replay a heap bug the sanitizer must catch",
		Long: `The scenario command runs a short program containing a deliberate heap
bug. Detected violations print one diagnostic line and exit with the
configured status (66 by default).

Example:
  asanctl scenario --list
  asanctl scenario double-free
  asanctl scenario overflow --callers`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if scenarioList || len(args) == 0 {
				return listScenarios()
			}
			return runScenario(args[0])
		},
	}
}

func scenarioNames() []string {
	names := make([]string, 0, len(scenarios))
	for name := range scenarios {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func listScenarios() error {
	if jsonOut {
		out := make(map[string]string, len(scenarios))
		for name, s := range scenarios {
			out[name] = s.desc
		}
		return printJSON(out)
	}
	for _, name := range scenarioNames() {
		printInfo("  %-16s %s\n", name, scenarios[name].desc)
	}
	return nil
}

func runScenario(name string) error {
	s, ok := scenarios[name]
	if !ok {
		return fmt.Errorf("unknown scenario %q (available: %s)", name, strings.Join(scenarioNames(), ", "))
	}

	rt, err := newRuntime(cfg)
	if err != nil {
		return err
	}
	defer rt.Close()

	printVerbose("Running scenario %s: %s\n", name, s.desc)
	if err := s.run(rt); err != nil {
		return err
	}
	if v := rt.Guarded().Faulted(); v == nil && rt.Stats().Violations == 0 {
		return fmt.Errorf("scenario %s: no violation detected", name)
	}
	return nil
}
