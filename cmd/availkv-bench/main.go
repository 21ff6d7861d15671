// Command availkv-bench drives internal/harness over a directory of
// scripted scenario files, one engine per scenario, fanned out across
// a bounded worker pool. Grounded on the teacher's
// tests/load/cmd/multidb_loadtest/main.go (flag-driven load test
// entrypoint reporting a summary after a fan-out run), rebuilt on
// cobra for flag parsing and go-humanize for the summary.
package main

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/availkv/availkv/internal/harness"
	"github.com/availkv/availkv/internal/obslog"
)

func main() {
	var workers int
	root := &cobra.Command{
		Use:   "availkv-bench DIR",
		Short: "Replay every scenario file in DIR concurrently and report results",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(args[0], workers)
		},
	}
	root.Flags().IntVar(&workers, "workers", 8, "concurrent scenario workers")

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(dir string, workers int) error {
	scenarios, err := loadScenarios(dir)
	if err != nil {
		return err
	}
	if len(scenarios) == 0 {
		return fmt.Errorf("no scenario files found under %s", dir)
	}

	runner, err := harness.NewRunner(workers, obslog.WithComponent("harness"))
	if err != nil {
		return fmt.Errorf("starting harness: %w", err)
	}
	defer runner.Release()

	fmt.Printf("running %d scenario(s) across up to %d workers\n", len(scenarios), workers)
	results := runner.RunAll(scenarios)

	failures := 0
	for _, r := range results {
		if r.Err != nil {
			failures++
			fmt.Printf("%-24s FAILED: %v\n", r.Name, r.Err)
			continue
		}
		fmt.Printf("%-24s %s line(s) of output in %s\n", r.Name, humanize.Comma(int64(len(r.Output))), r.Duration)
	}
	fmt.Printf("\n%d scenario(s), %d failed\n", len(results), failures)
	if failures > 0 {
		return fmt.Errorf("%d scenario(s) failed", failures)
	}
	return nil
}

func loadScenarios(dir string) ([]harness.Scenario, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("reading scenario dir: %w", err)
	}
	var names []string
	for _, ent := range entries {
		if !ent.IsDir() && strings.HasSuffix(ent.Name(), ".txt") {
			names = append(names, ent.Name())
		}
	}
	sort.Strings(names)

	scenarios := make([]harness.Scenario, 0, len(names))
	for _, name := range names {
		lines, err := readLines(filepath.Join(dir, name))
		if err != nil {
			return nil, err
		}
		scenarios = append(scenarios, harness.Scenario{Name: name, Lines: lines})
	}
	return scenarios, nil
}

func readLines(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening %s: %w", path, err)
	}
	defer f.Close()

	var lines []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		lines = append(lines, scanner.Text())
	}
	return lines, scanner.Err()
}
