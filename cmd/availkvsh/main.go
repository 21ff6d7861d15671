// Command availkvsh is the thin CLI driver (§1's "external
// collaborators"): it parses command-line flags with cobra, feeds
// workload lines through internal/cmdparse into internal/engine, and
// prints the engine's output. Grounded on the teacher's cmd/docdbsh
// main.go (flag parsing, a REPL read loop, signal handling) but
// rebuilt on cobra/liner the way the rest of the retrieved pack reaches
// for those libraries instead of flag/bufio.
package main

import (
	"bufio"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/peterh/liner"
	"github.com/spf13/cobra"

	"github.com/availkv/availkv/internal/cmdparse"
	"github.com/availkv/availkv/internal/config"
	"github.com/availkv/availkv/internal/engine"
	"github.com/availkv/availkv/internal/metrics"
	"github.com/availkv/availkv/internal/obslog"
)

var configPath string

func main() {
	root := &cobra.Command{
		Use:   "availkvsh",
		Short: "Replicated SSI key-value store driver",
	}
	root.PersistentFlags().StringVar(&configPath, "config", "", "path to a YAML config file")

	root.AddCommand(runCmd(), replCmd(), metricsCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func loadConfig() *config.Config {
	if configPath == "" {
		return config.Default()
	}
	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "loading config: %v\n", err)
		os.Exit(1)
	}
	return cfg
}

func newEngine(cfg *config.Config) *engine.Engine {
	obslog.Init(obslog.Config{Level: obslog.Level(cfg.Log.Level), JSONOutput: cfg.Log.JSON})
	if cfg.Metrics.Enabled {
		go serveMetrics(cfg.Metrics.Addr)
	}
	return engine.New(obslog.WithComponent("engine"))
}

func runCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run FILE",
		Short: "Replay a workload file of commands",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := os.Open(args[0])
			if err != nil {
				return fmt.Errorf("opening workload file: %w", err)
			}
			defer f.Close()

			cfg := loadConfig()
			e := newEngine(cfg)

			scanner := bufio.NewScanner(f)
			for scanner.Scan() {
				text := scanner.Text()
				if cfg.Replay.StopOnParseError {
					if _, err := cmdparse.ParseLine(text); err != nil {
						return fmt.Errorf("parse error: %w", err)
					}
				}
				for _, line := range replayLine(e, text) {
					fmt.Println(line)
				}
			}
			return scanner.Err()
		},
	}
}

func replCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "repl",
		Short: "Interactively type commands against the engine",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := loadConfig()
			e := newEngine(cfg)

			line := liner.NewLiner()
			defer line.Close()
			line.SetCtrlCAborts(true)

			sigCh := make(chan os.Signal, 1)
			signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
			go func() {
				<-sigCh
				line.Close()
				os.Exit(0)
			}()

			for {
				text, err := line.Prompt("> ")
				if err != nil {
					fmt.Println()
					return nil
				}
				line.AppendHistory(text)
				for _, out := range replayLine(e, text) {
					fmt.Println(out)
				}
			}
		},
	}
}

func metricsCmd() *cobra.Command {
	var addr string
	c := &cobra.Command{
		Use:   "serve-metrics",
		Short: "Serve the Prometheus /metrics endpoint and block",
		RunE: func(cmd *cobra.Command, args []string) error {
			serveMetrics(addr)
			return nil
		},
	}
	c.Flags().StringVar(&addr, "addr", ":9090", "listen address")
	return c
}

func serveMetrics(addr string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	obslog.Logger.Info().Str("addr", addr).Msg("serving metrics")
	if err := http.ListenAndServe(addr, mux); err != nil {
		obslog.Logger.Error().Err(err).Msg("metrics server stopped")
	}
}

// replayLine parses and dispatches one workload line, surfacing parse
// errors the same way the engine surfaces protocol errors (§7).
func replayLine(e *engine.Engine, line string) []string {
	cmd, err := cmdparse.ParseLine(line)
	if err != nil {
		return []string{fmt.Sprintf("ERROR: %s", err)}
	}
	if cmd == nil {
		return nil
	}
	return e.Dispatch(cmd)
}
