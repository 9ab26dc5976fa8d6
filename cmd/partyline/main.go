package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/vango-go/partyline/internal/dotenv"
	"github.com/vango-go/partyline/pkg/gateway/config"
	gatewayserver "github.com/vango-go/partyline/pkg/gateway/server"
)

type cliDeps struct {
	loadConfig   func() (config.Config, error)
	buildStack   func(context.Context, config.Config, *slog.Logger) (*stack, error)
	newGateway   func(config.Config, *slog.Logger, gatewayserver.Runtime) *gatewayserver.Server
	signalNotify func(chan<- os.Signal, ...os.Signal)
	signalStop   func(chan<- os.Signal)
}

func defaultCLIDeps() cliDeps {
	return cliDeps{
		loadConfig: config.LoadFromEnv,
		buildStack: func(ctx context.Context, cfg config.Config, logger *slog.Logger) (*stack, error) {
			return buildStack(ctx, cfg, logger, prometheus.NewRegistry())
		},
		newGateway: gatewayserver.New,
		signalNotify: func(c chan<- os.Signal, sig ...os.Signal) {
			signal.Notify(c, sig...)
		},
		signalStop: signal.Stop,
	}
}

type rootOptions struct {
	envFiles []string
	logLevel string
	logJSON  bool
}

func newRootCmd(stderr io.Writer, deps cliDeps) *cobra.Command {
	opts := &rootOptions{}
	var logger *slog.Logger

	root := &cobra.Command{
		Use:   "partyline",
		Short: "Simulated family phone call: gateway and tooling",
		Long: `partyline runs the orchestration engine behind a simulated family call.

The serve command exposes calls over WebSocket and REST. chat drives one call
from the terminal. make-agents and persona create manage persona files.

Configuration comes from PARTYLINE_* environment variables; .env files are
read first and never override variables already set.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if err := dotenv.LoadFiles(opts.envFiles...); err != nil {
				return err
			}
			l, err := newLogger(stderr, opts.logLevel, opts.logJSON)
			if err != nil {
				return err
			}
			logger = l
			return nil
		},
	}
	root.PersistentFlags().StringSliceVar(&opts.envFiles, "env-file", []string{".env.local", ".env"}, "dotenv files to load, earlier files win")
	root.PersistentFlags().StringVar(&opts.logLevel, "log-level", "info", "log level: debug|info|warn|error")
	root.PersistentFlags().BoolVar(&opts.logJSON, "log-json", false, "emit JSON logs")

	getLogger := func() *slog.Logger {
		if logger == nil {
			return slog.Default()
		}
		return logger
	}

	root.AddCommand(
		newServeCmd(getLogger, deps),
		newChatCmd(getLogger, deps),
		newMakeAgentsCmd(),
		newPersonaCmd(getLogger, deps),
	)
	return root
}

func newLogger(w io.Writer, level string, asJSON bool) (*slog.Logger, error) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(strings.TrimSpace(level))); err != nil {
		return nil, fmt.Errorf("invalid --log-level %q", level)
	}
	hopts := &slog.HandlerOptions{Level: lvl}
	if asJSON {
		return slog.New(slog.NewJSONHandler(w, hopts)), nil
	}
	return slog.New(slog.NewTextHandler(w, hopts)), nil
}

func runMain(ctx context.Context, args []string, stdin io.Reader, stdout, stderr io.Writer, deps cliDeps) int {
	if stderr == nil {
		stderr = os.Stderr
	}
	root := newRootCmd(stderr, deps)
	root.SetArgs(args)
	root.SetIn(stdin)
	root.SetOut(stdout)
	root.SetErr(stderr)

	if err := root.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(stderr, "partyline: %v\n", err)
		return 1
	}
	return 0
}

func main() {
	os.Exit(runMain(context.Background(), os.Args[1:], os.Stdin, os.Stdout, os.Stderr, defaultCLIDeps()))
}
