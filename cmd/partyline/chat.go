package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/spf13/cobra"

	"github.com/vango-go/partyline/pkg/call/director"
	"github.com/vango-go/partyline/pkg/call/plan"
	"github.com/vango-go/partyline/pkg/call/scene"
)

func newChatCmd(logger func() *slog.Logger, deps cliDeps) *cobra.Command {
	var (
		asJSON    bool
		intensity float64
	)
	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Drive one call from the terminal",
		Long: `chat reads what you say from stdin, one line per turn, and prints what the
family says back. The call ends on a stop word or EOF.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if deps.loadConfig == nil || deps.buildStack == nil {
				return fmt.Errorf("missing chat dependency")
			}
			cfg, err := deps.loadConfig()
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			st, err := deps.buildStack(cmd.Context(), cfg, logger())
			if err != nil {
				return fmt.Errorf("build runtime: %w", err)
			}
			if st.close != nil {
				defer st.close()
			}
			sc, err := st.runtime.Scene()
			if err != nil {
				return fmt.Errorf("load scene: %w", err)
			}

			state := scene.NewState(sc)
			if cmd.Flags().Changed("intensity") {
				state.SetIntensity(intensity)
			}
			d := director.New(state, st.runtime.Director)
			return chatLoop(cmd.Context(), d, cmd.InOrStdin(), cmd.OutOrStdout(), asJSON)
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print each plan as JSON")
	cmd.Flags().Float64Var(&intensity, "intensity", 0, "background energy in [0, 1]; defaults to the scene's")
	return cmd
}

func chatLoop(ctx context.Context, d *director.Director, in io.Reader, out io.Writer, asJSON bool) error {
	sc := d.State().Scene
	if !asJSON {
		fmt.Fprintf(out, "== %s ==\n", sc.Title)
		fmt.Fprintf(out, "%s picks up. Say something (stop words: %s).\n", d.State().Cursor.Foreground, strings.Join(sc.StopWords, ", "))
	}

	scanner := bufio.NewScanner(in)
	enc := json.NewEncoder(out)
	for {
		if !asJSON {
			fmt.Fprint(out, "> ")
		}
		if !scanner.Scan() {
			break
		}
		text := strings.TrimSpace(scanner.Text())
		if text == "" {
			continue
		}
		if err := ctx.Err(); err != nil {
			return err
		}

		p := d.Step(ctx, text)
		if asJSON {
			if err := enc.Encode(p); err != nil {
				return err
			}
		} else {
			printPlan(out, p)
		}
		if p.Terminal() {
			return nil
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("read input: %w", err)
	}
	if !asJSON {
		fmt.Fprintln(out)
	}
	return nil
}

func printPlan(out io.Writer, p plan.Plan) {
	if p.Terminal() {
		fmt.Fprintln(out, "(call ended)")
		return
	}
	if fg := p.Foreground; fg != nil {
		fmt.Fprintf(out, "%s: %s\n", fg.Speaker, fg.Transcript)
		if fg.Line != fg.Transcript {
			fmt.Fprintf(out, "  [audio %s]\n", fg.Line)
		}
	}
	for _, a := range p.Background {
		fmt.Fprintf(out, "  (%s, %s) %s\n", a.Speaker, a.Proximity, a.Line)
	}
	if target := p.HandoffTarget(); target != "" {
		fmt.Fprintf(out, "  -> handing the phone to %s\n", target)
	}
}
