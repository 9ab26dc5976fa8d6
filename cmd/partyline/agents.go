package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/vango-go/partyline/pkg/call/director"
	"github.com/vango-go/partyline/pkg/call/persona"
	"github.com/vango-go/partyline/pkg/call/scene"
)

type makeAgentsOptions struct {
	scaffold   string
	outAgents  string
	outPrompts string
	outScenes  string
	noScene    bool
	force      bool
}

type outputFile struct {
	path    string
	content []byte
}

type makeAgentsResult struct {
	written []string
	skipped []string
}

func newMakeAgentsCmd() *cobra.Command {
	opts := makeAgentsOptions{}
	cmd := &cobra.Command{
		Use:   "make-agents",
		Short: "Generate persona files and prompt files from the scaffold",
		Long: `make-agents expands agents/_scaffold.yaml into one persona JSON file per
entry, writes the character and director prompts, and seeds the default
scene. Existing files are kept unless --force is given.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			res, err := makeAgents(cmd, opts)
			if err != nil {
				return err
			}
			printMakeAgentsSummary(cmd.OutOrStdout(), opts, res)
			return nil
		},
	}
	f := cmd.Flags()
	f.StringVar(&opts.scaffold, "scaffold", filepath.Join("agents", "_scaffold.yaml"), "scaffold file")
	f.StringVar(&opts.outAgents, "out-agents", "agents", "persona output directory")
	f.StringVar(&opts.outPrompts, "out-prompts", "prompts", "prompt output directory")
	f.StringVar(&opts.outScenes, "out-scenes", "scenes", "scene output directory")
	f.BoolVar(&opts.noScene, "no-scene", false, "do not write the default scene")
	f.BoolVar(&opts.force, "force", false, "overwrite existing files")
	return cmd
}

func makeAgents(cmd *cobra.Command, opts makeAgentsOptions) (makeAgentsResult, error) {
	var res makeAgentsResult
	entries, err := persona.LoadScaffold(opts.scaffold)
	if err != nil {
		return res, err
	}
	store, err := persona.NewFileStore(opts.outAgents)
	if err != nil {
		return res, err
	}

	for _, e := range entries {
		if !persona.ValidID(e.ID) {
			fmt.Fprintf(cmd.ErrOrStderr(), "warning: skipping persona with invalid id %q\n", e.ID)
			continue
		}
		path := filepath.Join(opts.outAgents, e.ID+".json")
		err := store.Save(cmd.Context(), persona.FromScaffold(e), persona.SaveOptions{Overwrite: opts.force})
		switch {
		case err == nil:
			res.written = append(res.written, path)
		case errors.Is(err, persona.ErrExists):
			res.skipped = append(res.skipped, path)
		default:
			return res, err
		}
	}

	files := []outputFile{
		{filepath.Join(opts.outPrompts, directorPromptFile), []byte(director.DirectorPrompt)},
		{filepath.Join(opts.outPrompts, characterPromptFile), []byte(director.CharacterPrompt)},
	}
	if !opts.noScene {
		files = append(files, outputFile{filepath.Join(opts.outScenes, scene.DefaultFileName), scene.DefaultYAML})
	}
	for _, f := range files {
		wrote, err := writeFile(f.path, f.content, opts.force)
		if err != nil {
			return res, err
		}
		if wrote {
			res.written = append(res.written, f.path)
		} else {
			res.skipped = append(res.skipped, f.path)
		}
	}
	return res, nil
}

func writeFile(path string, content []byte, force bool) (bool, error) {
	if !force {
		if _, err := os.Stat(path); err == nil {
			return false, nil
		}
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return false, fmt.Errorf("create %s: %w", filepath.Dir(path), err)
	}
	if err := os.WriteFile(path, content, 0o644); err != nil {
		return false, fmt.Errorf("write %s: %w", path, err)
	}
	return true, nil
}

func printMakeAgentsSummary(out io.Writer, opts makeAgentsOptions, res makeAgentsResult) {
	fmt.Fprintf(out, "scaffold: %s\n", opts.scaffold)
	for _, p := range res.written {
		fmt.Fprintf(out, "  [+] wrote %s\n", p)
	}
	for _, p := range res.skipped {
		fmt.Fprintf(out, "  [=] exists (skip) %s\n", p)
	}
}

func newPersonaCmd(logger func() *slog.Logger, deps cliDeps) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "persona",
		Short: "Manage stored personas",
	}

	var force bool
	create := &cobra.Command{
		Use:   "create <name> [vibe...]",
		Short: "Build a persona from a vibe and store it",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id := persona.NormalizeID(args[0])
			if !persona.ValidID(id) {
				return fmt.Errorf("invalid persona name %q", args[0])
			}
			vibe := strings.Join(args[1:], " ")

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

			var (
				p       persona.Persona
				created bool
			)
			if force {
				p = st.builder.BuildPersona(cmd.Context(), id, vibe)
				if err := st.store.Save(cmd.Context(), p, persona.SaveOptions{Overwrite: true}); err != nil {
					return err
				}
				created = true
			} else {
				p, created, err = st.builder.CreateIfAbsent(cmd.Context(), id, vibe)
				if err != nil {
					return err
				}
			}

			if created {
				fmt.Fprintf(cmd.ErrOrStderr(), "created persona %s\n", id)
			} else {
				fmt.Fprintf(cmd.ErrOrStderr(), "persona %s already exists\n", id)
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(p)
		},
	}
	create.Flags().BoolVar(&force, "force", false, "rebuild and overwrite an existing persona")

	list := &cobra.Command{
		Use:   "list",
		Short: "List stored persona ids",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
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
			ids, err := st.store.List(cmd.Context())
			if err != nil {
				return err
			}
			for _, id := range ids {
				fmt.Fprintln(cmd.OutOrStdout(), id)
			}
			return nil
		},
	}

	cmd.AddCommand(create, list)
	return cmd
}
