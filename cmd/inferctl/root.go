package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"sort"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"inferd/pkg/client"
	"inferd/pkg/types"
)

// version is stamped at build time via -ldflags.
var version = "dev"

// ctlOptions are the persistent flags shared by every subcommand.
type ctlOptions struct {
	server  string
	timeout time.Duration
}

func (o *ctlOptions) client() (*client.Client, error) {
	return client.New(o.server)
}

// cmdContext builds the per-command context: bounded by --timeout when set,
// cancelled on interrupt either way so a Ctrl-C tears the request down
// server-side too.
func (o *ctlOptions) cmdContext() (context.Context, context.CancelFunc) {
	ctx := context.Background()
	var cancel context.CancelFunc
	if o.timeout > 0 {
		ctx, cancel = context.WithTimeout(ctx, o.timeout)
	} else {
		ctx, cancel = context.WithCancel(ctx)
	}
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt)
	return ctx, func() {
		stop()
		cancel()
	}
}

func newRootCmd() *cobra.Command {
	cmd, _ := newRootCmdWith()
	return cmd
}

// newRootCmdWith exposes the bound options so tests can point the tree at a
// test server through the real flag set.
func newRootCmdWith() (*cobra.Command, *ctlOptions) {
	opts := &ctlOptions{}

	root := &cobra.Command{
		Use:           "inferctl",
		Short:         "Command line client for the inferd HTTP API",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	pf := root.PersistentFlags()
	pf.StringVarP(&opts.server, "server", "s", envStr("INFERD_SERVER", client.DefaultBase), "Base URL of the inferd server (defaults INFERD_SERVER)")
	pf.DurationVar(&opts.timeout, "timeout", 0, "Request timeout; 0 waits as long as the server allows")

	root.AddCommand(
		newModelsCmd(opts),
		newStateCmd(opts),
		newLoadCmd(opts),
		newUnloadCmd(opts),
		newActivateCmd(opts),
		newInferCmd(opts),
		newHealthCmd(opts),
		newStatusCmd(opts),
		newVersionCmd(),
	)
	addCompletionCmd(root)
	return root, opts
}

func newModelsCmd(opts *ctlOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "models",
		Short: "List models with lifecycle state and memory accounting",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := opts.client()
			if err != nil {
				return err
			}
			ctx, cancel := opts.cmdContext()
			defer cancel()
			list, err := c.Models(ctx)
			if err != nil {
				return err
			}

			ids := make([]string, 0, len(list.Models))
			for id := range list.Models {
				ids = append(ids, id)
			}
			sort.Strings(ids)

			out := cmd.OutOrStdout()
			w := tabwriter.NewWriter(out, 0, 8, 2, ' ', 0)
			fmt.Fprintln(w, "MODEL\tSTATE\tSIZE\tQUANT\tFAMILY\tACTIVE")
			for _, id := range ids {
				m := list.Models[id]
				active := ""
				if m.Active {
					active = "*"
				}
				fmt.Fprintf(w, "%s\t%s\t%d MiB\t%s\t%s\t%s\n",
					id, m.State, m.SizeMB, dashWhenEmpty(m.Quant), dashWhenEmpty(m.Family), active)
			}
			w.Flush()
			fmt.Fprintf(out, "\nmemory: %d MiB used, %d MiB free (margin %.2f)\n",
				list.Memory.UsedMB, list.Memory.FreeMB, list.Memory.Margin)
			return nil
		},
	}
}

func newStateCmd(opts *ctlOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "state <model>",
		Short: "Show the lifecycle state of one model",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := opts.client()
			if err != nil {
				return err
			}
			ctx, cancel := opts.cmdContext()
			defer cancel()
			st, err := c.State(ctx, args[0])
			if err != nil {
				return err
			}
			printState(cmd, st)
			return nil
		},
	}
}

func newLoadCmd(opts *ctlOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "load <model>",
		Short: "Load a model into memory (blocks until resident)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := opts.client()
			if err != nil {
				return err
			}
			ctx, cancel := opts.cmdContext()
			defer cancel()
			st, err := c.Load(ctx, args[0])
			if err != nil {
				return err
			}
			printState(cmd, st)
			return nil
		},
	}
}

func newUnloadCmd(opts *ctlOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "unload <model>",
		Short: "Unload a model and release its memory",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := opts.client()
			if err != nil {
				return err
			}
			ctx, cancel := opts.cmdContext()
			defer cancel()
			st, err := c.Unload(ctx, args[0])
			if err != nil {
				return err
			}
			printState(cmd, st)
			return nil
		},
	}
}

func newActivateCmd(opts *ctlOptions) *cobra.Command {
	return &cobra.Command{
		Use:     "activate <model>",
		Aliases: []string{"set-model"},
		Short:   "Mark a loaded model as the generation target",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := opts.client()
			if err != nil {
				return err
			}
			ctx, cancel := opts.cmdContext()
			defer cancel()
			st, err := c.SetActive(ctx, args[0])
			if err != nil {
				return err
			}
			printState(cmd, st)
			return nil
		},
	}
}

func newInferCmd(opts *ctlOptions) *cobra.Command {
	var (
		system   string
		temp     float64
		topP     float64
		maxTok   int
		seed     int64
		noStream bool
		asJSON   bool
	)
	cmd := &cobra.Command{
		Use:   "infer <prompt>",
		Short: "Generate a completion on the active model",
		Example: "  inferctl infer \"Write a haiku about the ocean.\"\n" +
			"  inferctl infer --no-stream --max-tokens 64 \"Summarize:\" < notes.txt",
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			req := types.GenerateRequest{
				Prompt:       strings.Join(args, " "),
				SystemPrompt: system,
			}
			f := cmd.Flags()
			if f.Changed("temperature") {
				req.Temperature = &temp
			}
			if f.Changed("top-p") {
				req.TopP = &topP
			}
			if f.Changed("max-tokens") {
				req.MaxTokens = &maxTok
			}
			if f.Changed("seed") {
				req.Seed = &seed
			}

			c, err := opts.client()
			if err != nil {
				return err
			}
			ctx, cancel := opts.cmdContext()
			defer cancel()
			out := cmd.OutOrStdout()

			if noStream || asJSON {
				resp, err := c.Generate(ctx, req)
				if err != nil {
					return err
				}
				if asJSON {
					b, err := json.MarshalIndent(resp, "", "  ")
					if err != nil {
						return err
					}
					fmt.Fprintln(out, string(b))
					return nil
				}
				fmt.Fprintln(out, resp.Content)
				return nil
			}

			return c.Stream(ctx, req, func(ev types.StreamEvent) error {
				if ev.Terminal() {
					fmt.Fprintln(out)
					if ev.FinishReason != types.FinishStop {
						fmt.Fprintf(cmd.ErrOrStderr(), "finish reason: %s\n", ev.FinishReason)
					}
					return nil
				}
				fmt.Fprint(out, ev.Token)
				return nil
			})
		},
	}
	fl := cmd.Flags()
	fl.StringVar(&system, "system", "", "System prompt rendered through the model's template")
	fl.Float64Var(&temp, "temperature", 0, "Sampling temperature, must be > 0")
	fl.Float64Var(&topP, "top-p", 0, "Nucleus sampling probability in (0,1]")
	fl.IntVar(&maxTok, "max-tokens", 0, "Maximum new tokens to generate")
	fl.Int64Var(&seed, "seed", 0, "Seed for deterministic sampling")
	fl.BoolVar(&noStream, "no-stream", false, "Wait for the full completion instead of streaming tokens")
	fl.BoolVar(&asJSON, "json", false, "Print the full response as JSON (implies --no-stream)")
	return cmd
}

func newHealthCmd(opts *ctlOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "Show server liveness",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := opts.client()
			if err != nil {
				return err
			}
			ctx, cancel := opts.cmdContext()
			defer cancel()
			h, err := c.Health(ctx)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "status: %s\n", h.Status)
			fmt.Fprintf(out, "active: %s\n", dashWhenEmpty(h.Active))
			fmt.Fprintf(out, "loaded: %d\n", h.Loaded)
			return nil
		},
	}
}

func newStatusCmd(opts *ctlOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show the operational snapshot",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := opts.client()
			if err != nil {
				return err
			}
			ctx, cancel := opts.cmdContext()
			defer cancel()
			st, err := c.Status(ctx)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "state: %s\n", st.State)
			fmt.Fprintf(out, "active: %s\n", dashWhenEmpty(st.Active))
			fmt.Fprintf(out, "loaded models: %d\n", st.LoadedModels)
			fmt.Fprintf(out, "sessions in flight: %d\n", st.ActiveSessions)
			fmt.Fprintf(out, "operations: %d loads, %d unloads, %d generations\n",
				st.LoadsTotal, st.UnloadsTotal, st.GenerationsTotal)
			fmt.Fprintf(out, "memory: %d MiB used, %d MiB free (margin %.2f)\n",
				st.Memory.UsedMB, st.Memory.FreeMB, st.Memory.Margin)
			fmt.Fprintf(out, "uptime: %s\n", (time.Duration(st.UptimeSeconds) * time.Second).String())
			return nil
		},
	}
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the inferctl version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintln(cmd.OutOrStdout(), "inferctl", version)
		},
	}
}

func addCompletionCmd(root *cobra.Command) {
	completionCmd := &cobra.Command{Use: "completion", Short: "Generate the autocompletion script for the specified shell"}
	completionCmd.AddCommand(&cobra.Command{Use: "bash", Short: "Bash completion", RunE: func(cmd *cobra.Command, args []string) error {
		return root.GenBashCompletion(os.Stdout)
	}})
	completionCmd.AddCommand(&cobra.Command{Use: "zsh", Short: "Zsh completion", RunE: func(cmd *cobra.Command, args []string) error {
		return root.GenZshCompletion(os.Stdout)
	}})
	completionCmd.AddCommand(&cobra.Command{Use: "fish", Short: "Fish completion", RunE: func(cmd *cobra.Command, args []string) error {
		return root.GenFishCompletion(os.Stdout, true)
	}})
	completionCmd.AddCommand(&cobra.Command{Use: "powershell", Short: "PowerShell completion", RunE: func(cmd *cobra.Command, args []string) error {
		return root.GenPowerShellCompletionWithDesc(os.Stdout)
	}})
	root.AddCommand(completionCmd)
}

func printState(cmd *cobra.Command, st types.ModelStateResponse) {
	suffix := ""
	if st.Active {
		suffix = " (active)"
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%s: %s%s\n", st.Name, st.State, suffix)
}

func dashWhenEmpty(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

func envStr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
