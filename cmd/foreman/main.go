// Command foreman is the interactive CLI for the orchestration engine. With a
// prompt argument (or piped stdin) it runs one request and exits; otherwise it
// starts a REPL backed by a persisted session.
package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"foreman/internal/agent/app/coordinator"
	"foreman/internal/agent/ports"
	"foreman/internal/approval"
	"foreman/internal/config"
	"foreman/internal/di"
	"foreman/internal/session"
)

var version = "dev"

type cliFlags struct {
	configPath string
	prompt     string
	mode       string
	control    string
	resume     string
	noColor    bool
	verbose    bool
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	flags := &cliFlags{}

	root := &cobra.Command{
		Use:   "foreman [prompt]",
		Short: "Agent orchestration engine",
		Long: "foreman routes requests to specialized workers, executes their tool\n" +
			"calls under security policies, and verifies the results.",
		Args:          cobra.ArbitraryArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(flags, args)
		},
	}

	root.PersistentFlags().StringVar(&flags.configPath, "config", "", "config file (default ~/.foreman/config.yaml)")
	root.Flags().StringVarP(&flags.prompt, "prompt", "p", "", "run one request and exit")
	root.Flags().StringVar(&flags.mode, "mode", "auto", "worker to run directly, or auto to route")
	root.Flags().StringVar(&flags.control, "control", "auto", "approval mode: auto or manual")
	root.Flags().StringVar(&flags.resume, "resume", "", "session ID to continue, or 'last'")
	root.Flags().BoolVar(&flags.noColor, "no-color", false, "disable colored output")
	root.Flags().BoolVarP(&flags.verbose, "verbose", "v", false, "show tool execution detail")

	root.AddCommand(newVersionCmd(), newInitConfigCmd(), newSessionsCmd(flags))
	return root
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("foreman %s\n", version)
		},
	}
}

func newInitConfigCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init-config",
		Short: "Write a starter config to ~/.foreman/config.yaml",
		RunE: func(cmd *cobra.Command, args []string) error {
			path := "~/.foreman/config.yaml"
			if err := config.WriteExample(path); err != nil {
				return err
			}
			fmt.Printf("wrote %s\n", config.ExpandHome(path))
			return nil
		},
	}
}

func newSessionsCmd(flags *cliFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "sessions",
		Short: "List saved sessions",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(flags.configPath)
			if err != nil {
				return err
			}
			store, err := session.NewStore(cfg.SessionDir, nil)
			if err != nil {
				return err
			}
			ids, err := store.List()
			if err != nil {
				return err
			}
			for _, id := range ids {
				fmt.Println(id)
			}
			return nil
		},
	}
}

func run(flags *cliFlags, args []string) error {
	cfg, err := config.Load(flags.configPath)
	if err != nil {
		return err
	}

	interactive := term.IsTerminal(int(os.Stdin.Fd()))
	colorEnabled := !flags.noColor && term.IsTerminal(int(os.Stdout.Fd()))
	if flags.noColor {
		color.NoColor = true
	}

	prompt := strings.TrimSpace(flags.prompt)
	if prompt == "" {
		prompt = strings.TrimSpace(strings.Join(args, " "))
	}
	if prompt == "" && !interactive {
		// Piped usage: the prompt arrives on stdin.
		data, err := io.ReadAll(os.Stdin)
		if err != nil {
			return fmt.Errorf("read stdin: %w", err)
		}
		prompt = strings.TrimSpace(string(data))
		if prompt == "" {
			return fmt.Errorf("no prompt given")
		}
	}

	var approver ports.ApprovalHandler
	if interactive {
		approver = approval.NewInteractive(cfg.Executor.ApprovalTimeout, colorEnabled)
	} else {
		// Without a terminal nobody can answer, so dangerous batches
		// must be rejected rather than hang.
		approver = approval.AutoReject{}
	}

	container, err := di.BuildContainer(cfg, di.Options{Approver: approver})
	if err != nil {
		return err
	}
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	defer func() { _ = container.Close(context.Background()) }()

	sess, err := openSession(container.Sessions, flags.resume)
	if err != nil {
		return err
	}

	cli := &cli{
		container: container,
		session:   sess,
		printer:   newPrinter(os.Stdout, colorEnabled, flags.verbose),
		mode:      flags.mode,
		control:   flags.control,
	}

	if prompt != "" {
		return cli.runOnce(ctx, prompt)
	}
	return cli.runREPL(ctx)
}

// openSession resumes an existing session or creates a fresh one.
func openSession(store *session.Store, resume string) (*session.Session, error) {
	switch resume {
	case "":
		return store.Create()
	case "last":
		s, err := store.Latest()
		if err != nil {
			return nil, err
		}
		if s == nil {
			return store.Create()
		}
		return s, nil
	default:
		return store.Get(resume)
	}
}

// cli drives requests against the coordinator and persists the conversation.
type cli struct {
	container *di.Container
	session   *session.Session
	printer   *printer
	mode      string
	control   string
}

// runOnce handles a single prompt and exits.
func (c *cli) runOnce(ctx context.Context, prompt string) error {
	summary, failed, err := c.dispatch(ctx, prompt)
	if err != nil {
		return err
	}
	if failed {
		return fmt.Errorf("request failed: %s", summary)
	}
	return nil
}

// dispatch sends one request and streams its events to the printer.
func (c *cli) dispatch(ctx context.Context, prompt string) (string, bool, error) {
	c.session.Append(ports.RoleUser, prompt)

	req := coordinator.Request{
		Messages:    c.session.Messages,
		Mode:        c.mode,
		ControlMode: c.control,
	}
	events, err := c.container.Coordinator.Handle(ctx, req)
	if err != nil {
		return "", false, err
	}

	summary, failed := c.printer.drain(events)
	if !failed && summary != "" {
		c.session.Append(ports.RoleAssistant, summary)
	}
	if err := c.container.Sessions.Save(c.session); err != nil {
		c.container.Logger.Warn("save session %s: %v", c.session.ID, err)
	}
	return summary, failed, nil
}
