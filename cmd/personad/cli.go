package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"personad/internal/config"
	"personad/internal/persona"
	"personad/internal/resolver"
	"personad/internal/shared/logging"
)

// Version is overridden at build time.
var Version = "dev"

// CLI carries state shared by every subcommand.
type CLI struct {
	configPath string
	logLevel   string
	asJSON     bool

	container *Container
}

// NewRootCommand builds the personad command tree.
func NewRootCommand() *cobra.Command {
	cli := &CLI{}

	rootCmd := &cobra.Command{
		Use:   "personad",
		Short: "Resolve which personas apply to a task",
		Long: fmt.Sprintf(`%s

Loads persona definitions, scores a task description against their triggers and
prints the activated personas with their context documents.

%s
  personad activate "build a react component with tailwind"
  personad activate --persona code-reviewer "look at this diff"
  personad list
  personad show frontend-developer
  personad repl`,
			bold("personad "+Version),
			bold("EXAMPLES:")),
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().StringVarP(&cli.configPath, "config", "c", "", "Config file (default: ./personad.yaml, ~/.personad/personad.yaml)")
	rootCmd.PersistentFlags().StringVar(&cli.logLevel, "log-level", "", "Override observability.logging.level")
	rootCmd.PersistentFlags().BoolVar(&cli.asJSON, "json", false, "Print JSON instead of text")

	rootCmd.AddCommand(newActivateCommand(cli))
	rootCmd.AddCommand(newListCommand(cli))
	rootCmd.AddCommand(newShowCommand(cli))
	rootCmd.AddCommand(newReplCommand(cli))
	rootCmd.AddCommand(newVersionCommand())

	return rootCmd
}

// initialize loads configuration and wires the container once per process.
func (cli *CLI) initialize() error {
	if cli.container != nil {
		return nil
	}
	var opts []config.Option
	if cli.configPath != "" {
		opts = append(opts, config.WithConfigPath(cli.configPath))
	}
	cfg, err := config.Load(opts...)
	if err != nil {
		return err
	}
	if cli.logLevel != "" {
		cfg.Observability.Logging.Level = cli.logLevel
	}
	if _, err := logging.Setup(logging.Options{
		Level:  cfg.Observability.Logging.Level,
		Format: cfg.Observability.Logging.Format,
	}); err != nil {
		return err
	}

	container, err := buildContainer(cfg)
	if err != nil {
		return fmt.Errorf("failed to initialize: %w", err)
	}
	cli.container = container
	return nil
}

func (cli *CLI) cleanup(ctx context.Context) error {
	if cli.container == nil {
		return nil
	}
	err := cli.container.Cleanup(ctx)
	cli.container = nil
	return err
}

func newActivateCommand(cli *CLI) *cobra.Command {
	var forced string
	var maxPersonas int

	cmd := &cobra.Command{
		Use:   "activate <task...>",
		Short: "Activate personas for a task description",
		Args:  cobra.ArbitraryArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			task := strings.Join(args, " ")
			if strings.TrimSpace(task) == "" && forced == "" {
				return fmt.Errorf("a task description or --persona is required")
			}
			if err := cli.initialize(); err != nil {
				return err
			}
			defer cli.cleanup(context.Background())

			result, err := cli.container.Resolver.Activate(cmd.Context(), resolver.Query{
				Task:          task,
				ForcedPersona: forced,
				MaxPersonas:   maxPersonas,
			})
			if err != nil {
				return err
			}
			return renderResult(cmd.OutOrStdout(), result, cli.asJSON)
		},
	}
	cmd.Flags().StringVarP(&forced, "persona", "p", "", "Activate this persona regardless of triggers")
	cmd.Flags().IntVarP(&maxPersonas, "max", "n", 0, "Maximum personas to return (0 = config default)")
	return cmd
}

func newListCommand(cli *CLI) *cobra.Command {
	var markdown bool
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List registered personas in registration order",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := cli.initialize(); err != nil {
				return err
			}
			defer cli.cleanup(context.Background())

			if markdown {
				_, err := fmt.Fprint(cmd.OutOrStdout(), persona.CatalogMarkdown(cli.container.Registry.Snapshot()))
				return err
			}
			return renderList(cmd.OutOrStdout(), cli.container.Registry.All(), cli.asJSON)
		},
	}
	cmd.Flags().BoolVar(&markdown, "markdown", false, "Print the persona catalog as Markdown")
	return cmd
}

func newShowCommand(cli *CLI) *cobra.Command {
	return &cobra.Command{
		Use:   "show <name>",
		Short: "Show one persona definition",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := cli.initialize(); err != nil {
				return err
			}
			defer cli.cleanup(context.Background())

			def, err := cli.container.Registry.Get(args[0])
			if err != nil {
				return err
			}
			return renderDefinition(cmd.OutOrStdout(), def, cli.asJSON)
		},
	}
}

func newReplCommand(cli *CLI) *cobra.Command {
	var watch bool
	cmd := &cobra.Command{
		Use:   "repl",
		Short: "Interactive activation loop with live persona reload",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := cli.initialize(); err != nil {
				return err
			}
			defer cli.cleanup(context.Background())
			if cmd.Flags().Changed("watch") {
				cli.container.Config.Personas.Watch = watch
			}
			return RunInteractive(cmd.Context(), cli.container, cli.asJSON)
		},
	}
	cmd.Flags().BoolVarP(&watch, "watch", "w", true, "Reload personas when definition files change")
	return cmd
}

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "Version: %s\n", Version)
		},
	}
}
