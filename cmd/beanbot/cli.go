package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/gardenista/beanbot/pkg/jobs"
	"github.com/spf13/cobra"
)

func executeCLI() error {
	return buildRootCommand().Execute()
}

func buildRootCommand() *cobra.Command {
	var showVersion bool

	root := &cobra.Command{
		Use:   "beanbot",
		Short: "Garden assistant with a Discord gateway, knowledge library, and scheduled briefings",
		Long: strings.TrimSpace(`beanbot is a garden assistant agent runtime.

Use CLI commands to onboard, chat locally, run the Discord gateway,
trigger scheduled jobs by hand, and consolidate the knowledge library.`),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if showVersion {
				printVersion()
				return nil
			}
			_ = cmd.Help()
			return fmt.Errorf("a subcommand is required")
		},
	}
	root.CompletionOptions.DisableDefaultCmd = true
	root.Flags().BoolVarP(&showVersion, "version", "v", false, "Show build/version metadata")

	root.AddCommand(newOnboardCommand())
	root.AddCommand(newAgentCommand())
	root.AddCommand(newGatewayCommand())
	root.AddCommand(newStatusCommand())
	root.AddCommand(newJobsCommand())
	root.AddCommand(newConsolidateCommand())
	root.AddCommand(newVersionCommand())

	return root
}

func newOnboardCommand() *cobra.Command {
	return &cobra.Command{
		Use:     "onboard",
		Short:   "Initialize ~/.beanbot config and seed the garden data dir",
		Long:    "Create the default configuration and starter knowledge documents for a new beanbot installation.",
		Example: "  beanbot onboard",
		RunE: func(cmd *cobra.Command, args []string) error {
			return onboard()
		},
	}
}

func newAgentCommand() *cobra.Command {
	var (
		message string
		session string
		debug   bool
	)

	cmd := &cobra.Command{
		Use:   "agent",
		Short: "Chat with the garden assistant locally (CLI mode)",
		Long:  "Run an interactive local session or send a one-shot message without Discord.",
		Example: strings.Join([]string{
			"  beanbot agent",
			"  beanbot agent --session cli:greenhouse",
			"  beanbot agent --message \"harvested 2 lbs of tomatoes from bed 3\"",
		}, "\n"),
		RunE: func(cmd *cobra.Command, args []string) error {
			return agentCmd(message, session, debug)
		},
	}

	cmd.Flags().StringVarP(&message, "message", "m", "", "One-shot prompt to send to the assistant")
	cmd.Flags().StringVarP(&session, "session", "s", "cli:default", "Session key for conversation continuity")
	cmd.Flags().BoolVarP(&debug, "debug", "d", false, "Enable debug logging")

	return cmd
}

func newGatewayCommand() *cobra.Command {
	var debug bool

	cmd := &cobra.Command{
		Use:     "gateway",
		Short:   "Run the Discord gateway, scheduler, and health server",
		Long:    "Start the channel adapters, agent loop, scheduled jobs, and health endpoints.",
		Example: "  beanbot gateway --debug",
		RunE: func(cmd *cobra.Command, args []string) error {
			return gatewayCmd(debug)
		},
	}

	cmd.Flags().BoolVarP(&debug, "debug", "d", false, "Enable debug logging")
	return cmd
}

func newStatusCommand() *cobra.Command {
	return &cobra.Command{
		Use:     "status",
		Short:   "Show configuration, provider, and runtime readiness",
		Example: "  beanbot status",
		RunE: func(cmd *cobra.Command, args []string) error {
			return statusCmd()
		},
	}
}

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:     "version",
		Short:   "Show build/version metadata",
		Example: "  beanbot version",
		RunE: func(cmd *cobra.Command, args []string) error {
			printVersion()
			return nil
		},
	}
}

// newJobsCommand exposes every scheduled job as a run-now subcommand, so
// a missed run can be replayed by hand.
func newJobsCommand() *cobra.Command {
	jobsRoot := &cobra.Command{
		Use:   "jobs",
		Short: "Run scheduled jobs immediately",
		Long:  "Trigger the morning briefing, evening debrief, weekly recap, checkpoint pruning, or weather alert check on demand.",
	}

	jobsRoot.AddCommand(&cobra.Command{
		Use:     "briefing",
		Short:   "Generate and deliver the morning briefing",
		Example: "  beanbot jobs briefing",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runJobCmd(false, func(ctx context.Context, runner *jobs.Runner) error {
				return runner.RunBriefing(ctx)
			})
		},
	})

	jobsRoot.AddCommand(&cobra.Command{
		Use:     "debrief",
		Short:   "Deliver the evening task debrief",
		Example: "  beanbot jobs debrief",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runJobCmd(false, func(ctx context.Context, runner *jobs.Runner) error {
				return runner.RunDebrief(ctx)
			})
		},
	})

	var recapDays int
	recap := &cobra.Command{
		Use:     "recap",
		Short:   "Generate a garden recap for the last N days",
		Example: "  beanbot jobs recap --days 14",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runJobCmd(false, func(ctx context.Context, runner *jobs.Runner) error {
				return runner.RunRecap(ctx, recapDays)
			})
		},
	}
	recap.Flags().IntVar(&recapDays, "days", 7, fmt.Sprintf("Days to cover (1-%d)", jobs.MaxRecapDays))
	jobsRoot.AddCommand(recap)

	jobsRoot.AddCommand(&cobra.Command{
		Use:     "prune",
		Short:   "Prune old conversation checkpoints",
		Example: "  beanbot jobs prune",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runJobCmd(false, func(ctx context.Context, runner *jobs.Runner) error {
				return runner.RunPrune(ctx)
			})
		},
	})

	jobsRoot.AddCommand(&cobra.Command{
		Use:     "weather",
		Short:   "Check the forecast and send frost/rain alerts",
		Example: "  beanbot jobs weather",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runJobCmd(false, func(ctx context.Context, runner *jobs.Runner) error {
				return runner.RunWeatherAlerts(ctx)
			})
		},
	})

	return jobsRoot
}

func newConsolidateCommand() *cobra.Command {
	consolidateRoot := &cobra.Command{
		Use:   "consolidate",
		Short: "Organize the knowledge library",
		Long:  "Categorize knowledge files, merge scattered notes on one topic, and deduplicate the task list.",
	}

	consolidateRoot.AddCommand(&cobra.Command{
		Use:     "library",
		Short:   "Categorize all knowledge files and rebuild categories.md",
		Example: "  beanbot consolidate library",
		RunE: func(cmd *cobra.Command, args []string) error {
			return consolidateLibraryCmd()
		},
	})

	consolidateRoot.AddCommand(&cobra.Command{
		Use:     "topic <topic>",
		Short:   "Merge all knowledge files about one topic into a single document",
		Args:    cobra.ExactArgs(1),
		Example: "  beanbot consolidate topic \"cherry tomato\"",
		RunE: func(cmd *cobra.Command, args []string) error {
			return consolidateTopicCmd(args[0])
		},
	})

	var apply bool
	tasksCmd := &cobra.Command{
		Use:     "tasks",
		Short:   "Find duplicate or overlapping tasks",
		Long:    "Analyze the open task list for duplicates. Without --apply this is a dry run that only reports the groups.",
		Example: "  beanbot consolidate tasks --apply",
		RunE: func(cmd *cobra.Command, args []string) error {
			return consolidateTasksCmd(apply)
		},
	}
	tasksCmd.Flags().BoolVar(&apply, "apply", false, "Prompt for a decision per group and rewrite tasks.md")
	consolidateRoot.AddCommand(tasksCmd)

	return consolidateRoot
}
