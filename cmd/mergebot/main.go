// Command mergebot runs the merge bot against a single hosted repository.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/cphillipson/mergebot/internal/config"
	"github.com/cphillipson/mergebot/internal/gateway"
	"github.com/cphillipson/mergebot/internal/logging"
	"github.com/cphillipson/mergebot/internal/merge"
	"github.com/cphillipson/mergebot/internal/notify"
	"github.com/cphillipson/mergebot/internal/scheduler"
	"github.com/cphillipson/mergebot/internal/step"
	"github.com/cphillipson/mergebot/internal/voting"
	"github.com/cphillipson/mergebot/internal/webhook"
)

var (
	version   = "dev"
	buildTime = "unknown"
	commitSHA = "unknown"
)

func main() {
	logger := logging.New()
	logging.SetGlobal(logger)

	cmd := newRootCommand()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigChan
		logger.Info("shutting down")
		cancel()
	}()

	if err := cmd.ExecuteContext(ctx); err != nil {
		logger.WithError(err).Error("mergebot exited with error")
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	return &cobra.Command{
		Use:     "mergebot [config-path]",
		Short:   "Merge approved pull requests through a staging branch",
		Version: fmt.Sprintf("%s (built %s, %s)", version, buildTime, commitSHA),
		Args:    cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			configPath := "./config.json"
			if len(args) == 1 {
				configPath = args[0]
			}
			return run(cmd.Context(), configPath)
		},
	}
}

func run(ctx context.Context, configPath string) error {
	logger := logging.Global()

	cfg, err := config.NewLoader().Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	// logger_params become default fields on every component logger built
	// from here on.
	for key, value := range cfg.LoggerParams {
		logger = logger.WithField(key, value)
	}
	logging.SetGlobal(logger)

	gw, err := gateway.NewGitHubGateway(gateway.GitHubConfig{
		Token: cfg.GitHubToken,
		Owner: cfg.Owner,
		Repo:  cfg.Repo,
	})
	if err != nil {
		return fmt.Errorf("failed to build github gateway: %w", err)
	}

	mergeCfg := merge.Config{
		StagingBranch: cfg.StagingBranch,
		TagPrefix:     "mergebot-pr-",
		DryRun:        cfg.DryRun,
		MergedRun:     cfg.MergedRun,
		Voting: voting.Config{
			NecessaryApprovals:  cfg.NecessaryApprovals,
			SufficientApprovals: cfg.SufficientApprovals,
			VotingDelayMin:      cfg.VotingDelayMin,
			VotingDelayMax:      cfg.VotingDelayMax,
		},
	}

	prStep := step.New(gw, mergeCfg)

	slackAlerts := notify.NewSlack(notify.SlackConfig{
		WebhookURL: os.Getenv("SLACK_WEBHOOK_URL"),
		Channel:    os.Getenv("SLACK_CHANNEL"),
		Username:   "mergebot",
	})

	var httpServer *http.Server
	sched := scheduler.New(prStep, func(cause error) {
		logger.WithError(cause).Warn("step failed, closing listener until next restart")
		if httpServer != nil {
			_ = httpServer.Close()
		}
		if err := slackAlerts.AlertSchedulerBackoff(ctx, cause); err != nil {
			logger.WithError(err).Warn("failed to deliver backoff alert")
		}
	})

	handler := webhook.New(ctx, cfg.WebhookSecret, runnerFunc(func(ctx context.Context) { sched.Run(ctx) }))

	mux := http.NewServeMux()
	mux.Handle(cfg.WebhookPath, handler)

	httpServer = &http.Server{
		Addr:    fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Handler: mux,
	}

	go func() {
		<-ctx.Done()
		_ = httpServer.Close()
	}()

	// Kick off an initial Step in case there is work to resume or scan
	// from a prior process lifetime; the merge tag is the durable marker.
	sched.Run(ctx)

	logger.WithField("addr", httpServer.Addr).Info("listening for webhook events")
	if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("http listener failed: %w", err)
	}
	return nil
}

type runnerFunc func(ctx context.Context)

func (f runnerFunc) Run(ctx context.Context) { f(ctx) }
