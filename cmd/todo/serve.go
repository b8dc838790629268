package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	gosync "sync"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/dot-do/todo/internal/config"
	"github.com/dot-do/todo/internal/orchestrator"
	"github.com/dot-do/todo/internal/sync"
	"github.com/dot-do/todo/internal/webhook"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the webhook endpoint, workflow runtime, and reconciliation loop",
	Long: `Run the long-lived daemon: resumes interrupted workflow instances,
serves the GitHub webhook endpoint, periodically reconciles every
tracked repository, and assigns ready issues to agents.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		orc, engine := newOrchestrator()

		// Instances interrupted by the last shutdown pick up where
		// their step records end.
		if err := engine.Resume(ctx); err != nil {
			return fmt.Errorf("failed to resume workflows: %w", err)
		}

		secret := config.GetString(config.KeyWebhookSecret)
		if secret == "" {
			logger.Warn("webhook_secret is empty; all deliveries will be rejected")
		}
		server := webhook.NewServer(webhook.ServerConfig{
			Secret:   secret,
			Dispatch: newDispatcher(orc),
			Logger:   logger,
		})

		addr := config.GetString(config.KeyWebhookAddr)
		logger.Info("starting server", "addr", addr)

		g, gctx := errgroup.WithContext(ctx)
		g.Go(func() error {
			if err := server.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			return server.Shutdown(shutdownCtx)
		})
		g.Go(func() error {
			err := orc.RunReconciliationLoop(gctx, config.GetDuration(config.KeyReconciliationInterval))
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		})
		g.Go(func() error {
			runAssignmentLoop(gctx, orc, config.GetDuration(config.KeyAssignmentInterval))
			return nil
		})

		err := g.Wait()
		engine.Wait()
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	},
}

// runAssignmentLoop periodically assigns ready issues across every
// sync-enabled repository.
func runAssignmentLoop(ctx context.Context, orc *orchestrator.Orchestrator, interval time.Duration) {
	if interval == 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			repos, err := store.ListRepos(ctx, true)
			if err != nil {
				logger.Error("failed to list repos for assignment", "error", err)
				continue
			}
			for _, repo := range repos {
				if _, err := orc.AssignReadyIssues(ctx, repo.Owner, repo.Name, repo.InstallationID); err != nil {
					logger.Error("assignment pass failed", "repo", repo.FullName(), "error", err)
				}
			}
		}
	}
}

// newDispatcher routes validated webhook deliveries: pull request
// events go to the orchestrator's approval router, issues events to a
// per-repo sync engine. Engines are cached per scope.
func newDispatcher(orc *orchestrator.Orchestrator) webhook.Dispatcher {
	var mu gosync.Mutex
	engines := map[string]*sync.Engine{}

	return func(ctx context.Context, owner, repo string, installationID int64, ev *sync.WebhookEvent) (*sync.Result, error) {
		if ev.Kind == "pull_request" || ev.Kind == "pull_request_review" {
			return &sync.Result{}, orc.HandlePREvent(ctx, owner, repo, ev)
		}

		rec, err := store.GetRepo(ctx, owner, repo)
		if err != nil {
			return nil, fmt.Errorf("repo %s/%s is not tracked", owner, repo)
		}

		scope := rec.FullName()
		mu.Lock()
		engine, ok := engines[scope]
		mu.Unlock()
		if !ok {
			engine, err = newSyncEngine(rec, "")
			if err != nil {
				return nil, err
			}
			mu.Lock()
			engines[scope] = engine
			mu.Unlock()
		}
		return engine.ProcessWebhook(ctx, ev)
	}
}

func init() {
	rootCmd.AddCommand(serveCmd)
}
