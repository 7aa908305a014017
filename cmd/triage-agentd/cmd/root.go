// Copyright 2024 Package Tracking System
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/charmbracelet/fang"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"triage-agent/internal/config"
	"triage-agent/internal/engine"
	"triage-agent/internal/llmclient"
	"triage-agent/internal/mailfetch"
	"triage-agent/internal/reviewapi"
	"triage-agent/internal/store"
)

const (
	Version   = "1.0.0"
	BuildDate = "development"
)

var configFile string

// rootCmd is the single daemon command: it wires config, store, mail
// fetcher, classifier, engine, and review surface together, then runs
// the triage loop until a shutdown signal arrives.
var rootCmd = &cobra.Command{
	Use:   "triage-agentd",
	Short: "Email triage agent daemon",
	Long: `Triage Agent Daemon v1.0.0

DESCRIPTION:
    Periodically scans configured mail folders, classifies new messages
    with an LLM-backed triage ladder, and persists suggestions for
    review. Exposes a small HTTP surface for approving, rejecting, and
    inspecting suggestions.

CONFIGURATION:
    Policy lives in a TRIAGE_* prefixed YAML/env config file (triage
    interval, batch size, auto-rules, aging thresholds, and so on, see
    --config). Secrets live only in the process environment:

        TRIAGE_GRAPH_CLIENT_ID       - Graph OAuth2 application id
        TRIAGE_GRAPH_CLIENT_SECRET   - Graph OAuth2 application secret
        TRIAGE_GRAPH_REFRESH_TOKEN   - Graph OAuth2 refresh token
        TRIAGE_GRAPH_ACCESS_TOKEN    - Graph OAuth2 access token (optional, refreshed automatically)
        TRIAGE_GRAPH_USER_PRINCIPAL  - mailbox to operate on (default: me)
        TRIAGE_CLAUDE_API_KEY        - Claude API key
        TRIAGE_CLAUDE_MODEL          - Claude model id (default: claude-3-5-sonnet-latest)
        TRIAGE_DB_PATH               - SQLite database path (default: ./triage-agent.db)
        TRIAGE_REVIEWAPI_LISTEN      - review surface listen address (default: :8090)

EXAMPLES:
    triage-agentd --config=./triage-agent.yaml
`,
	Version: Version,
	RunE:    runDaemon,
}

func Execute() {
	fang.Execute(context.Background(), rootCmd)
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "config file (default: ./triage-agent.yaml, or ./config, $HOME/.triage-agent)")
}

func runDaemon(cmd *cobra.Command, args []string) error {
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	logger.Info("starting triage agent daemon", "version", Version, "build_date", BuildDate)

	v := viper.New()
	if configFile != "" {
		v.SetConfigFile(configFile)
	}

	creds, err := config.LoadCredentials(v)
	if err != nil {
		return fmt.Errorf("credential loading failed: %w", err)
	}

	triageCfg, err := config.LoadTriageConfig(v)
	if err != nil {
		return fmt.Errorf("configuration error: %w", err)
	}
	watcher := config.NewWatcher(triageCfg)
	watcher.WatchAndReload(v, func(err error) {
		logger.Warn("config reload rejected, keeping prior config", "error", err)
	})

	db, err := store.Open(creds.DBPath)
	if err != nil {
		return fmt.Errorf("failed to open store: %w", err)
	}
	defer db.Close()
	logger.Info("store opened", "path", creds.DBPath)

	limiter := mailfetch.DefaultGraphRateLimiter()
	mailCap, err := mailfetch.NewGraphAdapter(context.Background(), &mailfetch.GraphConfig{
		ClientID:       creds.GraphClientID,
		ClientSecret:   creds.GraphClientSecret,
		RefreshToken:   creds.GraphRefreshToken,
		AccessToken:    creds.GraphAccessToken,
		UserPrincipal:  creds.GraphUserPrincipal,
		RequestTimeout: config.GraphRequestTimeout(),
	}, limiter)
	if err != nil {
		return fmt.Errorf("failed to build mail capability: %w", err)
	}
	logger.Info("mail capability initialized")

	llm := llmclient.New(llmclient.Config{
		APIKey: creds.ClaudeAPIKey,
		Model:  creds.ClaudeModel,
	})
	logger.Info("llm client initialized", "model", creds.ClaudeModel)

	eng := engine.New(db, mailCap, limiter, llm, watcher, logger)
	eng.Start()
	defer eng.Stop()
	logger.Info("triage engine started")

	api := reviewapi.New(db, eng, watcher, logger)
	httpServer := &http.Server{
		Addr:         creds.ReviewAPIListen,
		Handler:      api,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
	}
	go func() {
		logger.Info("review surface listening", "addr", creds.ReviewAPIListen)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("review surface failed", "error", err)
		}
	}()

	return waitForShutdown(httpServer, eng, logger)
}

// waitForShutdown blocks until SIGINT/SIGTERM, then stops the review
// surface and the triage engine in turn, the same signal-to-Shutdown
// shape the teacher's own daemon commands use.
func waitForShutdown(httpServer *http.Server, eng *engine.Engine, logger *slog.Logger) error {
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-quit
	logger.Info("received shutdown signal", "signal", sig)

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if err := httpServer.Shutdown(ctx); err != nil {
		logger.Error("review surface shutdown timed out", "error", err)
	}
	eng.Stop()

	logger.Info("triage agent daemon stopped gracefully")
	return nil
}
