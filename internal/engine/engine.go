// Package engine implements the Triage Engine: a periodic driver that
// fetches new mail, routes each message through the classification
// ladder, persists suggestions, tracks upstream degradation, and runs
// maintenance and backlog recovery. Structurally it is the direct
// descendant of the teacher's background processor: the same
// ctx/cancel/atomic-paused-flag/logger/metrics shape, generalized from
// "scan for tracking numbers" to "run one triage cycle."
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"triage-agent/internal/classifier"
	"triage-agent/internal/config"
	"triage-agent/internal/contextassembler"
	"triage-agent/internal/errs"
	"triage-agent/internal/llmclient"
	"triage-agent/internal/mailfetch"
	"triage-agent/internal/store"
)

const (
	lastProcessedTimestampKey = "last_processed_timestamp"
	lastTriageCycleKey        = "last_triage_cycle"
	lastTriageCycleIDKey      = "last_triage_cycle_id"
)

// Metrics tracks cross-cycle counters for the running daemon, in the
// same atomic-counter-block idiom as the teacher's ProcessingMetrics.
type Metrics struct {
	TotalCycles  atomic.Int64
	TotalMessages atomic.Int64
	Classified   atomic.Int64
	Failed       atomic.Int64
	Skipped      atomic.Int64
	AutoRuleHits atomic.Int64

	LastCycleAt       atomic.Value // time.Time
	LastCycleDuration atomic.Value // time.Duration
	LastError         atomic.Value // string
}

// CycleSummary is the one structured log entry emitted at the end of
// every cycle (§4.5 step 8).
type CycleSummary struct {
	CorrelationID   string
	MessagesFetched int
	Classified      int
	Failed          int
	Skipped         int
	AutoRuleHits    int
	BacklogSwept    int
	Degraded        bool
	Duration        time.Duration
}

// Engine is the periodic triage driver.
type Engine struct {
	ctx    context.Context
	cancel context.CancelFunc

	store       *store.DB
	mail        mailfetch.MailCapability
	mailLimiter *mailfetch.RateLimiter
	assembler   *contextassembler.Assembler
	classifier  *classifier.Classifier
	learner     *classifier.PreferenceLearner
	watcher     *config.Watcher

	degradation *DegradationState
	paused      atomic.Bool
	cycleInFlight atomic.Bool

	logger  *slog.Logger
	metrics *Metrics

	cycleTimeout time.Duration
}

// New builds an Engine over an already-open store, mail capability, and
// LLM client, governed by watcher's live-reloaded TriageConfig.
func New(db *store.DB, mail mailfetch.MailCapability, limiter *mailfetch.RateLimiter, llm *llmclient.Client, watcher *config.Watcher, logger *slog.Logger) *Engine {
	ctx, cancel := context.WithCancel(context.Background())
	return &Engine{
		ctx:          ctx,
		cancel:       cancel,
		store:        db,
		mail:         mail,
		mailLimiter:  limiter,
		assembler:    contextassembler.New(db, mail),
		classifier:   classifier.New(llm),
		learner:      classifier.NewPreferenceLearner(db, llm),
		watcher:      watcher,
		degradation:  NewDegradationState(),
		logger:       logger,
		metrics:      &Metrics{},
		cycleTimeout: 10 * time.Minute,
	}
}

// Start begins the background triage loop.
func (e *Engine) Start() {
	e.logger.Info("starting triage engine", "interval_minutes", e.watcher.Current().Triage.IntervalMinutes)
	go e.processingLoop()
}

// Stop gracefully stops the triage loop.
func (e *Engine) Stop() {
	e.logger.Info("stopping triage engine")
	e.cancel()
}

// Pause temporarily suspends new cycles; a cycle already in flight runs
// to completion.
func (e *Engine) Pause() {
	e.paused.Store(true)
	e.logger.Info("triage engine paused")
}

// Resume lifts a prior Pause.
func (e *Engine) Resume() {
	e.paused.Store(false)
	e.logger.Info("triage engine resumed")
}

// IsPaused reports whether the engine is currently paused.
func (e *Engine) IsPaused() bool { return e.paused.Load() }

// Metrics returns the live metrics block.
func (e *Engine) Metrics() *Metrics { return e.metrics }

// Degradation returns the live degradation state.
func (e *Engine) Degradation() *DegradationState { return e.degradation }

func (e *Engine) processingLoop() {
	interval := time.Duration(e.watcher.Current().Triage.IntervalMinutes) * time.Minute
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	initialDelay := time.NewTimer(10 * time.Second)
	defer initialDelay.Stop()

	for {
		select {
		case <-e.ctx.Done():
			e.logger.Info("triage loop stopped")
			return

		case <-initialDelay.C:
			e.runCycleIfDue()

		case <-ticker.C:
			e.runCycleIfDue()
		}
	}
}

func (e *Engine) runCycleIfDue() {
	if e.paused.Load() {
		return
	}
	if !e.cycleInFlight.CompareAndSwap(false, true) {
		e.logger.Warn("previous cycle still in flight, skipping this tick")
		return
	}
	defer e.cycleInFlight.Store(false)

	ctx, cancel := context.WithTimeout(e.ctx, e.cycleTimeout)
	defer cancel()

	summary, err := e.RunCycle(ctx)
	if err != nil {
		e.logger.Error("triage cycle failed", "error", err)
		e.metrics.LastError.Store(err.Error())
		return
	}
	e.logSummary(summary)
}

// RunCycle performs a single triage cycle (§4.5 steps 1-8) and returns
// its summary. Exported so it can be driven directly by tests and by a
// manual-trigger surface, without waiting on the ticker.
func (e *Engine) RunCycle(ctx context.Context) (*CycleSummary, error) {
	start := time.Now()
	cycleID := uuid.NewString()
	e.metrics.TotalCycles.Add(1)

	cfg := e.watcher.Current()
	logger := e.logger.With("correlation_id", cycleID)

	preferences, _, err := e.store.AgentState.GetState("classification_preferences")
	if err != nil {
		logger.Warn("failed to read preference blob, continuing with empty preferences", "error", err)
	}
	systemPrompt := classifier.BuildSystemPrompt(cfg, preferences)

	lookback := time.Duration(cfg.Triage.LookbackHours) * time.Hour
	sentCache, err := BuildSentCache(ctx, e.mail, lookback)
	if err != nil {
		logger.Warn("failed to warm sent-items cache, has-replied will under-report", "error", err)
	}

	messages, _ := e.fetchNewMessages(ctx, cfg.Triage.WatchFolders, lookback)

	summary := &CycleSummary{CorrelationID: cycleID, MessagesFetched: len(messages)}
	e.metrics.TotalMessages.Add(int64(len(messages)))

	claudeCalledOK := false
	batch := messages
	if len(batch) > cfg.Triage.BatchSize {
		batch = batch[:cfg.Triage.BatchSize]
	}

	for _, msg := range batch {
		if ctx.Err() != nil {
			logger.Warn("cycle cancelled mid-batch")
			break
		}

		outcome := e.processMessage(ctx, cycleID, msg, cfg, systemPrompt, sentCache)
		switch outcome {
		case outcomeClassified:
			summary.Classified++
			e.metrics.Classified.Add(1)
		case outcomeAutoRule:
			summary.Classified++
			summary.AutoRuleHits++
			e.metrics.Classified.Add(1)
			e.metrics.AutoRuleHits.Add(1)
		case outcomeFailed:
			summary.Failed++
			e.metrics.Failed.Add(1)
		case outcomeSkipped, outcomePending:
			summary.Skipped++
			e.metrics.Skipped.Add(1)
		}
		if outcome == outcomeClassified {
			claudeCalledOK = true
		}
	}

	if err := e.store.AgentState.SetState(lastProcessedTimestampKey, time.Now().Format(time.RFC3339)); err != nil {
		logger.Warn("failed to persist last_processed_timestamp", "error", err)
	}
	if err := e.store.AgentState.SetState(lastTriageCycleKey, time.Now().Format(time.RFC3339)); err != nil {
		logger.Warn("failed to persist last_triage_cycle", "error", err)
	}
	if err := e.store.AgentState.SetState(lastTriageCycleIDKey, cycleID); err != nil {
		logger.Warn("failed to persist last_triage_cycle_id", "error", err)
	}

	e.runMaintenance(cfg, logger)

	if err := e.learner.MaybeLearn(ctx, cfg.Learning); err != nil {
		logger.Warn("preference learner failed", "error", err)
	}

	// Backlog runs in two cases: the normal recovery-confirmed drain (a
	// Claude call already succeeded this cycle), and a bounded recovery
	// probe while still Claude-degraded — new arrivals are skipped at
	// arrival while degraded (step 4), so the backlog sweep is the only
	// place a recovery can ever be observed.
	if (claudeCalledOK && !e.degradation.IsDegraded()) || e.degradation.IsDegradedForClaude() {
		summary.BacklogSwept = e.runBacklogSweep(ctx, cfg, systemPrompt, sentCache, logger)
	}

	summary.Degraded = e.degradation.IsDegraded()
	summary.Duration = time.Since(start)
	e.metrics.LastCycleAt.Store(time.Now())
	e.metrics.LastCycleDuration.Store(summary.Duration)
	return summary, nil
}

func (e *Engine) logSummary(s *CycleSummary) {
	e.logger.Info("triage cycle completed",
		"correlation_id", s.CorrelationID,
		"messages_fetched", s.MessagesFetched,
		"classified", s.Classified,
		"auto_rule_hits", s.AutoRuleHits,
		"failed", s.Failed,
		"skipped", s.Skipped,
		"backlog_swept", s.BacklogSwept,
		"degraded", s.Degraded,
		"duration", s.Duration)
}

type messageOutcome string

const (
	outcomeClassified messageOutcome = "classified"
	outcomeAutoRule    messageOutcome = "auto_rule"
	outcomeFailed      messageOutcome = "failed"
	outcomeSkipped     messageOutcome = "skipped"
	outcomePending     messageOutcome = "pending"
)

// processMessage implements the per-message pipeline (§4.5.1).
func (e *Engine) processMessage(ctx context.Context, cycleID string, msg mailfetch.Message, cfg *config.TriageConfig, systemPrompt string, sentCache *SentCache) messageOutcome {
	exists, err := e.store.Emails.EmailExists(msg.ID)
	if err != nil {
		e.logger.Error("check email existence", "email_id", msg.ID, "error", err)
		return outcomeFailed
	}
	if exists {
		return outcomeSkipped
	}

	email := messageToEmail(msg, cfg.Snippet.MaxLength)
	if err := e.store.Emails.SaveEmail(email, cfg.Snippet.MaxLength); err != nil {
		e.logger.Error("save email", "email_id", msg.ID, "error", err)
		return outcomeFailed
	}

	if match, ok := classifier.MatchAutoRule(cfg.AutoRules, email.SenderEmail, email.Subject); ok {
		e.applyAutoRule(ctx, cycleID, email, match, cfg)
		return outcomeAutoRule
	}

	if e.degradation.IsDegradedForClaude() {
		e.logger.Info("claude degraded, leaving email pending for backlog", "email_id", email.ID)
		return outcomePending
	}

	clsCtx, err := e.assembler.Assemble(ctx, email, sentCache, cfg)
	if err != nil {
		e.logger.Warn("assemble classification context, proceeding without it", "email_id", email.ID, "error", err)
		clsCtx = nil
	}

	return e.classifyAndPersist(ctx, cycleID, email, cfg, clsCtx, systemPrompt, true)
}

func (e *Engine) applyAutoRule(ctx context.Context, cycleID string, email *store.Email, match *classifier.AutoRuleMatch, cfg *config.TriageConfig) {
	sgID, err := e.store.Suggestions.CreateSuggestion(&store.Suggestion{
		EmailID:             email.ID,
		SuggestedFolder:     match.Rule.Folder,
		SuggestedPriority:   store.Priority(match.Rule.Priority),
		SuggestedActionType: store.ActionType(match.Rule.ActionType),
		Confidence:          1.0,
		Reasoning:           match.Reasoning,
		Method:              "auto_rule",
	}, cfg.SuggestionQueue.ExpireAfterDays)
	if err != nil {
		e.logger.Error("create auto-rule suggestion", "email_id", email.ID, "error", err)
		return
	}

	if _, err := e.store.Suggestions.ApproveSuggestion(sgID, nil, nil, nil); err != nil {
		e.logger.Error("self-approve auto-rule suggestion", "email_id", email.ID, "error", err)
	}
	if err := e.store.Emails.UpdateClassificationStatus(email.ID, store.ClassificationClassified, nil); err != nil {
		e.logger.Error("update classification status", "email_id", email.ID, "error", err)
	}
	if err := e.store.ActionLog.LogAction(cycleID, &email.ID, "classify", "triggered_by=auto"); err != nil {
		e.logger.Warn("log auto-rule action", "email_id", email.ID, "error", err)
	}

	e.ApplyMailboxEffects(ctx, email.ID, match.Rule.Folder, cfg)
}

// ApplyMailboxEffects moves a message into its approved folder and, when
// that folder belongs to a configured Area, applies the Area's name as
// an Outlook category (the taxonomy-category-on-move rule; Projects
// never produce a category). Called once a suggestion — auto-rule or
// human — has been approved. Failures are logged, never fatal: the
// triage run continues, and a missed move/category is not retried.
func (e *Engine) ApplyMailboxEffects(ctx context.Context, messageID, folder string, cfg *config.TriageConfig) {
	if e.mail == nil || folder == "" {
		return
	}
	folderID, err := e.mail.GetFolderByPath(ctx, folder, true)
	if err != nil {
		e.logger.Warn("resolve folder for mailbox effects", "email_id", messageID, "folder", folder, "error", err)
		return
	}
	if err := e.mail.MoveMessage(ctx, messageID, folderID); err != nil {
		e.logger.Warn("move message", "email_id", messageID, "folder", folder, "error", err)
		return
	}
	for _, area := range cfg.Areas {
		if area.FolderPath == folder {
			if err := e.mail.AddCategories(ctx, messageID, []string{area.Name}); err != nil {
				e.logger.Warn("apply taxonomy category", "email_id", messageID, "area", area.Name, "error", err)
			}
			break
		}
	}
}

// classifyAndPersist runs the LLM classification step and persists its
// outcome. chargeAttempts controls whether a failure counts against the
// email's own three-strike budget (IncrementClassificationAttempts): a
// recovery probe drawn from the backlog while still Claude-degraded
// tests Claude's health, not the email's classifiability, so its
// failure is not charged.
func (e *Engine) classifyAndPersist(ctx context.Context, cycleID string, email *store.Email, cfg *config.TriageConfig, clsCtx *contextassembler.ClassificationContext, systemPrompt string, chargeAttempts bool) messageOutcome {
	result, err := e.classifier.Classify(ctx, email, cfg, clsCtx, systemPrompt)
	if err != nil {
		var clsErr *errs.ClassificationError
		if errors.As(err, &clsErr) {
			if chargeAttempts {
				attempts, incErr := e.store.Emails.IncrementClassificationAttempts(email.ID)
				if incErr != nil {
					e.logger.Error("increment classification attempts", "email_id", email.ID, "error", incErr)
				}
				e.logger.Warn("classification failed", "email_id", email.ID, "attempts", attempts, "error", clsErr)
			} else {
				e.logger.Info("recovery probe still failing", "email_id", email.ID, "error", clsErr)
			}
		} else {
			e.logger.Error("classification failed", "email_id", email.ID, "error", err)
		}
		e.degradation.RecordClaudeFailure()
		return outcomeFailed
	}
	e.degradation.RecordClaudeSuccess()

	sgID, err := e.store.Suggestions.CreateSuggestion(&store.Suggestion{
		EmailID:             email.ID,
		SuggestedFolder:     result.Folder,
		SuggestedPriority:   result.Priority,
		SuggestedActionType: result.ActionType,
		Confidence:          result.Confidence,
		Reasoning:           result.Reasoning,
		Method:              result.Method,
		SuggestedNewProject: nonEmptyPtr(result.SuggestedNewProject),
	}, cfg.SuggestionQueue.ExpireAfterDays)
	if err != nil {
		e.logger.Error("create suggestion", "email_id", email.ID, "error", err)
		return outcomeFailed
	}

	if err := e.store.Emails.UpdateClassificationStatus(email.ID, store.ClassificationClassified, nil); err != nil {
		e.logger.Error("update classification status", "email_id", email.ID, "error", err)
	}
	if err := e.store.ActionLog.LogAction(cycleID, &email.ID, "suggest", fmt.Sprintf("suggestion=%s method=%s", sgID, result.Method)); err != nil {
		e.logger.Warn("log suggest action", "email_id", email.ID, "error", err)
	}

	if result.ActionType == store.ActionWaitingFor && result.WaitingForDetail != nil && result.WaitingForDetail.ExpectedFrom != "" {
		if _, err := e.store.WaitingFor.CreateWaitingFor(&store.WaitingFor{
			EmailID:         email.ID,
			ConversationID:  email.ConversationID,
			ExpectedFrom:    result.WaitingForDetail.ExpectedFrom,
			Description:     result.WaitingForDetail.Description,
			NudgeAfterHours: cfg.Aging.WaitingForNudgeHours,
		}); err != nil {
			e.logger.Warn("create waiting-for tracker", "email_id", email.ID, "error", err)
		}
	}

	if err := e.store.SenderProfiles.UpsertSenderProfile(&store.SenderProfile{
		SenderEmail: email.SenderEmail,
		DisplayName: email.SenderName,
		Domain:      contextassembler.SenderDomain(email.SenderEmail),
	}); err != nil {
		e.logger.Warn("upsert sender profile", "email_id", email.ID, "error", err)
	}

	return outcomeClassified
}

// runMaintenance runs §4.5 step 6: suggestion expiry and LLM-log
// pruning. Failures are logged but never abort the cycle.
func (e *Engine) runMaintenance(cfg *config.TriageConfig, logger *slog.Logger) {
	if n, err := e.store.Suggestions.ExpireOldSuggestions(cfg.SuggestionQueue.ExpireAfterDays); err != nil {
		logger.Warn("expire old suggestions failed", "error", err)
	} else if n > 0 {
		logger.Info("expired stale suggestions", "count", n)
	}

	if cfg.LLMLogging.Enabled {
		if n, err := e.store.LlmLog.PruneLlmLogs(cfg.LLMLogging.RetentionDays); err != nil {
			logger.Warn("prune llm logs failed", "error", err)
		} else if n > 0 {
			logger.Info("pruned llm log rows", "count", n)
		}
	}

	if n, err := e.store.WaitingFor.ExpireStaleWaitingFor(); err != nil {
		logger.Warn("expire stale waiting-for trackers failed", "error", err)
	} else if n > 0 {
		logger.Info("expired stale waiting-for trackers", "count", n)
	}
}

// runBacklogSweep implements §4.5.3: one pass over pending emails with
// no existing suggestion, FIFO by received time, feeding each straight
// into the LLM step (auto-rules were already checked on first arrival).
func (e *Engine) runBacklogSweep(ctx context.Context, cfg *config.TriageConfig, systemPrompt string, sentCache *SentCache, logger *slog.Logger) int {
	pending, err := e.store.Emails.GetPendingWithoutSuggestion(cfg.Triage.BatchSize)
	if err != nil {
		logger.Warn("load backlog failed", "error", err)
		return 0
	}

	swept := 0
	for i, email := range pending {
		enteringDegraded := e.degradation.IsDegradedForClaude()

		clsCtx, err := e.assembler.Assemble(ctx, email, sentCache, cfg)
		if err != nil {
			logger.Warn("assemble backlog context, proceeding without it", "email_id", email.ID, "error", err)
			clsCtx = nil
		}

		// The first item drawn while still Claude-degraded is a recovery
		// probe: it doesn't cost the email one of its three classification
		// attempts, since it's testing whether Claude is back, not
		// re-classifying a message that has already failed before.
		chargeAttempts := !(i == 0 && enteringDegraded)
		outcome := e.classifyAndPersist(ctx, "backlog", email, cfg, clsCtx, systemPrompt, chargeAttempts)
		if outcome == outcomeClassified {
			swept++
			continue
		}

		if enteringDegraded {
			// Still down: bound the probe to one wasted call per cycle
			// rather than burning through the whole backlog.
			break
		}
	}
	return swept
}

// messageToEmail projects a fetched mail message into the Store's Email
// shape, cleaning the body preview into a bounded snippet (E1).
func messageToEmail(msg mailfetch.Message, maxSnippetLength int) *store.Email {
	importance := store.ImportanceNormal
	switch msg.Importance {
	case "low":
		importance = store.ImportanceLow
	case "high":
		importance = store.ImportanceHigh
	}

	return &store.Email{
		ID:                msg.ID,
		ConversationID:    msg.ConversationID,
		ConversationIndex: msg.ConversationIndex,
		Subject:           msg.Subject,
		SenderEmail:       msg.FromAddress,
		SenderName:        msg.FromName,
		ReceivedAt:        msg.ReceivedAt,
		Snippet:           classifier.Clean(msg.BodyPreview, maxSnippetLength),
		FolderPath:        msg.ParentFolderID,
		Importance:        importance,
		IsRead:            msg.IsRead,
		FlagStatus:        msg.Flag.Status,
	}
}

func nonEmptyPtr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
