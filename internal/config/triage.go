package config

import (
	"fmt"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

// TriageConfig is the full typed configuration for the triage daemon,
// covering the triage cycle, model selection, snippet bounds, the
// PARA-style taxonomy, aging thresholds, the suggestion queue, LLM
// audit logging, and preference learning.
type TriageConfig struct {
	Triage          TriageSection          `json:"triage"`
	Models          ModelsSection          `json:"models"`
	Snippet         SnippetSection         `json:"snippet"`
	Projects        []Project              `json:"projects"`
	Areas           []Area                 `json:"areas"`
	AutoRules       []AutoRule             `json:"auto_rules"`
	KeyContacts     []string               `json:"key_contacts"`
	Aging           AgingSection           `json:"aging"`
	SuggestionQueue SuggestionQueueSection `json:"suggestion_queue"`
	LLMLogging      LLMLoggingSection      `json:"llm_logging"`
	Learning        LearningSection        `json:"learning"`
}

// TriageSection governs the Triage Engine's cycle cadence.
type TriageSection struct {
	IntervalMinutes int      `json:"interval_minutes"`
	LookbackHours   int      `json:"lookback_hours"`
	BatchSize       int      `json:"batch_size"`
	WatchFolders    []string `json:"watch_folders"`
}

// ModelsSection names the opaque model identifiers passed through to the
// LLM capability for each usage.
type ModelsSection struct {
	Triage  string `json:"triage"`
	DryRun  string `json:"dry_run"`
	Chat    string `json:"chat"`
}

// SnippetSection bounds the cleaned body snippet stored per email (E1).
type SnippetSection struct {
	MaxLength int `json:"max_length"`
}

// AutoRule is one entry in the first-match-wins auto-rule ladder. Match
// is a set of sender patterns (exact address or "*@domain") OR'd
// together, and a set of subject substrings (case-insensitive) OR'd
// together; either set alone is enough to satisfy the rule.
type AutoRule struct {
	Name              string   `json:"name"`
	SenderPatterns    []string `json:"sender_patterns"`
	SubjectSubstrings []string `json:"subject_substrings"`
	Folder            string   `json:"folder"`
	Priority          string   `json:"priority"`
	ActionType        string   `json:"action_type"`
}

// Signals are the config-derived hints used to associate an incoming
// email with a Project or Area during context assembly: subject
// keywords, sender patterns (same syntax as AutoRule.SenderPatterns),
// and body keywords. Any one matching is enough.
type Signals struct {
	SubjectKeywords []string `json:"subject_keywords"`
	SenderPatterns  []string `json:"sender_patterns"`
	BodyKeywords    []string `json:"body_keywords"`
}

// MatchesSender reports whether address satisfies any sender pattern,
// using the same exact/"*@domain" syntax as AutoRule.MatchesSender.
func (s Signals) MatchesSender(address string) bool {
	return AutoRule{SenderPatterns: s.SenderPatterns}.MatchesSender(address)
}

// MatchesSubject reports whether subject contains any subject keyword,
// case-insensitively.
func (s Signals) MatchesSubject(subject string) bool {
	return AutoRule{SubjectSubstrings: s.SubjectKeywords}.MatchesSubject(subject)
}

// MatchesBody reports whether body contains any body keyword,
// case-insensitively.
func (s Signals) MatchesBody(body string) bool {
	return AutoRule{SubjectSubstrings: s.BodyKeywords}.MatchesSubject(body)
}

// Matches reports whether any signal fires for the given message fields.
func (s Signals) Matches(senderEmail, subject, body string) bool {
	return s.MatchesSender(senderEmail) || s.MatchesSubject(subject) || s.MatchesBody(body)
}

// Project is a PARA-style project: an active, folder-scoped effort with
// an end state. Signals associate incoming mail with it during context
// assembly; unlike Areas, projects never produce a taxonomy category.
type Project struct {
	Name            string  `json:"name"`
	FolderPath      string  `json:"folder_path"`
	Signals         Signals `json:"signals"`
	DefaultPriority string  `json:"default_priority"`
}

// Area is a PARA-style area of ongoing responsibility. Like Project it
// carries folder/signal/priority data, but its Name additionally acts
// as a taxonomy category applied as an Outlook category when a message
// is moved into it.
type Area struct {
	Name            string  `json:"name"`
	FolderPath      string  `json:"folder_path"`
	Signals         Signals `json:"signals"`
	DefaultPriority string  `json:"default_priority"`
}

// AgingSection holds the thresholds behind the Needs-Reply and
// Waiting-For aging state machines.
type AgingSection struct {
	NeedsReplyWarningHours  int `json:"needs_reply_warning_hours"`
	NeedsReplyCriticalHours int `json:"needs_reply_critical_hours"`
	WaitingForNudgeHours    int `json:"waiting_for_nudge_hours"`
	WaitingForEscalateHours int `json:"waiting_for_escalate_hours"`
}

// SuggestionQueueSection governs S3's expiry invariant.
type SuggestionQueueSection struct {
	ExpireAfterDays int `json:"expire_after_days"`
}

// LLMLoggingSection governs the llm_log audit table's retention.
type LLMLoggingSection struct {
	Enabled       bool `json:"enabled"`
	RetentionDays int  `json:"retention_days"`
	LogPrompts    bool `json:"log_prompts"`
	LogResponses  bool `json:"log_responses"`
}

// LearningSection governs the preference-learner subcomponent.
type LearningSection struct {
	Enabled                 bool `json:"enabled"`
	MinCorrectionsToUpdate  int  `json:"min_corrections_to_update"`
	LookbackDays            int  `json:"lookback_days"`
	MaxPreferencesWords     int  `json:"max_preferences_words"`
}

func setTriageDefaults(v *viper.Viper) {
	v.SetDefault("triage.interval_minutes", 15)
	v.SetDefault("triage.lookback_hours", 24)
	v.SetDefault("triage.batch_size", 25)
	v.SetDefault("triage.watch_folders", []string{"Inbox"})

	v.SetDefault("models.triage", "claude-3-5-sonnet-latest")
	v.SetDefault("models.dry_run", "claude-3-5-sonnet-latest")
	v.SetDefault("models.chat", "claude-3-5-sonnet-latest")

	v.SetDefault("snippet.max_length", 1000)

	v.SetDefault("projects", []map[string]any{})
	v.SetDefault("areas", []map[string]any{})
	v.SetDefault("auto_rules", []map[string]any{})
	v.SetDefault("key_contacts", []string{})

	v.SetDefault("aging.needs_reply_warning_hours", 24)
	v.SetDefault("aging.needs_reply_critical_hours", 72)
	v.SetDefault("aging.waiting_for_nudge_hours", 72)
	v.SetDefault("aging.waiting_for_escalate_hours", 168)

	v.SetDefault("suggestion_queue.expire_after_days", 14)

	v.SetDefault("llm_logging.enabled", true)
	v.SetDefault("llm_logging.retention_days", 30)
	v.SetDefault("llm_logging.log_prompts", true)
	v.SetDefault("llm_logging.log_responses", true)

	v.SetDefault("learning.enabled", true)
	v.SetDefault("learning.min_corrections_to_update", 5)
	v.SetDefault("learning.lookback_days", 14)
	v.SetDefault("learning.max_preferences_words", 500)
}

func setupTriageEnvBinding(v *viper.Viper) {
	v.SetEnvPrefix("TRIAGE")
	v.AutomaticEnv()

	envBindings := map[string]string{
		"triage.interval_minutes": "TRIAGE_INTERVAL_MINUTES",
		"triage.lookback_hours":   "TRIAGE_LOOKBACK_HOURS",
		"triage.batch_size":       "TRIAGE_BATCH_SIZE",
		"triage.watch_folders":    "TRIAGE_WATCH_FOLDERS",

		"models.triage": "TRIAGE_MODEL_TRIAGE",
		"models.dry_run": "TRIAGE_MODEL_DRY_RUN",
		"models.chat":    "TRIAGE_MODEL_CHAT",

		"snippet.max_length": "TRIAGE_SNIPPET_MAX_LENGTH",

		"aging.needs_reply_warning_hours":  "TRIAGE_AGING_NEEDS_REPLY_WARNING_HOURS",
		"aging.needs_reply_critical_hours": "TRIAGE_AGING_NEEDS_REPLY_CRITICAL_HOURS",
		"aging.waiting_for_nudge_hours":    "TRIAGE_AGING_WAITING_FOR_NUDGE_HOURS",
		"aging.waiting_for_escalate_hours": "TRIAGE_AGING_WAITING_FOR_ESCALATE_HOURS",

		"suggestion_queue.expire_after_days": "TRIAGE_SUGGESTION_QUEUE_EXPIRE_AFTER_DAYS",

		"llm_logging.enabled":        "TRIAGE_LLM_LOGGING_ENABLED",
		"llm_logging.retention_days": "TRIAGE_LLM_LOGGING_RETENTION_DAYS",
		"llm_logging.log_prompts":    "TRIAGE_LLM_LOGGING_LOG_PROMPTS",
		"llm_logging.log_responses":  "TRIAGE_LLM_LOGGING_LOG_RESPONSES",

		"learning.enabled":                    "TRIAGE_LEARNING_ENABLED",
		"learning.min_corrections_to_update":   "TRIAGE_LEARNING_MIN_CORRECTIONS_TO_UPDATE",
		"learning.lookback_days":               "TRIAGE_LEARNING_LOOKBACK_DAYS",
		"learning.max_preferences_words":       "TRIAGE_LEARNING_MAX_PREFERENCES_WORDS",
	}
	for configKey, envVar := range envBindings {
		v.BindEnv(configKey, envVar)
	}
}

// LoadTriageConfig loads TriageConfig from the given Viper instance,
// applying defaults and env bindings first.
func LoadTriageConfig(v *viper.Viper) (*TriageConfig, error) {
	setTriageDefaults(v)
	setupTriageEnvBinding(v)

	if v.ConfigFileUsed() == "" {
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
		v.AddConfigPath("$HOME/.triage-agent")
		v.SetConfigName("triage-agent")
	}
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to load config file: %w", err)
		}
	}

	cfg := &TriageConfig{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal triage config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid triage configuration: %w", err)
	}
	return cfg, nil
}

// Validate enforces §6's documented ranges.
func (c *TriageConfig) Validate() error {
	if c.Triage.IntervalMinutes < 1 || c.Triage.IntervalMinutes > 1440 {
		return fmt.Errorf("triage.interval_minutes must be in [1, 1440]")
	}
	if c.Triage.LookbackHours < 1 || c.Triage.LookbackHours > 168 {
		return fmt.Errorf("triage.lookback_hours must be in [1, 168]")
	}
	if c.Triage.BatchSize < 1 || c.Triage.BatchSize > 100 {
		return fmt.Errorf("triage.batch_size must be in [1, 100]")
	}
	if len(c.Triage.WatchFolders) == 0 {
		return fmt.Errorf("triage.watch_folders must be non-empty")
	}
	if c.Snippet.MaxLength < 1 || c.Snippet.MaxLength > 10000 {
		return fmt.Errorf("snippet.max_length must be in (0, 10000]")
	}
	if c.SuggestionQueue.ExpireAfterDays < 1 {
		return fmt.Errorf("suggestion_queue.expire_after_days must be positive")
	}
	if c.Learning.Enabled && c.Learning.MinCorrectionsToUpdate < 1 {
		return fmt.Errorf("learning.min_corrections_to_update must be positive when learning is enabled")
	}
	for i, rule := range c.AutoRules {
		if len(rule.SenderPatterns) == 0 && len(rule.SubjectSubstrings) == 0 {
			return fmt.Errorf("auto_rules[%d]: must specify sender_patterns or subject_substrings", i)
		}
		if rule.Folder == "" {
			return fmt.Errorf("auto_rules[%d]: folder is required", i)
		}
	}
	return nil
}

// MatchesSender reports whether address satisfies any of the rule's
// sender patterns: an exact match, or a "*@domain" wildcard matching
// the address's domain case-insensitively.
func (r AutoRule) MatchesSender(address string) bool {
	address = strings.ToLower(strings.TrimSpace(address))
	for _, raw := range r.SenderPatterns {
		pattern := strings.ToLower(strings.TrimSpace(raw))
		if pattern == "" {
			continue
		}
		if strings.HasPrefix(pattern, "*@") {
			domain := strings.TrimPrefix(pattern, "*@")
			at := strings.LastIndex(address, "@")
			if at >= 0 && address[at+1:] == domain {
				return true
			}
			continue
		}
		if address == pattern {
			return true
		}
	}
	return false
}

// MatchesSubject reports whether subject contains any of the rule's
// substrings, case-insensitively.
func (r AutoRule) MatchesSubject(subject string) bool {
	subject = strings.ToLower(subject)
	for _, substr := range r.SubjectSubstrings {
		if substr == "" {
			continue
		}
		if strings.Contains(subject, strings.ToLower(substr)) {
			return true
		}
	}
	return false
}

// Watcher holds the last-known-valid TriageConfig and applies hot
// reloads with rollback: a reload that fails Validate leaves the prior
// config in place.
type Watcher struct {
	mu  sync.RWMutex
	cur *TriageConfig
}

// NewWatcher wraps an already-loaded, already-valid config.
func NewWatcher(initial *TriageConfig) *Watcher {
	return &Watcher{cur: initial}
}

// Current returns the last-known-valid config.
func (w *Watcher) Current() *TriageConfig {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.cur
}

// Reload re-unmarshals v into a candidate config; on success it replaces
// Current(), on failure it returns the error and leaves Current()
// untouched.
func (w *Watcher) Reload(v *viper.Viper) error {
	candidate := &TriageConfig{}
	if err := v.Unmarshal(candidate); err != nil {
		return fmt.Errorf("reload unmarshal failed, keeping prior config: %w", err)
	}
	if err := candidate.Validate(); err != nil {
		return fmt.Errorf("reload validation failed, keeping prior config: %w", err)
	}
	w.mu.Lock()
	w.cur = candidate
	w.mu.Unlock()
	return nil
}

// WatchAndReload wires viper's file watcher to Reload; a failed reload
// is reported via onError but never replaces Current().
func (w *Watcher) WatchAndReload(v *viper.Viper, onError func(error)) {
	v.OnConfigChange(func(_ fsnotify.Event) {
		if err := w.Reload(v); err != nil && onError != nil {
			onError(err)
		}
	})
	v.WatchConfig()
}
