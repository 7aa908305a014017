package config

import (
	"testing"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validTriageConfig() *TriageConfig {
	return &TriageConfig{
		Triage: TriageSection{
			IntervalMinutes: 15, LookbackHours: 24, BatchSize: 25,
			WatchFolders: []string{"Inbox"},
		},
		Snippet:         SnippetSection{MaxLength: 1000},
		SuggestionQueue: SuggestionQueueSection{ExpireAfterDays: 14},
		Learning:        LearningSection{Enabled: true, MinCorrectionsToUpdate: 5},
	}
}

func TestValidate_RejectsOutOfRangeIntervalMinutes(t *testing.T) {
	cfg := validTriageConfig()
	cfg.Triage.IntervalMinutes = 0
	require.Error(t, cfg.Validate())

	cfg2 := validTriageConfig()
	cfg2.Triage.IntervalMinutes = 1441
	require.Error(t, cfg2.Validate())
}

func TestValidate_RejectsEmptyWatchFolders(t *testing.T) {
	cfg := validTriageConfig()
	cfg.Triage.WatchFolders = nil
	require.Error(t, cfg.Validate())
}

func TestValidate_RejectsAutoRuleWithNoMatchPredicate(t *testing.T) {
	cfg := validTriageConfig()
	cfg.AutoRules = []AutoRule{{Folder: "Projects/Alpha"}}
	require.Error(t, cfg.Validate())
}

func TestAutoRule_MatchesSender(t *testing.T) {
	exact := AutoRule{SenderPatterns: []string{"Boss@Acme.com"}}
	assert.True(t, exact.MatchesSender("boss@acme.com"))
	assert.False(t, exact.MatchesSender("other@acme.com"))

	wildcard := AutoRule{SenderPatterns: []string{"*@acme.com"}}
	assert.True(t, wildcard.MatchesSender("anyone@ACME.com"))
	assert.False(t, wildcard.MatchesSender("anyone@other.com"))
}

func TestAutoRule_MatchesSender_MultiplePatternsOR(t *testing.T) {
	rule := AutoRule{SenderPatterns: []string{"boss@acme.com", "*@partner.example.com"}}
	assert.True(t, rule.MatchesSender("boss@acme.com"), "should match the exact first pattern")
	assert.True(t, rule.MatchesSender("anyone@partner.example.com"), "should match the wildcard second pattern")
	assert.False(t, rule.MatchesSender("stranger@other.com"))
}

func TestAutoRule_MatchesSubject(t *testing.T) {
	rule := AutoRule{SubjectSubstrings: []string{"Invoice"}}
	assert.True(t, rule.MatchesSubject("Your INVOICE is ready"))
	assert.False(t, rule.MatchesSubject("Kickoff meeting"))
}

func TestAutoRule_MatchesSubject_MultipleSubstringsOR(t *testing.T) {
	rule := AutoRule{SubjectSubstrings: []string{"invoice", "receipt"}}
	assert.True(t, rule.MatchesSubject("Your Receipt #123"))
	assert.True(t, rule.MatchesSubject("Overdue invoice"))
	assert.False(t, rule.MatchesSubject("Kickoff meeting"))
}

func TestSignals_MatchesAnySignalType(t *testing.T) {
	s := Signals{
		SubjectKeywords: []string{"renewal"},
		SenderPatterns:  []string{"*@vendor.com"},
		BodyKeywords:    []string{"invoice attached"},
	}
	assert.True(t, s.Matches("anyone@vendor.com", "hi", "body"), "sender pattern alone should match")
	assert.True(t, s.Matches("stranger@other.com", "Contract renewal", "body"), "subject keyword alone should match")
	assert.True(t, s.Matches("stranger@other.com", "hi", "see invoice attached"), "body keyword alone should match")
	assert.False(t, s.Matches("stranger@other.com", "hi", "body"))
}

func TestWatcher_ReloadRollsBackOnInvalidCandidate(t *testing.T) {
	good := validTriageConfig()
	w := NewWatcher(good)
	require.Same(t, good, w.Current())

	v := viper.New()
	v.Set("triage.interval_minutes", 15)
	v.Set("triage.lookback_hours", 24)
	v.Set("triage.batch_size", 0) // invalid: out of [1,100]
	v.Set("triage.watch_folders", []string{"Inbox"})
	v.Set("snippet.max_length", 1000)
	v.Set("suggestion_queue.expire_after_days", 14)

	err := w.Reload(v)
	require.Error(t, err)
	assert.Same(t, good, w.Current(), "an invalid reload must leave the prior config in place")
}

func TestWatcher_ReloadAcceptsValidCandidate(t *testing.T) {
	good := validTriageConfig()
	w := NewWatcher(good)

	v := viper.New()
	v.Set("triage.interval_minutes", 30)
	v.Set("triage.lookback_hours", 24)
	v.Set("triage.batch_size", 10)
	v.Set("triage.watch_folders", []string{"Inbox"})
	v.Set("snippet.max_length", 1000)
	v.Set("suggestion_queue.expire_after_days", 14)

	require.NoError(t, w.Reload(v))
	assert.Equal(t, 30, w.Current().Triage.IntervalMinutes)
}
