package classifier

import (
	"fmt"

	"triage-agent/internal/config"
)

// AutoRuleMatch is the outcome of the first matching auto-rule, if any.
type AutoRuleMatch struct {
	Rule      config.AutoRule
	Reasoning string
}

// MatchAutoRule implements §4.4 step 1: the first rule (in config order)
// whose sender pattern or subject substring matches wins.
func MatchAutoRule(rules []config.AutoRule, senderEmail, subject string) (*AutoRuleMatch, bool) {
	for _, rule := range rules {
		if rule.MatchesSender(senderEmail) {
			return &AutoRuleMatch{Rule: rule, Reasoning: fmt.Sprintf("auto-rule %q matched sender %s", rule.Name, senderEmail)}, true
		}
		if rule.MatchesSubject(subject) {
			return &AutoRuleMatch{Rule: rule, Reasoning: fmt.Sprintf("auto-rule %q matched subject %q", rule.Name, subject)}, true
		}
	}
	return nil, false
}
