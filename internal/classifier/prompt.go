package classifier

import (
	"fmt"
	"strings"

	"triage-agent/internal/config"
	"triage-agent/internal/contextassembler"
	"triage-agent/internal/store"
)

var priorityDescriptions = map[store.Priority]string{
	store.PriorityUrgentImportant: "urgent and important: needs attention today",
	store.PriorityImportant:       "important but not urgent: schedule focused time",
	store.PriorityUrgentLow:       "urgent but low-importance: quick turnaround, low stakes",
	store.PriorityLow:             "low priority: handle whenever convenient",
}

var actionDescriptions = map[store.ActionType]string{
	store.ActionNeedsReply: "requires a reply from the user",
	store.ActionReview:     "needs the user's eyes but no reply",
	store.ActionDelegated:  "has been or should be handed off to someone else",
	store.ActionFYIOnly:    "informational only, no action required",
	store.ActionWaitingFor: "the user is waiting on someone else to respond",
	store.ActionScheduled:  "a calendar/meeting item already scheduled",
}

// BuildSystemPrompt assembles the classifier's system prompt, rebuilt
// once per triage cycle per §4.4 from the PARA folder hierarchy, key
// contacts, the priority/action enumerations, and the current
// classification_preferences blob.
func BuildSystemPrompt(cfg *config.TriageConfig, preferences string) string {
	var b strings.Builder
	b.WriteString("You are an email triage assistant organizing a mailbox using a PARA-style folder hierarchy (Projects, Areas, Resources, Archive).\n\n")

	b.WriteString("Projects:\n")
	writeProjectList(&b, cfg.Projects)
	b.WriteString("\nAreas (also applied as a mailbox category when a message is moved there):\n")
	writeAreaList(&b, cfg.Areas)

	if len(cfg.KeyContacts) > 0 {
		b.WriteString("\nKey contacts (treat these senders as high-signal):\n")
		writeBulletList(&b, cfg.KeyContacts)
	}

	b.WriteString("\nPriority levels:\n")
	for _, p := range []store.Priority{store.PriorityUrgentImportant, store.PriorityImportant, store.PriorityUrgentLow, store.PriorityLow} {
		fmt.Fprintf(&b, "- %s: %s\n", p, priorityDescriptions[p])
	}

	b.WriteString("\nAction types:\n")
	for _, a := range []store.ActionType{store.ActionNeedsReply, store.ActionReview, store.ActionDelegated, store.ActionFYIOnly, store.ActionWaitingFor, store.ActionScheduled} {
		fmt.Fprintf(&b, "- %s: %s\n", a, actionDescriptions[a])
	}

	if strings.TrimSpace(preferences) != "" {
		b.WriteString("\nLearned preferences from past corrections:\n")
		b.WriteString(preferences)
		b.WriteString("\n")
	}

	b.WriteString("\nClassify the email by calling the classify_email tool exactly once with folder, priority, action_type, confidence, and one-sentence reasoning.")
	return b.String()
}

func writeBulletList(b *strings.Builder, items []string) {
	if len(items) == 0 {
		b.WriteString("(none configured)\n")
		return
	}
	for _, item := range items {
		fmt.Fprintf(b, "- %s\n", item)
	}
}

func writeProjectList(b *strings.Builder, projects []config.Project) {
	if len(projects) == 0 {
		b.WriteString("(none configured)\n")
		return
	}
	for _, p := range projects {
		fmt.Fprintf(b, "- %s (%s)", p.Name, p.FolderPath)
		if p.DefaultPriority != "" {
			fmt.Fprintf(b, " [default priority: %s]", p.DefaultPriority)
		}
		b.WriteString("\n")
	}
}

func writeAreaList(b *strings.Builder, areas []config.Area) {
	if len(areas) == 0 {
		b.WriteString("(none configured)\n")
		return
	}
	for _, a := range areas {
		fmt.Fprintf(b, "- %s (%s)", a.Name, a.FolderPath)
		if a.DefaultPriority != "" {
			fmt.Fprintf(b, " [default priority: %s]", a.DefaultPriority)
		}
		b.WriteString("\n")
	}
}

// BuildUserPrompt assembles the per-message user prompt: the email
// fields plus conditional context sections.
func BuildUserPrompt(msg *store.Email, ctx *contextassembler.ClassificationContext) string {
	var b strings.Builder
	fmt.Fprintf(&b, "From: %s <%s>\nSubject: %s\nReceived: %s\n\n%s\n",
		msg.SenderName, msg.SenderEmail, msg.Subject, msg.ReceivedAt.Format("2006-01-02 15:04"), msg.Snippet)

	if ctx == nil {
		return b.String()
	}

	if folder, pct, ok := ctx.SenderHistory.DominantFolder(); ok {
		fmt.Fprintf(&b, "\nSender history: %s has filed %.0f%% of their prior emails under %q.\n", msg.SenderEmail, pct*100, folder)
	}

	if ctx.SenderProfile != nil && ctx.SenderProfile.Category != store.CategoryUnknown && ctx.SenderProfile.Category != "" {
		fmt.Fprintf(&b, "\nSender profile: %s is categorized as %s.\n", msg.SenderEmail, ctx.SenderProfile.Category)
	}

	if len(ctx.ThreadContext) > 0 {
		b.WriteString("\nPrior messages in this thread (newest first):\n")
		for _, tm := range ctx.ThreadContext {
			fmt.Fprintf(&b, "- [depth %d] %s (%s): %s\n", tm.Depth, tm.Sender, tm.ReceivedAt.Format("2006-01-02"), tm.Snippet)
		}
	}

	if ctx.HasUserReplied {
		b.WriteString("\nThe user has already replied somewhere in this thread.\n")
	}

	if ctx.MatchedProject != nil {
		fmt.Fprintf(&b, "\nThis message's signals match project %q (%s).\n", ctx.MatchedProject.Name, ctx.MatchedProject.FolderPath)
	}
	if ctx.MatchedArea != nil {
		fmt.Fprintf(&b, "\nThis message's signals match area %q (%s).\n", ctx.MatchedArea.Name, ctx.MatchedArea.FolderPath)
	}

	return b.String()
}
