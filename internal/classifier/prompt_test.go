package classifier

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"triage-agent/internal/config"
	"triage-agent/internal/contextassembler"
	"triage-agent/internal/store"
)

func TestBuildSystemPrompt_ListsProjectsAndAreas(t *testing.T) {
	cfg := &config.TriageConfig{
		Projects: []config.Project{
			{Name: "Launch", FolderPath: "Projects/Launch", DefaultPriority: "important"},
		},
		Areas: []config.Area{
			{Name: "Finance", FolderPath: "Areas/Finance", DefaultPriority: "low"},
		},
	}

	prompt := BuildSystemPrompt(cfg, "")
	assert.Contains(t, prompt, "Launch (Projects/Launch)")
	assert.Contains(t, prompt, "Finance (Areas/Finance)")
	assert.Contains(t, prompt, "default priority: important")
}

func TestBuildSystemPrompt_EmptyProjectsAndAreas(t *testing.T) {
	prompt := BuildSystemPrompt(&config.TriageConfig{}, "")
	lines := strings.Split(prompt, "\n")
	none := 0
	for _, l := range lines {
		if l == "(none configured)" {
			none++
		}
	}
	assert.Equal(t, 2, none, "both Projects and Areas sections render the empty placeholder")
}

func TestBuildUserPrompt_SurfacesMatchedProjectAndArea(t *testing.T) {
	msg := &store.Email{SenderName: "Alice", SenderEmail: "alice@acme.com", Subject: "Launch update", Snippet: "status"}
	clsCtx := &contextassembler.ClassificationContext{
		MatchedProject: &config.Project{Name: "Launch", FolderPath: "Projects/Launch"},
		MatchedArea:    &config.Area{Name: "Finance", FolderPath: "Areas/Finance"},
	}

	prompt := BuildUserPrompt(msg, clsCtx)
	assert.Contains(t, prompt, `project "Launch" (Projects/Launch)`)
	assert.Contains(t, prompt, `area "Finance" (Areas/Finance)`)
}
