package classifier

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClean_StripsHTMLAndEntities(t *testing.T) {
	out := Clean("<p>Hello &amp; welcome</p>", 1000)
	assert.Equal(t, "Hello & welcome", out)
}

func TestClean_StripsSignatureAndDisclaimer(t *testing.T) {
	raw := "Let's meet tomorrow.\n\n--\nJohn Doe\nSenior Engineer"
	out := Clean(raw, 1000)
	assert.Equal(t, "Let's meet tomorrow.", out)
}

func TestClean_TruncatesToMaxLength(t *testing.T) {
	out := Clean(strings.Repeat("word ", 500), 50)
	assert.LessOrEqual(t, len(out), 50)
}

func TestClean_StripsQuotedReplyHeader(t *testing.T) {
	raw := "Sounds good.\n\nOn Mon, Jan 5, 2026 at 3:00 PM Alice wrote:\n> original text here"
	out := Clean(raw, 1000)
	assert.Equal(t, "Sounds good.", out)
}
