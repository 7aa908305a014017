package classifier

import (
	"html"
	"regexp"
	"strings"
	"time"
)

// snippetCleanDeadline bounds every pattern applied in Clean so that a
// pathological input can't trigger catastrophic regex backtracking.
const snippetCleanDeadline = time.Second

var (
	htmlTagPattern       = regexp.MustCompile(`(?s)<[^>]+>`)
	quotedHeaderPattern  = regexp.MustCompile(`(?im)^(on .+ wrote:|-{2,}\s*original message\s*-{2,}|from:.*\n.*sent:.*\n.*to:.*)$`)
	signatureDashPattern = regexp.MustCompile(`(?m)^--\s*$.*`)
	signatureLinePattern = regexp.MustCompile(`(?m)^_{5,}\s*$.*`)
	sentFromPattern      = regexp.MustCompile(`(?im)^sent from my .+$`)
	signOffPattern       = regexp.MustCompile(`(?im)^(regards|best regards|best|thanks|thank you|cheers|sincerely),?\s*$.*`)
	disclaimerPattern    = regexp.MustCompile(`(?is)this (e-?mail|message) (and any attachments )?(is|are) confidential.*`)
	whitespacePattern    = regexp.MustCompile(`[ \t]+`)
	blankLinesPattern    = regexp.MustCompile(`\n{3,}`)
)

// cleanStep is one bounded-time transformation in the pipeline.
type cleanStep func(string) string

// Clean runs the deterministic snippet-cleaning pipeline: HTML
// stripping and entity decoding, forwarded/quoted-header removal,
// signature and disclaimer stripping, whitespace normalization, and
// truncation to maxLength. Each regex-based step runs under
// runBounded so adversarial input cannot stall a cycle.
func Clean(raw string, maxLength int) string {
	steps := []cleanStep{
		stripHTML,
		stripQuotedHeaders,
		stripSignaturesAndDisclaimers,
		normalizeWhitespace,
	}

	out := raw
	for _, step := range steps {
		out = runBounded(step, out)
	}

	out = strings.TrimSpace(out)
	if maxLength > 0 && len(out) > maxLength {
		out = out[:maxLength]
		if last := strings.LastIndex(out, " "); last > maxLength-100 {
			out = out[:last]
		}
	}
	return out
}

// runBounded applies step on its own goroutine and falls back to the
// unmodified input if step does not finish within snippetCleanDeadline.
// A skipped step still leaves later steps and the final truncation to
// enforce E1, so a timeout degrades quality, never the length bound.
func runBounded(step cleanStep, input string) string {
	result := make(chan string, 1)
	go func() {
		result <- step(input)
	}()
	select {
	case out := <-result:
		return out
	case <-time.After(snippetCleanDeadline):
		return input
	}
}

func stripHTML(s string) string {
	s = htmlTagPattern.ReplaceAllString(s, " ")
	return html.UnescapeString(s)
}

func stripQuotedHeaders(s string) string {
	if idx := quotedHeaderPattern.FindStringIndex(s); idx != nil {
		s = s[:idx[0]]
	}
	return s
}

func stripSignaturesAndDisclaimers(s string) string {
	for _, p := range []*regexp.Regexp{signatureDashPattern, signatureLinePattern, sentFromPattern, signOffPattern, disclaimerPattern} {
		if idx := p.FindStringIndex(s); idx != nil {
			s = s[:idx[0]]
		}
	}
	return s
}

func normalizeWhitespace(s string) string {
	s = whitespacePattern.ReplaceAllString(s, " ")
	s = blankLinesPattern.ReplaceAllString(s, "\n\n")
	return s
}
