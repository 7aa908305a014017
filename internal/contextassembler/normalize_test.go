package contextassembler

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalizeSubject_StripsChainedPrefixes(t *testing.T) {
	assert.Equal(t, "kickoff", NormalizeSubject("Re: Fwd: RE: kickoff"))
	assert.Equal(t, "quarterly review", NormalizeSubject("FW: Quarterly Review"))
	assert.Equal(t, "no prefix here", NormalizeSubject("  No Prefix Here  "))
}

func TestNormalizeSubject_IsIdempotent(t *testing.T) {
	subjects := []string{
		"Re: Fwd: RE: kickoff",
		"plain subject",
		"[EXT] Re: quarterly numbers",
		"",
	}
	for _, s := range subjects {
		once := NormalizeSubject(s)
		twice := NormalizeSubject(once)
		assert.Equal(t, once, twice, "normalize must be idempotent for %q", s)
	}
}

func TestSenderDomain(t *testing.T) {
	assert.Equal(t, "news.example.com", SenderDomain("A@News.Example.com"))
	assert.Equal(t, "malformed", SenderDomain("malformed"))
}
