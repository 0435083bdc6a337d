package ingest

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestScrubRedactsCreditCards(t *testing.T) {
	out, ok := Scrub("pay with 1234-5678-9012-3456 please")
	assert.True(t, ok)
	assert.Equal(t, "pay with [CREDIT_CARD] please", out)
}

func TestScrubRedactsEmails(t *testing.T) {
	out, ok := Scrub("contact tips@example.com for more")
	assert.True(t, ok)
	assert.Equal(t, "contact [EMAIL] for more", out)
}

func TestScrubIsIdempotent(t *testing.T) {
	inputs := []string{
		"card 1234-5678-9012-3456 and mail a@b.co mixed",
		"nothing sensitive here",
		"",
	}
	for _, in := range inputs {
		once, _ := Scrub(in)
		twice, _ := Scrub(once)
		assert.Equal(t, once, twice)
	}
}

func TestFingerprintIsStable(t *testing.T) {
	a := Fingerprint("Central bank hikes rates 25bp.")
	b := Fingerprint("Central bank hikes rates 25bp.")
	assert.Equal(t, a, b)
	assert.Len(t, a, 64)
	assert.Equal(t, a, Fingerprint("Central bank hikes rates 25bp."))
	assert.NotEqual(t, a, Fingerprint("different"))
}
