package utils

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTruncateAtWord(t *testing.T) {
	t.Run("short strings pass through", func(t *testing.T) {
		assert.Equal(t, "hello world", TruncateAtWord("hello world", 100))
	})

	t.Run("cuts at word boundary with ellipsis", func(t *testing.T) {
		in := strings.Repeat("word ", 100)
		out := TruncateAtWord(in, 42)
		assert.True(t, strings.HasSuffix(out, "…"))
		assert.LessOrEqual(t, len([]rune(out)), 43)
		assert.False(t, strings.HasSuffix(strings.TrimSuffix(out, "…"), "wor"), "must not cut mid-word")
	})

	t.Run("single long token still truncates", func(t *testing.T) {
		in := strings.Repeat("x", 50)
		out := TruncateAtWord(in, 10)
		assert.Equal(t, strings.Repeat("x", 10)+"…", out)
	})
}

func TestContainsFold(t *testing.T) {
	assert.True(t, ContainsFold([]string{"Alpha Signals"}, "alpha signals"))
	assert.False(t, ContainsFold([]string{"Alpha Signals"}, "beta"))
}

func TestCleanToValidUTF8(t *testing.T) {
	assert.Equal(t, "ok", CleanToValidUTF8("ok"))
	assert.Equal(t, "ab", CleanToValidUTF8("a\xffb"))
}
