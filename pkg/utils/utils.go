package utils

import (
	"context"
	"runtime/debug"
	"strings"
	"time"
	"unicode/utf8"

	"content-refinery/pkg/logger"
)

// GoSafe runs fn in a goroutine, recovering and logging panics so a
// single bad task cannot take down the process.
func GoSafe(fn func()) {
	go func() {
		defer func() {
			if r := recover(); r != nil {
				debug.PrintStack()
			}
		}()
		fn()
	}()
}

// ShouldContinue reports whether the context is still live, logging
// the cancellation cause when it is not.
func ShouldContinue(ctx context.Context, log *logger.Logger) bool {
	select {
	case <-ctx.Done():
		log.Info("Context cancelled, stopping work", logger.ErrorField(ctx.Err()))
		return false
	default:
		return true
	}
}

// NowMillis returns the current time as epoch milliseconds.
func NowMillis() int64 {
	return time.Now().UnixMilli()
}

// CleanToValidUTF8 strips invalid UTF-8 sequences from s.
func CleanToValidUTF8(s string) string {
	if utf8.ValidString(s) {
		return s
	}
	return strings.ToValidUTF8(s, "")
}

// ContainsString reports whether list contains s.
func ContainsString(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

// ContainsFold reports whether list contains s, case-insensitively.
func ContainsFold(list []string, s string) bool {
	for _, v := range list {
		if strings.EqualFold(v, s) {
			return true
		}
	}
	return false
}

// TruncateAtWord shortens s to at most max runes, cutting at the last
// word boundary and appending an ellipsis. Strings within the limit
// are returned unchanged.
func TruncateAtWord(s string, max int) string {
	if max <= 0 || utf8.RuneCountInString(s) <= max {
		return s
	}

	cut := string([]rune(s)[:max])
	if idx := strings.LastIndexAny(cut, " \n\t"); idx > 0 {
		cut = cut[:idx]
	}
	return strings.TrimRight(cut, " \n\t") + "…"
}
