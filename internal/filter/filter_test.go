package filter_test

import (
	"strings"
	"testing"

	"github.com/book-expert/stream-tts/internal/filter"
	"github.com/stretchr/testify/assert"
	"pgregory.net/rapid"
)

func TestShouldReject(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		text   string
		banned []string
		want   bool
	}{
		{name: "empty list passes", text: "anything goes", banned: nil, want: false},
		{name: "exact match", text: "bad", banned: []string{"bad"}, want: true},
		{name: "substring match", text: "this is badly said", banned: []string{"bad"}, want: true},
		{name: "case insensitive text", text: "BAD word", banned: []string{"bad"}, want: true},
		{name: "case insensitive entry", text: "bad word", banned: []string{"BAD"}, want: true},
		{name: "no match", text: "hello world", banned: []string{"bad", "worse"}, want: false},
		{name: "second entry matches", text: "worse things", banned: []string{"bad", "worse"}, want: true},
		{name: "blank entry ignored", text: "hello", banned: []string{"", "  "}, want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			assert.Equal(t, tt.want, filter.ShouldReject(tt.text, tt.banned))
		})
	}
}

func TestShouldReject_ContainedWordAlwaysRejects(t *testing.T) {
	t.Parallel()

	rapid.Check(t, func(rt *rapid.T) {
		prefix := rapid.StringMatching(`[a-zA-Z ]{0,20}`).Draw(rt, "prefix")
		word := rapid.StringMatching(`[a-zA-Z]{1,10}`).Draw(rt, "word")
		suffix := rapid.StringMatching(`[a-zA-Z ]{0,20}`).Draw(rt, "suffix")

		text := prefix + strings.ToUpper(word) + suffix

		if !filter.ShouldReject(text, []string{"zzz-unused", word}) {
			rt.Fatalf("expected %q to be rejected by %q", text, word)
		}
	})
}

func TestShouldReject_EmptyListNeverRejects(t *testing.T) {
	t.Parallel()

	rapid.Check(t, func(rt *rapid.T) {
		text := rapid.String().Draw(rt, "text")

		if filter.ShouldReject(text, nil) {
			rt.Fatalf("empty banned list rejected %q", text)
		}
	})
}
