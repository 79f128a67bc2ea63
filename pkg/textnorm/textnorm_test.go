package textnorm

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSplitLines(t *testing.T) {
	raw := "  Hello\r\nworld \n\n\t\n  again  \n"
	assert.Equal(t, []string{"Hello", "world", "again"}, SplitLines(raw))
	assert.Nil(t, SplitLines(" \n \n"))
}

func TestMerge(t *testing.T) {
	tests := []struct {
		name  string
		lines []string
		want  string
	}{
		{
			name:  "two sentences",
			lines: []string{"Hello there", "world.", "Next sentence!"},
			want:  "Hello there world.\nNext sentence!",
		},
		{
			name:  "wrapped sentence",
			lines: []string{"Hello", "world."},
			want:  "Hello world.",
		},
		{
			name:  "trailing buffer flushed",
			lines: []string{"Big news:", "new drop", "tomorrow"},
			want:  "Big news:\nnew drop tomorrow",
		},
		{
			name:  "every terminator closes a line",
			lines: []string{"a?", "b!", "c;", "d."},
			want:  "a?\nb!\nc;\nd.",
		},
		{
			name:  "blank lines skipped and lines trimmed",
			lines: []string{"  first ", "", "   ", "second."},
			want:  "first second.",
		},
		{
			name:  "empty input",
			lines: nil,
			want:  "",
		},
		{
			name:  "terminator mid line does not split",
			lines: []string{"visit example.com now", "ok"},
			want:  "visit example.com now ok",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Merge(tt.lines))
		})
	}
}

func TestCanonicalize(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"  I’M SO PROUD…  ", "i'm so proud..."},
		{"DM‘d", "dm'd"},
		{"it‛s", "it's"},
		{"donʼt", "don't"},
		{"ÉCOLE", "école"},
		{"", ""},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got := Canonicalize(tt.in)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, got, Canonicalize(got), "must be idempotent")
		})
	}
}
