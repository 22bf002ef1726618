package commands

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParse(t *testing.T) {
	parser := NewParser("hookbot")

	tests := []struct {
		name   string
		body   string
		want   Command
		wantOK bool
	}{
		{name: "run CI", body: "@hookbot: run CI", want: Command{Kind: RunCI}, wantOK: true},
		{name: "run CI without colon", body: "@hookbot run ci", want: Command{Kind: RunCI}, wantOK: true},
		{name: "run CI on later line", body: "Looks good.\r\n@hookbot: run CI\r\n", want: Command{Kind: RunCI}, wantOK: true},
		{
			name:   "minimize",
			body:   "@hookbot: minimize build test-unit",
			want:   Command{Kind: Minimize, Jobs: []string{"build", "test-unit"}},
			wantOK: true,
		},
		{
			name:   "minimise with commas",
			body:   "@HookBot: minimise build, lint",
			want:   Command{Kind: Minimize, Jobs: []string{"build", "lint"}},
			wantOK: true,
		},
		{name: "other bot", body: "@otherbot: run CI"},
		{name: "prefix of bot name", body: "@hookbot2: run CI"},
		{name: "mention inside sentence", body: "please ask @hookbot: run CI"},
		{name: "unknown command", body: "@hookbot: deploy"},
		{name: "empty", body: ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := parser.Parse(tt.body)
			assert.Equal(t, tt.wantOK, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestKindString(t *testing.T) {
	assert.Equal(t, "run CI", RunCI.String())
	assert.Equal(t, "minimize", Minimize.String())
	assert.Equal(t, "Kind(0)", Kind(0).String())
}
