package permission

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMatchRule(t *testing.T) {
	tests := []struct {
		name     string
		rule     string
		toolName string
		args     map[string]interface{}
		want     bool
	}{
		{"exact match", "read_file", "read_file", nil, true},
		{"exact mismatch", "read_file", "write_file", nil, false},
		{"glob match", "files__*", "files__search", nil, true},
		{"glob mismatch", "files__*", "web__search", nil, false},
		{"wildcard everything", "*", "anything", nil, true},
		{
			"shell rule matches substring",
			"Bash(npm run)",
			ShellToolName,
			map[string]interface{}{"command": "npm run build"},
			true,
		},
		{
			"shell rule mismatched command",
			"Bash(npm run)",
			ShellToolName,
			map[string]interface{}{"command": "rm -rf /"},
			false,
		},
		{
			"shell rule only applies to the shell tool",
			"Bash(npm run)",
			"read_file",
			map[string]interface{}{"command": "npm run build"},
			false,
		},
		{
			"shell rule with missing command",
			"Bash(npm)",
			ShellToolName,
			nil,
			false,
		},
		{
			"shell rule substring anywhere in command",
			"Bash(git push)",
			ShellToolName,
			map[string]interface{}{"command": "cd repo && git push origin main"},
			true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, matchRule(tt.rule, tt.toolName, tt.args))
		})
	}
}

func TestMatchAny_DeclarationOrder(t *testing.T) {
	rules := []string{"web__*", "files__*"}

	rule, ok := matchAny(rules, "files__read", nil)
	assert.True(t, ok)
	assert.Equal(t, "files__*", rule)

	_, ok = matchAny(rules, "other", nil)
	assert.False(t, ok)
}
