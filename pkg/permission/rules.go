package permission

import (
	"path"
	"strings"
)

// ShellToolName is the tool whose arguments shell-command rules inspect.
const ShellToolName = "run_shell"

const shellRulePrefix = "Bash("

// Rule syntax, one string per rule:
//
//	"read_file"       exact tool name
//	"files__*"        glob over tool names
//	"Bash(npm run)"   run_shell calls whose command contains the substring
func parseShellRule(rule string) (string, bool) {
	if strings.HasPrefix(rule, shellRulePrefix) && strings.HasSuffix(rule, ")") {
		return rule[len(shellRulePrefix) : len(rule)-1], true
	}
	return "", false
}

// matchRule reports whether a single rule matches the call.
func matchRule(rule, toolName string, args map[string]interface{}) bool {
	if substr, ok := parseShellRule(rule); ok {
		if toolName != ShellToolName {
			return false
		}
		command, _ := args["command"].(string)
		return strings.Contains(command, substr)
	}

	if strings.ContainsAny(rule, "*?[") {
		ok, err := path.Match(rule, toolName)
		return err == nil && ok
	}
	return rule == toolName
}

// matchAny returns the first matching rule, in declaration order.
func matchAny(rules []string, toolName string, args map[string]interface{}) (string, bool) {
	for _, rule := range rules {
		if matchRule(rule, toolName, args) {
			return rule, true
		}
	}
	return "", false
}
