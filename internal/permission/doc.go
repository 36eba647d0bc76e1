// Package permission classifies bash ToolCalls the AgentDriver adapter (C6)
// is about to run against a pattern table, and gives the adapter a place to
// observe (not block on) any command it can't classify outright.
//
// # Overview
//
// Every bash command is matched against a configured pattern table and
// resolves to one of three actions:
//   - Allow: run the command
//   - Deny: reject it with a RejectedError
//   - Ask: the core has no synchronous approval UI of its own (the sandbox's
//     confirmation path is out of scope), so the command is allowed to run
//     and the classification is surfaced through Checker.OnRequired for an
//     observer — a status CoreEvent, an audit log — to record
//
// # Checker
//
//	checker := NewChecker()
//	checker.OnRequired = func(req Request) { /* surface for observability */ }
//	req := Request{
//		Type:      PermBash,
//		SessionID: sessionID,
//		Pattern:   []string{"git *"},
//		Title:     "git status",
//	}
//	err := checker.Check(ctx, req, ActionAllow)
//
// # Bash command parsing and pattern matching
//
//	commands, err := ParseBashCommand("git commit -m 'fix bug'")
//	// commands[0] == BashCommand{Name: "git", Subcommand: "commit", Args: [...]}
//
//	action := MatchBashPermission(commands[0], map[string]PermissionAction{
//		"git commit *": ActionAllow,
//		"rm *":         ActionDeny,
//		"*":            ActionAsk,
//	})
//
// Patterns are matched most-specific first: "git commit *", then "git *",
// then "git", then the global "*" wildcard.
//
// # Doom loop detection
//
// DoomLoopDetector flags a tool call that repeats identically (same tool,
// same arguments) DoomLoopThreshold times in a row for a session, a cheap
// guard against a model stuck retrying the same failing call forever:
//
//	detector := NewDoomLoopDetector()
//	if detector.Check(sessionID, "bash", map[string]any{"command": cmd}) {
//		// reject: identical call repeated too many times
//	}
//
// # Session state
//
// Checker remembers "always"-approved permission types and bash patterns
// per session until ClearSession is called, and RejectedError carries enough
// context (SessionID, Type, CallID, Metadata) for a caller to report why a
// call was denied.
package permission
