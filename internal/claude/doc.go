// Package claude drives the Claude Code CLI as a subprocess for agent runs.
//
// A Runner launches `claude` with stream-json input and output, writes the
// user prompt over stdin, and decodes the NDJSON event stream from stdout
// into typed events (text deltas, tool activity, tool results, and a single
// terminal done or error event per run).
//
// # Permissions
//
// The CLI is started with --permission-prompt-tool stdio, so every tool use
// surfaces as a control_request on stdout before it executes. The Runner
// forwards each request to its PermissionFunc and answers with a
// control_response carrying an allow or deny decision. Nothing runs without
// an explicit decision; an unanswered request is denied.
//
// The package also defines StoredMessage, the on-disk record format Claude
// Code writes under ~/.claude/projects, which the session watcher reads to
// surface externally started sessions.
package claude
