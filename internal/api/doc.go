// Package api talks to LLM chat-completion providers over HTTP. It
// supports two wire dialects (Anthropic Messages and OpenAI-compatible
// chat completions), decodes their streaming formats incrementally, and
// manages per-conversation turn lifecycle, token totals, and advisory
// cost. Dialect selection happens once per request from the provider
// settings; the decoder never sniffs response bytes to guess a format.
package api
