// Package highlight_tools provides the MCP tool that saves highlights to
// Readwise, and the factory that builds a protocol server around it.
//
// # Available Tools
//
//   - readwise_save_highlights: validate a non-empty list of highlights and
//     save them to Readwise in one batched request
//
// Every outcome is returned as a tool result. Failures set IsError and carry
// a human readable message:
//
//	Error: READWISE_TOKEN environment variable is not set
//	Validation error: highlights.0.title: Required
//	Readwise API error (429): Readwise API rate limit exceeded
//	Error saving to Readwise: <transport error>
//
// On success the message reports the number of highlights Readwise says it
// saved, which may differ from the number submitted when Readwise merges
// duplicates.
package highlight_tools
