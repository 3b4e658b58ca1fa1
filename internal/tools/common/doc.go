// Package common holds helpers shared by MCP tool packages: instrumentation
// wrappers and access to per-request session information.
package common
