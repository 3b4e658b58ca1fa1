package cmd

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRunGenerateDocs(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, runGenerateDocs(&buf, ""))

	out := buf.String()
	assert.Contains(t, out, "# MCP Tools Reference")
	assert.Contains(t, out, "- [Readwise Tools](#readwise-tools)")
	assert.Contains(t, out, "### readwise_save_highlights")
	assert.Contains(t, out, "- `highlights` (array, required): Highlights to save")
	assert.Contains(t, out, "  - `text` (string, required):")
	assert.Contains(t, out, "  - `title` (string, required):")
	assert.Contains(t, out, "  - `author` (string, optional):")
	assert.Contains(t, out, "(default: `articles`)")
	assert.Contains(t, out, "READWISE_TOKEN")
}

func TestRunGenerateDocs_OutputFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tools.md")

	var buf bytes.Buffer
	require.NoError(t, runGenerateDocs(&buf, path))
	assert.Empty(t, buf.String())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "### readwise_save_highlights")
}

func TestGetCategoryFromToolName(t *testing.T) {
	assert.Equal(t, "Readwise Tools", getCategoryFromToolName("readwise_save_highlights"))
	assert.Equal(t, "Other", getCategoryFromToolName("whoami"))
	assert.Equal(t, "Other", getCategoryFromToolName(""))
}

func TestGenerateToolMarkdown_NoArguments(t *testing.T) {
	md := generateToolMarkdown(mcp.NewTool("ping", mcp.WithDescription("Check liveness")))
	assert.Equal(t, "### ping\n\nCheck liveness\n\n", md)
}

func TestVersionCmd(t *testing.T) {
	old := version
	t.Cleanup(func() { version = old })
	version = "1.4.0"

	cmd := newVersionCmd()
	var buf bytes.Buffer
	cmd.SetOut(&buf)
	cmd.SetArgs([]string{})
	require.NoError(t, cmd.Execute())
	assert.Equal(t, "savewise-mcp-server version 1.4.0\n", buf.String())
}
