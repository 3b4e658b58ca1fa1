package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/spf13/cobra"

	"github.com/kevinhojae/savewise-mcp-server/internal/server"
	"github.com/kevinhojae/savewise-mcp-server/internal/tools/highlight_tools"
)

func newGenerateDocsCmd() *cobra.Command {
	var (
		outputFile string
	)

	cmd := &cobra.Command{
		Use:   "generate-docs",
		Short: "Generate MCP tool documentation",
		Long: `Generate markdown documentation for all available MCP tools.
This command introspects the registered tools and outputs their documentation
in markdown format, so the documentation always matches the tool definitions.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runGenerateDocs(cmd.OutOrStdout(), outputFile)
		},
	}

	cmd.Flags().StringVarP(&outputFile, "output", "o", "", "Output file (default: stdout)")

	return cmd
}

func runGenerateDocs(out io.Writer, outputFile string) error {
	// No credentials are needed to list tools.
	serverContext := server.NewServerContext(context.Background(), server.WithVersion(version))
	defer func() {
		_ = serverContext.Shutdown()
	}()

	mcpSrv, err := highlight_tools.NewProtocolServer(serverContext)
	if err != nil {
		return fmt.Errorf("failed to create MCP server: %w", err)
	}

	serverTools := mcpSrv.ListTools()
	tools := make([]mcp.Tool, 0, len(serverTools))
	for _, serverTool := range serverTools {
		tools = append(tools, serverTool.Tool)
	}

	markdown := generateToolsMarkdown(tools)

	if outputFile != "" {
		if err := os.WriteFile(outputFile, []byte(markdown), 0644); err != nil {
			return fmt.Errorf("failed to write output file: %w", err)
		}
		fmt.Fprintf(os.Stderr, "Documentation written to: %s\n", outputFile)
		return nil
	}
	_, err = io.WriteString(out, markdown)
	return err
}

func generateToolsMarkdown(tools []mcp.Tool) string {
	var sb strings.Builder

	sb.WriteString("# MCP Tools Reference\n\n")
	sb.WriteString("This document lists the tools available when running savewise-mcp-server as an MCP server.\n\n")
	sb.WriteString("**Note:** This documentation is automatically generated from the tool definitions.\n\n")

	toolsByCategory := groupToolsByCategory(tools)

	categories := make([]string, 0, len(toolsByCategory))
	for category := range toolsByCategory {
		categories = append(categories, category)
	}
	sort.Strings(categories)

	sb.WriteString("## Table of Contents\n\n")
	for _, category := range categories {
		anchor := strings.ToLower(strings.ReplaceAll(category, " ", "-"))
		sb.WriteString(fmt.Sprintf("- [%s](#%s)\n", category, anchor))
	}
	sb.WriteString("\n")

	sb.WriteString("## Configuration\n\n")
	sb.WriteString("Tools that call Readwise read the access token from the `READWISE_TOKEN` environment variable.\n")
	sb.WriteString("Calls made without it return an error result and never reach Readwise.\n\n")

	for _, category := range categories {
		categoryTools := toolsByCategory[category]
		sort.Slice(categoryTools, func(i, j int) bool {
			return categoryTools[i].Name < categoryTools[j].Name
		})

		sb.WriteString(fmt.Sprintf("## %s\n\n", category))
		for _, tool := range categoryTools {
			sb.WriteString(generateToolMarkdown(tool))
			sb.WriteString("\n")
		}
	}

	return sb.String()
}

func groupToolsByCategory(tools []mcp.Tool) map[string][]mcp.Tool {
	categories := make(map[string][]mcp.Tool)
	for _, tool := range tools {
		category := getCategoryFromToolName(tool.Name)
		categories[category] = append(categories[category], tool)
	}
	return categories
}

func getCategoryFromToolName(name string) string {
	prefix, _, _ := strings.Cut(name, "_")
	switch prefix {
	case "readwise":
		return "Readwise Tools"
	default:
		return "Other"
	}
}

func generateToolMarkdown(tool mcp.Tool) string {
	var sb strings.Builder

	sb.WriteString(fmt.Sprintf("### %s\n\n", tool.Name))

	if tool.Description != "" {
		sb.WriteString(fmt.Sprintf("%s\n\n", tool.Description))
	}

	if len(tool.InputSchema.Properties) > 0 {
		sb.WriteString("**Arguments:**\n")
		writeProperties(&sb, tool.InputSchema.Properties, tool.InputSchema.Required, 0)
		sb.WriteString("\n")
	}

	return sb.String()
}

// writeProperties renders properties as a nested markdown list. Array
// properties whose items are objects list the item fields one level deeper.
func writeProperties(sb *strings.Builder, properties map[string]any, required []string, depth int) {
	propNames := make([]string, 0, len(properties))
	for name := range properties {
		propNames = append(propNames, name)
	}
	sort.Strings(propNames)

	indent := strings.Repeat("  ", depth)
	for _, name := range propNames {
		propMap, ok := properties[name].(map[string]any)
		if !ok {
			continue
		}

		requiredStr := "optional"
		if contains(required, name) {
			requiredStr = "required"
		}
		propType := getPropertyType(propMap)

		sb.WriteString(fmt.Sprintf("%s- `%s` (%s, %s): ", indent, name, propType, requiredStr))
		if desc, ok := propMap["description"].(string); ok {
			sb.WriteString(desc)
		} else {
			sb.WriteString(fmt.Sprintf("%s parameter", propType))
		}
		if def, ok := propMap["default"]; ok {
			sb.WriteString(fmt.Sprintf(" (default: `%v`)", def))
		}
		sb.WriteString("\n")

		if items, ok := propMap["items"].(map[string]any); ok {
			if nested, ok := items["properties"].(map[string]any); ok {
				writeProperties(sb, nested, stringSlice(items["required"]), depth+1)
			}
		}
	}
}

func getPropertyType(prop map[string]any) string {
	if t, ok := prop["type"].(string); ok {
		return t
	}
	return "any"
}

func stringSlice(v any) []string {
	switch s := v.(type) {
	case []string:
		return s
	case []any:
		out := make([]string, 0, len(s))
		for _, item := range s {
			if str, ok := item.(string); ok {
				out = append(out, str)
			}
		}
		return out
	default:
		return nil
	}
}

func contains(slice []string, item string) bool {
	for _, s := range slice {
		if s == item {
			return true
		}
	}
	return false
}
