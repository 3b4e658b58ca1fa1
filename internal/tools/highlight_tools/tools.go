package highlight_tools

import (
	"context"
	"fmt"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	mcpserver "github.com/mark3labs/mcp-go/server"

	"github.com/kevinhojae/savewise-mcp-server/internal/instrumentation"
	"github.com/kevinhojae/savewise-mcp-server/internal/logging"
	"github.com/kevinhojae/savewise-mcp-server/internal/readwise"
	"github.com/kevinhojae/savewise-mcp-server/internal/server"
	"github.com/kevinhojae/savewise-mcp-server/internal/tools/common"
)

const (
	// ServerName is the MCP implementation name announced to clients.
	ServerName = "savewise-mcp-server"

	// ToolSaveHighlights is the single tool this server exposes.
	ToolSaveHighlights = "readwise_save_highlights"

	// ParamHighlights is the tool's only top-level argument.
	ParamHighlights = "highlights"

	// TokenEnvVar names the setting that carries the Readwise token.
	TokenEnvVar = "READWISE_TOKEN"
)

// Result messages returned to the agent.
const (
	msgMissingToken = "Error: " + TokenEnvVar + " environment variable is not set"
	msgValidation   = "Validation error: %s"
	msgSaved        = "Successfully saved %d highlight(s) to Readwise."
	msgRemoteError  = "Readwise API error (%d): %s"
	msgSaveError    = "Error saving to Readwise: %s"
)

const toolDescription = `Save highlights extracted from a conversation or document to Readwise.

Each highlight should capture one self-contained idea. Good shapes are
"X is ... It exists to ... Use it when ... Watch out for ..." or
"How to X: 1) ... 2) ... 3) ...". Name concrete technologies and include
examples and context.`

// NewProtocolServer builds a fresh MCP server with the highlight tool
// registered. Every session gets its own instance.
func NewProtocolServer(sc *server.ServerContext) (*mcpserver.MCPServer, error) {
	s := mcpserver.NewMCPServer(ServerName, sc.Version(),
		mcpserver.WithToolCapabilities(false),
		mcpserver.WithRecovery(),
	)
	if err := RegisterHighlightTools(s, sc); err != nil {
		return nil, err
	}
	return s, nil
}

// RegisterHighlightTools registers readwise_save_highlights on s.
func RegisterHighlightTools(s *mcpserver.MCPServer, sc *server.ServerContext) error {
	if s == nil {
		return fmt.Errorf("mcp server is nil")
	}
	s.AddTool(saveHighlightsTool(), common.InstrumentedToolHandler(ToolSaveHighlights, sc, handleSaveHighlights(sc)))
	return nil
}

func saveHighlightsTool() mcp.Tool {
	return mcp.NewTool(ToolSaveHighlights,
		mcp.WithDescription(toolDescription),
		mcp.WithArray(ParamHighlights,
			mcp.Required(),
			mcp.MinItems(1),
			mcp.Description("Highlights to save"),
			mcp.Items(highlightSchema()),
		),
	)
}

func highlightSchema() map[string]any {
	str := func(description string) map[string]any {
		return map[string]any{"type": "string", "description": description}
	}
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"text":           str("Highlight body. One complete idea with its definition, purpose, when to use it and caveats."),
			"title":          str("Source title, e.g. 'Conversation - YYYY-MM-DD' or the topic name"),
			"author":         str("Author, may be omitted for conversations"),
			"source_url":     str("Source URL"),
			"source_type":    str("Source type such as article or book"),
			"category":       map[string]any{"type": "string", "description": "Category: books, articles, tweets, ...", "default": readwise.DefaultCategory},
			"note":           str("Extra note: context, how you plan to apply it, related projects"),
			"location":       map[string]any{"type": "number", "description": "Location within the source"},
			"location_type":  str("Location type such as page or order"),
			"highlighted_at": str("ISO 8601 timestamp"),
			"tags": map[string]any{
				"type":        "array",
				"description": "Tags",
				"items":       map[string]any{"type": "string"},
			},
		},
		"required": []string{"text", "title"},
	}
}

// handleSaveHighlights never returns a Go error: every outcome is a tool
// result so the transport always has something to send back.
func handleSaveHighlights(sc *server.ServerContext) mcpserver.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		invocation := common.InvocationFromContext(ctx)
		setKind := func(kind readwise.Kind) {
			if invocation != nil {
				invocation.ErrorKind = string(kind)
			}
		}

		token := sc.ReadwiseToken()
		if token == "" {
			setKind(readwise.KindConfig)
			return mcp.NewToolResultError(msgMissingToken), nil
		}

		highlights, err := ParseHighlights(request.GetRawArguments())
		if err != nil {
			setKind(readwise.KindValidation)
			return mcp.NewToolResultError(fmt.Sprintf(msgValidation, err.Error())), nil
		}
		if invocation != nil {
			invocation.HighlightCount = len(highlights)
		}

		// The write is not tied to the client connection: a disconnect leaves
		// the response unsent but the save still completes.
		callCtx, span := instrumentation.StartReadwiseSpan(context.WithoutCancel(ctx),
			instrumentation.ReadwiseOpCreateHighlights,
			instrumentation.NewSpanAttributeBuilder().WithHighlightCount(len(highlights)).Build()...)
		start := time.Now()
		responses, err := sc.Readwise().CreateHighlights(callCtx, token, highlights)
		duration := time.Since(start)

		if err != nil {
			rwErr, classified := readwise.AsError(err)
			kind := readwise.KindTransport
			if classified {
				kind = rwErr.Kind
			}
			setKind(kind)
			instrumentation.SetSpanError(span, err)
			span.End()
			sc.Metrics().RecordReadwiseOperation(ctx, instrumentation.ReadwiseOpCreateHighlights,
				instrumentation.StatusError, string(kind), duration)
			sc.Logger().Warn("failed to save highlights",
				logging.Tool(ToolSaveHighlights),
				logging.SessionID(common.SessionIDFromContext(ctx)),
				logging.Err(err))

			if classified && rwErr.IsRemote() {
				return mcp.NewToolResultError(fmt.Sprintf(msgRemoteError, rwErr.StatusCode, rwErr.Message)), nil
			}
			return mcp.NewToolResultError(fmt.Sprintf(msgSaveError, err.Error())), nil
		}

		saved := readwise.TotalSaved(responses)
		instrumentation.SetSpanSuccess(span)
		span.End()
		sc.Metrics().RecordReadwiseOperation(ctx, instrumentation.ReadwiseOpCreateHighlights,
			instrumentation.StatusSuccess, "", duration)
		sc.Metrics().RecordHighlightsSaved(ctx, saved)
		if invocation != nil {
			invocation.SavedCount = saved
		}

		return mcp.NewToolResultText(fmt.Sprintf(msgSaved, saved)), nil
	}
}
