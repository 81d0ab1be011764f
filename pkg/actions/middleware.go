package actions

import (
	"context"
	"log/slog"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/surfboard-io/surfboard/pkg/audit"
	"github.com/surfboard-io/surfboard/pkg/auth"
	"github.com/surfboard-io/surfboard/pkg/session"
)

// AuditMiddleware returns MCP protocol middleware that records one audit
// event per tools/call request: the tool name, the session and identity
// the dispatcher resolved, the call duration, and the failure detail when
// the call did not succeed. Recording failures never fail the call.
func AuditMiddleware(recorder audit.Recorder, logger *slog.Logger) mcp.Middleware {
	if logger == nil {
		logger = slog.Default()
	}
	return func(next mcp.MethodHandler) mcp.MethodHandler {
		return func(ctx context.Context, method string, req mcp.Request) (mcp.Result, error) {
			if method != "tools/call" {
				return next(ctx, method, req)
			}
			name := callToolName(req)
			if name == "" {
				return next(ctx, method, req)
			}

			start := time.Now()
			result, err := next(ctx, method, req)

			event := audit.NewEvent(audit.ActionToolCalled).
				WithTool(name).
				WithDuration(time.Since(start))
			if sess := session.GetSession(ctx); sess != nil {
				event.WithSession(sess.ID)
			}
			if identity := auth.GetIdentity(ctx); identity != nil {
				event.WithIdentity(identity.Subject)
			}
			if detail := failureDetail(result, err); detail != "" {
				event.WithDetail(detail)
			}
			if recorder != nil {
				if recordErr := recorder.Record(ctx, *event); recordErr != nil {
					logger.Debug("actions: audit record failed", "error", recordErr)
				}
			}
			return result, err
		}
	}
}

// callToolName extracts the tool name from a tools/call request. It
// returns "" when the params are absent or not tool-call params.
func callToolName(req mcp.Request) string {
	if req == nil {
		return ""
	}
	params, ok := req.GetParams().(*mcp.CallToolParamsRaw)
	if !ok || params == nil {
		return ""
	}
	return params.Name
}

// failureDetail reports why a tool call failed: the handler error when
// one was returned, otherwise the first text block of an IsError result.
func failureDetail(result mcp.Result, err error) string {
	if err != nil {
		return err.Error()
	}
	callResult, ok := result.(*mcp.CallToolResult)
	if !ok || callResult == nil || !callResult.IsError {
		return ""
	}
	for _, content := range callResult.Content {
		if text, ok := content.(*mcp.TextContent); ok {
			return text.Text
		}
	}
	return ""
}
