// Package actions exposes the browser automation tools over MCP. The
// tools are deliberately thin: each fetches the session the dispatcher
// resolved for the request and delegates to its browser resource,
// relaying resource errors to the caller unchanged.
package actions

import (
	"context"
	"encoding/json"
	"fmt"
	"slices"
	"strings"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/surfboard-io/surfboard/pkg/session"
)

// Tool names registered with the MCP server.
const (
	navigateToolName   = "browser_navigate"
	extractToolName    = "browser_extract"
	screenshotToolName = "browser_screenshot"
)

// waitUntilValues are the navigation readiness states browser_navigate
// accepts; empty input means "load".
var waitUntilValues = []string{"load", "domcontentloaded", "networkidle"}

// navigateInput defines the input schema for browser_navigate.
type navigateInput struct {
	URL       string `json:"url"`
	WaitUntil string `json:"wait_until,omitempty"`
}

// navigateOutput is the browser_navigate success response.
type navigateOutput struct {
	URL string `json:"url"`
}

// extractInput defines the input schema for browser_extract.
type extractInput struct {
	Selector string `json:"selector,omitempty"`
}

// extractOutput is the browser_extract success response.
type extractOutput struct {
	Text string `json:"text"`
}

// screenshotInput defines the input schema for browser_screenshot.
type screenshotInput struct {
	FullPage bool `json:"full_page,omitempty"`
}

// Register adds the browser automation tools to the MCP server. Handlers
// read the request's session from the context, so the server must be
// reached through the dispatcher for the tools to work.
func Register(s *mcp.Server) {
	mcp.AddTool(s, &mcp.Tool{
		Name: navigateToolName,
		Description: "Navigate the session's browser to a URL and wait for the page to be ready. " +
			"Returns the final URL after redirects.",
	}, handleNavigate)

	mcp.AddTool(s, &mcp.Tool{
		Name: extractToolName,
		Description: "Extract the text content of the first element matching a CSS selector, " +
			"or of the whole page body when no selector is given.",
	}, handleExtract)

	mcp.AddTool(s, &mcp.Tool{
		Name: screenshotToolName,
		Description: "Capture the current page as a PNG image. Set full_page to capture the " +
			"entire scrollable page instead of just the viewport.",
	}, handleScreenshot)
}

// handleNavigate handles the browser_navigate tool call.
func handleNavigate(ctx context.Context, _ *mcp.CallToolRequest, input navigateInput) (*mcp.CallToolResult, any, error) {
	sess := session.GetSession(ctx)
	if sess == nil {
		return errorResult(noSessionMessage), nil, nil
	}
	if input.URL == "" {
		return errorResult("url is required"), nil, nil
	}
	if input.WaitUntil != "" && !slices.Contains(waitUntilValues, input.WaitUntil) {
		return errorResult(fmt.Sprintf("wait_until must be one of %s", strings.Join(waitUntilValues, ", "))), nil, nil
	}

	finalURL, err := sess.Resource.Navigate(ctx, input.URL, input.WaitUntil)
	if err != nil {
		return errorResult(err.Error()), nil, nil //nolint:nilerr // MCP protocol: tool errors are returned in CallToolResult.IsError
	}
	return jsonResult(navigateOutput{URL: finalURL})
}

// handleExtract handles the browser_extract tool call.
func handleExtract(ctx context.Context, _ *mcp.CallToolRequest, input extractInput) (*mcp.CallToolResult, any, error) {
	sess := session.GetSession(ctx)
	if sess == nil {
		return errorResult(noSessionMessage), nil, nil
	}

	text, err := sess.Resource.Extract(ctx, input.Selector)
	if err != nil {
		return errorResult(err.Error()), nil, nil //nolint:nilerr // MCP protocol: tool errors are returned in CallToolResult.IsError
	}
	return jsonResult(extractOutput{Text: text})
}

// handleScreenshot handles the browser_screenshot tool call.
func handleScreenshot(ctx context.Context, _ *mcp.CallToolRequest, input screenshotInput) (*mcp.CallToolResult, any, error) {
	sess := session.GetSession(ctx)
	if sess == nil {
		return errorResult(noSessionMessage), nil, nil
	}

	png, err := sess.Resource.Screenshot(ctx, input.FullPage)
	if err != nil {
		return errorResult(err.Error()), nil, nil //nolint:nilerr // MCP protocol: tool errors are returned in CallToolResult.IsError
	}
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			&mcp.ImageContent{Data: png, MIMEType: "image/png"},
		},
	}, nil, nil
}

// noSessionMessage is returned when a tool is invoked outside the
// dispatcher's request path.
const noSessionMessage = "no browser session is bound to this request"

// errorResult creates an error CallToolResult.
func errorResult(msg string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			&mcp.TextContent{Text: fmt.Sprintf(`{"error": %q}`, msg)},
		},
		IsError: true,
	}
}

// jsonResult creates a success CallToolResult with a JSON text body.
func jsonResult(v any) (*mcp.CallToolResult, any, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return errorResult("internal error marshaling response"), nil, nil //nolint:nilerr // MCP protocol: tool errors are returned in CallToolResult.IsError
	}
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			&mcp.TextContent{Text: string(data)},
		},
	}, nil, nil
}
