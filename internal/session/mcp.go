package session

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/dgallion1/pageedit/internal/extract"
)

// RegisterMCP registers the roundtrip tools on an MCP server. Failed
// operations are returned as structured results (success=false plus an error
// kind), not as tool errors, so the calling agent can inspect them.
func (c *Controller) RegisterMCP(srv *mcp.Server) {
	c.registerBeginTool(srv)
	c.registerChooseModeTool(srv)
	c.registerCompleteTool(srv)
	c.registerListBackupsTool(srv)
	c.registerRollbackTool(srv)
}

func inputSchema(properties map[string]any, required []string) map[string]any {
	s := map[string]any{
		"type":       "object",
		"properties": properties,
	}
	if len(required) > 0 {
		s["required"] = required
	}
	return s
}

func addResultTool(srv *mcp.Server, tool *mcp.Tool, run func(ctx context.Context, args json.RawMessage) (*Result, error)) {
	srv.AddTool(tool, func(ctx context.Context, req *mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		result, err := run(ctx, req.Params.Arguments)
		if err != nil {
			var res mcp.CallToolResult
			res.SetError(fmt.Errorf("invalid arguments: %w", err))
			return &res, nil
		}
		data, err := json.Marshal(result)
		if err != nil {
			var res mcp.CallToolResult
			res.SetError(fmt.Errorf("marshal: %w", err))
			return &res, nil
		}
		return &mcp.CallToolResult{
			Content: []mcp.Content{&mcp.TextContent{Text: string(data)}},
		}, nil
	})
}

// --- begin ---

type beginReq struct {
	DocumentID string `json:"document_id"`
}

func (c *Controller) registerBeginTool(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name:        "pageedit_begin",
		Description: "Start an edit session: fetch a document, validate it, and report opaque regions that need a handling decision.",
		InputSchema: inputSchema(map[string]any{
			"document_id": map[string]any{"type": "string", "description": "ID of the document to edit"},
		}, []string{"document_id"}),
	}
	addResultTool(srv, tool, func(ctx context.Context, args json.RawMessage) (*Result, error) {
		var r beginReq
		if err := json.Unmarshal(args, &r); err != nil {
			return nil, err
		}
		return c.Begin(ctx, r.DocumentID), nil
	})
}

// --- choose_mode ---

type chooseModeReq struct {
	SessionID string `json:"session_id"`
	Mode      string `json:"mode"`
}

func (c *Controller) registerChooseModeTool(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name:        "pageedit_choose_mode",
		Description: "Choose how opaque regions are handled (skip_opaque or include_opaque) and get the document's flattened text for editing.",
		InputSchema: inputSchema(map[string]any{
			"session_id": map[string]any{"type": "string", "description": "Session ID from pageedit_begin"},
			"mode":       map[string]any{"type": "string", "enum": []string{"skip_opaque", "include_opaque"}},
		}, []string{"session_id", "mode"}),
	}
	addResultTool(srv, tool, func(ctx context.Context, args json.RawMessage) (*Result, error) {
		var r chooseModeReq
		if err := json.Unmarshal(args, &r); err != nil {
			return nil, err
		}
		return c.ChooseMode(ctx, r.SessionID, extract.Mode(r.Mode)), nil
	})
}

// --- complete ---

type completeReq struct {
	SessionID  string `json:"session_id"`
	EditedText string `json:"edited_text"`
}

func (c *Controller) registerCompleteTool(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name:        "pageedit_complete",
		Description: "Reconcile edited text into the document tree, back up the original, and write the result back to the page store.",
		InputSchema: inputSchema(map[string]any{
			"session_id":  map[string]any{"type": "string", "description": "Session ID from pageedit_begin"},
			"edited_text": map[string]any{"type": "string", "description": "The edited flat text"},
		}, []string{"session_id", "edited_text"}),
	}
	addResultTool(srv, tool, func(ctx context.Context, args json.RawMessage) (*Result, error) {
		var r completeReq
		if err := json.Unmarshal(args, &r); err != nil {
			return nil, err
		}
		return c.Complete(ctx, r.SessionID, r.EditedText), nil
	})
}

// --- list_backups ---

type listBackupsReq struct {
	DocumentID string `json:"document_id"`
}

func (c *Controller) registerListBackupsTool(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name:        "pageedit_list_backups",
		Description: "List stored backup snapshots for a document, newest first.",
		InputSchema: inputSchema(map[string]any{
			"document_id": map[string]any{"type": "string", "description": "Document ID"},
		}, []string{"document_id"}),
	}
	addResultTool(srv, tool, func(_ context.Context, args json.RawMessage) (*Result, error) {
		var r listBackupsReq
		if err := json.Unmarshal(args, &r); err != nil {
			return nil, err
		}
		return c.ListBackups(r.DocumentID), nil
	})
}

// --- rollback ---

type rollbackReq struct {
	DocumentID string `json:"document_id"`
	Backup     string `json:"backup,omitempty"`
}

func (c *Controller) registerRollbackTool(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name:        "pageedit_rollback",
		Description: "Restore a document from a backup snapshot. Omit backup to restore the most recent one.",
		InputSchema: inputSchema(map[string]any{
			"document_id": map[string]any{"type": "string", "description": "Document ID"},
			"backup":      map[string]any{"type": "string", "description": "Backup handle; most recent when omitted"},
		}, []string{"document_id"}),
	}
	addResultTool(srv, tool, func(ctx context.Context, args json.RawMessage) (*Result, error) {
		var r rollbackReq
		if err := json.Unmarshal(args, &r); err != nil {
			return nil, err
		}
		return c.Rollback(ctx, r.DocumentID, r.Backup), nil
	})
}
