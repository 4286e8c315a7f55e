package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"time"

	"github.com/nextlevelbuilder/golaw/engine"
	"github.com/nextlevelbuilder/golaw/internal/config"
	"github.com/nextlevelbuilder/golaw/pkg/errdefs"
	"github.com/nextlevelbuilder/golaw/pkg/protocol"
)

// engineMethods adapts the engine's operations to RPC handlers.
type engineMethods struct {
	eng *engine.Engine
	cfg *config.Config
}

func registerEngineMethods(router *MethodRouter, eng *engine.Engine, cfg *config.Config) {
	m := &engineMethods{eng: eng, cfg: cfg}

	router.Register(protocol.MethodSessionsCreate, m.handleSessionsCreate)
	router.Register(protocol.MethodSessionsList, m.handleSessionsList)
	router.Register(protocol.MethodSessionsGet, m.handleSessionsGet)
	router.Register(protocol.MethodSessionsRename, m.handleSessionsRename)
	router.Register(protocol.MethodSessionsDelete, m.handleSessionsDelete)

	router.Register(protocol.MethodMessagesCreate, m.handleMessagesCreate)
	router.Register(protocol.MethodMessagesList, m.handleMessagesList)
	router.Register(protocol.MethodMessagesSend, m.handleMessagesSend)
	router.Register(protocol.MethodAgentCancel, m.handleAgentCancel)

	router.Register(protocol.MethodToolsList, m.handleToolsList)
	router.Register(protocol.MethodToolsRespond, m.handleToolsRespond)
	router.Register(protocol.MethodToolsPermissionsGet, m.handleToolsPermissionsGet)
	router.Register(protocol.MethodToolsPermissionsSet, m.handleToolsPermissionsSet)

	router.Register(protocol.MethodKBSearch, m.handleKBSearch)
	router.Register(protocol.MethodKBRead, m.handleKBRead)
	router.Register(protocol.MethodKBInfo, m.handleKBInfo)

	router.Register(protocol.MethodReportGenerate, m.handleReportGenerate)
	router.Register(protocol.MethodReportRegenerate, m.handleReportRegenerate)
	router.Register(protocol.MethodReportExport, m.handleReportExport)

	router.Register(protocol.MethodModelGet, m.handleModelGet)
	router.Register(protocol.MethodModelUpdate, m.handleModelUpdate)
	router.Register(protocol.MethodModelTest, m.handleModelTest)
	router.Register(protocol.MethodModelPing, m.handleModelPing)

	router.Register(protocol.MethodLogsList, m.handleLogsList)
	router.Register(protocol.MethodHealth, m.handleHealthMethod)
}

// fail maps an engine error to a wire error with its errdefs kind.
func (m *engineMethods) fail(client *Client, req *protocol.Request, err error) {
	client.SendResponse(protocol.NewErrorResponse(req.ID, string(errdefs.KindOf(err)), err.Error()))
}

func (m *engineMethods) badParams(client *Client, req *protocol.Request, msg string) {
	client.SendResponse(protocol.NewErrorResponse(req.ID, string(errdefs.KindInvalidState), msg))
}

func decodeParams(req *protocol.Request, into any) error {
	if len(req.Params) == 0 {
		return nil
	}
	return json.Unmarshal(req.Params, into)
}

func (m *engineMethods) handleSessionsCreate(ctx context.Context, client *Client, req *protocol.Request) {
	var params struct {
		Scenario string `json:"scenario"`
		Title    string `json:"title"`
	}
	if err := decodeParams(req, &params); err != nil {
		m.badParams(client, req, "malformed params")
		return
	}

	sess, err := m.eng.CreateSession(ctx, params.Scenario, params.Title)
	if err != nil {
		m.fail(client, req, err)
		return
	}
	client.SendResponse(protocol.NewOKResponse(req.ID, sess))
}

func (m *engineMethods) handleSessionsList(ctx context.Context, client *Client, req *protocol.Request) {
	sessions, err := m.eng.ListSessions(ctx)
	if err != nil {
		m.fail(client, req, err)
		return
	}
	client.SendResponse(protocol.NewOKResponse(req.ID, map[string]any{"sessions": sessions}))
}

func (m *engineMethods) handleSessionsGet(ctx context.Context, client *Client, req *protocol.Request) {
	var params struct {
		ID string `json:"id"`
	}
	if err := decodeParams(req, &params); err != nil || params.ID == "" {
		m.badParams(client, req, "id is required")
		return
	}

	sess, err := m.eng.GetSession(ctx, params.ID)
	if err != nil {
		m.fail(client, req, err)
		return
	}
	client.SendResponse(protocol.NewOKResponse(req.ID, sess))
}

func (m *engineMethods) handleSessionsRename(ctx context.Context, client *Client, req *protocol.Request) {
	var params struct {
		ID    string `json:"id"`
		Title string `json:"title"`
	}
	if err := decodeParams(req, &params); err != nil || params.ID == "" {
		m.badParams(client, req, "id is required")
		return
	}

	if err := m.eng.UpdateSessionTitle(ctx, params.ID, params.Title); err != nil {
		m.fail(client, req, err)
		return
	}
	client.SendResponse(protocol.NewOKResponse(req.ID, struct{}{}))
}

func (m *engineMethods) handleSessionsDelete(ctx context.Context, client *Client, req *protocol.Request) {
	var params struct {
		ID string `json:"id"`
	}
	if err := decodeParams(req, &params); err != nil || params.ID == "" {
		m.badParams(client, req, "id is required")
		return
	}

	if err := m.eng.DeleteSession(ctx, params.ID); err != nil {
		m.fail(client, req, err)
		return
	}
	client.SendResponse(protocol.NewOKResponse(req.ID, struct{}{}))
}

func (m *engineMethods) handleMessagesCreate(ctx context.Context, client *Client, req *protocol.Request) {
	var params struct {
		SessionID string `json:"session_id"`
		Role      string `json:"role"`
		Content   string `json:"content"`
		Phase     string `json:"phase"`
		ToolCalls string `json:"tool_calls"`
	}
	if err := decodeParams(req, &params); err != nil || params.SessionID == "" || params.Role == "" {
		m.badParams(client, req, "session_id and role are required")
		return
	}

	msg, err := m.eng.CreateMessage(ctx, params.SessionID, params.Role, params.Content, params.Phase, params.ToolCalls)
	if err != nil {
		m.fail(client, req, err)
		return
	}
	client.SendResponse(protocol.NewOKResponse(req.ID, msg))
}

func (m *engineMethods) handleMessagesList(ctx context.Context, client *Client, req *protocol.Request) {
	var params struct {
		SessionID string `json:"session_id"`
	}
	if err := decodeParams(req, &params); err != nil || params.SessionID == "" {
		m.badParams(client, req, "session_id is required")
		return
	}

	msgs, err := m.eng.GetMessages(ctx, params.SessionID)
	if err != nil {
		m.fail(client, req, err)
		return
	}
	client.SendResponse(protocol.NewOKResponse(req.ID, map[string]any{"messages": msgs}))
}

func (m *engineMethods) handleMessagesSend(ctx context.Context, client *Client, req *protocol.Request) {
	var params struct {
		SessionID string `json:"session_id"`
		Content   string `json:"content"`
	}
	if err := decodeParams(req, &params); err != nil || params.SessionID == "" {
		m.badParams(client, req, "session_id is required")
		return
	}

	taskID, err := m.eng.SendMessage(ctx, params.SessionID, params.Content)
	if err != nil {
		m.fail(client, req, err)
		return
	}
	client.SendResponse(protocol.NewOKResponse(req.ID, map[string]any{"task_id": taskID}))
}

func (m *engineMethods) handleAgentCancel(ctx context.Context, client *Client, req *protocol.Request) {
	var params struct {
		TaskID string `json:"task_id"`
	}
	if err := decodeParams(req, &params); err != nil || params.TaskID == "" {
		m.badParams(client, req, "task_id is required")
		return
	}

	if err := m.eng.CancelAgentTask(params.TaskID); err != nil {
		m.fail(client, req, err)
		return
	}
	client.SendResponse(protocol.NewOKResponse(req.ID, struct{}{}))
}

func (m *engineMethods) handleToolsList(ctx context.Context, client *Client, req *protocol.Request) {
	type toolInfo struct {
		Name        string `json:"name"`
		Description string `json:"description"`
		Permission  string `json:"permission"`
	}

	all := m.eng.Tools().List()
	infos := make([]toolInfo, 0, len(all))
	for _, t := range all {
		perm, err := m.eng.GetToolPermission(ctx, t.Name())
		if err != nil {
			m.fail(client, req, err)
			return
		}
		infos = append(infos, toolInfo{Name: t.Name(), Description: t.Description(), Permission: perm})
	}
	client.SendResponse(protocol.NewOKResponse(req.ID, map[string]any{"tools": infos}))
}

func (m *engineMethods) handleToolsRespond(ctx context.Context, client *Client, req *protocol.Request) {
	var params struct {
		RequestID string `json:"request_id"`
		Action    string `json:"action"`
		Always    bool   `json:"always"`
	}
	if err := decodeParams(req, &params); err != nil || params.RequestID == "" {
		m.badParams(client, req, "request_id is required")
		return
	}

	action := protocol.ToolAction(params.Action)
	switch action {
	case protocol.ToolAllow, protocol.ToolAllowAllSession, protocol.ToolDeny:
	default:
		m.badParams(client, req, "action must be allow, allow_all_session or deny")
		return
	}

	err := m.eng.RespondToolCall(ctx, params.RequestID, protocol.ToolDecision{Action: action, Always: params.Always})
	if err != nil {
		m.fail(client, req, err)
		return
	}
	client.SendResponse(protocol.NewOKResponse(req.ID, struct{}{}))
}

func (m *engineMethods) handleToolsPermissionsGet(ctx context.Context, client *Client, req *protocol.Request) {
	perms, err := m.eng.ListToolPermissions(ctx)
	if err != nil {
		m.fail(client, req, err)
		return
	}
	client.SendResponse(protocol.NewOKResponse(req.ID, map[string]any{"permissions": perms}))
}

func (m *engineMethods) handleToolsPermissionsSet(ctx context.Context, client *Client, req *protocol.Request) {
	var params struct {
		ToolName   string `json:"tool_name"`
		Permission string `json:"permission"`
	}
	if err := decodeParams(req, &params); err != nil || params.ToolName == "" {
		m.badParams(client, req, "tool_name is required")
		return
	}
	switch params.Permission {
	case protocol.PermissionAllow, protocol.PermissionAsk, protocol.PermissionDeny:
	default:
		m.badParams(client, req, "permission must be allow, ask or deny")
		return
	}

	if err := m.eng.SetToolPermission(ctx, params.ToolName, params.Permission); err != nil {
		m.fail(client, req, err)
		return
	}
	client.SendResponse(protocol.NewOKResponse(req.ID, struct{}{}))
}

func (m *engineMethods) handleKBSearch(ctx context.Context, client *Client, req *protocol.Request) {
	var params struct {
		Query    string `json:"query"`
		Scenario string `json:"scenario"`
		TopK     int    `json:"top_k"`
	}
	if err := decodeParams(req, &params); err != nil || params.Query == "" {
		m.badParams(client, req, "query is required")
		return
	}
	if params.TopK <= 0 {
		params.TopK = 5
	}

	results, err := m.eng.SearchKnowledge(ctx, params.Query, params.Scenario, params.TopK)
	if err != nil {
		m.fail(client, req, err)
		return
	}
	client.SendResponse(protocol.NewOKResponse(req.ID, map[string]any{"results": results}))
}

func (m *engineMethods) handleKBRead(ctx context.Context, client *Client, req *protocol.Request) {
	var params struct {
		Path string `json:"path"`
	}
	if err := decodeParams(req, &params); err != nil || params.Path == "" {
		m.badParams(client, req, "path is required")
		return
	}

	content, err := m.eng.ReadKnowledgeFile(params.Path)
	if err != nil {
		m.fail(client, req, err)
		return
	}
	client.SendResponse(protocol.NewOKResponse(req.ID, map[string]any{"path": params.Path, "content": content}))
}

func (m *engineMethods) handleKBInfo(ctx context.Context, client *Client, req *protocol.Request) {
	info, err := m.eng.KnowledgeInfo()
	if err != nil {
		m.fail(client, req, err)
		return
	}
	client.SendResponse(protocol.NewOKResponse(req.ID, info))
}

func (m *engineMethods) handleReportGenerate(ctx context.Context, client *Client, req *protocol.Request) {
	var params struct {
		SessionID string `json:"session_id"`
	}
	if err := decodeParams(req, &params); err != nil || params.SessionID == "" {
		m.badParams(client, req, "session_id is required")
		return
	}

	report, err := m.eng.GenerateReport(ctx, params.SessionID)
	if err != nil {
		m.fail(client, req, err)
		return
	}
	client.SendResponse(protocol.NewOKResponse(req.ID, map[string]any{"report": report}))
}

func (m *engineMethods) handleReportRegenerate(ctx context.Context, client *Client, req *protocol.Request) {
	var params struct {
		SessionID string `json:"session_id"`
	}
	if err := decodeParams(req, &params); err != nil || params.SessionID == "" {
		m.badParams(client, req, "session_id is required")
		return
	}

	taskID, err := m.eng.RegenerateReport(ctx, params.SessionID)
	if err != nil {
		m.fail(client, req, err)
		return
	}
	client.SendResponse(protocol.NewOKResponse(req.ID, map[string]any{"task_id": taskID}))
}

func (m *engineMethods) handleReportExport(ctx context.Context, client *Client, req *protocol.Request) {
	var params struct {
		SessionID string `json:"session_id"`
		Path      string `json:"path"`
	}
	if err := decodeParams(req, &params); err != nil || params.SessionID == "" {
		m.badParams(client, req, "session_id is required")
		return
	}

	path := params.Path
	if path == "" {
		if m.cfg.Engine.ExportDir == "" {
			m.badParams(client, req, "path is required when no export_dir is configured")
			return
		}
		name := fmt.Sprintf("report-%s-%s.md", params.SessionID, time.Now().Format("20060102-150405"))
		path = filepath.Join(m.cfg.Engine.ExportDir, name)
	}

	if err := m.eng.ExportReportMarkdown(ctx, params.SessionID, path); err != nil {
		m.fail(client, req, err)
		return
	}
	client.SendResponse(protocol.NewOKResponse(req.ID, map[string]any{"path": path}))
}

// handleModelGet never returns the API key; connections only learn what
// model is active, not how to authenticate as it.
func (m *engineMethods) handleModelGet(ctx context.Context, client *Client, req *protocol.Request) {
	name, base, ok := m.eng.ModelInfo()
	client.SendResponse(protocol.NewOKResponse(req.ID, map[string]any{
		"configured": ok,
		"model_name": name,
		"base_url":   base,
	}))
}

func (m *engineMethods) handleModelUpdate(ctx context.Context, client *Client, req *protocol.Request) {
	cfg := protocol.DefaultModelConfig()
	if err := decodeParams(req, &cfg); err != nil {
		m.badParams(client, req, "malformed params")
		return
	}

	if err := m.eng.UpdateModelConfig(cfg); err != nil {
		m.fail(client, req, err)
		return
	}
	client.SendResponse(protocol.NewOKResponse(req.ID, struct{}{}))
}

func (m *engineMethods) handleModelTest(ctx context.Context, client *Client, req *protocol.Request) {
	if err := m.eng.TestModelConnection(ctx); err != nil {
		m.fail(client, req, err)
		return
	}
	client.SendResponse(protocol.NewOKResponse(req.ID, struct{}{}))
}

func (m *engineMethods) handleModelPing(ctx context.Context, client *Client, req *protocol.Request) {
	var params struct {
		Prompt string `json:"prompt"`
	}
	if err := decodeParams(req, &params); err != nil {
		m.badParams(client, req, "malformed params")
		return
	}
	if params.Prompt == "" {
		params.Prompt = "你好"
	}

	reply, err := m.eng.PingModel(ctx, params.Prompt)
	if err != nil {
		m.fail(client, req, err)
		return
	}
	client.SendResponse(protocol.NewOKResponse(req.ID, map[string]any{"reply": reply}))
}

func (m *engineMethods) handleLogsList(ctx context.Context, client *Client, req *protocol.Request) {
	var params struct {
		Limit int `json:"limit"`
	}
	if err := decodeParams(req, &params); err != nil {
		m.badParams(client, req, "malformed params")
		return
	}
	if params.Limit <= 0 {
		params.Limit = 100
	}

	logs, err := m.eng.ListLogs(ctx, params.Limit)
	if err != nil {
		m.fail(client, req, err)
		return
	}
	client.SendResponse(protocol.NewOKResponse(req.ID, map[string]any{"logs": logs}))
}

func (m *engineMethods) handleHealthMethod(ctx context.Context, client *Client, req *protocol.Request) {
	client.SendResponse(protocol.NewOKResponse(req.ID, map[string]any{
		"status":   "ok",
		"protocol": protocol.ProtocolVersion,
		"info":     m.eng.Info(),
	}))
}
