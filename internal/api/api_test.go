package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/juliahq/followpipe/internal/models"
	"github.com/juliahq/followpipe/internal/store"
)

func newTestServer() (*Server, *store.InMemoryStore) {
	st := store.NewInMemoryStore()
	return NewServer(st), st
}

func validConfigBody() []byte {
	return []byte(`{
		"client_id": "client-1",
		"agent_id": "agent-1",
		"active": true,
		"auto_message": false,
		"start_hours": "08:00:00",
		"end_hours": "20:00:00",
		"trigger_delay_minutes": 30,
		"steps": [
			{"title": "Checking in", "interval_value": 1, "interval_unit": "hours", "message": "Hi, just checking in with you!"}
		]
	}`)
}

func TestConfigsHandler_SaveAndFetch(t *testing.T) {
	srv, _ := newTestServer()
	handler := srv.Handler()

	req := httptest.NewRequest(http.MethodPost, "/followup/configs", bytes.NewReader(validConfigBody()))
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}

	var resp models.APIResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if resp.Status != string(models.APIStatusOK) {
		t.Errorf("expected ok status, got %q", resp.Status)
	}

	req = httptest.NewRequest(http.MethodGet, "/followup/configs?client_id=client-1&agent_id=agent-1", nil)
	rr = httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200 on fetch, got %d: %s", rr.Code, rr.Body.String())
	}

	var fetched struct {
		Status string                 `json:"status"`
		Result models.FollowupConfig `json:"result"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &fetched); err != nil {
		t.Fatalf("failed to decode fetch response: %v", err)
	}
	if fetched.Result.ID == "" {
		t.Error("expected saved config to have an assigned ID")
	}
	if len(fetched.Result.Steps) != 1 || fetched.Result.Steps[0].StepOrder != 1 {
		t.Errorf("expected one step with order 1, got %+v", fetched.Result.Steps)
	}
}

func TestConfigsHandler_ValidationRejected(t *testing.T) {
	srv, _ := newTestServer()
	handler := srv.Handler()

	// Step message below the minimum length for a non-auto-message config.
	body := []byte(`{
		"client_id": "client-1",
		"agent_id": "agent-1",
		"active": true,
		"auto_message": false,
		"start_hours": "08:00:00",
		"end_hours": "20:00:00",
		"steps": [
			{"title": "Checking in", "interval_value": 1, "interval_unit": "hours", "message": "short"}
		]
	}`)
	req := httptest.NewRequest(http.MethodPost, "/followup/configs", bytes.NewReader(body))
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d: %s", rr.Code, rr.Body.String())
	}

	var resp models.APIResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if resp.Status != string(models.APIStatusError) {
		t.Errorf("expected error status, got %q", resp.Status)
	}
	if resp.Message != models.ErrStepMessageTooShort.Error() {
		t.Errorf("expected message %q, got %q", models.ErrStepMessageTooShort.Error(), resp.Message)
	}
}

func TestConfigsHandler_InvalidJSON(t *testing.T) {
	srv, _ := newTestServer()
	req := httptest.NewRequest(http.MethodPost, "/followup/configs", bytes.NewReader([]byte(`{not json`)))
	rr := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rr, req)
	if rr.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", rr.Code)
	}
}

func TestConfigsHandler_FetchMissing(t *testing.T) {
	srv, _ := newTestServer()
	req := httptest.NewRequest(http.MethodGet, "/followup/configs?client_id=nope&agent_id=nope", nil)
	rr := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rr, req)
	if rr.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", rr.Code)
	}
}

func TestConfigByIDHandler_Delete(t *testing.T) {
	srv, st := newTestServer()
	handler := srv.Handler()

	req := httptest.NewRequest(http.MethodPost, "/followup/configs", bytes.NewReader(validConfigBody()))
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("failed to seed config: %d", rr.Code)
	}

	cfg, err := st.GetFollowupConfig("client-1", "agent-1")
	if err != nil || cfg == nil {
		t.Fatalf("expected seeded config, got %v, %v", cfg, err)
	}

	req = httptest.NewRequest(http.MethodDelete, "/followup/configs/"+cfg.ID, nil)
	rr = httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}

	cfg, err = st.GetFollowupConfig("client-1", "agent-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg != nil {
		t.Error("expected config to be deleted")
	}
}

func TestCleanupHandler(t *testing.T) {
	srv, st := newTestServer()
	now := time.Now().UTC()

	// One expired pending row and one still-waiting row.
	if err := st.CreatePreFollowup(models.PreFollowup{
		ID:             "pf-expired",
		ConversationID: "conv-1",
		ClientID:       "client-1",
		AgentID:        "agent-1",
		RemoteJID:      "5511999990000@s.whatsapp.net",
		Status:         models.PreFollowupStatusPending,
		CreatedAt:      now.Add(-48 * time.Hour),
		ExpiresAt:      now.Add(-24 * time.Hour),
	}); err != nil {
		t.Fatalf("failed to seed pre-followup: %v", err)
	}
	if err := st.CreatePreFollowup(models.PreFollowup{
		ID:             "pf-waiting",
		ConversationID: "conv-2",
		ClientID:       "client-1",
		AgentID:        "agent-1",
		RemoteJID:      "5511999990001@s.whatsapp.net",
		Status:         models.PreFollowupStatusPending,
		CreatedAt:      now,
		ExpiresAt:      now.Add(24 * time.Hour),
	}); err != nil {
		t.Fatalf("failed to seed pre-followup: %v", err)
	}

	req := httptest.NewRequest(http.MethodPost, "/followup/cleanup", nil)
	rr := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rr, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}

	var resp cleanupResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if !resp.Success {
		t.Error("expected success=true")
	}
	if resp.Expired != 1 {
		t.Errorf("expected 1 expired, got %d", resp.Expired)
	}
	if resp.CurrentStats[models.PreFollowupStatusPending] != 1 {
		t.Errorf("expected 1 remaining pending, got %d", resp.CurrentStats[models.PreFollowupStatusPending])
	}
}

func TestPromoteHandler_MethodNotAllowed(t *testing.T) {
	srv, _ := newTestServer()
	req := httptest.NewRequest(http.MethodGet, "/followup/promote", nil)
	rr := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rr, req)
	if rr.Code != http.StatusMethodNotAllowed {
		t.Errorf("expected 405, got %d", rr.Code)
	}
	if allow := rr.Header().Get("Allow"); allow != http.MethodPost {
		t.Errorf("expected Allow header %q, got %q", http.MethodPost, allow)
	}
}

func TestAgentsHandler_Pause(t *testing.T) {
	srv, st := newTestServer()
	now := time.Now().UTC()

	if err := st.SaveAgent(models.Agent{ID: "agent-1", ClientID: "client-1", Name: "Julia", CreatedAt: now, UpdatedAt: now}); err != nil {
		t.Fatalf("failed to seed agent: %v", err)
	}
	if err := st.SaveConversation(models.Conversation{ID: "conv-1", ClientID: "client-1", AgentID: "agent-1", RemoteJID: "5511999990000@s.whatsapp.net"}); err != nil {
		t.Fatalf("failed to seed conversation: %v", err)
	}
	if err := st.CreateFollowupExecution(models.FollowupExecution{
		ID:             "exec-1",
		ConversationID: "conv-1",
		ConfigID:       "cfg-1",
		StepOrder:      1,
		StepTitle:      "Checking in",
		ScheduledAt:    now.Add(time.Hour),
		Status:         models.ExecutionStatusScheduled,
		CreatedAt:      now,
		UpdatedAt:      now,
	}); err != nil {
		t.Fatalf("failed to seed execution: %v", err)
	}

	req := httptest.NewRequest(http.MethodPost, "/agents/agent-1/pause", bytes.NewReader([]byte(`{"paused": true}`)))
	rr := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rr, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}

	var resp struct {
		Status string             `json:"status"`
		Result models.PauseResult `json:"result"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if !resp.Result.Paused {
		t.Error("expected paused=true in result")
	}
	if resp.Result.Cancelled != 1 {
		t.Errorf("expected 1 cancelled execution, got %d", resp.Result.Cancelled)
	}

	agent, err := st.GetAgent("agent-1")
	if err != nil || agent == nil {
		t.Fatalf("expected agent, got %v, %v", agent, err)
	}
	if !agent.Paused {
		t.Error("expected agent to be marked paused")
	}
}

func TestAgentsHandler_UnknownAgent(t *testing.T) {
	srv, _ := newTestServer()
	req := httptest.NewRequest(http.MethodPost, "/agents/ghost/pause", bytes.NewReader([]byte(`{"paused": true}`)))
	rr := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rr, req)
	if rr.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", rr.Code)
	}
}

func TestAgentsHandler_BadPath(t *testing.T) {
	srv, _ := newTestServer()
	req := httptest.NewRequest(http.MethodPost, "/agents/agent-1/resume", nil)
	rr := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rr, req)
	if rr.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", rr.Code)
	}
}

func TestHistoryHandler(t *testing.T) {
	srv, st := newTestServer()
	now := time.Now().UTC()

	if err := st.AppendHistory(models.FollowupHistory{
		ID:             "hist-1",
		ConversationID: "conv-1",
		EventType:      models.HistoryEventMessageSent,
		Metadata:       map[string]interface{}{"step_order": 1},
		CreatedAt:      now,
	}); err != nil {
		t.Fatalf("failed to seed history: %v", err)
	}

	req := httptest.NewRequest(http.MethodGet, "/followup/history?conversation_id=conv-1", nil)
	rr := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rr, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}

	var resp struct {
		Status string                   `json:"status"`
		Result []models.FollowupHistory `json:"result"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if len(resp.Result) != 1 || resp.Result[0].EventType != models.HistoryEventMessageSent {
		t.Errorf("unexpected history payload: %+v", resp.Result)
	}
}

func TestHistoryHandler_MissingConversationID(t *testing.T) {
	srv, _ := newTestServer()
	req := httptest.NewRequest(http.MethodGet, "/followup/history", nil)
	rr := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rr, req)
	if rr.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", rr.Code)
	}
}

func TestExecutionsHandler(t *testing.T) {
	srv, st := newTestServer()
	now := time.Now().UTC()

	if err := st.CreateFollowupExecution(models.FollowupExecution{
		ID:             "exec-1",
		ConversationID: "conv-1",
		ConfigID:       "cfg-1",
		StepOrder:      1,
		StepTitle:      "Checking in",
		ScheduledAt:    now,
		Status:         models.ExecutionStatusScheduled,
		CreatedAt:      now,
		UpdatedAt:      now,
	}); err != nil {
		t.Fatalf("failed to seed execution: %v", err)
	}

	req := httptest.NewRequest(http.MethodGet, "/followup/executions?conversation_id=conv-1", nil)
	rr := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rr, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}

	var resp struct {
		Status string                     `json:"status"`
		Result []models.FollowupExecution `json:"result"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if len(resp.Result) != 1 || resp.Result[0].ID != "exec-1" {
		t.Errorf("unexpected executions payload: %+v", resp.Result)
	}
}

func TestHealthHandler(t *testing.T) {
	srv, _ := newTestServer()
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rr := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rr, req)
	if rr.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", rr.Code)
	}
}
