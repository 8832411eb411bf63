package integration

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/smallnest/tracker/tracker"
)

// TestGatewayWebSocketConnection tests WebSocket connection establishment
func TestGatewayWebSocketConnection(t *testing.T) {
	server, _, cleanup := SetupTestGateway(t)
	defer cleanup()

	conn, _, err := websocket.DefaultDialer.Dial(fmt.Sprintf("ws://%s/ws", server.Addr()), nil)
	if err != nil {
		t.Fatalf("Failed to connect to WebSocket: %v", err)
	}
	defer conn.Close()

	var msg map[string]interface{}
	if err := conn.ReadJSON(&msg); err != nil {
		t.Fatalf("Failed to read welcome message: %v", err)
	}
	if msg["method"] != "connected" {
		t.Errorf("Expected 'connected' method, got: %v", msg["method"])
	}

	WaitForCondition(t, 2*time.Second, func() bool { return server.ConnectionCount() == 1 })

	conn.Close()
	WaitForCondition(t, 2*time.Second, func() bool { return server.ConnectionCount() == 0 })
}

// TestGatewayRPCMethods drives a full task lifecycle over JSON-RPC
func TestGatewayRPCMethods(t *testing.T) {
	server, svc, cleanup := SetupTestGateway(t)
	defer cleanup()

	conn, _, err := websocket.DefaultDialer.Dial(fmt.Sprintf("ws://%s/ws", server.Addr()), nil)
	if err != nil {
		t.Fatalf("Failed to connect to WebSocket: %v", err)
	}
	defer conn.Close()

	var welcome map[string]interface{}
	if err := conn.ReadJSON(&welcome); err != nil {
		t.Fatalf("Failed to read welcome message: %v", err)
	}

	rpc := func(id, method, params string) map[string]interface{} {
		t.Helper()
		req := fmt.Sprintf(`{"jsonrpc":"2.0","id":%q,"method":%q,"params":%s}`, id, method, params)
		if err := conn.WriteMessage(websocket.TextMessage, []byte(req)); err != nil {
			t.Fatalf("Failed to write %s: %v", method, err)
		}
		var resp map[string]interface{}
		if err := conn.ReadJSON(&resp); err != nil {
			t.Fatalf("Failed to read %s response: %v", method, err)
		}
		if resp["id"] != id {
			t.Fatalf("%s response id = %v, want %s", method, resp["id"], id)
		}
		return resp
	}

	resp := rpc("1", "tasks.create", `{"title":"wire gateway","priority":"high","assignee":"ops"}`)
	if resp["error"] != nil {
		t.Fatalf("tasks.create error = %v", resp["error"])
	}
	created := resp["result"].(map[string]interface{})
	taskID := int64(created["id"].(float64))

	resp = rpc("2", "reports.submit", fmt.Sprintf(`{"task_id":%d,"summary":"no proof"}`, taskID))
	rpcErr, ok := resp["error"].(map[string]interface{})
	if !ok {
		t.Fatalf("reports.submit without evidence should fail, got %v", resp)
	}
	if rpcErr["data"] != string(tracker.KindInsufficientEvidence) {
		t.Errorf("error data = %v, want %s", rpcErr["data"], tracker.KindInsufficientEvidence)
	}

	resp = rpc("3", "reports.submit", fmt.Sprintf(`{"task_id":%d,"summary":"done","evidence_links":["https://ci/run/1"]}`, taskID))
	if resp["error"] != nil {
		t.Fatalf("reports.submit error = %v", resp["error"])
	}

	task, err := svc.GetTask(t.Context(), taskID)
	if err != nil {
		t.Fatalf("GetTask() error = %v", err)
	}
	if task.Status != tracker.StatusReview {
		t.Errorf("status = %s, want %s", task.Status, tracker.StatusReview)
	}

	resp = rpc("4", "tasks.summary", `{}`)
	summary := resp["result"].(map[string]interface{})
	if summary[string(tracker.StatusReview)] != float64(1) {
		t.Errorf("summary = %v, want one task in review", summary)
	}
}

// TestGatewayRESTUploadAndServe uploads over HTTP and downloads through the public URL
func TestGatewayRESTUploadAndServe(t *testing.T) {
	server, _, cleanup := SetupTestGateway(t)
	defer cleanup()

	base := "http://" + server.Addr()

	resp, err := http.Post(base+"/api/tasks", "application/json", strings.NewReader(`{"title":"ship artifacts"}`))
	if err != nil {
		t.Fatalf("POST /api/tasks error = %v", err)
	}
	var task tracker.Task
	if err := json.NewDecoder(resp.Body).Decode(&task); err != nil {
		t.Fatalf("decode task error = %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("POST /api/tasks status = %d, want %d", resp.StatusCode, http.StatusCreated)
	}

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	part, err := mw.CreateFormFile("file", "build log.txt")
	if err != nil {
		t.Fatalf("CreateFormFile() error = %v", err)
	}
	_, _ = part.Write([]byte("all green"))
	_ = mw.Close()

	resp, err = http.Post(fmt.Sprintf("%s/api/tasks/%d/attachments", base, task.ID), mw.FormDataContentType(), &body)
	if err != nil {
		t.Fatalf("upload error = %v", err)
	}
	var att tracker.Attachment
	if err := json.NewDecoder(resp.Body).Decode(&att); err != nil {
		t.Fatalf("decode attachment error = %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("upload status = %d, want %d", resp.StatusCode, http.StatusCreated)
	}

	resp, err = http.Get(base + att.Path)
	if err != nil {
		t.Fatalf("GET %s error = %v", att.Path, err)
	}
	data, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK || string(data) != "all green" {
		t.Errorf("GET %s = %d %q, want 200 %q", att.Path, resp.StatusCode, data, "all green")
	}
}

// TestGatewayStopIsIdempotent checks the lifecycle flags around Stop
func TestGatewayStopIsIdempotent(t *testing.T) {
	server, _, cleanup := SetupTestGateway(t)
	defer cleanup()

	if !server.IsRunning() {
		t.Fatal("server should be running after Start")
	}
	if err := server.Stop(); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}
	if server.IsRunning() {
		t.Error("server should not be running after Stop")
	}
	if err := server.Stop(); err != nil {
		t.Errorf("second Stop() error = %v", err)
	}
}
