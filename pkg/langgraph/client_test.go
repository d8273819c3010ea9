package langgraph

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestClientInfoSendsAPIKey(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/info" {
			t.Errorf("expected path /info, got %q", r.URL.Path)
		}
		if r.Header.Get("X-Api-Key") != "secret" {
			t.Errorf("expected X-Api-Key header, got %q", r.Header.Get("X-Api-Key"))
		}
		w.Write([]byte(`{"version":"0.2"}`))
	}))
	defer server.Close()

	client := New(&Config{BaseURL: server.URL + "/", APIKey: "secret"})
	if err := client.Info(context.Background()); err != nil {
		t.Fatal(err)
	}
}

func TestClientOmitsAPIKeyWhenEmpty(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, ok := r.Header["X-Api-Key"]; ok {
			t.Error("X-Api-Key header should not be sent without an API key")
		}
	}))
	defer server.Close()

	if err := New(&Config{BaseURL: server.URL}).Info(context.Background()); err != nil {
		t.Fatal(err)
	}
}

func TestClientStatusError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		w.Write([]byte(`{"detail":"assistant not found"}`))
	}))
	defer server.Close()

	_, err := New(&Config{BaseURL: server.URL}).CreateThread(context.Background(), CreateThreadRequest{AssistantID: "agent"})
	if err == nil {
		t.Fatal("expected error for 404 response")
	}
	var serr *StatusError
	if !errors.As(err, &serr) {
		t.Fatalf("expected *StatusError, got %T", err)
	}
	if serr.StatusCode != http.StatusNotFound {
		t.Errorf("expected status 404, got %d", serr.StatusCode)
	}
	if !strings.Contains(serr.Body, "assistant not found") {
		t.Errorf("expected body in error, got %q", serr.Body)
	}
}

func TestClientTransportError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := server.URL
	server.Close()

	if err := New(&Config{BaseURL: url}).Info(context.Background()); err == nil {
		t.Fatal("expected error from closed server")
	}
}

func TestClientCreateThreadRequestFormat(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/threads" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		if r.Header.Get("Content-Type") != "application/json" {
			t.Errorf("expected JSON content type, got %q", r.Header.Get("Content-Type"))
		}
		body, _ := io.ReadAll(r.Body)
		var req map[string]any
		json.Unmarshal(body, &req)
		if req["assistant_id"] != "agent" {
			t.Errorf("expected assistant_id agent, got %v", req["assistant_id"])
		}
		if msgs, ok := req["messages"].([]any); !ok || len(msgs) != 0 {
			t.Errorf("expected empty messages array, got %v", req["messages"])
		}
		w.WriteHeader(http.StatusCreated)
		w.Write([]byte(`{"thread_id":"t1"}`))
	}))
	defer server.Close()

	thread, err := New(&Config{BaseURL: server.URL}).CreateThread(context.Background(), CreateThreadRequest{AssistantID: "agent"})
	if err != nil {
		t.Fatal(err)
	}
	if thread.ThreadID != "t1" {
		t.Errorf("expected thread t1, got %q", thread.ThreadID)
	}
}

func TestClientSearchThreads(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/threads/search" {
			t.Errorf("expected /threads/search, got %q", r.URL.Path)
		}
		var req SearchThreadsRequest
		json.NewDecoder(r.Body).Decode(&req)
		if req.Limit != 100 {
			t.Errorf("expected limit 100, got %d", req.Limit)
		}
		if req.Metadata["graph_id"] != "agent" {
			t.Errorf("expected graph_id metadata, got %v", req.Metadata)
		}
		w.Write([]byte(`[
			{"thread_id":"a","values":{"messages":[{"type":"human","content":"hello"}]}},
			{"thread_id":"b","values":null}
		]`))
	}))
	defer server.Close()

	threads, err := New(&Config{BaseURL: server.URL}).SearchThreads(context.Background(), SearchThreadsRequest{
		Limit:    100,
		Metadata: map[string]any{"graph_id": "agent"},
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(threads) != 2 {
		t.Fatalf("expected 2 threads, got %d", len(threads))
	}
	msgs := threads[0].Messages()
	if len(msgs) != 1 || msgs[0].Content.Text() != "hello" {
		t.Errorf("unexpected messages %+v", msgs)
	}
	if got := threads[1].Messages(); got != nil {
		t.Errorf("expected no messages for null values, got %+v", got)
	}
}

func TestClientDeleteThreadEscapesID(t *testing.T) {
	var gotPath string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.EscapedPath()
		if r.Method != http.MethodDelete {
			t.Errorf("expected DELETE, got %s", r.Method)
		}
		w.WriteHeader(http.StatusNoContent)
	}))
	defer server.Close()

	if err := New(&Config{BaseURL: server.URL}).DeleteThread(context.Background(), "a/b"); err != nil {
		t.Fatal(err)
	}
	if gotPath != "/threads/a%2Fb" {
		t.Errorf("expected escaped path, got %q", gotPath)
	}
}

func TestClientStreamRun(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/threads/t1/runs/stream" {
			t.Errorf("unexpected path %q", r.URL.Path)
		}
		var req RunRequest
		json.NewDecoder(r.Body).Decode(&req)
		if req.AssistantID != "agent" || len(req.Input.Messages) != 1 {
			t.Errorf("unexpected run request %+v", req)
		}
		w.Header().Set("Content-Type", "text/event-stream")
		io.WriteString(w, ": keepalive\n\n")
		io.WriteString(w, "event: metadata\ndata: {\"run_id\":\"r1\"}\n\n")
		io.WriteString(w, "event: values\ndata: {\"messages\":\n")
		io.WriteString(w, "data: [{\"type\":\"ai\",\"content\":\"hi\"}]}\n\n")
		io.WriteString(w, "event: end\ndata: null\n")
	}))
	defer server.Close()

	client := New(&Config{BaseURL: server.URL})
	stream, err := client.StreamRun(context.Background(), "t1", RunRequest{
		AssistantID: "agent",
		Input:       RunInput{Messages: []Message{HumanMessage("m1", "hi")}},
	})
	if err != nil {
		t.Fatal(err)
	}
	defer stream.Close()

	var names []string
	var values Values
	for {
		ev, err := stream.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			t.Fatal(err)
		}
		names = append(names, ev.Name)
		if ev.Name == EventValues {
			if err := json.Unmarshal(ev.Data, &values); err != nil {
				t.Fatalf("values data should be valid JSON across data lines: %v", err)
			}
		}
	}

	if strings.Join(names, ",") != "metadata,values,end" {
		t.Errorf("unexpected event order %v", names)
	}
	if len(values.Messages) != 1 || values.Messages[0].Type != RoleAI {
		t.Errorf("unexpected values %+v", values)
	}
}

func TestClientStreamRunStatusError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer server.Close()

	_, err := New(&Config{BaseURL: server.URL}).StreamRun(context.Background(), "t1", RunRequest{AssistantID: "agent"})
	var serr *StatusError
	if !errors.As(err, &serr) || serr.StatusCode != http.StatusInternalServerError {
		t.Fatalf("expected 500 StatusError, got %v", err)
	}
}

func TestContentText(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want string
	}{
		{"string", `"hello"`, "hello"},
		{"parts", `[{"type":"text","text":"a"},{"type":"image_url","image_url":"x"},{"type":"text","text":"b"}]`, "a b"},
		{"object falls back to raw", `{"weird":true}`, `{"weird":true}`},
		{"empty", ``, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var msg Message
			data := `{"type":"ai"}`
			if tt.raw != "" {
				data = `{"type":"ai","content":` + tt.raw + `}`
			}
			if err := json.Unmarshal([]byte(data), &msg); err != nil {
				t.Fatal(err)
			}
			if got := msg.Content.Text(); got != tt.want {
				t.Errorf("Text() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestContentMarshalKeepsRawForm(t *testing.T) {
	in := `{"type":"ai","content":[{"type":"text","text":"x"}]}`
	var msg Message
	if err := json.Unmarshal([]byte(in), &msg); err != nil {
		t.Fatal(err)
	}
	out, err := json.Marshal(msg)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(out), `"content":[{"type":"text","text":"x"}]`) {
		t.Errorf("content not preserved: %s", out)
	}
	if msg.Content.IsString() {
		t.Error("part list should not be reported as string content")
	}
}
