package config

import (
	"net/url"
	"sync"
	"testing"
)

var testDefaults = Defaults{APIURL: "http://localhost:2024", AssistantID: "agent"}

func TestParamsDefaults(t *testing.T) {
	p := NewParams(testDefaults, nil)

	snap := p.Snapshot()
	if snap.APIURL != "http://localhost:2024" || snap.AssistantID != "agent" {
		t.Errorf("unexpected string defaults %+v", snap)
	}
	if snap.ThreadID != "" || snap.APIKey != "" {
		t.Errorf("expected empty thread and key, got %+v", snap)
	}
	if snap.HideToolCalls {
		t.Error("hideToolCalls should default to false")
	}
	if !snap.ChatHistoryOpen {
		t.Error("chatHistoryOpen should default to true")
	}
	if p.Encode() != "" {
		t.Errorf("defaults should encode to an empty query, got %q", p.Encode())
	}
}

func TestParamsFromQuery(t *testing.T) {
	q := url.Values{
		"apiUrl":          {"https://graph.example.com"},
		"threadId":        {"t1"},
		"hideToolCalls":   {"true"},
		"chatHistoryOpen": {"false"},
		"utm_source":      {"mail"},
	}
	p := NewParams(testDefaults, q)

	id := p.Identity()
	if id.ServiceURL != "https://graph.example.com" || id.AssistantID != "agent" || id.ThreadID != "t1" {
		t.Errorf("unexpected identity %+v", id)
	}
	if !p.Bool(ParamHideToolCalls) || p.Bool(ParamChatHistoryOpen) {
		t.Error("bool params not read from query")
	}
	if p.Query().Has("utm_source") {
		t.Error("unrecognized parameters should not be stored")
	}
}

func TestParamsClearRemovesKey(t *testing.T) {
	p := NewParams(testDefaults, url.Values{"threadId": {"abc"}, "hideToolCalls": {"true"}})

	if err := p.SetString(ParamThreadID, ""); err != nil {
		t.Fatal(err)
	}
	if err := p.SetBool(ParamHideToolCalls, false); err != nil {
		t.Fatal(err)
	}
	if got := p.Encode(); got != "" {
		t.Errorf("cleared values should leave the query, got %q", got)
	}

	p.SetBool(ParamChatHistoryOpen, false)
	if got := p.Encode(); got != "chatHistoryOpen=false" {
		t.Errorf("non-default bool should be written, got %q", got)
	}
	p.Clear(ParamChatHistoryOpen)
	if !p.Bool(ParamChatHistoryOpen) {
		t.Error("Clear should restore the default")
	}
}

func TestParamsSetBatch(t *testing.T) {
	p := NewParams(testDefaults, url.Values{"threadId": {"t1"}})
	calls := 0
	p.Subscribe(func(Snapshot) { calls++ })

	err := p.Set(map[string]string{
		ParamAPIURL:      "https://graph.example.com",
		ParamAssistantID: "researcher",
		ParamThreadID:    "",
	})
	if err != nil {
		t.Fatal(err)
	}
	if calls != 1 {
		t.Errorf("expected one notification for a batch, got %d", calls)
	}
	id := p.Identity()
	if id.ServiceURL != "https://graph.example.com" || id.AssistantID != "researcher" || id.ThreadID != "" {
		t.Errorf("unexpected identity %+v", id)
	}
	if err := p.Set(map[string]string{"hideToolCalls": "true"}); err == nil {
		t.Error("expected error for a non-string parameter")
	}
}

func TestParamsInvalidBoolFallsBack(t *testing.T) {
	p := NewParams(testDefaults, url.Values{"chatHistoryOpen": {"maybe"}})
	if !p.Bool(ParamChatHistoryOpen) {
		t.Error("unparseable bool should use the default")
	}
	if p.Encode() != "" {
		t.Errorf("unparseable bool should not be kept, got %q", p.Encode())
	}
}

func TestParamsUnknownKey(t *testing.T) {
	p := NewParams(testDefaults, nil)
	if err := p.SetString("model", "x"); err == nil {
		t.Error("expected error for unknown string parameter")
	}
	if err := p.SetBool(ParamAPIURL, true); err == nil {
		t.Error("expected error for bool set on a string parameter")
	}
}

func TestParamsLink(t *testing.T) {
	p := NewParams(testDefaults, nil)
	p.SetString(ParamAssistantID, "researcher")
	p.SetString(ParamThreadID, "t 1")

	link, err := p.Link("http://localhost:3000/?old=1")
	if err != nil {
		t.Fatal(err)
	}
	want := "http://localhost:3000/?assistantId=researcher&threadId=t+1"
	if link != want {
		t.Errorf("Link = %q, want %q", link, want)
	}
}

func TestParamsSubscribe(t *testing.T) {
	p := NewParams(testDefaults, nil)

	var mu sync.Mutex
	var got []Snapshot
	unsubscribe := p.Subscribe(func(s Snapshot) {
		// Reading inside the callback must not deadlock.
		_ = p.Encode()
		mu.Lock()
		got = append(got, s)
		mu.Unlock()
	})

	p.SetString(ParamThreadID, "t1")
	p.SetString(ParamThreadID, "t1") // no change, no notification
	p.Replace(url.Values{"threadId": {"t2"}})
	unsubscribe()
	p.SetString(ParamThreadID, "t3")

	mu.Lock()
	defer mu.Unlock()
	if len(got) != 2 {
		t.Fatalf("expected 2 notifications, got %d", len(got))
	}
	if got[0].ThreadID != "t1" || got[1].ThreadID != "t2" {
		t.Errorf("unexpected notifications %+v", got)
	}
}

func TestBootstrapRedirect(t *testing.T) {
	tests := []struct {
		name     string
		raw      string
		redirect bool
		want     string
	}{
		{"root", "/", true, "/?apiUrl=http%3A%2F%2Flocalhost%3A2024&assistantId=agent"},
		{"thread only", "/?threadId=abc", false, ""},
		{"bool only", "/?hideToolCalls=true", false, ""},
		{"unrelated params kept", "/?ref=x", true, "/?apiUrl=http%3A%2F%2Flocalhost%3A2024&assistantId=agent&ref=x"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			u, err := url.Parse(tt.raw)
			if err != nil {
				t.Fatal(err)
			}
			target, ok := BootstrapRedirect(u, testDefaults)
			if ok != tt.redirect {
				t.Fatalf("redirect = %v, want %v", ok, tt.redirect)
			}
			if ok && target.String() != tt.want {
				t.Errorf("target = %q, want %q", target.String(), tt.want)
			}
			if ok {
				// The redirected URL must not redirect again.
				if _, again := BootstrapRedirect(target, testDefaults); again {
					t.Error("redirect target redirects again")
				}
			}
		})
	}
}

func TestParamsSnapshotVersion(t *testing.T) {
	p := NewParams(testDefaults, nil)
	v0 := p.Snapshot().Version

	p.SetString(ParamThreadID, "t1")
	v1 := p.Snapshot().Version
	if v1 <= v0 {
		t.Fatalf("version should grow on change: %d -> %d", v0, v1)
	}

	p.SetString(ParamThreadID, "t1")
	if v := p.Snapshot().Version; v != v1 {
		t.Errorf("a no-op set should keep version %d, got %d", v1, v)
	}

	var seen uint64
	p.Subscribe(func(s Snapshot) { seen = s.Version })
	p.Replace(url.Values{ParamThreadID: {"t2"}})
	if seen != v1+1 {
		t.Errorf("observer saw version %d, want %d", seen, v1+1)
	}
}
