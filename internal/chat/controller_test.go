package chat

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"sync"
	"testing"
	"time"

	"github.com/user/graphchat/internal/config"
	"github.com/user/graphchat/internal/stream"
	"github.com/user/graphchat/internal/threads"
	"github.com/user/graphchat/internal/types"
	"github.com/user/graphchat/pkg/langgraph"
	"github.com/user/graphchat/pkg/langgraph/langgraphtest"
)

// newController starts a controller without health polling, so probe
// threads never mix with the threads a test creates.
func newController(t *testing.T, srv *langgraphtest.Server, query url.Values) *Controller {
	return newControllerWithHealth(t, srv, query, -1)
}

func newControllerWithHealth(t *testing.T, srv *langgraphtest.Server, query url.Values, interval time.Duration) *Controller {
	t.Helper()
	params := config.NewParams(config.Defaults{APIURL: srv.URL, AssistantID: "agent"}, query)
	c := New(params, NewServiceFactory(0), Options{
		HealthInterval:       interval,
		ThreadIDRefreshDelay: 60 * time.Millisecond,
		MessageRefreshDelay:  40 * time.Millisecond,
	})
	c.Start(context.Background())
	t.Cleanup(c.Close)
	if err := c.WaitReady(context.Background()); err != nil {
		t.Fatal(err)
	}
	waitFor(t, "initial thread list", func() bool {
		return srv.Count(http.MethodPost, "/threads/search") > 0 && !c.ThreadsLoading()
	})
	return c
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

// searchesFor counts thread searches scoped to graphID.
func searchesFor(srv *langgraphtest.Server, graphID string) int {
	n := 0
	for _, r := range srv.Requests() {
		if r.Method != http.MethodPost || r.Path != "/threads/search" {
			continue
		}
		var req langgraph.SearchThreadsRequest
		json.Unmarshal(r.Body, &req)
		if req.Metadata["graph_id"] == graphID {
			n++
		}
	}
	return n
}

func TestControllerSubmitAssignsThread(t *testing.T) {
	srv := langgraphtest.NewServer()
	defer srv.Close()
	c := newController(t, srv, nil)

	var mu sync.Mutex
	var lists [][]threads.Summary
	c.OnThreadsChange(func(l []threads.Summary) {
		mu.Lock()
		lists = append(lists, l)
		mu.Unlock()
	})

	if err := c.Submit(context.Background(), "hello"); err != nil {
		t.Fatal(err)
	}

	if got := c.Params().String(config.ParamThreadID); got != "t1" {
		t.Fatalf("threadId param = %q, want t1", got)
	}
	st := c.State()
	if st.ThreadID != "t1" || len(st.Messages) != 2 {
		t.Errorf("session was rebuilt or lost state: %+v", st)
	}
	if c.Identity().ThreadID != "t1" {
		t.Errorf("identity not updated: %+v", c.Identity())
	}

	waitFor(t, "thread list refresh", func() bool {
		sums := c.Threads()
		return len(sums) == 1 && sums[0].Preview == "hello"
	})
	if srv.Count(http.MethodGet, "/threads/t1/state") != 0 {
		t.Error("a thread assigned by the session must not trigger a reload")
	}
	mu.Lock()
	defer mu.Unlock()
	if len(lists) == 0 {
		t.Error("thread listeners not notified")
	}
}

func TestControllerIdentityChangeCancelsTimers(t *testing.T) {
	srv := langgraphtest.NewServer()
	defer srv.Close()
	c := newController(t, srv, nil)

	if err := c.Submit(context.Background(), "hello"); err != nil {
		t.Fatal(err)
	}
	before := searchesFor(srv, "agent")

	// Both refreshes are pending now; switching assistant must drop them.
	if err := c.Configure("", "other"); err != nil {
		t.Fatal(err)
	}
	time.Sleep(200 * time.Millisecond)

	if got := searchesFor(srv, "agent"); got != before {
		t.Errorf("pending refresh for the old assistant ran after the switch (%d -> %d)", before, got)
	}
	if searchesFor(srv, "other") == 0 {
		t.Error("new assistant's thread list was not loaded")
	}
	if id := c.Identity(); id.AssistantID != "other" || id.ThreadID != "" {
		t.Errorf("unexpected identity %+v", id)
	}
	if len(c.State().Messages) != 0 {
		t.Error("new session should start empty")
	}
}

func TestControllerMessageRefreshDebounced(t *testing.T) {
	srv := langgraphtest.NewServer()
	defer srv.Close()
	srv.AddThread("t", map[string]any{"graph_id": "agent"})
	c := newController(t, srv, url.Values{"threadId": {"t"}})
	waitFor(t, "initial thread load", func() bool { return !c.ThreadsLoading() && len(c.Threads()) == 1 })
	before := searchesFor(srv, "agent")

	// One submit changes the message count several times in quick
	// succession; only one refresh should follow.
	if err := c.Submit(context.Background(), "one"); err != nil {
		t.Fatal(err)
	}
	waitFor(t, "message refresh", func() bool { return searchesFor(srv, "agent") > before })
	time.Sleep(150 * time.Millisecond)
	if got := searchesFor(srv, "agent") - before; got != 1 {
		t.Errorf("expected a single debounced refresh, got %d", got)
	}
}

func TestControllerSwitchThreadAndNewChat(t *testing.T) {
	srv := langgraphtest.NewServer()
	defer srv.Close()
	srv.AddThread("old", map[string]any{"graph_id": "agent"},
		langgraph.HumanMessage("a", "earlier question"),
		langgraph.Message{ID: "b", Type: langgraph.RoleAI, Content: langgraph.TextContent("earlier answer")})
	c := newController(t, srv, nil)

	if err := c.SwitchThread(context.Background(), "old"); err != nil {
		t.Fatal(err)
	}
	if msgs := c.State().Messages; len(msgs) != 2 {
		t.Fatalf("expected thread messages, got %+v", msgs)
	}

	c.NewChat()
	if err := c.WaitReady(context.Background()); err != nil {
		t.Fatal(err)
	}
	if c.Params().String(config.ParamThreadID) != "" {
		t.Error("new chat should clear threadId")
	}
	if len(c.State().Messages) != 0 {
		t.Error("new chat should start empty")
	}
}

func TestControllerThreadSwitchKeepsThreadListLoad(t *testing.T) {
	srv := langgraphtest.NewServer()
	defer srv.Close()
	srv.AddThread("t1", map[string]any{"graph_id": "agent"}, langgraph.HumanMessage("a", "first question"))
	srv.SetDelay(langgraphtest.RouteSearch, 300*time.Millisecond)

	params := config.NewParams(config.Defaults{APIURL: srv.URL, AssistantID: "agent"}, nil)
	c := New(params, NewServiceFactory(0), Options{HealthInterval: -1})
	c.Start(context.Background())
	defer c.Close()

	time.Sleep(50 * time.Millisecond)
	if err := c.SwitchThread(context.Background(), "t1"); err != nil {
		t.Fatal(err)
	}

	waitFor(t, "thread list after switch", func() bool {
		return len(c.Threads()) == 1 && !c.ThreadsLoading()
	})
	if got := c.Threads()[0].Preview; got != "first question" {
		t.Errorf("unexpected preview %q", got)
	}
	if n := srv.Count(http.MethodPost, "/threads/search"); n != 1 {
		t.Errorf("expected the first search to complete, got %d searches", n)
	}
}

func TestControllerIgnoresStaleSnapshot(t *testing.T) {
	srv := langgraphtest.NewServer()
	defer srv.Close()
	srv.AddThread("a", map[string]any{"graph_id": "agent"}, langgraph.HumanMessage("1", "thread a"))
	srv.AddThread("b", map[string]any{"graph_id": "agent"}, langgraph.HumanMessage("2", "thread b"))
	c := newController(t, srv, nil)

	if err := c.SwitchThread(context.Background(), "a"); err != nil {
		t.Fatal(err)
	}
	stale := c.Params().Snapshot()
	if err := c.SwitchThread(context.Background(), "b"); err != nil {
		t.Fatal(err)
	}

	// A notification delivered late must not undo the newer switch.
	c.sync(stale)
	if got := c.Identity().ThreadID; got != "b" {
		t.Errorf("expected thread b to stay bound, got %q", got)
	}
	if msgs := c.State().Messages; len(msgs) != 1 || msgs[0].ID != "2" {
		t.Errorf("expected messages of thread b, got %+v", msgs)
	}
}

func TestControllerSubmitFailure(t *testing.T) {
	srv := langgraphtest.NewServer()
	defer srv.Close()
	srv.SetStatus(langgraphtest.RouteCreate, http.StatusInternalServerError)
	c := newController(t, srv, nil)

	var mu sync.Mutex
	var states []stream.State
	c.OnSessionChange(func(st stream.State) {
		mu.Lock()
		states = append(states, st)
		mu.Unlock()
	})

	if err := c.Submit(context.Background(), "hi"); err == nil {
		t.Fatal("expected submit error")
	}
	if len(c.State().Messages) != 0 {
		t.Error("optimistic message should be rolled back")
	}
	mu.Lock()
	defer mu.Unlock()
	if len(states) < 2 || len(states[0].Messages) != 1 {
		t.Errorf("expected optimistic then rolled back states, got %+v", states)
	}
}

func TestControllerHealthStatus(t *testing.T) {
	srv := langgraphtest.NewServer()
	defer srv.Close()
	c := newControllerWithHealth(t, srv, nil, time.Hour)

	waitFor(t, "connected", func() bool { return c.Status() == types.StatusConnected })

	srv.SetStatus(langgraphtest.RouteInfo, http.StatusServiceUnavailable)
	if got := c.CheckHealth(context.Background()); got != types.StatusError {
		t.Errorf("CheckHealth = %s, want error", got)
	}
}

func TestControllerCheckHealthWithoutPolling(t *testing.T) {
	srv := langgraphtest.NewServer()
	defer srv.Close()
	c := newController(t, srv, nil)

	if got := c.CheckHealth(context.Background()); got != types.StatusConnected {
		t.Errorf("CheckHealth = %s, want connected", got)
	}
	if c.Status() != types.StatusLoading {
		t.Errorf("status without polling should stay loading, got %s", c.Status())
	}
}

func TestControllerClosed(t *testing.T) {
	srv := langgraphtest.NewServer()
	defer srv.Close()
	c := newController(t, srv, nil)
	c.Close()

	if err := c.Submit(context.Background(), "hi"); err != ErrClosed {
		t.Errorf("expected ErrClosed, got %v", err)
	}
	// Params changes after close are ignored.
	c.Params().SetString(config.ParamThreadID, "x")
	if c.Threads() != nil {
		t.Error("closed controller should expose no threads")
	}
}
