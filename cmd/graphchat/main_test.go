package main

import (
	"context"
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/user/graphchat/internal/config"
	"github.com/user/graphchat/internal/gateway"
	"github.com/user/graphchat/internal/types"
	"github.com/user/graphchat/pkg/langgraph/langgraphtest"
)

func TestParamsQueryFlagsOverrideLink(t *testing.T) {
	defer func() { flagLink, flagAssistantID, flagThread = "", "", "" }()
	flagLink = "http://localhost:3000/?apiUrl=http%3A%2F%2Fremote%3A2024&assistantId=agent&threadId=old"
	flagAssistantID = "researcher"

	q, err := paramsQuery()
	if err != nil {
		t.Fatal(err)
	}
	if got := q.Get(config.ParamAssistantID); got != "researcher" {
		t.Errorf("assistantId = %q, want researcher", got)
	}
	if got := q.Get(config.ParamAPIURL); got != "http://remote:2024" {
		t.Errorf("apiUrl = %q", got)
	}
	if got := q.Get(config.ParamThreadID); got != "old" {
		t.Errorf("threadId = %q", got)
	}
}

func TestNewParamsUsesConfigDefaults(t *testing.T) {
	defer func() { flagThread = "" }()
	flagThread = "t1"

	cfg := config.Default()
	cfg.AssistantID = "graph"
	params, err := newParams(cfg)
	if err != nil {
		t.Fatal(err)
	}
	id := params.Identity()
	if id.AssistantID != "graph" || id.ThreadID != "t1" || id.ServiceURL != config.DefaultAPIURL {
		t.Errorf("unexpected identity %+v", id)
	}
	if got := params.Encode(); got != "threadId=t1" {
		t.Errorf("only non-default values belong in the query, got %q", got)
	}
}

func TestParamsQueryBadLink(t *testing.T) {
	defer func() { flagLink = "" }()
	flagLink = "://bad"
	if _, err := paramsQuery(); err == nil {
		t.Fatal("expected error for malformed link")
	}
}

func TestGatewayChatsDoNotPollHealth(t *testing.T) {
	srv := langgraphtest.NewServer()
	defer srv.Close()
	cfg := config.Default()
	cfg.APIURL = srv.URL
	cfg.Health.IntervalMS = 1000

	factory, err := gatewayController(cfg)
	if err != nil {
		t.Fatal(err)
	}
	gw := gateway.New(factory, 4)
	gw.Start(context.Background())
	defer gw.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	for i := 0; i < 20; i++ {
		key := types.NewSessionKey("webhook", fmt.Sprint(i))
		if _, err := gw.Ask(ctx, key, "hi"); err != nil {
			t.Fatal(err)
		}
	}
	time.Sleep(1500 * time.Millisecond)

	if n := srv.Count(http.MethodGet, "/info"); n != 0 {
		t.Errorf("expected no health probes, got %d GET /info", n)
	}
	if n := srv.CountPrefix(http.MethodDelete, "/threads/"); n != 0 {
		t.Errorf("expected no probe thread cleanup, got %d deletes", n)
	}
	if n := srv.Count(http.MethodPost, "/threads"); n != 20 {
		t.Errorf("expected one thread per chat, got %d", n)
	}
}
