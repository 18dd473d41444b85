package ws

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"

	"github.com/quantlab/quantagent/internal/agent"
)

type echoAgent struct {
	lastInput *agent.Input
}

func (e *echoAgent) Process(_ context.Context, input *agent.Input) (*agent.Response, error) {
	e.lastInput = input
	return &agent.Response{Message: "echo: " + input.Message, TokensUsed: 7}, nil
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func wsURL(ts *httptest.Server) string {
	return "ws" + strings.TrimPrefix(ts.URL, "http")
}

func TestChatRoundTrip(t *testing.T) {
	ag := &echoAgent{}
	srv := NewServer(ag, nil, nil, testLogger())

	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn, _, err := websocket.Dial(ctx, wsURL(ts), &websocket.DialOptions{
		Subprotocols: []string{subprotocol},
	})
	if err != nil {
		t.Fatalf("dial failed: %v", err)
	}
	defer conn.Close(websocket.StatusNormalClosure, "done")

	frame, _ := json.Marshal(ChatMessage{Message: "what moved NVDA today?"})
	if err := conn.Write(ctx, websocket.MessageText, frame); err != nil {
		t.Fatalf("write failed: %v", err)
	}

	_, data, err := conn.Read(ctx)
	if err != nil {
		t.Fatalf("read failed: %v", err)
	}
	var reply ChatReply
	if err := json.Unmarshal(data, &reply); err != nil {
		t.Fatalf("unmarshal reply: %v", err)
	}
	if reply.Response != "echo: what moved NVDA today?" {
		t.Errorf("unexpected response %q", reply.Response)
	}
	if reply.TokensUsed != 7 {
		t.Errorf("TokensUsed = %d, want 7", reply.TokensUsed)
	}
	if reply.CorrelationID == "" || reply.ConversationID == "" {
		t.Error("expected correlation and conversation IDs")
	}
	if ag.lastInput == nil || ag.lastInput.UserID != "anonymous" {
		t.Errorf("expected anonymous user, got %+v", ag.lastInput)
	}
}

func TestConversationIDStableAcrossTurns(t *testing.T) {
	srv := NewServer(&echoAgent{}, nil, nil, testLogger())

	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn, _, err := websocket.Dial(ctx, wsURL(ts), nil)
	if err != nil {
		t.Fatalf("dial failed: %v", err)
	}
	defer conn.Close(websocket.StatusNormalClosure, "done")

	ids := make([]string, 0, 2)
	for i := 0; i < 2; i++ {
		frame, _ := json.Marshal(ChatMessage{Message: "hello"})
		if err := conn.Write(ctx, websocket.MessageText, frame); err != nil {
			t.Fatalf("write failed: %v", err)
		}
		_, data, err := conn.Read(ctx)
		if err != nil {
			t.Fatalf("read failed: %v", err)
		}
		var reply ChatReply
		if err := json.Unmarshal(data, &reply); err != nil {
			t.Fatalf("unmarshal reply: %v", err)
		}
		ids = append(ids, reply.ConversationID)
	}
	if ids[0] != ids[1] {
		t.Errorf("conversation ID changed across turns: %q vs %q", ids[0], ids[1])
	}
}

func TestEmptyMessageRejected(t *testing.T) {
	srv := NewServer(&echoAgent{}, nil, nil, testLogger())

	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn, _, err := websocket.Dial(ctx, wsURL(ts), nil)
	if err != nil {
		t.Fatalf("dial failed: %v", err)
	}
	defer conn.Close(websocket.StatusNormalClosure, "done")

	if err := conn.Write(ctx, websocket.MessageText, []byte(`{"message":""}`)); err != nil {
		t.Fatalf("write failed: %v", err)
	}
	_, data, err := conn.Read(ctx)
	if err != nil {
		t.Fatalf("read failed: %v", err)
	}
	var reply ChatReply
	if err := json.Unmarshal(data, &reply); err != nil {
		t.Fatalf("unmarshal reply: %v", err)
	}
	if reply.Error == "" {
		t.Error("expected an error reply for empty message")
	}
}

func TestAuthRequiredWhenKeysConfigured(t *testing.T) {
	keys := map[string]string{"secret-key": "alice"}
	ag := &echoAgent{}
	srv := NewServer(ag, keys, nil, testLogger())

	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	// No token: upgrade rejected.
	_, resp, err := websocket.Dial(ctx, wsURL(ts), nil)
	if err == nil {
		t.Fatal("expected dial to fail without a token")
	}
	if resp != nil && resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", resp.StatusCode)
	}

	// Token as query parameter.
	conn, _, err := websocket.Dial(ctx, wsURL(ts)+"?token=secret-key", nil)
	if err != nil {
		t.Fatalf("dial with token failed: %v", err)
	}
	defer conn.Close(websocket.StatusNormalClosure, "done")

	frame, _ := json.Marshal(ChatMessage{Message: "hello"})
	if err := conn.Write(ctx, websocket.MessageText, frame); err != nil {
		t.Fatalf("write failed: %v", err)
	}
	if _, _, err := conn.Read(ctx); err != nil {
		t.Fatalf("read failed: %v", err)
	}
	if ag.lastInput.UserID != "alice" {
		t.Errorf("UserID = %q, want alice", ag.lastInput.UserID)
	}
}
