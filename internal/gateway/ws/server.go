// Package ws implements the WebSocket chat endpoint. Clients hold a single
// connection and exchange one JSON frame per conversation turn, which keeps
// conversation state pinned to the connection instead of being re-sent on
// every request.
package ws

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"encoding/hex"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"

	"github.com/coder/websocket"
	"github.com/google/uuid"

	"github.com/quantlab/quantagent/internal/agent"
	"github.com/quantlab/quantagent/internal/ratelimit"
)

const subprotocol = "quantagent-chat-v1"

// ChatMessage is a single client frame.
type ChatMessage struct {
	Message        string `json:"message"`
	ConversationID string `json:"conversation_id,omitempty"`
}

// ChatReply is a single server frame.
type ChatReply struct {
	Response       string `json:"response,omitempty"`
	CorrelationID  string `json:"correlation_id,omitempty"`
	ConversationID string `json:"conversation_id,omitempty"`
	TokensUsed     int    `json:"tokens_used,omitempty"`
	Error          string `json:"error,omitempty"`
}

// Server upgrades HTTP connections and runs the chat loop.
type Server struct {
	agent   agent.Agent
	apiKeys map[string]string // Empty = open access.
	limiter *ratelimit.Limiter
	logger  *slog.Logger
}

// NewServer creates a WebSocket chat server.
func NewServer(a agent.Agent, apiKeys map[string]string, rl *ratelimit.Limiter, logger *slog.Logger) *Server {
	return &Server{
		agent:   a,
		apiKeys: apiKeys,
		limiter: rl,
		logger:  logger,
	}
}

// Handler returns an http.Handler that upgrades connections to WebSocket.
func (s *Server) Handler() http.Handler {
	return http.HandlerFunc(s.handleUpgrade)
}

func (s *Server) handleUpgrade(w http.ResponseWriter, r *http.Request) {
	userID, ok := s.authenticate(r)
	if !ok {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		Subprotocols: []string{subprotocol},
	})
	if err != nil {
		s.logger.Error("websocket accept failed", slog.String("error", err.Error()))
		return
	}

	s.handleConnection(r.Context(), conn, userID)
}

// authenticate accepts the key as a token query parameter or a Bearer header.
// Browsers cannot set headers on WebSocket upgrades, hence the query form.
func (s *Server) authenticate(r *http.Request) (string, bool) {
	if len(s.apiKeys) == 0 {
		return "anonymous", true
	}

	token := r.URL.Query().Get("token")
	if token == "" {
		token = strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
	}
	if token == "" {
		return "", false
	}

	for key, userID := range s.apiKeys {
		if subtle.ConstantTimeCompare([]byte(token), []byte(key)) == 1 {
			return userID, true
		}
	}
	return "", false
}

func (s *Server) handleConnection(ctx context.Context, conn *websocket.Conn, userID string) {
	defer conn.Close(websocket.StatusNormalClosure, "connection closed")

	// A connection keeps one conversation unless the client names another.
	defaultConversation := uuid.New().String()

	s.logger.Info("websocket chat connected", slog.String("user_id", userID))

	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			if websocket.CloseStatus(err) == websocket.StatusNormalClosure {
				s.logger.Info("websocket chat disconnected", slog.String("user_id", userID))
			} else if ctx.Err() == nil {
				s.logger.Warn("websocket read failed",
					slog.String("user_id", userID),
					slog.String("error", err.Error()),
				)
			}
			return
		}

		var msg ChatMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			s.writeReply(ctx, conn, &ChatReply{Error: "invalid message"})
			continue
		}
		if msg.Message == "" {
			s.writeReply(ctx, conn, &ChatReply{Error: "message is required"})
			continue
		}

		if s.limiter != nil {
			if err := s.limiter.Allow(userID); err != nil {
				s.writeReply(ctx, conn, &ChatReply{Error: "rate limit exceeded"})
				continue
			}
		}

		conversationID := msg.ConversationID
		if conversationID == "" {
			conversationID = defaultConversation
		}
		correlationID := newCorrelationID()

		resp, err := s.agent.Process(ctx, &agent.Input{
			UserID:         userID,
			Message:        msg.Message,
			CorrelationID:  correlationID,
			ConversationID: conversationID,
		})
		if err != nil {
			s.logger.Error("agent processing failed",
				slog.String("correlation_id", correlationID),
				slog.String("error", err.Error()),
			)
			s.writeReply(ctx, conn, &ChatReply{
				CorrelationID: correlationID,
				Error:         "processing failed",
			})
			continue
		}

		s.writeReply(ctx, conn, &ChatReply{
			Response:       resp.Message,
			CorrelationID:  correlationID,
			ConversationID: conversationID,
			TokensUsed:     resp.TokensUsed,
		})
	}
}

func (s *Server) writeReply(ctx context.Context, conn *websocket.Conn, reply *ChatReply) {
	data, err := json.Marshal(reply)
	if err != nil {
		return
	}
	if err := conn.Write(ctx, websocket.MessageText, data); err != nil && ctx.Err() == nil {
		s.logger.Warn("websocket write failed", slog.String("error", err.Error()))
	}
}

func newCorrelationID() string {
	b := make([]byte, 8)
	_, _ = rand.Read(b)
	return hex.EncodeToString(b)
}
