package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/spf13/cobra"

	goutils "github.com/jkaninda/go-utils"
)

// Exit codes for the chat command.
const (
	ExitSuccess     = 0
	ExitFailure     = 1
	ExitUnavailable = 3
)

var (
	chatMessage    string
	chatServerURL  string
	chatAPIKey     string
	chatTimeout    int
	chatConvID     string
	chatShowTokens bool
)

var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Send a one-shot question to a running server",
	Long: `Send a question to a running Quant Agent server and print the answer.

Examples:
  quantagent chat -m "what moved NVDA today?"
  quantagent chat -m "latest fed rate decision" --conversation-id abc123

Exit codes:
  0  success
  1  request rejected or processing failure
  3  server unavailable`,
	RunE: runChat,
}

func init() {
	chatCmd.Flags().StringVarP(&chatMessage, "message", "m", "", "question to ask (required)")
	chatCmd.Flags().StringVar(&chatServerURL, "server-url", "http://localhost:8080", "server URL (or QUANTAGENT_SERVER_URL env)")
	chatCmd.Flags().StringVar(&chatAPIKey, "api-key", "", "API key (or QUANTAGENT_API_KEY env; omit for open servers)")
	chatCmd.Flags().IntVar(&chatTimeout, "timeout", 120, "timeout in seconds")
	chatCmd.Flags().StringVar(&chatConvID, "conversation-id", "", "conversation ID for multi-turn context")
	chatCmd.Flags().BoolVar(&chatShowTokens, "show-tokens", false, "print token usage to stderr")

	_ = chatCmd.MarkFlagRequired("message")
}

func runChat(_ *cobra.Command, _ []string) error {
	if chatMessage == "" {
		return fmt.Errorf("message is required: use -m flag")
	}

	apiKey := goutils.Env("QUANTAGENT_API_KEY", chatAPIKey)
	serverURL := goutils.Env("QUANTAGENT_SERVER_URL", chatServerURL)

	ctx, cancel := context.WithTimeout(context.Background(), time.Duration(chatTimeout)*time.Second)
	defer cancel()

	body, _ := json.Marshal(httpChatRequest{
		Message:        chatMessage,
		ConversationID: chatConvID,
	})

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, serverURL+"/v1/chat", bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+apiKey)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: server unreachable: %v\n", err)
		os.Exit(ExitUnavailable)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}

	if resp.StatusCode != http.StatusOK {
		var errBody struct {
			Error string `json:"error"`
		}
		_ = json.Unmarshal(data, &errBody)
		if errBody.Error == "" {
			errBody.Error = resp.Status
		}
		fmt.Fprintf(os.Stderr, "Error: %s\n", errBody.Error)
		os.Exit(ExitFailure)
	}

	var chatResp httpChatResponse
	if err := json.Unmarshal(data, &chatResp); err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}

	fmt.Println(chatResp.Response)
	if chatShowTokens {
		fmt.Fprintf(os.Stderr, "conversation: %s  tokens: %d\n", chatResp.ConversationID, chatResp.TokensUsed)
	}
	return nil
}

type httpChatRequest struct {
	Message        string `json:"message"`
	ConversationID string `json:"conversation_id,omitempty"`
}

type httpChatResponse struct {
	Response       string `json:"response"`
	CorrelationID  string `json:"correlation_id"`
	ConversationID string `json:"conversation_id,omitempty"`
	TokensUsed     int    `json:"tokens_used,omitempty"`
}
