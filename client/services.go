package client

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/jmcleod/honeycomb/internal/util"
)

const (
	chatSystemPrompt    = "You are Honeycomb, a helpful handover assistant."
	analyzeSystemPrompt = "You are an expert at writing handover documents. Answer only in JSON."
	analyzeUserPrompt   = "Analyze the following material and produce a handover document as JSON. If there are no files, produce sample data:\n\n"

	// Only the head of each document is sent for analysis.
	analyzeExcerptRunes = 2000
)

// Message is one entry of a chat transcript sent to the backend.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Messages       []Message       `json:"messages"`
	ResponseFormat *responseFormat `json:"response_format,omitempty"`
}

type responseFormat struct {
	Type string `json:"type"`
}

// Chat sends message after the prior history and returns the reply text.
// History roles other than "user" are sent as "assistant".
func (c *Client) Chat(ctx context.Context, message string, history []Message) (string, error) {
	msgs := make([]Message, 0, len(history)+2)
	msgs = append(msgs, Message{Role: "system", Content: chatSystemPrompt})
	for _, h := range history {
		role := "assistant"
		if h.Role == "user" {
			role = "user"
		}
		msgs = append(msgs, Message{Role: role, Content: h.Content})
	}
	msgs = append(msgs, Message{Role: "user", Content: message})

	content, err := c.Send(ctx, "/chat", chatRequest{Messages: msgs})
	if err != nil {
		return "", err
	}
	return content.Text(), nil
}

// Document is a source file known to the backend.
type Document struct {
	ID       string `json:"id"`
	FileName string `json:"file_name"`
	Content  string `json:"content"`
}

// Analyze asks the backend to build a structured handover report from docs.
func (c *Client) Analyze(ctx context.Context, docs []Document) (Content, error) {
	parts := make([]string, 0, len(docs))
	for _, d := range docs {
		excerpt, _ := util.TruncateRunes(d.Content, analyzeExcerptRunes)
		parts = append(parts, fmt.Sprintf("[File: %s]\n%s", d.FileName, excerpt))
	}
	req := chatRequest{
		Messages: []Message{
			{Role: "system", Content: analyzeSystemPrompt},
			{Role: "user", Content: analyzeUserPrompt + strings.Join(parts, "\n\n---\n")},
		},
		ResponseFormat: &responseFormat{Type: "json_object"},
	}
	return c.Send(ctx, "/analyze", req)
}

// ListDocuments returns the documents stored on the backend. The content may
// be either {"documents": [...]} or a bare array.
func (c *Client) ListDocuments(ctx context.Context) ([]Document, error) {
	content, err := c.Get(ctx, "/documents")
	if err != nil {
		return nil, err
	}
	if !content.IsStructured() {
		return nil, &Error{
			Kind: KindMalformedResponse, Method: http.MethodGet, Path: "/documents",
			Message: "document listing is not structured",
		}
	}
	raw := content.JSON()
	var docs []Document
	if raw[0] == '[' {
		err = json.Unmarshal(raw, &docs)
	} else {
		var wrapped struct {
			Documents []Document `json:"documents"`
		}
		err = json.Unmarshal(raw, &wrapped)
		docs = wrapped.Documents
	}
	if err != nil {
		return nil, &Error{
			Kind: KindMalformedResponse, Method: http.MethodGet, Path: "/documents",
			Message: "document listing unreadable", Err: err,
		}
	}
	return docs, nil
}

// HealthStatus is the backend's self report.
type HealthStatus struct {
	Status      string `json:"status"`
	ConfigValid bool   `json:"config_valid"`
}

// Health queries the unauthenticated health endpoint.
func (c *Client) Health(ctx context.Context) (*HealthStatus, error) {
	url := c.baseURL + c.endpoints.Health
	status, _, data, err := c.unauthenticated(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	if !isSuccess(status) {
		return nil, &Error{Kind: KindAPI, Method: http.MethodGet, Path: c.endpoints.Health, Status: status, Message: errorDetail(data)}
	}
	var hs HealthStatus
	if err := json.Unmarshal(data, &hs); err != nil {
		return nil, &Error{
			Kind: KindMalformedResponse, Method: http.MethodGet, Path: c.endpoints.Health,
			Status: status, Message: "health response unreadable", Err: err,
		}
	}
	return &hs, nil
}
