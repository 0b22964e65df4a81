package mockapi

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
)

// Health reports the stub as healthy. It needs no credentials.
func (s *Server) Health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, HealthResponse{Status: "ok", ConfigValid: true})
}

// Chat echoes the last user message back as plain text.
func (s *Server) Chat(w http.ResponseWriter, r *http.Request) {
	var req ChatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || len(req.Messages) == 0 {
		writeError(w, http.StatusBadRequest, "messages are required")
		return
	}
	last := lastUserMessage(req.Messages)
	turns := 0
	for _, m := range req.Messages {
		if m.Role != "system" {
			turns++
		}
	}
	reply := "Echo: " + last
	if turns > 1 {
		reply += " (with " + strconv.Itoa(turns-1) + " earlier turns)"
	}
	writeJSON(w, http.StatusOK, ContentResponse{Content: reply})
}

// Analyze returns a handover report. Like the real backend, the report is a
// JSON document encoded into the content string.
func (s *Server) Analyze(w http.ResponseWriter, r *http.Request) {
	var req ChatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	prompt := lastUserMessage(req.Messages)
	files := strings.Count(prompt, "[File: ")

	report := map[string]any{
		"overview": map[string]any{
			"title":      "Handover report",
			"file_count": files,
			"requested":  subjectFromContext(r.Context()),
		},
		"tasks": []string{},
	}
	encoded, err := json.Marshal(report)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, ContentResponse{Content: string(encoded)})
}

// ListDocuments returns the seeded documents.
func (s *Server) ListDocuments(w http.ResponseWriter, _ *http.Request) {
	s.mu.Lock()
	docs := append([]Document{}, s.documents...)
	s.mu.Unlock()
	writeJSON(w, http.StatusOK, ContentResponse{Content: map[string]any{"documents": docs}})
}

func lastUserMessage(msgs []ChatMessage) string {
	for i := len(msgs) - 1; i >= 0; i-- {
		if msgs[i].Role == "user" {
			return msgs[i].Content
		}
	}
	return ""
}
