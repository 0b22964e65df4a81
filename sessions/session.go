// Package sessions keeps the local chat history: an ordered collection of
// chat sessions plus a pointer to the one currently open. The whole
// collection is persisted after every mutation and reloaded at start.
package sessions

import (
	"strings"
	"time"

	"github.com/jmcleod/honeycomb/internal/util"
)

// Role identifies who produced a turn.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Turn is one message in a session. Turns are never edited after creation.
type Turn struct {
	Role Role   `json:"role"`
	Text string `json:"text"`
}

// Session is a named, ordered conversation.
type Session struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	Turns     []Turn    `json:"messages"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

const (
	titleLimit    = 30
	titleEllipsis = "..."
	untitled      = "New chat"
)

// TitleFor derives a session title from the text of its first turn: the
// first 30 characters, with an ellipsis when cut. Blank text gets a
// placeholder title.
func TitleFor(text string) string {
	text = util.NormalizeNFC(text)
	if strings.TrimSpace(text) == "" {
		return untitled
	}
	title, cut := util.TruncateRunes(text, titleLimit)
	if cut {
		title += titleEllipsis
	}
	return title
}

func (s Session) clone() Session {
	s.Turns = append([]Turn(nil), s.Turns...)
	return s
}
