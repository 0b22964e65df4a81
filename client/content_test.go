package client

import (
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestNormalizeBody(t *testing.T) {
	cases := []struct {
		name       string
		body       string
		structured bool
		malformed  bool
		text       string
	}{
		{"object content", `{"content":{"overview":"x"}}`, true, false, `{"overview":"x"}`},
		{"array content", `{"content":[1,2]}`, true, false, `[1,2]`},
		{"json encoded string", `{"content":"{\"overview\":\"x\"}"}`, true, false, `{"overview":"x"}`},
		{"plain string", `{"content":"just words"}`, false, false, "just words"},
		{"string that is not json", `{"content":"{not json"}`, false, false, "{not json"},
		{"scalar json string stays text", `{"content":"42"}`, false, false, "42"},
		{"response fallback", `{"response":"from response"}`, false, false, "from response"},
		{"empty content falls back", `{"content":"","response":"fallback"}`, false, false, "fallback"},
		{"neither field", `{"other":1}`, false, false, ""},
		{"not json", "<html>oops</html>", false, true, "<html>oops</html>"},
		{"bare array body", `[{"id":"1"}]`, true, false, `[{"id":"1"}]`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := normalizeBody([]byte(tc.body))
			assert.Equal(t, tc.structured, got.IsStructured())
			assert.Equal(t, tc.malformed, got.Malformed())
			assert.Equal(t, tc.text, got.Text())
		})
	}
}

func TestContentDecode(t *testing.T) {
	var v map[string]string
	assert.ErrorIs(t, TextContent("hi").Decode(&v), ErrNotStructured)
	assert.Nil(t, TextContent("hi").JSON())

	c := normalizeBody([]byte(`{"content":{"a":"b"}}`))
	assert.NoError(t, c.Decode(&v))
	assert.Equal(t, "b", v["a"])
}

func TestParseRetryAfter(t *testing.T) {
	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

	d, ok := parseRetryAfter("30", now)
	assert.True(t, ok)
	assert.Equal(t, 30*time.Second, d)

	d, ok = parseRetryAfter(now.Add(90*time.Second).Format(http.TimeFormat), now)
	assert.True(t, ok)
	assert.Equal(t, 90*time.Second, d)

	d, ok = parseRetryAfter(now.Add(-time.Minute).Format(http.TimeFormat), now)
	assert.True(t, ok)
	assert.Zero(t, d)

	for _, bad := range []string{"", "soon", "-5"} {
		_, ok = parseRetryAfter(bad, now)
		assert.False(t, ok, bad)
	}
}

func TestAttemptStates(t *testing.T) {
	assert.Equal(t, "first_attempt", firstAttempt.String())
	assert.Equal(t, "retry_after_refresh", retryAfterRefresh.String())
}
