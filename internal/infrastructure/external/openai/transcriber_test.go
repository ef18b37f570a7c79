package openai

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/garyjia/docledger/internal/application/port"
	openai "github.com/sashabaranov/go-openai"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func fakeAPI(t *testing.T, answer string, seen *openai.ChatCompletionRequest) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/v1/chat/completions", r.URL.Path)
		require.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))
		if seen != nil {
			require.NoError(t, json.NewDecoder(r.Body).Decode(seen))
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(openai.ChatCompletionResponse{
			ID: "chatcmpl-1",
			Choices: []openai.ChatCompletionChoice{{
				Message: openai.ChatCompletionMessage{Role: openai.ChatMessageRoleAssistant, Content: answer},
			}},
			Usage: openai.Usage{TotalTokens: 321},
		})
	}))
	t.Cleanup(srv.Close)
	return srv
}

func newTestTranscriber(url string) *Transcriber {
	return NewTranscriber(Config{APIKey: "sk-test", BaseURL: url + "/v1", Model: "gpt-4o"}, nil, zap.NewNop())
}

func TestTranscriber_Transcribe(t *testing.T) {
	var req openai.ChatCompletionRequest
	srv := fakeAPI(t, "Migros\nTotal CHF 54.10\n", &req)

	text, err := newTestTranscriber(srv.URL).Transcribe(context.Background(), []port.PageImage{
		{Page: 1, MimeType: "image/jpeg", Data: []byte{0xff, 0xd8}},
		{Page: 2, MimeType: "image/jpeg", Data: []byte{0xff, 0xd9}},
	})
	require.NoError(t, err)
	assert.Equal(t, "Migros\nTotal CHF 54.10", text)

	assert.Equal(t, "gpt-4o", req.Model)
	require.Len(t, req.Messages, 2)
	assert.Equal(t, openai.ChatMessageRoleSystem, req.Messages[0].Role)
	parts := req.Messages[1].MultiContent
	require.Len(t, parts, 3)
	assert.Contains(t, parts[0].Text, "2 page(s)")
	assert.Contains(t, parts[0].Text, "---")
	assert.Equal(t, "data:image/jpeg;base64,/9g=", parts[1].ImageURL.URL)
}

func TestTranscriber_StripsFences(t *testing.T) {
	srv := fakeAPI(t, "```text\nRechnung\nTotal 10.00\n```", nil)
	text, err := newTestTranscriber(srv.URL).Transcribe(context.Background(), []port.PageImage{{Page: 1, MimeType: "image/png", Data: []byte("x")}})
	require.NoError(t, err)
	assert.Equal(t, "Rechnung\nTotal 10.00", text)
}

func TestTranscriber_Errors(t *testing.T) {
	srv := fakeAPI(t, "   ", nil)
	tr := newTestTranscriber(srv.URL)

	_, err := tr.Transcribe(context.Background(), []port.PageImage{{Page: 1, MimeType: "image/png", Data: []byte("x")}})
	assert.ErrorIs(t, err, ErrEmptyTranscription)

	_, err = tr.Transcribe(context.Background(), nil)
	assert.Error(t, err)

	failing := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":{"message":"rate limited","type":"rate_limit"}}`, http.StatusTooManyRequests)
	}))
	defer failing.Close()
	_, err = newTestTranscriber(failing.URL).Transcribe(context.Background(), []port.PageImage{{Page: 1, MimeType: "image/png", Data: []byte("x")}})
	require.Error(t, err)
	assert.True(t, strings.HasPrefix(err.Error(), "vision API call failed"))
}

func TestParsePrompts(t *testing.T) {
	p := DefaultPrompts()
	assert.NotEmpty(t, p.Transcription.System)

	_, err := ParsePrompts([]byte("transcription:\n  system: x\n"))
	assert.Error(t, err)

	_, err = ParsePrompts([]byte("transcription:\n  system: x\n  user_template: \"{{.Missing\"\n"))
	assert.Error(t, err)
}
