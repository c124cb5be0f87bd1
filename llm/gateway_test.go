package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type planShape struct {
	Tasks []string `json:"tasks"`
}

func chatResponseBody(content string) []byte {
	body, _ := json.Marshal(chatResponse{
		Choices: []struct {
			Message chatMessage `json:"message"`
		}{{Message: chatMessage{Role: "assistant", Content: content}}},
	})
	return body
}

func TestRunForStructuredSucceedsFirstTry(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write(chatResponseBody(`{"tasks":["a","b"]}`))
	}))
	defer srv.Close()

	g := New(Config{BaseURL: srv.URL, Model: "gpt-4", MaxRetries: 2}, nil)
	var out planShape
	err := g.RunForStructured(context.Background(), "plan", "request", &out)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, out.Tasks)
}

func TestRunForStructuredRetriesOnBadJSONThenSucceeds(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) == 1 {
			w.Write(chatResponseBody(`not json`))
			return
		}
		w.Write(chatResponseBody(`{"tasks":["recovered"]}`))
	}))
	defer srv.Close()

	g := New(Config{BaseURL: srv.URL, Model: "gpt-4", MaxRetries: 2}, nil)
	g.pollWaitForTest()
	var out planShape
	err := g.RunForStructured(context.Background(), "plan", "request", &out)
	require.NoError(t, err)
	assert.Equal(t, []string{"recovered"}, out.Tasks)
	assert.Equal(t, int32(2), atomic.LoadInt32(&calls))
}

func TestRunForStructuredDoesNotRetry4xx(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`bad request`))
	}))
	defer srv.Close()

	g := New(Config{BaseURL: srv.URL, Model: "gpt-4", MaxRetries: 3}, nil)
	var out planShape
	err := g.RunForStructured(context.Background(), "plan", "request", &out)
	require.Error(t, err)
	var gwErr *Error
	require.ErrorAs(t, err, &gwErr)
	assert.Equal(t, ErrorHTTP4xx, gwErr.Kind)
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestRunForStructuredRetries5xxThenExhausts(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte(`boom`))
	}))
	defer srv.Close()

	g := New(Config{BaseURL: srv.URL, Model: "gpt-4", MaxRetries: 1}, nil)
	var out planShape
	err := g.RunForStructured(context.Background(), "plan", "request", &out)
	require.Error(t, err)
	var gwErr *Error
	require.ErrorAs(t, err, &gwErr)
	assert.Equal(t, ErrorHTTP5xx, gwErr.Kind)
}

// pollWaitForTest sets cfg.Timeout to 2s. New has already built the HTTP
// client and RunForStructured builds its own backoff, so neither the
// request timeout nor the ~500ms first retry interval changes.
func (g *Gateway) pollWaitForTest() {
	g.cfg.Timeout = 2 * time.Second
}
