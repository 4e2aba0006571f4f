package client

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chat-core/internal/domain"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func TestClient_SendAndHistory(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/v1/channels/{id}/messages", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer tok", r.Header.Get("Authorization"))
		assert.Equal(t, "u1_u2", r.PathValue("id"))
		var body map[string]string
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "TEXT", body["kind"])
		writeJSON(w, http.StatusCreated, domain.Message{ID: "m1", Kind: domain.KindText, Text: body["text"], Status: domain.StatusSent})
	})
	mux.HandleFunc("GET /api/v1/channels/{id}/messages", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, History{
			ChannelID: r.PathValue("id"),
			Query:     r.URL.Query().Get("q"),
			Messages:  []domain.Message{{ID: "m1", Text: "olá mundo"}},
		})
	})
	ts := httptest.NewServer(mux)
	defer ts.Close()

	c := New(ts.URL, "tok")

	msg, err := c.SendText(context.Background(), "u1_u2", "olá mundo")
	require.NoError(t, err)
	assert.Equal(t, "m1", msg.ID)
	assert.Equal(t, domain.StatusSent, msg.Status)

	h, err := c.History(context.Background(), "u1_u2", "olá mundo")
	require.NoError(t, err)
	assert.Equal(t, "olá mundo", h.Query)
	require.Len(t, h.Messages, 1)
}

func TestClient_APIError(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "authentication required"})
	}))
	defer ts.Close()

	_, err := New(ts.URL, "").PrivateChannel(context.Background(), "u2")
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusUnauthorized, apiErr.StatusCode)
	assert.Equal(t, "server returned 401: authentication required", apiErr.Error())
}

func TestClient_PinReadUnpin(t *testing.T) {
	var (
		mu    sync.Mutex
		calls []string
	)
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		calls = append(calls, r.Method+" "+r.URL.Path)
		mu.Unlock()
		w.WriteHeader(http.StatusNoContent)
	}))
	defer ts.Close()

	c := New(ts.URL, "tok")
	ctx := context.Background()
	require.NoError(t, c.Pin(ctx, "group_team", "m1"))
	require.NoError(t, c.MarkRead(ctx, "group_team", "m1"))
	require.NoError(t, c.Unpin(ctx, "group_team", "m1"))

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{
		"PUT /api/v1/channels/group_team/messages/m1/pin",
		"POST /api/v1/channels/group_team/messages/m1/read",
		"DELETE /api/v1/channels/group_team/messages/m1/pin",
	}, calls)
}

func TestClient_Upload(t *testing.T) {
	var polls atomic.Int32
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/v1/channels/{id}/media", func(w http.ResponseWriter, r *http.Request) {
		assert.NoError(t, r.ParseMultipartForm(1<<20))
		assert.Equal(t, "FILE", r.FormValue("kind"))
		f, hdr, err := r.FormFile("file")
		if !assert.NoError(t, err) {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		defer f.Close()
		data, _ := io.ReadAll(f)
		assert.Equal(t, "report.pdf", hdr.Filename)
		assert.Equal(t, "%PDF-1.4", string(data))
		writeJSON(w, http.StatusAccepted, map[string]string{"task_id": "t1"})
	})
	mux.HandleFunc("GET /api/v1/uploads/{id}", func(w http.ResponseWriter, r *http.Request) {
		if polls.Add(1) < 3 {
			writeJSON(w, http.StatusOK, UploadTask{TaskID: "t1", Status: "uploading"})
			return
		}
		writeJSON(w, http.StatusOK, UploadTask{TaskID: "t1", Status: "completed", Message: &domain.Message{ID: "m9", Kind: domain.KindFile}})
	})
	mux.HandleFunc("GET /api/v1/uploads/bad", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, UploadTask{TaskID: "bad", Status: "failed", ErrorMessage: "media upload failed"})
	})
	ts := httptest.NewServer(mux)
	defer ts.Close()

	c := New(ts.URL, "tok")
	c.PollInterval = time.Millisecond

	t.Run("задача завершается сообщением", func(t *testing.T) {
		id, err := c.StartUpload(context.Background(), "u1_u2", "report.pdf", strings.NewReader("%PDF-1.4"), domain.KindFile)
		require.NoError(t, err)
		assert.Equal(t, "t1", id)

		msg, err := c.WaitUpload(context.Background(), id)
		require.NoError(t, err)
		assert.Equal(t, "m9", msg.ID)
		assert.EqualValues(t, 3, polls.Load())
	})

	t.Run("failed task", func(t *testing.T) {
		_, err := c.WaitUpload(context.Background(), "bad")
		assert.ErrorIs(t, err, ErrUploadFailed)
		assert.Contains(t, err.Error(), "media upload failed")
	})
}

func TestStream(t *testing.T) {
	commands := make(chan command, 1)
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/channels/group_team/stream", r.URL.Path)
		assert.Equal(t, "hello", r.URL.Query().Get("q"))
		assert.Equal(t, "Bearer tok", r.Header.Get("Authorization"))

		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		defer conn.CloseNow()
		ctx := r.Context()

		_ = wsjson.Write(ctx, conn, frame{Type: "view", View: &View{ChannelID: "group_team", Query: "hello", Total: 2}})
		var cmd command
		if err := wsjson.Read(ctx, conn, &cmd); err != nil {
			return
		}
		commands <- cmd
		_ = wsjson.Write(ctx, conn, frame{Type: "error", Error: "not found"})
		conn.Close(websocket.StatusNormalClosure, "")
	}))
	defer ts.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	s, err := New(ts.URL, "tok").OpenStream(ctx, "group_team", "hello")
	require.NoError(t, err)

	v, err := s.Next(ctx)
	require.NoError(t, err)
	assert.Equal(t, "group_team", v.ChannelID)
	assert.Equal(t, 2, v.Total)

	require.NoError(t, s.MarkRead(ctx, "m1"))
	assert.Equal(t, command{Type: "read", MessageID: "m1"}, <-commands)

	_, err = s.Next(ctx)
	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, "not found", apiErr.Error())

	_, err = s.Next(ctx)
	assert.True(t, IsClosed(err))
}
