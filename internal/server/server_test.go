package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chat-core/internal/adapters/blob"
	"chat-core/internal/adapters/directory"
	"chat-core/internal/adapters/identity"
	"chat-core/internal/adapters/store/memory"
	"chat-core/internal/core/services"
	"chat-core/internal/core/status"
	"chat-core/internal/domain"
	"chat-core/internal/metrics"
	"chat-core/internal/pkg/config"
)

const testSecret = "server-test-secret"

type testServer struct {
	srv   *Server
	store *memory.Store
	svc   *services.MessagingService
}

func testConfig() *config.Config {
	return &config.Config{
		Server: config.Server{
			Host:            "localhost",
			Port:            8080,
			MaxUploadSizeMB: 1,
			UploadTimeout:   5 * time.Second,
			UploadTaskTTL:   time.Minute,
			CleanupInterval: time.Hour,
		},
	}
}

func newTestServer(t *testing.T, mutate func(*config.Config)) *testServer {
	t.Helper()
	cfg := testConfig()
	if mutate != nil {
		mutate(cfg)
	}

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	var tick atomic.Int64
	store := memory.New(memory.WithLogger(logger), memory.WithClock(func() time.Time {
		return time.UnixMilli(1_700_000_000_000 + tick.Add(1))
	}))
	tracker := status.NewTracker(store,
		status.WithLogger(logger),
		status.WithConfig(status.Config{
			DeliveredDelay: 20 * time.Millisecond,
			ReadDelayMin:   5 * time.Millisecond,
			ReadDelayMax:   10 * time.Millisecond,
		}),
	)
	svc := services.NewMessagingService(store, blob.NewMemory("http://blob"), identity.Context{},
		services.WithLogger(logger),
		services.WithDirectory(directory.NewMemory()),
		services.WithTracker(tracker),
	)

	verifier, err := identity.NewHMACVerifier(testSecret)
	require.NoError(t, err)
	reg := prometheus.NewRegistry()
	require.NoError(t, metrics.Register(reg))

	srv, err := New(cfg, svc, NewTaskStore(),
		WithLogger(logger),
		WithVerifier(verifier),
		WithRegistry(reg),
	)
	require.NoError(t, err)

	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
		svc.Close(ctx)
	})
	return &testServer{srv: srv, store: store, svc: svc}
}

func token(t *testing.T, userID, name string) string {
	t.Helper()
	claims := identity.Claims{
		UserID: userID,
		Name:   name,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	}
	s, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(testSecret))
	require.NoError(t, err)
	return s
}

func (ts *testServer) do(t *testing.T, method, path, tok string, body io.Reader, contentType string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, body)
	if tok != "" {
		req.Header.Set("Authorization", "Bearer "+tok)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	rr := httptest.NewRecorder()
	ts.srv.Handler().ServeHTTP(rr, req)
	return rr
}

func (ts *testServer) send(t *testing.T, tok, channelID, body string) domain.Message {
	t.Helper()
	rr := ts.do(t, http.MethodPost, "/api/v1/channels/"+channelID+"/messages", tok, strings.NewReader(body), "application/json")
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	var msg domain.Message
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&msg))
	return msg
}

func TestServer_Health(t *testing.T) {
	ts := newTestServer(t, nil)

	rr := ts.do(t, http.MethodGet, "/health", "", nil, "")
	assert.Equal(t, http.StatusOK, rr.Code)
	var resp map[string]string
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&resp))
	assert.Equal(t, "ok", resp["status"])
}

func TestServer_Auth(t *testing.T) {
	ts := newTestServer(t, nil)

	t.Run("anonymous send is rejected", func(t *testing.T) {
		rr := ts.do(t, http.MethodPost, "/api/v1/channels/u1_u2/messages", "", strings.NewReader(`{"text":"oi"}`), "application/json")
		assert.Equal(t, http.StatusUnauthorized, rr.Code)
	})

	t.Run("невалидный токен", func(t *testing.T) {
		rr := ts.do(t, http.MethodGet, "/api/v1/channels/u1_u2/messages", "not-a-jwt", nil, "")
		assert.Equal(t, http.StatusUnauthorized, rr.Code)
	})

	t.Run("anonymous history is rejected", func(t *testing.T) {
		rr := ts.do(t, http.MethodGet, "/api/v1/channels/u1_u2/messages", "", nil, "")
		assert.Equal(t, http.StatusUnauthorized, rr.Code)
	})
}

func TestServer_PrivateChannel(t *testing.T) {
	ts := newTestServer(t, nil)
	tok := token(t, "u9", "Nove")

	rr := ts.do(t, http.MethodPost, "/api/v1/channels/private", tok, strings.NewReader(`{"other_id":"u2"}`), "application/json")
	require.Equal(t, http.StatusOK, rr.Code)
	var resp channelResponse
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&resp))
	assert.Equal(t, "u2_u9", resp.ChannelID)
	assert.Equal(t, domain.ChannelPrivate, resp.Kind)

	rr = ts.do(t, http.MethodPost, "/api/v1/channels/private", tok, strings.NewReader(`{"other_id":"u9"}`), "application/json")
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	rr = ts.do(t, http.MethodPost, "/api/v1/channels/private", tok, strings.NewReader(`{`), "application/json")
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	rr = ts.do(t, http.MethodGet, "/api/v1/channels/team", tok, nil, "")
	require.Equal(t, http.StatusOK, rr.Code)
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&resp))
	assert.Equal(t, domain.ChannelGroup, resp.Kind)
}

func TestServer_SendAndHistory(t *testing.T) {
	ts := newTestServer(t, nil)
	tok := token(t, "u1", "Ana")

	first := ts.send(t, tok, "team", `{"kind":"TEXT","text":"primeiro áudio"}`)
	assert.Equal(t, "u1", first.SenderID)
	assert.Equal(t, "Ana", first.SenderName)
	assert.Equal(t, domain.StatusSent, first.Status)
	ts.send(t, tok, "team", `{"text":"nada a ver"}`)
	ts.send(t, tok, "team", `{"kind":"STICKER","image_url":"http://stickers/1.webp"}`)

	t.Run("full history", func(t *testing.T) {
		rr := ts.do(t, http.MethodGet, "/api/v1/channels/team/messages", tok, nil, "")
		require.Equal(t, http.StatusOK, rr.Code)
		var resp struct {
			Messages []domain.Message `json:"messages"`
		}
		require.NoError(t, json.NewDecoder(rr.Body).Decode(&resp))
		assert.Len(t, resp.Messages, 3)
	})

	t.Run("поиск без учета регистра", func(t *testing.T) {
		rr := ts.do(t, http.MethodGet, "/api/v1/channels/team/messages?q=%C3%81UDIO", tok, nil, "")
		require.Equal(t, http.StatusOK, rr.Code)
		var resp struct {
			Query    string           `json:"query"`
			Messages []domain.Message `json:"messages"`
		}
		require.NoError(t, json.NewDecoder(rr.Body).Decode(&resp))
		assert.Equal(t, "ÁUDIO", resp.Query)
		// стикер с картинкой попадает в любой поиск
		require.Len(t, resp.Messages, 2)
		assert.Equal(t, first.ID, resp.Messages[0].ID)
		assert.Equal(t, domain.KindSticker, resp.Messages[1].Kind)
	})

	t.Run("empty channel returns empty list", func(t *testing.T) {
		rr := ts.do(t, http.MethodGet, "/api/v1/channels/empty/messages", tok, nil, "")
		require.Equal(t, http.StatusOK, rr.Code)
		assert.Contains(t, rr.Body.String(), `"messages":[]`)
	})

	t.Run("invalid drafts", func(t *testing.T) {
		for _, body := range []string{`{"text":"   "}`, `{"kind":"STICKER"}`, `{"kind":"AUDIO"}`, `{"kind":"GIF","text":"x"}`, `nope`} {
			rr := ts.do(t, http.MethodPost, "/api/v1/channels/team/messages", tok, strings.NewReader(body), "application/json")
			assert.Equal(t, http.StatusBadRequest, rr.Code, body)
		}
	})
}

func TestServer_ReadAndPin(t *testing.T) {
	ts := newTestServer(t, nil)
	alice := token(t, "u1", "Ana")
	bob := token(t, "u2", "Bruno")

	m1 := ts.send(t, alice, "u1_u2", `{"text":"um"}`)
	m2 := ts.send(t, alice, "u1_u2", `{"text":"dois"}`)

	t.Run("read", func(t *testing.T) {
		rr := ts.do(t, http.MethodPost, "/api/v1/channels/u1_u2/messages/"+m1.ID+"/read", bob, nil, "")
		require.Equal(t, http.StatusNoContent, rr.Code)

		got, err := ts.store.Get(context.Background(), "u1_u2", m1.ID)
		require.NoError(t, err)
		assert.True(t, got.HasReadBy("u2"))
		assert.Equal(t, domain.StatusRead, got.Status)

		rr = ts.do(t, http.MethodPost, "/api/v1/channels/u1_u2/messages/missing/read", bob, nil, "")
		assert.Equal(t, http.StatusNotFound, rr.Code)
	})

	pinned := func() *domain.Message {
		rr := ts.do(t, http.MethodGet, "/api/v1/channels/u1_u2/pinned", bob, nil, "")
		require.Equal(t, http.StatusOK, rr.Code)
		var resp struct {
			Pinned *domain.Message `json:"pinned"`
		}
		require.NoError(t, json.NewDecoder(rr.Body).Decode(&resp))
		return resp.Pinned
	}

	t.Run("pin replaces previous", func(t *testing.T) {
		assert.Nil(t, pinned())

		require.Equal(t, http.StatusNoContent, ts.do(t, http.MethodPut, "/api/v1/channels/u1_u2/messages/"+m1.ID+"/pin", bob, nil, "").Code)
		require.Equal(t, http.StatusNoContent, ts.do(t, http.MethodPut, "/api/v1/channels/u1_u2/messages/"+m2.ID+"/pin", alice, nil, "").Code)

		p := pinned()
		require.NotNil(t, p)
		assert.Equal(t, m2.ID, p.ID)
		assert.Equal(t, "u1", p.PinnedBy)

		old, err := ts.store.Get(context.Background(), "u1_u2", m1.ID)
		require.NoError(t, err)
		assert.False(t, old.IsPinned)
	})

	t.Run("unpin", func(t *testing.T) {
		require.Equal(t, http.StatusNoContent, ts.do(t, http.MethodDelete, "/api/v1/channels/u1_u2/messages/"+m2.ID+"/pin", bob, nil, "").Code)
		assert.Nil(t, pinned())
	})

	t.Run("pin missing message", func(t *testing.T) {
		rr := ts.do(t, http.MethodPut, "/api/v1/channels/u1_u2/messages/missing/pin", bob, nil, "")
		assert.Equal(t, http.StatusNotFound, rr.Code)
	})
}

func multipartBody(t *testing.T, fields map[string]string, fileName string, data []byte) (*bytes.Buffer, string) {
	t.Helper()
	var b bytes.Buffer
	w := multipart.NewWriter(&b)
	for k, v := range fields {
		require.NoError(t, w.WriteField(k, v))
	}
	fw, err := w.CreateFormFile("file", fileName)
	require.NoError(t, err)
	_, err = fw.Write(data)
	require.NoError(t, err)
	require.NoError(t, w.Close())
	return &b, w.FormDataContentType()
}

func (ts *testServer) waitTask(t *testing.T, tok, taskID string) Task {
	t.Helper()
	var task Task
	require.Eventually(t, func() bool {
		rr := ts.do(t, http.MethodGet, "/api/v1/uploads/"+taskID, tok, nil, "")
		if rr.Code != http.StatusOK {
			return false
		}
		task = Task{}
		if err := json.NewDecoder(rr.Body).Decode(&task); err != nil {
			return false
		}
		return task.Status == TaskStatusCompleted || task.Status == TaskStatusFailed
	}, 2*time.Second, 10*time.Millisecond)
	return task
}

func TestServer_MediaUpload(t *testing.T) {
	ts := newTestServer(t, nil)
	tok := token(t, "u1", "Ana")

	t.Run("audio with explicit kind", func(t *testing.T) {
		body, ct := multipartBody(t, map[string]string{"kind": "AUDIO", "duration_ms": "4200"}, "voice.ogg", []byte("OggS fake audio"))
		rr := ts.do(t, http.MethodPost, "/api/v1/channels/u1_u2/media", tok, body, ct)
		require.Equal(t, http.StatusAccepted, rr.Code, rr.Body.String())

		var resp map[string]string
		require.NoError(t, json.NewDecoder(rr.Body).Decode(&resp))
		require.NotEmpty(t, resp["task_id"])

		task := ts.waitTask(t, tok, resp["task_id"])
		require.Equal(t, TaskStatusCompleted, task.Status, task.ErrorMessage)
		require.NotNil(t, task.Message)
		assert.Equal(t, domain.KindAudio, task.Message.Kind)
		assert.Equal(t, int64(4200), task.Message.AudioDuration)
		assert.True(t, strings.HasPrefix(task.Message.AudioURL, "http://blob/"), task.Message.AudioURL)

		other := token(t, "u2", "Bruno")
		rr = ts.do(t, http.MethodGet, "/api/v1/uploads/"+resp["task_id"], other, nil, "")
		assert.Equal(t, http.StatusNotFound, rr.Code)
	})

	t.Run("тип определяется по файлу", func(t *testing.T) {
		body, ct := multipartBody(t, nil, "photo.png", []byte("\x89PNG\r\n\x1a\nfake"))
		rr := ts.do(t, http.MethodPost, "/api/v1/channels/u1_u2/media", tok, body, ct)
		require.Equal(t, http.StatusAccepted, rr.Code)

		var resp map[string]string
		require.NoError(t, json.NewDecoder(rr.Body).Decode(&resp))
		task := ts.waitTask(t, tok, resp["task_id"])
		require.NotNil(t, task.Message)
		assert.Equal(t, domain.KindImage, task.Message.Kind)
		assert.Equal(t, "image/png", task.Message.MimeType)
	})

	t.Run("missing file", func(t *testing.T) {
		var b bytes.Buffer
		w := multipart.NewWriter(&b)
		require.NoError(t, w.WriteField("kind", "FILE"))
		require.NoError(t, w.Close())
		rr := ts.do(t, http.MethodPost, "/api/v1/channels/u1_u2/media", tok, &b, w.FormDataContentType())
		assert.Equal(t, http.StatusBadRequest, rr.Code)
	})

	t.Run("anonymous upload", func(t *testing.T) {
		body, ct := multipartBody(t, nil, "a.txt", []byte("x"))
		rr := ts.do(t, http.MethodPost, "/api/v1/channels/u1_u2/media", "", body, ct)
		assert.Equal(t, http.StatusUnauthorized, rr.Code)
	})

	t.Run("некорректная длительность", func(t *testing.T) {
		for _, d := range []string{"abc", "4.2", "-100"} {
			before := ts.srv.taskStore.Len()
			body, ct := multipartBody(t, map[string]string{"kind": "AUDIO", "duration_ms": d}, "voice.ogg", []byte("OggS fake audio"))
			rr := ts.do(t, http.MethodPost, "/api/v1/channels/u1_u2/media", tok, body, ct)
			assert.Equal(t, http.StatusBadRequest, rr.Code, d)
			assert.Contains(t, rr.Body.String(), "duration_ms", d)
			assert.Equal(t, before, ts.srv.taskStore.Len(), "task must not be created for %q", d)
		}
	})
}

func TestServer_RunUploadMissingTask(t *testing.T) {
	ts := newTestServer(t, nil)
	var logs bytes.Buffer
	ts.srv.log = slog.New(slog.NewTextHandler(&logs, nil))

	ctx := identity.WithUser(context.Background(), domain.User{ID: "u1", DisplayName: "Ana"})
	draft := domain.Draft{Kind: domain.KindFile, Data: []byte("report"), FileName: "report.txt"}

	t.Run("задача удалена до завершения", func(t *testing.T) {
		ts.srv.runUpload(ctx, "gone-task", "u1_u2", draft)

		out := logs.String()
		assert.Contains(t, out, "Failed to mark upload task as uploading")
		assert.Contains(t, out, "Upload finished but task is gone")
		assert.Contains(t, out, "task_id=gone-task")
	})

	t.Run("failure is logged when task is gone", func(t *testing.T) {
		logs.Reset()
		ts.srv.runUpload(ctx, "gone-task", "u1_u2", domain.Draft{Kind: domain.KindFile, FileName: "empty.txt"})

		out := logs.String()
		assert.Contains(t, out, "Media message failed")
		assert.Contains(t, out, "Failed to record upload task failure")
	})
}

func TestServer_RateLimit(t *testing.T) {
	ts := newTestServer(t, func(c *config.Config) {
		c.RateLimit = config.RateLimit{RequestsPerMinute: 60, Burst: 2}
	})
	tok := token(t, "u1", "Ana")

	codes := make([]int, 0, 3)
	for i := 0; i < 3; i++ {
		codes = append(codes, ts.do(t, http.MethodGet, "/api/v1/channels/team/messages", tok, nil, "").Code)
	}
	assert.Equal(t, []int{http.StatusOK, http.StatusOK, http.StatusTooManyRequests}, codes)

	// health не ограничивается
	assert.Equal(t, http.StatusOK, ts.do(t, http.MethodGet, "/health", "", nil, "").Code)
}

func TestServer_Metrics(t *testing.T) {
	ts := newTestServer(t, nil)
	ts.send(t, token(t, "u1", "Ana"), "team", `{"text":"oi"}`)

	rr := ts.do(t, http.MethodGet, "/metrics", "", nil, "")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), `chat_messages_sent_total{kind="TEXT"}`)
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{domain.ErrAuthRequired, http.StatusUnauthorized},
		{fmt.Errorf("message x: %w", domain.ErrNotFound), http.StatusNotFound},
		{domain.ErrInvalidMessage, http.StatusBadRequest},
		{domain.ErrInvalidParticipant, http.StatusBadRequest},
		{fmt.Errorf("%w: s3 timeout", domain.ErrUpload), http.StatusBadGateway},
		{domain.ErrWrite, http.StatusServiceUnavailable},
		{domain.ErrSubscription, http.StatusServiceUnavailable},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.err.Error(), func(t *testing.T) {
			assert.Equal(t, tt.want, statusFor(tt.err))
		})
	}
}
