package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"time"

	"chat-core/internal/domain"
)

// ErrUploadFailed возвращается, когда сервер завершил задачу загрузки с ошибкой.
var ErrUploadFailed = errors.New("upload task failed")

// APIError — ответ сервера с кодом ошибки.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	switch {
	case e.StatusCode == 0:
		return e.Message
	case e.Message == "":
		return fmt.Sprintf("unexpected status code: %d", e.StatusCode)
	default:
		return fmt.Sprintf("server returned %d: %s", e.StatusCode, e.Message)
	}
}

// Client — клиент HTTP API чат-сервера.
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client

	// PollInterval — пауза между опросами статуса задачи загрузки.
	PollInterval time.Duration
}

// New создает клиент. token передается в заголовке Authorization.
func New(baseURL, token string) *Client {
	return &Client{
		baseURL: baseURL,
		token:   token,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		PollInterval: time.Second,
	}
}

// ChannelInfo — канал и его тип.
type ChannelInfo struct {
	ChannelID string             `json:"channel_id"`
	Kind      domain.ChannelKind `json:"kind"`
}

// History — ответ на запрос истории канала.
type History struct {
	ChannelID string           `json:"channel_id"`
	Query     string           `json:"query,omitempty"`
	Messages  []domain.Message `json:"messages"`
}

// UploadTask — состояние фоновой загрузки медиафайла.
type UploadTask struct {
	TaskID       string          `json:"task_id"`
	ChannelID    string          `json:"channel_id"`
	Status       string          `json:"status"`
	Message      *domain.Message `json:"message,omitempty"`
	ErrorMessage string          `json:"error_message,omitempty"`
}

// PrivateChannel возвращает личный канал с пользователем otherID.
func (c *Client) PrivateChannel(ctx context.Context, otherID string) (ChannelInfo, error) {
	var out ChannelInfo
	err := c.doJSON(ctx, http.MethodPost, "/api/v1/channels/private", map[string]string{"other_id": otherID}, http.StatusOK, &out)
	return out, err
}

// Channel возвращает тип канала.
func (c *Client) Channel(ctx context.Context, channelID string) (ChannelInfo, error) {
	var out ChannelInfo
	err := c.doJSON(ctx, http.MethodGet, channelPath(channelID, ""), nil, http.StatusOK, &out)
	return out, err
}

// SendText отправляет текстовое сообщение.
func (c *Client) SendText(ctx context.Context, channelID, text string) (domain.Message, error) {
	var out domain.Message
	body := map[string]string{"kind": string(domain.KindText), "text": text}
	err := c.doJSON(ctx, http.MethodPost, channelPath(channelID, "/messages"), body, http.StatusCreated, &out)
	return out, err
}

// History возвращает сообщения канала, отфильтрованные по query.
func (c *Client) History(ctx context.Context, channelID, query string) (History, error) {
	path := channelPath(channelID, "/messages")
	if query != "" {
		path += "?q=" + url.QueryEscape(query)
	}
	var out History
	err := c.doJSON(ctx, http.MethodGet, path, nil, http.StatusOK, &out)
	return out, err
}

// Pinned возвращает закрепленное сообщение или nil.
func (c *Client) Pinned(ctx context.Context, channelID string) (*domain.Message, error) {
	var out struct {
		Pinned *domain.Message `json:"pinned"`
	}
	err := c.doJSON(ctx, http.MethodGet, channelPath(channelID, "/pinned"), nil, http.StatusOK, &out)
	return out.Pinned, err
}

// Pin закрепляет сообщение.
func (c *Client) Pin(ctx context.Context, channelID, messageID string) error {
	return c.doJSON(ctx, http.MethodPut, channelPath(channelID, "/messages/"+url.PathEscape(messageID)+"/pin"), nil, http.StatusNoContent, nil)
}

// Unpin снимает закрепление.
func (c *Client) Unpin(ctx context.Context, channelID, messageID string) error {
	return c.doJSON(ctx, http.MethodDelete, channelPath(channelID, "/messages/"+url.PathEscape(messageID)+"/pin"), nil, http.StatusNoContent, nil)
}

// MarkRead отмечает сообщение прочитанным.
func (c *Client) MarkRead(ctx context.Context, channelID, messageID string) error {
	return c.doJSON(ctx, http.MethodPost, channelPath(channelID, "/messages/"+url.PathEscape(messageID)+"/read"), nil, http.StatusNoContent, nil)
}

// StartUpload отправляет файл и возвращает ID задачи загрузки.
// Пустой kind оставляет определение типа серверу.
func (c *Client) StartUpload(ctx context.Context, channelID, fileName string, content io.Reader, kind domain.Kind) (string, error) {
	var b bytes.Buffer
	w := multipart.NewWriter(&b)
	if kind != "" {
		if err := w.WriteField("kind", string(kind)); err != nil {
			return "", fmt.Errorf("failed to write kind field: %w", err)
		}
	}
	fw, err := w.CreateFormFile("file", fileName)
	if err != nil {
		return "", fmt.Errorf("failed to create form file for %s: %w", fileName, err)
	}
	if _, err = io.Copy(fw, content); err != nil {
		return "", fmt.Errorf("failed to copy file content for %s: %w", fileName, err)
	}
	if err := w.Close(); err != nil {
		return "", fmt.Errorf("failed to close multipart writer: %w", err)
	}

	req, err := c.newRequest(ctx, http.MethodPost, channelPath(channelID, "/media"), &b)
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", w.FormDataContentType())

	var out struct {
		TaskID string `json:"task_id"`
	}
	if err := c.do(req, http.StatusAccepted, &out); err != nil {
		return "", err
	}
	if out.TaskID == "" {
		return "", errors.New("task id missing in response")
	}
	return out.TaskID, nil
}

// UploadStatus запрашивает состояние задачи загрузки.
func (c *Client) UploadStatus(ctx context.Context, taskID string) (UploadTask, error) {
	var out UploadTask
	err := c.doJSON(ctx, http.MethodGet, "/api/v1/uploads/"+url.PathEscape(taskID), nil, http.StatusOK, &out)
	return out, err
}

// WaitUpload опрашивает задачу, пока она не завершится.
func (c *Client) WaitUpload(ctx context.Context, taskID string) (domain.Message, error) {
	ticker := time.NewTicker(c.PollInterval)
	defer ticker.Stop()
	for {
		task, err := c.UploadStatus(ctx, taskID)
		if err != nil {
			return domain.Message{}, err
		}
		switch task.Status {
		case "completed":
			if task.Message == nil {
				return domain.Message{}, errors.New("completed task has no message")
			}
			return *task.Message, nil
		case "failed":
			return domain.Message{}, fmt.Errorf("%w: %s", ErrUploadFailed, task.ErrorMessage)
		case "pending", "uploading":
		default:
			return domain.Message{}, fmt.Errorf("unknown task status %q", task.Status)
		}

		select {
		case <-ctx.Done():
			return domain.Message{}, ctx.Err()
		case <-ticker.C:
		}
	}
}

func channelPath(channelID, suffix string) string {
	return "/api/v1/channels/" + url.PathEscape(channelID) + suffix
}

func (c *Client) newRequest(ctx context.Context, method, path string, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	return req, nil
}

func (c *Client) doJSON(ctx context.Context, method, path string, in any, want int, out any) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("failed to encode request: %w", err)
		}
		body = bytes.NewReader(data)
	}
	req, err := c.newRequest(ctx, method, path, body)
	if err != nil {
		return err
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return c.do(req, want, out)
}

func (c *Client) do(req *http.Request, want int, out any) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != want {
		apiErr := &APIError{StatusCode: resp.StatusCode}
		var e struct {
			Error string `json:"error"`
		}
		if json.NewDecoder(resp.Body).Decode(&e) == nil {
			apiErr.Message = e.Error
		}
		return apiErr
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}
