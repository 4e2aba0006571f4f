package server

import (
	"context"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"chat-core/internal/adapters/blob"
	"chat-core/internal/adapters/identity"
	"chat-core/internal/domain"
)

type channelResponse struct {
	ChannelID string             `json:"channel_id"`
	Kind      domain.ChannelKind `json:"kind"`
}

func (s *Server) handlePrivateChannel(w http.ResponseWriter, r *http.Request) {
	var req struct {
		OtherID string `json:"other_id"`
	}
	if err := decodeJSON(w, r, &req); err != nil {
		badRequest(w, "Не удалось декодировать тело запроса")
		return
	}

	channelID, err := s.svc.PrivateChannel(r.Context(), req.OtherID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, channelResponse{ChannelID: channelID, Kind: domain.ChannelPrivate})
}

func (s *Server) handleChannel(w http.ResponseWriter, r *http.Request) {
	if _, ok := identity.FromContext(r.Context()); !ok {
		s.writeError(w, r, domain.ErrAuthRequired)
		return
	}
	channelID := chi.URLParam(r, "channelID")
	writeJSON(w, http.StatusOK, channelResponse{ChannelID: channelID, Kind: s.svc.ChannelKind(r.Context(), channelID)})
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	channelID := chi.URLParam(r, "channelID")
	query := r.URL.Query().Get("q")

	messages, err := s.svc.History(r.Context(), channelID, query)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if messages == nil {
		messages = []domain.Message{}
	}
	writeJSON(w, http.StatusOK, struct {
		ChannelID string           `json:"channel_id"`
		Query     string           `json:"query,omitempty"`
		Messages  []domain.Message `json:"messages"`
	}{channelID, query, messages})
}

// sendRequest — сообщение без загрузки файла: текст, эмодзи, стикер или картинка по URL.
type sendRequest struct {
	Kind     string `json:"kind"`
	Text     string `json:"text"`
	ImageURL string `json:"image_url"`
}

func (s *Server) handleSend(w http.ResponseWriter, r *http.Request) {
	var req sendRequest
	if err := decodeJSON(w, r, &req); err != nil {
		badRequest(w, "Не удалось декодировать тело запроса")
		return
	}

	draft := domain.Draft{
		Kind:     domain.ParseKind(req.Kind),
		Text:     req.Text,
		ImageURL: req.ImageURL,
	}
	msg, err := s.svc.Send(r.Context(), chi.URLParam(r, "channelID"), draft)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, msg)
}

// handleUpload принимает файл и отправляет сообщение в фоне.
// Клиент следит за задачей через /uploads/{taskID}.
func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	user, ok := identity.FromContext(r.Context())
	if !ok {
		s.writeError(w, r, domain.ErrAuthRequired)
		return
	}
	channelID := chi.URLParam(r, "channelID")

	maxBytes := int64(s.cfg.Server.MaxUploadSizeMB) << 20
	r.Body = http.MaxBytesReader(w, r.Body, maxBytes+(1<<20))
	if err := r.ParseMultipartForm(maxBytes); err != nil {
		badRequest(w, "Не удалось разобрать форму")
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		badRequest(w, "Не удалось получить файл из формы")
		return
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		badRequest(w, "Не удалось прочитать файл")
		return
	}

	draft := domain.Draft{
		Kind:     uploadKind(r.FormValue("kind"), header.Filename, data),
		Data:     data,
		FileName: header.Filename,
	}
	if d := r.FormValue("duration_ms"); d != "" {
		ms, err := strconv.ParseInt(d, 10, 64)
		if err != nil || ms < 0 {
			badRequest(w, "Некорректное значение duration_ms")
			return
		}
		draft.AudioDuration = ms
	}
	if err := draft.Validate(); err != nil {
		s.writeError(w, r, err)
		return
	}

	taskID := uuid.NewString()
	s.taskStore.CreateTask(taskID, user.ID, channelID, s.cfg.Server.UploadTaskTTL)

	// запрос завершится раньше загрузки; пользователь остается в контексте
	ctx := context.WithoutCancel(r.Context())
	s.uploads.Add(1)
	go func() {
		defer s.uploads.Done()
		s.runUpload(ctx, taskID, channelID, draft)
	}()

	writeJSON(w, http.StatusAccepted, map[string]string{"task_id": taskID})
}

func (s *Server) runUpload(ctx context.Context, taskID, channelID string, draft domain.Draft) {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.Server.UploadTimeout)
	defer cancel()

	if err := s.taskStore.UpdateTaskStatus(taskID, TaskStatusUploading); err != nil {
		s.log.Warn("Failed to mark upload task as uploading", "task_id", taskID, "error", err)
	}
	msg, err := s.svc.Send(ctx, channelID, draft)
	if err != nil {
		s.log.Warn("Media message failed", "task_id", taskID, "channel_id", channelID, "error", err)
		if err := s.taskStore.FailTask(taskID, err.Error()); err != nil {
			s.log.Warn("Failed to record upload task failure", "task_id", taskID, "error", err)
		}
		return
	}
	if err := s.taskStore.CompleteTask(taskID, msg); err != nil {
		s.log.Warn("Upload finished but task is gone", "task_id", taskID, "message_id", msg.ID, "error", err)
	}
}

func (s *Server) handleUploadStatus(w http.ResponseWriter, r *http.Request) {
	user, ok := identity.FromContext(r.Context())
	if !ok {
		s.writeError(w, r, domain.ErrAuthRequired)
		return
	}
	task, err := s.taskStore.GetTask(chi.URLParam(r, "taskID"), user.ID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, task)
}

func (s *Server) handleRead(w http.ResponseWriter, r *http.Request) {
	err := s.svc.MarkRead(r.Context(), chi.URLParam(r, "channelID"), chi.URLParam(r, "messageID"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handlePin(w http.ResponseWriter, r *http.Request) {
	err := s.svc.Pin(r.Context(), chi.URLParam(r, "channelID"), chi.URLParam(r, "messageID"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleUnpin(w http.ResponseWriter, r *http.Request) {
	err := s.svc.Unpin(r.Context(), chi.URLParam(r, "channelID"), chi.URLParam(r, "messageID"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handlePinned(w http.ResponseWriter, r *http.Request) {
	pinned, err := s.svc.Pinned(r.Context(), chi.URLParam(r, "channelID"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, struct {
		Pinned *domain.Message `json:"pinned"`
	}{pinned})
}

// uploadKind берет тип из формы, а без него определяет по MIME-типу файла.
func uploadKind(formKind, fileName string, data []byte) domain.Kind {
	if formKind != "" {
		return domain.ParseKind(formKind)
	}
	mime := blob.DetectMimeType(fileName, data)
	switch {
	case strings.HasPrefix(mime, "image/"):
		return domain.KindImage
	case strings.HasPrefix(mime, "video/"):
		return domain.KindVideo
	case strings.HasPrefix(mime, "audio/"):
		return domain.KindAudio
	default:
		return domain.KindFile
	}
}
