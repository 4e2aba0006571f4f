package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/go-chi/chi/v5"

	"chat-core/internal/adapters/identity"
	"chat-core/internal/core/services"
	"chat-core/internal/domain"
)

const (
	streamPingInterval = 30 * time.Second
	streamWriteTimeout = 10 * time.Second
	streamReadLimit    = 64 << 10
)

// streamFrame — кадр, который сервер пишет в поток.
type streamFrame struct {
	Type  string         `json:"type"` // view, error
	View  *services.View `json:"view,omitempty"`
	Error string         `json:"error,omitempty"`
}

// streamCommand — команда клиента: смена поискового запроса или отметка о прочтении.
type streamCommand struct {
	Type      string `json:"type"` // query, read
	Query     string `json:"query,omitempty"`
	MessageID string `json:"message_id,omitempty"`
}

// handleStream открывает канал для зрителя и пишет в WebSocket представление канала
// после каждого снимка. Промежуточные представления, которые клиент не успел забрать, пропускаются.
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	if _, ok := identity.FromContext(r.Context()); !ok {
		s.writeError(w, r, domain.ErrAuthRequired)
		return
	}
	channelID := chi.URLParam(r, "channelID")

	// таймауты http.Server не должны обрывать долгое соединение
	rc := http.NewResponseController(w)
	_ = rc.SetReadDeadline(time.Time{})
	_ = rc.SetWriteDeadline(time.Time{})

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{OriginPatterns: s.originPatterns})
	if err != nil {
		s.log.Warn("WebSocket upgrade failed", "channel_id", channelID, "error", err)
		return
	}
	defer conn.CloseNow()
	conn.SetReadLimit(streamReadLimit)

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()
	// При остановке сервера сначала уходит кадр закрытия, затем гасится цикл
	stop := context.AfterFunc(s.bgCtx, func() {
		conn.Close(websocket.StatusGoingAway, "server shutting down")
		cancel()
	})
	defer stop()

	views := make(chan services.View, 1)
	sess, err := s.svc.Open(ctx, channelID, func(v services.View) { offerLatest(views, v) })
	if err != nil {
		s.log.Warn("Failed to open channel stream", "channel_id", channelID, "error", err)
		conn.Close(websocket.StatusInternalError, "subscription failed")
		return
	}
	defer sess.Close()
	if q := r.URL.Query().Get("q"); q != "" {
		sess.SetQuery(q)
	}

	// чтение не зависит от ctx: отмена контекста чтения рвет соединение без кадра закрытия
	readCtx, readCancel := context.WithCancel(r.Context())
	defer readCancel()
	go s.readCommands(readCtx, cancel, conn, sess)

	ticker := time.NewTicker(streamPingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			if s.bgCtx.Err() == nil {
				conn.Close(websocket.StatusNormalClosure, "")
			}
			return
		case <-sess.Done():
			if !stop() {
				return
			}
			if err := sess.Err(); err != nil {
				s.log.Warn("Channel stream terminated by store", "channel_id", channelID, "error", err)
				conn.Close(websocket.StatusTryAgainLater, "subscription cancelled")
				return
			}
			conn.Close(websocket.StatusNormalClosure, "")
			return
		case v := <-views:
			if err := s.writeFrame(ctx, conn, streamFrame{Type: "view", View: &v}); err != nil {
				return
			}
		case <-ticker.C:
			pingCtx, pingCancel := context.WithTimeout(ctx, streamWriteTimeout)
			err := conn.Ping(pingCtx)
			pingCancel()
			if err != nil {
				return
			}
		}
	}
}

func (s *Server) readCommands(ctx context.Context, cancel context.CancelFunc, conn *websocket.Conn, sess *services.Session) {
	defer cancel()
	for {
		var cmd streamCommand
		if err := wsjson.Read(ctx, conn, &cmd); err != nil {
			if status := websocket.CloseStatus(err); status != websocket.StatusNormalClosure && status != websocket.StatusGoingAway && !errors.Is(err, context.Canceled) {
				s.log.Debug("Stream read ended", "channel_id", sess.ChannelID(), "error", err)
			}
			return
		}

		switch cmd.Type {
		case "query":
			sess.SetQuery(cmd.Query)
		case "read":
			if err := s.svc.MarkRead(ctx, sess.ChannelID(), cmd.MessageID); err != nil {
				_ = s.writeFrame(ctx, conn, streamFrame{Type: "error", Error: err.Error()})
			}
		default:
			_ = s.writeFrame(ctx, conn, streamFrame{Type: "error", Error: "unknown command " + cmd.Type})
		}
	}
}

func (s *Server) writeFrame(ctx context.Context, conn *websocket.Conn, f streamFrame) error {
	ctx, cancel := context.WithTimeout(ctx, streamWriteTimeout)
	defer cancel()
	return wsjson.Write(ctx, conn, f)
}

// offerLatest кладет v в ящик на одно место, вытесняя непрочитанное значение.
func offerLatest[T any](box chan T, v T) {
	for {
		select {
		case box <- v:
			return
		default:
		}
		select {
		case <-box:
		default:
		}
	}
}
