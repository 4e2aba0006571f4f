package client

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"chat-core/internal/domain"
)

// View — представление канала из потока.
type View struct {
	ChannelID string           `json:"channel_id"`
	Query     string           `json:"query,omitempty"`
	Messages  []domain.Message `json:"messages"`
	Pinned    *domain.Message  `json:"pinned,omitempty"`
	Total     int              `json:"total"`
}

type frame struct {
	Type  string `json:"type"`
	View  *View  `json:"view,omitempty"`
	Error string `json:"error,omitempty"`
}

type command struct {
	Type      string `json:"type"`
	Query     string `json:"query,omitempty"`
	MessageID string `json:"message_id,omitempty"`
}

// Stream — открытый поток представлений канала.
type Stream struct {
	conn *websocket.Conn
}

// OpenStream подключается к живому потоку канала.
func (c *Client) OpenStream(ctx context.Context, channelID, query string) (*Stream, error) {
	u, err := url.Parse(c.baseURL + channelPath(channelID, "/stream"))
	if err != nil {
		return nil, fmt.Errorf("invalid server address: %w", err)
	}
	u.Scheme = strings.Replace(u.Scheme, "http", "ws", 1)
	if query != "" {
		u.RawQuery = url.Values{"q": {query}}.Encode()
	}

	header := http.Header{}
	if c.token != "" {
		header.Set("Authorization", "Bearer "+c.token)
	}
	conn, resp, err := websocket.Dial(ctx, u.String(), &websocket.DialOptions{HTTPHeader: header})
	if err != nil {
		if resp != nil && resp.StatusCode != http.StatusSwitchingProtocols {
			return nil, &APIError{StatusCode: resp.StatusCode}
		}
		return nil, fmt.Errorf("failed to open stream: %w", err)
	}
	conn.SetReadLimit(4 << 20)
	return &Stream{conn: conn}, nil
}

// Next блокируется до следующего представления канала.
// Ошибка сервера в потоке возвращается как error, поток при этом остается открытым.
func (s *Stream) Next(ctx context.Context) (View, error) {
	var f frame
	if err := wsjson.Read(ctx, s.conn, &f); err != nil {
		return View{}, err
	}
	switch f.Type {
	case "view":
		if f.View == nil {
			return View{}, errors.New("empty view frame")
		}
		return *f.View, nil
	case "error":
		return View{}, &APIError{Message: f.Error}
	default:
		return View{}, fmt.Errorf("unknown frame type %q", f.Type)
	}
}

// SetQuery меняет поисковый запрос потока.
func (s *Stream) SetQuery(ctx context.Context, query string) error {
	return wsjson.Write(ctx, s.conn, command{Type: "query", Query: query})
}

// MarkRead отмечает сообщение прочитанным через поток.
func (s *Stream) MarkRead(ctx context.Context, messageID string) error {
	return wsjson.Write(ctx, s.conn, command{Type: "read", MessageID: messageID})
}

// Close закрывает поток.
func (s *Stream) Close() error {
	return s.conn.Close(websocket.StatusNormalClosure, "")
}

// IsClosed сообщает, что поток закрыт сервером или клиентом.
func IsClosed(err error) bool {
	return websocket.CloseStatus(err) != -1 || errors.Is(err, context.Canceled)
}
