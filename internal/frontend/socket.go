package frontend

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"time"

	"github.com/labstack/echo/v4"
	"golang.org/x/net/websocket"

	"github.com/jo-hoe/gallerysync/internal/core"
)

const (
	socketWriteTimeout = 10 * time.Second
	// frameOverhead covers the JSON envelope around a base64 paste payload.
	frameOverhead = 4096
)

// socketSink sends session events as JSON text frames.
type socketSink struct {
	conn *websocket.Conn
}

func (s *socketSink) Send(event core.ImageEvent) error {
	if err := s.conn.SetWriteDeadline(time.Now().Add(socketWriteTimeout)); err != nil {
		return err
	}
	return websocket.JSON.Send(s.conn, event)
}

func (service *FrontendService) socketHandler(ctx echo.Context) error {
	websocket.Handler(service.serveSocket).ServeHTTP(ctx.Response(), ctx.Request())
	return nil
}

func (service *FrontendService) serveSocket(conn *websocket.Conn) {
	defer func() {
		if err := conn.Close(); err != nil {
			slog.Debug("socket: close failed", "error", err)
		}
	}()
	// Pastes arrive base64 encoded.
	conn.MaxPayloadBytes = service.config.MaxPasteBytes/3*4 + frameOverhead

	session, err := service.coreService.Connect(&socketSink{conn: conn})
	if err != nil {
		slog.Error("socket: failed to open session", "remote_addr", conn.Request().RemoteAddr, "error", err)
		return
	}
	defer session.Close()

	go func() {
		<-session.Done()
		_ = conn.Close()
	}()

	for {
		var msg core.Message
		err := websocket.JSON.Receive(conn, &msg)
		if err != nil {
			var syntaxErr *json.SyntaxError
			var typeErr *json.UnmarshalTypeError
			var dataErr base64.CorruptInputError
			if errors.As(err, &syntaxErr) || errors.As(err, &typeErr) || errors.As(err, &dataErr) {
				slog.Warn("socket: ignoring malformed message", "session", session.ID(), "error", err)
				continue
			}
			// The rest of an oversized frame is discarded by the next Receive.
			if errors.Is(err, websocket.ErrFrameTooLarge) {
				slog.Warn("socket: ignoring oversized message", "session", session.ID(),
					"limit_bytes", conn.MaxPayloadBytes)
				continue
			}
			if errors.Is(err, io.EOF) {
				slog.Debug("socket: client disconnected", "session", session.ID())
			} else {
				slog.Info("socket: read ended", "session", session.ID(), "error", err)
			}
			return
		}

		if err := session.Handle(msg); err != nil {
			slog.Warn("socket: rejected message", "session", session.ID(), "error", err)
		}
	}
}
