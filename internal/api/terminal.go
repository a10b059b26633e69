package api

import (
	"context"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/coder/websocket"

	"github.com/drawbridge-labs/drawbridge/internal/storage"
)

// handleTerminal attaches a websocket client to a live terminal session
// on the device. Raw bytes flow both ways as binary messages.
func (s *Server) handleTerminal(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")

	d, err := s.deps.Store.GetDeviceByName(r.Context(), name)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			writeError(w, http.StatusNotFound, "device not found")
			return
		}
		s.logger.Error("get device for terminal", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to get device")
		return
	}
	if !d.Enabled {
		writeError(w, http.StatusConflict, "device is disabled")
		return
	}

	acquireCtx, cancel := context.WithTimeout(r.Context(), 30*time.Second)
	sess, _, err := s.deps.Sessions.Acquire(acquireCtx, d)
	cancel()
	if err != nil {
		s.writeServiceError(w, r, err, "terminal connect")
		return
	}

	shell, err := sess.Shell(r.Context())
	if err != nil {
		s.deps.Sessions.Release(name)
		s.writeServiceError(w, r, err, "terminal shell")
		return
	}

	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket accept failed", "device", name, "error", err)
		s.deps.Sessions.Release(name)
		return
	}

	s.logger.Info("terminal attached", "device", name, "api_key", getAPIKeyName(r.Context()))

	ctx, stop := context.WithCancel(r.Context())
	defer stop()
	ws := websocket.NetConn(ctx, conn, websocket.MessageBinary)

	done := make(chan struct{}, 2)
	go func() {
		io.Copy(ws, shell)
		done <- struct{}{}
	}()
	go func() {
		io.Copy(shell, ws)
		done <- struct{}{}
	}()
	<-done
	stop()

	conn.Close(websocket.StatusNormalClosure, "session ended")
	// The shell position is unknown after an interactive session, so
	// the cached session cannot be reused.
	s.deps.Sessions.Release(name)
	s.deps.Sessions.Evict(name)
	s.logger.Info("terminal detached", "device", name)
}
