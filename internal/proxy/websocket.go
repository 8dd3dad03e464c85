// Package proxy bridges a client WebSocket to a live engine's debug
// socket so operators can watch protocol traffic directly.
package proxy

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	slogctx "github.com/veqryn/slog-context"

	"github.com/adnanbaig/browserfarm/internal/fault"
	"github.com/adnanbaig/browserfarm/internal/manager"
	"github.com/adnanbaig/browserfarm/pkg/models"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

type Server struct {
	mgr *manager.Manager
}

func NewServer(mgr *manager.Manager) *Server {
	return &Server{mgr: mgr}
}

func (s *Server) HandleDebugConnection(w http.ResponseWriter, r *http.Request, instanceID string) {
	log := slogctx.FromCtx(r.Context()).With(slog.String("instance_id", instanceID))

	// Checking the instance out keeps the idle reaper away for the
	// whole debug session
	checkout, err := s.mgr.Checkout(instanceID)
	if err != nil {
		status := http.StatusNotFound
		if fault.IsKind(err, fault.KindResourceBusy) {
			status = http.StatusConflict
		}
		http.Error(w, err.Error(), status)
		return
	}
	defer checkout.Release()

	inst := checkout.Instance
	if inst.State != models.StateRunning {
		http.Error(w, "instance is not running", http.StatusConflict)
		return
	}

	clientConn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warn("failed to upgrade connection", slog.String("error", err.Error()))
		return
	}
	defer clientConn.Close()

	ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
	defer cancel()

	engineConn, _, err := websocket.DefaultDialer.DialContext(ctx, inst.ConnectURL, nil)
	if err != nil {
		log.Warn("failed to connect to engine", slog.String("error", err.Error()))
		clientConn.WriteMessage(websocket.TextMessage, []byte("error connecting to engine: "+err.Error()))
		return
	}
	defer engineConn.Close()

	log.Info("debug client connected")

	errChan := make(chan error, 2)

	go func() {
		errChan <- proxyMessages(clientConn, engineConn)
	}()
	go func() {
		errChan <- proxyMessages(engineConn, clientConn)
	}()

	// Either direction closing ends the session
	err = <-errChan
	if err != nil && err != io.EOF {
		log.Debug("debug proxy closed", slog.String("error", err.Error()))
	}

	log.Info("debug client disconnected")
}

func proxyMessages(src, dst *websocket.Conn) error {
	for {
		messageType, message, err := src.ReadMessage()
		if err != nil {
			return err
		}

		if err := dst.WriteMessage(messageType, message); err != nil {
			return err
		}
	}
}
