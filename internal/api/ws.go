package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/rcourtman/shopbot/internal/chat"
	"github.com/rcourtman/shopbot/internal/logging"
	"github.com/rcourtman/shopbot/internal/metrics"
)

const (
	wsWriteWait       = 10 * time.Second
	wsDefaultPongWait = 60 * time.Second
	wsMaxMessageSize  = 64 << 10
)

type wsError struct {
	Error string `json:"error"`
}

func newUpgrader(origins []string) websocket.Upgrader {
	allowed := make(map[string]struct{}, len(origins))
	for _, o := range origins {
		allowed[o] = struct{}{}
	}
	return websocket.Upgrader{
		ReadBufferSize:   1024,
		WriteBufferSize:  1024,
		HandshakeTimeout: 10 * time.Second,
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			if origin == "" {
				return false
			}
			if _, ok := allowed["*"]; ok {
				return true
			}
			_, ok := allowed[origin]
			return ok
		},
	}
}

// handleChatWebSocket serves the storefront widget. Each inbound frame is a
// chat request; each outbound frame is a reply or an error.
func handleChatWebSocket(deps *Deps) http.HandlerFunc {
	upgrader := newUpgrader(deps.Config.CORSOriginsList())
	pongWait := deps.WSPongWait
	if pongWait <= 0 {
		pongWait = wsDefaultPongWait
	}
	pingPeriod := (pongWait * 9) / 10

	return func(w http.ResponseWriter, r *http.Request) {
		logger := logging.FromContext(r.Context())

		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			logger.Warn().Err(err).Msg("WebSocket upgrade failed")
			return
		}
		defer conn.Close()

		conn.SetReadLimit(wsMaxMessageSize)
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(pongWait))
		})

		done := make(chan struct{})
		defer close(done)
		go func() {
			ticker := time.NewTicker(pingPeriod)
			defer ticker.Stop()
			for {
				select {
				case <-done:
					return
				case <-ticker.C:
					if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(wsWriteWait)); err != nil {
						return
					}
				}
			}
		}()

		ip := clientIP(r)
		for {
			// Pongs are only handled while reading, so a slow reply must
			// not eat into the next read's deadline.
			_ = conn.SetReadDeadline(time.Now().Add(pongWait))
			_, data, err := conn.ReadMessage()
			if err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
					logger.Debug().Err(err).Msg("WebSocket closed")
				}
				return
			}

			var req chat.Request
			if err := json.Unmarshal(data, &req); err != nil {
				if writeFrame(conn, wsError{Error: "invalid JSON message"}) != nil {
					return
				}
				continue
			}

			if err := validateStruct(&req); err != nil {
				metrics.ChatRequestsTotal.WithLabelValues("websocket", "rejected").Inc()
				if writeFrame(conn, wsError{Error: err.Error()}) != nil {
					return
				}
				continue
			}
			req.CustomerIP = ip

			reply, err := deps.Chat.SendMessage(r.Context(), req)
			if err != nil {
				status, msg := chatError(err, "Error processing message: ")
				metrics.ChatRequestsTotal.WithLabelValues("websocket", outcomeLabel(status)).Inc()
				if status >= http.StatusInternalServerError {
					logChatFailure(r, "websocket", err)
				}
				if writeFrame(conn, wsError{Error: msg}) != nil {
					return
				}
				continue
			}
			metrics.ChatRequestsTotal.WithLabelValues("websocket", "success").Inc()
			if writeFrame(conn, reply) != nil {
				return
			}
		}
	}
}

func writeFrame(conn *websocket.Conn, v any) error {
	_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
	return conn.WriteJSON(v)
}
