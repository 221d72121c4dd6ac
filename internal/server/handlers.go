package server

import (
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/Tyrowin/gochat-relay/internal/hub"
)

const maxNotifyBody = 1 << 20

// HealthResponse is the body of GET /health.
type HealthResponse struct {
	Status  string `json:"status"`
	Online  int    `json:"online"`
	Clients int    `json:"clients"`
}

// PresenceResponse is the body of GET /api/presence/{userId}.
type PresenceResponse struct {
	UserID     string     `json:"userId"`
	IsOnline   bool       `json:"isOnline"`
	LastSeenAt *time.Time `json:"lastSeenAt,omitempty"`
}

type errorResponse struct {
	Error string `json:"error"`
}

type okResponse struct {
	OK bool `json:"ok"`
}

// handleWebSocket upgrades the request and starts the client's pumps. The
// connection stays Pending until the client sends auth.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed. WebSocket endpoint only accepts GET requests.", http.StatusMethodNotAllowed)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn().Err(err).Str("remote", r.RemoteAddr).Msg("WebSocket upgrade failed.")
		return
	}

	client := NewClient(conn, s.hub, s.cfg, r.RemoteAddr, s.logger, s.metrics)
	if !s.serveClient(client) {
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"),
			time.Now().Add(writeWait))
		_ = conn.Close()
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, HealthResponse{
		Status:  "ok",
		Online:  s.hub.OnlineCount(),
		Clients: s.ClientCount(),
	})
}

func (s *Server) handlePresence(w http.ResponseWriter, r *http.Request) {
	userID := strings.TrimSpace(r.PathValue("userId"))
	if userID == "" {
		writeError(w, http.StatusBadRequest, errors.New("userId is required"))
		return
	}
	rec := s.hub.Status(userID)
	resp := PresenceResponse{UserID: userID, IsOnline: rec.IsOnline}
	if !rec.LastSeenAt.IsZero() {
		seen := rec.LastSeenAt
		resp.LastSeenAt = &seen
	}
	writeJSON(w, http.StatusOK, resp)
}

// requireNotifyToken rejects requests without the configured bearer token.
func (s *Server) requireNotifyToken(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.cfg.NotifyToken != "" {
			token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
			if !ok || subtle.ConstantTimeCompare([]byte(token), []byte(s.cfg.NotifyToken)) != 1 {
				writeError(w, http.StatusUnauthorized, errors.New("invalid notify token"))
				return
			}
		}
		next(w, r)
	}
}

func (s *Server) handleNotifyMessage(w http.ResponseWriter, r *http.Request) {
	var n hub.MessageNotice
	if !s.decodeNotice(w, r, &n) {
		return
	}
	s.writeNotifyResult(w, "message", s.hub.NotifyNewMessage(r.Context(), n))
}

func (s *Server) handleNotifyReaction(w http.ResponseWriter, r *http.Request) {
	var n hub.ReactionNotice
	if !s.decodeNotice(w, r, &n) {
		return
	}
	s.writeNotifyResult(w, "reaction", s.hub.NotifyReaction(r.Context(), n))
}

func (s *Server) handleNotifyGroup(w http.ResponseWriter, r *http.Request) {
	var n hub.GroupNotice
	if !s.decodeNotice(w, r, &n) {
		return
	}
	s.writeNotifyResult(w, "group", s.hub.NotifyGroupUpdate(r.Context(), n))
}

func (s *Server) decodeNotice(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxNotifyBody))
	if err := dec.Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("decode body: %w", err))
		return false
	}
	return true
}

func (s *Server) writeNotifyResult(w http.ResponseWriter, kind string, err error) {
	if err != nil {
		status := hub.StatusFor(err)
		if status >= http.StatusInternalServerError {
			s.logger.Error().Err(err).Str("notice", kind).Msg("Notification failed.")
		} else {
			s.logger.Debug().Err(err).Str("notice", kind).Msg("Notification rejected.")
		}
		writeError(w, status, err)
		return
	}
	writeJSON(w, http.StatusOK, okResponse{OK: true})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, errorResponse{Error: err.Error()})
}

// handleTestPage serves an HTML page for poking the relay from a browser.
func (s *Server) handleTestPage(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/html")
	if _, err := fmt.Fprint(w, testPageHTML); err != nil {
		s.logger.Warn().Err(err).Msg("Error writing HTML response.")
	}
}

const testPageHTML = `<!DOCTYPE html>
<html>
<head>
    <title>Relay WebSocket Test</title>
    <style>
        body { font-family: Arial, sans-serif; margin: 20px; }
        #events {
            border: 1px solid #ccc;
            height: 300px;
            padding: 10px;
            overflow-y: scroll;
            margin: 10px 0;
            background-color: #f9f9f9;
            font-family: monospace;
        }
        input[type="text"] { width: 200px; padding: 5px; margin-right: 10px; }
        button { padding: 5px 15px; background-color: #007cba; color: white; border: none; cursor: pointer; }
        button:hover { background-color: #005a87; }
        .status { margin: 10px 0; padding: 5px; border-radius: 3px; }
        .connected { background-color: #d4edda; color: #155724; }
        .disconnected { background-color: #f8d7da; color: #721c24; }
    </style>
</head>
<body>
    <h1>Relay WebSocket Test</h1>

    <div id="status" class="status disconnected">Disconnected</div>

    <div>
        <input type="text" id="userId" placeholder="user id">
        <button id="connectButton" onclick="toggleConnection()">Connect</button>
    </div>
    <div style="margin-top: 10px">
        <input type="text" id="conversationId" placeholder="conversation or group id">
        <button onclick="typing(true)">Typing</button>
        <button onclick="typing(false)">Stop typing</button>
    </div>

    <div id="events"></div>

    <script>
        let ws = null;
        const eventsDiv = document.getElementById('events');
        const statusDiv = document.getElementById('status');
        const connectButton = document.getElementById('connectButton');

        function log(text) {
            const line = document.createElement('div');
            line.textContent = text;
            eventsDiv.appendChild(line);
            eventsDiv.scrollTop = eventsDiv.scrollHeight;
        }

        function updateStatus(connected) {
            statusDiv.textContent = connected ? 'Connected' : 'Disconnected';
            statusDiv.className = 'status ' + (connected ? 'connected' : 'disconnected');
            connectButton.textContent = connected ? 'Disconnect' : 'Connect';
        }

        function send(type, data) {
            if (ws && ws.readyState === WebSocket.OPEN) {
                const frame = JSON.stringify({ type: type, data: data });
                ws.send(frame);
                log('> ' + frame);
            }
        }

        function connect() {
            const scheme = location.protocol === 'https:' ? 'wss://' : 'ws://';
            ws = new WebSocket(scheme + location.host + '/ws');
            ws.onopen = function() {
                updateStatus(true);
                send('auth', { userId: document.getElementById('userId').value.trim() });
            };
            ws.onmessage = function(event) { log('< ' + event.data); };
            ws.onclose = function() { log('connection closed'); updateStatus(false); ws = null; };
            ws.onerror = function() { log('connection error'); };
        }

        function toggleConnection() {
            if (ws && ws.readyState === WebSocket.OPEN) {
                ws.close();
            } else {
                connect();
            }
        }

        function typing(isTyping) {
            const conversationId = document.getElementById('conversationId').value.trim();
            send(isTyping ? 'typing' : 'stopTyping', { conversationId: conversationId, isTyping: isTyping });
        }
    </script>
</body>
</html>`
