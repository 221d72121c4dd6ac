package server

import "net/http"

// Routes returns the relay's HTTP routes.
func (s *Server) Routes() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/ws", s.handleWebSocket)
	mux.HandleFunc("/test", s.handleTestPage)
	mux.HandleFunc("GET /api/presence/{userId}", s.handlePresence)
	mux.HandleFunc("POST /api/notify/messages", s.requireNotifyToken(s.handleNotifyMessage))
	mux.HandleFunc("POST /api/notify/reactions", s.requireNotifyToken(s.handleNotifyReaction))
	mux.HandleFunc("POST /api/notify/groups", s.requireNotifyToken(s.handleNotifyGroup))
	return mux
}
