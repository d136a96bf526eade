package daemon

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"

	"github.com/feiramob/chatcore/internal/call"
	"github.com/feiramob/chatcore/internal/client"
	"github.com/feiramob/chatcore/internal/protocol"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"go.uber.org/zap"
)

// Server exposes the messaging core over a local HTTP API for UI surfaces.
type Server struct {
	httpServer *http.Server
	listener   net.Listener
	addr       string
	client     *client.Client
	logger     *zap.Logger
}

// NewServer creates the HTTP server bound to the configured loopback address.
func NewServer(p Params, logger *zap.Logger, c *client.Client) (*Server, error) {
	addr := p.ListenAddr
	if addr == "" {
		addr = p.Config.ListenAddr
	}

	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("listen %s: %w", addr, err)
	}

	s := &Server{
		listener: listener,
		addr:     listener.Addr().String(),
		client:   c,
		logger:   logger,
	}

	r := chi.NewRouter()
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"http://localhost:*", "http://127.0.0.1:*"},
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		MaxAge:         300,
	}))

	r.Get("/health", s.handleHealth)
	r.Route("/v1", func(r chi.Router) {
		r.Get("/status", s.handleStatus)
		r.Post("/refresh", s.handleRefresh)
		r.Route("/chats", func(r chi.Router) {
			r.Get("/", s.handleListChats)
			r.Post("/read-all", s.handleReadAll)
			r.Post("/close", s.handleCloseChat)
			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", s.handleGetChat)
				r.Post("/messages", s.handleSendMessage)
				r.Post("/read", s.handleMarkRead)
				r.Post("/open", s.handleOpenChat)
			})
		})
		r.Route("/call", func(r chi.Router) {
			r.Get("/", s.handleCallState)
			r.Post("/start", s.handleStartCall)
			r.Post("/accept", s.handleAcceptCall)
			r.Post("/reject", s.handleRejectCall)
			r.Post("/end", s.handleEndCall)
		})
	})

	s.httpServer = &http.Server{Handler: r}
	return s, nil
}

// Addr returns the bound listen address.
func (s *Server) Addr() string { return s.addr }

// Start begins serving API requests. Blocks until stopped.
func (s *Server) Start() error {
	s.logger.Info("http server starting", zap.String("addr", s.addr))
	err := s.httpServer.Serve(s.listener)
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Stop performs a graceful shutdown.
func (s *Server) Stop(ctx context.Context) {
	s.logger.Info("http server stopping")
	if err := s.httpServer.Shutdown(ctx); err != nil {
		s.logger.Warn("http shutdown", zap.Error(err))
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"connected":    s.client.IsConnected(),
		"reconnecting": s.client.IsReconnecting(),
		"unread":       s.client.UnreadMessages(),
		"badges":       s.client.Badges(),
		"call_state":   s.client.CallState(),
	})
}

func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	if err := s.client.RefreshChats(r.Context()); err != nil {
		writeError(w, http.StatusBadGateway, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"chats": len(s.client.Chats())})
}

func (s *Server) handleListChats(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.client.Chats())
}

func (s *Server) handleGetChat(w http.ResponseWriter, r *http.Request) {
	convo, ok := s.client.Conversation(chi.URLParam(r, "id"))
	if !ok {
		writeError(w, http.StatusNotFound, errors.New("no such chat"))
		return
	}
	writeJSON(w, http.StatusOK, convo)
}

type sendMessageRequest struct {
	Content     string `json:"content"`
	MessageType string `json:"message_type"`
	FileURL     string `json:"file_url"`
	FileName    string `json:"file_name"`
	FileSize    int64  `json:"file_size"`
}

func (s *Server) handleSendMessage(w http.ResponseWriter, r *http.Request) {
	var req sendMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if req.Content == "" && req.FileURL == "" {
		writeError(w, http.StatusBadRequest, errors.New("empty message"))
		return
	}
	var file *protocol.FileRef
	if req.FileURL != "" {
		file = &protocol.FileRef{URL: req.FileURL, Name: req.FileName, Size: req.FileSize}
	}
	receiver := protocol.ID(chi.URLParam(r, "id"))
	tempID := s.client.SendMessage(receiver, req.Content, req.MessageType, file)
	writeJSON(w, http.StatusAccepted, map[string]string{"temp_id": tempID})
}

func (s *Server) handleMarkRead(w http.ResponseWriter, r *http.Request) {
	s.client.MarkAsRead(chi.URLParam(r, "id"))
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleReadAll(w http.ResponseWriter, _ *http.Request) {
	s.client.MarkAllChatsAsRead()
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleOpenChat(w http.ResponseWriter, r *http.Request) {
	s.client.SelectChat(chi.URLParam(r, "id"))
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleCloseChat(w http.ResponseWriter, _ *http.Request) {
	s.client.SelectChat("")
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleCallState(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"state": s.client.CallState(),
		"info":  s.client.CallInfo(),
	})
}

type startCallRequest struct {
	UserID   protocol.ID `json:"user_id"`
	Name     string      `json:"name"`
	Username string      `json:"username"`
	Avatar   string      `json:"avatar"`
}

func (s *Server) handleStartCall(w http.ResponseWriter, r *http.Request) {
	var req startCallRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if req.UserID.String() == "" {
		writeError(w, http.StatusBadRequest, errors.New("user_id is required"))
		return
	}
	err := s.client.StartCall(call.Peer{ID: req.UserID, Name: req.Name, Username: req.Username, Avatar: req.Avatar})
	s.writeCallResult(w, err)
}

func (s *Server) handleAcceptCall(w http.ResponseWriter, _ *http.Request) {
	s.writeCallResult(w, s.client.AcceptCall())
}

func (s *Server) handleRejectCall(w http.ResponseWriter, _ *http.Request) {
	s.writeCallResult(w, s.client.RejectCall())
}

func (s *Server) handleEndCall(w http.ResponseWriter, _ *http.Request) {
	s.writeCallResult(w, s.client.EndCall())
}

func (s *Server) writeCallResult(w http.ResponseWriter, err error) {
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, map[string]any{
			"state": s.client.CallState(),
			"info":  s.client.CallInfo(),
		})
	case errors.Is(err, call.ErrCallInProgress):
		writeError(w, http.StatusConflict, err)
	case errors.Is(err, call.ErrNoIncomingCall), errors.Is(err, call.ErrNoCall):
		writeError(w, http.StatusConflict, err)
	default:
		writeError(w, http.StatusBadGateway, err)
	}
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, err error) {
	writeJSON(w, code, map[string]string{"error": err.Error()})
}
