package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/shiftsync/shiftsync/internal/auth"
	"github.com/shiftsync/shiftsync/internal/core/merge"
	"github.com/shiftsync/shiftsync/internal/core/observability/log"
	"github.com/shiftsync/shiftsync/internal/core/store"
	"github.com/shiftsync/shiftsync/internal/core/sync"
)

const maxPushBody = 1 << 20 // 1MB

// HTTPServer exposes the push/pull endpoints and the websocket event hub.
type HTTPServer struct {
	resolver *merge.Resolver
	docs     store.DocumentStore
	hub      *Hub
	verifier *auth.Verifier
	logger   log.Log
}

func NewHTTPServer(resolver *merge.Resolver, docs store.DocumentStore, hub *Hub, verifier *auth.Verifier, logger log.Log) *HTTPServer {
	if logger == nil {
		logger = log.Nop()
	}
	return &HTTPServer{
		resolver: resolver,
		docs:     docs,
		hub:      hub,
		verifier: verifier,
		logger:   logger.With(log.String("component", "http")),
	}
}

func (s *HTTPServer) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /sync/push", s.withAuth(s.handlePush))
	mux.HandleFunc("GET /sync/pull", s.withAuth(s.handlePull))
	mux.HandleFunc("GET /sync/events", s.hub.HandleSubscribe)
	mux.HandleFunc("GET /healthz", s.handleHealth)
	return mux
}

func (s *HTTPServer) handlePush(w http.ResponseWriter, r *http.Request) {
	var req sync.PushRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxPushBody)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, codeBadRequest, "undecodable body", err.Error())
		return
	}
	if req.Op != sync.OpSet && req.Op != sync.OpMerge {
		writeError(w, http.StatusBadRequest, codeBadRequest, "unknown op", string(req.Op))
		return
	}

	caller := identityFrom(r.Context())
	doc, err := s.resolver.Push(r.Context(), req, caller)
	if err != nil {
		s.writePushError(w, req, caller, err)
		return
	}

	s.hub.Broadcast(sync.ChangeEvent{
		Key:               doc.Key,
		Value:             doc.Value,
		UpdatedByClientID: doc.UpdatedByClientID,
		UpdatedAt:         doc.UpdatedAt,
	})

	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (s *HTTPServer) writePushError(w http.ResponseWriter, req sync.PushRequest, caller auth.Identity, err error) {
	switch {
	case errors.Is(err, merge.ErrInvalidKey):
		writeError(w, http.StatusBadRequest, codeInvalidKey, "key not in allow-list", string(req.Key))
	case errors.Is(err, merge.ErrInvalidPayload):
		writeError(w, http.StatusBadRequest, codeInvalidPayload, "value shape does not match key policy", err.Error())
	case errors.Is(err, merge.ErrForbidden):
		s.logger.Warn("forbidden push",
			log.String("key", string(req.Key)),
			log.String("user_id", caller.UserID),
			log.String("role", string(caller.Role)))
		writeError(w, http.StatusForbidden, codeForbidden, "role may not write this key", "")
	default:
		s.logger.Error("push failed", log.String("key", string(req.Key)), log.Error(err))
		writeError(w, http.StatusInternalServerError, codeStoreFailure, "persistence failure", err.Error())
	}
}

func (s *HTTPServer) handlePull(w http.ResponseWriter, r *http.Request) {
	since := time.Time{}
	if raw := r.URL.Query().Get("since"); raw != "" {
		ms, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			writeError(w, http.StatusBadRequest, codeBadRequest, "since must be epoch millis", raw)
			return
		}
		since = time.UnixMilli(ms)
	}

	docs, err := s.docs.Since(r.Context(), since)
	if err != nil {
		s.logger.Error("pull failed", log.Error(err))
		writeError(w, http.StatusInternalServerError, codeStoreFailure, "pull failure", err.Error())
		return
	}

	// docs last written by the caller itself would only be discarded by its
	// echo suppression; skip them here
	if clientID := r.URL.Query().Get("clientId"); clientID != "" {
		kept := docs[:0]
		for _, doc := range docs {
			if doc.UpdatedByClientID != clientID {
				kept = append(kept, doc)
			}
		}
		docs = kept
	}

	writeJSON(w, http.StatusOK, sync.PullResponse{Docs: docs})
}

func (s *HTTPServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	if err := s.docs.Ping(r.Context()); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{"ok": false, "details": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, code, msg, details string) {
	body := map[string]any{"ok": false, "error": code, "message": msg}
	if details != "" {
		body["details"] = details
	}
	writeJSON(w, status, body)
}
