// Package ingest implements the token-gated HTTP/WebSocket upload
// surface (C7): a browser that never paired over QUIC can still push a
// file in, authorized by a single-use 128-bit token minted by the
// desktop side and shown as a QR code or link. A completed upload is
// physically just a file on disk; the caller decides what becomes of
// it (hand it to the transfer orchestrator as a sender-side session, or
// keep it locally).
package ingest

import (
	"crypto/rand"
	"encoding/hex"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"

	"github.com/fathomrelay/jend/internal/logging"
)

// SessionState is a WsSession's position in spec.md §3's state machine.
type SessionState int

const (
	StateAwaitingInfo SessionState = iota
	StateAwaitingApproval
	StateStreaming
	StateDone
	StateFailed
)

func (s SessionState) String() string {
	switch s {
	case StateAwaitingInfo:
		return "awaiting_info"
	case StateAwaitingApproval:
		return "awaiting_approval"
	case StateStreaming:
		return "streaming"
	case StateDone:
		return "done"
	default:
		return "failed"
	}
}

const (
	maxControlMessage = 1 << 20 // 1 MiB, spec.md §4.7
	maxBinaryFrame    = 256 * 1024
	maxFileSize       = 10 * (1 << 30) // 10 GiB, spec.md §4.7
	pingInterval      = 30 * time.Second
	pongWait          = 3 * pingInterval
)

// Upgrader is shared across all token sessions. CheckOrigin restricts
// upgrades to same-origin requests, since the uploader page and the API
// always share an origin (spec.md §4.7: "no CORS is emitted").
var Upgrader = websocket.Upgrader{
	ReadBufferSize:  maxBinaryFrame,
	WriteBufferSize: maxBinaryFrame,
	CheckOrigin: func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		return origin == "http://"+r.Host || origin == "https://"+r.Host
	},
}

// CompletedUpload describes one file that finished streaming in.
type CompletedUpload struct {
	Path        string
	LogicalName string
	Size        int64
}

// ApproveFunc is consulted once per session after file_info arrives; it
// models the local user prompt spec.md §4.7 step 2 describes.
type ApproveFunc func(logicalName string, size int64) (accept bool, reason string)

// Server is the ingest HTTP surface: one mux.Router serving
// GET /{token}/ and GET /{token}/ws, and an in-memory token registry
// mirroring the teacher webapi package's downloads/allJobs
// map-plus-mutex pattern.
type Server struct {
	Router *mux.Router

	mu     sync.Mutex
	tokens map[string]*tokenEntry

	log        *logging.Logger
	approve    ApproveFunc
	onComplete func(CompletedUpload)
}

type tokenEntry struct {
	destDir  string
	used     bool
	mintedAt time.Time
}

// New builds a Server. approve is called once per upload to decide
// accept/reject; onComplete is called once the file is fully received
// and renamed into place.
func New(approve ApproveFunc, onComplete func(CompletedUpload)) *Server {
	s := &Server{
		Router:     mux.NewRouter(),
		tokens:     make(map[string]*tokenEntry),
		log:        logging.Default("ingest"),
		approve:    approve,
		onComplete: onComplete,
	}
	s.Router.HandleFunc("/{token}/", s.handlePage).Methods("GET")
	s.Router.HandleFunc("/{token}/ws", s.handleWebSocket).Methods("GET")
	return s
}

// MintToken creates a new single-use ingest session rooted at destDir
// and returns its token plus the path a QR code should encode.
func (s *Server) MintToken(destDir string) (token, path string, err error) {
	var raw [16]byte
	if _, err := rand.Read(raw[:]); err != nil {
		return "", "", err
	}
	token = hex.EncodeToString(raw[:])

	s.mu.Lock()
	s.tokens[token] = &tokenEntry{destDir: destDir, mintedAt: time.Now()}
	s.mu.Unlock()

	return token, "/" + token + "/", nil
}

// claimToken atomically checks and invalidates a token so at most one
// WebSocket upgrade per token ever succeeds, per spec.md's invariant.
func (s *Server) claimToken(token string) (*tokenEntry, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.tokens[token]
	if !ok || entry.used {
		return nil, false
	}
	entry.used = true
	return entry, true
}

func (s *Server) handlePage(w http.ResponseWriter, r *http.Request) {
	token := mux.Vars(r)["token"]

	s.mu.Lock()
	_, ok := s.tokens[token]
	s.mu.Unlock()
	if !ok {
		http.NotFound(w, r)
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Write([]byte(renderUploaderPage(token)))
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	token := mux.Vars(r)["token"]

	entry, ok := s.claimToken(token)
	if !ok {
		http.Error(w, "token already used or unknown", http.StatusForbidden)
		return
	}

	conn, err := Upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warnf("upgrade failed for token %s: %v", token, err)
		return
	}
	defer conn.Close()

	sess := &wsSession{
		conn:       conn,
		destDir:    entry.destDir,
		approve:    s.approve,
		onComplete: s.onComplete,
		log:        s.log.With(token[:8]),
	}
	sess.run()
}
