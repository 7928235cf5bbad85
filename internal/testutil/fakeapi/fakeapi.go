// Package fakeapi is an in-memory stand-in for the ragone REST API, served
// over httptest for package tests.
package fakeapi

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/raphaelgruber/ragone/internal/testutil"
)

type user struct {
	ID       int64
	Username string
	Password string
	Email    string
	FullName string
	Roles    []string
}

type session struct {
	ID           string
	Owner        string
	Name         string
	CharacterID  int64
	Status       string
	MessageCount int
	TokenUsage   int64
	LastActiveAt time.Time
	CreatedAt    time.Time
}

type message struct {
	ID        int64
	SessionID string
	User      string
	Response  string
	Tokens    int64
	Rating    *int
	Turn      int
	CreatedAt time.Time
}

type knowledgeBase struct {
	ID          int64
	Name        string
	Description string
	CreatedAt   time.Time
}

type document struct {
	ID              int64
	KnowledgeBaseID int64
	Filename        string
	Size            int64
	Listed          int
	CreatedAt       time.Time
}

type character struct {
	ID              int64  `json:"id"`
	Name            string `json:"name"`
	Description     string `json:"description,omitempty"`
	AvatarURL       string `json:"avatarUrl,omitempty"`
	Status          string `json:"status"`
	IsPublic        bool   `json:"isPublic"`
	KnowledgeBaseID int64  `json:"knowledgeBaseId"`
}

// Request is one observed call.
type Request struct {
	Method        string
	Path          string
	Authorization string
	RequestID     string
	ContentType   string
}

type failure struct {
	status int
	body   string
}

// Server is a stateful fake of the API. All methods are safe for concurrent use.
type Server struct {
	*httptest.Server
	t testing.TB

	mu           sync.Mutex
	users        map[string]*user
	tokens       map[string]string
	sessions     map[string]*session
	messages     map[int64]*message
	kbs          map[int64]*knowledgeBase
	docs         map[int64]*document
	chars        map[int64]*character
	nextID       int64
	failures     map[string]failure
	requests     []Request
	sendGate     chan struct{}
	omitMsgID    bool
	rejectTokens bool
}

// New starts a fake API; it is closed when the test ends.
func New(t testing.TB) *Server {
	t.Helper()
	s := &Server{
		t:        t,
		users:    make(map[string]*user),
		tokens:   make(map[string]string),
		sessions: make(map[string]*session),
		messages: make(map[int64]*message),
		kbs:      make(map[int64]*knowledgeBase),
		docs:     make(map[int64]*document),
		chars:    make(map[int64]*character),
		failures: make(map[string]failure),
	}
	s.Server = httptest.NewServer(s.routes())
	t.Cleanup(s.Close)
	return s
}

// BaseURL is the API root, including the /api prefix.
func (s *Server) BaseURL() string {
	return s.URL + "/api"
}

func (s *Server) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(s.record)
	r.Use(s.injectFailures)

	r.Route("/api", func(r chi.Router) {
		r.Post("/auth/login", s.login)
		r.Post("/auth/register", s.register)

		r.Group(func(r chi.Router) {
			r.Use(s.requireAuth)
			r.Get("/auth/me", s.me)

			r.Post("/roleplay/start", s.startSession)
			r.Post("/roleplay/message", s.sendMessage)
			r.Get("/roleplay/sessions", s.listSessions)
			r.Get("/roleplay/sessions/{id}", s.getSession)
			r.Get("/roleplay/sessions/{id}/history", s.history)
			r.Patch("/roleplay/sessions/{id}/end", s.endSession)
			r.Delete("/roleplay/sessions/{id}", s.deleteSession)
			r.Patch("/roleplay/messages/{id}/rate", s.rateMessage)

			r.Get("/knowledge-bases", s.listKnowledgeBases)
			r.Post("/knowledge-bases", s.createKnowledgeBase)
			r.Get("/knowledge-bases/{id}", s.getKnowledgeBase)
			r.Put("/knowledge-bases/{id}", s.updateKnowledgeBase)
			r.Delete("/knowledge-bases/{id}", s.deleteKnowledgeBase)

			r.Post("/documents/upload", s.uploadDocument)
			r.Get("/documents", s.listDocuments)
			r.Delete("/documents/{id}", s.deleteDocument)

			r.Get("/characters", s.listCharacters)
			r.Post("/characters", s.createCharacter)
			r.Get("/characters/search", s.searchCharacters)
			r.Get("/characters/knowledge-base/{id}", s.charactersByKnowledgeBase)
			r.Get("/characters/{id}", s.getCharacter)
			r.Put("/characters/{id}", s.updateCharacter)
			r.Delete("/characters/{id}", s.deleteCharacter)
			r.Patch("/characters/{id}/toggle-status", s.toggleCharacter)
			r.Post("/characters/{id}/generate-profile", s.generateProfile)

			r.Post("/rag/ask", s.ask)
		})
	})
	return r
}

// --- knobs ---

// AddUser registers an account that can log in.
func (s *Server) AddUser(username, password, fullName string, roles ...string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.addUserLocked(username, password, username+"@example.com", fullName, roles)
}

func (s *Server) addUserLocked(username, password, email, fullName string, roles []string) {
	s.nextID++
	if len(roles) == 0 {
		roles = []string{"USER"}
	}
	s.users[username] = &user{
		ID:       s.nextID,
		Username: username,
		Password: password,
		Email:    email,
		FullName: fullName,
		Roles:    roles,
	}
}

// IssueToken returns a credential the server accepts for username.
func (s *Server) IssueToken(username string) string {
	tok := testutil.ValidToken(s.t, username)
	s.mu.Lock()
	s.tokens[tok] = username
	s.mu.Unlock()
	return tok
}

// RevokeAll makes every authenticated endpoint answer 401.
func (s *Server) RevokeAll() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rejectTokens = true
}

// FailNext makes the next request matching method and path (without the /api
// prefix) answer status with a {"message"} body.
func (s *Server) FailNext(method, path string, status int, msg string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	body, _ := json.Marshal(map[string]string{"message": msg})
	s.failures[method+" /api"+path] = failure{status: status, body: string(body)}
}

// HoldSends blocks message sends until the returned func is called.
func (s *Server) HoldSends() (release func()) {
	gate := make(chan struct{})
	s.mu.Lock()
	s.sendGate = gate
	s.mu.Unlock()
	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			s.sendGate = nil
			s.mu.Unlock()
			close(gate)
		})
	}
}

// OmitMessageIDs drops messageId from send responses.
func (s *Server) OmitMessageIDs() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.omitMsgID = true
}

// Requests returns every observed call in order.
func (s *Server) Requests() []Request {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Request(nil), s.requests...)
}

// Count returns how many calls matched method and path (without /api).
func (s *Server) Count(method, path string) int {
	n := 0
	for _, r := range s.Requests() {
		if r.Method == method && r.Path == "/api"+path {
			n++
		}
	}
	return n
}

// Rating returns the stored rating of a message.
func (s *Server) Rating(messageID int64) (int, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.messages[messageID]
	if !ok || m.Rating == nil {
		return 0, false
	}
	return *m.Rating, true
}

// SeedCharacter adds an active character and returns its id.
func (s *Server) SeedCharacter(name string) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	s.chars[s.nextID] = &character{ID: s.nextID, Name: name, Status: "ACTIVE"}
	return s.nextID
}

// SeedKnowledgeBase adds a knowledge base and returns its id.
func (s *Server) SeedKnowledgeBase(name string) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	s.kbs[s.nextID] = &knowledgeBase{ID: s.nextID, Name: name, CreatedAt: time.Now()}
	return s.nextID
}

// --- middleware ---

func (s *Server) record(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		s.requests = append(s.requests, Request{
			Method:        r.Method,
			Path:          r.URL.Path,
			Authorization: r.Header.Get("Authorization"),
			RequestID:     r.Header.Get("X-Request-ID"),
			ContentType:   r.Header.Get("Content-Type"),
		})
		s.mu.Unlock()
		next.ServeHTTP(w, r)
	})
}

func (s *Server) injectFailures(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := r.Method + " " + r.URL.Path
		s.mu.Lock()
		f, ok := s.failures[key]
		delete(s.failures, key)
		s.mu.Unlock()
		if ok {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(f.status)
			io.WriteString(w, f.body) //nolint:errcheck
			return
		}
		next.ServeHTTP(w, r)
	})
}

type ctxUser struct{}

func (s *Server) requireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
		s.mu.Lock()
		username, known := s.tokens[token]
		reject := s.rejectTokens
		s.mu.Unlock()
		if !ok || !known || reject {
			writeJSON(w, http.StatusUnauthorized, map[string]string{"message": "Unauthorized"})
			return
		}
		next.ServeHTTP(w, r.WithContext(withUser(r.Context(), username)))
	})
}

// --- helpers ---

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v) //nolint:errcheck
}

func badRequest(w http.ResponseWriter, msg string) {
	writeJSON(w, http.StatusBadRequest, map[string]any{"success": false, "message": msg})
}

func notFound(w http.ResponseWriter) {
	writeJSON(w, http.StatusNotFound, map[string]string{"message": "not found"})
}

func writeOK(w http.ResponseWriter, msg string) {
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "message": msg})
}

func idParam(r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	return id, err == nil
}

func isoLocal(t time.Time) string {
	return t.Format("2006-01-02T15:04:05.000")
}

func (s *Server) sessionJSON(ss *session) map[string]any {
	return map[string]any{
		"sessionId":    ss.ID,
		"name":         ss.Name,
		"characterId":  ss.CharacterID,
		"status":       ss.Status,
		"messageCount": ss.MessageCount,
		"tokenUsage":   ss.TokenUsage,
		"lastActiveAt": isoLocal(ss.LastActiveAt),
		"createdAt":    isoLocal(ss.CreatedAt),
	}
}

func (s *Server) ownedSession(w http.ResponseWriter, r *http.Request) (*session, bool) {
	ss, found := s.sessions[chi.URLParam(r, "id")]
	if !found || ss.Owner != userFrom(r.Context()) || ss.Status == "DELETED" {
		notFound(w)
		return nil, false
	}
	return ss, true
}

func (s *Server) newID() int64 {
	s.nextID++
	return s.nextID
}

func (s *Server) newSessionID() string {
	return fmt.Sprintf("sess-%d", s.newID())
}
