package fakeapi

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"time"
)

func withUser(ctx context.Context, username string) context.Context {
	return context.WithValue(ctx, ctxUser{}, username)
}

func userFrom(ctx context.Context) string {
	u, _ := ctx.Value(ctxUser{}).(string)
	return u
}

// --- auth ---

func (s *Server) login(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Username string `json:"username"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		badRequest(w, "invalid body")
		return
	}

	s.mu.Lock()
	u, found := s.users[req.Username]
	s.mu.Unlock()
	if !found || u.Password != req.Password {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"message": "Invalid username or password"})
		return
	}

	tok := s.IssueToken(u.Username)
	writeJSON(w, http.StatusOK, map[string]any{
		"token":    tok,
		"type":     "Bearer",
		"id":       u.ID,
		"username": u.Username,
		"email":    u.Email,
		"fullName": u.FullName,
		"roles":    u.Roles,
	})
}

func (s *Server) register(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Username string `json:"username"`
		Email    string `json:"email"`
		Password string `json:"password"`
		FullName string `json:"fullName"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		badRequest(w, "invalid body")
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, taken := s.users[req.Username]; taken {
		badRequest(w, "Username is already taken")
		return
	}
	s.addUserLocked(req.Username, req.Password, req.Email, req.FullName, nil)
	writeOK(w, "User registered successfully")
}

func (s *Server) me(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	u := s.users[userFrom(r.Context())]
	s.mu.Unlock()
	if u == nil {
		notFound(w)
		return
	}
	role := "USER"
	for _, rl := range u.Roles {
		if rl == "ADMIN" {
			role = "ADMIN"
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"id":        u.ID,
		"username":  u.Username,
		"email":     u.Email,
		"fullName":  u.FullName,
		"role":      role,
		"createdAt": isoLocal(time.Now()),
	})
}

// --- role-play ---

func (s *Server) startSession(w http.ResponseWriter, r *http.Request) {
	var req struct {
		CharacterID int64  `json:"characterId"`
		SessionName string `json:"sessionName"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		badRequest(w, "invalid body")
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	ch, found := s.chars[req.CharacterID]
	if !found {
		badRequest(w, "character not found")
		return
	}
	name := req.SessionName
	if name == "" {
		name = "Chat with " + ch.Name
	}
	now := time.Now()
	ss := &session{
		ID:           s.newSessionID(),
		Owner:        userFrom(r.Context()),
		Name:         name,
		CharacterID:  ch.ID,
		Status:       "ACTIVE",
		LastActiveAt: now,
		CreatedAt:    now,
	}
	s.sessions[ss.ID] = ss
	writeJSON(w, http.StatusOK, s.sessionJSON(ss))
}

func (s *Server) sendMessage(w http.ResponseWriter, r *http.Request) {
	var req struct {
		SessionID string `json:"sessionId"`
		Message   string `json:"message"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		badRequest(w, "invalid body")
		return
	}

	s.mu.Lock()
	gate := s.sendGate
	s.mu.Unlock()
	if gate != nil {
		select {
		case <-gate:
		case <-r.Context().Done():
			return
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	ss, found := s.sessions[req.SessionID]
	if !found || ss.Owner != userFrom(r.Context()) {
		badRequest(w, "session not found")
		return
	}
	if ss.Status != "ACTIVE" {
		badRequest(w, "session is not active")
		return
	}

	now := time.Now()
	tokens := int64(len(req.Message) + 10)
	ss.MessageCount++
	ss.TokenUsage += tokens
	ss.LastActiveAt = now
	m := &message{
		ID:        s.newID(),
		SessionID: ss.ID,
		User:      req.Message,
		Response:  "echo: " + req.Message,
		Tokens:    tokens,
		Turn:      ss.MessageCount,
		CreatedAt: now,
	}
	s.messages[m.ID] = m

	resp := map[string]any{
		"sessionId":              ss.ID,
		"userMessage":            m.User,
		"characterResponse":      m.Response,
		"responseTimeMs":         12,
		"tokenUsage":             tokens,
		"usedRag":                true,
		"retrievedDocumentCount": 2,
		"timestamp":              isoLocal(now),
	}
	if !s.omitMsgID {
		resp["messageId"] = m.ID
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) listSessions(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := []map[string]any{}
	ids := make([]string, 0, len(s.sessions))
	for id := range s.sessions {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		ss := s.sessions[id]
		if ss.Owner == userFrom(r.Context()) && ss.Status != "DELETED" {
			out = append(out, s.sessionJSON(ss))
		}
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) getSession(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ss, found := s.ownedSession(w, r)
	if !found {
		return
	}
	writeJSON(w, http.StatusOK, s.sessionJSON(ss))
}

func (s *Server) history(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ss, found := s.ownedSession(w, r)
	if !found {
		return
	}

	var msgs []*message
	for _, m := range s.messages {
		if m.SessionID == ss.ID {
			msgs = append(msgs, m)
		}
	}
	sort.Slice(msgs, func(i, j int) bool { return msgs[i].Turn < msgs[j].Turn })

	out := make([]map[string]any, 0, len(msgs))
	for _, m := range msgs {
		entry := map[string]any{
			"id":                   m.ID,
			"userMessage":          m.User,
			"characterResponse":    m.Response,
			"responseTimeMs":       12,
			"tokenUsage":           fmt.Sprintf(`{"totalTokens":%d}`, m.Tokens),
			"turnNumber":           m.Turn,
			"usedRag":              true,
			"retrievedChunksCount": 2,
			"createdAt":            isoLocal(m.CreatedAt),
		}
		if m.Rating != nil {
			entry["userRating"] = *m.Rating
		}
		out = append(out, entry)
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) endSession(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ss, found := s.ownedSession(w, r)
	if !found {
		return
	}
	ss.Status = "ENDED"
	writeOK(w, "Session ended")
}

func (s *Server) deleteSession(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ss, found := s.ownedSession(w, r)
	if !found {
		return
	}
	ss.Status = "DELETED"
	writeOK(w, "Session deleted")
}

func (s *Server) rateMessage(w http.ResponseWriter, r *http.Request) {
	id, valid := idParam(r)
	var req struct {
		Rating int `json:"rating"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || !valid {
		badRequest(w, "invalid request")
		return
	}
	if req.Rating < 1 || req.Rating > 5 {
		badRequest(w, "rating must be between 1 and 5")
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	m, found := s.messages[id]
	if !found {
		badRequest(w, "message not found")
		return
	}
	rating := req.Rating
	m.Rating = &rating
	writeOK(w, "Rated")
}

// --- knowledge bases and documents ---

func (s *Server) kbJSON(kb *knowledgeBase) map[string]any {
	count := 0
	for _, d := range s.docs {
		if d.KnowledgeBaseID == kb.ID {
			count++
		}
	}
	return map[string]any{
		"id":            kb.ID,
		"name":          kb.Name,
		"description":   kb.Description,
		"active":        true,
		"documentCount": count,
		"createdAt":     isoLocal(kb.CreatedAt),
		"updatedAt":     isoLocal(kb.CreatedAt),
	}
}

func (s *Server) listKnowledgeBases(w http.ResponseWriter, _ *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]int64, 0, len(s.kbs))
	for id := range s.kbs {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	out := make([]map[string]any, 0, len(ids))
	for _, id := range ids {
		out = append(out, s.kbJSON(s.kbs[id]))
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) createKnowledgeBase(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(1 << 20); err != nil {
		badRequest(w, "expected multipart form")
		return
	}
	name := r.FormValue("name")
	if name == "" {
		badRequest(w, "name is required")
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	kb := &knowledgeBase{ID: s.newID(), Name: name, Description: r.FormValue("description"), CreatedAt: time.Now()}
	s.kbs[kb.ID] = kb
	writeJSON(w, http.StatusOK, s.kbJSON(kb))
}

func (s *Server) getKnowledgeBase(w http.ResponseWriter, r *http.Request) {
	id, _ := idParam(r)
	s.mu.Lock()
	defer s.mu.Unlock()
	kb, found := s.kbs[id]
	if !found {
		notFound(w)
		return
	}
	writeJSON(w, http.StatusOK, s.kbJSON(kb))
}

func (s *Server) updateKnowledgeBase(w http.ResponseWriter, r *http.Request) {
	id, _ := idParam(r)
	if err := r.ParseMultipartForm(1 << 20); err != nil {
		badRequest(w, "expected multipart form")
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	kb, found := s.kbs[id]
	if !found {
		notFound(w)
		return
	}
	kb.Name = r.FormValue("name")
	kb.Description = r.FormValue("description")
	writeJSON(w, http.StatusOK, s.kbJSON(kb))
}

func (s *Server) deleteKnowledgeBase(w http.ResponseWriter, r *http.Request) {
	id, _ := idParam(r)
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, found := s.kbs[id]; !found {
		notFound(w)
		return
	}
	delete(s.kbs, id)
	writeOK(w, "Knowledge base deleted")
}

// docStatus advances ingestion one step per listing so pollers see
// PENDING, then PROCESSING, then COMPLETED.
func docStatus(d *document) (string, int) {
	switch d.Listed {
	case 0:
		return "PENDING", 0
	case 1:
		return "PROCESSING", 0
	}
	return "COMPLETED", 1
}

func (s *Server) docJSON(d *document) map[string]any {
	status, chunks := docStatus(d)
	return map[string]any{
		"id":               d.ID,
		"filename":         d.Filename,
		"originalFilename": d.Filename,
		"fileSize":         d.Size,
		"mimeType":         "text/plain",
		"processStatus":    status,
		"chunkCount":       chunks,
		"createdAt":        isoLocal(d.CreatedAt),
	}
}

func (s *Server) uploadDocument(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(8 << 20); err != nil {
		badRequest(w, "expected multipart form")
		return
	}
	kbID, err := strconv.ParseInt(r.FormValue("knowledgeBaseId"), 10, 64)
	if err != nil {
		badRequest(w, "knowledgeBaseId is required")
		return
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		badRequest(w, "file is required")
		return
	}
	defer file.Close()
	size, _ := io.Copy(io.Discard, file)

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, found := s.kbs[kbID]; !found {
		badRequest(w, "knowledge base not found")
		return
	}
	d := &document{ID: s.newID(), KnowledgeBaseID: kbID, Filename: header.Filename, Size: size, CreatedAt: time.Now()}
	s.docs[d.ID] = d
	writeJSON(w, http.StatusOK, s.docJSON(d))
}

func (s *Server) listDocuments(w http.ResponseWriter, r *http.Request) {
	kbID, _ := strconv.ParseInt(r.URL.Query().Get("knowledgeBaseId"), 10, 64)
	s.mu.Lock()
	defer s.mu.Unlock()
	out := []map[string]any{}
	for _, d := range s.docs {
		if d.KnowledgeBaseID == kbID {
			out = append(out, s.docJSON(d))
			d.Listed++
		}
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) deleteDocument(w http.ResponseWriter, r *http.Request) {
	id, _ := idParam(r)
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, found := s.docs[id]; !found {
		notFound(w)
		return
	}
	delete(s.docs, id)
	writeOK(w, "Document deleted")
}

func (s *Server) ask(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(1 << 20); err != nil {
		badRequest(w, "expected multipart form")
		return
	}
	kbID, err := strconv.ParseInt(r.FormValue("knowledgeBaseId"), 10, 64)
	question := r.FormValue("question")
	if err != nil || question == "" {
		badRequest(w, "question and knowledgeBaseId are required")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"question":        question,
		"answer":          "answer to: " + question,
		"knowledgeBaseId": kbID,
		"sessionId":       r.FormValue("sessionId"),
		"responseTimeMs":  7,
		"timestamp":       isoLocal(time.Now()),
	})
}

// --- characters ---

func (s *Server) sortedCharacters(keep func(*character) bool) []*character {
	out := []*character{}
	for _, ch := range s.chars {
		if keep(ch) {
			out = append(out, ch)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (s *Server) listCharacters(w http.ResponseWriter, _ *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	writeJSON(w, http.StatusOK, s.sortedCharacters(func(*character) bool { return true }))
}

func (s *Server) searchCharacters(w http.ResponseWriter, r *http.Request) {
	q := strings.ToLower(r.URL.Query().Get("query"))
	kbID, _ := strconv.ParseInt(r.URL.Query().Get("knowledgeBaseId"), 10, 64)
	s.mu.Lock()
	defer s.mu.Unlock()
	writeJSON(w, http.StatusOK, s.sortedCharacters(func(ch *character) bool {
		if kbID > 0 && ch.KnowledgeBaseID != kbID {
			return false
		}
		return strings.Contains(strings.ToLower(ch.Name+" "+ch.Description), q)
	}))
}

func (s *Server) charactersByKnowledgeBase(w http.ResponseWriter, r *http.Request) {
	kbID, _ := idParam(r)
	s.mu.Lock()
	defer s.mu.Unlock()
	writeJSON(w, http.StatusOK, s.sortedCharacters(func(ch *character) bool {
		return ch.KnowledgeBaseID == kbID
	}))
}

func (s *Server) getCharacter(w http.ResponseWriter, r *http.Request) {
	id, _ := idParam(r)
	s.mu.Lock()
	defer s.mu.Unlock()
	ch, found := s.chars[id]
	if !found {
		notFound(w)
		return
	}
	writeJSON(w, http.StatusOK, ch)
}

func (s *Server) createCharacter(w http.ResponseWriter, r *http.Request) {
	var ch character
	if err := json.NewDecoder(r.Body).Decode(&ch); err != nil || ch.Name == "" {
		badRequest(w, "name is required")
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	ch.ID = s.newID()
	ch.Status = "DRAFT"
	s.chars[ch.ID] = &ch
	writeJSON(w, http.StatusOK, ch)
}

func (s *Server) updateCharacter(w http.ResponseWriter, r *http.Request) {
	id, _ := idParam(r)
	var in character
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		badRequest(w, "invalid body")
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	ch, found := s.chars[id]
	if !found {
		notFound(w)
		return
	}
	ch.Name, ch.Description, ch.AvatarURL = in.Name, in.Description, in.AvatarURL
	ch.IsPublic, ch.KnowledgeBaseID = in.IsPublic, in.KnowledgeBaseID
	writeJSON(w, http.StatusOK, ch)
}

func (s *Server) deleteCharacter(w http.ResponseWriter, r *http.Request) {
	id, _ := idParam(r)
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, found := s.chars[id]; !found {
		notFound(w)
		return
	}
	delete(s.chars, id)
	writeOK(w, "Character deleted")
}

func (s *Server) toggleCharacter(w http.ResponseWriter, r *http.Request) {
	id, _ := idParam(r)
	s.mu.Lock()
	defer s.mu.Unlock()
	ch, found := s.chars[id]
	if !found {
		notFound(w)
		return
	}
	if ch.Status == "ACTIVE" {
		ch.Status = "INACTIVE"
	} else {
		ch.Status = "ACTIVE"
	}
	writeJSON(w, http.StatusOK, ch)
}

func (s *Server) generateProfile(w http.ResponseWriter, r *http.Request) {
	id, _ := idParam(r)
	s.mu.Lock()
	defer s.mu.Unlock()
	ch, found := s.chars[id]
	if !found {
		notFound(w)
		return
	}
	ch.Status = "GENERATING"
	writeOK(w, "Profile generation started")
}
