package router

import (
	"net/http"
	"strconv"
	"time"
)

type ownerMessageRequest struct {
	Agent    string `json:"agent"`
	Question string `json:"question"`
	Response string `json:"response"`
}

// POST /owner-message — deliver a pre-computed agent answer to the owner.
func (s *Server) handleOwnerMessage(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	var req ownerMessageRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.Agent == "" || req.Question == "" {
		writeError(w, http.StatusBadRequest, "agent and question are required")
		return
	}
	if err := s.Pipelines.Notifier.Notify(r.Context(), req.Agent, req.Question, req.Response); err != nil {
		writeJSON(w, map[string]any{"ok": false, "reply": err.Error()})
		return
	}
	writeJSON(w, map[string]any{"ok": true, "reply": "delivered"})
}

type askOwnerRequest struct {
	Agent    string `json:"agent"`
	TaskID   string `json:"task_id"`
	Question string `json:"question"`
}

// POST /ask-owner — spec.md §4.3: a background agent parks a question.
func (s *Server) handleAskOwner(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	var req askOwnerRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.Agent == "" || req.Question == "" {
		writeError(w, http.StatusBadRequest, "agent and question are required")
		return
	}

	id, err := s.Rendezvous.Create(r.Context(), req.Agent, req.TaskID, req.Question)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to create question")
		return
	}
	if s.Pipelines.Notifier != nil {
		s.Pipelines.Notifier.Notify(r.Context(), req.Agent, req.Question,
			"New question #"+id+" from "+req.Agent+": "+req.Question)
	}
	writeJSON(w, map[string]any{"ok": true, "result": map[string]any{"id": id}})
}

type replyRequest struct {
	Answer string `json:"answer"`
}

// POST /reply — explicit answer path of spec.md §4.3.
func (s *Server) handleReply(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	var req replyRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	out, err := s.Commands.Answer(r.Context(), req.Answer)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to record answer")
		return
	}
	writeJSON(w, map[string]any{"ok": true, "reply": out})
}

// GET /pending — structured question listing.
func (s *Server) handlePending(w http.ResponseWriter, r *http.Request) {
	qs, err := s.Rendezvous.List(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list questions")
		return
	}
	writeJSON(w, map[string]any{"ok": true, "count": len(qs), "questions": qs})
}

// GET /gmail/unread
func (s *Server) handleGmailUnread(w http.ResponseWriter, r *http.Request) {
	n, err := s.Google.CountUnread(r.Context())
	if err != nil {
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}
	writeJSON(w, map[string]any{"unread": n})
}

// GET /gmail/inbox?limit=
func (s *Server) handleGmailInbox(w http.ResponseWriter, r *http.Request) {
	limit := 10
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = n
		}
	}
	emails, err := s.Google.ListEmails(r.Context(), r.URL.Query().Get("q"), limit)
	if err != nil {
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}
	writeJSON(w, map[string]any{"emails": emails})
}

type gmailSendRequest struct {
	To      string `json:"to"`
	Subject string `json:"subject"`
	Body    string `json:"body"`
}

// POST /gmail/send
func (s *Server) handleGmailSend(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	var req gmailSendRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if err := s.Google.SendEmail(r.Context(), req.To, req.Subject, req.Body); err != nil {
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}
	writeJSON(w, map[string]any{"ok": true})
}

type gmailReadRequest struct {
	ID string `json:"id"`
}

// POST /gmail/read
func (s *Server) handleGmailRead(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	var req gmailReadRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	email, err := s.Google.ReadEmail(r.Context(), req.ID)
	if err != nil {
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}
	writeJSON(w, email)
}

type gmailSearchRequest struct {
	Query string `json:"query"`
	Limit int    `json:"limit"`
}

// POST /gmail/search
func (s *Server) handleGmailSearch(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	var req gmailSearchRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	limit := req.Limit
	if limit <= 0 {
		limit = 10
	}
	emails, err := s.Google.ListEmails(r.Context(), req.Query, limit)
	if err != nil {
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}
	writeJSON(w, map[string]any{"emails": emails})
}

// GET /calendar/today
func (s *Server) handleCalendarToday(w http.ResponseWriter, r *http.Request) {
	now := time.Now().UTC()
	from := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	s.writeEvents(w, r, from, from.Add(24*time.Hour))
}

// GET /calendar/week
func (s *Server) handleCalendarWeek(w http.ResponseWriter, r *http.Request) {
	from := time.Now().UTC()
	s.writeEvents(w, r, from, from.Add(7*24*time.Hour))
}

func (s *Server) writeEvents(w http.ResponseWriter, r *http.Request, from, to time.Time) {
	events, err := s.Google.ListEvents(r.Context(), from, to)
	if err != nil {
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}
	writeJSON(w, map[string]any{"events": events})
}

type calendarCreateRequest struct {
	Summary string    `json:"summary"`
	Start   time.Time `json:"start"`
	End     time.Time `json:"end"`
}

// POST /calendar/create
func (s *Server) handleCalendarCreate(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	var req calendarCreateRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	event, err := s.Google.CreateEvent(r.Context(), req.Summary, req.Start, req.End)
	if err != nil {
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}
	writeJSON(w, event)
}

type calendarDeleteRequest struct {
	ID string `json:"id"`
}

// POST /calendar/delete
func (s *Server) handleCalendarDelete(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	var req calendarDeleteRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if err := s.Google.DeleteEvent(r.Context(), req.ID); err != nil {
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}
	writeJSON(w, map[string]any{"ok": true})
}
