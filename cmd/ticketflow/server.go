package main

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/petrijr/ticketflow/internal/persistence"
	"github.com/petrijr/ticketflow/pkg/api"
	"github.com/petrijr/ticketflow/pkg/directory"
)

const maxBodyBytes = 1 << 20

type server struct {
	app    *app
	logger *slog.Logger
}

// newServer returns the HTTP surface:
//
//	POST /events             publish an event
//	POST /tickets            store a ticket and publish ticket/created
//	GET  /tickets            list tickets newest first (?createdBy=)
//	GET  /tickets/{id}       one ticket with its assignee
//	GET  /runs               list runs (?workflow=, ?status=, ?limit=)
//	GET  /runs/{id}          one run
//	GET  /runs/{id}/history  the run's history log
//	GET  /runs/{id}/steps    the run's recorded step results
//	GET  /healthz
//	GET  /metrics            when metrics are enabled
func newServer(a *app, logger *slog.Logger) http.Handler {
	s := &server{app: a, logger: logger}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /events", s.handlePublish)
	mux.HandleFunc("POST /tickets", s.handleCreateTicket)
	mux.HandleFunc("GET /tickets", s.handleListTickets)
	mux.HandleFunc("GET /tickets/{id}", s.handleGetTicket)
	mux.HandleFunc("GET /runs", s.handleListRuns)
	mux.HandleFunc("GET /runs/{id}", s.handleGetRun)
	mux.HandleFunc("GET /runs/{id}/history", s.handleHistory)
	mux.HandleFunc("GET /runs/{id}/steps", s.handleSteps)
	mux.HandleFunc("GET /healthz", s.handleHealth)
	if a.registry != nil {
		mux.Handle("GET /metrics", promhttp.HandlerFor(a.registry, promhttp.HandlerOpts{}))
	}
	return s.logRequests(mux)
}

type eventView struct {
	ID         string    `json:"id"`
	Name       string    `json:"name"`
	OccurredAt time.Time `json:"occurredAt"`
}

type runView struct {
	ID         string     `json:"id"`
	WorkflowID string     `json:"workflowId"`
	Event      eventView  `json:"event"`
	Status     api.Status `json:"status"`
	Attempts   int        `json:"attempts"`
	Output     any        `json:"output,omitempty"`
	Error      string     `json:"error,omitempty"`
	CreatedAt  time.Time  `json:"createdAt"`
	UpdatedAt  time.Time  `json:"updatedAt"`
}

func newRunView(r *api.Run) runView {
	v := runView{
		ID:         r.ID,
		WorkflowID: r.WorkflowID,
		Event:      eventView{ID: r.Event.ID, Name: r.Event.Name, OccurredAt: r.Event.OccurredAt},
		Status:     r.Status,
		Attempts:   r.Attempts,
		Output:     r.Output,
		CreatedAt:  r.CreatedAt,
		UpdatedAt:  r.UpdatedAt,
	}
	if r.Err != nil {
		v.Error = r.Err.Error()
	}
	return v
}

// handlePublish: POST /events
//
// Body JSON:
//
//	{ "id": "optional", "name": "user/signup", "data": { "email": "ada@example.com" } }
//
// Response: 202 Accepted with the stamped event id.
func (s *server) handlePublish(w http.ResponseWriter, r *http.Request) {
	var in struct {
		ID   string          `json:"id"`
		Name string          `json:"name"`
		Data json.RawMessage `json:"data"`
	}
	if !s.decode(w, r, &in) {
		return
	}

	payload, err := api.DecodePayload(in.Name, in.Data)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	ev, err := s.app.worker.Publish(r.Context(), api.Event{ID: in.ID, Name: in.Name, Payload: payload})
	if err != nil {
		s.fail(w, r, "publish", err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]any{"id": ev.ID, "name": ev.Name})
}

// handleCreateTicket: POST /tickets
//
// Body JSON:
//
//	{ "title": "...", "description": "...", "createdBy": "user id" }
//
// Response: 201 Created with the ticket and event ids.
func (s *server) handleCreateTicket(w http.ResponseWriter, r *http.Request) {
	var in struct {
		Title       string `json:"title"`
		Description string `json:"description"`
		CreatedBy   string `json:"createdBy"`
	}
	if !s.decode(w, r, &in) {
		return
	}

	payload := api.TicketCreated{
		TicketID:    uuid.NewString(),
		Title:       strings.TrimSpace(in.Title),
		Description: strings.TrimSpace(in.Description),
		CreatedBy:   in.CreatedBy,
	}
	// Validate before storing so a rejected ticket leaves no record.
	if err := payload.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	err := s.app.tickets.SaveTicket(r.Context(), directory.Ticket{
		ID:          payload.TicketID,
		Title:       payload.Title,
		Description: payload.Description,
		CreatedBy:   payload.CreatedBy,
	})
	if err != nil {
		s.fail(w, r, "save ticket", err)
		return
	}
	ev, err := s.app.worker.Publish(r.Context(), api.NewEvent(payload))
	if err != nil {
		s.fail(w, r, "publish", err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"ticketId": payload.TicketID, "eventId": ev.ID})
}

type userView struct {
	ID    string         `json:"id"`
	Email string         `json:"email"`
	Role  directory.Role `json:"role"`
}

type ticketView struct {
	ID            string    `json:"id"`
	Title         string    `json:"title"`
	Description   string    `json:"description"`
	CreatedBy     string    `json:"createdBy"`
	Status        string    `json:"status"`
	Priority      string    `json:"priority,omitempty"`
	RelatedSkills []string  `json:"relatedSkills,omitempty"`
	HelpfulNotes  string    `json:"helpfulNotes,omitempty"`
	AssignedTo    *userView `json:"assignedTo,omitempty"`
	CreatedAt     time.Time `json:"createdAt"`
	UpdatedAt     time.Time `json:"updatedAt,omitzero"`
}

// ticketViews renders tickets with their assignees resolved. An assignee
// that no longer exists is left out.
func (s *server) ticketViews(r *http.Request, tickets []directory.Ticket) ([]ticketView, error) {
	assignees := make(map[string]*userView)
	out := make([]ticketView, 0, len(tickets))
	for _, t := range tickets {
		v := ticketView{
			ID:            t.ID,
			Title:         t.Title,
			Description:   t.Description,
			CreatedBy:     t.CreatedBy,
			Status:        t.Status,
			Priority:      t.Priority,
			RelatedSkills: t.RelatedSkills,
			HelpfulNotes:  t.HelpfulNotes,
			CreatedAt:     t.CreatedAt,
			UpdatedAt:     t.UpdatedAt,
		}
		if t.AssignedTo != "" {
			u, seen := assignees[t.AssignedTo]
			if !seen {
				found, err := s.app.tickets.FindUser(r.Context(), t.AssignedTo)
				switch {
				case err == nil:
					u = &userView{ID: found.ID, Email: found.Email, Role: found.Role}
				case !errors.Is(err, directory.ErrUserNotFound):
					return nil, err
				}
				assignees[t.AssignedTo] = u
			}
			v.AssignedTo = u
		}
		out = append(out, v)
	}
	return out, nil
}

// handleListTickets: GET /tickets?createdBy=u1
func (s *server) handleListTickets(w http.ResponseWriter, r *http.Request) {
	tickets, err := s.app.tickets.ListTickets(r.Context(), r.URL.Query().Get("createdBy"))
	if err != nil {
		s.fail(w, r, "list tickets", err)
		return
	}
	out, err := s.ticketViews(r, tickets)
	if err != nil {
		s.fail(w, r, "list tickets", err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

// handleGetTicket: GET /tickets/{id}
func (s *server) handleGetTicket(w http.ResponseWriter, r *http.Request) {
	t, err := s.app.tickets.FindTicket(r.Context(), r.PathValue("id"))
	if err != nil {
		if errors.Is(err, directory.ErrTicketNotFound) {
			writeError(w, http.StatusNotFound, "ticket not found")
			return
		}
		s.fail(w, r, "get ticket", err)
		return
	}
	out, err := s.ticketViews(r, []directory.Ticket{t})
	if err != nil {
		s.fail(w, r, "get ticket", err)
		return
	}
	writeJSON(w, http.StatusOK, out[0])
}

// handleListRuns: GET /runs?workflow=on-user-signup&status=FAILED&limit=50
func (s *server) handleListRuns(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	opts := api.RunListOptions{WorkflowID: q.Get("workflow")}
	if st := q.Get("status"); st != "" {
		opts.Status = api.Status(strings.ToUpper(st))
		switch opts.Status {
		case api.StatusPending, api.StatusSucceeded, api.StatusFailed:
		default:
			writeError(w, http.StatusBadRequest, "unknown status "+strconv.Quote(st))
			return
		}
	}
	limit := 100
	if l := q.Get("limit"); l != "" {
		n, err := strconv.Atoi(l)
		if err != nil || n <= 0 || n > 1000 {
			writeError(w, http.StatusBadRequest, "limit must be between 1 and 1000")
			return
		}
		limit = n
	}

	runs, err := s.app.engine.ListRuns(r.Context(), opts)
	if err != nil {
		s.fail(w, r, "list runs", err)
		return
	}
	if len(runs) > limit {
		runs = runs[:limit]
	}
	out := make([]runView, 0, len(runs))
	for _, run := range runs {
		out = append(out, newRunView(run))
	}
	writeJSON(w, http.StatusOK, out)
}

// handleGetRun: GET /runs/{id}
func (s *server) handleGetRun(w http.ResponseWriter, r *http.Request) {
	run, ok := s.lookupRun(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, newRunView(run))
}

// handleHistory: GET /runs/{id}/history
func (s *server) handleHistory(w http.ResponseWriter, r *http.Request) {
	run, ok := s.lookupRun(w, r)
	if !ok {
		return
	}
	events, err := s.app.engine.History(r.Context(), run.ID)
	if err != nil {
		s.fail(w, r, "history", err)
		return
	}

	type view struct {
		At         time.Time       `json:"at"`
		Type       api.HistoryType `json:"type"`
		WorkflowID string          `json:"workflowId,omitempty"`
		Step       string          `json:"step,omitempty"`
		Attempt    int             `json:"attempt,omitempty"`
		Detail     string          `json:"detail,omitempty"`
	}
	out := make([]view, 0, len(events))
	for _, ev := range events {
		out = append(out, view{
			At:         ev.At,
			Type:       ev.Type,
			WorkflowID: ev.WorkflowID,
			Step:       ev.Step,
			Attempt:    ev.Attempt,
			Detail:     ev.Detail,
		})
	}
	writeJSON(w, http.StatusOK, out)
}

// handleSteps: GET /runs/{id}/steps
func (s *server) handleSteps(w http.ResponseWriter, r *http.Request) {
	run, ok := s.lookupRun(w, r)
	if !ok {
		return
	}
	results, err := s.app.engine.StepResults(r.Context(), run.ID)
	if err != nil {
		s.fail(w, r, "step results", err)
		return
	}

	type view struct {
		Label      string    `json:"label"`
		Value      any       `json:"value,omitempty"`
		RecordedAt time.Time `json:"recordedAt"`
	}
	out := make([]view, 0, len(results))
	for _, res := range results {
		v := view{Label: res.Label, RecordedAt: res.RecordedAt}
		if val, err := persistence.DecodeValue[any](res.Value); err == nil {
			v.Value = val
		}
		out = append(out, v)
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *server) handleHealth(w http.ResponseWriter, r *http.Request) {
	snap := s.app.metrics.Snapshot()
	writeJSON(w, http.StatusOK, map[string]any{
		"status":    "ok",
		"queued":    s.app.queue.Len(),
		"created":   snap.RunsCreated,
		"succeeded": snap.RunsSucceeded,
		"failed":    snap.RunsFailed,
	})
}

func (s *server) lookupRun(w http.ResponseWriter, r *http.Request) (*api.Run, bool) {
	run, err := s.app.engine.GetRun(r.Context(), r.PathValue("id"))
	if err != nil {
		if errors.Is(err, api.ErrRunNotFound) {
			writeError(w, http.StatusNotFound, "run not found")
			return nil, false
		}
		s.fail(w, r, "get run", err)
		return nil, false
	}
	return run, true
}

func (s *server) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return false
	}
	return true
}

// fail maps err to a status. Invalid events are the caller's fault;
// everything else is logged and reported as a 500.
func (s *server) fail(w http.ResponseWriter, r *http.Request, op string, err error) {
	if errors.Is(err, api.ErrInvalidEvent) {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	s.logger.ErrorContext(r.Context(), "request_failed",
		slog.String("op", op),
		slog.String("path", r.URL.Path),
		slog.Any("error", err),
	)
	writeError(w, http.StatusInternalServerError, "internal error")
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (s *server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		s.logger.DebugContext(r.Context(), "http_request",
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.Int("status", rec.status),
			slog.Duration("duration", time.Since(start)),
		)
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
