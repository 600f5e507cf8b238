package http

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/heyitsaamir/conductor/internal/domain/agent"
	"github.com/heyitsaamir/conductor/internal/domain/conversation"
	"github.com/heyitsaamir/conductor/internal/domain/message"
	"github.com/heyitsaamir/conductor/internal/middleware"
	"github.com/heyitsaamir/conductor/internal/port/taskstore"
	"github.com/heyitsaamir/conductor/internal/service"
)

// HealthCheck reports whether one dependency is usable.
type HealthCheck func(ctx context.Context) error

// Handlers holds the services behind the HTTP API.
type Handlers struct {
	Conductor *service.ConductorService
	States    *service.StateService
	Tasks     taskstore.Store
	BodyLimit int64
	Health    map[string]HealthCheck
}

// approvedText is the do message an approve card action stands for.
const approvedText = "Approved task"

var mentionPrefix = regexp.MustCompile(`^<at>[^<]+</at>`)

// prepareText strips a leading chat mention and surrounding whitespace.
func prepareText(text string) string {
	return strings.TrimSpace(mentionPrefix.ReplaceAllString(text, ""))
}

// Recv handles POST /recv: do and did envelopes from agents and bridges.
func (h *Handlers) Recv(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, h.BodyLimit)
	data, err := io.ReadAll(r.Body)
	if err != nil {
		writeError(w, http.StatusRequestEntityTooLarge, "request body too large")
		return
	}
	msg, err := message.Decode(data)
	if err != nil {
		writeDomainError(w, err, "invalid message")
		return
	}

	slog.InfoContext(r.Context(), "message received",
		"type", msg.Type(),
		"task_id", msg.Task(),
		"sender", middleware.Sender(r.Context()),
	)
	if err := h.Conductor.Handle(r.Context(), msg); err != nil {
		writeDomainError(w, err, "task not found")
		return
	}
	writeJSON(w, http.StatusOK, okResponse)
}

type chatMessage struct {
	ConversationID string `json:"conversationId"`
	Text           string `json:"text"`
}

// PostMessage handles POST /messages: a user message from the chat bridge.
func (h *Handlers) PostMessage(w http.ResponseWriter, r *http.Request) {
	in, ok := readJSON[chatMessage](w, r, h.BodyLimit)
	if !ok {
		return
	}
	if !requireField(w, in.ConversationID, "conversationId") {
		return
	}
	text := prepareText(in.Text)
	if !requireField(w, text, "text") {
		return
	}
	if err := h.Conductor.HandleDo(r.Context(), userDo(in.ConversationID, text)); err != nil {
		writeDomainError(w, err, "conversation not found")
		return
	}
	writeJSON(w, http.StatusOK, okResponse)
}

type cardAction struct {
	ConversationID string `json:"conversationId"`
	Action         struct {
		Verb string `json:"verb"`
		Data struct {
			TaskID string `json:"taskId"`
		} `json:"data"`
	} `json:"action"`
}

type actionResponse struct {
	Value string `json:"value"`
}

// PostAction handles POST /messages/actions: approve or deny on a plan card.
func (h *Handlers) PostAction(w http.ResponseWriter, r *http.Request) {
	in, ok := readJSON[cardAction](w, r, h.BodyLimit)
	if !ok {
		return
	}
	if !requireField(w, in.ConversationID, "conversationId") {
		return
	}
	if in.Action.Data.TaskID == "" {
		slog.WarnContext(r.Context(), "card action without task id", "conversation_id", in.ConversationID)
		writeJSON(w, http.StatusOK, actionResponse{Value: "No task id found in card action"})
		return
	}

	var err error
	switch in.Action.Verb {
	case "approve":
		err = h.Conductor.HandleDo(r.Context(), userDo(in.ConversationID, approvedText))
	case "deny":
		err = h.Conductor.Cancel(r.Context(), in.ConversationID)
	default:
		writeError(w, http.StatusBadRequest, "unknown action "+in.Action.Verb)
		return
	}
	if err != nil {
		writeDomainError(w, err, "conversation not found")
		return
	}
	writeJSON(w, http.StatusOK, actionResponse{Value: "Got it!"})
}

// ListConversationStates handles GET /conversations/{id}/states.
func (h *Handlers) ListConversationStates(w http.ResponseWriter, r *http.Request) {
	states, err := h.States.GetConversationStates(r.Context(), urlParam(r, "id"))
	if err != nil {
		writeDomainError(w, err, "conversation not found")
		return
	}
	if states == nil {
		states = []conversation.State{}
	}
	writeJSON(w, http.StatusOK, states)
}

// GetTaskState handles GET /tasks/{id}/state.
func (h *Handlers) GetTaskState(w http.ResponseWriter, r *http.Request) {
	st, err := h.States.GetStateByTaskID(r.Context(), urlParam(r, "id"))
	if err != nil {
		writeDomainError(w, err, "state not found")
		return
	}
	if st == nil {
		writeError(w, http.StatusNotFound, "state not found")
		return
	}
	writeJSON(w, http.StatusOK, st)
}

// GetTaskPlan handles GET /tasks/{id}/plan: the rendered plan card.
func (h *Handlers) GetTaskPlan(w http.ResponseWriter, r *http.Request) {
	id := urlParam(r, "id")
	parent, err := h.Tasks.GetTask(r.Context(), id)
	if err != nil {
		writeDomainError(w, err, "task not found")
		return
	}
	subtasks, err := h.Tasks.GetSubtasks(r.Context(), id)
	if err != nil {
		writeDomainError(w, err, "task not found")
		return
	}
	writeJSON(w, http.StatusOK, service.RenderPlanCard(parent, subtasks, false))
}

type healthResponse struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks,omitempty"`
}

// GetHealth handles GET /health. Any failing check answers 503.
func (h *Handlers) GetHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	resp := healthResponse{Status: "ok", Checks: make(map[string]string, len(h.Health))}
	status := http.StatusOK
	for name, check := range h.Health {
		if err := check(ctx); err != nil {
			resp.Checks[name] = err.Error()
			resp.Status = "degraded"
			status = http.StatusServiceUnavailable
			continue
		}
		resp.Checks[name] = "ok"
	}
	writeJSON(w, status, resp)
}

func userDo(conversationID, text string) message.Do {
	return message.Do{
		TaskID: agent.ConductorID,
		Method: message.MethodHandleMessage,
		Params: message.DoParams{Message: text, ConversationID: conversationID},
	}
}
