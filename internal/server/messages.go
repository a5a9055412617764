package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"

	"byggarportalen/internal/realtime"
	"byggarportalen/internal/storage"
	"byggarportalen/internal/storage/zapadapter"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// messages handles HTTP requests on "GET /api/projects/{id}/messages" endpoint
func (h *handler) messages(w http.ResponseWriter, r *http.Request) {
	id, _, ok := h.projectAccess(w, r)
	if !ok {
		return
	}

	messages, err := h.store.MessagesByProjectID(r.Context(), id)
	if err != nil {
		h.internalError(w, r, err)
		return
	}
	if messages == nil {
		messages = []storage.Message{}
	}
	h.writeJSON(w, http.StatusOK, messages)
}

// createMessage handles HTTP requests on "POST /api/projects/{id}/messages" endpoint
func (h *handler) createMessage(w http.ResponseWriter, r *http.Request) {
	id, _, ok := h.projectAccess(w, r)
	if !ok {
		return
	}

	parser, v, ok := parseObject(w, r, &h.parsers.messagePool)
	if !ok {
		return
	}
	defer h.parsers.messagePool.Put(parser)

	content, ok := stringField(w, v, "content", true)
	if !ok {
		return
	}
	text := strings.TrimSpace(*content)
	if text == "" {
		http.Error(w, "Field \"content\" must not be empty", http.StatusBadRequest)
		return
	}
	if utf8.RuneCountInString(text) > storage.MaxMessageLength {
		http.Error(w, fmt.Sprintf("Field \"content\" must be at most %d characters", storage.MaxMessageLength), http.StatusBadRequest)
		return
	}

	m, err := h.store.CreateMessage(r.Context(), id, currentUser(r).UserID, text)
	if err != nil {
		switch {
		case errors.Is(err, storage.ErrMessageBadProject):
			http.Error(w, "Project not found", http.StatusNotFound)
		case errors.Is(err, storage.ErrMessageBadAuthor):
			http.Error(w, "User does not exist", http.StatusUnauthorized)
		default:
			h.internalError(w, r, err)
		}
		return
	}
	h.writeJSON(w, http.StatusCreated, m)
}

// deleteMessage handles HTTP requests on "DELETE /api/projects/{id}/messages/{messageID}" endpoint
func (h *handler) deleteMessage(w http.ResponseWriter, r *http.Request) {
	id, _, ok := h.projectAccess(w, r)
	if !ok {
		return
	}

	messageID := r.PathValue("messageID")
	if _, err := uuid.Parse(messageID); err != nil {
		http.Error(w, "Message not found", http.StatusNotFound)
		return
	}
	m, err := h.store.MessageByID(r.Context(), messageID)
	if err != nil {
		if errors.Is(err, storage.ErrMessageNotExist) {
			http.Error(w, "Message not found", http.StatusNotFound)
			return
		}
		h.internalError(w, r, err)
		return
	}
	if m.ProjectID != id {
		http.Error(w, "Message not found", http.StatusNotFound)
		return
	}
	if m.UserID != currentUser(r).UserID {
		http.Error(w, "Only the sender can delete a message", http.StatusForbidden)
		return
	}

	if err := h.store.DeleteMessage(r.Context(), messageID); err != nil {
		if errors.Is(err, storage.ErrMessageNotExist) {
			http.Error(w, "Message not found", http.StatusNotFound)
			return
		}
		h.internalError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// messageStream handles HTTP requests on "GET /api/projects/{id}/messages/stream" endpoint.
// It streams newly inserted messages of the project as server-sent events. Records carry
// no sender profile.
func (h *handler) messageStream(w http.ResponseWriter, r *http.Request) {
	id, _, ok := h.projectAccess(w, r)
	if !ok {
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "Streaming unsupported", http.StatusInternalServerError)
		return
	}

	events := make(chan realtime.Event, 16)
	sub := h.hub.Subscribe("project_chat_"+id, realtime.Filter{
		Event:     realtime.Insert,
		Table:     "project_messages",
		ProjectID: id,
	}, func(e realtime.Event) {
		select {
		case events <- e:
		case <-r.Context().Done():
		}
	})
	defer sub.Close()

	logger := h.logger
	if reqID, ok := zapadapter.IDFromContext(r.Context()); ok {
		logger = logger.With("request_id", reqID)
	}
	logger.Debugf("Streaming messages of project (id: %s)", id)

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	if _, err := fmt.Fprintf(w, "event: connected\ndata: {\"channel\":%q}\n\n", sub.Channel()); err != nil {
		return
	}
	flusher.Flush()

	ticker := time.NewTicker(h.keepAlive)
	defer ticker.Stop()

	for {
		select {
		case <-r.Context().Done():
			logger.Debugf("Message stream of project (id: %s) closed by client", id)
			return
		case <-h.streamsDone:
			return
		case e := <-events:
			record, ok := h.streamRecord(r, logger, id, e)
			if !ok {
				continue
			}
			if _, err := fmt.Fprintf(w, "event: insert\ndata: %s\n\n", record); err != nil {
				logger.Debugf("writing message event: %v", err)
				return
			}
			flusher.Flush()
		case <-ticker.C:
			if _, err := fmt.Fprint(w, ": ping\n\n"); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

// streamRecord reads the inserted row named by e, notifications carry no content.
// Rows deleted before they are read are skipped.
func (h *handler) streamRecord(r *http.Request, logger *zap.SugaredLogger, projectID string, e realtime.Event) ([]byte, bool) {
	m, err := h.store.MessageByID(r.Context(), e.RowID)
	if err != nil {
		if !errors.Is(err, storage.ErrMessageNotExist) && r.Context().Err() == nil {
			logger.Errorf("reading streamed message (id: %s): %v", e.RowID, err)
		}
		return nil, false
	}
	if m.ProjectID != projectID {
		return nil, false
	}
	m.Sender = nil

	record, err := json.Marshal(m)
	if err != nil {
		logger.Errorf("encoding streamed message (id: %s): %v", e.RowID, err)
		return nil, false
	}
	return record, true
}
