package handlers

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"

	"whatsapp-context-scheduler/pkg/scheduler"
)

type Handler struct {
	scheduler  *scheduler.Scheduler
	logger     *logrus.Logger
	instanceID string
}

func NewHandler(scheduler *scheduler.Scheduler, logger *logrus.Logger, instanceID string) *Handler {
	return &Handler{
		scheduler:  scheduler,
		logger:     logger,
		instanceID: instanceID,
	}
}

// Fragment is the inbound fragment feed, invoked by the webhook-ingestion
// collaborator for every inbound user message. Accepted submissions never
// surface downstream errors; the only client error is an unusable key.
func (h *Handler) Fragment(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	key := vars["key"]

	if key == "" {
		http.Error(w, "Missing conversation key", http.StatusBadRequest)
		return
	}

	var request struct {
		MessageID  string    `json:"message_id"`
		Text       string    `json:"text"`
		ReceivedAt time.Time `json:"received_at,omitempty"`
		Edited     bool      `json:"edited,omitempty"`
	}

	if err := json.NewDecoder(r.Body).Decode(&request); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	if request.ReceivedAt.IsZero() {
		request.ReceivedAt = time.Now()
	}

	var err error
	if request.Edited {
		err = h.scheduler.HandleEdit(key, request.MessageID, request.Text)
	} else {
		err = h.scheduler.HandleFragment(key, request.MessageID, request.Text, request.ReceivedAt)
	}
	if err != nil {
		http.Error(w, "Invalid conversation key", http.StatusBadRequest)
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]interface{}{
		"status":      "accepted",
		"received_at": request.ReceivedAt,
	})

	h.logger.WithFields(logrus.Fields{
		"conversation_key": key,
		"edited":           request.Edited,
	}).Debug("Fragment accepted")
}

// SystemMessage is the marking feed for messages sent outside the reply
// path, e.g. a meeting-confirmation sender.
func (h *Handler) SystemMessage(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	key := vars["key"]

	if key == "" {
		http.Error(w, "Missing conversation key", http.StatusBadRequest)
		return
	}

	var request struct {
		Category string    `json:"category"`
		SentAt   time.Time `json:"sent_at,omitempty"`
	}

	if err := json.NewDecoder(r.Body).Decode(&request); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	if request.SentAt.IsZero() {
		request.SentAt = time.Now()
	}

	if err := h.scheduler.MarkSystemMessage(key, request.Category, request.SentAt); err != nil {
		http.Error(w, "Invalid conversation key", http.StatusBadRequest)
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]interface{}{
		"status":  "accepted",
		"sent_at": request.SentAt,
	})

	h.logger.WithFields(logrus.Fields{
		"conversation_key": key,
		"category":         request.Category,
	}).Debug("System message marked")
}

// Override toggles the human takeover flag for a conversation.
func (h *Handler) Override(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	key := vars["key"]

	if key == "" {
		http.Error(w, "Missing conversation key", http.StatusBadRequest)
		return
	}

	var request struct {
		Active bool `json:"active"`
	}

	if err := json.NewDecoder(r.Body).Decode(&request); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	if err := h.scheduler.SetOverride(key, request.Active); err != nil {
		http.Error(w, "Invalid conversation key", http.StatusBadRequest)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status": "ok",
		"active": request.Active,
	})
}

func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":       "healthy",
		"instance_id":  h.instanceID,
		"open_buffers": h.scheduler.OpenBuffers(),
		"timestamp":    time.Now(),
	})
}

func (h *Handler) Status(w http.ResponseWriter, r *http.Request) {
	now := time.Now()
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"instance_id":   h.instanceID,
		"conversations": h.scheduler.Snapshot(now),
		"timestamp":     now,
	})
}

func writeJSON(w http.ResponseWriter, status int, body map[string]interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}
