package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	miiobridge "github.com/nerrad567/gray-logic-miio/internal/bridges/miio"
)

// commandRequest is the body of POST /devices/{id}/channels/{channel}.
// It has the same command/value shape as the MQTT command message.
type commandRequest struct {
	Command string          `json:"command"`
	Value   json.RawMessage `json:"value,omitempty"`
}

// handleListDevices returns every configured device.
func (s *Server) handleListDevices(w http.ResponseWriter, _ *http.Request) {
	devices := s.bridge.Devices()
	writeJSON(w, http.StatusOK, map[string]any{
		"devices": devices,
		"count":   len(devices),
	})
}

// handleGetDevice returns one device.
func (s *Server) handleGetDevice(w http.ResponseWriter, r *http.Request) {
	dev, err := s.bridge.Device(chi.URLParam(r, "id"))
	if err != nil {
		writeBridgeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, dev)
}

// handleListChannels returns a device's channels with their last values.
func (s *Server) handleListChannels(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	channels, err := s.bridge.Channels(id)
	if err != nil {
		writeBridgeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"device_id": id,
		"channels":  channels,
		"count":     len(channels),
	})
}

// handleChannelCommand sends a command to a channel. The command is
// accepted once it is handed to the device; the resulting state arrives
// on the WebSocket.
func (s *Server) handleChannelCommand(w http.ResponseWriter, r *http.Request) {
	deviceID := chi.URLParam(r, "id")
	channel := chi.URLParam(r, "channel")

	var req commandRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		writeBadRequest(w, "invalid JSON body")
		return
	}

	msg := miiobridge.CommandMessage{
		ID:      uuid.NewString(),
		Channel: channel,
		Command: req.Command,
		Value:   req.Value,
		Source:  "api",
	}
	cmd, err := msg.ToCommand()
	if err != nil {
		writeBridgeError(w, err)
		return
	}

	if err := s.bridge.SendCommand(deviceID, channel, cmd); err != nil {
		writeBridgeError(w, err)
		return
	}

	s.logger.Debug("channel command accepted",
		"device", deviceID,
		"channel", channel,
		"command_id", msg.ID,
		"request_id", r.Context().Value(ctxKeyRequestID),
	)
	writeJSON(w, http.StatusAccepted, map[string]any{
		"status":     string(miiobridge.AckAccepted),
		"command_id": msg.ID,
		"device_id":  deviceID,
		"channel":    channel,
	})
}

// handleRefreshDevice requests an immediate refresh.
func (s *Server) handleRefreshDevice(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := s.bridge.Refresh(id); err != nil {
		writeBridgeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]any{
		"status":    string(miiobridge.AckAccepted),
		"device_id": id,
	})
}
