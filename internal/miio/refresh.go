package miio

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// refreshCycle runs one poll: connect, ping, rebuild the channel structure
// if needed, identify, then request every refresh batch.
func (h *Handler) refreshCycle(ctx context.Context) {
	defer h.recoverPanic("refresh")

	if h.disposed.Load() {
		return
	}
	if h.host != nil && h.host.SkipUpdate() {
		h.logDebug("refresh skipped by host")
		return
	}

	tr, err := h.connection(ctx)
	if err != nil {
		h.logWarn("no connection for refresh", "error", err)
		return
	}

	h.attempt("start receiver", tr.StartReceiver(ctx))
	if h.address != "" {
		h.attempt("ping", tr.SendPing(ctx, h.address))
	}

	h.checkChannelStructure()

	if !h.identified.Load() {
		if _, err := tr.QueueCommand(MethodInfo, "[]"); err != nil {
			h.logWarn("identification request failed", "error", err)
		}
	}

	snap := h.snap.Load()
	if snap.Schema == nil {
		return
	}
	h.requestProperties(tr, snap)

	if h.host != nil {
		h.attempt("network refresh", h.host.RefreshNetwork(ctx))
	}
}

// attempt logs a best-effort step's failure and lets the cycle continue.
func (h *Handler) attempt(op string, err error) {
	if err == nil {
		return
	}
	h.logDebug("refresh step failed", "step", op, "error", err)
}

// requestProperties sends one request per batch of refreshing channels.
// A failed batch does not stop the rest.
func (h *Handler) requestProperties(tr Transport, snap *Snapshot) {
	method := snap.Schema.PropertyMethod
	for _, batch := range Batches(snap.Refresh, snap.Schema.MaxProperties) {
		params, err := json.Marshal(batch)
		if err != nil {
			h.logWarn("encoding property batch", "properties", batch, "error", err)
			continue
		}
		if _, err := tr.QueueCommand(method, string(params)); err != nil {
			h.logWarn("property request failed",
				"method", method,
				"properties", batch,
				"error", fmt.Errorf("%w: %w", ErrTransport, err),
			)
		}
	}
}

// checkChannelStructure loads the schema and materializes channels when the
// current snapshot is not structured. A failure leaves the snapshot
// unstructured so the next cycle retries.
func (h *Handler) checkChannelStructure() {
	current := h.snap.Load()
	if current.Structured {
		return
	}
	model := current.Model
	if model == "" {
		model = h.Model()
	}
	if model == "" {
		return
	}

	s, err := h.schemas.Load(model)
	if err != nil {
		switch {
		case errors.Is(err, ErrSchemaNotFound):
			h.logInfo("no schema for model", "model", model)
		default:
			h.logWarn("schema load failed", "model", model, "error", err)
		}
		return
	}

	res := Materialize(model, s, h.registry)
	for _, invalid := range res.Invalid {
		h.logWarn("channel skipped", "model", model, "error", invalid)
	}
	if res.Changed > 0 {
		if err := h.registry.Commit(); err != nil {
			h.logError("committing channel structure", "model", model, "error", err)
		}
	}

	if !h.snap.CompareAndSwap(current, res.Snapshot) {
		// The model changed while building; rebuild on the next cycle.
		h.schedule()
		return
	}
	h.logInfo("channel structure built",
		"model", model,
		"actions", len(res.Snapshot.Actions),
		"refresh", len(res.Snapshot.Refresh),
		"changed", res.Changed,
	)
}

// HandleResponse dispatches a device response. It is registered with the
// transport and runs on the transport's goroutine.
func (h *Handler) HandleResponse(resp Response) {
	defer h.recoverPanic("response", "id", resp.ID, "method", resp.Method)

	h.mu.Lock()
	wire, raw := h.rawPending[resp.ID]
	if raw {
		delete(h.rawPending, resp.ID)
	}
	h.mu.Unlock()

	if raw {
		text := string(resp.Result)
		if resp.IsError() {
			text = string(resp.Error)
		}
		h.logDebug("raw command response", "command", wire, "response", text)
		h.publisher.Publish(CommandsChannel, StringState(text))
		return
	}

	if resp.IsError() {
		h.logDebug("device returned error", "id", resp.ID, "method", resp.Method, "error", string(resp.Error))
		return
	}

	switch {
	case resp.Method == MethodInfo:
		h.handleInfo(resp)
	case h.isPropertyMethod(resp.Method):
		h.handleProperties(resp)
	default:
		h.logDebug("response ignored", "id", resp.ID, "method", resp.Method)
	}
}

func (h *Handler) isPropertyMethod(method string) bool {
	if method == MethodGetProperty || method == MethodGetValue {
		return true
	}
	snap := h.snap.Load()
	return snap.Schema != nil && method == snap.Schema.PropertyMethod
}

func (h *Handler) handleInfo(resp Response) {
	var info DeviceInfo
	if err := json.Unmarshal(resp.Result, &info); err != nil {
		h.logWarn("decoding device info", "error", fmt.Errorf("%w: %w", ErrCoercion, err))
		return
	}
	h.identified.Store(true)
	h.logInfo("device identified",
		"model", info.Model,
		"firmware", info.FirmwareVersion,
		"mac", info.MAC,
	)
	if h.host != nil {
		h.host.Identified(info)
	}
	if h.Model() == "" && strings.TrimSpace(info.Model) != "" {
		h.OnModelKnown(info.Model)
	}
}

func (h *Handler) handleProperties(resp Response) {
	snap := h.snap.Load()
	result, err := DecodeProperties(resp, snap.Refresh, h.eval)
	if err != nil {
		h.logWarn("decoding property response", "id", resp.ID, "error", err)
		return
	}
	if result.LengthMismatch {
		h.logDebug("property response length differs from request",
			"params", string(resp.Params),
			"result", string(resp.Result),
		)
	}
	for _, s := range result.Skipped {
		if errors.Is(s.Err, errNullValue) || errors.Is(s.Err, errUnknownProperty) {
			h.logDebug("property skipped", "property", s.Property, "reason", s.Err)
			continue
		}
		h.logWarn("property not decoded", "property", s.Property, "error", s.Err)
	}
	for _, u := range result.Updates {
		h.publisher.Publish(u.Channel, u.State)
	}
}
