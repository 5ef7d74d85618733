package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"slices"
	"strconv"

	"github.com/petal-labs/nodeschema/compile"
	"github.com/petal-labs/nodeschema/control"
	"github.com/petal-labs/nodeschema/loader"
	"github.com/petal-labs/nodeschema/registry"
	"github.com/petal-labs/nodeschema/runtime"
	"github.com/petal-labs/nodeschema/schema"
)

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	body := map[string]string{"status": "ok"}
	if id := s.currentID(); id != "" {
		body["config_id"] = id
	}
	writeJSON(w, http.StatusOK, body)
}

// ConfigSummary describes the published configuration.
type ConfigSummary struct {
	*compile.Compiled
	PortTypes int `json:"portTypes"`
	NodeTypes int `json:"nodeTypes"`
}

func summarize(c *compile.Compiled) ConfigSummary {
	ports, nodes := c.Registry.Len()
	return ConfigSummary{Compiled: c, PortTypes: ports, NodeTypes: nodes}
}

// PutConfigResponse is returned by PUT /api/config.
type PutConfigResponse struct {
	Config   ConfigSummary       `json:"config"`
	Reused   bool                `json:"reused"`
	Warnings []schema.Diagnostic `json:"warnings,omitempty"`
	Session  *runtime.Change     `json:"session,omitempty"`
}

func (s *Server) handleGetConfig(w http.ResponseWriter, _ *http.Request) {
	cur := s.engine.Current()
	if cur == nil {
		writeError(w, http.StatusNotFound, "NOT_LOADED", "no configuration loaded")
		return
	}
	writeJSON(w, http.StatusOK, summarize(cur))
}

// handlePutConfig validates and publishes a configuration given as JSON or
// YAML. The format follows Content-Type and is sniffed otherwise.
func (s *Server) handlePutConfig(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		if isMaxBytesError(err) {
			writeError(w, http.StatusRequestEntityTooLarge, "BODY_TOO_LARGE", "request body exceeds size limit")
			return
		}
		writeError(w, http.StatusBadRequest, "READ_ERROR", err.Error())
		return
	}

	format, ok := loader.FormatFromContentType(r.Header.Get("Content-Type"))
	if !ok {
		format = loader.DetectFormat("", body)
	}
	cfg, diags, err := loader.Parse(body, format)
	if err != nil {
		var diagErr *loader.DiagnosticError
		if errors.As(err, &diagErr) {
			writeError(w, http.StatusUnprocessableEntity, "VALIDATION_ERROR", "configuration validation failed", diagMessages(diagErr.Diagnostics)...)
			return
		}
		writeError(w, http.StatusBadRequest, "PARSE_ERROR", err.Error())
		return
	}

	compiled, reused, err := s.engine.Load(r.Context(), cfg)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "COMPILE_ERROR", err.Error())
		return
	}
	resp := PutConfigResponse{
		Config:   summarize(compiled),
		Reused:   reused,
		Warnings: schema.Warnings(diags),
	}
	if !reused {
		change, err := s.reloadSession(r.Context())
		if err != nil {
			writeError(w, http.StatusInternalServerError, "SESSION_ERROR", err.Error())
			return
		}
		resp.Session = change
	}
	writeJSON(w, http.StatusOK, resp)
}

// reloadSession moves an existing session to the published configuration.
func (s *Server) reloadSession(ctx context.Context) (*runtime.Change, error) {
	s.sessionMu.Lock()
	defer s.sessionMu.Unlock()
	if s.session == nil {
		return nil, nil
	}
	change, err := s.session.Reload(ctx)
	if err != nil {
		return nil, err
	}
	return &change, nil
}

func (s *Server) handlePortTypes(w http.ResponseWriter, _ *http.Request) {
	cur := s.engine.Current()
	if cur == nil {
		writeError(w, http.StatusNotFound, "NOT_LOADED", "no configuration loaded")
		return
	}
	writeJSON(w, http.StatusOK, cur.Registry.PortTypes())
}

// handleNodeTypes lists node types. ?addable=true keeps only the types the
// editor may offer in its add menu.
func (s *Server) handleNodeTypes(w http.ResponseWriter, r *http.Request) {
	cur := s.engine.Current()
	if cur == nil {
		writeError(w, http.StatusNotFound, "NOT_LOADED", "no configuration loaded")
		return
	}
	types := cur.Registry.NodeTypes()
	if raw := r.URL.Query().Get("addable"); raw != "" {
		addable, err := strconv.ParseBool(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_PARAM", fmt.Sprintf("invalid addable %q", raw))
			return
		}
		types = slices.DeleteFunc(types, func(nt registry.NodeType) bool { return nt.Addable != addable })
	}
	writeJSON(w, http.StatusOK, types)
}

// ResolvePortsRequest is the body of POST /api/node-types/{type}/ports.
type ResolvePortsRequest struct {
	NodeID      string               `json:"nodeId,omitempty"`
	InputData   registry.InputData   `json:"inputData"`
	Connections registry.Connections `json:"connections"`
	Context     map[string]any       `json:"context"`
}

// ResolvePortsResponse carries both port sides. A failing resolver yields
// an empty side and an entry in Errors keyed by side.
type ResolvePortsResponse struct {
	Inputs  []registry.PortInstance `json:"inputs"`
	Outputs []registry.PortInstance `json:"outputs"`
	Errors  map[string]string       `json:"errors,omitempty"`
}

func (s *Server) handleResolvePorts(w http.ResponseWriter, r *http.Request) {
	var req ResolvePortsRequest
	if !decodeOptionalJSON(w, r, &req) {
		return
	}
	cur := s.engine.Current()
	if cur == nil {
		writeError(w, http.StatusNotFound, "NOT_LOADED", "no configuration loaded")
		return
	}

	nodeType := r.PathValue("type")
	var resp ResolvePortsResponse
	for _, side := range []runtime.Side{runtime.SideInputs, runtime.SideOutputs} {
		ports, err := s.engine.Resolve(r.Context(), cur, runtime.ResolveRequest{
			NodeID:      req.NodeID,
			NodeType:    nodeType,
			Side:        side,
			InputData:   req.InputData,
			Connections: req.Connections,
			Context:     req.Context,
		})
		if errors.Is(err, registry.ErrUnknownType) {
			writeError(w, http.StatusNotFound, "NOT_FOUND", err.Error())
			return
		}
		if err != nil {
			if resp.Errors == nil {
				resp.Errors = map[string]string{}
			}
			resp.Errors[string(side)] = err.Error()
		}
		if ports == nil {
			ports = []registry.PortInstance{}
		}
		if side == runtime.SideInputs {
			resp.Inputs = ports
		} else {
			resp.Outputs = ports
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

// EditRequest carries a raw control edit.
type EditRequest struct {
	Value any `json:"value"`
}

// handleEditControl runs a raw edit through a port type's control without
// touching any session. It answers with the ValueChanged the control would
// emit.
func (s *Server) handleEditControl(w http.ResponseWriter, r *http.Request) {
	var req EditRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	cur := s.engine.Current()
	if cur == nil {
		writeError(w, http.StatusNotFound, "NOT_LOADED", "no configuration loaded")
		return
	}
	typeID, name := r.PathValue("type"), r.PathValue("name")
	pt, ok := cur.Registry.PortType(typeID)
	if !ok {
		writeError(w, http.StatusNotFound, "NOT_FOUND", fmt.Sprintf("port type %q not found", typeID))
		return
	}
	idx := slices.IndexFunc(pt.Controls, func(c control.Control) bool { return c.Name == name })
	if idx < 0 {
		writeError(w, http.StatusNotFound, "NOT_FOUND", fmt.Sprintf("control %q not found on port type %q", name, typeID))
		return
	}

	var changed control.ValueChanged
	if err := pt.Controls[idx].Change(func(v control.ValueChanged) { changed = v }, pt.Name, req.Value); err != nil {
		writeAPIError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, changed)
}

// --- helpers ---

// decodeOptionalJSON is decodeJSON that accepts an empty body.
func decodeOptionalJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		if isMaxBytesError(err) {
			writeError(w, http.StatusRequestEntityTooLarge, "BODY_TOO_LARGE", "request body exceeds size limit")
			return false
		}
		writeError(w, http.StatusBadRequest, "READ_ERROR", err.Error())
		return false
	}
	if len(body) == 0 {
		return true
	}
	if err := json.Unmarshal(body, v); err != nil {
		writeError(w, http.StatusBadRequest, "PARSE_ERROR", err.Error())
		return false
	}
	return true
}

// diagMessages formats error diagnostics as "CODE path: message".
func diagMessages(diags []schema.Diagnostic) []string {
	errs := schema.Errors(diags)
	msgs := make([]string, 0, len(errs))
	for _, d := range errs {
		if d.Path != "" {
			msgs = append(msgs, fmt.Sprintf("%s %s: %s", d.Code, d.Path, d.Message))
		} else {
			msgs = append(msgs, fmt.Sprintf("%s: %s", d.Code, d.Message))
		}
	}
	return msgs
}

// writeAPIError maps engine, session and control errors to responses.
func writeAPIError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, runtime.ErrNotLoaded):
		writeError(w, http.StatusNotFound, "NOT_LOADED", err.Error())
	case errors.Is(err, runtime.ErrUnknownNode),
		errors.Is(err, runtime.ErrUnknownPort),
		errors.Is(err, runtime.ErrUnknownControl),
		errors.Is(err, registry.ErrUnknownType):
		writeError(w, http.StatusNotFound, "NOT_FOUND", err.Error())
	case errors.Is(err, runtime.ErrNodeNotAddable),
		errors.Is(err, runtime.ErrNodeNotDeletable):
		writeError(w, http.StatusForbidden, "NOT_ALLOWED", err.Error())
	case errors.Is(err, runtime.ErrIncompatiblePorts),
		errors.Is(err, runtime.ErrDuplicateConnection),
		errors.Is(err, runtime.ErrPortConnected):
		writeError(w, http.StatusConflict, "CONFLICT", err.Error())
	case errors.Is(err, control.ErrNotEditable):
		writeError(w, http.StatusConflict, "NOT_EDITABLE", err.Error())
	case errors.Is(err, control.ErrInvalidValue):
		writeError(w, http.StatusUnprocessableEntity, "INVALID_VALUE", err.Error())
	default:
		writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", err.Error())
	}
}
