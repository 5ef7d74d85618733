package server

import (
	"fmt"
	"net/http"

	"github.com/petal-labs/nodeschema/control"
	"github.com/petal-labs/nodeschema/runtime"
)

// AddNodeRequest is the body of POST /api/nodes.
type AddNodeRequest struct {
	Type string `json:"type"`
}

// SetValueRequest is the body of PUT /api/nodes/{id}/values.
type SetValueRequest struct {
	Port    string `json:"port"`
	Control string `json:"control"`
	Value   any    `json:"value"`
}

// SetStatusRequest is the body of PUT /api/status. An empty status clears
// the node's status.
type SetStatusRequest struct {
	Statuses map[string]string `json:"statuses"`
}

// ChangeResponse reports a mutation's effect together with the nodes it
// touched.
type ChangeResponse struct {
	Change runtime.Change `json:"change"`
	Nodes  []runtime.Node `json:"nodes"`
}

// ControlView is one rendered control of a node.
type ControlView struct {
	Port      string           `json:"port"`
	Control   string           `json:"control"`
	Connected bool             `json:"connected"`
	Fragment  control.Fragment `json:"fragment"`
}

func (s *Server) handleListNodes(w http.ResponseWriter, r *http.Request) {
	sess, err := s.editorSession(r.Context())
	if err != nil {
		writeAPIError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sess.Nodes())
}

func (s *Server) handleAddNode(w http.ResponseWriter, r *http.Request) {
	var req AddNodeRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.Type == "" {
		writeError(w, http.StatusBadRequest, "INVALID_REQUEST", "type is required")
		return
	}
	sess, err := s.editorSession(r.Context())
	if err != nil {
		writeAPIError(w, err)
		return
	}
	node, err := sess.AddNode(r.Context(), req.Type)
	if err != nil {
		writeAPIError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, node)
}

func (s *Server) handleGetNode(w http.ResponseWriter, r *http.Request) {
	sess, err := s.editorSession(r.Context())
	if err != nil {
		writeAPIError(w, err)
		return
	}
	id := r.PathValue("id")
	node, ok := sess.Node(id)
	if !ok {
		writeError(w, http.StatusNotFound, "NOT_FOUND", fmt.Sprintf("node %q not found", id))
		return
	}
	writeJSON(w, http.StatusOK, node)
}

func (s *Server) handleRemoveNode(w http.ResponseWriter, r *http.Request) {
	sess, err := s.editorSession(r.Context())
	if err != nil {
		writeAPIError(w, err)
		return
	}
	change, err := sess.RemoveNode(r.Context(), r.PathValue("id"))
	if err != nil {
		writeAPIError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, changeResponse(sess, change))
}

func (s *Server) handleSetValue(w http.ResponseWriter, r *http.Request) {
	var req SetValueRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	sess, err := s.editorSession(r.Context())
	if err != nil {
		writeAPIError(w, err)
		return
	}
	id := r.PathValue("id")
	change, err := sess.SetValue(r.Context(), id, req.Port, req.Control, req.Value)
	if err != nil {
		writeAPIError(w, err)
		return
	}
	resp := changeResponse(sess, change)
	if len(change.Nodes) == 0 {
		// The edit changed no ports; the edited node is still of interest.
		if n, ok := sess.Node(id); ok {
			resp.Nodes = append(resp.Nodes, n)
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleRenderControls renders every control of a node's input ports with
// the node's current values. Controls of connected inputs are flagged so
// the editor can hide them.
func (s *Server) handleRenderControls(w http.ResponseWriter, r *http.Request) {
	sess, err := s.editorSession(r.Context())
	if err != nil {
		writeAPIError(w, err)
		return
	}
	id := r.PathValue("id")
	node, ok := sess.Node(id)
	if !ok {
		writeError(w, http.StatusNotFound, "NOT_FOUND", fmt.Sprintf("node %q not found", id))
		return
	}

	connected := map[string]bool{}
	for _, c := range sess.Connections() {
		if c.ToNode == id {
			connected[c.ToPort] = true
		}
	}

	views := []ControlView{}
	for _, p := range node.Inputs {
		for _, c := range p.Controls {
			views = append(views, ControlView{
				Port:      p.Name,
				Control:   c.Name,
				Connected: connected[p.Name],
				Fragment: c.Render(control.RenderInput{
					Value:     node.InputData[p.Name][c.Name],
					Context:   s.sessionOpts.Context,
					Port:      control.PortMeta{Type: p.Type, Name: p.Name, Label: p.Label},
					InputData: node.InputData,
				}),
			})
		}
	}
	writeJSON(w, http.StatusOK, views)
}

func (s *Server) handleListConnections(w http.ResponseWriter, r *http.Request) {
	sess, err := s.editorSession(r.Context())
	if err != nil {
		writeAPIError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sess.Connections())
}

func (s *Server) handleConnect(w http.ResponseWriter, r *http.Request) {
	var req runtime.Connection
	if !decodeJSON(w, r, &req) {
		return
	}
	sess, err := s.editorSession(r.Context())
	if err != nil {
		writeAPIError(w, err)
		return
	}
	change, err := sess.Connect(r.Context(), req)
	if err != nil {
		writeAPIError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, changeResponse(sess, change))
}

func (s *Server) handleDisconnect(w http.ResponseWriter, r *http.Request) {
	var req runtime.Connection
	if !decodeJSON(w, r, &req) {
		return
	}
	sess, err := s.editorSession(r.Context())
	if err != nil {
		writeAPIError(w, err)
		return
	}
	change, err := sess.Disconnect(r.Context(), req)
	if err != nil {
		writeAPIError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, changeResponse(sess, change))
}

func (s *Server) handleSetStatus(w http.ResponseWriter, r *http.Request) {
	var req SetStatusRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	statuses := make(map[string]runtime.Status, len(req.Statuses))
	for id, raw := range req.Statuses {
		st, err := runtime.ParseStatus(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_STATUS", err.Error())
			return
		}
		statuses[id] = st
	}
	sess, err := s.editorSession(r.Context())
	if err != nil {
		writeAPIError(w, err)
		return
	}
	sess.SetStatus(r.Context(), statuses)
	writeJSON(w, http.StatusOK, sess.Nodes())
}

// changeResponse collects the current state of every node named in change.
func changeResponse(sess *runtime.Session, change runtime.Change) ChangeResponse {
	resp := ChangeResponse{Change: change, Nodes: []runtime.Node{}}
	for _, d := range change.Nodes {
		if n, ok := sess.Node(d.NodeID); ok {
			resp.Nodes = append(resp.Nodes, n)
		}
	}
	return resp
}
