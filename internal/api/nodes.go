package api

import (
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/gray-logic-cell/internal/ingress"
	"github.com/nerrad567/gray-logic-cell/internal/node"
)

// handleListNodes returns a snapshot of every registry node.
func (s *Server) handleListNodes(w http.ResponseWriter, _ *http.Request) {
	nodes := s.nodes.List()
	writeJSON(w, http.StatusOK, map[string]any{
		"nodes": nodes,
		"count": len(nodes),
	})
}

func (s *Server) handleGetNode(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	snap, err := s.nodes.Snapshot(id)
	if errors.Is(err, node.ErrNodeNotFound) {
		writeNotFound(w, "node not found: "+id)
		return
	}
	if err != nil {
		s.logger.Error("reading node failed", "node", id, "error", err)
		writeInternalError(w, "failed to read node")
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

// methodInfo describes one invocable method.
type methodInfo struct {
	Name          string `json:"name"`
	Node          string `json:"node"`
	Shape         string `json:"shape"`
	Style         string `json:"style"`
	Observational bool   `json:"observational"`
	Description   string `json:"description"`
}

func (s *Server) handleListMethods(w http.ResponseWriter, _ *http.Request) {
	cmds := s.methods.Commands()
	out := make([]methodInfo, 0, len(cmds))
	for _, c := range cmds {
		out = append(out, methodInfo{
			Name:          c.Name,
			Node:          c.Node,
			Shape:         c.Shape.String(),
			Style:         c.Style.String(),
			Observational: c.Observational,
			Description:   c.Description,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"methods": out,
		"count":   len(out),
	})
}

// handleInvokeMethod passes the raw request body to the named method. An
// application/octet-stream body is handed to bytes methods unconverted.
// Command failures still answer 200; the Result carries the outcome.
func (s *Server) handleInvokeMethod(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	cmd, ok := s.methods.Lookup(name)
	if !ok {
		writeNotFound(w, "unknown method: "+name)
		return
	}

	body, err := io.ReadAll(r.Body)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, ErrCodeTooLarge,
				fmt.Sprintf("request body exceeds %d bytes", tooLarge.Limit))
			return
		}
		writeBadRequest(w, "failed to read request body")
		return
	}
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type")) //nolint:errcheck // empty on failure
	binary := mediaType == "application/octet-stream"

	res, err := s.methods.Invoke(r.Context(), name, ingress.Argument(cmd, body, binary))
	if err != nil {
		if errors.Is(err, ingress.ErrUnknownCommand) {
			writeNotFound(w, "unknown method: "+name)
			return
		}
		s.logger.Error("method invocation failed", "method", name, "error", err)
		writeInternalError(w, "method invocation failed")
		return
	}

	s.hub.Broadcast(ChannelMethodResult, map[string]any{
		"method":  name,
		"success": res.Success,
		"code":    res.Code,
		"message": res.Message,
	})
	writeJSON(w, http.StatusOK, res)
}
