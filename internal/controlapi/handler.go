// Package controlapi exposes the session registry's mutator operations
// (spec.md §4.4: "a method-call interface on the OPC server or a control
// API") over HTTP, grounded on the teacher's MQTT command handler
// (WriteCommand/WriteResponse, RequestID correlation) but transported as
// synchronous request/response since these mutators are in-process calls
// rather than commands relayed to a remote protocol driver.
package controlapi

import (
	"net/http"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/nexus-edge/opc-gateway/internal/domain"
	"github.com/nexus-edge/opc-gateway/internal/registry"
)

// Handler adapts Registry mutators to HTTP JSON request/response.
type Handler struct {
	registry *registry.Registry
	logger   zerolog.Logger
}

// NewHandler constructs a control API Handler.
func NewHandler(reg *registry.Registry, logger zerolog.Logger) *Handler {
	return &Handler{registry: reg, logger: logger.With().Str("component", "control-api").Logger()}
}

// AddNodeRequest is the JSON body of POST /nodes.
type AddNodeRequest struct {
	RequestID                     string  `json:"request_id,omitempty"`
	EndpointURL                   string  `json:"endpoint_url"`
	SessionTimeoutMs              float64 `json:"session_timeout_ms"`
	NodeID                        string  `json:"node_id,omitempty"`
	ExpandedNodeID                string  `json:"expanded_node_id,omitempty"`
	RequestedSamplingIntervalMs   float64 `json:"sampling_interval_ms"`
	RequestedPublishingIntervalMs float64 `json:"publishing_interval_ms"`
	QueueSize                     uint32  `json:"queue_size,omitempty"`
	DiscardOldest                 bool    `json:"discard_oldest,omitempty"`
}

// NodeResponse is the response shape shared by every control API call.
type NodeResponse struct {
	RequestID string `json:"request_id"`
	Success   bool   `json:"success"`
	Error     string `json:"error,omitempty"`
	Timestamp string `json:"timestamp"`
}

func correlationID(requested string) string {
	if requested != "" {
		return requested
	}
	return uuid.New().String()
}

// HandleAddNode implements POST /nodes (addNodeForMonitoring, §4.3).
func (h *Handler) HandleAddNode(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	var req AddNodeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeResponse(w, "", false, "invalid request body", http.StatusBadRequest)
		return
	}

	reqID := correlationID(req.RequestID)
	identity, err := parseIdentity(req.NodeID, req.ExpandedNodeID)
	if err != nil {
		h.writeResponse(w, reqID, false, err.Error(), http.StatusBadRequest)
		return
	}

	sessionTimeout := msToDuration(req.SessionTimeoutMs)
	err = h.registry.AddNodeForMonitoring(r.Context(), req.EndpointURL, sessionTimeout, identity,
		req.RequestedSamplingIntervalMs, req.RequestedPublishingIntervalMs, req.QueueSize, req.DiscardOldest)

	status := http.StatusOK
	if err != nil {
		status = http.StatusConflict
		if err == domain.ErrEndpointNotFound || err == domain.ErrNoIdentitySupplied {
			status = http.StatusBadRequest
		}
	}

	h.logger.Info().
		Str("request_id", reqID).
		Str("endpoint", req.EndpointURL).
		Err(err).
		Msg("control API add node request")

	if err != nil {
		h.writeResponse(w, reqID, false, err.Error(), status)
		return
	}
	h.writeResponse(w, reqID, true, "", status)
}

// RemoveNodeRequest is the JSON body of DELETE /nodes.
type RemoveNodeRequest struct {
	RequestID      string `json:"request_id,omitempty"`
	EndpointURL    string `json:"endpoint_url"`
	NodeID         string `json:"node_id,omitempty"`
	ExpandedNodeID string `json:"expanded_node_id,omitempty"`
}

// HandleRemoveNode implements DELETE /nodes (requestMonitorItemRemoval).
func (h *Handler) HandleRemoveNode(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodDelete {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	var req RemoveNodeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeResponse(w, "", false, "invalid request body", http.StatusBadRequest)
		return
	}

	reqID := correlationID(req.RequestID)

	var nodeIDPtr *domain.NodeIDForm
	var expandedPtr *domain.ExpandedNodeIDForm
	if req.NodeID != "" {
		n, err := domain.ParseNodeID(req.NodeID)
		if err != nil {
			h.writeResponse(w, reqID, false, err.Error(), http.StatusBadRequest)
			return
		}
		nodeIDPtr = &n
	}
	if req.ExpandedNodeID != "" {
		e, err := domain.ParseExpandedNodeID(req.ExpandedNodeID)
		if err != nil {
			h.writeResponse(w, reqID, false, err.Error(), http.StatusBadRequest)
			return
		}
		expandedPtr = &e
	}

	removed, err := h.registry.RequestMonitorItemRemoval(r.Context(), req.EndpointURL, nodeIDPtr, expandedPtr)

	h.logger.Info().
		Str("request_id", reqID).
		Str("endpoint", req.EndpointURL).
		Int("removed", removed).
		Err(err).
		Msg("control API remove node request")

	if err != nil {
		h.writeResponse(w, reqID, false, err.Error(), http.StatusInternalServerError)
		return
	}
	h.writeResponse(w, reqID, true, "", http.StatusOK)
}

func parseIdentity(nodeID, expandedNodeID string) (domain.NodeIdentity, error) {
	if nodeID != "" {
		n, err := domain.ParseNodeID(nodeID)
		if err != nil {
			return domain.NodeIdentity{}, err
		}
		return domain.NewNodeIdentity(n.NamespaceIndex, n.IdentifierType, n.Identifier), nil
	}
	if expandedNodeID != "" {
		e, err := domain.ParseExpandedNodeID(expandedNodeID)
		if err != nil {
			return domain.NodeIdentity{}, err
		}
		return domain.NewExpandedNodeIdentity(e.NamespaceURI, e.IdentifierType, e.Identifier, nil), nil
	}
	return domain.NodeIdentity{}, domain.ErrNoIdentitySupplied
}

func msToDuration(ms float64) time.Duration {
	return time.Duration(ms * float64(time.Millisecond))
}

func (h *Handler) writeResponse(w http.ResponseWriter, requestID string, success bool, errMsg string, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(NodeResponse{
		RequestID: requestID,
		Success:   success,
		Error:     errMsg,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
}
