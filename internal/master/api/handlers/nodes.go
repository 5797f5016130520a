package handlers

import (
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/wpfleet/wpfleet/internal/master/activity"
	api "github.com/wpfleet/wpfleet/pkg/master/api/handlers"
	"github.com/wpfleet/wpfleet/pkg/models"
	"github.com/wpfleet/wpfleet/pkg/store"
)

// NodesHandler handles node enrollment and fleet management endpoints.
//
// Approved-but-unclaimed API keys live only in pendingKeys: the store
// keeps the salted hash, so the plaintext must be parked here between
// the operator's approval and the agent's next status poll. A master
// restart in that window voids the key and the node must re-enroll.
type NodesHandler struct {
	store    *store.Store
	activity *activity.Recorder

	mu          sync.Mutex
	pendingKeys map[uint]string
}

// NewNodesHandler creates a new NodesHandler.
func NewNodesHandler(st *store.Store, rec *activity.Recorder) *NodesHandler {
	return &NodesHandler{
		store:       st,
		activity:    rec,
		pendingKeys: make(map[uint]string),
	}
}

// JoinRequest is the request body for POST /api/v1/nodes/join-request.
type JoinRequest struct {
	Hostname string `json:"hostname" validate:"required,max=255"`
	Address  string `json:"address,omitempty" validate:"omitempty,max=255"`
}

// JoinResponse is the response body for a join request.
type JoinResponse struct {
	RequestID        uint   `json:"request_id"`
	RegistrationCode string `json:"registration_code"`
}

// NodeStatusResponse is the response body for the status-by-code poll.
// APIKey is non-null on exactly one response per node, ever; later
// polls carry status with an explicit null key.
type NodeStatusResponse struct {
	Status models.NodeStatus `json:"status"`
	APIKey *string           `json:"api_key"`
}

// NodeResponse is a node representation for operator API responses.
type NodeResponse struct {
	ID                   uint              `json:"id"`
	UUID                 string            `json:"uuid"`
	Hostname             string            `json:"hostname"`
	Address              string            `json:"address,omitempty"`
	Status               models.NodeStatus `json:"status"`
	StorageQuotaBytes    int64             `json:"storage_quota_bytes"`
	StorageUsedBytes     int64             `json:"storage_used_bytes"`
	MaxRetentionCopies   *int              `json:"max_retention_copies,omitempty"`
	MaxConcurrentBackups int               `json:"max_concurrent_backups"`
	AgentVersion         string            `json:"agent_version,omitempty"`
	DiskTotal            int64             `json:"disk_total,omitempty"`
	DiskFree             int64             `json:"disk_free,omitempty"`
	SiteCount            int               `json:"site_count"`
	CreatedAt            time.Time         `json:"created_at"`
	ApprovedAt           *time.Time        `json:"approved_at,omitempty"`
	LastSeenAt           *time.Time        `json:"last_seen_at,omitempty"`
}

func nodeToResponse(n *models.Node) NodeResponse {
	return NodeResponse{
		ID:                   n.ID,
		UUID:                 n.UUID,
		Hostname:             n.Hostname,
		Address:              n.Address,
		Status:               n.Status,
		StorageQuotaBytes:    n.StorageQuotaBytes,
		StorageUsedBytes:     n.StorageUsedBytes,
		MaxRetentionCopies:   n.MaxRetentionCopies,
		MaxConcurrentBackups: n.MaxConcurrentBackups,
		AgentVersion:         n.AgentVersion,
		DiskTotal:            n.DiskTotal,
		DiskFree:             n.DiskFree,
		SiteCount:            len(n.Sites),
		CreatedAt:            n.CreatedAt,
		ApprovedAt:           n.ApprovedAt,
		LastSeenAt:           n.LastSeenAt,
	}
}

// Join handles POST /api/v1/nodes/join-request (public). A fresh agent
// posts its hostname and receives the short code the operator will
// approve by.
func (h *NodesHandler) Join(w http.ResponseWriter, r *http.Request) {
	var req JoinRequest
	if !decodeJSONBody(w, r, &req) {
		return
	}

	address := req.Address
	if address == "" {
		address = activity.ClientIP(r)
	}

	node, err := h.store.CreateJoinRequest(r.Context(), req.Hostname, address)
	if err != nil {
		api.InternalServerError(w, "Failed to create join request")
		return
	}

	api.WriteJSONCreated(w, JoinResponse{
		RequestID:        node.ID,
		RegistrationCode: *node.RegistrationCode,
	})
}

// StatusByCode handles GET /api/v1/nodes/status/code/{code} (public).
// The agent polls this until approval; the first poll after approval
// carries the API key and claims it in the same response.
func (h *NodesHandler) StatusByCode(w http.ResponseWriter, r *http.Request) {
	code := chiURLParam(r, "code")
	if code == "" {
		api.BadRequest(w, "Registration code required")
		return
	}

	node, err := h.store.GetNodeByCode(r.Context(), code)
	if err != nil {
		api.NotFound(w, "Unknown registration code")
		return
	}

	resp := NodeStatusResponse{Status: node.Status}
	if node.Status == models.NodeActive {
		if key := h.takePendingKey(node.ID); key != "" {
			switch err := h.store.ClaimNodeKey(r.Context(), node.ID); {
			case err == nil:
				resp.APIKey = &key
			case errors.Is(err, models.ErrKeyAlreadyClaimed):
				// Lost the race; status only.
			default:
				// Claim failed, put the key back for the next poll.
				h.parkPendingKey(node.ID, key)
				api.InternalServerError(w, "Failed to release API key")
				return
			}
		}
	}
	api.WriteJSONOK(w, resp)
}

// List handles GET /api/v1/nodes.
func (h *NodesHandler) List(w http.ResponseWriter, r *http.Request) {
	user := currentUser(w, r, h.store)
	if user == nil {
		return
	}

	nodes, err := h.store.ListNodesForUser(r.Context(), user)
	if err != nil {
		api.InternalServerError(w, "Failed to list nodes")
		return
	}

	out := make([]NodeResponse, 0, len(nodes))
	for _, n := range nodes {
		out = append(out, nodeToResponse(n))
	}
	api.WriteJSONOK(w, out)
}

// Get handles GET /api/v1/nodes/{id}.
func (h *NodesHandler) Get(w http.ResponseWriter, r *http.Request) {
	user := currentUser(w, r, h.store)
	if user == nil {
		return
	}
	id, ok := uintParam(w, r, "id")
	if !ok {
		return
	}

	node := h.nodeForUser(w, r, user, id)
	if node == nil {
		return
	}
	api.WriteJSONOK(w, nodeToResponse(node))
}

// Approve handles POST /api/v1/nodes/approve/{id} (super_admin). The
// plaintext key goes into the pending map; the agent's status poll
// collects it.
func (h *NodesHandler) Approve(w http.ResponseWriter, r *http.Request) {
	user := currentUser(w, r, h.store)
	if user == nil {
		return
	}
	id, ok := uintParam(w, r, "id")
	if !ok {
		return
	}

	node, key, err := h.store.ApproveNode(r.Context(), id, "")
	if err != nil {
		switch {
		case errors.Is(err, models.ErrNodeNotFound):
			api.NotFound(w, "Node not found")
		case errors.Is(err, models.ErrNodeNotPending):
			api.Conflict(w, "Node is not pending approval")
		default:
			api.InternalServerError(w, "Failed to approve node")
		}
		return
	}

	h.parkPendingKey(node.ID, key)
	h.activity.RecordRequest(r, user, activity.ActionNodeApprove, "node", node.Hostname, nil)
	api.WriteJSONOK(w, nodeToResponse(node))
}

// Block handles POST /api/v1/nodes/{id}/block (super_admin).
func (h *NodesHandler) Block(w http.ResponseWriter, r *http.Request) {
	h.setStatus(w, r, models.NodeBlocked)
}

// Unblock handles POST /api/v1/nodes/{id}/unblock (super_admin).
func (h *NodesHandler) Unblock(w http.ResponseWriter, r *http.Request) {
	h.setStatus(w, r, models.NodeActive)
}

func (h *NodesHandler) setStatus(w http.ResponseWriter, r *http.Request, status models.NodeStatus) {
	user := currentUser(w, r, h.store)
	if user == nil {
		return
	}
	id, ok := uintParam(w, r, "id")
	if !ok {
		return
	}

	if err := h.store.SetNodeStatus(r.Context(), id, status); err != nil {
		if errors.Is(err, models.ErrNodeNotFound) {
			api.NotFound(w, "Node not found")
			return
		}
		api.InternalServerError(w, "Failed to update node status")
		return
	}

	node, err := h.store.GetNode(r.Context(), id)
	if err != nil {
		api.InternalServerError(w, "Failed to load node")
		return
	}
	h.activity.RecordRequest(r, user, activity.ActionNodeBlock, "node", node.Hostname,
		map[string]any{"status": status})
	api.WriteJSONOK(w, nodeToResponse(node))
}

// SetQuota handles PUT /api/v1/nodes/{id}/quota?quota_gb= (super_admin).
func (h *NodesHandler) SetQuota(w http.ResponseWriter, r *http.Request) {
	user := currentUser(w, r, h.store)
	if user == nil {
		return
	}
	id, ok := uintParam(w, r, "id")
	if !ok {
		return
	}
	quotaBytes, ok := quotaGBParam(w, r)
	if !ok {
		return
	}

	if err := h.store.SetNodeQuota(r.Context(), id, quotaBytes); err != nil {
		if errors.Is(err, models.ErrNodeNotFound) {
			api.NotFound(w, "Node not found")
			return
		}
		api.InternalServerError(w, "Failed to set node quota")
		return
	}

	node, err := h.store.GetNode(r.Context(), id)
	if err != nil {
		api.InternalServerError(w, "Failed to load node")
		return
	}
	h.activity.RecordRequest(r, user, activity.ActionNodeQuota, "node", node.Hostname,
		map[string]any{"quota_bytes": quotaBytes})
	api.WriteJSONOK(w, nodeToResponse(node))
}

// nodeForUser loads a node within the caller's RBAC scope. Scope
// failures read as 404 so node ids cannot be probed.
func (h *NodesHandler) nodeForUser(w http.ResponseWriter, r *http.Request, user *models.User, id uint) *models.Node {
	nodes, err := h.store.ListNodesForUser(r.Context(), user)
	if err != nil {
		api.InternalServerError(w, "Failed to check node access")
		return nil
	}
	for _, n := range nodes {
		if n.ID == id {
			return n
		}
	}
	api.NotFound(w, "Node not found")
	return nil
}

func (h *NodesHandler) parkPendingKey(nodeID uint, key string) {
	h.mu.Lock()
	h.pendingKeys[nodeID] = key
	h.mu.Unlock()
}

func (h *NodesHandler) takePendingKey(nodeID uint) string {
	h.mu.Lock()
	defer h.mu.Unlock()
	key := h.pendingKeys[nodeID]
	delete(h.pendingKeys, nodeID)
	return key
}
