package handler

import (
	"encoding/json"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/mir00r/cluster-proxy/internal/container"
	"github.com/mir00r/cluster-proxy/pkg/logger"
)

// AdminHandler serves the read-only topology view for operators
type AdminHandler struct {
	container *container.Container
	logger    *logger.Logger
}

// NewAdminHandler creates a new admin handler
func NewAdminHandler(c *container.Container, log *logger.Logger) *AdminHandler {
	return &AdminHandler{
		container: c,
		logger:    log.ManagementLogger(),
	}
}

// RegisterRoutes installs the admin endpoints
func (h *AdminHandler) RegisterRoutes(router *mux.Router) {
	router.Methods(http.MethodGet).Path("/admin/status").HandlerFunc(h.handleStatus)
	router.Methods(http.MethodGet).Path("/admin/health").HandlerFunc(h.handleHealth)
}

type contextStatus struct {
	Path           string   `json:"path"`
	Status         string   `json:"status"`
	ActiveRequests int64    `json:"active_requests"`
	VirtualHosts   []string `json:"virtual_hosts"`
}

type nodeStatus struct {
	JVMRoute      string          `json:"jvm_route"`
	ConnectionURI string          `json:"connection_uri"`
	Balancer      string          `json:"balancer"`
	Domain        string          `json:"domain,omitempty"`
	HotStandby    bool            `json:"hot_standby,omitempty"`
	Status        string          `json:"status"`
	LoadFactor    int             `json:"load_factor"`
	Elected       int64           `json:"elected"`
	IOErrors      int64           `json:"io_errors"`
	Contexts      []contextStatus `json:"contexts"`
}

type balancerStatus struct {
	Name                string `json:"name"`
	StickySession       bool   `json:"sticky_session"`
	StickySessionCookie string `json:"sticky_session_cookie"`
	StickySessionForce  bool   `json:"sticky_session_force"`
	MaxAttempts         int    `json:"max_attempts"`
}

type topologyStatus struct {
	Nodes     []nodeStatus     `json:"nodes"`
	Balancers []balancerStatus `json:"balancers"`
	Hosts     []string         `json:"hosts"`
}

func (h *AdminHandler) handleStatus(w http.ResponseWriter, r *http.Request) {
	status := topologyStatus{
		Nodes:     []nodeStatus{},
		Balancers: []balancerStatus{},
		Hosts:     h.container.HostAliases(),
	}
	for _, node := range h.container.Nodes() {
		ns := nodeStatus{
			JVMRoute:      node.JVMRoute(),
			ConnectionURI: node.Config().ConnectionURI.String(),
			Balancer:      node.Balancer().Name,
			Domain:        node.Config().Domain,
			HotStandby:    node.IsHotStandby(),
			Status:        node.Status().String(),
			LoadFactor:    node.LoadFactor(),
			Elected:       node.ElectedCount(),
			IOErrors:      node.IOErrorCount(),
			Contexts:      []contextStatus{},
		}
		for _, context := range node.Contexts() {
			ns.Contexts = append(ns.Contexts, contextStatus{
				Path:           context.Path(),
				Status:         context.Status().String(),
				ActiveRequests: context.ActiveRequests(),
				VirtualHosts:   context.VirtualHosts(),
			})
		}
		status.Nodes = append(status.Nodes, ns)
	}
	for _, balancer := range h.container.Balancers() {
		status.Balancers = append(status.Balancers, balancerStatus{
			Name:                balancer.Name,
			StickySession:       balancer.StickySession,
			StickySessionCookie: balancer.StickySessionCookie,
			StickySessionForce:  balancer.StickySessionForce,
			MaxAttempts:         balancer.MaxAttempts,
		})
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(status); err != nil {
		h.logger.WithError(err).Error("Failed to encode topology status")
	}
}

func (h *AdminHandler) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"status": "ok",
		"nodes":  len(h.container.Nodes()),
	})
}
