// Package handler exposes the management wire surface. Command parsing
// lives here, outside the container core: the handlers translate
// form-encoded management commands into container mutation calls and map
// structured errors back onto the wire.
package handler

import (
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"github.com/mir00r/cluster-proxy/internal/container"
	"github.com/mir00r/cluster-proxy/internal/domain"
	"github.com/mir00r/cluster-proxy/internal/errors"
	"github.com/mir00r/cluster-proxy/internal/executor"
	"github.com/mir00r/cluster-proxy/pkg/logger"
)

// Management command methods, used directly as HTTP methods on the
// management listener.
const (
	MethodConfig      = "CONFIG"
	MethodEnableApp   = "ENABLE-APP"
	MethodDisableApp  = "DISABLE-APP"
	MethodStopApp     = "STOP-APP"
	MethodRemoveApp   = "REMOVE-APP"
	MethodEnableNode  = "ENABLE-NODE"
	MethodDisableNode = "DISABLE-NODE"
	MethodStopNode    = "STOP-NODE"
	MethodRemoveNode  = "REMOVE-NODE"
	MethodStatus      = "STATUS"
	MethodInfo        = "INFO"
	MethodPing        = "PING"
)

const defaultBalancerName = "mycluster"

// ManagementHandler translates management commands into container mutations
type ManagementHandler struct {
	container *container.Container
	pool      *executor.Pool
	buffers   domain.BufferPool
	logger    *logger.Logger
}

// NewManagementHandler creates a new management handler
func NewManagementHandler(c *container.Container, pool *executor.Pool, buffers domain.BufferPool, log *logger.Logger) *ManagementHandler {
	return &ManagementHandler{
		container: c,
		pool:      pool,
		buffers:   buffers,
		logger:    log.ManagementLogger(),
	}
}

// RegisterRoutes installs one route per management command method
func (h *ManagementHandler) RegisterRoutes(router *mux.Router) {
	router.Methods(MethodConfig).HandlerFunc(h.handleConfig)
	router.Methods(MethodEnableApp).HandlerFunc(h.handleEnableApp)
	router.Methods(MethodDisableApp).HandlerFunc(h.handleDisableApp)
	router.Methods(MethodStopApp).HandlerFunc(h.handleStopApp)
	router.Methods(MethodRemoveApp).HandlerFunc(h.handleRemoveApp)
	router.Methods(MethodEnableNode).HandlerFunc(h.handleEnableNode)
	router.Methods(MethodDisableNode).HandlerFunc(h.handleDisableNode)
	router.Methods(MethodStopNode).HandlerFunc(h.handleStopNode)
	router.Methods(MethodRemoveNode).HandlerFunc(h.handleRemoveNode)
	router.Methods(MethodStatus).HandlerFunc(h.handleStatus)
	router.Methods(MethodInfo).HandlerFunc(h.handleInfo)
	router.Methods(MethodPing).HandlerFunc(h.handlePing)
}

// parseParams reads form-encoded parameters from the request body, falling
// back to the URL query. Custom command methods are not parsed by
// http.Request.ParseForm, so the body is handled here.
func parseParams(r *http.Request) (url.Values, error) {
	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		return nil, err
	}
	params, err := url.ParseQuery(string(body))
	if err != nil {
		return nil, err
	}
	for key, values := range r.URL.Query() {
		for _, value := range values {
			params.Add(key, value)
		}
	}
	return params, nil
}

func (h *ManagementHandler) handleConfig(w http.ResponseWriter, r *http.Request) {
	params, err := parseParams(r)
	if err != nil {
		h.writeError(w, errors.WrapError(err, errors.ErrCodeInvalidCommand, "management", "Malformed CONFIG body"))
		return
	}
	jvmRoute := params.Get("JVMRoute")
	if jvmRoute == "" {
		h.writeError(w, errors.NewError(errors.ErrCodeInvalidCommand, "management", "CONFIG requires a JVMRoute"))
		return
	}

	scheme := strings.ToLower(params.Get("Type"))
	if scheme != "https" {
		scheme = "http"
	}
	host := params.Get("Host")
	if host == "" {
		host = "localhost"
	}
	port := params.Get("Port")
	if port == "" {
		port = "8009"
	}
	balancerName := params.Get("Balancer")
	if balancerName == "" {
		balancerName = defaultBalancerName
	}

	config := &domain.NodeConfig{
		JVMRoute:       jvmRoute,
		ConnectionURI:  &url.URL{Scheme: scheme, Host: host + ":" + port},
		Balancer:       balancerName,
		Domain:         params.Get("Domain"),
		HotStandby:     isYes(params.Get("HotStandby")),
		FlushPackets:   isYes(params.Get("flushpackets")),
		Ping:           seconds(params.Get("ping")),
		Timeout:        seconds(params.Get("Timeout")),
		MaxConnections: intValue(params.Get("smax"), 0),
		TTL:            seconds(params.Get("ttl")),
	}

	builder := domain.NewBalancerBuilder(balancerName)
	if params.Get("StickySession") != "" {
		builder.StickySession = isYes(params.Get("StickySession"))
	}
	builder.StickySessionCookie = params.Get("StickySessionCookie")
	builder.StickySessionPath = params.Get("StickySessionPath")
	builder.StickySessionForce = isYes(params.Get("StickySessionForce"))
	builder.StickySessionRemove = isYes(params.Get("StickySessionRemove"))
	builder.MaxAttempts = intValue(params.Get("Maxattempts"), 0)

	if err := h.container.AddNode(config, builder, h.pool.Next(), h.buffers); err != nil {
		h.writeError(w, err)
		return
	}
	h.writeOK(w)
}

func (h *ManagementHandler) handleEnableApp(w http.ResponseWriter, r *http.Request) {
	h.appCommand(w, r, func(path, jvmRoute string, aliases []string) error {
		return h.container.EnableContext(path, jvmRoute, aliases)
	})
}

func (h *ManagementHandler) handleDisableApp(w http.ResponseWriter, r *http.Request) {
	h.appCommand(w, r, func(path, jvmRoute string, aliases []string) error {
		return h.container.DisableContext(path, jvmRoute, aliases)
	})
}

func (h *ManagementHandler) handleStopApp(w http.ResponseWriter, r *http.Request) {
	params, err := parseParams(r)
	if err != nil {
		h.writeError(w, errors.WrapError(err, errors.ErrCodeInvalidCommand, "management", "Malformed command body"))
		return
	}
	jvmRoute := params.Get("JVMRoute")
	contextPath := params.Get("Context")
	requests, err := h.container.StopContext(contextPath, jvmRoute, aliases(params))
	if err != nil {
		h.writeError(w, err)
		return
	}
	fmt.Fprintf(w, "Type=STOP-APP-RSP&JVMRoute=%s&Context=%s&Requests=%d\n", jvmRoute, contextPath, requests)
}

func (h *ManagementHandler) handleRemoveApp(w http.ResponseWriter, r *http.Request) {
	h.appCommand(w, r, func(path, jvmRoute string, aliases []string) error {
		return h.container.RemoveContext(path, jvmRoute, aliases)
	})
}

func (h *ManagementHandler) handleEnableNode(w http.ResponseWriter, r *http.Request) {
	h.nodeCommand(w, r, h.container.EnableNode)
}

func (h *ManagementHandler) handleDisableNode(w http.ResponseWriter, r *http.Request) {
	h.nodeCommand(w, r, h.container.DisableNode)
}

func (h *ManagementHandler) handleStopNode(w http.ResponseWriter, r *http.Request) {
	h.nodeCommand(w, r, h.container.StopNode)
}

func (h *ManagementHandler) handleRemoveNode(w http.ResponseWriter, r *http.Request) {
	params, err := parseParams(r)
	if err != nil {
		h.writeError(w, errors.WrapError(err, errors.ErrCodeInvalidCommand, "management", "Malformed command body"))
		return
	}
	jvmRoute := params.Get("JVMRoute")
	if node := h.container.RemoveNode(jvmRoute); node == nil {
		h.writeError(w, errors.NewNodeUnknownError(jvmRoute))
		return
	}
	h.writeOK(w)
}

func (h *ManagementHandler) handleStatus(w http.ResponseWriter, r *http.Request) {
	params, err := parseParams(r)
	if err != nil {
		h.writeError(w, errors.WrapError(err, errors.ErrCodeInvalidCommand, "management", "Malformed STATUS body"))
		return
	}
	jvmRoute := params.Get("JVMRoute")
	load := intValue(params.Get("Load"), -1)
	if err := h.container.UpdateLoad(jvmRoute, load); err != nil {
		h.writeError(w, err)
		return
	}
	fmt.Fprintf(w, "Type=STATUS-RSP&JVMRoute=%s&State=OK\n", jvmRoute)
}

func (h *ManagementHandler) handleInfo(w http.ResponseWriter, r *http.Request) {
	for i, node := range h.container.Nodes() {
		fmt.Fprintf(w, "Node: [%d],Name: %s,Balancer: %s,Domain: %s,Status: %s,Load: %d,Elected: %d\n",
			i+1, node.JVMRoute(), node.Balancer().Name, node.Config().Domain,
			node.Status(), node.LoadFactor(), node.ElectedCount())
		for j, context := range node.Contexts() {
			fmt.Fprintf(w, "Context: [%d:%d],Context: %s,Status: %s,Requests: %d\n",
				i+1, j+1, context.Path(), context.Status(), context.ActiveRequests())
		}
	}
}

func (h *ManagementHandler) handlePing(w http.ResponseWriter, r *http.Request) {
	fmt.Fprint(w, "Type=PING-RSP&State=OK\n")
}

func (h *ManagementHandler) appCommand(w http.ResponseWriter, r *http.Request, command func(path, jvmRoute string, aliases []string) error) {
	params, err := parseParams(r)
	if err != nil {
		h.writeError(w, errors.WrapError(err, errors.ErrCodeInvalidCommand, "management", "Malformed command body"))
		return
	}
	if err := command(params.Get("Context"), params.Get("JVMRoute"), aliases(params)); err != nil {
		h.writeError(w, err)
		return
	}
	h.writeOK(w)
}

func (h *ManagementHandler) nodeCommand(w http.ResponseWriter, r *http.Request, command func(jvmRoute string) error) {
	params, err := parseParams(r)
	if err != nil {
		h.writeError(w, errors.WrapError(err, errors.ErrCodeInvalidCommand, "management", "Malformed command body"))
		return
	}
	if err := command(params.Get("JVMRoute")); err != nil {
		h.writeError(w, err)
		return
	}
	h.writeOK(w)
}

func (h *ManagementHandler) writeOK(w http.ResponseWriter) {
	w.WriteHeader(http.StatusOK)
	fmt.Fprint(w, "OK\n")
}

// writeError maps a structured error onto the wire. Node conflicts carry the
// MNODERM error type so the registering worker knows its route is still held.
func (h *ManagementHandler) writeError(w http.ResponseWriter, err error) {
	code := errors.GetErrorCode(err)
	errorType := string(code)
	if code == errors.ErrCodeNodeConflict {
		errorType = "MNODERM"
	}
	h.logger.WithError(err).WithField("error_type", errorType).Warn("Management command failed")
	w.Header().Set("Type", errorType)
	w.Header().Set("Mess", err.Error())
	http.Error(w, err.Error(), errors.GetHTTPStatusCode(err))
}

func aliases(params url.Values) []string {
	raw := params.Get("Alias")
	if raw == "" {
		return nil
	}
	return strings.Split(raw, ",")
}

func isYes(value string) bool {
	return strings.EqualFold(value, "yes") || strings.EqualFold(value, "true")
}

func intValue(value string, fallback int) int {
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func seconds(value string) time.Duration {
	return time.Duration(intValue(value, 0)) * time.Second
}
