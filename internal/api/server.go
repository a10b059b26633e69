package api

import (
	"log/slog"
	"net/http"

	"github.com/drawbridge-labs/drawbridge/internal/config"
	"github.com/drawbridge-labs/drawbridge/internal/diff"
	"github.com/drawbridge-labs/drawbridge/internal/exec"
	"github.com/drawbridge-labs/drawbridge/internal/forward"
	"github.com/drawbridge-labs/drawbridge/internal/httpcall"
	"github.com/drawbridge-labs/drawbridge/internal/inventory"
	"github.com/drawbridge-labs/drawbridge/internal/parse"
	"github.com/drawbridge-labs/drawbridge/internal/proxy"
	"github.com/drawbridge-labs/drawbridge/internal/snmp"
	"github.com/drawbridge-labs/drawbridge/internal/storage"
	"github.com/drawbridge-labs/drawbridge/internal/transfer"
	"github.com/drawbridge-labs/drawbridge/internal/transport"
)

// Deps carries the service components the API exposes.
type Deps struct {
	Store     storage.Store
	Inventory *inventory.Service
	Exec      *exec.Service
	Parse     *parse.Service
	Diff      *diff.Service
	Transfer  *transfer.Service
	SNMP      *snmp.Service
	HTTPCall  *httpcall.Service
	Forwards  *forward.Manager
	Proxy     *proxy.Server
	Sessions  *transport.Manager
}

type Server struct {
	cfg     *config.Config
	deps    Deps
	logger  *slog.Logger
	handler http.Handler
	version string
}

func NewServer(cfg *config.Config, deps Deps, logger *slog.Logger, version string) *Server {
	s := &Server{
		cfg:     cfg,
		deps:    deps,
		logger:  logger,
		version: version,
	}

	mux := http.NewServeMux()
	s.registerRoutes(mux)

	var handler http.Handler = mux
	handler = bodyLimit(cfg.Server.MaxBodySize)(handler)
	rl := newRateLimiter(cfg.Server.RateLimitPerSec, cfg.Server.RateLimitBurst)
	handler = rl.middleware(cfg.TrustedNets())(handler)
	handler = cors(cfg.Server.CORSOrigins)(handler)
	handler = secureHeaders()(handler)
	handler = logging(logger)(handler)
	handler = requestID()(handler)
	handler = recovery(logger)(handler)

	s.handler = handler
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.handler.ServeHTTP(w, r)
}

func (s *Server) p(path string) string {
	return s.cfg.Server.BasePath + path
}

func (s *Server) registerRoutes(mux *http.ServeMux) {
	devRead := auth(s.cfg, "devices.read")
	devWrite := auth(s.cfg, "devices.write")
	execRun := auth(s.cfg, "exec.run")
	execTerm := auth(s.cfg, "exec.interactive")
	invRead := auth(s.cfg, "inventory.read")
	svcRead := auth(s.cfg, "service.read")
	proxyUse := auth(s.cfg, "proxy.use")
	xferWrite := auth(s.cfg, "transfer.write")
	snapRead := auth(s.cfg, "snapshots.read")
	snapWrite := auth(s.cfg, "snapshots.write")

	if s.cfg.Server.BasePath != "" {
		mux.HandleFunc("GET "+s.cfg.Server.BasePath, func(w http.ResponseWriter, r *http.Request) {
			http.Redirect(w, r, s.cfg.Server.BasePath+"/", http.StatusMovedPermanently)
		})
	}

	mux.HandleFunc("GET "+s.p("/api/v1/health"), s.handleHealth)
	mux.Handle("GET "+s.p("/api/v1/service"), svcRead(http.HandlerFunc(s.handleServiceInfo)))
	mux.Handle("GET "+s.p("/api/v1/inventory"), invRead(http.HandlerFunc(s.handleInventory)))

	mux.Handle("GET "+s.p("/api/v1/devices"), devRead(http.HandlerFunc(s.handleListDevices)))
	mux.Handle("GET "+s.p("/api/v1/devices/{name}"), devRead(http.HandlerFunc(s.handleGetDevice)))
	mux.Handle("POST "+s.p("/api/v1/devices"), devWrite(http.HandlerFunc(s.handleCreateDevice)))
	mux.Handle("PUT "+s.p("/api/v1/devices/{name}"), devWrite(http.HandlerFunc(s.handleApplyDevice)))
	mux.Handle("DELETE "+s.p("/api/v1/devices/{name}"), devWrite(http.HandlerFunc(s.handleDeleteDevice)))

	mux.Handle("POST "+s.p("/api/v1/exec"), execRun(http.HandlerFunc(s.handleExec)))
	mux.Handle("POST "+s.p("/api/v1/exec/wait"), execRun(http.HandlerFunc(s.handleExecAndWait)))
	mux.Handle("POST "+s.p("/api/v1/parse"), execRun(http.HandlerFunc(s.handleParse)))
	mux.Handle("POST "+s.p("/api/v1/diff"), snapRead(http.HandlerFunc(s.handleDiff)))
	mux.Handle("GET "+s.p("/api/v1/commands"), execRun(http.HandlerFunc(s.handleListCommands)))

	mux.Handle("GET "+s.p("/api/v1/snapshots"), snapRead(http.HandlerFunc(s.handleListSnapshots)))
	mux.Handle("GET "+s.p("/api/v1/snapshots/{id}"), snapRead(http.HandlerFunc(s.handleGetSnapshot)))
	mux.Handle("DELETE "+s.p("/api/v1/snapshots/{id}"), snapWrite(http.HandlerFunc(s.handleDeleteSnapshot)))

	mux.Handle("POST "+s.p("/api/v1/transfers"), xferWrite(http.HandlerFunc(s.handleTransfer)))
	mux.Handle("POST "+s.p("/api/v1/snmp"), execRun(http.HandlerFunc(s.handleSNMP)))
	mux.Handle("POST "+s.p("/api/v1/http"), execRun(http.HandlerFunc(s.handleHTTPCall)))
	mux.Handle("GET "+s.p("/api/v1/devices/{name}/operations"), execRun(http.HandlerFunc(s.handleListOperations)))
	mux.Handle("POST "+s.p("/api/v1/devices/{name}/operations"), execRun(http.HandlerFunc(s.handleCallOperation)))

	mux.Handle("GET "+s.p("/api/v1/forwards"), proxyUse(http.HandlerFunc(s.handleListForwards)))
	mux.Handle("POST "+s.p("/api/v1/forwards"), proxyUse(http.HandlerFunc(s.handleCreateForward)))
	mux.Handle("DELETE "+s.p("/api/v1/forwards/{id}"), proxyUse(http.HandlerFunc(s.handleDeleteForward)))
	mux.Handle("GET "+s.p("/api/v1/proxy"), proxyUse(http.HandlerFunc(s.handleProxyStatus)))

	mux.Handle("GET "+s.p("/api/v1/devices/{name}/terminal"), execTerm(http.HandlerFunc(s.handleTerminal)))
}
