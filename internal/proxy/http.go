package proxy

import (
	"context"
	"encoding/base64"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	xproxy "golang.org/x/net/proxy"
)

// HTTPProxy serves plain HTTP proxying for clients that cannot speak
// SOCKS. Requests are chained through the SOCKS listener so both
// frontends share one destination policy.
type HTTPProxy struct {
	socksAddr string
	creds     Credentials
	logger    *slog.Logger

	server *http.Server
}

func NewHTTPProxy(socksAddr string, creds Credentials, logger *slog.Logger) *HTTPProxy {
	return &HTTPProxy{socksAddr: socksAddr, creds: creds, logger: logger}
}

// Serve handles proxy requests on l until Shutdown.
func (p *HTTPProxy) Serve(l net.Listener) error {
	p.server = &http.Server{
		Handler:           p,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return p.server.Serve(l)
}

func (p *HTTPProxy) Shutdown(ctx context.Context) error {
	if p.server == nil {
		return nil
	}
	return p.server.Shutdown(ctx)
}

func (p *HTTPProxy) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if !p.authorized(r) {
		w.Header().Set("Proxy-Authenticate", `Basic realm="device proxy"`)
		http.Error(w, "proxy authentication required", http.StatusProxyAuthRequired)
		return
	}

	if r.Method == http.MethodConnect {
		p.tunnel(w, r)
		return
	}
	if !r.URL.IsAbs() {
		http.Error(w, "this is a proxy, absolute request URIs only", http.StatusBadRequest)
		return
	}
	p.forward(w, r)
}

func (p *HTTPProxy) authorized(r *http.Request) bool {
	if !p.creds.required() {
		return true
	}
	header := r.Header.Get("Proxy-Authorization")
	const prefix = "Basic "
	if !strings.HasPrefix(header, prefix) {
		return false
	}
	raw, err := base64.StdEncoding.DecodeString(header[len(prefix):])
	if err != nil {
		return false
	}
	user, pass, ok := strings.Cut(string(raw), ":")
	return ok && user == p.creds.Username && p.creds.Verify(pass)
}

// socksDialer builds a client dialer through the SOCKS frontend.
func (p *HTTPProxy) socksDialer() (xproxy.ContextDialer, error) {
	var auth *xproxy.Auth
	if p.creds.required() {
		auth = &xproxy.Auth{User: p.creds.Username, Password: p.creds.chainSecret}
	}
	d, err := xproxy.SOCKS5("tcp", p.socksAddr, auth, &net.Dialer{Timeout: 10 * time.Second})
	if err != nil {
		return nil, err
	}
	cd, ok := d.(xproxy.ContextDialer)
	if !ok {
		return nil, fmt.Errorf("socks dialer does not support context")
	}
	return cd, nil
}

// tunnel handles CONNECT by splicing the client onto a SOCKS tunnel.
func (p *HTTPProxy) tunnel(w http.ResponseWriter, r *http.Request) {
	dialer, err := p.socksDialer()
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadGateway)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 15*time.Second)
	defer cancel()
	target, err := dialer.DialContext(ctx, "tcp", r.Host)
	if err != nil {
		http.Error(w, fmt.Sprintf("cannot reach %s: %s", r.Host, err), http.StatusBadGateway)
		return
	}

	hj, ok := w.(http.Hijacker)
	if !ok {
		target.Close()
		http.Error(w, "hijacking unsupported", http.StatusInternalServerError)
		return
	}
	client, _, err := hj.Hijack()
	if err != nil {
		target.Close()
		return
	}
	client.Write([]byte("HTTP/1.1 200 Connection Established\r\n\r\n"))

	p.logger.Debug("http connect tunnel open", "destination", r.Host)
	pipe(client, target)
}

// forward proxies an absolute-form request through the SOCKS chain.
func (p *HTTPProxy) forward(w http.ResponseWriter, r *http.Request) {
	dialer, err := p.socksDialer()
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadGateway)
		return
	}
	transport := &http.Transport{DialContext: dialer.DialContext}
	defer transport.CloseIdleConnections()

	out := r.Clone(r.Context())
	out.RequestURI = ""
	out.Header.Del("Proxy-Authorization")
	out.Header.Del("Proxy-Connection")

	resp, err := transport.RoundTrip(out)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadGateway)
		return
	}
	defer resp.Body.Close()

	for k, vals := range resp.Header {
		for _, v := range vals {
			w.Header().Add(k, v)
		}
	}
	w.WriteHeader(resp.StatusCode)
	io.Copy(w, resp.Body)
}
