// Package exporter implements the minimal HTTP/1.1 listener that serves
// Prometheus-style text exposition, grounded on src/proxy/exporter.c's
// __bind_listening_thread/__accept_loop/__send_metrics. It intentionally
// does not use net/http: the original speaks only enough HTTP to answer a
// GET request line.
package exporter

import (
	"bufio"
	"context"
	"fmt"
	"net"
	"strings"

	"github.com/netresearch/tauproxy/logging"
	"github.com/netresearch/tauproxy/metricstore"
)

const indexPage = `<html>
<head><title>tauproxy Exporter</title></head>
<body>
<h1>tauproxy Metrics Exporter</h1>
<p><a href="/metrics">Metrics</a></p>
</body>
</html>`

// Exporter is a dedicated TCP listener rendering the main metric store as
// Prometheus text exposition, one goroutine per accepted connection, no
// keep-alive.
type Exporter struct {
	listener net.Listener
	store    *metricstore.Store
	logger   logging.Logger
	tail     *logging.Tail
}

// New binds a listener on addr (host:port, empty host binds all
// interfaces) and returns an Exporter serving store's contents. tail may be
// nil; if set, it backs the diagnostic GET /debug/log route.
func New(addr string, store *metricstore.Store, logger logging.Logger, tail *logging.Tail) (*Exporter, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("exporter: listen %s: %w", addr, err)
	}
	return &Exporter{listener: ln, store: store, logger: logger, tail: tail}, nil
}

// Addr returns the bound listener address.
func (e *Exporter) Addr() net.Addr {
	return e.listener.Addr()
}

// Serve runs the accept loop until ctx is cancelled or the listener is
// closed (by Close, from another goroutine).
func (e *Exporter) Serve(ctx context.Context) {
	go func() {
		<-ctx.Done()
		_ = e.listener.Close()
	}()

	for {
		conn, err := e.listener.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				e.logger.Noticef("exporter: listener closed")
			default:
				e.logger.Errorf("exporter: accept: %v", err)
			}
			return
		}
		go e.handle(conn)
	}
}

// Close shuts down the listener directly (used by tests and by the
// supervisor's shutdown hook before ctx cancellation would otherwise apply).
func (e *Exporter) Close() error {
	return e.listener.Close()
}

// handle implements the connection state machine: reading -> serving ->
// closed, no keep-alive, matching __send_metrics.
func (e *Exporter) handle(conn net.Conn) {
	defer conn.Close()

	r := bufio.NewReader(conn)
	requestLine, err := r.ReadString('\n')
	if err != nil {
		return
	}

	path, ok := parseRequestLine(requestLine)
	if !ok {
		return
	}
	// Drain headers to the blank line; we don't act on any of them.
	for {
		line, err := r.ReadString('\n')
		if err != nil || strings.TrimSpace(line) == "" {
			break
		}
	}

	switch {
	case path == "/":
		writeResponse(conn, 200, "text/html", []byte(indexPage))
	case strings.Contains(path, "metrics"):
		writeResponse(conn, 200, "text/plain", Render(e.store, e.logger))
	case e.tail != nil && strings.Contains(path, "debug/log"):
		writeResponse(conn, 200, "text/plain", e.tail.Bytes())
	default:
		writeResponse(conn, 404, "text/html", nil)
	}
}

// parseRequestLine extracts the path from a "GET <path> HTTP/1.1" line,
// mirroring __send_metrics's manual parsing: only GET is accepted.
func parseRequestLine(line string) (string, bool) {
	line = strings.TrimRight(line, "\r\n")
	if len(line) < 6 || !strings.HasPrefix(line, "GET ") {
		return "", false
	}
	rest := line[4:]
	if i := strings.Index(rest, " HTTP"); i >= 0 {
		rest = rest[:i]
	}
	if rest == "" {
		rest = "/"
	}
	return rest, true
}

func writeResponse(conn net.Conn, code int, contentType string, body []byte) {
	status := "200 OK"
	if code == 404 {
		status = "404 Not Found"
	}
	header := fmt.Sprintf("HTTP/1.1 %s\r\nContent-Type: %s\r\nContent-Length: %d\r\nConnection: close\r\n\r\n",
		status, contentType, len(body))
	_, _ = conn.Write([]byte(header))
	if len(body) > 0 {
		_, _ = conn.Write(body)
	}
}
