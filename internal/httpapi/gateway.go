package httpapi

import (
	"context"
	"encoding/base64"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/antoniostano/taskwire/internal/logging"
	"github.com/antoniostano/taskwire/internal/observability"
	"github.com/antoniostano/taskwire/internal/protocol"
)

// Gateway tracks connected operator websockets and pushes notifications to
// them. It implements resolver.Notifier; delivery is best-effort, a report
// never fails because no operator happens to be connected.
type Gateway struct {
	mu      sync.Mutex
	conns   map[*websocket.Conn]struct{}
	metrics *observability.Metrics
	log     *logging.Logger
}

func NewGateway(metrics *observability.Metrics, log *logging.Logger) *Gateway {
	if log == nil {
		log = logging.L()
	}
	return &Gateway{
		conns:   make(map[*websocket.Conn]struct{}),
		metrics: metrics,
		log:     log.WithComponent("gateway"),
	}
}

func (g *Gateway) add(conn *websocket.Conn) {
	g.mu.Lock()
	g.conns[conn] = struct{}{}
	n := len(g.conns)
	g.mu.Unlock()
	if g.metrics != nil {
		g.metrics.OperatorConns.Set(float64(n))
	}
}

func (g *Gateway) remove(conn *websocket.Conn) {
	g.mu.Lock()
	delete(g.conns, conn)
	n := len(g.conns)
	g.mu.Unlock()
	if g.metrics != nil {
		g.metrics.OperatorConns.Set(float64(n))
	}
}

// send writes one frame to a single connection. Writes are serialized under
// the gateway lock to keep each websocket single-writer.
func (g *Gateway) send(conn *websocket.Conn, v any) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	_ = conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
	return conn.WriteJSON(v)
}

func (g *Gateway) broadcast(v any) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if len(g.conns) == 0 {
		g.log.Debug().Msg("no operator connected; notification dropped")
		return
	}
	for conn := range g.conns {
		_ = conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
		if err := conn.WriteJSON(v); err != nil {
			g.log.Warn().Err(err).Msg("operator notification write failed")
			_ = conn.Close()
			delete(g.conns, conn)
		}
	}
}

func (g *Gateway) NotifyText(_ context.Context, text string) error {
	g.broadcast(protocol.Notice{Type: protocol.TypeNotice, Text: text})
	return nil
}

func (g *Gateway) NotifyImage(_ context.Context, caption string, image []byte) error {
	g.broadcast(protocol.Image{
		Type:        protocol.TypeImage,
		Caption:     caption,
		ImageBase64: base64.StdEncoding.EncodeToString(image),
	})
	return nil
}
