// Package natsserver runs the broker in-process so a single timbred binary
// can serve prepare requests without an external NATS deployment.
package natsserver

import (
	"fmt"
	"log/slog"
	"net"
	"time"

	"github.com/nats-io/nats-server/v2/server"

	"github.com/timbrelabs/timbre/internal/config"
)

// readyTimeout bounds how long startup waits for the in-process broker to
// accept connections.
const readyTimeout = 5 * time.Second

// EmbeddedServer is an in-process NATS broker. JetStream is enabled so
// deployments can layer durable streams over the prepare subjects without a
// broker swap.
type EmbeddedServer struct {
	ns  *server.Server
	log *slog.Logger
}

// Start launches the broker and blocks until it accepts connections.
func Start(cfg config.BusConfig, log *slog.Logger) (*EmbeddedServer, error) {
	ns, err := server.NewServer(&server.Options{
		Host:      "0.0.0.0",
		Port:      cfg.Port,
		JetStream: true,
		StoreDir:  cfg.StoreDir,
	})
	if err != nil {
		return nil, fmt.Errorf("configure embedded NATS server: %w", err)
	}

	go ns.Start()
	if !ns.ReadyForConnections(readyTimeout) {
		ns.Shutdown()
		return nil, fmt.Errorf("embedded NATS server not ready after %s", readyTimeout)
	}

	e := &EmbeddedServer{ns: ns, log: log}
	log.Info("embedded NATS server started",
		slog.String("client_url", e.ClientURL()),
		slog.String("store_dir", cfg.StoreDir))
	return e, nil
}

// ClientURL is the loopback address in-process clients should dial. It
// reports the bound port, which may differ from the configured one when the
// broker was asked to pick a free port.
func (e *EmbeddedServer) ClientURL() string {
	if addr, ok := e.ns.Addr().(*net.TCPAddr); ok {
		return fmt.Sprintf("nats://127.0.0.1:%d", addr.Port)
	}
	return e.ns.ClientURL()
}

// Shutdown stops the broker and waits for it to wind down.
func (e *EmbeddedServer) Shutdown() {
	if e == nil || e.ns == nil {
		return
	}
	e.log.Info("shutting down embedded NATS server")
	e.ns.Shutdown()
	e.ns.WaitForShutdown()
}
