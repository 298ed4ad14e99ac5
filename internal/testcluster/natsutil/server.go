// Package natsutil contains the helpers shared by the embedded NATS nodes that make up a test
// cluster: starting a node and waiting for it to accept clients, shutting it down with a bound,
// and routing its log output through logrus.
package natsutil

import (
	"fmt"
	"time"

	"github.com/nats-io/nats-server/v2/server"
	"github.com/nats-io/nats.go"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

// StartServer creates a server from opts, starts it in the background and blocks until it accepts
// client connections or timeout elapses.
func StartServer(opts *server.Options, timeout time.Duration, logger *log.Entry) (*server.Server, error) {
	ns, err := server.NewServer(opts)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to create NATS server %s", opts.ServerName)
	}
	ns.SetLoggerV2(NewServerLogger(logger), false, false, false)

	go ns.Start()

	if !ns.ReadyForConnections(timeout) {
		ns.Shutdown()
		return nil, errors.Errorf("NATS server %s not ready for connections within %s", opts.ServerName, timeout)
	}
	return ns, nil
}

// ShutdownServer shuts ns down and waits for it to finish, giving up after timeout.
// Shutting down a server that has already stopped is a no-op.
func ShutdownServer(ns *server.Server, timeout time.Duration) error {
	done := make(chan struct{})
	go func() {
		ns.Shutdown()
		ns.WaitForShutdown()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-time.After(timeout):
		return errors.Errorf("NATS server %s did not shut down within %s", ns.Name(), timeout)
	}
}

// Connect opens a client session to the node at address ("host:port").
func Connect(address string, name string, timeout time.Duration) (*nats.Conn, error) {
	nc, err := nats.Connect(
		fmt.Sprintf("nats://%s", address),
		nats.Name(name),
		nats.Timeout(timeout),
		nats.MaxReconnects(3),
		nats.ReconnectWait(100*time.Millisecond),
	)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to connect to %s", address)
	}
	return nc, nil
}

// ConnectionCheck reports a closed or reconnecting client session as unhealthy.
func ConnectionCheck(name string, nc *nats.Conn) func() error {
	return func() error {
		if nc.IsConnected() {
			return nil
		}
		return errors.Errorf("%s connection is %s", name, nc.Status())
	}
}
