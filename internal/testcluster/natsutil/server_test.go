package natsutil

import (
	"net"
	"strconv"
	"testing"
	"time"

	"github.com/nats-io/nats-server/v2/server"
	log "github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/G-Research/testcluster/internal/testcluster/ports"
)

func TestStartServer_AcceptsClientsAndShutsDown(t *testing.T) {
	pool, err := ports.Reserve(1)
	require.NoError(t, err)
	port, err := pool.Next()
	require.NoError(t, err)

	ns, err := StartServer(&server.Options{
		ServerName: "natsutil-test",
		Host:       "127.0.0.1",
		Port:       port,
		NoSigs:     true,
	}, 5*time.Second, log.WithField("test", t.Name()))
	require.NoError(t, err)

	address := net.JoinHostPort("localhost", strconv.Itoa(port))
	nc, err := Connect(address, "natsutil-test-client", 2*time.Second)
	require.NoError(t, err)
	assert.NoError(t, ConnectionCheck("test", nc)())

	nc.Close()
	assert.Error(t, ConnectionCheck("test", nc)())

	require.NoError(t, ShutdownServer(ns, 5*time.Second))
	assert.False(t, ns.Running())

	// Shutting down twice is harmless.
	assert.NoError(t, ShutdownServer(ns, 5*time.Second))
}

func TestStartServer_PortInUse(t *testing.T) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer l.Close()

	_, err = StartServer(&server.Options{
		ServerName: "natsutil-busy",
		Host:       "127.0.0.1",
		Port:       l.Addr().(*net.TCPAddr).Port,
		NoSigs:     true,
	}, 500*time.Millisecond, log.WithField("test", t.Name()))
	assert.Error(t, err)
}
