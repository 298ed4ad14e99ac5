// Package coordination runs the coordination service of a test cluster: a single embedded NATS
// node whose JetStream key-value buckets hold the cluster membership and topic leadership.
// Brokers register themselves here on start and the gateway discovers them from here.
package coordination

import (
	"context"
	"fmt"
	"net"
	"os"
	"strconv"
	"time"

	"github.com/nats-io/nats-server/v2/server"
	"github.com/nats-io/nats.go"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/G-Research/testcluster/internal/common/util"
	"github.com/G-Research/testcluster/internal/testcluster/natsutil"
	"github.com/G-Research/testcluster/internal/testcluster/registry"
	"github.com/G-Research/testcluster/pkg/clustererrors"
)

const componentName = "coordination"

// Handle identifies a running coordination service.
type Handle struct {
	ID      registry.ID
	Port    int
	connect string
}

// ConnectString returns the "host:port" clients use to reach the service.
func (h Handle) ConnectString() string {
	return h.connect
}

type service struct {
	srv      *server.Server
	session  *nats.Conn
	catalog  *Catalog
	storeDir string
}

type Launcher struct {
	Host         string
	BindAddress  string
	StateRoot    string
	StartTimeout time.Duration
	StopTimeout  time.Duration

	registry *registry.Registry
	log      *log.Entry
}

func NewLauncher(reg *registry.Registry, logger *log.Entry) *Launcher {
	return &Launcher{
		Host:         "localhost",
		BindAddress:  "127.0.0.1",
		StartTimeout: 30 * time.Second,
		StopTimeout:  30 * time.Second,
		registry:     reg,
		log:          logger.WithField("component", componentName),
	}
}

// Start runs the coordination service on port and blocks until it accepts client connections
// and its metadata buckets exist.
func (l *Launcher) Start(ctx context.Context, port int) (Handle, error) {
	connect := net.JoinHostPort(l.Host, strconv.Itoa(port))
	l.log.Infof("Starting coordination service on %s", connect)

	storeDir, err := os.MkdirTemp(l.StateRoot, fmt.Sprintf("coordination-%s-", util.NewULID()))
	if err != nil {
		return Handle{}, startError(err)
	}

	srv, err := natsutil.StartServer(&server.Options{
		ServerName:         componentName,
		Host:               l.BindAddress,
		Port:               port,
		JetStream:          true,
		JetStreamMaxMemory: 64 << 20,
		JetStreamMaxStore:  64 << 20,
		StoreDir:           storeDir,
		NoSigs:             true,
	}, l.StartTimeout, l.log)
	if err != nil {
		removeDir(storeDir, l.log)
		return Handle{}, startError(err)
	}

	session, err := natsutil.Connect(connect, "testcluster-coordination-session", l.StartTimeout)
	if err != nil {
		l.abort(srv, storeDir)
		return Handle{}, startError(err)
	}

	catalogCtx, cancel := context.WithTimeout(ctx, l.StartTimeout)
	defer cancel()
	catalog, err := createCatalog(catalogCtx, session)
	if err != nil {
		session.Close()
		l.abort(srv, storeDir)
		return Handle{}, startError(err)
	}

	id := l.registry.Register(registry.KindCoordination, componentName, &service{
		srv:      srv,
		session:  session,
		catalog:  catalog,
		storeDir: storeDir,
	})
	l.log.Infof("Coordination service ready on %s", connect)
	return Handle{ID: id, Port: port, connect: connect}, nil
}

// Session returns the client session opened when the service started.
func (l *Launcher) Session(h Handle) (*nats.Conn, error) {
	svc, err := registry.Get[*service](l.registry, h.ID)
	if err != nil {
		return nil, err
	}
	return svc.session, nil
}

// Catalog returns the cluster metadata held by the service.
func (l *Launcher) Catalog(h Handle) (*Catalog, error) {
	svc, err := registry.Get[*service](l.registry, h.ID)
	if err != nil {
		return nil, err
	}
	return svc.catalog, nil
}

// CloseSession closes the client session. The service itself keeps running.
func (l *Launcher) CloseSession(_ context.Context, h Handle) error {
	svc, err := registry.Get[*service](l.registry, h.ID)
	if err != nil {
		return stopError(err)
	}
	if !svc.session.IsClosed() {
		svc.session.Close()
	}
	return nil
}

// Stop shuts the service down, waits for it to exit and removes its store directory.
// A service that has already become unresponsive is still deregistered; only a shutdown that does
// not complete within StopTimeout is reported.
func (l *Launcher) Stop(_ context.Context, h Handle) error {
	svc, err := registry.Take[*service](l.registry, h.ID)
	if err != nil {
		return stopError(err)
	}
	l.log.Infof("Stopping coordination service on %s", h.ConnectString())

	if !svc.session.IsClosed() {
		svc.session.Close()
	}
	shutdownErr := natsutil.ShutdownServer(svc.srv, l.StopTimeout)
	removeErr := os.RemoveAll(svc.storeDir)

	if shutdownErr != nil {
		return stopError(shutdownErr)
	}
	if removeErr != nil {
		return stopError(removeErr)
	}
	return nil
}

func (l *Launcher) abort(srv *server.Server, storeDir string) {
	if err := natsutil.ShutdownServer(srv, l.StopTimeout); err != nil {
		l.log.WithError(err).Warn("Failed to shut down coordination service after failed start")
	}
	removeDir(storeDir, l.log)
}

func removeDir(dir string, logger *log.Entry) {
	if err := os.RemoveAll(dir); err != nil {
		logger.WithError(err).Warnf("Failed to remove %s", dir)
	}
}

func startError(err error) error {
	return errors.WithStack(&clustererrors.ErrComponentStart{Component: componentName, Cause: err})
}

func stopError(err error) error {
	return errors.WithStack(&clustererrors.ErrComponentStop{Component: componentName, Cause: err})
}
