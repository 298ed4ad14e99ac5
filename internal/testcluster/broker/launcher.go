// Package broker runs the broker nodes of a test cluster. Each broker is an embedded NATS node with
// JetStream enabled that keeps its streams in its own state directory and announces itself to the
// coordination service while it runs.
package broker

import (
	"context"
	"os"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/nats-io/nats-server/v2/server"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/G-Research/testcluster/internal/testcluster/coordination"
	"github.com/G-Research/testcluster/internal/testcluster/natsutil"
	"github.com/G-Research/testcluster/internal/testcluster/registry"
	"github.com/G-Research/testcluster/pkg/clustererrors"
)

// Handle identifies a running broker.
type Handle struct {
	ID       registry.ID
	BrokerID int
	Port     int
	address  string
	dirs     []string
}

func (h Handle) Address() string {
	return h.address
}

// StateDirs returns the directories the broker keeps its data in.
func (h Handle) StateDirs() []string {
	return append([]string(nil), h.dirs...)
}

type node struct {
	cfg     Config
	srv     *server.Server
	self    *nats.Conn
	js      jetstream.JetStream
	session *nats.Conn
	catalog *coordination.Catalog
}

type Launcher struct {
	BindAddress  string
	StartTimeout time.Duration
	StopTimeout  time.Duration

	registry *registry.Registry
	log      *log.Entry
}

func NewLauncher(reg *registry.Registry, logger *log.Entry) *Launcher {
	return &Launcher{
		BindAddress:  "127.0.0.1",
		StartTimeout: 30 * time.Second,
		StopTimeout:  30 * time.Second,
		registry:     reg,
		log:          logger.WithField("component", "broker"),
	}
}

// Start runs one broker and blocks until it accepts clients and has registered itself with the
// coordination service named in cfg.
func (l *Launcher) Start(ctx context.Context, cfg Config) (Handle, error) {
	logger := l.log.WithField("broker", cfg.ID)
	logger.Infof("Starting broker on %s", cfg.Address())

	if len(cfg.StateDirs) == 0 {
		return Handle{}, startError(cfg, errors.New("no state directory configured"))
	}
	for _, dir := range cfg.StateDirs {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return Handle{}, startError(cfg, err)
		}
	}

	srv, err := natsutil.StartServer(&server.Options{
		ServerName:         cfg.Name(),
		Host:               l.BindAddress,
		Port:               cfg.Port,
		JetStream:          true,
		JetStreamMaxMemory: 64 << 20,
		JetStreamMaxStore:  256 << 20,
		StoreDir:           cfg.StateDirs[0],
		NoSigs:             true,
	}, l.StartTimeout, logger)
	if err != nil {
		return Handle{}, startError(cfg, err)
	}

	n := &node{cfg: cfg, srv: srv}
	if err := l.connect(ctx, n); err != nil {
		l.release(n, logger)
		return Handle{}, startError(cfg, err)
	}

	id := l.registry.Register(registry.KindBroker, cfg.Name(), n)
	logger.Infof("Broker ready on %s", cfg.Address())
	return Handle{
		ID:       id,
		BrokerID: cfg.ID,
		Port:     cfg.Port,
		address:  cfg.Address(),
		dirs:     append([]string(nil), cfg.StateDirs...),
	}, nil
}

func (l *Launcher) connect(ctx context.Context, n *node) error {
	var err error
	n.self, err = natsutil.Connect(n.cfg.Address(), n.cfg.Name()+"-admin", l.StartTimeout)
	if err != nil {
		return err
	}
	n.js, err = jetstream.New(n.self)
	if err != nil {
		return errors.WithStack(err)
	}

	n.session, err = natsutil.Connect(n.cfg.CoordinationConnect, n.cfg.Name()+"-session", l.StartTimeout)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, l.StartTimeout)
	defer cancel()
	n.catalog, err = coordination.OpenCatalog(ctx, n.session)
	if err != nil {
		return err
	}
	return n.catalog.RegisterBroker(ctx, coordination.BrokerRecord{
		ID:               n.cfg.ID,
		Host:             n.cfg.Host,
		Port:             n.cfg.Port,
		AutoCreateTopics: n.cfg.AutoCreateTopics,
		StateDirs:        n.cfg.StateDirs,
	})
}

// StartAll starts the brokers in the order given. It stops at the first failure and returns the
// handles of the brokers that did start alongside the error, so the caller can release them.
func (l *Launcher) StartAll(ctx context.Context, configs []Config) ([]Handle, error) {
	if err := ValidateConfigs(configs); err != nil {
		return nil, err
	}
	handles := make([]Handle, 0, len(configs))
	for _, cfg := range configs {
		h, err := l.Start(ctx, cfg)
		if err != nil {
			return handles, err
		}
		handles = append(handles, h)
	}
	return handles, nil
}

// Stop deregisters the broker from the coordination service and shuts it down. Its state
// directories are left in place; see RemoveStateDirs.
func (l *Launcher) Stop(ctx context.Context, h Handle) error {
	n, err := registry.Take[*node](l.registry, h.ID)
	if err != nil {
		return errors.WithStack(&clustererrors.ErrComponentStop{Component: brokerName(h.BrokerID), Cause: err})
	}
	logger := l.log.WithField("broker", n.cfg.ID)
	logger.Infof("Stopping broker on %s", n.cfg.Address())

	var result *multierror.Error
	if n.catalog != nil && n.session.IsConnected() {
		deregisterCtx, cancel := context.WithTimeout(ctx, l.StopTimeout)
		if err := n.catalog.DeregisterBroker(deregisterCtx, n.cfg.ID); err != nil {
			// The coordination service may already be gone; the broker still has to stop.
			logger.WithError(err).Warn("Failed to deregister broker")
		}
		cancel()
	}
	closeConn(n.session)
	closeConn(n.self)
	result = clustererrors.Append(result, natsutil.ShutdownServer(n.srv, l.StopTimeout))

	if err := result.ErrorOrNil(); err != nil {
		return stopError(n.cfg, err)
	}
	return nil
}

// StopAll stops every broker, continuing past failures, and returns the failures together.
func (l *Launcher) StopAll(ctx context.Context, handles []Handle) error {
	var result *multierror.Error
	for _, h := range handles {
		result = clustererrors.Append(result, l.Stop(ctx, h))
	}
	return result.ErrorOrNil()
}

// RemoveStateDirs deletes the state directories of the given brokers. Every directory is attempted
// and the failures are returned together.
func (l *Launcher) RemoveStateDirs(handles []Handle) error {
	var result *multierror.Error
	for _, h := range handles {
		for _, dir := range h.dirs {
			if err := os.RemoveAll(dir); err != nil {
				result = clustererrors.Append(result, errors.WithStack(&clustererrors.ErrComponentStop{
					Component: brokerName(h.BrokerID),
					Cause:     errors.Wrapf(err, "failed to remove state directory %s", dir),
				}))
			}
		}
	}
	return result.ErrorOrNil()
}

// CreateTopic creates the stream backing topic on the broker and records the broker as its leader.
func (l *Launcher) CreateTopic(ctx context.Context, h Handle, topic string) error {
	if err := ValidateTopicName(topic); err != nil {
		return err
	}
	n, err := registry.Get[*node](l.registry, h.ID)
	if err != nil {
		return err
	}
	return CreateStream(ctx, n.js, n.catalog, n.cfg.ID, topic)
}

// CreateStream creates the stream for topic through js and then records leader as the topic's
// leader in catalog. A topic that already exists is reported as an invalid argument.
func CreateStream(ctx context.Context, js jetstream.JetStream, catalog *coordination.Catalog, leader int, topic string) error {
	_, err := js.CreateStream(ctx, jetstream.StreamConfig{
		Name:     topic,
		Subjects: []string{Subject(topic)},
		Storage:  jetstream.FileStorage,
	})
	if errors.Is(err, jetstream.ErrStreamNameAlreadyInUse) {
		return errors.WithStack(&clustererrors.ErrInvalidArgument{
			Name:    "topic",
			Value:   topic,
			Message: "topic already exists",
		})
	}
	if err != nil {
		return errors.Wrapf(err, "failed to create stream for topic %s", topic)
	}
	return catalog.RegisterTopic(ctx, coordination.TopicRecord{Name: topic, Leader: leader})
}

func (l *Launcher) release(n *node, logger *log.Entry) {
	closeConn(n.session)
	closeConn(n.self)
	if err := natsutil.ShutdownServer(n.srv, l.StopTimeout); err != nil {
		logger.WithError(err).Warn("Failed to shut down broker after failed start")
	}
	for _, dir := range n.cfg.StateDirs {
		if err := os.RemoveAll(dir); err != nil {
			logger.WithError(err).Warnf("Failed to remove %s", dir)
		}
	}
}

func closeConn(nc *nats.Conn) {
	if nc != nil && !nc.IsClosed() {
		nc.Close()
	}
}

func brokerName(id int) string {
	return Config{ID: id}.Name()
}

func startError(cfg Config, err error) error {
	return errors.WithStack(&clustererrors.ErrComponentStart{Component: cfg.Name(), Cause: err})
}

func stopError(cfg Config, err error) error {
	return errors.WithStack(&clustererrors.ErrComponentStop{Component: cfg.Name(), Cause: err})
}
