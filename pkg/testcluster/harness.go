// Package testcluster brings up a complete messaging cluster for one integration test and tears it
// down again afterwards: a coordination service, a configurable number of brokers and an HTTP
// gateway in front of them, each on its own freshly reserved port.
//
// A Harness goes through exactly one setup/teardown cycle:
//
//	h := testcluster.New(testcluster.DefaultConfig())
//	if err := h.SetUp(ctx); err != nil { ... }
//	defer h.TearDown(ctx)
//	req, _ := h.Request("/brokers")
//	resp, _ := req.Get(ctx)
//
// Start does the same for a testing.TB and registers the teardown with t.Cleanup.
package testcluster

import (
	"context"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"sync"

	"github.com/hashicorp/go-multierror"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/G-Research/testcluster/internal/common/logging"
	"github.com/G-Research/testcluster/internal/common/util"
	"github.com/G-Research/testcluster/internal/testcluster/broker"
	"github.com/G-Research/testcluster/internal/testcluster/coordination"
	"github.com/G-Research/testcluster/internal/testcluster/gateway"
	"github.com/G-Research/testcluster/internal/testcluster/ports"
	"github.com/G-Research/testcluster/internal/testcluster/registry"
	"github.com/G-Research/testcluster/pkg/clustererrors"
	"github.com/G-Research/testcluster/pkg/testcluster/request"
)

type State int

const (
	Uninitialized State = iota
	Running
	TornDown
)

func (s State) String() string {
	switch s {
	case Uninitialized:
		return "uninitialized"
	case Running:
		return "running"
	case TornDown:
		return "torn down"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

type Harness struct {
	mu sync.Mutex

	id        string
	cfg       HarnessConfig
	stateRoot string
	log       *log.Entry
	registry  *registry.Registry

	reserver     PortReserver
	coordination CoordinationLauncher
	brokers      BrokerLauncher
	gateway      GatewayLauncher

	state               State
	pool                *ports.Pool
	coordinationConnect string
	baseURL             string
	brokerConfigs       []broker.Config
	gatewayProps        gateway.Properties

	stateRootCreated    bool
	coordinationStarted bool
	coordinationHandle  coordination.Handle
	brokerHandles       []broker.Handle
	gatewayStarted      bool
	gatewayHandle       gateway.Handle
}

// New prepares a harness. Nothing is reserved or started until SetUp.
func New(cfg HarnessConfig, opts ...Option) *Harness {
	id := util.NewInstanceID()
	root := cfg.StateRoot
	if root == "" {
		root = os.TempDir()
	}
	h := &Harness{
		id:        id,
		cfg:       cfg,
		stateRoot: filepath.Join(root, "testcluster-"+id),
		registry:  registry.New(),
		state:     Uninitialized,
	}
	for _, opt := range opts {
		opt(h)
	}
	if h.log == nil {
		h.log = log.NewEntry(log.StandardLogger())
	}
	h.log = h.log.WithField("harness", id)

	if h.reserver == nil {
		h.reserver = ports.NewAllocator(cfg.BindAddress)
	}
	if h.coordination == nil {
		l := coordination.NewLauncher(h.registry, h.log)
		l.Host = cfg.Host
		l.BindAddress = cfg.BindAddress
		l.StateRoot = h.stateRoot
		l.StartTimeout = cfg.StartTimeout
		l.StopTimeout = cfg.StopTimeout
		h.coordination = l
	}
	if h.brokers == nil {
		l := broker.NewLauncher(h.registry, h.log)
		l.BindAddress = cfg.BindAddress
		l.StartTimeout = cfg.StartTimeout
		l.StopTimeout = cfg.StopTimeout
		h.brokers = l
	}
	if h.gateway == nil {
		l := gateway.NewLauncher(h.registry, h.log)
		l.Host = cfg.Host
		l.BindAddress = cfg.BindAddress
		l.StartTimeout = cfg.StartTimeout
		l.StopTimeout = cfg.StopTimeout
		h.gateway = l
	}
	return h
}

// SetUp reserves the ports and starts the coordination service, the brokers and the gateway, in
// that order. If any step fails, whatever was started is released again, the harness is torn down
// and the error that caused the failure is returned.
func (h *Harness) SetUp(ctx context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.state != Uninitialized {
		return errors.WithStack(&clustererrors.ErrIllegalState{Operation: "setup", State: h.state.String()})
	}

	if err := h.setUp(ctx); err != nil {
		logging.WithStacktrace(h.log, err).Error("Cluster setup failed, releasing started components")
		cleanupErr := h.release(ctx)
		h.state = TornDown
		if cleanupErr != nil {
			return multierror.Append(err, cleanupErr)
		}
		return err
	}
	h.state = Running
	h.log.Infof("Cluster running: coordination %s, brokers %s, gateway %s",
		h.coordinationConnect, broker.BrokerList(h.brokerConfigs), h.baseURL)
	return nil
}

func (h *Harness) setUp(ctx context.Context) error {
	if err := h.cfg.Validate(); err != nil {
		return err
	}

	pool, err := h.reserver.Reserve(h.cfg.PortCount())
	if err != nil {
		return err
	}
	h.pool = pool
	coordinationPort, err := pool.Next()
	if err != nil {
		return err
	}
	brokerPorts, err := pool.Take(h.cfg.NumBrokers)
	if err != nil {
		return err
	}
	gatewayPort, err := pool.Next()
	if err != nil {
		return err
	}

	h.coordinationConnect = net.JoinHostPort(h.cfg.Host, strconv.Itoa(coordinationPort))
	h.baseURL = fmt.Sprintf("http://%s", net.JoinHostPort(h.cfg.Host, strconv.Itoa(gatewayPort)))
	configs, err := broker.BuildConfigs(
		h.cfg.NumBrokers, brokerPorts, h.cfg.Host, h.coordinationConnect, filepath.Join(h.stateRoot, "brokers"))
	if err != nil {
		return err
	}
	for i := range configs {
		configs[i].AutoCreateTopics = h.cfg.AutoCreateTopics
	}
	if err := broker.ValidateConfigs(configs); err != nil {
		return err
	}
	h.brokerConfigs = configs
	h.gatewayProps = gateway.NewProperties(gatewayPort, h.coordinationConnect, broker.BrokerList(configs))

	if err := os.MkdirAll(h.stateRoot, 0o755); err != nil {
		return errors.WithStack(&clustererrors.ErrComponentStart{Component: "harness", Cause: err})
	}
	h.stateRootCreated = true

	h.coordinationHandle, err = h.coordination.Start(ctx, coordinationPort)
	if err != nil {
		return err
	}
	h.coordinationStarted = true

	h.brokerHandles, err = h.brokers.StartAll(ctx, configs)
	if err != nil {
		return err
	}

	h.gatewayHandle, err = h.gateway.Start(ctx, h.gatewayProps)
	if err != nil {
		return err
	}
	h.gatewayStarted = true
	return nil
}

// TearDown stops the gateway, stops the brokers and removes their state, then closes the
// coordination session and stops the coordination service. Every step is attempted even if an
// earlier one failed; the failures are returned together. Tearing down twice is a no-op.
func (h *Harness) TearDown(ctx context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	switch h.state {
	case TornDown:
		return nil
	case Uninitialized:
		h.state = TornDown
		return nil
	}

	h.log.Info("Tearing down cluster")
	err := h.release(ctx)
	h.state = TornDown
	if err != nil {
		logging.WithStacktrace(h.log, err).Warn("Cluster teardown finished with errors")
	}
	return err
}

// release stops whatever has been started, in reverse order of creation.
func (h *Harness) release(ctx context.Context) error {
	var result *multierror.Error
	if h.gatewayStarted {
		result = clustererrors.Append(result, h.gateway.Stop(ctx, h.gatewayHandle))
		h.gatewayStarted = false
	}
	if len(h.brokerHandles) > 0 {
		result = clustererrors.Append(result, h.brokers.StopAll(ctx, h.brokerHandles))
		result = clustererrors.Append(result, h.brokers.RemoveStateDirs(h.brokerHandles))
		h.brokerHandles = nil
	}
	if h.coordinationStarted {
		result = clustererrors.Append(result, h.coordination.CloseSession(ctx, h.coordinationHandle))
		result = clustererrors.Append(result, h.coordination.Stop(ctx, h.coordinationHandle))
		h.coordinationStarted = false
	}
	if h.stateRootCreated {
		if err := os.RemoveAll(h.stateRoot); err != nil {
			result = clustererrors.Append(result, errors.WithStack(&clustererrors.ErrComponentStop{Component: "harness", Cause: err}))
		}
		h.stateRootCreated = false
	}
	return result.ErrorOrNil()
}

// Request builds a request for path on the gateway, e.g. Request("/topics").
func (h *Harness) Request(path string) (*request.Builder, error) {
	baseURL, err := h.runningBaseURL("request")
	if err != nil {
		return nil, err
	}
	return request.New(baseURL, path)
}

// RequestWithTemplate builds a request for path on the gateway after substituting value for the
// placeholder {name}, e.g. RequestWithTemplate("/topics/{name}", "name", "orders").
func (h *Harness) RequestWithTemplate(path string, name string, value string) (*request.Builder, error) {
	baseURL, err := h.runningBaseURL("request")
	if err != nil {
		return nil, err
	}
	return request.NewWithTemplate(baseURL, path, name, value)
}

func (h *Harness) runningBaseURL(operation string) (string, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.state != Running {
		return "", errors.WithStack(&clustererrors.ErrIllegalState{Operation: operation, State: h.state.String()})
	}
	return h.baseURL, nil
}

// CreateTopic creates a topic on the broker its name hashes to.
func (h *Harness) CreateTopic(ctx context.Context, name string) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.state != Running {
		return errors.WithStack(&clustererrors.ErrIllegalState{Operation: "create topic", State: h.state.String()})
	}
	if err := broker.ValidateTopicName(name); err != nil {
		return err
	}

	ids := make([]int, len(h.brokerHandles))
	for i, bh := range h.brokerHandles {
		ids[i] = bh.BrokerID
	}
	leader := broker.LeaderFor(name, ids)
	for _, bh := range h.brokerHandles {
		if bh.BrokerID == leader {
			return h.brokers.CreateTopic(ctx, bh, name)
		}
	}
	return errors.Errorf("no handle for broker %d", leader)
}

func (h *Harness) ID() string {
	return h.id
}

func (h *Harness) State() State {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.state
}

// BrokerList returns the brokers' "host:port" addresses, comma separated, in broker id order.
func (h *Harness) BrokerList() string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return broker.BrokerList(h.brokerConfigs)
}

// CoordinationConnect returns the "host:port" of the coordination service.
func (h *Harness) CoordinationConnect() string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.coordinationConnect
}

// BaseURL returns the gateway's URL, e.g. "http://localhost:8082".
func (h *Harness) BaseURL() string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.baseURL
}

func (h *Harness) GatewayProperties() GatewayProperties {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.gatewayProps.Copy()
}

func (h *Harness) BrokerConfigs() []BrokerConfig {
	h.mu.Lock()
	defer h.mu.Unlock()
	configs := make([]broker.Config, len(h.brokerConfigs))
	copy(configs, h.brokerConfigs)
	return configs
}

// Ports returns every reserved port in reservation order. Empty before SetUp.
func (h *Harness) Ports() []int {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.pool == nil {
		return nil
	}
	return h.pool.All()
}

// LiveComponents lists the components started by the default launchers that are still running.
func (h *Harness) LiveComponents() []Component {
	return h.registry.Live()
}
