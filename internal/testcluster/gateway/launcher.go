// Package gateway runs the HTTP gateway of a test cluster. The gateway answers REST calls by
// reading cluster metadata from the coordination service and reading or writing topic data on the
// brokers listed in its bootstrap servers.
package gateway

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/avast/retry-go"
	"github.com/gin-gonic/gin"
	"github.com/hashicorp/go-multierror"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/G-Research/testcluster/internal/common/util"
	"github.com/G-Research/testcluster/internal/testcluster/registry"
	"github.com/G-Research/testcluster/pkg/clustererrors"
)

const (
	componentName = "gateway"
	pollInterval  = 50 * time.Millisecond
)

func init() {
	gin.SetMode(gin.ReleaseMode)
}

// Handle identifies a running gateway.
type Handle struct {
	ID      registry.ID
	Port    int
	baseURL string
	props   Properties
}

// BaseURL returns the URL tests reach the gateway on, e.g. "http://localhost:8082".
func (h Handle) BaseURL() string {
	return h.baseURL
}

// Properties returns the properties the gateway was started with.
func (h Handle) Properties() Properties {
	return h.props.Copy()
}

type instance struct {
	srv    *server
	http   *http.Server
	cancel context.CancelFunc
	group  *errgroup.Group
}

type Launcher struct {
	Host         string
	BindAddress  string
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

// Start runs the gateway and blocks until it is listening and reports itself healthy.
func (l *Launcher) Start(ctx context.Context, props Properties) (Handle, error) {
	cfg, err := DecodeConfig(props)
	if err != nil {
		return Handle{}, err
	}
	l.log.Infof("Starting gateway on port %d for brokers %s", cfg.Port, cfg.BootstrapServers)

	srv, err := newServer(ctx, cfg, l.StartTimeout, l.log)
	if err != nil {
		return Handle{}, startError(err)
	}
	listener, err := net.Listen("tcp", net.JoinHostPort(l.BindAddress, strconv.Itoa(cfg.Port)))
	if err != nil {
		srv.close()
		return Handle{}, startError(errors.WithStack(err))
	}

	httpServer := &http.Server{
		Handler:           srv.router(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	runCtx, cancel := context.WithCancel(context.Background())
	g, runCtx := errgroup.WithContext(runCtx)
	g.Go(func() error {
		if err := httpServer.Serve(listener); !errors.Is(err, http.ErrServerClosed) {
			return errors.WithStack(err)
		}
		return nil
	})
	g.Go(func() error {
		return srv.watchBrokers(runCtx)
	})
	inst := &instance{srv: srv, http: httpServer, cancel: cancel, group: g}

	baseURL := fmt.Sprintf("http://%s", net.JoinHostPort(l.Host, strconv.Itoa(cfg.Port)))
	if err := l.waitUntilHealthy(baseURL); err != nil {
		if shutdownErr := l.shutdown(inst); shutdownErr != nil {
			l.log.WithError(shutdownErr).Warn("Failed to shut down gateway after failed start")
		}
		return Handle{}, startError(err)
	}

	id := l.registry.Register(registry.KindGateway, componentName, inst)
	l.log.Infof("Gateway ready on %s", baseURL)
	return Handle{ID: id, Port: cfg.Port, baseURL: baseURL, props: props.Copy()}, nil
}

func (l *Launcher) waitUntilHealthy(baseURL string) error {
	client := &http.Client{Timeout: time.Second}
	attempts := uint(l.StartTimeout / pollInterval)
	if attempts == 0 {
		attempts = 1
	}
	return retry.Do(
		func() error {
			resp, err := client.Get(baseURL + "/health")
			if err != nil {
				return errors.WithStack(err)
			}
			defer util.CloseResource("health check response", resp.Body)
			if resp.StatusCode != http.StatusNoContent {
				body, _ := io.ReadAll(resp.Body)
				return errors.Errorf("gateway health check returned %s: %s", resp.Status, body)
			}
			return nil
		},
		retry.Attempts(attempts),
		retry.Delay(pollInterval),
		retry.DelayType(retry.FixedDelay),
		retry.LastErrorOnly(true),
	)
}

// Stop shuts the HTTP server down and blocks until it and the broker watcher have exited.
func (l *Launcher) Stop(_ context.Context, h Handle) error {
	inst, err := registry.Take[*instance](l.registry, h.ID)
	if err != nil {
		return stopError(err)
	}
	l.log.Infof("Stopping gateway on %s", h.BaseURL())
	if err := l.shutdown(inst); err != nil {
		return stopError(err)
	}
	return nil
}

func (l *Launcher) shutdown(inst *instance) error {
	ctx, cancel := context.WithTimeout(context.Background(), l.StopTimeout)
	defer cancel()

	var result *multierror.Error
	if err := inst.http.Shutdown(ctx); err != nil {
		result = clustererrors.Append(result, errors.WithStack(err))
		_ = inst.http.Close()
	}
	inst.cancel()

	done := make(chan error, 1)
	go func() {
		done <- inst.group.Wait()
	}()
	select {
	case err := <-done:
		result = clustererrors.Append(result, err)
	case <-ctx.Done():
		result = clustererrors.Append(result, errors.Errorf("gateway workers did not exit within %s", l.StopTimeout))
	}

	inst.srv.close()
	return result.ErrorOrNil()
}

func startError(err error) error {
	return errors.WithStack(&clustererrors.ErrComponentStart{Component: componentName, Cause: err})
}

func stopError(err error) error {
	return errors.WithStack(&clustererrors.ErrComponentStop{Component: componentName, Cause: err})
}
