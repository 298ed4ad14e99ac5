package broker

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/G-Research/testcluster/internal/testcluster/coordination"
	"github.com/G-Research/testcluster/internal/testcluster/natsutil"
	"github.com/G-Research/testcluster/internal/testcluster/ports"
	"github.com/G-Research/testcluster/internal/testcluster/registry"
	"github.com/G-Research/testcluster/pkg/clustererrors"
)

type fixture struct {
	reg          *registry.Registry
	coordination *coordination.Launcher
	coordHandle  coordination.Handle
	brokers      *Launcher
	configs      []Config
}

func newFixture(t *testing.T, n int) *fixture {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping embedded brokers in short mode")
	}
	pool, err := ports.Reserve(n + 1)
	require.NoError(t, err)
	coordPort, err := pool.Next()
	require.NoError(t, err)
	brokerPorts, err := pool.Take(n)
	require.NoError(t, err)

	reg := registry.New()
	logger := log.WithField("test", t.Name())
	coord := newCoordination(reg, logger, t.TempDir())
	coordHandle, err := coord.Start(context.Background(), coordPort)
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = coord.Stop(context.Background(), coordHandle)
	})

	configs, err := BuildConfigs(n, brokerPorts, "localhost", coordHandle.ConnectString(), t.TempDir())
	require.NoError(t, err)

	return &fixture{
		reg:          reg,
		coordination: coord,
		coordHandle:  coordHandle,
		brokers:      NewLauncher(reg, logger),
		configs:      configs,
	}
}

func newCoordination(reg *registry.Registry, logger *log.Entry, stateRoot string) *coordination.Launcher {
	l := coordination.NewLauncher(reg, logger)
	l.StateRoot = stateRoot
	return l
}

func TestLauncher_StartAllRegistersBrokers(t *testing.T) {
	f := newFixture(t, 2)
	ctx := context.Background()

	handles, err := f.brokers.StartAll(ctx, f.configs)
	require.NoError(t, err)
	require.Len(t, handles, 2)
	assert.Len(t, f.reg.LiveOfKind(registry.KindBroker), 2)

	catalog, err := f.coordination.Catalog(f.coordHandle)
	require.NoError(t, err)
	ids, err := catalog.BrokerIDs(ctx)
	require.NoError(t, err)
	assert.Equal(t, []int{0, 1}, ids)

	for _, h := range handles {
		for _, dir := range h.StateDirs() {
			assert.DirExists(t, dir)
		}
	}

	require.NoError(t, f.brokers.StopAll(ctx, handles))
	ids, err = catalog.BrokerIDs(ctx)
	require.NoError(t, err)
	assert.Empty(t, ids)
	assert.Empty(t, f.reg.LiveOfKind(registry.KindBroker))

	require.NoError(t, f.brokers.RemoveStateDirs(handles))
	for _, h := range handles {
		for _, dir := range h.StateDirs() {
			_, err := os.Stat(dir)
			assert.True(t, os.IsNotExist(err))
		}
	}
}

func TestLauncher_StartAllWithoutConfigs(t *testing.T) {
	l := NewLauncher(registry.New(), log.WithField("test", t.Name()))
	handles, err := l.StartAll(context.Background(), nil)
	assert.Empty(t, handles)
	var configErr *clustererrors.ErrConfiguration
	assert.True(t, errors.As(err, &configErr))
}

func TestLauncher_StartAllReturnsStartedBrokersOnFailure(t *testing.T) {
	f := newFixture(t, 2)
	ctx := context.Background()

	// The second broker points at a coordination service that is not running.
	f.configs[1].CoordinationConnect = "localhost:1"
	f.brokers.StartTimeout = 2 * time.Second

	handles, err := f.brokers.StartAll(ctx, f.configs)
	var startErr *clustererrors.ErrComponentStart
	require.True(t, errors.As(err, &startErr))
	assert.Equal(t, "broker-1", startErr.Component)
	require.Len(t, handles, 1)
	assert.Equal(t, 0, handles[0].BrokerID)
	assert.Len(t, f.reg.LiveOfKind(registry.KindBroker), 1)
	_, err = os.Stat(f.configs[1].StateDirs[0])
	assert.True(t, os.IsNotExist(err))

	require.NoError(t, f.brokers.StopAll(ctx, handles))
	require.NoError(t, f.brokers.RemoveStateDirs(handles))
}

func TestLauncher_StopUnknownHandle(t *testing.T) {
	l := NewLauncher(registry.New(), log.WithField("test", t.Name()))
	err := l.StopAll(context.Background(), []Handle{{ID: 41, BrokerID: 3}, {ID: 42, BrokerID: 4}})
	require.Error(t, err)
	var stopErr *clustererrors.ErrComponentStop
	require.True(t, errors.As(err, &stopErr))
	assert.Equal(t, "broker-3", stopErr.Component)
	assert.Contains(t, err.Error(), "broker-4")
}

func TestLauncher_StopAllContinuesPastFailedBroker(t *testing.T) {
	f := newFixture(t, 3)
	ctx := context.Background()

	handles, err := f.brokers.StartAll(ctx, f.configs)
	require.NoError(t, err)
	require.Len(t, handles, 3)

	// Pull the middle broker out from under the launcher so stopping it fails.
	middle, err := registry.Take[*node](f.reg, handles[1].ID)
	require.NoError(t, err)
	t.Cleanup(func() {
		closeConn(middle.session)
		closeConn(middle.self)
		_ = natsutil.ShutdownServer(middle.srv, time.Second)
	})

	err = f.brokers.StopAll(ctx, handles)
	require.Error(t, err)
	var merr *multierror.Error
	require.True(t, errors.As(err, &merr))
	require.Len(t, merr.Errors, 1)
	var stopErr *clustererrors.ErrComponentStop
	require.True(t, errors.As(err, &stopErr))
	assert.Equal(t, "broker-1", stopErr.Component)
	assert.Empty(t, f.reg.LiveOfKind(registry.KindBroker))

	require.NoError(t, natsutil.ShutdownServer(middle.srv, time.Second))
	require.NoError(t, f.brokers.RemoveStateDirs(handles))
	for _, h := range handles {
		require.NotEmpty(t, h.StateDirs())
		for _, dir := range h.StateDirs() {
			assert.NoDirExists(t, dir)
		}
	}
}

func TestLauncher_CreateTopic(t *testing.T) {
	f := newFixture(t, 1)
	ctx := context.Background()

	handles, err := f.brokers.StartAll(ctx, f.configs)
	require.NoError(t, err)
	defer func() {
		assert.NoError(t, f.brokers.StopAll(ctx, handles))
	}()

	require.NoError(t, f.brokers.CreateTopic(ctx, handles[0], "orders"))

	catalog, err := f.coordination.Catalog(f.coordHandle)
	require.NoError(t, err)
	record, err := catalog.Topic(ctx, "orders")
	require.NoError(t, err)
	assert.Equal(t, 0, record.Leader)

	n, err := registry.Get[*node](f.reg, handles[0].ID)
	require.NoError(t, err)
	stream, err := n.js.Stream(ctx, "orders")
	require.NoError(t, err)
	assert.Equal(t, []string{"topics.orders"}, stream.CachedInfo().Config.Subjects)

	err = f.brokers.CreateTopic(ctx, handles[0], "orders")
	var invalid *clustererrors.ErrInvalidArgument
	assert.True(t, errors.As(err, &invalid))

	err = f.brokers.CreateTopic(ctx, handles[0], "bad.name")
	assert.True(t, errors.As(err, &invalid))
}
