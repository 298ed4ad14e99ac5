package coordination

import (
	"context"
	"os"
	"strconv"
	"testing"
	"time"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/G-Research/testcluster/internal/testcluster/ports"
	"github.com/G-Research/testcluster/internal/testcluster/registry"
	"github.com/G-Research/testcluster/pkg/clustererrors"
)

func startService(t *testing.T) (*Launcher, Handle, *registry.Registry) {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping embedded coordination service in short mode")
	}

	pool, err := ports.Reserve(1)
	require.NoError(t, err)
	port, err := pool.Next()
	require.NoError(t, err)

	reg := registry.New()
	l := NewLauncher(reg, log.WithField("test", t.Name()))
	l.StateRoot = t.TempDir()

	h, err := l.Start(context.Background(), port)
	require.NoError(t, err)
	assert.Equal(t, "localhost:"+strconv.Itoa(port), h.ConnectString())
	return l, h, reg
}

func TestLauncher_StartAndStop(t *testing.T) {
	l, h, reg := startService(t)
	require.Len(t, reg.LiveOfKind(registry.KindCoordination), 1)

	svc, err := registry.Get[*service](reg, h.ID)
	require.NoError(t, err)
	storeDir := svc.storeDir
	assert.DirExists(t, storeDir)

	session, err := l.Session(h)
	require.NoError(t, err)
	assert.True(t, session.IsConnected())

	require.NoError(t, l.CloseSession(context.Background(), h))
	assert.True(t, session.IsClosed())

	require.NoError(t, l.Stop(context.Background(), h))
	assert.Empty(t, reg.Live())
	_, err = os.Stat(storeDir)
	assert.True(t, os.IsNotExist(err))

	err = l.Stop(context.Background(), h)
	var stopErr *clustererrors.ErrComponentStop
	assert.True(t, errors.As(err, &stopErr))
}

func TestLauncher_StartOnBusyPort(t *testing.T) {
	l, h, _ := startService(t)
	defer func() { assert.NoError(t, l.Stop(context.Background(), h)) }()

	l.StartTimeout = 500 * time.Millisecond
	_, err := l.Start(context.Background(), h.Port)
	var startErr *clustererrors.ErrComponentStart
	assert.True(t, errors.As(err, &startErr))
}

func TestCatalog_BrokersAndTopics(t *testing.T) {
	l, h, _ := startService(t)
	defer func() { assert.NoError(t, l.Stop(context.Background(), h)) }()

	ctx := context.Background()
	session, err := l.Session(h)
	require.NoError(t, err)
	catalog, err := OpenCatalog(ctx, session)
	require.NoError(t, err)

	ids, err := catalog.BrokerIDs(ctx)
	require.NoError(t, err)
	assert.Empty(t, ids)

	for _, id := range []int{2, 0, 1} {
		require.NoError(t, catalog.RegisterBroker(ctx, BrokerRecord{ID: id, Host: "localhost", Port: 9000 + id}))
	}
	ids, err = catalog.BrokerIDs(ctx)
	require.NoError(t, err)
	assert.Equal(t, []int{0, 1, 2}, ids)

	record, err := catalog.Broker(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, "localhost:9001", record.Address())

	require.NoError(t, catalog.DeregisterBroker(ctx, 1))
	ids, err = catalog.BrokerIDs(ctx)
	require.NoError(t, err)
	assert.Equal(t, []int{0, 2}, ids)

	_, err = catalog.Broker(ctx, 1)
	var notFound *clustererrors.ErrNotFound
	assert.True(t, errors.As(err, &notFound))

	require.NoError(t, catalog.RegisterTopic(ctx, TopicRecord{Name: "orders", Leader: 2}))
	err = catalog.RegisterTopic(ctx, TopicRecord{Name: "orders", Leader: 0})
	var invalid *clustererrors.ErrInvalidArgument
	assert.True(t, errors.As(err, &invalid))

	topic, err := catalog.Topic(ctx, "orders")
	require.NoError(t, err)
	assert.Equal(t, 2, topic.Leader)

	_, err = catalog.Topic(ctx, "missing")
	assert.True(t, errors.As(err, &notFound))

	topics, err := catalog.Topics(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"orders"}, topics)
}
