package registry

import (
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/G-Research/testcluster/pkg/clustererrors"
)

type fakeServer struct {
	name string
}

func TestRegistry_RegisterAndTake(t *testing.T) {
	r := New()
	zk := r.Register(KindCoordination, "coordination", &fakeServer{name: "zk"})
	b0 := r.Register(KindBroker, "broker-0", &fakeServer{name: "b0"})
	b1 := r.Register(KindBroker, "broker-1", &fakeServer{name: "b1"})

	assert.NotEqual(t, zk, b0)
	assert.Equal(t, []Entry{
		{ID: zk, Kind: KindCoordination, Name: "coordination"},
		{ID: b0, Kind: KindBroker, Name: "broker-0"},
		{ID: b1, Kind: KindBroker, Name: "broker-1"},
	}, r.Live())
	assert.Len(t, r.LiveOfKind(KindBroker), 2)

	s, err := Take[*fakeServer](r, b0)
	require.NoError(t, err)
	assert.Equal(t, "b0", s.name)
	assert.Len(t, r.LiveOfKind(KindBroker), 1)

	_, err = Take[*fakeServer](r, b0)
	var notFound *clustererrors.ErrNotFound
	assert.True(t, errors.As(err, &notFound))
}

func TestRegistry_GetWrongType(t *testing.T) {
	r := New()
	id := r.Register(KindGateway, "gateway", &fakeServer{})

	_, err := Get[string](r, id)
	assert.Error(t, err)

	_, ok := r.Remove(id)
	assert.True(t, ok)
	assert.Empty(t, r.Live())
}
