package coordination

import (
	"context"
	"encoding/json"
	"net"
	"sort"
	"strconv"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/pkg/errors"

	"github.com/G-Research/testcluster/pkg/clustererrors"
)

const (
	BrokersBucket = "brokers"
	TopicsBucket  = "topics"
)

// BrokerRecord is what a broker publishes about itself while it is running.
type BrokerRecord struct {
	ID               int      `json:"id"`
	Host             string   `json:"host"`
	Port             int      `json:"port"`
	AutoCreateTopics bool     `json:"autoCreateTopics"`
	StateDirs        []string `json:"stateDirs"`
}

// Address returns the broker's "host:port".
func (r BrokerRecord) Address() string {
	return net.JoinHostPort(r.Host, strconv.Itoa(r.Port))
}

// TopicRecord maps a topic to the broker that stores it.
type TopicRecord struct {
	Name   string `json:"name"`
	Leader int    `json:"leader"`
}

// Catalog is the cluster metadata held by the coordination service: which brokers are alive and
// which broker leads each topic.
type Catalog struct {
	brokers jetstream.KeyValue
	topics  jetstream.KeyValue
}

// createCatalog creates the metadata buckets. Called once when the coordination service starts.
func createCatalog(ctx context.Context, nc *nats.Conn) (*Catalog, error) {
	js, err := jetstream.New(nc)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	brokers, err := js.CreateKeyValue(ctx, jetstream.KeyValueConfig{
		Bucket:      BrokersBucket,
		Description: "live brokers of the test cluster",
		Storage:     jetstream.MemoryStorage,
	})
	if err != nil {
		return nil, errors.Wrapf(err, "failed to create %s bucket", BrokersBucket)
	}
	topics, err := js.CreateKeyValue(ctx, jetstream.KeyValueConfig{
		Bucket:      TopicsBucket,
		Description: "topic leadership of the test cluster",
		Storage:     jetstream.MemoryStorage,
	})
	if err != nil {
		return nil, errors.Wrapf(err, "failed to create %s bucket", TopicsBucket)
	}
	return &Catalog{brokers: brokers, topics: topics}, nil
}

// OpenCatalog binds to the metadata buckets of a running coordination service.
func OpenCatalog(ctx context.Context, nc *nats.Conn) (*Catalog, error) {
	js, err := jetstream.New(nc)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	brokers, err := js.KeyValue(ctx, BrokersBucket)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open %s bucket", BrokersBucket)
	}
	topics, err := js.KeyValue(ctx, TopicsBucket)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open %s bucket", TopicsBucket)
	}
	return &Catalog{brokers: brokers, topics: topics}, nil
}

func (c *Catalog) RegisterBroker(ctx context.Context, record BrokerRecord) error {
	data, err := json.Marshal(record)
	if err != nil {
		return errors.WithStack(err)
	}
	_, err = c.brokers.Put(ctx, strconv.Itoa(record.ID), data)
	return errors.Wrapf(err, "failed to register broker %d", record.ID)
}

func (c *Catalog) DeregisterBroker(ctx context.Context, id int) error {
	err := c.brokers.Delete(ctx, strconv.Itoa(id))
	return errors.Wrapf(err, "failed to deregister broker %d", id)
}

// Broker returns the record of a live broker.
func (c *Catalog) Broker(ctx context.Context, id int) (BrokerRecord, error) {
	var record BrokerRecord
	entry, err := c.brokers.Get(ctx, strconv.Itoa(id))
	if errors.Is(err, jetstream.ErrKeyNotFound) {
		return record, errors.WithStack(&clustererrors.ErrNotFound{Type: "broker", Value: strconv.Itoa(id)})
	}
	if err != nil {
		return record, errors.WithStack(err)
	}
	return ParseBrokerRecord(entry.Value())
}

// ParseBrokerRecord decodes the value stored for a broker, e.g. one received from WatchBrokers.
func ParseBrokerRecord(data []byte) (BrokerRecord, error) {
	var record BrokerRecord
	err := json.Unmarshal(data, &record)
	return record, errors.Wrap(err, "malformed broker record")
}

// Brokers returns every live broker, ordered by id.
func (c *Catalog) Brokers(ctx context.Context) ([]BrokerRecord, error) {
	keys, err := keysOf(ctx, c.brokers)
	if err != nil {
		return nil, err
	}
	records := make([]BrokerRecord, 0, len(keys))
	for _, key := range keys {
		id, err := strconv.Atoi(key)
		if err != nil {
			return nil, errors.Wrapf(err, "malformed broker key %q", key)
		}
		record, err := c.Broker(ctx, id)
		var notFound *clustererrors.ErrNotFound
		if errors.As(err, &notFound) {
			// Deregistered between listing and reading.
			continue
		}
		if err != nil {
			return nil, err
		}
		records = append(records, record)
	}
	sort.Slice(records, func(i, j int) bool { return records[i].ID < records[j].ID })
	return records, nil
}

// BrokerIDs returns the ids of every live broker in ascending order.
func (c *Catalog) BrokerIDs(ctx context.Context) ([]int, error) {
	records, err := c.Brokers(ctx)
	if err != nil {
		return nil, err
	}
	ids := make([]int, len(records))
	for i, record := range records {
		ids[i] = record.ID
	}
	return ids, nil
}

// WatchBrokers streams broker registrations and removals until ctx is done.
func (c *Catalog) WatchBrokers(ctx context.Context) (jetstream.KeyWatcher, error) {
	w, err := c.brokers.WatchAll(ctx)
	return w, errors.WithStack(err)
}

func (c *Catalog) RegisterTopic(ctx context.Context, record TopicRecord) error {
	data, err := json.Marshal(record)
	if err != nil {
		return errors.WithStack(err)
	}
	_, err = c.topics.Create(ctx, record.Name, data)
	if errors.Is(err, jetstream.ErrKeyExists) {
		return errors.WithStack(&clustererrors.ErrInvalidArgument{
			Name:    "topic",
			Value:   record.Name,
			Message: "topic already exists",
		})
	}
	return errors.Wrapf(err, "failed to register topic %s", record.Name)
}

func (c *Catalog) Topic(ctx context.Context, name string) (TopicRecord, error) {
	var record TopicRecord
	entry, err := c.topics.Get(ctx, name)
	if errors.Is(err, jetstream.ErrKeyNotFound) || errors.Is(err, jetstream.ErrInvalidKey) {
		return record, errors.WithStack(&clustererrors.ErrNotFound{Type: "topic", Value: name})
	}
	if err != nil {
		return record, errors.WithStack(err)
	}
	err = json.Unmarshal(entry.Value(), &record)
	return record, errors.WithStack(err)
}

// Topics returns the names of every known topic, sorted.
func (c *Catalog) Topics(ctx context.Context) ([]string, error) {
	return keysOf(ctx, c.topics)
}

func keysOf(ctx context.Context, kv jetstream.KeyValue) ([]string, error) {
	keys, err := kv.Keys(ctx)
	if errors.Is(err, jetstream.ErrNoKeysFound) {
		return []string{}, nil
	}
	if err != nil {
		return nil, errors.WithStack(err)
	}
	sort.Strings(keys)
	return keys, nil
}
