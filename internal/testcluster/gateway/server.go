package gateway

import (
	"context"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/hashicorp/go-multierror"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/patrickmn/go-cache"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"

	"github.com/G-Research/testcluster/internal/common/health"
	"github.com/G-Research/testcluster/internal/testcluster/broker"
	"github.com/G-Research/testcluster/internal/testcluster/coordination"
	"github.com/G-Research/testcluster/internal/testcluster/natsutil"
	"github.com/G-Research/testcluster/pkg/clustererrors"
)

const keyHeader = "Testcluster-Key"

type brokerConn struct {
	nc *nats.Conn
	js jetstream.JetStream
}

// server holds the client connections the gateway forwards requests over.
type server struct {
	cfg     Config
	timeout time.Duration
	log     *log.Entry

	session *nats.Conn
	catalog *coordination.Catalog

	mu    sync.RWMutex
	conns map[string]*brokerConn // by "host:port"
	// Address of every broker registration seen, by catalog key.
	registered map[string]string

	// Topic name to leader broker id. Only lookups that succeeded are cached.
	leaders *cache.Cache

	health   *health.MultiChecker
	synced   *health.StartupCompleteChecker
	metrics  *prometheus.Registry
	requests *prometheus.CounterVec
}

func newServer(ctx context.Context, cfg Config, timeout time.Duration, logger *log.Entry) (*server, error) {
	s := &server{
		cfg:        cfg,
		timeout:    timeout,
		log:        logger,
		conns:      map[string]*brokerConn{},
		registered: map[string]string{},
		leaders:    cache.New(time.Minute, 5*time.Minute),
		health:     health.NewMultiChecker(),
		synced:     health.NewStartupCompleteChecker(),
		metrics:    prometheus.NewRegistry(),
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "testcluster",
			Subsystem: "gateway",
			Name:      "requests_total",
			Help:      "Requests handled by the gateway, by route and status code.",
		}, []string{"route", "code"}),
	}
	s.metrics.MustRegister(s.requests)

	var err error
	s.session, err = natsutil.Connect(cfg.CoordinationConnect, "testcluster-gateway", timeout)
	if err != nil {
		return nil, err
	}
	s.health.Add(health.CheckerFunc(natsutil.ConnectionCheck("coordination", s.session)))
	s.health.Add(s.synced)
	s.health.Add(health.CheckerFunc(s.checkBrokers))

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	s.catalog, err = coordination.OpenCatalog(ctx, s.session)
	if err != nil {
		s.close()
		return nil, err
	}

	for _, address := range cfg.Brokers() {
		if _, err := s.connectBroker(address); err != nil {
			s.close()
			return nil, err
		}
	}
	return s, nil
}

// connectBroker returns the connection to the broker at address, opening it if necessary.
func (s *server) connectBroker(address string) (*brokerConn, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if conn, ok := s.conns[address]; ok {
		return conn, nil
	}

	nc, err := natsutil.Connect(address, "testcluster-gateway", s.timeout)
	if err != nil {
		return nil, err
	}
	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, errors.WithStack(err)
	}
	conn := &brokerConn{nc: nc, js: js}
	s.conns[address] = conn
	s.log.Debugf("Connected to broker at %s", address)
	return conn, nil
}

// dropBroker closes the connection to the broker registered under key. Brokers that have left the
// cluster no longer count towards the gateway's health.
func (s *server) dropBroker(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	address, ok := s.registered[key]
	if !ok {
		return
	}
	delete(s.registered, key)
	if conn, ok := s.conns[address]; ok {
		conn.nc.Close()
		delete(s.conns, address)
		s.log.Debugf("Disconnected from broker at %s", address)
	}
}

func (s *server) trackBroker(key string, address string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.registered[key] = address
}

func (s *server) checkBrokers() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var result *multierror.Error
	for address, conn := range s.conns {
		result = clustererrors.Append(result, natsutil.ConnectionCheck("broker "+address, conn.nc)())
	}
	return result.ErrorOrNil()
}

// watchBrokers follows broker registrations until ctx is done. Newly registered brokers are
// connected to. Brokers that went away are disconnected and their cached leadership dropped.
// The gateway reports unhealthy until the registrations present at startup have been seen.
func (s *server) watchBrokers(ctx context.Context) error {
	w, err := s.catalog.WatchBrokers(ctx)
	if err != nil {
		return err
	}
	defer func() {
		_ = w.Stop()
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case entry, ok := <-w.Updates():
			if !ok {
				return nil
			}
			if entry == nil {
				// All existing registrations have been delivered.
				s.synced.MarkComplete()
				continue
			}
			switch entry.Operation() {
			case jetstream.KeyValuePut:
				record, err := coordination.ParseBrokerRecord(entry.Value())
				if err != nil {
					s.log.WithError(err).Warnf("Ignoring broker registration %s", entry.Key())
					continue
				}
				if _, err := s.connectBroker(record.Address()); err != nil {
					s.log.WithError(err).Warnf("Failed to connect to broker %d", record.ID)
					continue
				}
				s.trackBroker(entry.Key(), record.Address())
			case jetstream.KeyValueDelete, jetstream.KeyValuePurge:
				s.log.Infof("Broker %s left the cluster", entry.Key())
				s.dropBroker(entry.Key())
				s.leaders.Flush()
			}
		}
	}
}

func (s *server) close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for address, conn := range s.conns {
		conn.nc.Close()
		delete(s.conns, address)
	}
	if s.session != nil && !s.session.IsClosed() {
		s.session.Close()
	}
}

func (s *server) router() *gin.Engine {
	r := gin.New()
	r.Use(requestLogger(s.log), s.countRequests, gin.Recovery())

	r.GET("/health", gin.WrapH(health.NewHealthCheckHttpHandler(s.health)))
	r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(s.metrics, promhttp.HandlerOpts{})))
	r.GET("/brokers", s.getBrokers)
	r.GET("/topics", s.getTopics)
	r.GET("/topics/:name", s.getTopic)
	r.POST("/topics/:name", s.produce)
	r.GET("/topics/:name/records/:offset", s.getRecord)
	return r
}

func (s *server) countRequests(c *gin.Context) {
	c.Next()
	route := c.FullPath()
	if route == "" {
		route = "unmatched"
	}
	s.requests.WithLabelValues(route, strconv.Itoa(c.Writer.Status())).Inc()
}

func requestLogger(logger *log.Entry) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		entry := logger.WithFields(log.Fields{
			"method":  c.Request.Method,
			"path":    c.Request.URL.Path,
			"status":  c.Writer.Status(),
			"latency": time.Since(start),
		})
		if len(c.Errors) > 0 {
			entry.Warn(c.Errors.String())
			return
		}
		entry.Debug("Handled request")
	}
}

func (s *server) getBrokers(c *gin.Context) {
	ids, err := s.catalog.BrokerIDs(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"brokers": ids})
}

func (s *server) getTopics(c *gin.Context) {
	topics, err := s.catalog.Topics(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, topics)
}

func (s *server) getTopic(c *gin.Context) {
	ctx := c.Request.Context()
	name := c.Param("name")
	leader, conn, err := s.leaderOf(ctx, name)
	if err != nil {
		writeError(c, err)
		return
	}
	stream, err := conn.js.Stream(ctx, name)
	if err != nil {
		writeError(c, streamError(name, err))
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"name":     name,
		"leader":   leader,
		"messages": stream.CachedInfo().State.Msgs,
	})
}

type produceRequest struct {
	Records []struct {
		Key   string `json:"key"`
		Value string `json:"value"`
	} `json:"records" binding:"required,min=1"`
}

func (s *server) produce(c *gin.Context) {
	ctx := c.Request.Context()
	name := c.Param("name")

	var req produceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, &clustererrors.ErrInvalidArgument{Name: "records", Value: name, Message: err.Error()})
		return
	}

	_, conn, err := s.leaderOf(ctx, name)
	var notFound *clustererrors.ErrNotFound
	if errors.As(err, &notFound) && notFound.Type == "topic" {
		conn, err = s.autoCreate(ctx, name, err)
	}
	if err != nil {
		writeError(c, err)
		return
	}

	offsets := make([]uint64, 0, len(req.Records))
	for _, record := range req.Records {
		msg := nats.NewMsg(broker.Subject(name))
		msg.Data = []byte(record.Value)
		if record.Key != "" {
			msg.Header.Set(keyHeader, record.Key)
		}
		ack, err := conn.js.PublishMsg(ctx, msg)
		if err != nil {
			writeError(c, errors.Wrapf(err, "failed to publish to topic %s", name))
			return
		}
		offsets = append(offsets, ack.Sequence-1)
	}
	c.JSON(http.StatusOK, gin.H{"offsets": offsets})
}

func (s *server) getRecord(c *gin.Context) {
	ctx := c.Request.Context()
	name := c.Param("name")
	offset, err := strconv.ParseUint(c.Param("offset"), 10, 64)
	if err != nil {
		writeError(c, &clustererrors.ErrInvalidArgument{Name: "offset", Value: c.Param("offset"), Message: "offset must be a non-negative integer"})
		return
	}

	_, conn, err := s.leaderOf(ctx, name)
	if err != nil {
		writeError(c, err)
		return
	}
	stream, err := conn.js.Stream(ctx, name)
	if err != nil {
		writeError(c, streamError(name, err))
		return
	}
	msg, err := stream.GetMsg(ctx, offset+1)
	if errors.Is(err, jetstream.ErrMsgNotFound) {
		writeError(c, &clustererrors.ErrNotFound{Type: "record", Value: c.Param("offset"), Message: "no record at this offset of topic " + name})
		return
	}
	if err != nil {
		writeError(c, errors.WithStack(err))
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"topic":  name,
		"offset": offset,
		"key":    msg.Header.Get(keyHeader),
		"value":  string(msg.Data),
	})
}

// leaderOf resolves the broker leading topic and the connection to it.
func (s *server) leaderOf(ctx context.Context, topic string) (int, *brokerConn, error) {
	leader, ok := s.leaders.Get(topic)
	if !ok {
		record, err := s.catalog.Topic(ctx, topic)
		if err != nil {
			return 0, nil, err
		}
		leader = record.Leader
		s.leaders.SetDefault(topic, leader)
	}
	id := leader.(int)

	conn, err := s.brokerConn(ctx, id)
	if err != nil {
		s.leaders.Delete(topic)
		return 0, nil, err
	}
	return id, conn, nil
}

func (s *server) brokerConn(ctx context.Context, id int) (*brokerConn, error) {
	record, err := s.catalog.Broker(ctx, id)
	if err != nil {
		return nil, err
	}
	return s.connectBroker(record.Address())
}

// autoCreate creates a topic that does not exist yet if the broker that would lead it allows
// that. Otherwise notFound is returned unchanged.
func (s *server) autoCreate(ctx context.Context, topic string, notFound error) (*brokerConn, error) {
	if err := broker.ValidateTopicName(topic); err != nil {
		return nil, err
	}
	ids, err := s.catalog.BrokerIDs(ctx)
	if err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return nil, notFound
	}
	leader := broker.LeaderFor(topic, ids)
	record, err := s.catalog.Broker(ctx, leader)
	if err != nil {
		return nil, err
	}
	if !record.AutoCreateTopics {
		return nil, notFound
	}

	conn, err := s.connectBroker(record.Address())
	if err != nil {
		return nil, err
	}
	s.log.Infof("Creating topic %s on broker %d", topic, leader)
	err = broker.CreateStream(ctx, conn.js, s.catalog, leader, topic)
	var exists *clustererrors.ErrInvalidArgument
	if err != nil && !errors.As(err, &exists) {
		return nil, err
	}
	// A concurrent request may have created the topic first; it is usable either way.
	_, conn, err = s.leaderOf(ctx, topic)
	return conn, err
}

func streamError(topic string, err error) error {
	if errors.Is(err, jetstream.ErrStreamNotFound) {
		return &clustererrors.ErrNotFound{Type: "topic", Value: topic, Message: "topic is registered but its broker has no data for it"}
	}
	return errors.WithStack(err)
}

// writeError responds with the status matching err and an error code that refines it, e.g. 40401
// for a missing topic.
func writeError(c *gin.Context, err error) {
	status := clustererrors.StatusFromError(err)
	_ = c.Error(err)
	c.JSON(status, gin.H{
		"error_code": status*100 + 1,
		"message":    err.Error(),
	})
}
