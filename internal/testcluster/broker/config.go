package broker

import (
	"fmt"
	"net"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/pkg/errors"

	"github.com/G-Research/testcluster/pkg/clustererrors"
)

// Property names understood by a broker node.
const (
	PropertyBrokerID            = "broker.id"
	PropertyHostName            = "host.name"
	PropertyPort                = "port"
	PropertyCoordinationConnect = "coordination.connect"
	PropertyAutoCreateTopics    = "auto.create.topics.enable"
	PropertyLogDirs             = "log.dirs"
)

// Config holds the settings of one broker node. Configs are built once, before any broker
// starts, and are not modified afterwards.
type Config struct {
	ID                  int
	Host                string
	Port                int
	CoordinationConnect string
	// Off by default so tests can exercise the errors returned for topics that don't exist.
	AutoCreateTopics bool
	StateDirs        []string
}

// Address returns the "host:port" clients use to reach the broker.
func (c Config) Address() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

func (c Config) Name() string {
	return fmt.Sprintf("broker-%d", c.ID)
}

// Properties renders the config as the property set a broker node is started with.
func (c Config) Properties() map[string]string {
	return map[string]string{
		PropertyBrokerID:            strconv.Itoa(c.ID),
		PropertyHostName:            c.Host,
		PropertyPort:                strconv.Itoa(c.Port),
		PropertyCoordinationConnect: c.CoordinationConnect,
		PropertyAutoCreateTopics:    strconv.FormatBool(c.AutoCreateTopics),
		PropertyLogDirs:             strings.Join(c.StateDirs, ","),
	}
}

// BuildConfigs returns one config per broker, with ids 0..n-1 assigned ports in the given order.
// Each broker keeps its state in its own directory below stateRoot. BuildConfigs has no side
// effects; directories are created when the broker starts.
func BuildConfigs(n int, ports []int, host string, coordinationConnect string, stateRoot string) ([]Config, error) {
	if n < 0 {
		return nil, errors.WithStack(&clustererrors.ErrConfiguration{
			Name:    "brokers",
			Message: fmt.Sprintf("broker count must not be negative, got %d", n),
		})
	}
	if len(ports) < n {
		return nil, errors.WithStack(&clustererrors.ErrConfiguration{
			Name:    "ports",
			Message: fmt.Sprintf("%d brokers need %d ports but only %d were given", n, n, len(ports)),
		})
	}

	configs := make([]Config, n)
	for i := 0; i < n; i++ {
		configs[i] = Config{
			ID:                  i,
			Host:                host,
			Port:                ports[i],
			CoordinationConnect: coordinationConnect,
			AutoCreateTopics:    false,
			StateDirs:           []string{filepath.Join(stateRoot, fmt.Sprintf("broker-%d", i))},
		}
	}
	return configs, nil
}

// ValidateConfigs checks the configs can be started together.
func ValidateConfigs(configs []Config) error {
	if len(configs) == 0 {
		return errors.WithStack(&clustererrors.ErrConfiguration{
			Name:    "brokers",
			Message: "must supply at least one broker config",
		})
	}
	ids := map[int]bool{}
	ports := map[int]bool{}
	for _, c := range configs {
		if ids[c.ID] {
			return errors.WithStack(&clustererrors.ErrConfiguration{
				Name:    PropertyBrokerID,
				Message: fmt.Sprintf("broker id %d is used more than once", c.ID),
			})
		}
		if ports[c.Port] {
			return errors.WithStack(&clustererrors.ErrConfiguration{
				Name:    PropertyPort,
				Message: fmt.Sprintf("port %d is assigned to more than one broker", c.Port),
			})
		}
		if len(c.StateDirs) == 0 {
			return errors.WithStack(&clustererrors.ErrConfiguration{
				Name:    PropertyLogDirs,
				Message: fmt.Sprintf("broker %d has no state directory", c.ID),
			})
		}
		ids[c.ID] = true
		ports[c.Port] = true
	}
	return nil
}

// BrokerList joins the brokers' addresses in the order given, e.g. "localhost:9092,localhost:9093".
func BrokerList(configs []Config) string {
	addresses := make([]string, len(configs))
	for i, c := range configs {
		addresses[i] = c.Address()
	}
	return strings.Join(addresses, ",")
}
