package testcluster

import (
	"github.com/G-Research/testcluster/internal/testcluster/broker"
	"github.com/G-Research/testcluster/internal/testcluster/coordination"
	"github.com/G-Research/testcluster/internal/testcluster/gateway"
	"github.com/G-Research/testcluster/internal/testcluster/ports"
	"github.com/G-Research/testcluster/internal/testcluster/registry"
	"github.com/G-Research/testcluster/pkg/testcluster/configuration"
)

// Types a test outside this module needs to configure a harness, inspect it or replace its
// launchers.
type (
	HarnessConfig = configuration.HarnessConfig

	ComponentID   = registry.ID
	ComponentKind = registry.Kind
	Component     = registry.Entry

	CoordinationHandle = coordination.Handle
	BrokerConfig       = broker.Config
	BrokerHandle       = broker.Handle
	GatewayProperties  = gateway.Properties
	GatewayHandle      = gateway.Handle
	PortPool           = ports.Pool
)

const (
	KindCoordination = registry.KindCoordination
	KindBroker       = registry.KindBroker
	KindGateway      = registry.KindGateway
)

const (
	PropertyPort                = gateway.PropertyPort
	PropertyCoordinationConnect = gateway.PropertyCoordinationConnect
	PropertyBootstrapServers    = gateway.PropertyBootstrapServers
)

// DefaultConfig returns a three broker configuration listening on the loopback interface.
func DefaultConfig() HarnessConfig {
	return configuration.Default()
}

// NewPortPool hands out already reserved ports in order. Custom PortReservers return one.
func NewPortPool(reserved []int) *PortPool {
	return ports.NewPool(reserved)
}
