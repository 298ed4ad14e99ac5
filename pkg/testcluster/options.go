package testcluster

import (
	"context"

	log "github.com/sirupsen/logrus"
)

// CoordinationLauncher starts and stops the coordination service.
type CoordinationLauncher interface {
	Start(ctx context.Context, port int) (CoordinationHandle, error)
	CloseSession(ctx context.Context, h CoordinationHandle) error
	Stop(ctx context.Context, h CoordinationHandle) error
}

// BrokerLauncher starts and stops the brokers.
type BrokerLauncher interface {
	StartAll(ctx context.Context, configs []BrokerConfig) ([]BrokerHandle, error)
	StopAll(ctx context.Context, handles []BrokerHandle) error
	RemoveStateDirs(handles []BrokerHandle) error
	CreateTopic(ctx context.Context, h BrokerHandle, topic string) error
}

// GatewayLauncher starts and stops the gateway.
type GatewayLauncher interface {
	Start(ctx context.Context, props GatewayProperties) (GatewayHandle, error)
	Stop(ctx context.Context, h GatewayHandle) error
}

// PortReserver reserves the ports of one harness.
type PortReserver interface {
	Reserve(count int) (*PortPool, error)
}

type Option func(h *Harness)

func WithCoordinationLauncher(l CoordinationLauncher) Option {
	return func(h *Harness) {
		h.coordination = l
	}
}

func WithBrokerLauncher(l BrokerLauncher) Option {
	return func(h *Harness) {
		h.brokers = l
	}
}

func WithGatewayLauncher(l GatewayLauncher) Option {
	return func(h *Harness) {
		h.gateway = l
	}
}

func WithPortReserver(r PortReserver) Option {
	return func(h *Harness) {
		h.reserver = r
	}
}

// WithLogger sets the logger the harness and its default launchers log through.
func WithLogger(logger *log.Entry) Option {
	return func(h *Harness) {
		h.log = logger
	}
}
