package configuration

import (
	"fmt"
	"time"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	commonconfig "github.com/G-Research/testcluster/internal/common/config"
	"github.com/G-Research/testcluster/pkg/clustererrors"
)

const DefaultNumBrokers = 3

type HarnessConfig struct {
	// Zero is accepted here and rejected when the cluster is set up, before anything starts.
	NumBrokers int `validate:"min=0"`
	// Ports to reserve. Zero reserves exactly one per broker plus two; extra ports stay unused.
	NumPorts    int    `validate:"min=0"`
	Host        string `validate:"required,hostname"`
	BindAddress string `validate:"required,ip"`
	// Directory the per-run state directories are created in. Empty means the system temp dir.
	StateRoot        string
	StartTimeout     time.Duration `validate:"gt=0"`
	StopTimeout      time.Duration `validate:"gt=0"`
	AutoCreateTopics bool
	LogLevel         log.Level
}

func Default() HarnessConfig {
	return HarnessConfig{
		NumBrokers:   DefaultNumBrokers,
		Host:         "localhost",
		BindAddress:  "127.0.0.1",
		StartTimeout: 30 * time.Second,
		StopTimeout:  30 * time.Second,
		LogLevel:     log.InfoLevel,
	}
}

// PortCount is the number of ports the harness reserves.
func (c HarnessConfig) PortCount() int {
	if c.NumPorts == 0 {
		return c.NumBrokers + 2
	}
	return c.NumPorts
}

// Validate reports the first problem with the config as an ErrConfiguration. Field level problems
// are also logged one by one.
func (c HarnessConfig) Validate() error {
	if err := commonconfig.Validate(c); err != nil {
		commonconfig.LogValidationErrors(err)
		return errors.WithStack(&clustererrors.ErrConfiguration{
			Name:    "harness",
			Message: commonconfig.Describe(err),
		})
	}
	if c.NumPorts != 0 && c.NumPorts < c.NumBrokers+2 {
		return errors.WithStack(&clustererrors.ErrConfiguration{
			Name:    "NumPorts",
			Message: fmt.Sprintf("%d brokers need at least %d ports, got %d", c.NumBrokers, c.NumBrokers+2, c.NumPorts),
		})
	}
	return nil
}
