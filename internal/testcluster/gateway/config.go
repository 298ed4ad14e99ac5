package gateway

import (
	"fmt"
	"net"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/mitchellh/mapstructure"
	"github.com/pkg/errors"

	"github.com/G-Research/testcluster/pkg/clustererrors"
)

// Property names the gateway is started with.
const (
	PropertyPort                = "port"
	PropertyCoordinationConnect = "coordination.connect"
	PropertyBootstrapServers    = "bootstrap.servers"
)

// Properties is the flat property set handed to the gateway on start.
type Properties map[string]string

func NewProperties(port int, coordinationConnect string, bootstrapServers string) Properties {
	return Properties{
		PropertyPort:                strconv.Itoa(port),
		PropertyCoordinationConnect: coordinationConnect,
		PropertyBootstrapServers:    bootstrapServers,
	}
}

func (p Properties) Copy() Properties {
	c := make(Properties, len(p))
	for k, v := range p {
		c[k] = v
	}
	return c
}

// Config is the typed form of Properties.
type Config struct {
	Port                int    `mapstructure:"port" validate:"required,min=1,max=65535"`
	CoordinationConnect string `mapstructure:"coordination.connect" validate:"required,hostname_port"`
	BootstrapServers    string `mapstructure:"bootstrap.servers" validate:"required"`
}

// Brokers splits BootstrapServers into its "host:port" entries.
func (c Config) Brokers() []string {
	var brokers []string
	for _, b := range strings.Split(c.BootstrapServers, ",") {
		if b = strings.TrimSpace(b); b != "" {
			brokers = append(brokers, b)
		}
	}
	return brokers
}

// DecodeConfig converts and validates the properties.
func DecodeConfig(props Properties) (Config, error) {
	var cfg Config
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           &cfg,
		WeaklyTypedInput: true,
		ErrorUnused:      true,
	})
	if err != nil {
		return cfg, errors.WithStack(err)
	}
	if err := decoder.Decode(map[string]string(props)); err != nil {
		return cfg, errors.WithStack(&clustererrors.ErrConfiguration{Name: "gateway", Message: err.Error()})
	}

	if err := validator.New().Struct(cfg); err != nil {
		return cfg, errors.WithStack(&clustererrors.ErrConfiguration{Name: "gateway", Message: err.Error()})
	}
	for _, b := range cfg.Brokers() {
		if _, _, err := net.SplitHostPort(b); err != nil {
			return cfg, errors.WithStack(&clustererrors.ErrConfiguration{
				Name:    PropertyBootstrapServers,
				Message: fmt.Sprintf("%q is not a host:port pair", b),
			})
		}
	}
	return cfg, nil
}
