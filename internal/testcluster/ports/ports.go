// Package ports reserves free TCP ports for the components of a test cluster.
//
// Every port is reserved by holding a listener open until all of the requested ports have been
// bound, so the returned ports are guaranteed to be distinct from each other. Ports handed out by
// Reserve are remembered for the lifetime of the process and are never handed out again, so two
// harnesses started one after the other (or in parallel) never share a port.
package ports

import (
	"fmt"
	"net"
	"sync"

	"github.com/hashicorp/go-multierror"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/G-Research/testcluster/pkg/clustererrors"
)

// maxAttemptsPerPort bounds how many fresh listeners we open per requested port before giving up.
// The OS may hand back a port issued earlier in this process; those are skipped.
const maxAttemptsPerPort = 16

var (
	issuedMu sync.Mutex
	issued   = map[int]struct{}{}
)

// Allocator reserves ports by listening on BindAddress with port 0.
type Allocator struct {
	BindAddress string
	listen      func(network, address string) (net.Listener, error)
}

func NewAllocator(bindAddress string) *Allocator {
	return &Allocator{BindAddress: bindAddress, listen: net.Listen}
}

// Reserve returns count distinct, currently unbound ports as a Pool.
func Reserve(count int) (*Pool, error) {
	return NewAllocator("127.0.0.1").Reserve(count)
}

// Reserve returns count distinct, currently unbound ports as a Pool.
// It fails with ErrResourceExhausted if the OS can not supply that many.
func (a *Allocator) Reserve(count int) (*Pool, error) {
	if count <= 0 {
		return nil, errors.WithStack(&clustererrors.ErrConfiguration{
			Name:    "ports",
			Message: fmt.Sprintf("port count must be positive, got %d", count),
		})
	}

	issuedMu.Lock()
	defer issuedMu.Unlock()

	listeners := make([]net.Listener, 0, count)
	defer func() {
		if err := closeAll(listeners); err != nil {
			log.WithError(err).Warn("Failed to release port reservation listeners")
		}
	}()

	reserved := make([]int, 0, count)
	attempts := 0
	for len(reserved) < count && attempts < count*maxAttemptsPerPort {
		attempts++
		l, err := a.listen("tcp", net.JoinHostPort(a.BindAddress, "0"))
		if err != nil {
			return nil, errors.WithStack(&clustererrors.ErrResourceExhausted{
				Resource:  "port",
				Requested: count,
				Available: len(reserved),
				Message:   err.Error(),
			})
		}
		listeners = append(listeners, l)

		port := l.Addr().(*net.TCPAddr).Port
		if _, seen := issued[port]; seen {
			continue
		}
		reserved = append(reserved, port)
	}

	if len(reserved) < count {
		return nil, errors.WithStack(&clustererrors.ErrResourceExhausted{
			Resource:  "port",
			Requested: count,
			Available: len(reserved),
			Message:   "the operating system kept returning ports that were already issued",
		})
	}

	for _, port := range reserved {
		issued[port] = struct{}{}
	}
	return NewPool(reserved), nil
}

func closeAll(listeners []net.Listener) error {
	var result *multierror.Error
	for _, l := range listeners {
		if err := l.Close(); err != nil {
			result = multierror.Append(result, err)
		}
	}
	return result.ErrorOrNil()
}
