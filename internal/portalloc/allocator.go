package portalloc

import (
	"errors"
	"fmt"
	"net"
	"sync"
)

// loopbackAddr is where ephemeral ports are taken from.
const loopbackAddr = "127.0.0.1:0"

// maxBinds bounds how many ephemeral binds a single Reserve call may make
// before giving up. Ports that are already reserved are skipped while their
// bound listener stays open, so the kernel never hands them out twice.
const maxBinds = 64

var (
	// ErrPortReserved is returned when a port is already held by another owner.
	ErrPortReserved = errors.New("portalloc: port already reserved")

	// ErrInvalidPort is returned for ports outside 1-65535.
	ErrInvalidPort = errors.New("portalloc: invalid port")

	// ErrExhausted is returned when no free port could be found.
	ErrExhausted = errors.New("portalloc: no free ports available")
)

// Allocator hands out loopback TCP ports and remembers who holds them.
//
// Thread Safety:
//   - All methods are safe for concurrent use from multiple goroutines.
type Allocator struct {
	mu       sync.Mutex
	reserved map[int]string // port -> owner

	listen func(network, address string) (net.Listener, error)
}

// New creates an empty allocator.
func New() *Allocator {
	return &Allocator{
		reserved: make(map[int]string),
		listen:   net.Listen,
	}
}

var defaultAllocator = New()

// Default returns the process-wide allocator shared by all launches.
func Default() *Allocator {
	return defaultAllocator
}

// Reserve picks count distinct free ports and records them for owner.
//
// All temporary listeners are held open until every port has been chosen, so the
// returned ports never collide with each other, and ports already reserved by
// this allocator are never returned again until released.
//
// Parameters:
//   - owner: Identifier of the holder (used by Release)
//   - count: Number of ports to reserve
//
// Returns:
//   - []int: The reserved ports
//   - error: If binding fails or no free port could be found
func (a *Allocator) Reserve(owner string, count int) ([]int, error) {
	if count <= 0 {
		return []int{}, nil
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	var held []net.Listener
	defer func() {
		for _, ln := range held {
			ln.Close() //nolint:errcheck // temporary listener
		}
	}()

	ports := make([]int, 0, count)
	for binds := 0; len(ports) < count; binds++ {
		if binds >= maxBinds {
			return nil, ErrExhausted
		}

		ln, err := a.listen("tcp", loopbackAddr)
		if err != nil {
			return nil, fmt.Errorf("portalloc: binding ephemeral port: %w", err)
		}
		held = append(held, ln)

		addr, ok := ln.Addr().(*net.TCPAddr)
		if !ok {
			return nil, fmt.Errorf("portalloc: unexpected listener address %s", ln.Addr())
		}
		if _, taken := a.reserved[addr.Port]; taken {
			continue
		}
		ports = append(ports, addr.Port)
	}

	for _, port := range ports {
		a.reserved[port] = owner
	}
	return ports, nil
}

// Claim records an explicitly chosen port for owner.
// Claiming a port the same owner already holds is a no-op.
func (a *Allocator) Claim(owner string, port int) error {
	if port < 1 || port > 65535 {
		return fmt.Errorf("%w: %d", ErrInvalidPort, port)
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	if holder, taken := a.reserved[port]; taken && holder != owner {
		return fmt.Errorf("%w: %d is held by %s", ErrPortReserved, port, holder)
	}
	a.reserved[port] = owner
	return nil
}

// Release returns ports to the free set.
// Returns an error if any port is held by a different owner; ports that are
// not reserved at all are ignored.
func (a *Allocator) Release(owner string, ports ...int) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	var errs []error
	for _, port := range ports {
		holder, ok := a.reserved[port]
		if !ok {
			continue
		}
		if holder != owner {
			errs = append(errs, fmt.Errorf("port %d is reserved by %s, not %s", port, holder, owner))
			continue
		}
		delete(a.reserved, port)
	}
	return errors.Join(errs...)
}
