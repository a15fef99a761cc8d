package matchmaking

import (
	"errors"
	"fmt"
	"sync"
)

// ErrNoServer is returned when a region has no game-server endpoint.
var ErrNoServer = errors.New("no game server available")

// ServerAllocator picks a game-server endpoint for a new match.
type ServerAllocator interface {
	Allocate(region string) (string, error)
}

// StaticAllocator hands out a fixed endpoint list per region, round-robin.
type StaticAllocator struct {
	mu      sync.Mutex
	servers map[string][]string
	next    map[string]int
}

// NewStaticAllocator creates an allocator over servers (region → endpoints).
func NewStaticAllocator(servers map[string][]string) *StaticAllocator {
	copied := make(map[string][]string, len(servers))
	for region, eps := range servers {
		copied[region] = append([]string(nil), eps...)
	}
	return &StaticAllocator{servers: copied, next: make(map[string]int)}
}

// Allocate returns the next endpoint for region.
func (a *StaticAllocator) Allocate(region string) (string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	eps := a.servers[region]
	if len(eps) == 0 {
		return "", fmt.Errorf("region %q: %w", region, ErrNoServer)
	}
	i := a.next[region] % len(eps)
	a.next[region] = i + 1
	return eps[i], nil
}
