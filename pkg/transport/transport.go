// Package transport resolves logical transport names to live transports used by steps.
package transport

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
)

var (
	ErrTransportNotFound = errors.New("transport not found")
	ErrTransportExists   = errors.New("transport already registered")
)

// Message is a rendered step message ready to be sent.
type Message struct {
	Body       string
	Headers    map[string]string
	Properties map[string]any
}

// Reply is what a transport got back for a Message. Fire-and-forget transports return
// an empty body.
type Reply struct {
	Body       string
	StatusCode int
	Headers    map[string]string
}

type Transport interface {
	Name() string
	Send(ctx context.Context, msg Message) (*Reply, error)
	Close() error
}

// Registry holds transports by name. It is built once at startup and read concurrently.
type Registry struct {
	mu         sync.RWMutex
	transports map[string]Transport
}

func NewRegistry() *Registry {
	return &Registry{
		transports: make(map[string]Transport),
	}
}

func (r *Registry) Register(t Transport) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.transports[t.Name()]; exists {
		return fmt.Errorf("%w: %s", ErrTransportExists, t.Name())
	}

	r.transports[t.Name()] = t

	return nil
}

func (r *Registry) Get(name string) (Transport, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	t, ok := r.transports[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrTransportNotFound, name)
	}

	return t, nil
}

func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.transports))
	for name := range r.transports {
		names = append(names, name)
	}

	slices.Sort(names)

	return names
}

// Close closes every transport and returns the joined errors.
func (r *Registry) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	var errs []error

	for name, t := range r.transports {
		err := t.Close()
		if err != nil {
			errs = append(errs, fmt.Errorf("failed to close transport %s: %w", name, err))
		}
	}

	return errors.Join(errs...)
}
