package application

import (
	"context"
	"sync"
	"time"

	"github.com/ArkLabsHQ/lightning-mcp/internal/core/domain"
	"github.com/ArkLabsHQ/lightning-mcp/internal/core/ports"
	log "github.com/sirupsen/logrus"
)

// BackendSelector lazily builds the one backend client of the process from
// the configured implementation. A failed construction is not cached, so a
// later call retries it.
type BackendSelector struct {
	opts      domain.LnConnectionOpts
	factories map[domain.Implementation]ports.LnServiceFactory
	timeout   time.Duration

	mu      sync.RWMutex
	backend ports.LnService
}

func NewBackendSelector(
	opts domain.LnConnectionOpts,
	factories map[domain.Implementation]ports.LnServiceFactory,
	connectionTimeout time.Duration,
) *BackendSelector {
	return &BackendSelector{
		opts:      opts,
		factories: factories,
		timeout:   connectionTimeout,
	}
}

func (s *BackendSelector) Implementation() domain.Implementation {
	return s.opts.Implementation
}

func (s *BackendSelector) Get(ctx context.Context) (ports.LnService, error) {
	s.mu.RLock()
	backend := s.backend
	s.mu.RUnlock()
	if backend != nil {
		return backend, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.backend != nil {
		return s.backend, nil
	}

	impl := s.opts.Implementation
	factory, ok := s.factories[impl]
	if !ok {
		return nil, domain.NewError(
			domain.BackendInitializationError, "unsupported implementation %q", impl,
		)
	}

	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	backend, err := factory(ctx, s.opts)
	if err != nil {
		log.WithError(err).Warnf("failed to initialize %s backend", impl)
		return nil, domain.WrapError(
			domain.BackendInitializationError, err, "failed to initialize %s backend", impl,
		)
	}

	log.Infof("%s backend initialized", impl)
	s.backend = backend
	return backend, nil
}

// Close tears down the cached backend, if any.
func (s *BackendSelector) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.backend == nil {
		return nil
	}
	err := s.backend.Close()
	s.backend = nil
	return err
}
