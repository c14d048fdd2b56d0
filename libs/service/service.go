package service

import (
	"context"
	"errors"
	"sync"

	"github.com/tendermint/sharedmempool/libs/log"
)

var (
	// ErrAlreadyStarted is returned when somebody tries to start an already
	// running service.
	ErrAlreadyStarted = errors.New("already started")
	// ErrAlreadyStopped is returned when somebody tries to start a service
	// that has already been stopped. Services are not restartable.
	ErrAlreadyStopped = errors.New("already stopped")
)

// Service defines a service that can be started and stopped.
type Service interface {
	// Start the service. The service runs until the context is
	// canceled or Stop is called, whichever comes first. If the service
	// is already running, Start must report an error.
	Start(context.Context) error

	// Stop the service and wait for OnStop to return.
	Stop()

	// IsRunning reports whether the service has been started and has
	// not yet stopped.
	IsRunning() bool

	// String representation of the service
	String() string

	// Wait blocks until the service is stopped.
	Wait()
}

// Implementation describes the implementation that the BaseService wraps.
type Implementation interface {
	// OnStart is called once by Start. The context passed to OnStart is
	// canceled when the service stops, so goroutines started from it
	// terminate with the service.
	OnStart(context.Context) error

	// OnStop is called once, when the service's context is canceled or
	// Stop is called.
	OnStop()
}

// BaseService carries the lifecycle bookkeeping shared by every service
// in this module. Embed it and pass the outer value as impl:
//
//	type Reaper struct {
//		service.BaseService
//		// private fields
//	}
//
//	func NewReaper(logger log.Logger) *Reaper {
//		r := &Reaper{}
//		r.BaseService = *service.NewBaseService(logger, "Reaper", r)
//		return r
//	}
//
// OnStart and OnStop are each called at most once.
type BaseService struct {
	logger log.Logger
	name   string

	mtx     sync.Mutex
	quit    <-chan struct{}
	cancel  context.CancelFunc
	stopped bool

	impl Implementation
}

// NewBaseService creates a new BaseService.
func NewBaseService(logger log.Logger, name string, impl Implementation) *BaseService {
	if logger == nil {
		logger = log.NewNopLogger()
	}
	return &BaseService{
		logger: logger,
		name:   name,
		impl:   impl,
	}
}

// Start starts the Service and calls its OnStart method. An error is
// returned if the service is already running or has been stopped.
func (bs *BaseService) Start(ctx context.Context) error {
	bs.mtx.Lock()
	defer bs.mtx.Unlock()

	if bs.stopped {
		return ErrAlreadyStopped
	}
	if bs.quit != nil {
		return ErrAlreadyStarted
	}

	bs.logger.Info("starting service", "service", bs.name)

	srvCtx, cancel := context.WithCancel(context.Background())
	if err := bs.impl.OnStart(srvCtx); err != nil {
		cancel()
		return err
	}

	bs.cancel = cancel
	bs.quit = srvCtx.Done()

	go func(ctx context.Context) {
		select {
		case <-srvCtx.Done():
			// Stop was called explicitly.
		case <-ctx.Done():
			bs.Stop()
		}
	}(ctx)

	return nil
}

// Stop manually terminates the service by calling OnStop. It is safe to
// call Stop more than once and on a service that was never started.
func (bs *BaseService) Stop() {
	bs.mtx.Lock()
	defer bs.mtx.Unlock()

	if bs.stopped || bs.quit == nil {
		bs.stopped = true
		return
	}

	bs.logger.Info("stopping service", "service", bs.name)
	bs.impl.OnStop()
	bs.cancel()
	bs.stopped = true
}

// IsRunning reports whether the service is started and not stopped.
func (bs *BaseService) IsRunning() bool {
	bs.mtx.Lock()
	defer bs.mtx.Unlock()

	return bs.quit != nil && !bs.stopped
}

func (bs *BaseService) getWait() <-chan struct{} {
	bs.mtx.Lock()
	defer bs.mtx.Unlock()

	if bs.quit == nil {
		out := make(chan struct{})
		close(out)
		return out
	}

	return bs.quit
}

// Wait blocks until the service is stopped.
func (bs *BaseService) Wait() { <-bs.getWait() }

// String implements Service by returning a string representation of the service.
func (bs *BaseService) String() string { return bs.name }
