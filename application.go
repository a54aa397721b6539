package dispatch

// CoreApp is the core runtime container handed to transports and modules:
// the event bus, the service registry, and the executor. It carries no IO
// or framework dependencies of its own.
type CoreApp struct {
	bus      *EventBus
	registry *ServiceRegistry
	executor *ServiceExecutor
	logger   Logger
}

// CoreOption configures the core built by NewCoreApp.
type CoreOption func(*coreOptions)

type coreOptions struct {
	logger        Logger
	chain         *MiddlewareChain
	deferredStore DeferredStore
	executorOpts  []ExecutorOption
}

// WithLogger sets the logger used by every core component.
func WithLogger(logger Logger) CoreOption {
	return func(o *coreOptions) { o.logger = logger }
}

// WithChain installs a middleware chain on the executor.
func WithChain(chain *MiddlewareChain) CoreOption {
	return func(o *coreOptions) { o.chain = chain }
}

// WithDeferred installs a deferred store on the executor.
func WithDeferred(store DeferredStore) CoreOption {
	return func(o *coreOptions) { o.deferredStore = store }
}

// WithExecutorOptions passes additional options through to the executor.
func WithExecutorOptions(opts ...ExecutorOption) CoreOption {
	return func(o *coreOptions) { o.executorOpts = append(o.executorOpts, opts...) }
}

// NewCoreApp builds the core components. Providers and modules are
// attached from outside via runtime configuration.
func NewCoreApp(opts ...CoreOption) *CoreApp {
	options := coreOptions{logger: NoopLogger{}}
	for _, opt := range opts {
		opt(&options)
	}

	bus := NewEventBus(options.logger)
	registry := NewServiceRegistry(options.logger)

	execOpts := []ExecutorOption{WithExecutorLogger(options.logger)}
	if options.chain != nil {
		execOpts = append(execOpts, WithMiddlewareChain(options.chain))
	}
	if options.deferredStore != nil {
		execOpts = append(execOpts, WithDeferredStore(options.deferredStore))
	}
	execOpts = append(execOpts, options.executorOpts...)

	return &CoreApp{
		bus:      bus,
		registry: registry,
		executor: NewServiceExecutor(bus, registry, execOpts...),
		logger:   options.logger,
	}
}

// Bus returns the in-process event bus.
func (a *CoreApp) Bus() *EventBus { return a.bus }

// Registry returns the service registry.
func (a *CoreApp) Registry() *ServiceRegistry { return a.registry }

// Executor returns the service executor.
func (a *CoreApp) Executor() *ServiceExecutor { return a.executor }

// Logger returns the core logger.
func (a *CoreApp) Logger() Logger { return a.logger }
