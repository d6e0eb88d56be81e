package orchestrator

import (
	"fmt"
	"sync"
	"time"

	"quote-pipeline/src/interfaces"
	"quote-pipeline/src/logger"
	"quote-pipeline/src/models"
)

// -----------------------------------------------------------------------------
// Orchestrator owns the lifecycle of every pipeline component: broker, store,
// DLQ, subscribers and publishers. It starts subscribers before publishers so
// no early event is published into the void, stops them in the reverse order
// with a drain grace in between, and restarts crashed or silent components
// until their restart budget runs out. One failed component never takes down
// its siblings.
// -----------------------------------------------------------------------------

// managedComponent tracks the restart budget of one component.
type managedComponent struct {
	component interfaces.IComponent
	restarts  int
	failed    bool
}

// -----------------------------------------------------------------------------

// DLQRunner is the lifecycle surface the orchestrator needs from the DLQ.
type DLQRunner interface {
	Initialize() error
	StartRetryLoop()
	Stop() error
}

// -----------------------------------------------------------------------------

type Orchestrator struct {
	Config *models.MConfig
	Broker interfaces.IBroker
	Store  interfaces.ICandleStore
	DLQ    DLQRunner
	Logger *logger.Logger

	Health *HealthServer // nil when grpc health is disabled

	mu          sync.Mutex
	state       models.ComponentState
	publishers  []*managedComponent
	subscribers []*managedComponent

	healthStop chan struct{}
	healthWg   sync.WaitGroup
}

// -----------------------------------------------------------------------------

func NewOrchestrator(
	cfg *models.MConfig,
	brk interfaces.IBroker,
	store interfaces.ICandleStore,
	dlq DLQRunner,
	log *logger.Logger,
) *Orchestrator {
	o := &Orchestrator{
		Config: cfg,
		Broker: brk,
		Store:  store,
		DLQ:    dlq,
		Logger: log,
		state:  models.StateCreated,
	}
	if cfg.Health.GrpcEnabled {
		o.Health = NewHealthServer(cfg.Health, log)
	}
	return o
}

// -----------------------------------------------------------------------------

// AddPublisher registers a publisher component. Must be called before Start.
func (o *Orchestrator) AddPublisher(c interfaces.IComponent) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.publishers = append(o.publishers, &managedComponent{component: c})
}

// AddSubscriber registers a subscriber component. Must be called before Start.
func (o *Orchestrator) AddSubscriber(c interfaces.IComponent) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.subscribers = append(o.subscribers, &managedComponent{component: c})
}

// -----------------------------------------------------------------------------

func (o *Orchestrator) State() models.ComponentState {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state
}

func (o *Orchestrator) setState(s models.ComponentState) {
	o.mu.Lock()
	o.state = s
	o.mu.Unlock()
}

// -----------------------------------------------------------------------------
// Startup
// -----------------------------------------------------------------------------

func (o *Orchestrator) Start() error {
	o.mu.Lock()
	if o.state == models.StateRunning || o.state == models.StateStarting {
		o.mu.Unlock()
		return fmt.Errorf("orchestrator already running")
	}
	o.state = models.StateStarting
	o.mu.Unlock()

	o.Logger.Info("Orchestrator starting (%d subscribers, %d publishers)",
		len(o.subscribers), len(o.publishers))

	// 1. Transport first: everything else publishes through it
	if err := o.Broker.Connect(); err != nil {
		o.setState(models.StateCrashed)
		return fmt.Errorf("broker connect failed: %w", err)
	}

	// 2. Durable stores
	if o.Store != nil {
		if err := o.Store.Initialize(); err != nil {
			o.setState(models.StateCrashed)
			return fmt.Errorf("candle store init failed: %w", err)
		}
	}
	if o.DLQ != nil {
		if err := o.DLQ.Initialize(); err != nil {
			o.setState(models.StateCrashed)
			return fmt.Errorf("dlq init failed: %w", err)
		}
		o.DLQ.StartRetryLoop()
	}

	// 3. Subscribers before publishers: consumers must be listening before
	//    the first event hits the broker
	for _, mc := range o.subscribers {
		if err := mc.component.Start(); err != nil {
			o.Logger.Error("Subscriber %s failed to start: %v", mc.component.Name(), err)
		}
	}
	for _, mc := range o.publishers {
		if err := mc.component.Start(); err != nil {
			o.Logger.Error("Publisher %s failed to start: %v", mc.component.Name(), err)
		}
	}

	// 4. Health surfaces
	if o.Health != nil {
		if err := o.Health.Start(); err != nil {
			o.Logger.Error("gRPC health server failed to start: %v", err)
		}
	}

	o.mu.Lock()
	o.healthStop = make(chan struct{})
	o.mu.Unlock()

	o.healthWg.Add(1)
	go o.healthLoop()

	o.setState(models.StateRunning)
	o.Logger.Info("Orchestrator running")
	return nil
}

// -----------------------------------------------------------------------------
// Shutdown
// -----------------------------------------------------------------------------

// Stop tears the pipeline down in dependency order: publishers first, then a
// drain grace for in-flight events, then subscribers, then infrastructure.
func (o *Orchestrator) Stop() error {
	o.mu.Lock()
	if o.state != models.StateRunning {
		o.mu.Unlock()
		return nil
	}
	o.state = models.StateStopping
	healthStop := o.healthStop
	o.mu.Unlock()

	o.Logger.Info("Orchestrator stopping")

	if healthStop != nil {
		close(healthStop)
		o.healthWg.Wait()
	}

	// 1. Stop producing
	for _, mc := range o.publishers {
		if err := mc.component.Stop(); err != nil {
			o.Logger.Error("Publisher %s stop error: %v", mc.component.Name(), err)
		}
	}

	// 2. Let in-flight events drain
	grace := time.Duration(o.Config.Health.DrainGraceSeconds) * time.Second
	if grace > 0 {
		o.Logger.Info("Draining for %v", grace)
		time.Sleep(grace)
	}

	// 3. Stop consuming
	for _, mc := range o.subscribers {
		if err := mc.component.Stop(); err != nil {
			o.Logger.Error("Subscriber %s stop error: %v", mc.component.Name(), err)
		}
	}

	// 4. Infrastructure
	if o.DLQ != nil {
		if err := o.DLQ.Stop(); err != nil {
			o.Logger.Error("DLQ stop error: %v", err)
		}
	}
	if err := o.Broker.Disconnect(); err != nil {
		o.Logger.Error("Broker disconnect error: %v", err)
	}
	if o.Store != nil {
		if err := o.Store.Close(); err != nil {
			o.Logger.Error("Store close error: %v", err)
		}
	}
	if o.Health != nil {
		o.Health.Stop()
	}

	o.setState(models.StateStopped)
	o.Logger.Info("Orchestrator stopped")
	return nil
}

// -----------------------------------------------------------------------------
// Health Loop
// -----------------------------------------------------------------------------

func (o *Orchestrator) healthLoop() {
	defer o.healthWg.Done()

	interval := time.Duration(o.Config.Health.CheckIntervalSeconds) * time.Second
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	o.mu.Lock()
	stop := o.healthStop
	o.mu.Unlock()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			o.checkComponents()
		}
	}
}

// -----------------------------------------------------------------------------

func (o *Orchestrator) checkComponents() {
	timeout := time.Duration(o.Config.Health.HeartbeatTimeoutSeconds) * time.Second

	o.mu.Lock()
	all := make([]*managedComponent, 0, len(o.publishers)+len(o.subscribers))
	all = append(all, o.publishers...)
	all = append(all, o.subscribers...)
	o.mu.Unlock()

	for _, mc := range all {
		o.checkOne(mc, timeout)
	}
}

// -----------------------------------------------------------------------------

// checkOne restarts a crashed or silent component, or marks it FAILED once
// its restart budget is spent. Siblings are never touched.
func (o *Orchestrator) checkOne(mc *managedComponent, timeout time.Duration) {
	name := mc.component.Name()

	// restarts/failed are shared with ComponentStates, so reads and writes
	// stay under o.mu; the component Stop/Start calls below do not
	o.mu.Lock()
	failed := mc.failed
	o.mu.Unlock()

	if failed {
		o.reportHealth(name, models.StateFailed)
		return
	}

	state := mc.component.State()
	stale := time.Since(mc.component.LastHeartbeat()) > timeout

	healthy := state == models.StateRunning && !stale
	if healthy {
		o.reportHealth(name, state)
		return
	}
	if state == models.StateStopped || state == models.StateStopping || state == models.StateCreated {
		// Not ours to restart: either never started or deliberately stopped
		o.reportHealth(name, state)
		return
	}

	o.mu.Lock()
	if mc.restarts >= o.Config.Health.MaxRestartAttempts {
		mc.failed = true
		restarts := mc.restarts
		o.mu.Unlock()
		o.Logger.Error("Component %s exhausted %d restart attempts, giving up", name, restarts)
		o.reportHealth(name, models.StateFailed)
		return
	}
	mc.restarts++
	restarts := mc.restarts
	o.mu.Unlock()

	o.Logger.Warning("Component %s unhealthy (state=%s stale=%v), restart attempt %d/%d",
		name, state, stale, restarts, o.Config.Health.MaxRestartAttempts)

	if err := mc.component.Stop(); err != nil {
		o.Logger.Error("Component %s stop-before-restart error: %v", name, err)
	}
	if err := mc.component.Start(); err != nil {
		o.Logger.Error("Component %s restart failed: %v", name, err)
		o.reportHealth(name, models.StateCrashed)
		return
	}

	o.reportHealth(name, models.StateRunning)
}

// -----------------------------------------------------------------------------

func (o *Orchestrator) reportHealth(name string, state models.ComponentState) {
	if o.Health != nil {
		o.Health.SetComponentState(name, state)
	}
}

// -----------------------------------------------------------------------------

// ComponentStates returns a snapshot of every managed component's state.
func (o *Orchestrator) ComponentStates() map[string]models.ComponentState {
	o.mu.Lock()
	defer o.mu.Unlock()

	out := make(map[string]models.ComponentState)
	for _, mc := range append(append([]*managedComponent{}, o.publishers...), o.subscribers...) {
		if mc.failed {
			out[mc.component.Name()] = models.StateFailed
		} else {
			out[mc.component.Name()] = mc.component.State()
		}
	}
	return out
}
