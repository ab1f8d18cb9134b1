package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"

	"github.com/roach88/arbor/internal/activity"
	"github.com/roach88/arbor/internal/logging"
	"github.com/roach88/arbor/internal/snapshot"
)

// DefaultMaxSteps bounds the number of items one executor dispatches.
const DefaultMaxSteps = 10000

// State is the lifecycle state of a workflow instance.
type State int

const (
	StateCreated State = iota
	StateRunning
	StateSuspended
	StateCompleted
	StateTerminated
)

func (s State) String() string {
	switch s {
	case StateCreated:
		return "created"
	case StateRunning:
		return "running"
	case StateSuspended:
		return "suspended"
	case StateCompleted:
		return "completed"
	case StateTerminated:
		return "terminated"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Executor hosts one workflow instance and implements Runtime.
//
// CRITICAL: Step, Run and Serve must be called from one goroutine. The
// control methods (Cancel, Signal, Compensate) only enqueue work and are
// safe from any goroutine; the work itself runs in the draining goroutine.
type Executor struct {
	def        *activity.Node
	root       *activity.Node
	instanceID string

	logger   *slog.Logger
	store    ContextStore
	trackers []Tracker
	guids    GUIDGenerator
	clock    Sequencer
	quota    stepQuota

	queue    *itemQueue
	pending  []Schedulable
	inOp     bool
	ids      idAllocator
	contexts map[int]*activity.Node

	// completed caches saved context snapshots by guid.
	completed map[string][]byte
	snapshot  []byte

	state  State
	result activity.Result
	err    error
	reason string
	ctx    context.Context
}

// Option configures an Executor.
type Option func(*Executor)

// WithLogger sets the logger. The default discards.
func WithLogger(l *slog.Logger) Option {
	return func(e *Executor) { e.logger = l }
}

// WithContextStore persists completed contexts in s in addition to the
// in-memory cache.
func WithContextStore(s ContextStore) Option {
	return func(e *Executor) { e.store = s }
}

// WithTracker adds a tracking sink. May be given more than once.
func WithTracker(t Tracker) Option {
	return func(e *Executor) { e.trackers = append(e.trackers, t) }
}

// WithGUIDGenerator sets the context guid source. The default is UUIDv7.
func WithGUIDGenerator(g GUIDGenerator) Option {
	return func(e *Executor) { e.guids = g }
}

// WithMaxSteps bounds dispatched items. Zero disables the bound.
func WithMaxSteps(n int) Option {
	return func(e *Executor) { e.quota.max = n }
}

// WithInstanceID sets the instance id. The default is the root context guid.
func WithInstanceID(id string) Option {
	return func(e *Executor) { e.instanceID = id }
}

// WithClock sets the logical clock stamping tracking records.
func WithClock(c Sequencer) Option {
	return func(e *Executor) { e.clock = c }
}

// New instantiates the sealed definition def as a new workflow instance.
func New(def *activity.Node, opts ...Option) (*Executor, error) {
	if def == nil {
		return nil, errors.New("engine: nil definition")
	}
	if def.Parent() != nil {
		return nil, fmt.Errorf("engine: definition root %q has a parent", def.Name())
	}

	e := &Executor{
		def:       def,
		logger:    logging.NewNop(),
		guids:     UUIDv7Generator{},
		clock:     NewClock(),
		quota:     stepQuota{max: DefaultMaxSteps},
		queue:     newItemQueue(),
		contexts:  make(map[int]*activity.Node),
		completed: make(map[string][]byte),
		ctx:       context.Background(),
	}
	for _, opt := range opts {
		opt(e)
	}

	root, err := snapshot.NewSession(activity.Attributes).Clone(def)
	if err != nil {
		return nil, fmt.Errorf("engine: instantiate %q: %w", def.Name(), err)
	}
	info := &ContextInfo{ID: e.ids.Allocate(), GUID: e.guids.Generate(), ParentID: -1}
	root.Attrs().Seed(contextInfoProperty, info)
	if e.instanceID == "" {
		e.instanceID = info.GUID
	}
	e.root = root
	e.contexts[info.ID] = root
	e.logger = e.logger.With("instance", e.instanceID)
	return e, nil
}

func (e *Executor) Root() *activity.Node { return e.root }
func (e *Executor) InstanceID() string   { return e.instanceID }
func (e *Executor) State() State         { return e.state }
func (e *Executor) Steps() int           { return e.quota.Current() }
func (e *Executor) Pending() int         { return e.queue.Len() }

// Result returns the result the root closed with. Uninitializing the
// root after its close does not change it.
func (e *Executor) Result() activity.Result { return e.result }

// Err returns the error the instance terminated with.
func (e *Executor) Err() error { return e.err }

// SuspendReason returns the reason given to the last suspension.
func (e *Executor) SuspendReason() string { return e.reason }

// Snapshot returns the encoded instance saved by the last durable root
// or persist-on-close checkpoint.
func (e *Executor) Snapshot() []byte { return e.snapshot }

// ContextIDs returns the registered context ids in ascending order.
func (e *Executor) ContextIDs() []int {
	ids := make([]int, 0, len(e.contexts))
	for id := range e.contexts {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}

// Find resolves name within the context registered under contextID.
func (e *Executor) Find(contextID int, name string) (*activity.Node, error) {
	return resolve(e, contextID, name)
}

// Start moves the root to Executing and queues its Execute item.
func (e *Executor) Start() error {
	if e.state != StateCreated {
		return fmt.Errorf("engine: start of %s instance", e.state)
	}
	e.state = StateRunning
	e.logger.Info("instance starting", "root", e.root.QualifiedName())
	_ = e.track("start", e.root, "")
	if err := setStatus(e, e.root, activity.StatusExecuting, false); err != nil {
		return err
	}
	e.queue.Enqueue(Item{ContextID: 0, Name: e.root.QualifiedName(), Kind: OpExecute})
	return nil
}

// Step dispatches one queued item. It reports false when there was
// nothing to run or the instance is not running.
func (e *Executor) Step(ctx context.Context) (bool, error) {
	if e.state != StateRunning {
		return false, nil
	}
	s, ok := e.queue.TryDequeue()
	if !ok {
		return false, nil
	}
	e.ctx = ctx
	return true, e.dispatch(s)
}

// Run drains the queue until it is empty or the instance stops running.
// Protocol errors stop the run and are returned.
func (e *Executor) Run(ctx context.Context) error {
	for e.state == StateRunning {
		if err := ctx.Err(); err != nil {
			return err
		}
		ran, err := e.Step(ctx)
		if err != nil {
			return err
		}
		if !ran {
			return nil
		}
	}
	return nil
}

// Serve runs until the instance completes or terminates, waiting for
// control items while the queue is empty. It returns ctx.Err() on
// cancellation.
func (e *Executor) Serve(ctx context.Context) error {
	for {
		if err := e.Run(ctx); err != nil {
			return err
		}
		switch e.state {
		case StateCompleted, StateTerminated:
			e.logger.Info("instance stopped", "state", e.state)
			return nil
		}
		select {
		case <-ctx.Done():
			e.logger.Info("instance stopping: context cancelled")
			return ctx.Err()
		case <-e.queue.Wait():
		}
	}
}

// Resume continues a suspended instance.
func (e *Executor) Resume() error {
	if e.state != StateSuspended {
		return fmt.Errorf("engine: resume of %s instance", e.state)
	}
	e.state = StateRunning
	e.reason = ""
	e.logger.Info("instance resumed")
	return nil
}

// Cancel asks an executing node to cancel.
func (e *Executor) Cancel(contextID int, name string) {
	e.post(controlItem{op: controlCancel, contextID: contextID, name: name})
}

// Signal finishes a node waiting on an external event: it closes, or
// faults with err when err is non-nil.
func (e *Executor) Signal(contextID int, name string, err error) {
	e.post(controlItem{op: controlSignal, contextID: contextID, name: name, err: err})
}

// Compensate asks a closed compensatable node to compensate.
func (e *Executor) Compensate(contextID int, name string) {
	e.post(controlItem{op: controlCompensate, contextID: contextID, name: name})
}

// post queues a control item. A terminated instance has closed its queue
// and ignores it.
func (e *Executor) post(c controlItem) {
	if !e.queue.Enqueue(c) {
		e.logger.Warn("instance is terminated, ignoring control item", "item", c)
	}
}

func (e *Executor) dispatch(s Schedulable) error {
	if err := e.quota.Check(); err != nil {
		return err
	}
	e.logger.Debug("dispatching", "item", s, "step", e.quota.Current())

	e.inOp = true
	err := s.Run(e)
	e.inOp = false
	pending := e.pending
	e.pending = nil

	if errors.Is(err, ErrStaleItem) {
		e.logger.Debug("skipping stale item", "item", s, "reason", err)
		return nil
	}
	if err != nil {
		e.logger.Error("item failed", "item", s, "error", err)
		return err
	}
	if e.state == StateTerminated {
		return nil
	}
	for _, p := range pending {
		e.queue.Enqueue(p)
	}
	return nil
}

// ScheduleItem implements Runtime.
func (e *Executor) ScheduleItem(item Schedulable, isAtomic, transacted, queueInTransaction bool) {
	if queueInTransaction && e.inOp {
		e.pending = append(e.pending, item)
		return
	}
	e.queue.Enqueue(item)
}

// ActivityStatusChanged implements Runtime. A committed close of the
// root completes the instance unless the root carries a fault, in which
// case the record is flagged "committed faulted" and termination follows.
func (e *Executor) ActivityStatusChanged(n *activity.Node, transacted, committed bool) {
	e.logger.Debug("status changed",
		"activity", n.QualifiedName(),
		"status", n.Status(),
		"result", n.Result(),
		"transacted", transacted,
		"committed", committed)
	flag := ""
	switch {
	case committed && currentException(n) != nil:
		flag = "committed faulted"
	case committed:
		flag = "committed"
	case transacted:
		flag = "transacted"
	}
	_ = e.track("status", n, flag)

	if n == e.root && n.Status() == activity.StatusClosed && !committed {
		e.result = n.Result()
	}
	if n == e.root && committed && n.Status() == activity.StatusClosed && e.state == StateRunning &&
		currentException(n) == nil {
		e.state = StateCompleted
		e.logger.Info("instance completed", "result", n.Result())
	}
}

// RaiseException implements Runtime. The fault goes to the nearest node
// on target's ancestor chain that can still take it: an executing node
// starts faulting, a node already unwinding records it. A fault with no
// such node terminates the instance.
func (e *Executor) RaiseException(err error, target *activity.Node, reason string) {
	last := target
	for n := target; n != nil; n = n.Parent() {
		last = n
		switch n.Status() {
		case activity.StatusExecuting:
			setCurrentException(n, err)
			if serr := setStatus(e, n, activity.StatusFaulting, false); serr != nil {
				e.TerminateInstance(serr)
				return
			}
			e.logger.Debug("fault raised", "activity", n.QualifiedName(), "error", err, "reason", reason)
			e.ScheduleItem(Item{ContextID: ContextIDOf(n), Name: n.QualifiedName(), Kind: OpHandleFault, Err: err}, false, false, false)
			return
		case activity.StatusCanceling, activity.StatusFaulting, activity.StatusCompensating:
			if currentException(n) == nil {
				setCurrentException(n, err)
			}
			return
		}
	}
	name := ""
	if last != nil {
		name = last.QualifiedName()
	}
	e.TerminateInstance(&FaultError{Activity: name, Err: err})
}

// TerminateInstance implements Runtime.
func (e *Executor) TerminateInstance(err error) {
	if e.state == StateTerminated {
		return
	}
	e.state = StateTerminated
	e.err = err
	e.logger.Warn("instance terminated", "error", err)
	_ = e.track("terminate", nil, fmt.Sprint(err))
	if dropped := e.queue.Drain(); len(dropped) > 0 {
		e.logger.Debug("dropped queued items", "count", len(dropped))
	}
	e.queue.Close()
}

// SuspendInstance implements Runtime.
func (e *Executor) SuspendInstance(reason string) {
	if e.state != StateRunning {
		return
	}
	e.state = StateSuspended
	e.reason = reason
	e.logger.Info("instance suspended", "reason", reason)
	_ = e.track("suspend", nil, reason)
}

// PersistInstanceState implements Runtime by encoding the whole instance.
func (e *Executor) PersistInstanceState(n *activity.Node) error {
	data, err := snapshot.NewSession(activity.Attributes).Encode(e.root)
	if err != nil {
		return fmt.Errorf("persist instance at %s: %w", n.QualifiedName(), err)
	}
	if is, ok := e.store.(InstanceStore); ok {
		if err := is.SaveInstance(e.ctx, e.instanceID, data); err != nil {
			return fmt.Errorf("persist instance at %s: %w", n.QualifiedName(), err)
		}
	}
	e.snapshot = data
	_ = e.track("persist", n, "")
	return nil
}

// GetContextActivityForID implements Runtime.
func (e *Executor) GetContextActivityForID(id int) *activity.Node {
	return e.contexts[id]
}

// RegisterContextActivity implements Runtime.
func (e *Executor) RegisterContextActivity(n *activity.Node) error {
	info := ContextInfoOf(n)
	if info == nil {
		return newProtocolError(ErrCodeInvalidContext, n, "not a context root")
	}
	if existing, ok := e.contexts[info.ID]; ok && existing != n {
		return newProtocolError(ErrCodeInvalidContext, n, "context id %d already registered to %s", info.ID, existing.QualifiedName())
	}
	e.contexts[info.ID] = n
	e.logger.Debug("context registered", "context", info.ID, "guid", info.GUID, "activity", n.QualifiedName())
	return nil
}

// UnregisterContextActivity implements Runtime.
func (e *Executor) UnregisterContextActivity(n *activity.Node) {
	info := ContextInfoOf(n)
	if info == nil {
		return
	}
	if e.contexts[info.ID] == n {
		delete(e.contexts, info.ID)
		e.logger.Debug("context unregistered", "context", info.ID, "activity", n.QualifiedName())
	}
}

func (e *Executor) NewContextID() int       { return e.ids.Allocate() }
func (e *Executor) ReleaseContextID(id int) { e.ids.Release(id) }
func (e *Executor) NewContextGUID() string  { return e.guids.Generate() }

// SaveContextActivity implements Runtime. The encoded subtree is cached
// by guid and written to the context store when one is configured.
func (e *Executor) SaveContextActivity(n *activity.Node) error {
	info := ContextInfoOf(n)
	if info == nil {
		return newProtocolError(ErrCodeInvalidContext, n, "not a context root")
	}
	data, err := snapshot.NewSession(activity.Attributes).Encode(n)
	if err != nil {
		return fmt.Errorf("save context %s: %w", info.GUID, err)
	}
	if e.store != nil {
		rec := ContextRecord{
			GUID:       info.GUID,
			InstanceID: e.instanceID,
			Activity:   n.QualifiedName(),
			ContextID:  info.ID,
			OrderID:    descriptorOrderID(n, info.GUID),
			Data:       data,
		}
		if err := e.store.SaveContext(e.ctx, rec); err != nil {
			return fmt.Errorf("save context %s: %w", info.GUID, err)
		}
	}
	e.completed[info.GUID] = data
	_ = e.track("context.save", n, info.GUID)
	return nil
}

// LoadContextActivity implements Runtime. The cache is consulted first,
// then the context store. A loaded context is removed from both.
func (e *Executor) LoadContextActivity(desc *ContextDescriptor, template *activity.Node) (*activity.Node, error) {
	data, ok := e.completed[desc.GUID]
	if !ok && e.store != nil {
		rec, err := e.store.LoadContext(e.ctx, desc.GUID)
		switch {
		case errors.Is(err, ErrContextNotFound):
		case err != nil:
			return nil, fmt.Errorf("load context %s: %w", desc.GUID, err)
		default:
			data, ok = rec.Data, true
		}
	}
	if !ok {
		return nil, &ProtocolError{
			Code:      ErrCodeContextNotFound,
			Message:   fmt.Sprintf("no saved state for context %s", desc.GUID),
			Activity:  desc.ActivityName,
			ContextID: desc.ContextID,
			Err:       ErrContextNotFound,
		}
	}

	n, err := snapshot.NewSession(activity.Attributes).Decode(data, template)
	if err != nil {
		return nil, fmt.Errorf("load context %s: %w", desc.GUID, err)
	}
	delete(e.completed, desc.GUID)
	if e.store != nil {
		if err := e.store.DeleteContext(e.ctx, desc.GUID); err != nil {
			e.logger.Warn("delete of loaded context failed", "guid", desc.GUID, "error", err)
		}
	}
	return n, nil
}

// Track implements Runtime.
func (e *Executor) Track(key string, data any) error {
	switch v := data.(type) {
	case *activity.Node:
		return e.track(key, v, "")
	case nil:
		return e.track(key, nil, "")
	case string:
		return e.track(key, nil, v)
	case error:
		return e.track(key, nil, v.Error())
	default:
		return e.track(key, nil, fmt.Sprint(v))
	}
}

func (e *Executor) track(key string, n *activity.Node, data string) error {
	if len(e.trackers) == 0 {
		return nil
	}
	rec := TrackRecord{
		Seq:        e.clock.Next(),
		InstanceID: e.instanceID,
		Key:        key,
		ContextID:  -1,
		Data:       data,
	}
	if n != nil {
		rec.Activity = n.QualifiedName()
		rec.ContextID = ContextIDOf(n)
		rec.Status = n.Status().String()
		rec.Result = n.Result().String()
	}
	var errs []error
	for _, t := range e.trackers {
		if err := t.Track(e.ctx, rec); err != nil {
			e.logger.Warn("tracking failed", "key", key, "error", err)
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// descriptorOrderID returns the completion order id recorded for the
// context rooted at n, or 0.
func descriptorOrderID(n *activity.Node, guid string) int {
	ctxAct := ContextActivity(n.Parent())
	if ctxAct == nil {
		return 0
	}
	list := completedContexts(ctxAct)
	if i := slices.IndexFunc(list, func(d *ContextDescriptor) bool { return d.GUID == guid }); i >= 0 {
		return list[i].CompletedOrderID
	}
	return 0
}

var _ Runtime = (*Executor)(nil)

type controlOp int

const (
	controlCancel controlOp = iota + 1
	controlSignal
	controlCompensate
)

// controlItem carries a host request into the draining goroutine.
type controlItem struct {
	op        controlOp
	contextID int
	name      string
	err       error
}

func (c controlItem) String() string {
	switch c.op {
	case controlCancel:
		return fmt.Sprintf("cancel %s@%d", c.name, c.contextID)
	case controlSignal:
		return fmt.Sprintf("signal %s@%d", c.name, c.contextID)
	default:
		return fmt.Sprintf("compensate %s@%d", c.name, c.contextID)
	}
}

func (c controlItem) Run(rt Runtime) error {
	n, err := resolve(rt, c.contextID, c.name)
	if err != nil {
		return err
	}
	item := Item{ContextID: c.contextID, Name: n.QualifiedName()}
	switch c.op {
	case controlCancel:
		if err := setStatus(rt, n, activity.StatusCanceling, false); err != nil {
			return err
		}
		item.Kind = OpCancel
		rt.ScheduleItem(item, false, false, false)
	case controlCompensate:
		if err := setStatus(rt, n, activity.StatusCompensating, false); err != nil {
			return err
		}
		item.Kind = OpCompensate
		rt.ScheduleItem(item, false, false, false)
	case controlSignal:
		if c.err != nil {
			return faultActivity(rt, n, c.err)
		}
		return closeActivity(rt, n)
	}
	return nil
}
