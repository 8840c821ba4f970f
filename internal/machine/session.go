package machine

import (
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/lowaak/cable-trainer/internal/bt"
	"github.com/lowaak/cable-trainer/internal/events"
	"github.com/lowaak/cable-trainer/internal/go_func_utils"
	"github.com/lowaak/cable-trainer/internal/protocol"
)

// GattQueue is the slice of the transport queue the session uses.
// *bt.OpQueue implements it.
type GattQueue interface {
	EnqueueWrite(serviceUUID, charUUID string, payload []byte, withResponse bool) <-chan bt.OpResult
	EnqueueRead(serviceUUID, charUUID string) <-chan bt.OpResult
	EnqueueSubscribe(serviceUUID, charUUID string, callback func(buf []byte)) <-chan bt.OpResult
	EnqueueUnsubscribe(serviceUUID, charUUID string) <-chan bt.OpResult
}

// ErrBlockActive rejects starting a block while another one runs.
var ErrBlockActive = errors.New("machine: a block is already active")

// ErrNotInitialized rejects block starts before Begin has run.
var ErrNotInitialized = errors.New("machine: session not initialized")

// Default polling cadences. Monitor feeds rep detection and auto-stop and
// needs to be fast; the property characteristic changes rarely.
const (
	DefaultMonitorInterval  = 100 * time.Millisecond
	DefaultPropertyInterval = 500 * time.Millisecond

	// initPresetDelay is the settle time the machine needs between the
	// init command and the preset table.
	initPresetDelay = 50 * time.Millisecond
)

// BlockResult summarizes a finished block for the plan scheduler and the
// cloud backup.
type BlockResult struct {
	Mode        string
	WeightKg    float64
	WarmupReps  int
	WorkingReps int
	StartedAt   time.Time
	EndedAt     time.Time
	Stopped     bool // ended by an explicit or automatic stop
}

type activeBlock struct {
	tracker    *RepTracker
	autoStop   *AutoStop
	justLift   bool
	result     BlockResult
	onComplete func(BlockResult)
}

// SessionConfig tunes a Session; zero values select the defaults.
type SessionConfig struct {
	MonitorInterval  time.Duration
	PropertyInterval time.Duration
	Colors           [3]protocol.RGB
	Now              func() time.Time
}

var defaultColors = [3]protocol.RGB{
	{R: 0x00, G: 0xc8, B: 0xff},
	{R: 0xff, G: 0x7a, B: 0x00},
	{R: 0x20, G: 0xff, B: 0x60},
}

// Session drives one connected machine: the init handshake, block
// programming, the two pollers, rep tracking and auto-stop. All telemetry
// fans out through its events; completion is reported through the callback
// passed to each block start.
type Session struct {
	queue  GattQueue
	logger *log.Logger
	cfg    SessionConfig
	now    func() time.Time

	mu          sync.Mutex
	initialized bool
	block       *activeBlock
	lastSample  *protocol.MonitorSample
	pollStop    chan struct{}

	pollWG sync.WaitGroup

	sampleEvent   *events.CallbackEvent[protocol.MonitorSample]
	repEvent      *events.CallbackEvent[Snapshot]
	propertyEvent *events.CallbackEvent[protocol.PropertyRecord]
	autoStopEvent *events.CallbackEvent[AutoStopDecision]
}

// NewSession creates a Session over queue. Begin must run before any block
// starts.
func NewSession(queue GattQueue, logger *log.Logger, cfg SessionConfig) *Session {
	if queue == nil {
		panic("machine: queue cannot be nil")
	}
	if logger == nil {
		panic("machine: logger cannot be nil")
	}
	if cfg.MonitorInterval <= 0 {
		cfg.MonitorInterval = DefaultMonitorInterval
	}
	if cfg.PropertyInterval <= 0 {
		cfg.PropertyInterval = DefaultPropertyInterval
	}
	if cfg.Colors == ([3]protocol.RGB{}) {
		cfg.Colors = defaultColors
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &Session{
		queue:         queue,
		logger:        logger,
		cfg:           cfg,
		now:           now,
		sampleEvent:   events.NewCallbackEvent[protocol.MonitorSample](true),
		repEvent:      events.NewCallbackEvent[Snapshot](true),
		propertyEvent: events.NewCallbackEvent[protocol.PropertyRecord](false),
		autoStopEvent: events.NewCallbackEvent[AutoStopDecision](false),
	}
}

// ListenToSamples registers for decoded monitor samples (last replayed).
func (s *Session) ListenToSamples(cb func(protocol.MonitorSample)) func() {
	return s.sampleEvent.Listen(cb)
}

// ListenToReps registers for rep state snapshots (last replayed).
func (s *Session) ListenToReps(cb func(Snapshot)) func() {
	return s.repEvent.Listen(cb)
}

// ListenToProperties registers for raw property poll records.
func (s *Session) ListenToProperties(cb func(protocol.PropertyRecord)) func() {
	return s.propertyEvent.Listen(cb)
}

// ListenToAutoStop registers for auto-stop arm/progress updates.
func (s *Session) ListenToAutoStop(cb func(AutoStopDecision)) func() {
	return s.autoStopEvent.Listen(cb)
}

// Begin runs the init handshake: rep-notification subscription, init
// command, the preset table after its settle delay, then the color scheme.
func (s *Session) Begin() error {
	if res := <-s.queue.EnqueueSubscribe(protocol.ServiceUUIDMachine, protocol.CharUUIDRep, s.onRepNotification); res.Err != nil {
		return fmt.Errorf("machine: subscribe reps: %w", res.Err)
	}
	if res := <-s.queue.EnqueueWrite(protocol.ServiceUUIDMachine, protocol.CharUUIDCommand, protocol.EncodeInitCommand(), true); res.Err != nil {
		return fmt.Errorf("machine: init command: %w", res.Err)
	}
	time.Sleep(initPresetDelay)
	if res := <-s.queue.EnqueueWrite(protocol.ServiceUUIDMachine, protocol.CharUUIDCommand, protocol.EncodeInitPreset(), true); res.Err != nil {
		return fmt.Errorf("machine: init preset: %w", res.Err)
	}
	c := s.cfg.Colors
	if res := <-s.queue.EnqueueWrite(protocol.ServiceUUIDMachine, protocol.CharUUIDCommand, protocol.EncodeColorScheme(c[0], c[1], c[2]), true); res.Err != nil {
		return fmt.Errorf("machine: color scheme: %w", res.Err)
	}

	s.mu.Lock()
	s.initialized = true
	s.mu.Unlock()
	s.logger.Printf("Session: machine initialized")
	return nil
}

// StartExercise programs a standard-mode block and starts its pollers.
// onComplete fires exactly once when the block ends, however it ends.
func (s *Session) StartExercise(params protocol.ProgramParams, stopAtTop bool, onComplete func(BlockResult)) error {
	frame, err := protocol.EncodeProgramParams(params)
	if err != nil {
		return err
	}
	block := &activeBlock{
		tracker: NewRepTracker(TrackerConfig{
			TargetReps: params.Reps,
			StopAtTop:  stopAtTop,
			JustLift:   params.JustLift,
		}),
		justLift:   params.JustLift,
		onComplete: onComplete,
		result: BlockResult{
			Mode:     params.Mode.String(),
			WeightKg: params.PerCableKg,
		},
	}
	return s.startBlock(block, frame)
}

// StartEcho programs an echo-mode block and starts its pollers.
func (s *Session) StartEcho(params protocol.EchoControl, stopAtTop bool, onComplete func(BlockResult)) error {
	frame, err := protocol.EncodeEchoControl(params)
	if err != nil {
		return err
	}
	block := &activeBlock{
		tracker: NewRepTracker(TrackerConfig{
			TargetReps:   params.TargetReps,
			WarmupTarget: protocol.EchoWarmupReps,
			StopAtTop:    stopAtTop,
			JustLift:     params.JustLift,
		}),
		justLift:   params.JustLift,
		onComplete: onComplete,
		result: BlockResult{
			Mode: fmt.Sprintf("echo-%d", params.Level),
		},
	}
	return s.startBlock(block, frame)
}

func (s *Session) startBlock(block *activeBlock, frame []byte) error {
	s.mu.Lock()
	if !s.initialized {
		s.mu.Unlock()
		return ErrNotInitialized
	}
	if s.block != nil {
		s.mu.Unlock()
		return ErrBlockActive
	}
	s.mu.Unlock()

	if res := <-s.queue.EnqueueWrite(protocol.ServiceUUIDMachine, protocol.CharUUIDCommand, frame, true); res.Err != nil {
		return fmt.Errorf("machine: program block: %w", res.Err)
	}

	block.autoStop = NewAutoStop(s.now)
	block.result.StartedAt = s.now()

	s.mu.Lock()
	if s.block != nil {
		s.mu.Unlock()
		return ErrBlockActive
	}
	s.block = block
	s.lastSample = nil
	stop := make(chan struct{})
	s.pollStop = stop
	s.mu.Unlock()

	s.logger.Printf("Session: block started (%s)", block.result.Mode)
	s.startPollers(stop)
	return nil
}

// Stop sends the stop command and finishes the active block, if any.
func (s *Session) Stop() error {
	if res := <-s.queue.EnqueueWrite(protocol.ServiceUUIDMachine, protocol.CharUUIDCommand, protocol.EncodeStopCommand(), true); res.Err != nil {
		return fmt.Errorf("machine: stop command: %w", res.Err)
	}
	s.finishBlock(true)
	return nil
}

// Close ends any active block and removes the rep subscription. The
// transport queue itself belongs to the caller.
func (s *Session) Close() {
	s.mu.Lock()
	active := s.block != nil
	initialized := s.initialized
	s.initialized = false
	s.mu.Unlock()

	if active {
		if err := s.Stop(); err != nil {
			s.logger.Printf("Session: stop on close: %v", err)
		}
	}
	if initialized {
		if res := <-s.queue.EnqueueUnsubscribe(protocol.ServiceUUIDMachine, protocol.CharUUIDRep); res.Err != nil {
			s.logger.Printf("Session: unsubscribe reps: %v", res.Err)
		}
	}
	s.pollWG.Wait()
}

// startPollers runs both cadences from one goroutine; every read goes
// through the queue, so polls never race block writes.
func (s *Session) startPollers(stop chan struct{}) {
	s.pollWG.Add(1)
	go_func_utils.SafeGoNamed(s.logger, "session-pollers", func() {
		defer s.pollWG.Done()
		monitor := time.NewTicker(s.cfg.MonitorInterval)
		defer monitor.Stop()
		property := time.NewTicker(s.cfg.PropertyInterval)
		defer property.Stop()
		for {
			select {
			case <-stop:
				return
			case <-monitor.C:
				s.pollMonitor(stop)
			case <-property.C:
				s.pollProperty()
			}
		}
	})
}

func (s *Session) pollMonitor(stop chan struct{}) {
	res := <-s.queue.EnqueueRead(protocol.ServiceUUIDMachine, protocol.CharUUIDMonitor)
	if res.Err != nil {
		s.logger.Printf("Session: monitor read: %v", res.Err)
		return
	}
	select {
	case <-stop:
		// Block ended while the read was queued; drop the stray sample.
		return
	default:
	}

	sample, err := protocol.DecodeMonitorFrame(res.Data, s.now())
	if err != nil {
		// Spikes and short frames are dropped; the previous sample stands.
		s.logger.Printf("Session: monitor frame dropped: %v", err)
		return
	}

	s.mu.Lock()
	s.lastSample = &sample
	var decision AutoStopDecision
	evaluate := false
	if s.block != nil && s.block.justLift {
		decision = s.block.autoStop.Evaluate(sample, s.block.tracker.Range(CableA), s.block.tracker.Range(CableB))
		evaluate = true
	}
	s.mu.Unlock()

	s.sampleEvent.Notify(sample)
	if evaluate {
		s.autoStopEvent.Notify(decision)
		if decision.Stop {
			s.logger.Printf("Session: auto-stop fired")
			if err := s.Stop(); err != nil {
				s.logger.Printf("Session: auto-stop stop command: %v", err)
			}
		}
	}
}

func (s *Session) pollProperty() {
	res := <-s.queue.EnqueueRead(protocol.ServiceUUIDMachine, protocol.CharUUIDProperty)
	if res.Err != nil {
		s.logger.Printf("Session: property read: %v", res.Err)
		return
	}
	s.propertyEvent.Notify(protocol.PropertyRecord{Raw: res.Data, Timestamp: s.now()})
}

// onRepNotification handles pushes on the rep characteristic. Decode
// failures and events outside an active block are noise, not errors.
func (s *Session) onRepNotification(buf []byte) {
	counters, err := protocol.DecodeRepNotification(buf)
	if err != nil {
		s.logger.Printf("Session: rep frame dropped: %v", err)
		return
	}

	s.mu.Lock()
	if s.block == nil || s.lastSample == nil {
		s.mu.Unlock()
		return
	}
	outcome := s.block.tracker.HandleCounters(counters, *s.lastSample)
	snapshot := s.block.tracker.Snapshot()
	s.mu.Unlock()

	if outcome.TopEvent || outcome.RepComplete {
		s.repEvent.Notify(snapshot)
	}
	if outcome.RequestStop {
		// Top-anchored completion: the machine keeps the set open until
		// the bottom of the final rep unless told to stop.
		if res := <-s.queue.EnqueueWrite(protocol.ServiceUUIDMachine, protocol.CharUUIDCommand, protocol.EncodeStopCommand(), true); res.Err != nil {
			s.logger.Printf("Session: stop-at-top command: %v", res.Err)
		}
	}
	if outcome.Completed {
		s.finishBlock(outcome.RequestStop)
	}
}

// finishBlock tears down the active block exactly once and reports the
// result outside the lock.
func (s *Session) finishBlock(stopped bool) {
	s.mu.Lock()
	block := s.block
	if block == nil {
		s.mu.Unlock()
		return
	}
	s.block = nil
	if s.pollStop != nil {
		close(s.pollStop)
		s.pollStop = nil
	}
	snap := block.tracker.Snapshot()
	block.tracker.MarkCompleted()
	block.result.WarmupReps = snap.WarmupReps
	block.result.WorkingReps = snap.WorkingReps
	block.result.EndedAt = s.now()
	block.result.Stopped = stopped
	result := block.result
	s.mu.Unlock()

	s.logger.Printf("Session: block finished (%s, %d working reps, stopped=%v)",
		result.Mode, result.WorkingReps, stopped)
	s.repEvent.Notify(Snapshot{Phase: PhaseCompleted, WarmupReps: snap.WarmupReps, WorkingReps: snap.WorkingReps, TargetReps: snap.TargetReps})
	if block.onComplete != nil {
		block.onComplete(result)
	}
}

// HasActiveBlock reports whether a block is currently running.
func (s *Session) HasActiveBlock() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.block != nil
}
