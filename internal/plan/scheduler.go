package plan

import (
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/lowaak/cable-trainer/internal/events"
	"github.com/lowaak/cable-trainer/internal/go_func_utils"
	"github.com/lowaak/cable-trainer/internal/machine"
	"github.com/lowaak/cable-trainer/internal/protocol"
)

// State is the scheduler's lifecycle position.
type State int

const (
	StateIdle State = iota
	StateRunning
	StateResting
	StateFinished
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "Idle"
	case StateRunning:
		return "Running"
	case StateResting:
		return "Resting"
	case StateFinished:
		return "Finished"
	default:
		return "Unknown"
	}
}

// Cursor is the scheduler's position in the plan: item index and 1-based
// set number.
type Cursor struct {
	ItemIndex int
	Set       int
}

// Progress is the externally visible scheduler state, published on every
// change and once per second during rest.
type Progress struct {
	State         State
	Plan          string
	Cursor        Cursor
	Item          *Item // nil when idle/finished
	RestRemaining time.Duration
	RestPaused    bool
}

// BlockRunner is the session surface the scheduler drives.
// *machine.Session implements it.
type BlockRunner interface {
	StartExercise(params protocol.ProgramParams, stopAtTop bool, onComplete func(machine.BlockResult)) error
	StartEcho(params protocol.EchoControl, stopAtTop bool, onComplete func(machine.BlockResult)) error
	Stop() error
}

// SetRecord is the finished-set report handed to the completion hook.
type SetRecord struct {
	Plan   string
	Item   Item
	Set    int
	Result machine.BlockResult
}

var (
	ErrSchedulerBusy = errors.New("plan: scheduler is not idle")
	ErrNotResting    = errors.New("plan: not resting")
)

// restPollInterval is how often the rest countdown is re-evaluated against
// the wall clock.
const restPollInterval = 100 * time.Millisecond

// Scheduler walks a plan: it launches one block per set through the
// runner, rests between sets off a wall-clock end timestamp, and finishes
// after the last set of the last item. Rest supports pause/resume, a
// single skip, and extension.
type Scheduler struct {
	runner BlockRunner
	logger *log.Logger
	now    func() time.Time

	// onSetComplete fires after every finished set, outside the lock;
	// failures there must not reach the scheduler.
	onSetComplete func(SetRecord)

	mu         sync.Mutex
	state      State
	plan       Plan
	cursor     Cursor
	generation int // invalidates stray completions from stopped blocks
	seq        uint8

	restEnd       time.Time
	restRemaining time.Duration // meaningful while paused
	restPaused    bool
	skipUsed      bool
	restStop      chan struct{}

	wg sync.WaitGroup

	progressEvent *events.CallbackEvent[Progress]
}

// NewScheduler creates a Scheduler over runner. onSetComplete may be nil;
// now defaults to time.Now.
func NewScheduler(runner BlockRunner, logger *log.Logger, onSetComplete func(SetRecord), now func() time.Time) *Scheduler {
	if runner == nil {
		panic("plan: runner cannot be nil")
	}
	if logger == nil {
		panic("plan: logger cannot be nil")
	}
	if now == nil {
		now = time.Now
	}
	return &Scheduler{
		runner:        runner,
		logger:        logger,
		now:           now,
		onSetComplete: onSetComplete,
		progressEvent: events.NewCallbackEvent[Progress](true),
	}
}

// ListenToProgress registers for scheduler state updates (last replayed).
func (s *Scheduler) ListenToProgress(cb func(Progress)) func() {
	return s.progressEvent.Listen(cb)
}

// Start validates p and launches its first block. The scheduler must be
// idle or finished.
func (s *Scheduler) Start(p Plan) error {
	if err := p.Validate(); err != nil {
		return err
	}

	s.mu.Lock()
	if s.state == StateRunning || s.state == StateResting {
		s.mu.Unlock()
		return ErrSchedulerBusy
	}
	s.plan = p
	s.cursor = Cursor{ItemIndex: 0, Set: 1}
	s.state = StateRunning
	s.generation++
	gen := s.generation
	s.mu.Unlock()

	s.logger.Printf("Scheduler: plan %q started (%d items, %d sets)", p.Name, len(p.Items), p.totalSets())
	s.publish()
	return s.launchCurrent(gen)
}

// Abort stops any running block and rest and returns to idle.
func (s *Scheduler) Abort() error {
	s.mu.Lock()
	state := s.state
	s.generation++
	s.state = StateIdle
	s.stopRestLocked()
	s.mu.Unlock()

	s.publish()
	if state == StateRunning {
		return s.runner.Stop()
	}
	return nil
}

// launchCurrent programs the block under the cursor. Stray completions are
// filtered by generation so a stopped plan cannot advance a new one.
func (s *Scheduler) launchCurrent(gen int) error {
	s.mu.Lock()
	if s.state != StateRunning || s.generation != gen {
		s.mu.Unlock()
		return nil
	}
	item := s.plan.Items[s.cursor.ItemIndex]
	set := s.cursor.Set
	s.seq++
	seq := s.seq
	s.mu.Unlock()

	onComplete := func(result machine.BlockResult) {
		s.handleBlockComplete(gen, item, set, result)
	}

	s.logger.Printf("Scheduler: launching %q set %d/%d", item.Name, set, item.Sets)
	var err error
	if item.Exercise != nil {
		e := item.Exercise
		err = s.runner.StartExercise(protocol.ProgramParams{
			Sequence:      seq,
			Mode:          e.Mode,
			Reps:          e.Reps,
			JustLift:      e.JustLift,
			PerCableKg:    e.PerCableKg,
			ProgressionKg: e.ProgressionKg,
		}, e.StopAtTop, onComplete)
	} else {
		e := item.Echo
		err = s.runner.StartEcho(protocol.EchoControl{
			Level:        e.Level,
			EccentricPct: e.EccentricPct,
			TargetReps:   e.TargetReps,
			JustLift:     e.JustLift,
		}, e.StopAtTop, onComplete)
	}
	if err != nil {
		return fmt.Errorf("plan: launch %q set %d: %w", item.Name, set, err)
	}
	return nil
}

func (s *Scheduler) handleBlockComplete(gen int, item Item, set int, result machine.BlockResult) {
	s.mu.Lock()
	if s.generation != gen || s.state != StateRunning {
		s.mu.Unlock()
		return
	}

	planName := s.plan.Name
	finished := false
	if s.cursor.Set < item.Sets {
		s.cursor.Set++
	} else if s.cursor.ItemIndex+1 < len(s.plan.Items) {
		s.cursor.ItemIndex++
		s.cursor.Set = 1
	} else {
		finished = true
		s.state = StateFinished
	}
	s.mu.Unlock()

	if hook := s.onSetComplete; hook != nil {
		record := SetRecord{Plan: planName, Item: item, Set: set, Result: result}
		go_func_utils.SafeGoNamed(s.logger, "set-complete-hook", func() { hook(record) })
	}

	if finished {
		s.logger.Printf("Scheduler: plan %q finished", planName)
		s.publish()
		return
	}

	if item.RestSec == 0 {
		// No rest configured: straight into the next block.
		s.publish()
		if err := s.launchCurrent(gen); err != nil {
			s.logger.Printf("Scheduler: %v", err)
		}
		return
	}
	s.enterRest(gen, time.Duration(item.RestSec)*time.Second)
}

// --- rest ---

func (s *Scheduler) enterRest(gen int, d time.Duration) {
	s.mu.Lock()
	if s.generation != gen {
		s.mu.Unlock()
		return
	}
	s.state = StateResting
	s.restEnd = s.now().Add(d)
	s.restPaused = false
	s.skipUsed = false
	stop := make(chan struct{})
	s.restStop = stop
	s.mu.Unlock()

	s.publish()
	s.wg.Add(1)
	go_func_utils.SafeGoNamed(s.logger, "rest-countdown", func() {
		defer s.wg.Done()
		ticker := time.NewTicker(restPollInterval)
		defer ticker.Stop()
		lastPublished := time.Duration(-1)
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				if s.checkRest(gen) {
					return
				}
				// Publish at second granularity to keep the UI countdown
				// moving without flooding listeners.
				if remaining := s.RestRemaining().Truncate(time.Second); remaining != lastPublished {
					lastPublished = remaining
					s.publish()
				}
			}
		}
	})
}

// checkRest ends the rest when the deadline has passed; reports whether
// the rest is over.
func (s *Scheduler) checkRest(gen int) bool {
	s.mu.Lock()
	if s.generation != gen || s.state != StateResting {
		s.mu.Unlock()
		return true
	}
	if s.restPaused || s.now().Before(s.restEnd) {
		s.mu.Unlock()
		return false
	}
	s.endRestLocked(gen)
	return true
}

// endRestLocked transitions to the next block. Called with mu held;
// releases it.
func (s *Scheduler) endRestLocked(gen int) {
	s.state = StateRunning
	s.stopRestLocked()
	s.mu.Unlock()

	s.publish()
	if err := s.launchCurrent(gen); err != nil {
		s.logger.Printf("Scheduler: %v", err)
	}
}

// stopRestLocked tears down the countdown goroutine's stop channel.
func (s *Scheduler) stopRestLocked() {
	if s.restStop != nil {
		close(s.restStop)
		s.restStop = nil
	}
}

// SkipRest ends the current rest immediately. Only the first call of a
// rest period has any effect.
func (s *Scheduler) SkipRest() error {
	s.mu.Lock()
	if s.state != StateResting {
		s.mu.Unlock()
		return ErrNotResting
	}
	if s.skipUsed {
		s.mu.Unlock()
		return nil
	}
	s.skipUsed = true
	gen := s.generation
	s.logger.Printf("Scheduler: rest skipped")
	s.endRestLocked(gen)
	return nil
}

// ExtendRest lengthens the current rest by d: it shifts the deadline, or
// adds to the frozen remainder while paused.
func (s *Scheduler) ExtendRest(d time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateResting {
		return ErrNotResting
	}
	if s.restPaused {
		s.restRemaining += d
	} else {
		s.restEnd = s.restEnd.Add(d)
	}
	s.logger.Printf("Scheduler: rest extended by %v", d)
	return nil
}

// PauseRest freezes the countdown, keeping the remaining time.
func (s *Scheduler) PauseRest() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateResting || s.restPaused {
		return ErrNotResting
	}
	s.restRemaining = s.restEnd.Sub(s.now())
	if s.restRemaining < 0 {
		s.restRemaining = 0
	}
	s.restPaused = true
	s.logger.Printf("Scheduler: rest paused with %v remaining", s.restRemaining)
	return nil
}

// ResumeRest restarts a paused countdown from the frozen remainder.
func (s *Scheduler) ResumeRest() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateResting || !s.restPaused {
		return ErrNotResting
	}
	s.restEnd = s.now().Add(s.restRemaining)
	s.restPaused = false
	s.logger.Printf("Scheduler: rest resumed")
	return nil
}

// RestRemaining is the time left in the current rest, zero otherwise.
func (s *Scheduler) RestRemaining() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.restRemainingLocked()
}

func (s *Scheduler) restRemainingLocked() time.Duration {
	if s.state != StateResting {
		return 0
	}
	if s.restPaused {
		return s.restRemaining
	}
	remaining := s.restEnd.Sub(s.now())
	if remaining < 0 {
		return 0
	}
	return remaining
}

// GetState returns the current lifecycle state.
func (s *Scheduler) GetState() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// GetCursor returns the current plan position.
func (s *Scheduler) GetCursor() Cursor {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cursor
}

// Shutdown stops any rest countdown and waits for scheduler goroutines.
func (s *Scheduler) Shutdown() {
	s.mu.Lock()
	s.generation++
	s.stopRestLocked()
	s.mu.Unlock()
	s.wg.Wait()
}

func (s *Scheduler) publish() {
	s.mu.Lock()
	p := Progress{
		State:         s.state,
		Plan:          s.plan.Name,
		Cursor:        s.cursor,
		RestRemaining: s.restRemainingLocked(),
		RestPaused:    s.restPaused,
	}
	if s.state == StateRunning || s.state == StateResting {
		item := s.plan.Items[s.cursor.ItemIndex]
		p.Item = &item
	}
	s.mu.Unlock()
	s.progressEvent.Notify(p)
}
