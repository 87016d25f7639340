package hunt

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/gdg-hunt/cryptic-hunt/internal/models"
)

// VerifyErrorMessage is shown when the verification procedure fails
const VerifyErrorMessage = "verification failed. try again soon."

// DefaultAdvanceDelay is how long a correct answer stays on screen before the next level loads
const DefaultAdvanceDelay = 1500 * time.Millisecond

// ErrBusy is returned by Submit while a verification or an advance is pending
var ErrBusy = errors.New("a submission is already in progress")

// Oracle judges a normalized attempt for a level
type Oracle interface {
	VerifyAnswer(ctx context.Context, levelNumber int, attempt string) ([]models.VerificationResult, error)
}

// ProfileRefresher pulls the participant's authoritative profile
type ProfileRefresher interface {
	RefreshProfile(ctx context.Context) error
}

// LevelReloader loads a level and reports the active level number
type LevelReloader interface {
	Load(ctx context.Context, override *int)
	Active() *int
}

// scheduleFunc runs f after d. The returned cancel reports whether f was stopped before running.
type scheduleFunc func(d time.Duration, f func()) (cancel func() bool)

func afterFunc(d time.Duration, f func()) func() bool {
	return time.AfterFunc(d, f).Stop
}

// WorkflowState is a snapshot of the verification workflow
type WorkflowState struct {
	Answer       string
	Epoch        uint64
	Status       models.Status
	Message      string
	SubmitLocked bool
}

// Workflow drives one participant's answer through verification:
// idle -> checking -> correct | incorrect | error. A correct answer
// schedules an advance to the next level after a fixed delay.
type Workflow struct {
	oracle   Oracle
	profile  ProfileRefresher
	levels   LevelReloader
	delay    time.Duration
	schedule scheduleFunc
	onChange func()

	mu        sync.Mutex
	answer    string
	status    models.Status
	message   string
	epoch     uint64
	inFlight  bool
	advancing bool
	cancel    func() bool
	alive     bool
}

// NewWorkflow creates an idle workflow
func NewWorkflow(oracle Oracle, profile ProfileRefresher, levels LevelReloader, delay time.Duration, onChange func()) *Workflow {
	return &Workflow{
		oracle:   oracle,
		profile:  profile,
		levels:   levels,
		delay:    delay,
		schedule: afterFunc,
		onChange: onChange,
		status:   models.StatusIdle,
		alive:    true,
	}
}

// SetAnswer records the current contents of the answer field
func (w *Workflow) SetAnswer(answer string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.answer = answer
}

// EnterLevel resets the answer field and status for a newly entered level
func (w *Workflow) EnterLevel() {
	w.mu.Lock()
	if !w.alive {
		w.mu.Unlock()
		return
	}
	w.answer = ""
	w.status = models.StatusIdle
	w.message = ""
	w.epoch++
	w.mu.Unlock()

	w.notify()
}

// Submit verifies the current answer. A blank answer or an unknown level is a
// no-op. While a verification or an advance is pending it returns ErrBusy and
// changes nothing. Oracle failures are reported through the status, not the
// returned error.
func (w *Workflow) Submit(ctx context.Context) error {
	level := w.levels.Active()

	w.mu.Lock()
	if !w.alive {
		w.mu.Unlock()
		return nil
	}
	if w.inFlight || w.advancing {
		w.mu.Unlock()
		return ErrBusy
	}
	if level == nil || strings.TrimSpace(w.answer) == "" {
		w.mu.Unlock()
		return nil
	}

	attempt := Normalize(w.answer)
	epoch := w.epoch
	w.inFlight = true
	w.status = models.StatusChecking
	w.message = ""
	w.mu.Unlock()
	w.notify()

	results, err := w.oracle.VerifyAnswer(ctx, *level, attempt)

	w.mu.Lock()
	w.inFlight = false
	if !w.alive {
		w.mu.Unlock()
		return nil
	}

	correct := err == nil && len(results) > 0 && results[0].IsCorrect
	if epoch != w.epoch && !correct {
		// the level changed underneath; the verdict no longer applies
		w.mu.Unlock()
		w.notify()
		return nil
	}

	switch {
	case err != nil:
		slog.Error("verification failure", "level", *level, "error", err)
		w.status = models.StatusError
		w.message = VerifyErrorMessage
	case correct:
		target := *level
		if next := results[0].NextLevel; next != nil {
			target = *next
		} else {
			slog.Warn("correct answer reported without next level, reloading current level",
				"level", *level,
			)
		}
		w.status = models.StatusCorrect
		w.advancing = true
		w.cancel = w.schedule(w.delay, func() { w.advance(ctx, target) })
	default:
		w.status = models.StatusIncorrect
	}
	w.mu.Unlock()

	w.notify()
	return nil
}

// advance refreshes the profile, then reloads at target. The two steps are sequential.
func (w *Workflow) advance(ctx context.Context, target int) {
	w.mu.Lock()
	if !w.alive {
		w.mu.Unlock()
		return
	}
	w.mu.Unlock()

	if err := w.profile.RefreshProfile(ctx); err != nil {
		slog.Warn("profile refresh before advance failed", "error", err)
	}
	w.levels.Load(ctx, &target)

	w.mu.Lock()
	w.advancing = false
	w.cancel = nil
	alive := w.alive
	w.mu.Unlock()

	if alive {
		w.notify()
	}
}

// Snapshot returns the workflow state
func (w *Workflow) Snapshot() WorkflowState {
	w.mu.Lock()
	defer w.mu.Unlock()
	return WorkflowState{
		Answer:       w.answer,
		Epoch:        w.epoch,
		Status:       w.status,
		Message:      w.message,
		SubmitLocked: w.inFlight || w.advancing,
	}
}

// Close cancels a pending advance. Results arriving afterwards are discarded.
func (w *Workflow) Close() {
	w.mu.Lock()
	w.alive = false
	cancel := w.cancel
	w.cancel = nil
	w.mu.Unlock()

	if cancel != nil {
		cancel()
	}
}

func (w *Workflow) notify() {
	if w.onChange != nil {
		w.onChange()
	}
}
