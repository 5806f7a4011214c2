package checkout

import "sync"

// Phase is the coarse state of a submission.
type Phase string

// Submission phases.
const (
	PhaseIdle            Phase = "idle"
	PhaseValidating      Phase = "validating"
	PhaseAwaitingNetwork Phase = "awaiting_network"
	PhaseSucceeded       Phase = "succeeded"
	PhaseFailed          Phase = "failed"
)

// Step names the remote call a submission is waiting on.
type Step string

// Remote steps of the completion protocols.
const (
	StepNone            Step = ""
	StepCreateOrder     Step = "create_order"
	StepInitiatePayment Step = "initiate_payment"
	StepFetchQRConfig   Step = "fetch_qr_config"
	StepUploadProof     Step = "upload_proof"
	StepCompensate      Step = "compensate"
)

// GuardState is a read-only view of a Guard.
type GuardState struct {
	Placing bool
	Phase   Phase
	Step    Step
}

// Guard is the single-flight lock shared by every submit entry point of one
// checkout. Acquire fails while a submission is in flight. Submissions end with
// Release, or with Hold when the customer is about to be navigated away and
// the checkout must stay busy until it is torn down.
type Guard struct {
	mu      sync.Mutex
	placing bool
	phase   Phase
	step    Step
}

// NewGuard creates an idle guard.
func NewGuard() *Guard {
	return &Guard{phase: PhaseIdle}
}

// Acquire marks a submission as started. It returns false if one is already
// in flight.
func (g *Guard) Acquire() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.placing {
		return false
	}
	g.placing = true
	g.phase = PhaseValidating
	g.step = StepNone
	return true
}

// Await records the remote step the submission is blocked on.
func (g *Guard) Await(step Step) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.phase = PhaseAwaitingNetwork
	g.step = step
}

// Release ends the submission and allows the next one.
func (g *Guard) Release(phase Phase) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.placing = false
	g.phase = phase
	g.step = StepNone
}

// Hold ends the submission successfully but keeps the guard busy.
func (g *Guard) Hold() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.phase = PhaseSucceeded
	g.step = StepNone
}

// State returns the current guard state.
func (g *Guard) State() GuardState {
	g.mu.Lock()
	defer g.mu.Unlock()
	return GuardState{Placing: g.placing, Phase: g.phase, Step: g.step}
}
