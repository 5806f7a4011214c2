package checkout

// Outcome is the terminal result of a submission.
type Outcome string

// Submission outcomes.
const (
	// OutcomeConfirmed is a persisted COD or QR order.
	OutcomeConfirmed Outcome = "confirmed"
	// OutcomeRedirected is a persisted Khalti order handed to the hosted page.
	OutcomeRedirected Outcome = "redirected"
	// OutcomeAwaitingProof means the QR dialog is open and nothing was persisted.
	OutcomeAwaitingProof Outcome = "awaiting_proof"
	// OutcomeInitiationFailed is a persisted Khalti order whose payment could
	// not be started. The order stays unpaid.
	OutcomeInitiationFailed Outcome = "initiation_failed"
	// OutcomeCreateFailed means the order API did not persist the order.
	OutcomeCreateFailed Outcome = "create_failed"
	// OutcomeCompensated is a QR order cancelled after its proof upload failed.
	OutcomeCompensated Outcome = "compensated"
	// OutcomeCompensationFailed is a QR order whose cancellation failed too.
	OutcomeCompensationFailed Outcome = "compensation_failed"
	// OutcomeRejected is a local precondition failure.
	OutcomeRejected Outcome = "rejected"
	// OutcomeFailed is any other failure before the order API was called.
	OutcomeFailed Outcome = "failed"
)

// journaled reports whether the outcome involved the order API and is kept in
// the attempt journal.
func (o Outcome) journaled() bool {
	switch o {
	case OutcomeConfirmed, OutcomeRedirected, OutcomeInitiationFailed,
		OutcomeCreateFailed, OutcomeCompensated, OutcomeCompensationFailed:
		return true
	}
	return false
}
