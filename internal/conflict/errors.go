package conflict

// EvaluationError marks a conflict check that could not be completed, e.g.
// a candidate-fetch timeout or data-source failure. Callers must not treat
// it as "no conflicts found"; any degraded-mode fallback is an explicit,
// logged decision at the call site.
type EvaluationError struct {
	Cause error
}

func (e *EvaluationError) Error() string {
	if e.Cause == nil {
		return "conflict check incomplete"
	}
	return "conflict check incomplete: " + e.Cause.Error()
}

func (e *EvaluationError) Unwrap() error {
	return e.Cause
}
