package runner

import "github.com/jeeves-ci/pipeline-core/domain"

// RunError tags an execution failure with the taxonomy kind callers need to
// decide retryability and surface to operators (§4.4 error taxonomy, §7).
type RunError struct {
	Kind domain.ErrorKind
	Msg  string
	Err  error
}

func (e *RunError) Error() string {
	if e.Err != nil {
		return string(e.Kind) + ": " + e.Msg + ": " + e.Err.Error()
	}
	return string(e.Kind) + ": " + e.Msg
}

func (e *RunError) Unwrap() error { return e.Err }

func wrapErr(kind domain.ErrorKind, msg string, err error) *RunError {
	return &RunError{Kind: kind, Msg: msg, Err: err}
}
