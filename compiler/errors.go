package compiler

import "strings"

// ErrorKind enumerates the Compiler's deterministic failure modes (§4.1).
type ErrorKind string

const (
	ErrCycle               ErrorKind = "Cycle"
	ErrUnknownPlugin       ErrorKind = "UnknownPlugin"
	ErrUnboundIdentifier   ErrorKind = "UnboundIdentifier"
	ErrEmptyMatrixDimension ErrorKind = "EmptyMatrixDimension"
	ErrDuplicateName       ErrorKind = "DuplicateName"
	ErrSchemaViolation     ErrorKind = "SchemaViolation"
)

// CompileError is one deterministic compilation failure.
type CompileError struct {
	Kind    ErrorKind
	Stage   string
	Step    string
	Message string
}

func (e *CompileError) Error() string {
	var sb strings.Builder
	sb.WriteString(string(e.Kind))
	if e.Stage != "" {
		sb.WriteString(" stage=" + e.Stage)
	}
	if e.Step != "" {
		sb.WriteString(" step=" + e.Step)
	}
	sb.WriteString(": " + e.Message)
	return sb.String()
}

// AggregateError collects every CompileError found during one compile
// pass. The compiler never early-exits on the first error (§4.1).
type AggregateError struct {
	Errors []*CompileError
}

func (a *AggregateError) Error() string {
	var sb strings.Builder
	sb.WriteString("compilation failed with ")
	if len(a.Errors) == 1 {
		sb.WriteString("1 error")
	} else {
		sb.WriteString(itoa(len(a.Errors)) + " errors")
	}
	for _, e := range a.Errors {
		sb.WriteString("\n  - " + e.Error())
	}
	return sb.String()
}

func (a *AggregateError) add(kind ErrorKind, stage, step, msg string) {
	a.Errors = append(a.Errors, &CompileError{Kind: kind, Stage: stage, Step: step, Message: msg})
}

func (a *AggregateError) HasErrors() bool { return len(a.Errors) > 0 }

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	var buf [20]byte
	i := len(buf)
	neg := n < 0
	if neg {
		n = -n
	}
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	if neg {
		i--
		buf[i] = '-'
	}
	return string(buf[i:])
}

// NotTriggered indicates compilation produced no plan because no declared
// trigger matched the context — not an error (§4.1 step 2).
type NotTriggered struct{}

func (NotTriggered) Error() string { return "no declared trigger matches the context" }
