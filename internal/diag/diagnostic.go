package diag

import (
	"qcheck/internal/source"
)

type Note struct {
	Span source.Span
	Msg  string
}

// Subject names what a diagnostic is about. Resource is zero when the
// finding is about a binding that never resolved to a resource.
type Subject struct {
	Binding  string
	Resource uint32
}

type Diagnostic struct {
	Severity Severity
	Code     Code
	Unit     string
	Subject  Subject
	Message  string
	Primary  source.Span
	Notes    []Note
}

func New(sev Severity, code Code, primary source.Span, msg string) Diagnostic {
	return Diagnostic{
		Severity: sev,
		Code:     code,
		Primary:  primary,
		Message:  msg,
	}
}

func NewError(code Code, primary source.Span, msg string) Diagnostic {
	return New(SevError, code, primary, msg)
}

func (d Diagnostic) WithNote(sp source.Span, msg string) Diagnostic {
	d.Notes = append(d.Notes, Note{Span: sp, Msg: msg})
	return d
}

// Equal reports whether two diagnostics carry the same content.
func (d Diagnostic) Equal(other Diagnostic) bool {
	if d.Severity != other.Severity || d.Code != other.Code || d.Unit != other.Unit ||
		d.Subject != other.Subject || d.Message != other.Message || d.Primary != other.Primary ||
		len(d.Notes) != len(other.Notes) {
		return false
	}
	for i := range d.Notes {
		if d.Notes[i] != other.Notes[i] {
			return false
		}
	}
	return true
}
