package template

import (
	"errors"
	"fmt"
	"strings"

	"autoconf/internal/trigger"
)

// Missing is the value substituted for a reference that names no attribute.
const Missing = "null"

// ErrMalformedTemplate is matched by every MalformedTemplateError.
var ErrMalformedTemplate = errors.New("malformed property template")

// MalformedTemplateError reports a template line that is not of the form
// key=value.
type MalformedTemplateError struct {
	Line  string
	Index int
}

func (e *MalformedTemplateError) Error() string {
	return fmt.Sprintf("property %q (line %d) is not in the format key=value", e.Line, e.Index+1)
}

// Is makes errors.Is(err, ErrMalformedTemplate) hold.
func (e *MalformedTemplateError) Is(target error) bool {
	return target == ErrMalformedTemplate
}

// Source provides attribute values to the resolver. trigger.Trigger and
// *Aggregate implement it.
type Source interface {
	Property(name string) (any, bool)
}

var _ Source = trigger.Trigger{}

// Resolve evaluates property template lines against src.
//
// Each line is split on its first "=". The value is taken literally when it
// holds no complete reference or when src is nil. A value that is exactly
// one reference, such as "{port}", yields the attribute with its type kept.
// Any other value has each "{name}" replaced by the string form of the
// attribute and yields a string.
func Resolve(lines []string, src Source) (map[string]any, error) {
	props := make(map[string]any, len(lines))
	for i, line := range lines {
		key, value, ok := strings.Cut(line, "=")
		if !ok {
			return nil, &MalformedTemplateError{Line: line, Index: i}
		}
		props[key] = ResolveValue(value, src)
	}
	return props, nil
}

// ResolveValue evaluates a single value template.
func ResolveValue(value string, src Source) any {
	open := strings.IndexByte(value, '{')
	closing := strings.IndexByte(value, '}')

	if open == -1 || closing == -1 || src == nil {
		return value
	}

	if open == 0 && closing == len(value)-1 {
		return lookup(src, value[1:len(value)-1])
	}

	return interpolate(value, src)
}

// interpolate replaces every {name} with the string form of the attribute.
// References are the shortest {...} spans scanning left to right; an
// opening brace with no closing brace after it is kept as text.
func interpolate(value string, src Source) string {
	var b strings.Builder
	rest := value
	for {
		open := strings.IndexByte(rest, '{')
		if open == -1 {
			break
		}
		closing := strings.IndexByte(rest[open+1:], '}')
		if closing == -1 {
			break
		}
		closing += open + 1

		b.WriteString(rest[:open])
		b.WriteString(trigger.FormatValue(lookup(src, rest[open+1:closing])))
		rest = rest[closing+1:]
	}
	b.WriteString(rest)
	return b.String()
}

func lookup(src Source, name string) any {
	v, ok := src.Property(name)
	if !ok || v == nil {
		return Missing
	}
	return v
}
