package template

import (
	"regexp"
	"sort"
	"strings"

	"autoconf/internal/trigger"
)

const (
	directiveArray  = "array:"
	directiveConcat = "concat:"
	directiveCount  = "count"
)

// concatPattern matches "<attr>:<prefix>[<innerPrefix>%<innerSuffix>]<suffix>".
var concatPattern = regexp.MustCompile(`^([^:\[%]+):([^:\[%]*)\[([^:\[%]*)%([^:\[%]*)\]([^:\[%]*)$`)

// Aggregate is a read-only view over a set of triggers, used as the template
// source of shared records. References are directives:
//
//	{array:port}                 every trigger's port as a []string
//	{concat:host:<[%,]>}         "<" + "host1," + "host2," + ">"
//	{count}                      number of triggers
type Aggregate struct {
	triggers []trigger.Trigger
}

// NewAggregate snapshots triggers, ordered by ID.
func NewAggregate(triggers []trigger.Trigger) *Aggregate {
	snapshot := make([]trigger.Trigger, len(triggers))
	for i, t := range triggers {
		snapshot[i] = t.Clone()
	}
	sort.Slice(snapshot, func(i, j int) bool { return snapshot[i].ID < snapshot[j].ID })
	return &Aggregate{triggers: snapshot}
}

// Array returns the string form of attr for every trigger.
func (a *Aggregate) Array(attr string) []string {
	out := make([]string, len(a.triggers))
	for i, t := range a.triggers {
		out[i] = stringProperty(t, attr)
	}
	return out
}

// Concat joins the string form of attr for every trigger, wrapping each in
// innerPrefix and innerSuffix and the whole in prefix and suffix.
func (a *Aggregate) Concat(attr, prefix, innerPrefix, innerSuffix, suffix string) string {
	var b strings.Builder
	b.WriteString(prefix)
	for _, t := range a.triggers {
		b.WriteString(innerPrefix)
		b.WriteString(stringProperty(t, attr))
		b.WriteString(innerSuffix)
	}
	b.WriteString(suffix)
	return b.String()
}

// Count returns the number of triggers.
func (a *Aggregate) Count() int {
	return len(a.triggers)
}

// Triggers returns the snapshot.
func (a *Aggregate) Triggers() []trigger.Trigger {
	return a.triggers
}

// Property evaluates a directive. A concat directive that does not match
// the expected shape evaluates to its own argument text.
func (a *Aggregate) Property(name string) (any, bool) {
	switch {
	case strings.HasPrefix(name, directiveArray):
		return a.Array(strings.TrimPrefix(name, directiveArray)), true

	case strings.HasPrefix(name, directiveConcat):
		arg := strings.TrimPrefix(name, directiveConcat)
		m := concatPattern.FindStringSubmatch(arg)
		if m == nil {
			return arg, true
		}
		return a.Concat(m[1], m[2], m[3], m[4], m[5]), true

	case name == directiveCount:
		return a.Count(), true
	}
	return nil, false
}

func stringProperty(t trigger.Trigger, attr string) string {
	v, ok := t.Property(attr)
	if !ok {
		return Missing
	}
	return trigger.FormatValue(v)
}
