package trigger

import (
	"fmt"
	"strconv"
	"strings"

	"k8s.io/apimachinery/pkg/labels"
)

// Filter selects triggers by their attributes. The expression language is
// the Kubernetes label selector syntax, e.g. "kind=producer,zone in (a,b)".
// The empty expression matches every trigger.
type Filter struct {
	expr     string
	selector labels.Selector
}

// ParseFilter compiles a filter expression.
func ParseFilter(expr string) (Filter, error) {
	expr = strings.TrimSpace(expr)
	if expr == "" {
		return Filter{selector: labels.Everything()}, nil
	}

	selector, err := labels.Parse(expr)
	if err != nil {
		return Filter{}, fmt.Errorf("%w %q: %v", ErrInvalidFilter, expr, err)
	}
	return Filter{expr: expr, selector: selector}, nil
}

// Matches reports whether t satisfies the filter.
func (f Filter) Matches(t Trigger) bool {
	if f.selector == nil {
		return true
	}
	set := make(labels.Set, len(t.Attributes))
	for k, v := range t.Attributes {
		set[k] = FormatValue(v)
	}
	return f.selector.Matches(set)
}

// String returns the normalized expression.
func (f Filter) String() string {
	return f.expr
}

// FormatValue renders an attribute value in its string form: strings as-is,
// string arrays joined with ",", nil as "null".
func FormatValue(v any) string {
	switch val := v.(type) {
	case nil:
		return "null"
	case string:
		return val
	case bool:
		return strconv.FormatBool(val)
	case int:
		return strconv.Itoa(val)
	case int32:
		return strconv.FormatInt(int64(val), 10)
	case int64:
		return strconv.FormatInt(val, 10)
	case uint64:
		return strconv.FormatUint(val, 10)
	case float32:
		return strconv.FormatFloat(float64(val), 'g', -1, 32)
	case float64:
		return strconv.FormatFloat(val, 'g', -1, 64)
	case []string:
		return strings.Join(val, ",")
	case fmt.Stringer:
		return val.String()
	default:
		return fmt.Sprintf("%v", val)
	}
}
