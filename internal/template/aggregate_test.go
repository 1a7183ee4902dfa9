package template

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"autoconf/internal/trigger"
)

func pids(ids ...string) []trigger.Trigger {
	out := make([]trigger.Trigger, 0, len(ids))
	for _, id := range ids {
		out = append(out, trigger.Trigger{ID: id, Attributes: map[string]any{"pid": id}})
	}
	return out
}

func TestAggregateArrayAndCount(t *testing.T) {
	agg := NewAggregate(pids("C", "A", "B"))

	assert.Equal(t, []string{"A", "B", "C"}, agg.Array("pid"))
	assert.Equal(t, 3, agg.Count())
	assert.Len(t, agg.Array("pid"), agg.Count())
	assert.Equal(t, []string{"null", "null", "null"}, agg.Array("missing"))
}

func TestAggregateConcat(t *testing.T) {
	assert.Equal(t, "OUT[]OUT", NewAggregate(nil).Concat("pid", "OUT[", "(", ")", "]OUT"))
	assert.Equal(t, "OUT[(A)(B)]OUT", NewAggregate(pids("B", "A")).Concat("pid", "OUT[", "(", ")", "]OUT"))
}

func TestAggregateDirectives(t *testing.T) {
	agg := NewAggregate(pids("a", "b"))

	tests := []struct {
		name  string
		value string
		want  any
	}{
		{"array", "{array:pid}", []string{"a", "b"}},
		{"array embedded", "ids={array:pid}", "ids=a,b"},
		{"count", "{count}", 2},
		{"count embedded", "n={count}", "n=2"},
		{"concat", "{concat:pid:<[(%)]>}", "<(a)(b)>"},
		{"concat empty parts", "{concat:pid:[%,]}", "a,b,"},
		{"malformed concat", "{concat:pid-no-brackets}", "pid-no-brackets"},
		{"unknown directive", "{pid}", "null"},
		{"literal", "static", "static"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ResolveValue(tt.value, agg))
		})
	}
}

func TestAggregateEmpty(t *testing.T) {
	agg := NewAggregate(nil)

	props, err := Resolve([]string{"ids={array:pid}", "n={count}", "joined=<{array:pid}>", "bad={concat:pid:[[%]]}"}, agg)
	require.NoError(t, err)
	assert.Equal(t, []string{}, props["ids"])
	assert.Equal(t, 0, props["n"])
	assert.Equal(t, "<>", props["joined"])
	assert.Equal(t, "pid:[[%]]", props["bad"], "brackets are not allowed inside concat parts")
}

func TestAggregateSnapshotIsIsolated(t *testing.T) {
	src := pids("a")
	agg := NewAggregate(src)
	src[0].Attributes["pid"] = "changed"

	assert.Equal(t, []string{"a"}, agg.Array("pid"))
	require.Len(t, agg.Triggers(), 1)
}
