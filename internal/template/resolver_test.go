package template

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"autoconf/internal/trigger"
)

func tr(attrs map[string]any) trigger.Trigger {
	return trigger.Trigger{ID: "t", Attributes: attrs}
}

func TestResolve(t *testing.T) {
	src := tr(map[string]any{
		"v":    "x",
		"port": 5432,
		"tags": []string{"a", "b"},
		"on":   true,
	})

	tests := []struct {
		name string
		line string
		want any
	}{
		{"exact reference", "k={v}", "x"},
		{"embedded reference", "k=pre{v}post", "prexpost"},
		{"exact reference keeps type", "k={port}", 5432},
		{"exact reference keeps array", "k={tags}", []string{"a", "b"}},
		{"embedded number", "k=db:{port}", "db:5432"},
		{"embedded array", "k=[{tags}]", "[a,b]"},
		{"embedded bool", "k={on}!", "true!"},
		{"multiple references", "k={v}-{port}-{v}", "x-5432-x"},
		{"literal", "k=plain", "plain"},
		{"empty value", "k=", ""},
		{"only open brace", "k={v", "{v"},
		{"only close brace", "k=v}", "v}"},
		{"close before open", "k=}v{", "}v{"},
		{"unclosed trailing reference", "k={v}{port", "x{port"},
		{"missing exact", "k={nope}", "null"},
		{"missing embedded", "k=a{nope}b", "anullb"},
		{"value with equals", "k=a=b", "a=b"},
		{"reference with equals", "k=x={v}", "x=x"},
		{"empty reference", "k={}", "null"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			props, err := Resolve([]string{tt.line}, src)
			require.NoError(t, err)
			assert.Equal(t, tt.want, props["k"])
		})
	}
}

func TestResolveNilSourceIsLiteral(t *testing.T) {
	props, err := Resolve([]string{"k={v}", "url=http://{host}"}, nil)
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"k": "{v}", "url": "http://{host}"}, props)
}

func TestResolveMultipleLines(t *testing.T) {
	props, err := Resolve([]string{"a=1", "b={v}", "a=2"}, tr(map[string]any{"v": "x"}))
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"a": "2", "b": "x"}, props, "later lines win")
}

func TestResolveMalformed(t *testing.T) {
	_, err := Resolve([]string{"ok=1", "broken"}, tr(nil))
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrMalformedTemplate))

	var mte *MalformedTemplateError
	require.True(t, errors.As(err, &mte))
	assert.Equal(t, "broken", mte.Line)
	assert.Equal(t, 1, mte.Index)
	assert.Contains(t, err.Error(), "key=value")
}

func TestResolveEmpty(t *testing.T) {
	props, err := Resolve(nil, tr(nil))
	require.NoError(t, err)
	assert.Empty(t, props)
}

func TestResolveNilAttributeIsMissing(t *testing.T) {
	props, err := Resolve([]string{"k={v}"}, tr(map[string]any{"v": nil}))
	require.NoError(t, err)
	assert.Equal(t, "null", props["k"])
}
