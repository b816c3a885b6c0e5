package testutils

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

type recordingT struct {
	failures []string
}

func (r *recordingT) Errorf(format string, args ...interface{}) {
	r.failures = append(r.failures, fmt.Sprintf(format, args...))
}

func TestJSONAsserter_Defaults(t *testing.T) {
	opts := NewJSONAsserter(t).options
	assert.True(t, opts.IgnoreExtraKeys)
	assert.True(t, opts.AllowPresencePlaceholder)
	assert.False(t, opts.IgnoreArrayOrder)
	assert.Empty(t, opts.IgnoredFields)
}

func TestJSONAsserter_Diff(t *testing.T) {
	tests := []struct {
		name     string
		opts     []Option
		actual   string
		expected string
		equal    bool
	}{
		{
			name:     "identical",
			actual:   `{"id":"a","connected":true}`,
			expected: `{"id":"a","connected":true}`,
			equal:    true,
		},
		{
			name:     "extra keys ignored by default",
			actual:   `{"id":"a","connected":true}`,
			expected: `{"id":"a"}`,
			equal:    true,
		},
		{
			name:     "extra keys reported when strict",
			opts:     []Option{WithIgnoreExtraKeys(false)},
			actual:   `{"id":"a","connected":true}`,
			expected: `{"id":"a"}`,
		},
		{
			name:     "presence placeholder",
			actual:   `{"id":"a","updated_at":"2026-01-01T00:00:00Z"}`,
			expected: `{"id":"a","updated_at":"<<PRESENCE>>"}`,
			equal:    true,
		},
		{
			name:     "presence placeholder needs the key",
			actual:   `{"id":"a"}`,
			expected: `{"id":"a","updated_at":"<<PRESENCE>>"}`,
		},
		{
			name:     "ignored fields",
			opts:     []Option{WithIgnoredFields("ts")},
			actual:   `[{"k":"battery","ts":1},{"k":"mode","ts":2}]`,
			expected: `[{"k":"battery","ts":9},{"k":"mode","ts":9}]`,
			equal:    true,
		},
		{
			name:     "array order matters by default",
			actual:   `[1,2,3]`,
			expected: `[3,2,1]`,
		},
		{
			name:     "array order ignored",
			opts:     []Option{WithIgnoreArrayOrder(true)},
			actual:   `[{"k":"b"},{"k":"a"}]`,
			expected: `[{"k":"a"},{"k":"b"}]`,
			equal:    true,
		},
		{
			name:     "value mismatch",
			actual:   `{"battery":80}`,
			expected: `{"battery":81}`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			diff := NewJSONAsserter(t).WithOptions(tt.opts...).diff(tt.actual, tt.expected)
			if tt.equal {
				assert.Empty(t, diff)
			} else {
				assert.NotEmpty(t, diff)
			}
		})
	}
}

func TestJSONAsserter_InvalidJSON(t *testing.T) {
	ja := NewJSONAsserter(t)
	assert.Contains(t, ja.diff(`{`, `{}`), "invalid actual JSON")
	assert.Contains(t, ja.diff(`{}`, `{`), "invalid expected JSON")
}

func TestJSONAsserter_AssertReportsFailure(t *testing.T) {
	rec := &recordingT{}
	NewJSONAsserter(rec).AssertValue(map[string]int{"battery": 80}, `{"battery":81}`)
	assert.Len(t, rec.failures, 1)
	assert.Contains(t, rec.failures[0], "JSON assertion failed")
}

func TestTextAsserter_Normalization(t *testing.T) {
	tests := []struct {
		name     string
		opts     []TextOption
		actual   string
		expected string
		equal    bool
	}{
		{name: "identical", actual: "a\nb", expected: "a\nb", equal: true},
		{name: "different", actual: "a\nb", expected: "a\nc"},
		{name: "trailing whitespace", opts: []TextOption{WithIgnoreTrailingWhitespace(true)}, actual: "a  \nb\t", expected: "a\nb", equal: true},
		{name: "empty lines", opts: []TextOption{WithIgnoreEmptyLines(true)}, actual: "a\n\n\nb", expected: "a\nb", equal: true},
		{name: "trim space", opts: []TextOption{WithTrimSpace(true)}, actual: "\n a\nb \n", expected: "a\nb", equal: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			diff := NewTextAsserter(t).WithOptions(tt.opts...).diff(tt.actual, tt.expected)
			if tt.equal {
				assert.Empty(t, diff)
			} else {
				assert.NotEmpty(t, diff)
			}
		})
	}
}

func TestTextAsserter_UnifiedDiff(t *testing.T) {
	diff := NewTextAsserter(t).diff("line1\nline2\n", "line1\nlineX\n")
	assert.Contains(t, diff, "--- expected")
	assert.Contains(t, diff, "+++ actual")
	assert.Contains(t, diff, "-lineX")
	assert.Contains(t, diff, "+line2")
}

func TestTextAsserter_Colors(t *testing.T) {
	diff := NewTextAsserter(t).WithOptions(WithEnableColors(true)).diff("a b\n", "a c\n")
	assert.Contains(t, diff, "\x1b[")
	assert.Contains(t, diff, "a·b")
}

func TestTextAsserter_AssertReportsFailure(t *testing.T) {
	rec := &recordingT{}
	NewTextAsserter(rec).Assert("x", "y")
	assert.Len(t, rec.failures, 1)
}
