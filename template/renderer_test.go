package template

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testScope() map[string]any {
	return map[string]any{
		"user": map[string]any{
			"goal":  "ship it",
			"empty": "",
		},
		"run":   map[string]any{"id": "run-42"},
		"round": 2,
		"state": map[string]string{
			"latestCritique": "needs tests",
		},
		"steps": map[string]any{
			"worker": map[string]any{
				"parsed": map[string]any{
					"status": "ok",
					"count":  3.0,
				},
			},
		},
	}
}

func TestRenderPlainText(t *testing.T) {
	got, err := Render("no expressions here", testScope())
	require.NoError(t, err)
	assert.Equal(t, "no expressions here", got)
}

func TestRenderPath(t *testing.T) {
	got, err := Render("goal: {{user.goal}}", testScope())
	require.NoError(t, err)
	assert.Equal(t, "goal: ship it", got)
}

func TestRenderFallbackToLiteral(t *testing.T) {
	got, err := Render(`{{user.missing||"default"}}`, testScope())
	require.NoError(t, err)
	assert.Equal(t, "default", got)
}

func TestRenderFirstDefinedWins(t *testing.T) {
	got, err := Render(`{{user.missing||state.latestCritique||"unused"}}`, testScope())
	require.NoError(t, err)
	assert.Equal(t, "needs tests", got)
}

func TestRenderEmptyValueFallsThrough(t *testing.T) {
	// An empty scope value is not "defined"; an empty literal is.
	got, err := Render(`{{user.empty||"fallback"}}`, testScope())
	require.NoError(t, err)
	assert.Equal(t, "fallback", got)

	got, err = Render(`{{""||user.goal}}`, testScope())
	require.NoError(t, err)
	assert.Equal(t, "", got)
}

func TestRenderUnresolvedIsEmpty(t *testing.T) {
	got, err := Render("[{{user.missing}}]", testScope())
	require.NoError(t, err)
	assert.Equal(t, "[]", got)
}

func TestRenderNonStringCanonicalJSON(t *testing.T) {
	got, err := Render("{{steps.worker.parsed}}", testScope())
	require.NoError(t, err)
	assert.Equal(t, `{"count":3,"status":"ok"}`, got)

	got, err = Render("round {{round}}", testScope())
	require.NoError(t, err)
	assert.Equal(t, "round 2", got)
}

func TestRenderDeterministic(t *testing.T) {
	scope := testScope()
	first, err := Render("{{steps.worker.parsed}} {{user.goal}}", scope)
	require.NoError(t, err)
	for i := 0; i < 10; i++ {
		again, err := Render("{{steps.worker.parsed}} {{user.goal}}", scope)
		require.NoError(t, err)
		assert.Equal(t, first, again)
	}
}

func TestRenderLiteralEscapes(t *testing.T) {
	got, err := Render(`{{user.missing||"say \"hi\""}}`, testScope())
	require.NoError(t, err)
	assert.Equal(t, `say "hi"`, got)
}

func TestRenderMultipleExpressions(t *testing.T) {
	got, err := Render("{{run.id}}.{{user.goal}}", testScope())
	require.NoError(t, err)
	assert.Equal(t, "run-42.ship it", got)
}

func TestRenderErrors(t *testing.T) {
	cases := []string{
		"{{user.goal",          // unterminated expression
		`{{user.a||}}`,         // empty segment
		`{{"unterminated}}`,    // unterminated literal runs past the close
		`{{"bad\qescape"}}`,    // malformed literal
	}
	for _, tmpl := range cases {
		_, err := Render(tmpl, testScope())
		require.Error(t, err, tmpl)

		var terr *Error
		assert.ErrorAs(t, err, &terr, tmpl)
	}
}

func TestRenderTree(t *testing.T) {
	tree := map[string]any{
		"title": "{{user.goal}}",
		"meta": map[string]any{
			"run":   "{{run.id}}",
			"count": 7,
		},
		"list": []any{"{{state.latestCritique}}", true},
	}

	got, err := RenderTree(tree, testScope())
	require.NoError(t, err)
	assert.Equal(t, map[string]any{
		"title": "ship it",
		"meta": map[string]any{
			"run":   "run-42",
			"count": 7,
		},
		"list": []any{"needs tests", true},
	}, got)
}

func TestRenderMap(t *testing.T) {
	got, err := RenderMap(map[string]string{
		"critique": "{{steps.worker.parsed.status}}",
		"label":    `{{user.missing||"none"}}`,
	}, testScope())
	require.NoError(t, err)
	assert.Equal(t, map[string]string{
		"critique": "ok",
		"label":    "none",
	}, got)
}

func TestResolve(t *testing.T) {
	scope := testScope()

	v, ok := Resolve("steps.worker.parsed.count", scope)
	require.True(t, ok)
	assert.Equal(t, 3.0, v)

	v, ok = Resolve("state.latestCritique", scope)
	require.True(t, ok)
	assert.Equal(t, "needs tests", v)

	_, ok = Resolve("steps.worker.raw", scope)
	assert.False(t, ok)

	_, ok = Resolve("user.goal.deeper", scope)
	assert.False(t, ok)
}

func TestResolveSliceIndex(t *testing.T) {
	scope := map[string]any{"items": []any{"a", "b"}}

	v, ok := Resolve("items.1", scope)
	require.True(t, ok)
	assert.Equal(t, "b", v)

	_, ok = Resolve("items.5", scope)
	assert.False(t, ok)
}

func TestStringify(t *testing.T) {
	assert.Equal(t, "plain", Stringify("plain"))
	assert.Equal(t, "true", Stringify(true))
	assert.Equal(t, `["a","b"]`, Stringify([]any{"a", "b"}))
	assert.Equal(t, `{"a":1,"b":2}`, Stringify(map[string]any{"b": 2, "a": 1}))
}
