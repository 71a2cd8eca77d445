package template

import (
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func contextFromJSON(t *testing.T, jsonText string) map[string]interface{} {
	t.Helper()
	var ctx map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(jsonText), &ctx))
	return ctx
}

func TestRenderDottedPaths(t *testing.T) {
	ctx := contextFromJSON(t, `{"data":{"id_purchase_order":1021,"supplier_name":"ACME"}}`)

	out := Render("Order {{data.id_purchase_order}} from {{data.supplier_name}}", ctx)
	assert.Equal(t, "Order 1021 from ACME", out)
}

func TestRenderMissingPathIsEmpty(t *testing.T) {
	ctx := contextFromJSON(t, `{"a":{"b":"x"}}`)
	assert.Equal(t, "[]", Render("[{{a.missing.deep}}]", ctx))
}

func TestRenderEach(t *testing.T) {
	ctx := contextFromJSON(t, `{"items":[{"name":"one"},{"name":"two"},{"name":"three"}]}`)

	out := Render("{{#each items}}<li>{{name}}</li>{{/each}} total {{items.length}}", ctx)
	assert.Equal(t, "<li>one</li><li>two</li><li>three</li> total 3", out)
}

func TestRenderNestedEach(t *testing.T) {
	ctx := contextFromJSON(t, `{"orders":[{"id":1,"lines":[{"sku":"A"},{"sku":"B"}]},{"id":2,"lines":[{"sku":"C"}]}]}`)

	out := Render("{{#each orders}}{{id}}:{{#each lines}}{{sku}}{{/each}};{{/each}}", ctx)
	assert.Equal(t, "1:AB;2:C;", out)
}

func TestRenderEachEmptyList(t *testing.T) {
	ctx := contextFromJSON(t, `{"items":[]}`)
	assert.Equal(t, "", Render("{{#each items}}x{{/each}}", ctx))
}

func TestRenderIfElse(t *testing.T) {
	ctx := contextFromJSON(t, `{"urgent":true,"note":""}`)

	assert.Equal(t, "URGENT", Render("{{#if urgent}}URGENT{{else}}normal{{/if}}", ctx))
	assert.Equal(t, "normal", Render("{{#if note}}has note{{else}}normal{{/if}}", ctx))
}

func TestIsTruthyBlock(t *testing.T) {
	tests := []struct {
		value    string
		expected string
	}{
		{`"yes"`, "shown"},
		{`""`, ""},
		{`"null"`, ""},
		{`"FALSE"`, ""},
		{`"0"`, ""},
		{`null`, ""},
		{`0`, ""},
		{`7`, "shown"},
	}
	for _, tt := range tests {
		t.Run(tt.value, func(t *testing.T) {
			ctx := contextFromJSON(t, fmt.Sprintf(`{"x":%s}`, tt.value))
			assert.Equal(t, tt.expected, Render("{{isTruthy x}}shown{{/isTruthy}}", ctx))
		})
	}
}

func TestRenderEq(t *testing.T) {
	ctx := contextFromJSON(t, `{"status":"Open","kind":"vehicle"}`)

	assert.Equal(t, "true", Render(`{{eq status "OPEN"}}`, ctx))
	assert.Equal(t, "false", Render(`{{eq status "closed"}}`, ctx))
	assert.Equal(t, "false", Render("{{eq status kind}}", ctx))
}

func TestRenderNowPatterns(t *testing.T) {
	now := time.Now()

	out := Render(`{{now "DD/MM/YYYY"}}`, nil)
	// Allow the test to straddle midnight
	if out != now.Format("02/01/2006") {
		assert.Equal(t, now.Add(-time.Minute).Format("02/01/2006"), out)
	}

	yy := Render(`{{now "YY"}}`, nil)
	assert.Len(t, yy, 2)
	assert.Equal(t, now.Format("06"), yy)

	yyyy := Render(`{{now "YYYY"}}`, nil)
	assert.Len(t, yyyy, 4)
	assert.Equal(t, now.Format("2006"), yyyy)
}

func TestPreprocessNowColonForm(t *testing.T) {
	assert.Equal(t, `{{now "DD/MM/YYYY"}}`, Preprocess(`{{now:DD/MM/YYYY}}`))

	out := Render(`{{now:YYYY}}`, nil)
	assert.Equal(t, time.Now().Format("2006"), out)
}

func TestTranslateDatePatternOrder(t *testing.T) {
	// YYYY must not be corrupted by the YY substitution
	assert.Equal(t, "2006-01-02", translateDatePattern("YYYY-MM-DD"))
	assert.Equal(t, "06-01-02", translateDatePattern("YY-MM-DD"))
	assert.Equal(t, "02/01/2006 15:04:05", translateDatePattern("DD/MM/YYYY HH:mm:ss"))
}

func TestRenderFormatDate(t *testing.T) {
	ctx := contextFromJSON(t, `{"event":{"time":"2026-02-04T10:00:00Z"}}`)

	out := Render(`{{formatDate event.time "DD/MM/YYYY"}}`, ctx)
	assert.Equal(t, "04/02/2026", out)
}

func TestRenderFormatDateMissingValueIsEmpty(t *testing.T) {
	ctx := contextFromJSON(t, `{}`)
	assert.Equal(t, "", Render(`{{formatDate event.time "DD/MM/YYYY"}}`, ctx))
}

func TestRenderErrorReturnsOriginal(t *testing.T) {
	original := "Hello {{#if x}}unclosed"
	assert.Equal(t, original, Render(original, map[string]interface{}{"x": true}))
}

func TestRenderUnparseableDateReturnsOriginal(t *testing.T) {
	ctx := contextFromJSON(t, `{"when":"not a date"}`)
	original := `{{formatDate when "YYYY"}}`
	assert.Equal(t, original, Render(original, ctx))
}

func TestRenderRoundTripValues(t *testing.T) {
	ctx := contextFromJSON(t, `{"a":"alpha","n":{"b":42},"f":3.25}`)

	out := Render("{{a}}|{{n.b}}|{{f}}|{{a}}", ctx)
	assert.Equal(t, "alpha|42|3.25|alpha", out)
}
