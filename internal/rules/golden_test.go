package rules

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/sebdah/goldie/v2"
	"github.com/stretchr/testify/require"

	"github.com/irmahq/irma/internal/schema"
)

// Golden files pin the full violation report shape per locale.
// Regenerate with: go test ./internal/rules -update

func invalidBook() *schema.Record {
	return &schema.Record{ID: "b-9", EntityType: "book", Attrs: map[string]schema.Value{
		"price":  schema.Float(-5),
		"format": schema.String("digital"),
	}}
}

func assertGoldenReport(t *testing.T, name string, report Report) {
	t.Helper()
	data, err := json.MarshalIndent(report, "", "  ")
	require.NoError(t, err)

	g := goldie.New(t, goldie.WithFixtureDir("testdata/golden"))
	g.Assert(t, name, append(data, '\n'))
}

func TestGoldenReportEnglish(t *testing.T) {
	eval := newTestEvaluator(t, []*schema.EntitySpec{bookSpec()})

	report, err := eval.Validate(context.Background(), "book", invalidBook(), nil, &fakeLookup{})
	require.NoError(t, err)

	assertGoldenReport(t, "book_report_en", report)
}

func TestGoldenReportGerman(t *testing.T) {
	eval := newTestEvaluator(t, []*schema.EntitySpec{bookSpec()}, WithLocale("de"))

	report, err := eval.Validate(context.Background(), "book", invalidBook(), nil, &fakeLookup{})
	require.NoError(t, err)

	assertGoldenReport(t, "book_report_de", report)
}
