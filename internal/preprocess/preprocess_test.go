package preprocess

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/hurttlocker/cvegs/internal/llm"
)

type scriptedLLM struct {
	response string
	err      error
	calls    int
}

func (s *scriptedLLM) Complete(ctx context.Context, prompt string, opts llm.CompletionOpts) (string, error) {
	s.calls++
	if s.err != nil {
		return "", s.err
	}
	return s.response, nil
}

func (s *scriptedLLM) Name() string { return "test/scripted" }

func fixedNow() time.Time {
	return time.Date(2026, 8, 24, 0, 0, 0, 0, time.UTC)
}

func TestNormalizeRecordsDiscoversFields(t *testing.T) {
	p := New(nil, Options{Now: fixedNow})
	rows := map[string]map[string]string{
		"r1": {"MODELO": "2022", "DESCRIPCION": "TOYOTA YARIS SOL L SEDAN", "POLIZA": "POL123456"},
		"r2": {"MODELO": "2020", "DESCRIPCION": "NISSAN VERSA ADVANCE AUTO", "POLIZA": "POL789012"},
		"r3": {"MODELO": "2021", "DESCRIPCION": "FORD RANGER PICKUP DIESEL", "POLIZA": "POL345678"},
	}

	got, err := p.NormalizeRecords(context.Background(), rows)
	if err != nil {
		t.Fatalf("NormalizeRecords: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("expected 3 rows, got %d", len(got))
	}
	if got["r1"].Year != 2022 {
		t.Fatalf("unexpected year for r1: %d", got["r1"].Year)
	}
	if got["r1"].Description != "toyota yaris sol l sedan" {
		t.Fatalf("description not normalized: %q", got["r1"].Description)
	}
}

func TestNormalizeRecordSingleWrapped(t *testing.T) {
	p := New(nil, Options{Now: fixedNow})
	got, err := p.NormalizeRecord(context.Background(), map[string]string{
		"anio":        "2019",
		"descripcion": "HONDA CIVIC TURBO SEDAN",
	})
	if err != nil {
		t.Fatalf("NormalizeRecord: %v", err)
	}
	row, ok := got["0"]
	if !ok {
		t.Fatalf("single record must wrap as row \"0\", got %v", got)
	}
	if row.Year != 2019 || row.Description != "honda civic turbo sedan" {
		t.Fatalf("unexpected row: %+v", row)
	}
}

func TestNormalizeRecordsDropsBadRows(t *testing.T) {
	p := New(nil, Options{Now: fixedNow})
	rows := map[string]map[string]string{
		"good":     {"modelo": "2022", "desc": "TOYOTA YARIS SEDAN AUTO GASOLINA"},
		"bad year": {"modelo": "notayear", "desc": "NISSAN VERSA SEDAN AUTO GASOLINA"},
		"too old":  {"modelo": "1890", "desc": "FORD MODELO T AUTO GASOLINA"},
	}
	got, err := p.NormalizeRecords(context.Background(), rows)
	if err != nil {
		t.Fatalf("NormalizeRecords: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("expected 1 surviving row, got %d: %v", len(got), got)
	}
	if _, ok := got["good"]; !ok {
		t.Fatalf("wrong row survived: %v", got)
	}
}

func TestNormalizeRecordsFutureYearBound(t *testing.T) {
	p := New(nil, Options{Now: fixedNow, FutureYearsAhead: 5})
	rows := map[string]map[string]string{
		"next": {"modelo": "2031", "desc": "TOYOTA HILUX PICKUP DIESEL"},
		"far":  {"modelo": "2040", "desc": "NISSAN VERSA SEDAN AUTO"},
	}
	got, err := p.NormalizeRecords(context.Background(), rows)
	if err != nil {
		t.Fatalf("NormalizeRecords: %v", err)
	}
	if _, ok := got["next"]; !ok {
		t.Fatal("year within future window must survive")
	}
	if _, ok := got["far"]; ok {
		t.Fatal("year beyond future window must drop")
	}
}

func TestNormalizeRecordsLLMAssist(t *testing.T) {
	// Ambiguous columns: neither scores as a description without help.
	rows := map[string]map[string]string{
		"r1": {"a": "2022", "b": "X1", "c": "K9"},
		"r2": {"a": "2021", "b": "X2", "c": "K8"},
	}
	provider := &scriptedLLM{response: `{"year_field": "a", "description_field": "b"}`}
	p := New(provider, Options{Now: fixedNow})

	got, err := p.NormalizeRecords(context.Background(), rows)
	if err != nil {
		t.Fatalf("NormalizeRecords: %v", err)
	}
	if provider.calls != 1 {
		t.Fatalf("expected one assist call, got %d", provider.calls)
	}
	if got["r1"].Description != "x1" {
		t.Fatalf("assist mapping not applied: %+v", got["r1"])
	}
}

func TestNormalizeRecordsLLMAssistRejectsUnknownField(t *testing.T) {
	rows := map[string]map[string]string{
		"r1": {"a": "2022", "b": "X1"},
	}
	provider := &scriptedLLM{response: `{"year_field": "a", "description_field": "no_such_column"}`}
	p := New(provider, Options{Now: fixedNow})

	if _, err := p.NormalizeRecords(context.Background(), rows); err == nil {
		t.Fatal("expected failure when assist names an unknown field")
	}
}

func TestNormalizeRecordsLLMFailure(t *testing.T) {
	rows := map[string]map[string]string{
		"r1": {"a": "2022", "b": "X1"},
	}
	provider := &scriptedLLM{err: errors.New("timeout")}
	p := New(provider, Options{Now: fixedNow})

	if _, err := p.NormalizeRecords(context.Background(), rows); err == nil {
		t.Fatal("expected failure when fields stay unresolved")
	}
}

func TestDescriptionScore(t *testing.T) {
	long := descriptionScore("TOYOTA YARIS SOL L SEDAN AUTOMATICO")
	numeric := descriptionScore("2022")
	id := descriptionScore("3HSDZAPT7NN354987")
	if long <= numeric || long <= id {
		t.Fatalf("description must outscore numeric (%v) and ID (%v): %v", numeric, id, long)
	}
	if numeric > 0.1 || id > 0.1 {
		t.Fatalf("penalized values too high: numeric=%v id=%v", numeric, id)
	}
	if descriptionScore("") != 0 {
		t.Fatal("empty value must score 0")
	}
}
