package output_test

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/pankaj-dahiya-devops/opsaudit/internal/models"
	"github.com/pankaj-dahiya-devops/opsaudit/internal/output"
)

// ── helpers ───────────────────────────────────────────────────────────────────

func renderToString(t *testing.T, records []*models.Record, opts output.TableOptions) string {
	t.Helper()
	var buf bytes.Buffer
	if err := output.RenderTable(&buf, records, opts); err != nil {
		t.Fatalf("RenderTable: %v", err)
	}
	return buf.String()
}

func volumes() []*models.Record {
	return []*models.Record{
		models.NewRecord("region", "us-east-1", "volume_id", "vol-0a", "size_gb", 100, "snapshot_id", nil),
		models.NewRecord("region", "eu-west-1", "volume_id", "vol-0bbbbbbbbbbb", "size_gb", 8, "snapshot_id", "snap-1"),
	}
}

// ── table layout ──────────────────────────────────────────────────────────────

func TestRenderTable_Layout(t *testing.T) {
	out := renderToString(t, volumes(), output.TableOptions{})
	lines := strings.Split(strings.TrimRight(out, "\n"), "\n")

	want := []string{
		"REGION     VOLUME_ID         SIZE_GB  SNAPSHOT_ID",
		"---------  ----------------  -------  -----------",
		"us-east-1  vol-0a            100      -",
		"eu-west-1  vol-0bbbbbbbbbbb  8        snap-1",
	}
	if len(lines) != len(want) {
		t.Fatalf("got %d lines, want %d\n%s", len(lines), len(want), out)
	}
	for i := range want {
		if lines[i] != want[i] {
			t.Errorf("line %d:\n got %q\nwant %q", i, lines[i], want[i])
		}
	}
}

func TestRenderTable_NoTruncation(t *testing.T) {
	long := strings.Repeat("x", 120)
	out := renderToString(t, []*models.Record{models.NewRecord("id", long)}, output.TableOptions{})
	if !strings.Contains(out, long) {
		t.Errorf("long cell must be printed in full\ngot:\n%s", out)
	}
}

func TestRenderTable_ColumnUnionFirstSeenOrder(t *testing.T) {
	recs := []*models.Record{
		models.NewRecord("a", "1"),
		models.NewRecord("b", "2", "a", "3"),
	}
	out := renderToString(t, recs, output.TableOptions{})
	header := strings.SplitN(out, "\n", 2)[0]
	if !strings.HasPrefix(header, "A ") || !strings.Contains(header, "B") {
		t.Errorf("expected header A then B, got %q", header)
	}
	if !strings.Contains(out, "1  -") {
		t.Errorf("missing field must render as '-'\ngot:\n%s", out)
	}
}

func TestRenderTable_SelectedColumns(t *testing.T) {
	out := renderToString(t, volumes(), output.TableOptions{Columns: []string{"volume_id", "region"}})
	if strings.Contains(out, "SIZE_GB") {
		t.Errorf("unselected column rendered\ngot:\n%s", out)
	}
	if !strings.HasPrefix(out, "VOLUME_ID") {
		t.Errorf("columns must follow the selection order\ngot:\n%s", out)
	}
}

func TestRenderTable_Empty(t *testing.T) {
	out := renderToString(t, nil, output.TableOptions{EmptyMessage: "No unattached volumes found."})
	if out != "No unattached volumes found.\n" {
		t.Errorf("got %q", out)
	}
	out = renderToString(t, nil, output.TableOptions{})
	if out != "No findings.\n" {
		t.Errorf("default empty message: got %q", out)
	}
}

// ── cell formatting ───────────────────────────────────────────────────────────

func TestFormatCell(t *testing.T) {
	tests := []struct {
		in   any
		want string
	}{
		{nil, "-"},
		{"", "-"},
		{"vol-1", "vol-1"},
		{1.5, "1.50"},
		{42, "42"},
		{true, "yes"},
		{false, "no"},
		{[]string{"a", "b"}, "a; b"},
		{map[string]string{"b": "2", "a": "1"}, "a=1,b=2"},
	}
	for _, tc := range tests {
		if got := output.FormatCell(tc.in); got != tc.want {
			t.Errorf("FormatCell(%#v) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

// ── JSON ──────────────────────────────────────────────────────────────────────

func TestRender_JSONRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	if err := output.Render(&buf, volumes(), output.FormatJSON, output.TableOptions{}); err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(buf.String(), "[\n  {\n    \"region\"") {
		t.Errorf("expected two-space indented array, got:\n%s", buf.String())
	}

	first := buf.String()
	recs, err := output.DecodeRecords(strings.NewReader(first))
	if err != nil {
		t.Fatal(err)
	}
	var again bytes.Buffer
	if err := output.Render(&again, recs, output.FormatJSON, output.TableOptions{}); err != nil {
		t.Fatal(err)
	}
	if again.String() != first {
		t.Errorf("round trip changed output:\nfirst:\n%s\nsecond:\n%s", first, again.String())
	}
}

func TestDecodeRecords_IntegersSurvive(t *testing.T) {
	recs, err := output.DecodeRecords(strings.NewReader(`[{"volume_id":"vol-1","size_gb":100,"cost":8.5}]`))
	if err != nil {
		t.Fatal(err)
	}
	if len(recs) != 1 {
		t.Fatalf("got %d records", len(recs))
	}
	if v, _ := recs[0].Get("size_gb"); v != 100 {
		t.Errorf("size_gb = %#v, want int 100", v)
	}
	if v, _ := recs[0].Get("cost"); v != 8.5 {
		t.Errorf("cost = %#v, want 8.5", v)
	}
}

func TestRender_JSONEmptyIsArray(t *testing.T) {
	var buf bytes.Buffer
	if err := output.Render(&buf, nil, output.FormatJSON, output.TableOptions{}); err != nil {
		t.Fatal(err)
	}
	if buf.String() != "[]\n" {
		t.Errorf("got %q, want %q", buf.String(), "[]\n")
	}
}

func TestParseFormat(t *testing.T) {
	if f, err := output.ParseFormat("JSON"); err != nil || f != output.FormatJSON {
		t.Errorf("ParseFormat(JSON) = %q, %v", f, err)
	}
	if f, err := output.ParseFormat(""); err != nil || f != output.FormatTable {
		t.Errorf("ParseFormat(\"\") = %q, %v", f, err)
	}
	if _, err := output.ParseFormat("yaml"); err == nil {
		t.Error("expected error for yaml")
	}
}

// ── report ────────────────────────────────────────────────────────────────────

func sampleReport(mode models.RunMode) *models.AuditReport {
	return &models.AuditReport{
		Auditor:     "ebs-unattached",
		GeneratedAt: time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
		Regions:     []string{"us-east-1"},
		Mode:        mode,
		MaxApply:    100,
		Summary:     models.AuditSummary{Scanned: 3, Flagged: 2},
		Results:     volumes(),
	}
}

func TestRenderReport_TableDryRunHint(t *testing.T) {
	var buf bytes.Buffer
	err := output.RenderReport(&buf, sampleReport(models.ModeDryRun), output.FormatTable, output.ReportOptions{
		DryRunHint: "re-run with --apply to delete",
	})
	if err != nil {
		t.Fatal(err)
	}
	out := buf.String()
	if !strings.Contains(out, "ebs-unattached: scanned 3, flagged 2") {
		t.Errorf("missing summary line\ngot:\n%s", out)
	}
	if !strings.Contains(out, "Dry-run: re-run with --apply to delete") {
		t.Errorf("missing dry-run hint\ngot:\n%s", out)
	}
}

func TestRenderReport_JSONEnvelope(t *testing.T) {
	var buf bytes.Buffer
	if err := output.RenderReport(&buf, sampleReport(models.ModeApply), output.FormatJSON, output.ReportOptions{}); err != nil {
		t.Fatal(err)
	}
	out := buf.String()
	for _, want := range []string{`"auditor": "ebs-unattached"`, `"mode": "apply"`, `"max_apply": 100`, `"results": [`} {
		if !strings.Contains(out, want) {
			t.Errorf("JSON envelope missing %s\ngot:\n%s", want, out)
		}
	}
}
