package export

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"bitbucket.org/mmdatafocus/orderexport_backend/models"
)

func testExporter(t *testing.T, src *fakeSource) (*Exporter, string) {
	t.Helper()
	dir := t.TempDir()
	sink := &LocalSink{Dir: dir, BaseURL: "/exports"}
	catalog := &Catalog{source: src, logger: discardLogger(), ttl: time.Hour, now: time.Now}
	exporter := NewExporter(src, catalog, sink, discardLogger())
	return exporter, dir
}

func TestExport_ValidationOrder(t *testing.T) {
	src := &fakeSource{ids: []int{1}, orders: map[int]*models.Order{1: testOrder()}}
	exporter, _ := testExporter(t, src)
	ctx := context.Background()

	cases := []struct {
		name     string
		req      Request
		expected *Error
	}{
		{"missing everything", Request{}, ErrMissingParameters},
		{"missing fields", Request{StartDate: "2026-02-01", EndDate: "2026-02-28", Format: "csv"}, ErrMissingParameters},
		{"missing format", Request{StartDate: "2026-02-01", EndDate: "2026-02-28", Fields: []string{"total"}}, ErrMissingParameters},
		{"bad start date", Request{StartDate: "02/01/2026", EndDate: "2026-02-28", Fields: []string{"total"}, Format: "csv"}, ErrInvalidDateFormat},
		{"bad end date", Request{StartDate: "2026-02-01", EndDate: "new year", Fields: []string{"total"}, Format: "csv"}, ErrInvalidDateFormat},
		{"inverted range", Request{StartDate: "2026-02-28", EndDate: "2026-02-01", Fields: []string{"total"}, Format: "csv"}, ErrInvalidDateFormat},
		{"unknown format", Request{StartDate: "2026-02-01", EndDate: "2026-02-28", Fields: []string{"total"}, Format: "xlsx"}, ErrInvalidFormat},
		// Presence wins over date syntax when both are wrong.
		{"missing fields with bad dates", Request{StartDate: "bogus", EndDate: "bogus", Format: "csv"}, ErrMissingParameters},
	}
	for _, tc := range cases {
		_, err := exporter.Export(ctx, tc.req)
		if !errors.Is(err, tc.expected) {
			t.Fatalf("%s: expected %v, got %v", tc.name, tc.expected, err)
		}
	}
}

func TestExport_NoOrdersFound(t *testing.T) {
	src := &fakeSource{ids: []int{}}
	exporter, dir := testExporter(t, src)

	_, err := exporter.Export(context.Background(), Request{
		StartDate: "2026-02-01",
		EndDate:   "2026-02-28",
		Fields:    []string{"order_number"},
		Format:    "csv",
	})
	if !errors.Is(err, ErrNoOrdersFound) {
		t.Fatalf("expected ErrNoOrdersFound, got %v", err)
	}

	entries, readErr := os.ReadDir(dir)
	if readErr != nil {
		t.Fatalf("read export dir: %v", readErr)
	}
	if len(entries) != 0 {
		t.Fatalf("expected no file for an empty window, found %d entries", len(entries))
	}
}

func TestExport_SourceErrorPassesThrough(t *testing.T) {
	src := &fakeSource{idsErr: errors.New("connection refused")}
	exporter, _ := testExporter(t, src)

	_, err := exporter.Export(context.Background(), Request{
		StartDate: "2026-02-01",
		EndDate:   "2026-02-28",
		Fields:    []string{"order_number"},
		Format:    "csv",
	})
	if err == nil || err.Error() != "connection refused" {
		t.Fatalf("expected raw source error, got %v", err)
	}
	if _, ok := AsError(err); ok {
		t.Fatalf("source errors must not be coerced into export errors, got %v", err)
	}
}

func TestExport_CSVEndToEnd(t *testing.T) {
	order := testOrder()
	order.Items = []models.OrderLineItem{*testItem()}
	src := &fakeSource{ids: []int{1}, orders: map[int]*models.Order{1: order}}
	exporter, dir := testExporter(t, src)
	exporter.Now = func() time.Time { return time.Date(2026, 2, 28, 17, 5, 9, 0, time.UTC) }

	artifact, err := exporter.Export(context.Background(), Request{
		StartDate: "2026-02-01",
		EndDate:   "2026-02-28",
		Fields:    []string{"order_number", "total"},
		Format:    "csv",
	})
	if err != nil {
		t.Fatalf("Export: %v", err)
	}
	if artifact.Format != FormatCSV {
		t.Fatalf("expected csv artifact, got %s", artifact.Format)
	}
	filename := filepath.Base(artifact.FilePath)
	if !strings.HasPrefix(filename, "orders-export-2026-02-28-17-05-09-") || !strings.HasSuffix(filename, ".csv") {
		t.Fatalf("unexpected filename %q", filename)
	}
	if artifact.PublicURL != "/exports/"+filename {
		t.Fatalf("expected public URL under /exports, got %q", artifact.PublicURL)
	}

	_, records := readCSVFile(t, filepath.Join(dir, filename))
	if len(records) != 2 {
		t.Fatalf("expected header + 1 row, got %d records", len(records))
	}
	if records[0][0] != "Order Number" || records[0][1] != "Total" {
		t.Fatalf("unexpected header: %v", records[0])
	}
	if records[1][0] != "1001" || records[1][1] != "49.99" {
		t.Fatalf("unexpected row: %v", records[1])
	}
}

func TestExport_PDFEndToEnd(t *testing.T) {
	order := testOrder()
	order.Items = []models.OrderLineItem{*testItem()}
	src := &fakeSource{ids: []int{1}, orders: map[int]*models.Order{1: order}}
	exporter, dir := testExporter(t, src)

	artifact, err := exporter.Export(context.Background(), Request{
		StartDate: "2026-02-01",
		EndDate:   "2026-02-28",
		Fields:    []string{"order_number", "product_name", "quantity", "total"},
		Format:    "PDF",
	})
	if err != nil {
		t.Fatalf("Export: %v", err)
	}
	if artifact.Format != FormatPDF {
		t.Fatalf("expected pdf artifact, got %s", artifact.Format)
	}

	raw, err := os.ReadFile(filepath.Join(dir, filepath.Base(artifact.FilePath)))
	if err != nil {
		t.Fatalf("read export file: %v", err)
	}
	if !bytes.HasPrefix(raw, []byte("%PDF-")) {
		t.Fatalf("expected PDF magic bytes, got %q", raw[:8])
	}
}

func TestExport_ConcurrentFilenamesDoNotCollide(t *testing.T) {
	order := testOrder()
	src := &fakeSource{ids: []int{1}, orders: map[int]*models.Order{1: order}}
	exporter, dir := testExporter(t, src)
	// Frozen clock forces identical timestamps; the random suffix must still
	// keep the filenames apart.
	exporter.Now = func() time.Time { return time.Date(2026, 2, 28, 12, 0, 0, 0, time.UTC) }

	req := Request{StartDate: "2026-02-01", EndDate: "2026-02-28", Fields: []string{"order_number"}, Format: "csv"}
	seen := map[string]bool{}
	for i := 0; i < 5; i++ {
		artifact, err := exporter.Export(context.Background(), req)
		if err != nil {
			t.Fatalf("Export #%d: %v", i, err)
		}
		name := filepath.Base(artifact.FilePath)
		if seen[name] {
			t.Fatalf("duplicate export filename %q", name)
		}
		seen[name] = true
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("read export dir: %v", err)
	}
	if len(entries) != 5 {
		t.Fatalf("expected 5 export files, got %d", len(entries))
	}
}

func TestAsError(t *testing.T) {
	if _, ok := AsError(errors.New("plain")); ok {
		t.Fatal("plain errors must not match")
	}
	wrapped := fmt.Errorf("render: %w", ErrNoOrdersFound)
	exportErr, ok := AsError(wrapped)
	if !ok {
		t.Fatalf("expected wrapped export error to match")
	}
	if exportErr.Code != "no_orders" || exportErr.Status != 404 {
		t.Fatalf("unexpected error fields: %+v", exportErr)
	}
}
