package export

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

type Format string

const (
	FormatCSV Format = "csv"
	FormatPDF Format = "pdf"
)

// Request is one export call. Fields order defines output column order.
type Request struct {
	StartDate string   `json:"start_date"`
	EndDate   string   `json:"end_date"`
	Fields    []string `json:"fields"`
	Format    string   `json:"format"`
}

const (
	requestDateFormat = "2006-01-02"
	filenamePrefix    = "orders-export"
	filenameTimestamp = "2006-01-02-15-04-05"
)

// Renderer turns a resolved order-id set into a file at destPath.
type Renderer interface {
	Render(ctx context.Context, orderIds []int, fieldKeys []string, opts FieldOptions, destPath string) error
}

// Exporter runs the whole pipeline for one request: validate, resolve ids,
// render, publish. Synchronous; no retries anywhere.
type Exporter struct {
	Source  OrderSource
	Catalog *Catalog
	Sink    ArtifactSink
	Logger  *logrus.Logger
	Now     func() time.Time

	CSV Renderer
	PDF Renderer
}

func NewExporter(source OrderSource, catalog *Catalog, sink ArtifactSink, logger *logrus.Logger) *Exporter {
	return &Exporter{
		Source:  source,
		Catalog: catalog,
		Sink:    sink,
		Logger:  logger,
		Now:     time.Now,
		CSV:     &CSVRenderer{Source: source, Logger: logger},
		PDF:     &PDFRenderer{Source: source, Logger: logger},
	}
}

// Export validates the request (presence, then dates, then format — first
// failure wins, before any I/O), resolves the inclusive date window, and
// dispatches to the chosen renderer.
func (e *Exporter) Export(ctx context.Context, req Request) (*Artifact, error) {
	if strings.TrimSpace(req.StartDate) == "" || strings.TrimSpace(req.EndDate) == "" ||
		len(req.Fields) == 0 || strings.TrimSpace(req.Format) == "" {
		return nil, ErrMissingParameters
	}

	startDate, err := time.Parse(requestDateFormat, req.StartDate)
	if err != nil {
		return nil, ErrInvalidDateFormat
	}
	endDate, err := time.Parse(requestDateFormat, req.EndDate)
	if err != nil {
		return nil, ErrInvalidDateFormat
	}
	if endDate.Before(startDate) {
		return nil, ErrInvalidDateFormat
	}

	var format Format
	var renderer Renderer
	switch Format(strings.ToLower(strings.TrimSpace(req.Format))) {
	case FormatCSV:
		format, renderer = FormatCSV, e.CSV
	case FormatPDF:
		format, renderer = FormatPDF, e.PDF
	default:
		return nil, ErrInvalidFormat
	}

	// [start 00:00:00, end 23:59:59] inclusive.
	from := startDate
	to := time.Date(endDate.Year(), endDate.Month(), endDate.Day(), 23, 59, 59, 0, endDate.Location())

	orderIds, err := e.Source.OrderIdsCreatedBetween(ctx, from, to)
	if err != nil {
		return nil, err
	}
	if len(orderIds) == 0 {
		return nil, ErrNoOrdersFound
	}

	opts := e.Catalog.Fields(ctx)

	// Second-granularity timestamp plus a short random suffix so concurrent
	// exports sharing the directory cannot collide.
	filename := fmt.Sprintf("%s-%s-%s.%s",
		filenamePrefix,
		e.Now().Format(filenameTimestamp),
		uuid.New().String()[:8],
		format,
	)

	destPath := e.Sink.DestPath(filename)
	if err := renderer.Render(ctx, orderIds, req.Fields, opts, destPath); err != nil {
		return nil, err
	}

	artifact, err := e.Sink.Publish(ctx, destPath, filename)
	if err != nil {
		e.Logger.WithFields(logrus.Fields{
			"field":    "Exporter.Export",
			"filename": filename,
		}).Error("failed to publish export artifact: " + err.Error())
		return nil, ErrFileCreation
	}
	artifact.Format = format

	e.Logger.WithFields(logrus.Fields{
		"field":    "Exporter.Export",
		"filename": filename,
		"format":   string(format),
		"orders":   len(orderIds),
		"columns":  len(req.Fields),
	}).Info("export completed")

	return artifact, nil
}
