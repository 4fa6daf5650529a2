package export

import (
	"context"
	"os"

	"bitbucket.org/mmdatafocus/orderexport_backend/config"
	"github.com/go-pdf/fpdf"
	"github.com/sirupsen/logrus"
)

const (
	pdfMarginLeft   = 15.0
	pdfMarginTop    = 15.0
	pdfMarginRight  = 15.0
	pdfMarginBottom = 20.0
	pdfRowHeight    = 10.0
)

// pageGeometry is a pure function of column count. Fixed tie-break policy,
// not configurable: up to 5 columns fit portrait A4, up to 8 landscape A4,
// anything wider goes to landscape A3.
type pageGeometry struct {
	format      string
	orientation string
}

func geometryForColumns(columns int) pageGeometry {
	switch {
	case columns <= 5:
		return pageGeometry{format: "A4", orientation: "P"}
	case columns <= 8:
		return pageGeometry{format: "A4", orientation: "L"}
	default:
		return pageGeometry{format: "A3", orientation: "L"}
	}
}

// PDFRenderer lays export rows out as a paginated table with uniform column
// widths. The header row repeats at the top of every page.
type PDFRenderer struct {
	Source OrderSource
	Logger *logrus.Logger
}

func (r *PDFRenderer) Render(ctx context.Context, orderIds []int, fieldKeys []string, opts FieldOptions, destPath string) error {
	geo := geometryForColumns(len(fieldKeys))
	pdf := fpdf.New(geo.orientation, "mm", geo.format, "")
	if pdf == nil || pdf.Err() {
		// Engine must be usable before any generation is attempted.
		if pdf != nil {
			config.LogError(r.Logger, "pdf.go", "Render", "fpdf.New", geo, pdf.Error())
		}
		return ErrPDFEngine
	}

	pdf.SetTitle("Orders Export", true)
	pdf.SetSubject("Orders Export", true)
	pdf.SetCreator("orderexport_backend", true)
	pdf.SetMargins(pdfMarginLeft, pdfMarginTop, pdfMarginRight)
	// Page breaks are handled explicitly so the header can be repeated.
	pdf.SetAutoPageBreak(false, pdfMarginBottom)

	pageWidth, pageHeight := pdf.GetPageSize()
	columnWidth := (pageWidth - pdfMarginLeft - pdfMarginRight) / float64(len(fieldKeys))

	header := make([]string, 0, len(fieldKeys))
	for _, key := range fieldKeys {
		header = append(header, opts.HeaderLabel(key))
	}

	writeHeader := func() {
		pdf.SetFont("Helvetica", "B", 10)
		pdf.SetFillColor(230, 230, 230)
		for _, label := range header {
			pdf.CellFormat(columnWidth, pdfRowHeight, label, "1", 0, "C", true, 0, "")
		}
		pdf.Ln(-1)
		pdf.SetFont("Helvetica", "", 9)
		pdf.SetFillColor(255, 255, 255)
	}

	writeRow := func(row []string) {
		if pdf.GetY() > pageHeight-pdfMarginBottom {
			pdf.AddPage()
			writeHeader()
		}
		for _, cell := range row {
			pdf.CellFormat(columnWidth, pdfRowHeight, cell, "1", 0, "L", false, 0, "")
		}
		pdf.Ln(-1)
	}

	pdf.AddPage()
	writeHeader()

	for _, orderId := range orderIds {
		order, err := r.Source.LoadOrder(ctx, orderId)
		if err != nil {
			// Soft skip, same policy as the CSV path.
			r.Logger.WithFields(logrus.Fields{
				"field":    "PDFRenderer.Render",
				"order_id": orderId,
			}).Debug("skipping order that failed to load: " + err.Error())
			continue
		}

		if len(order.Items) == 0 {
			writeRow(ProjectRow(order, nil, fieldKeys))
			continue
		}
		for i := range order.Items {
			writeRow(ProjectRow(order, &order.Items[i], fieldKeys))
		}
	}

	if pdf.Err() {
		config.LogError(r.Logger, "pdf.go", "Render", "generate", destPath, pdf.Error())
		return ErrFileCreation
	}
	if err := pdf.OutputFileAndClose(destPath); err != nil {
		config.LogError(r.Logger, "pdf.go", "Render", "OutputFileAndClose", destPath, err)
		os.Remove(destPath)
		return ErrFileCreation
	}
	return nil
}
