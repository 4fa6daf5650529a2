package export

import (
	"context"
	"encoding/csv"
	"os"

	"bitbucket.org/mmdatafocus/orderexport_backend/config"
	"github.com/sirupsen/logrus"
)

// utf8BOM makes spreadsheet apps detect the encoding correctly.
var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// CSVRenderer streams export rows to an RFC 4180 file. Single pass over the
// order ids; nothing is accumulated in memory.
type CSVRenderer struct {
	Source OrderSource
	Logger *logrus.Logger
}

func (r *CSVRenderer) Render(ctx context.Context, orderIds []int, fieldKeys []string, opts FieldOptions, destPath string) error {
	file, err := os.Create(destPath)
	if err != nil {
		config.LogError(r.Logger, "csv.go", "Render", "os.Create", destPath, err)
		return ErrFileCreation
	}

	fail := func(cause error) error {
		config.LogError(r.Logger, "csv.go", "Render", "write", destPath, cause)
		file.Close()
		os.Remove(destPath)
		return ErrFileCreation
	}

	if _, err := file.Write(utf8BOM); err != nil {
		return fail(err)
	}

	writer := csv.NewWriter(file)

	header := make([]string, 0, len(fieldKeys))
	for _, key := range fieldKeys {
		header = append(header, opts.HeaderLabel(key))
	}
	if err := writer.Write(header); err != nil {
		return fail(err)
	}

	for _, orderId := range orderIds {
		order, err := r.Source.LoadOrder(ctx, orderId)
		if err != nil {
			// Soft skip: the order is excluded from output, not reported.
			r.Logger.WithFields(logrus.Fields{
				"field":    "CSVRenderer.Render",
				"order_id": orderId,
			}).Debug("skipping order that failed to load: " + err.Error())
			continue
		}

		if len(order.Items) == 0 {
			if err := writer.Write(ProjectRow(order, nil, fieldKeys)); err != nil {
				return fail(err)
			}
			continue
		}
		for i := range order.Items {
			if err := writer.Write(ProjectRow(order, &order.Items[i], fieldKeys)); err != nil {
				return fail(err)
			}
		}
	}

	writer.Flush()
	if err := writer.Error(); err != nil {
		return fail(err)
	}
	if err := file.Close(); err != nil {
		os.Remove(destPath)
		config.LogError(r.Logger, "csv.go", "Render", "file.Close", destPath, err)
		return ErrFileCreation
	}
	return nil
}
