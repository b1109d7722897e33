package settlement

import (
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/xitongsys/parquet-go-source/writerfile"
	"github.com/xitongsys/parquet-go/parquet"
	"github.com/xitongsys/parquet-go/writer"

	"fanzcore/core/types"
)

// ReportFiles references the artefacts generated for one batch.
type ReportFiles struct {
	CSVPath     string
	ParquetPath string
	Rows        int
}

type parquetRow struct {
	SettlementID string `parquet:"name=settlement_id, type=BYTE_ARRAY, convertedtype=UTF8"`
	Processor    string `parquet:"name=processor, type=BYTE_ARRAY, convertedtype=UTF8"`
	ProcessorRef string `parquet:"name=processor_ref, type=BYTE_ARRAY, convertedtype=UTF8"`
	Kind         string `parquet:"name=kind, type=BYTE_ARRAY, convertedtype=UTF8"`
	Gross        int64  `parquet:"name=gross, type=INT64"`
	Fee          int64  `parquet:"name=fee, type=INT64"`
	Currency     string `parquet:"name=currency, type=BYTE_ARRAY, convertedtype=UTF8"`
	WindowStart  string `parquet:"name=window_start, type=BYTE_ARRAY, convertedtype=UTF8"`
	WindowEnd    string `parquet:"name=window_end, type=BYTE_ARRAY, convertedtype=UTF8"`
}

// WriteReport materialises the batch lines as CSV and Parquet under
// outputDir, named by processor and window start date.
func WriteReport(outputDir string, batch types.Settlement, lines []types.SettlementLine) (ReportFiles, error) {
	if err := os.MkdirAll(outputDir, 0o755); err != nil {
		return ReportFiles{}, fmt.Errorf("settlement: ensure output dir: %w", err)
	}
	base := fmt.Sprintf("%s_%s", batch.Processor, batch.WindowStart.Format("20060102"))
	csvPath := filepath.Join(outputDir, base+".csv")
	if err := writeCSV(csvPath, batch, lines); err != nil {
		return ReportFiles{}, err
	}
	parquetPath := filepath.Join(outputDir, base+".parquet")
	if err := writeParquet(parquetPath, batch, lines); err != nil {
		return ReportFiles{}, err
	}
	return ReportFiles{CSVPath: csvPath, ParquetPath: parquetPath, Rows: len(lines)}, nil
}

func writeCSV(path string, batch types.Settlement, lines []types.SettlementLine) error {
	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("settlement: create csv: %w", err)
	}
	defer file.Close()
	w := csv.NewWriter(file)
	header := []string{"settlement_id", "processor", "processor_ref", "kind", "gross", "fee", "currency", "window_start", "window_end"}
	if err := w.Write(header); err != nil {
		return fmt.Errorf("settlement: write csv header: %w", err)
	}
	for _, line := range lines {
		record := []string{
			batch.ID,
			batch.Processor,
			line.ProcessorRef,
			line.Kind,
			strconv.FormatInt(line.Gross.Units, 10),
			strconv.FormatInt(line.Fee.Units, 10),
			line.Gross.Currency,
			batch.WindowStart.Format(time.RFC3339),
			batch.WindowEnd.Format(time.RFC3339),
		}
		if err := w.Write(record); err != nil {
			return fmt.Errorf("settlement: write csv row: %w", err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return fmt.Errorf("settlement: flush csv: %w", err)
	}
	return nil
}

func writeParquet(path string, batch types.Settlement, lines []types.SettlementLine) error {
	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("settlement: create parquet: %w", err)
	}
	fw := writerfile.NewWriterFile(file)
	pw, err := writer.NewParquetWriter(fw, new(parquetRow), 1)
	if err != nil {
		file.Close()
		return fmt.Errorf("settlement: parquet schema: %w", err)
	}
	pw.RowGroupSize = 128 * 1024 * 1024
	pw.CompressionType = parquet.CompressionCodec_SNAPPY

	for _, line := range lines {
		row := &parquetRow{
			SettlementID: batch.ID,
			Processor:    batch.Processor,
			ProcessorRef: line.ProcessorRef,
			Kind:         line.Kind,
			Gross:        line.Gross.Units,
			Fee:          line.Fee.Units,
			Currency:     line.Gross.Currency,
			WindowStart:  batch.WindowStart.Format(time.RFC3339),
			WindowEnd:    batch.WindowEnd.Format(time.RFC3339),
		}
		if err := pw.Write(row); err != nil {
			pw.WriteStop()
			file.Close()
			return fmt.Errorf("settlement: parquet write: %w", err)
		}
	}
	if err := pw.WriteStop(); err != nil {
		file.Close()
		return fmt.Errorf("settlement: parquet flush: %w", err)
	}
	if err := file.Close(); err != nil {
		return fmt.Errorf("settlement: close parquet: %w", err)
	}
	return nil
}
