package pipeline

import (
	"bufio"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/aluiziolira/go-scrape-catalog/models"
)

const utf8BOM = "\uFEFF"

var lineBreaks = strings.NewReplacer("\r\n", "\n", "\r", "\n")

// CSVWriter writes import rows to a BOM-prefixed UTF-8 CSV file.
type CSVWriter struct {
	file    *os.File
	buffer  *bufio.Writer
	writer  *csv.Writer
	headers []string
	mu      sync.Mutex
}

// NewCSVWriter creates filename and writes the BOM and header row.
func NewCSVWriter(filename string, headers []string) (*CSVWriter, error) {
	if err := ensureDir(filename); err != nil {
		return nil, err
	}

	f, err := os.Create(filename)
	if err != nil {
		return nil, fmt.Errorf("create csv file: %w", err)
	}

	buffer := bufio.NewWriter(f)
	if _, err := buffer.WriteString(utf8BOM); err != nil {
		f.Close()
		return nil, fmt.Errorf("write csv bom: %w", err)
	}

	writer := csv.NewWriter(buffer)
	if err := writer.Write(cleanCells(headers)); err != nil {
		f.Close()
		return nil, fmt.Errorf("write csv header: %w", err)
	}
	writer.Flush()
	if err := writer.Error(); err != nil {
		f.Close()
		return nil, fmt.Errorf("flush csv header: %w", err)
	}

	return &CSVWriter{
		file:    f,
		buffer:  buffer,
		writer:  writer,
		headers: append([]string(nil), headers...),
	}, nil
}

// Write appends rows in header order. Missing cells are blank.
func (cw *CSVWriter) Write(rows []models.ExportRow) error {
	cw.mu.Lock()
	defer cw.mu.Unlock()

	record := make([]string, len(cw.headers))
	for _, row := range rows {
		for i, header := range cw.headers {
			record[i] = lineBreaks.Replace(row[header])
		}
		if err := cw.writer.Write(record); err != nil {
			return fmt.Errorf("write csv record: %w", err)
		}
	}
	cw.writer.Flush()
	if err := cw.writer.Error(); err != nil {
		return fmt.Errorf("flush csv records: %w", err)
	}
	if err := cw.buffer.Flush(); err != nil {
		return fmt.Errorf("flush csv buffer: %w", err)
	}
	return nil
}

// Close flushes and closes the file handle.
func (cw *CSVWriter) Close() error {
	cw.mu.Lock()
	defer cw.mu.Unlock()

	cw.writer.Flush()
	if err := cw.writer.Error(); err != nil {
		cw.file.Close()
		return fmt.Errorf("flush csv writer: %w", err)
	}
	if err := cw.buffer.Flush(); err != nil {
		cw.file.Close()
		return fmt.Errorf("flush csv buffer: %w", err)
	}
	return cw.file.Close()
}

// Validate ensures the file has content.
func (cw *CSVWriter) Validate() error {
	info, err := os.Stat(cw.file.Name())
	if err != nil {
		return fmt.Errorf("stat csv file: %w", err)
	}
	if info.Size() <= int64(len(utf8BOM)) {
		return fmt.Errorf("csv file is empty")
	}
	return nil
}

func cleanCells(cells []string) []string {
	out := make([]string, len(cells))
	for i, c := range cells {
		out[i] = lineBreaks.Replace(c)
	}
	return out
}

// WriteMetadata writes doc as indented JSON. HTML in descriptions is kept
// verbatim rather than escaped.
func WriteMetadata(filename string, doc *models.Document) error {
	if err := ensureDir(filename); err != nil {
		return err
	}

	f, err := os.Create(filename)
	if err != nil {
		return fmt.Errorf("create json file: %w", err)
	}

	buffer := bufio.NewWriter(f)
	encoder := json.NewEncoder(buffer)
	encoder.SetIndent("", "  ")
	encoder.SetEscapeHTML(false)
	if err := encoder.Encode(doc); err != nil {
		f.Close()
		return fmt.Errorf("encode metadata: %w", err)
	}
	if err := buffer.Flush(); err != nil {
		f.Close()
		return fmt.Errorf("flush json writer: %w", err)
	}
	return f.Close()
}

func ensureDir(filename string) error {
	dir := filepath.Dir(filename)
	if dir == "" || dir == "." {
		return nil
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create directory %q: %w", dir, err)
	}
	return nil
}
