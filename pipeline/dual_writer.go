// Package pipeline runs one catalog export and writes its artifacts.
package pipeline

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/aluiziolira/go-scrape-catalog/models"
)

const (
	metadataFile = "metadata.json"
	importFile   = "catalog-import.csv"
)

// ArtifactWriter produces the metadata document and the import CSV of one
// run inside a single catalog directory.
type ArtifactWriter struct {
	dir string
}

// NewArtifactWriter targets dir; nothing is created until a write.
func NewArtifactWriter(dir string) *ArtifactWriter {
	return &ArtifactWriter{dir: dir}
}

// Files returns the artifact paths.
func (aw *ArtifactWriter) Files() models.Files {
	return models.Files{
		MetadataJSON: filepath.Join(aw.dir, metadataFile),
		ImportCSV:    filepath.Join(aw.dir, importFile),
	}
}

// WriteMetadata writes metadata.json.
func (aw *ArtifactWriter) WriteMetadata(doc *models.Document) error {
	if err := WriteMetadata(aw.Files().MetadataJSON, doc); err != nil {
		return fmt.Errorf("metadata write failed: %w", err)
	}
	return nil
}

// WriteImport writes the import CSV.
func (aw *ArtifactWriter) WriteImport(headers []string, rows []models.ExportRow) error {
	cw, err := NewCSVWriter(aw.Files().ImportCSV, headers)
	if err != nil {
		return fmt.Errorf("CSV create failed: %w", err)
	}
	if err := cw.Write(rows); err != nil {
		cw.Close()
		return fmt.Errorf("CSV write failed: %w", err)
	}
	if err := cw.Close(); err != nil {
		return fmt.Errorf("CSV close failed: %w", err)
	}
	return nil
}

// Validate checks that both artifacts exist and are non-empty.
func (aw *ArtifactWriter) Validate() error {
	var errs []error
	files := aw.Files()
	for _, name := range []string{files.MetadataJSON, files.ImportCSV} {
		info, err := os.Stat(name)
		if err != nil {
			errs = append(errs, fmt.Errorf("stat %s: %w", filepath.Base(name), err))
			continue
		}
		if info.Size() == 0 {
			errs = append(errs, fmt.Errorf("%s is empty", filepath.Base(name)))
		}
	}
	return errors.Join(errs...)
}
