// Package export reads and writes contact export files in JSON or YAML.
//
// Export files are the offline counterpart of the contact cache: a full
// plaintext snapshot that can be re-imported into any zone, including a
// freshly recovered one.
package export

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/veildb/zonesync/internal/schema"
)

// Format selects the export encoding.
type Format string

const (
	FormatJSON Format = "json"
	FormatYAML Format = "yaml"
)

// File is the export file layout.
type File struct {
	ExportedAt time.Time         `json:"exported_at" yaml:"exported_at"`
	Zone       string            `json:"zone" yaml:"zone"`
	Contacts   []*schema.Contact `json:"contacts" yaml:"contacts"`
}

// DetectFormat picks the encoding from the file extension. Unknown
// extensions default to JSON.
func DetectFormat(path string) Format {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return FormatYAML
	default:
		return FormatJSON
	}
}

// Write marshals the export file and writes it atomically. The format
// follows the file extension. Export files hold plaintext phone numbers,
// so they are written owner-only.
func Write(path string, f *File) error {
	var (
		data []byte
		err  error
	)
	switch DetectFormat(path) {
	case FormatYAML:
		data, err = yaml.Marshal(f)
	default:
		data, err = json.MarshalIndent(f, "", "  ")
	}
	if err != nil {
		return fmt.Errorf("failed to marshal export: %w", err)
	}

	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create export directory: %w", err)
		}
	}

	tmpPath := path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0600); err != nil {
		return fmt.Errorf("failed to write temp file: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("failed to rename temp file: %w", err)
	}
	return nil
}

// Read parses an export file, picking the format from the extension.
func Read(path string) (*File, error) {
	// #nosec G304 - controlled path from CLI
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read export file: %w", err)
	}

	f := &File{}
	switch DetectFormat(path) {
	case FormatYAML:
		err = yaml.Unmarshal(data, f)
	default:
		err = json.Unmarshal(data, f)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to parse export file: %w", err)
	}
	return f, nil
}

// ValidContacts splits the file's contacts into importable ones and
// per-contact rejection messages. Contacts without an ID get one level
// of leniency: the store will assign an ID on save, so only the name is
// required for them.
func (f *File) ValidContacts() ([]*schema.Contact, []string) {
	var (
		valid []*schema.Contact
		errs  []string
	)
	for i, c := range f.Contacts {
		if c == nil {
			errs = append(errs, fmt.Sprintf("contact %d: empty entry", i))
			continue
		}
		if err := schema.ValidateName(c.Name); err != nil {
			errs = append(errs, fmt.Sprintf("contact %d: %v", i, err))
			continue
		}
		valid = append(valid, c)
	}
	return valid, errs
}
