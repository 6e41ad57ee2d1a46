package schema

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Filename returns the canonical cache filename for this contact: {id}.json
func (c *Contact) Filename() string {
	return fmt.Sprintf("%s.json", c.ID)
}

// ContactIDFromPath extracts the contact ID from a cache file path.
// Returns "" for paths that are not contact cache files.
func ContactIDFromPath(path string) string {
	name := filepath.Base(path)
	if !strings.HasSuffix(name, ".json") {
		return ""
	}
	return strings.TrimSuffix(name, ".json")
}

// ReadContactFile reads and parses a contact JSON file from the given path.
// Returns the parsed Contact or an error if reading/parsing fails.
func ReadContactFile(path string) (*Contact, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read contact file %s: %w", path, err)
	}

	var c Contact
	if err := json.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("failed to parse contact file %s: %w", path, err)
	}

	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("invalid contact file %s: %w", path, err)
	}

	return &c, nil
}

// WriteContactFile writes a Contact to the cache directory as JSON.
// The file is written to cacheDir/{id}.json with pretty-printed formatting.
func WriteContactFile(cacheDir string, c *Contact) error {
	if err := c.Validate(); err != nil {
		return fmt.Errorf("cannot write invalid contact: %w", err)
	}

	// Ensure cache directory exists
	if err := os.MkdirAll(cacheDir, 0755); err != nil {
		return fmt.Errorf("failed to create cache directory: %w", err)
	}

	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal contact %s: %w", c.ID, err)
	}

	path := filepath.Join(cacheDir, c.Filename())
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write contact file %s: %w", path, err)
	}

	return nil
}

// RemoveContactFile deletes the cache file for the given contact ID.
// Returns nil if the file doesn't exist (idempotent).
func RemoveContactFile(cacheDir, id string) error {
	path := filepath.Join(cacheDir, fmt.Sprintf("%s.json", id))
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove contact file %s: %w", path, err)
	}
	return nil
}

// ReadAllContactFiles reads all contact files from the cache directory.
// Invalid files are skipped with a warning to stderr, so one corrupt
// file cannot poison a resync.
func ReadAllContactFiles(cacheDir string) ([]*Contact, error) {
	entries, err := os.ReadDir(cacheDir)
	if err != nil {
		if os.IsNotExist(err) {
			return []*Contact{}, nil // Empty cache is valid
		}
		return nil, fmt.Errorf("failed to read cache directory: %w", err)
	}

	var contacts []*Contact
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		if !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}

		path := filepath.Join(cacheDir, entry.Name())
		c, err := ReadContactFile(path)
		if err != nil {
			// Log warning but continue processing other files
			fmt.Fprintf(os.Stderr, "Warning: skipping invalid contact file %s: %v\n", entry.Name(), err)
			continue
		}

		contacts = append(contacts, c)
	}

	return contacts, nil
}

// SyncCache reconciles the cache directory with a materialized contact
// list: every contact gets written and stale cache files are removed.
// The cache is what recovery re-uploads after key loss, so it always
// mirrors the last loaded state.
func SyncCache(cacheDir string, contacts []*Contact) error {
	keep := make(map[string]bool, len(contacts))
	for _, c := range contacts {
		if err := WriteContactFile(cacheDir, c); err != nil {
			return err
		}
		keep[c.Filename()] = true
	}

	entries, err := os.ReadDir(cacheDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to read cache directory: %w", err)
	}
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		if !keep[entry.Name()] {
			if err := os.Remove(filepath.Join(cacheDir, entry.Name())); err != nil {
				return fmt.Errorf("failed to remove stale cache file %s: %w", entry.Name(), err)
			}
		}
	}

	return nil
}
