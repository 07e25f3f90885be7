package segment

import (
	"encoding/json"
	"fmt"
	"os"
)

// VersionRecord is the content of the version-coordination file.
type VersionRecord struct {
	Version string `json:"version"`
}

// ReadVersion decodes the version-coordination file at path.
func ReadVersion(path string) (VersionRecord, error) {
	var rec VersionRecord
	data, err := os.ReadFile(path)
	if err != nil {
		return rec, fmt.Errorf("reading version file: %w", err)
	}
	if err := json.Unmarshal(data, &rec); err != nil {
		return rec, fmt.Errorf("parsing version file %s: %w", path, err)
	}
	return rec, nil
}

// WriteVersion replaces the version-coordination file in place. The write
// surfaces as a modify event on watchers of the file's directory.
func WriteVersion(path, version string) error {
	data, err := json.Marshal(VersionRecord{Version: version})
	if err != nil {
		return fmt.Errorf("marshaling version record: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("writing version file: %w", err)
	}
	return nil
}
