package backingstore

import (
	_ "embed"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/xeipuuv/gojsonschema"
)

//go:embed metadata_schema.json
var metadataSchemaJSON []byte

// currentFormatVersion is bumped whenever a change to the bucket layout or
// item encoding would make an older metadata.json (and the database
// directory it describes) unreadable by this build.
const currentFormatVersion = 1

// Metadata describes one versioned database directory (spec.md §6.4),
// written once on first creation and validated against metadataSchemaJSON
// on every subsequent open, the same embedded-schema-plus-gojsonschema
// idiom the pack already uses for its own on-disk JSON documents.
type Metadata struct {
	FormatVersion int    `json:"format_version"`
	BuildIdentity string `json:"build_identity"`
	CreatedAt     string `json:"created_at"`
}

// WriteMetadata writes dir/metadata.json for a freshly created database
// directory.
func WriteMetadata(dir, buildIdentity string) error {
	meta := Metadata{
		FormatVersion: currentFormatVersion,
		BuildIdentity: buildIdentity,
		CreatedAt:     time.Now().UTC().Format(time.RFC3339),
	}

	encoded, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return fmt.Errorf("backingstore: encode metadata: %w", err)
	}

	if err := os.WriteFile(filepath.Join(dir, "metadata.json"), encoded, 0o644); err != nil {
		return fmt.Errorf("backingstore: write metadata: %w", err)
	}

	return nil
}

// ReadMetadata loads and schema-validates dir/metadata.json. A missing file
// is reported as an error distinct from a schema violation, since callers
// treat "no metadata" (a directory predating this feature, or corrupted by
// an external process) differently from "metadata present but malformed".
func ReadMetadata(dir string) (Metadata, error) {
	raw, err := os.ReadFile(filepath.Join(dir, "metadata.json"))
	if err != nil {
		return Metadata{}, fmt.Errorf("backingstore: read metadata: %w", err)
	}

	schemaLoader := gojsonschema.NewBytesLoader(metadataSchemaJSON)
	docLoader := gojsonschema.NewBytesLoader(raw)

	result, err := gojsonschema.Validate(schemaLoader, docLoader)
	if err != nil {
		return Metadata{}, fmt.Errorf("backingstore: validate metadata: %w", err)
	}

	if !result.Valid() {
		errs := make([]string, 0, len(result.Errors()))
		for _, verr := range result.Errors() {
			errs = append(errs, verr.String())
		}

		return Metadata{}, fmt.Errorf("backingstore: metadata.json failed validation: %v", errs)
	}

	var meta Metadata
	if err := json.Unmarshal(raw, &meta); err != nil {
		return Metadata{}, fmt.Errorf("backingstore: decode metadata: %w", err)
	}

	if meta.FormatVersion != currentFormatVersion {
		return Metadata{}, fmt.Errorf("backingstore: metadata format version %d unsupported by this build (want %d)", meta.FormatVersion, currentFormatVersion)
	}

	return meta, nil
}
