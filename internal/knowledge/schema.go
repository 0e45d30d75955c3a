package knowledge

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

// SyncMetadataVersion is the current on-disk version of the sync
// sub-structure. Older versions are migrated on read.
const SyncMetadataVersion = 1

const syncSchemaURL = "driftsync:///sync-metadata.schema.json"

// syncSchema validates the sync sub-structure after migration. It is
// deliberately loose about engine-internal optional fields but strict about
// the parts other processes read.
const syncSchema = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "required": ["version", "status", "sources"],
  "properties": {
    "version": {"type": "integer", "minimum": 1},
    "status": {
      "type": "string",
      "enum": [
        "idle", "syncing", "completed", "completed_with_errors",
        "failed", "cancelled", "access_revoked", "file_limit_exceeded"
      ]
    },
    "progressCurrent": {"type": "integer", "minimum": 0},
    "progressTotal": {"type": "integer", "minimum": 0},
    "sources": {
      "type": ["array", "null"],
      "items": {
        "type": "object",
        "required": ["kind", "externalId", "driveId"],
        "properties": {
          "kind": {"type": "string", "enum": ["folder", "file"]},
          "externalId": {"type": "string", "minLength": 1},
          "driveId": {"type": "string", "minLength": 1},
          "displayName": {"type": "string"},
          "cursor": {"type": "string"},
          "contentHash": {"type": "string"},
          "folderMap": {
            "type": "object",
            "additionalProperties": {"type": "string"}
          },
          "fileHashes": {
            "type": "object",
            "additionalProperties": {"type": "string"}
          }
        }
      }
    }
  }
}`

var (
	syncSchemaOnce     sync.Once
	compiledSyncSchema *jsonschema.Schema
	syncSchemaErr      error
)

func loadSyncSchema() (*jsonschema.Schema, error) {
	syncSchemaOnce.Do(func() {
		doc, err := jsonschema.UnmarshalJSON(bytes.NewReader([]byte(syncSchema)))
		if err != nil {
			syncSchemaErr = err
			return
		}
		compiler := jsonschema.NewCompiler()
		if err := compiler.AddResource(syncSchemaURL, doc); err != nil {
			syncSchemaErr = err
			return
		}
		compiledSyncSchema, syncSchemaErr = compiler.Compile(syncSchemaURL)
	})
	return compiledSyncSchema, syncSchemaErr
}

// DecodeSyncMetadata migrates a raw sync blob to the current version,
// validates it against the embedded schema, and decodes it.
func DecodeSyncMetadata(raw json.RawMessage) (SyncMetadata, error) {
	if len(raw) == 0 || bytes.Equal(bytes.TrimSpace(raw), []byte("null")) {
		return SyncMetadata{Version: SyncMetadataVersion, Status: StatusIdle}, nil
	}
	var doc map[string]any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return SyncMetadata{}, fmt.Errorf("decode sync metadata: %w", err)
	}
	doc = migrateSyncDocument(doc)

	schema, err := loadSyncSchema()
	if err != nil {
		return SyncMetadata{}, fmt.Errorf("compile sync schema: %w", err)
	}
	if err := schema.Validate(doc); err != nil {
		return SyncMetadata{}, fmt.Errorf("invalid sync metadata: %w", err)
	}

	migrated, err := json.Marshal(doc)
	if err != nil {
		return SyncMetadata{}, err
	}
	var meta SyncMetadata
	if err := json.Unmarshal(migrated, &meta); err != nil {
		return SyncMetadata{}, err
	}
	if meta.Status == "" {
		meta.Status = StatusIdle
	}
	return meta, nil
}

// migrateSyncDocument upgrades older persisted layouts in place. Version 0
// (pre-versioning) stored the folder map under "folders", the report under
// "lastReport", and had no per-file hash bookkeeping.
func migrateSyncDocument(doc map[string]any) map[string]any {
	version, _ := doc["version"].(float64)
	if int(version) >= SyncMetadataVersion {
		return doc
	}

	if report, ok := doc["lastReport"]; ok {
		if _, exists := doc["lastResult"]; !exists {
			doc["lastResult"] = report
		}
		delete(doc, "lastReport")
	}
	if sources, ok := doc["sources"].([]any); ok {
		for _, entry := range sources {
			source, ok := entry.(map[string]any)
			if !ok {
				continue
			}
			if folders, ok := source["folders"]; ok {
				if _, exists := source["folderMap"]; !exists {
					source["folderMap"] = folders
				}
				delete(source, "folders")
			}
			if _, ok := source["kind"]; !ok {
				source["kind"] = string(SourceFolder)
			}
		}
	} else if _, ok := doc["sources"]; !ok {
		doc["sources"] = []any{}
	}
	if _, ok := doc["status"]; !ok {
		doc["status"] = string(StatusIdle)
	}
	doc["version"] = SyncMetadataVersion
	return doc
}
