// Package knowledge persists the knowledge-target record: an opaque
// associative document in which the sync engine owns the accessControl and
// sync sub-structures and must preserve everything else untouched.
package knowledge

import (
	"encoding/json"
	"time"
)

// SourceKind discriminates folder sources (cursor driven) from single-file
// sources (content-hash driven).
type SourceKind string

const (
	SourceFolder SourceKind = "folder"
	SourceFile   SourceKind = "file"
)

// Status is the sync job status for one knowledge target.
type Status string

const (
	StatusIdle                Status = "idle"
	StatusSyncing             Status = "syncing"
	StatusCompleted           Status = "completed"
	StatusCompletedWithErrors Status = "completed_with_errors"
	StatusFailed              Status = "failed"
	StatusCancelled           Status = "cancelled"
	StatusAccessRevoked       Status = "access_revoked"
	StatusFileLimitExceeded   Status = "file_limit_exceeded"
)

// Terminal reports whether no further automatic transition occurs from s
// without a new job start.
func (s Status) Terminal() bool {
	switch s {
	case StatusCompleted, StatusCompletedWithErrors, StatusFailed,
		StatusCancelled, StatusAccessRevoked, StatusFileLimitExceeded:
		return true
	}
	return false
}

// SyncSource is one sync unit inside a knowledge target. Folder sources
// carry Cursor and FolderMap; file sources carry ContentHash instead.
type SyncSource struct {
	Kind             SourceKind        `json:"kind"`
	ExternalID       string            `json:"externalId"`
	DriveID          string            `json:"driveId"`
	DisplayName      string            `json:"displayName"`
	RootRelativePath string            `json:"rootRelativePath,omitempty"`
	Cursor           string            `json:"cursor,omitempty"`
	ContentHash      string            `json:"contentHash,omitempty"`
	FolderMap        map[string]string `json:"folderMap,omitempty"`
	FileHashes       map[string]string `json:"fileHashes,omitempty"`
}

// FailedFile is one per-item failure recorded into a report.
type FailedFile struct {
	Name    string `json:"name"`
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

// Report is the terminal output of one sync run.
type Report struct {
	FilesProcessed int          `json:"filesProcessed"`
	FilesFailed    int          `json:"filesFailed"`
	TotalFound     int          `json:"totalFound"`
	DeletedCount   int          `json:"deletedCount"`
	FailedFiles    []FailedFile `json:"failedFiles,omitempty"`
}

// SyncMetadata is the engine-owned sub-structure persisted inside the
// knowledge-target record under the "sync" key.
type SyncMetadata struct {
	Version         int          `json:"version"`
	Sources         []SyncSource `json:"sources"`
	Status          Status       `json:"status"`
	ProgressCurrent int          `json:"progressCurrent"`
	ProgressTotal   int          `json:"progressTotal"`
	Error           string       `json:"error,omitempty"`
	StartedAt       *time.Time   `json:"startedAt,omitempty"`
	FinishedAt      *time.Time   `json:"finishedAt,omitempty"`
	LastResult      *Report      `json:"lastResult,omitempty"`
	LastSyncedAt    *time.Time   `json:"lastSyncedAt,omitempty"`
	IntervalSeconds int          `json:"intervalSeconds,omitempty"`
	OwnerUserID     string       `json:"ownerUserId,omitempty"`
	// ManagedGroups records the group IDs the permission mapper itself added,
	// so manually granted groups can be told apart on the next merge.
	ManagedGroups []string `json:"managedGroups,omitempty"`
}

// JobState is the externally visible view of a target's sync job.
type JobState struct {
	Status          Status     `json:"status"`
	ProgressCurrent int        `json:"progressCurrent"`
	ProgressTotal   int        `json:"progressTotal"`
	Error           string     `json:"error,omitempty"`
	StartedAt       *time.Time `json:"startedAt,omitempty"`
	FinishedAt      *time.Time `json:"finishedAt,omitempty"`
	LastResult      *Report    `json:"lastResult,omitempty"`
}

// JobState projects the metadata into its externally visible form.
func (m SyncMetadata) JobState() JobState {
	return JobState{
		Status:          m.Status,
		ProgressCurrent: m.ProgressCurrent,
		ProgressTotal:   m.ProgressTotal,
		Error:           m.Error,
		StartedAt:       m.StartedAt,
		FinishedAt:      m.FinishedAt,
		LastResult:      m.LastResult,
	}
}

// SourceByID returns a pointer into Sources for the given external id.
func (m *SyncMetadata) SourceByID(externalID string) *SyncSource {
	for i := range m.Sources {
		if m.Sources[i].ExternalID == externalID {
			return &m.Sources[i]
		}
	}
	return nil
}

// AccessSet is one side (read or write) of an access-control record.
type AccessSet struct {
	UserIDs  []string `json:"userIds"`
	GroupIDs []string `json:"groupIds"`
}

// AccessControl is the knowledge target's access-control record.
type AccessControl struct {
	Read  AccessSet `json:"read"`
	Write AccessSet `json:"write"`
}

// Record is one knowledge-target record. The engine owns AccessControl and
// Sync; every other top-level key round-trips through Extra untouched.
type Record struct {
	AccessControl AccessControl
	Sync          SyncMetadata
	Extra         map[string]json.RawMessage
}

const (
	recordKeyAccessControl = "accessControl"
	recordKeySync          = "sync"
)

func (r Record) MarshalJSON() ([]byte, error) {
	doc := make(map[string]json.RawMessage, len(r.Extra)+2)
	for key, value := range r.Extra {
		doc[key] = value
	}
	acl, err := json.Marshal(r.AccessControl)
	if err != nil {
		return nil, err
	}
	doc[recordKeyAccessControl] = acl
	sync, err := json.Marshal(r.Sync)
	if err != nil {
		return nil, err
	}
	doc[recordKeySync] = sync
	return json.Marshal(doc)
}

func (r *Record) UnmarshalJSON(data []byte) error {
	doc := map[string]json.RawMessage{}
	if err := json.Unmarshal(data, &doc); err != nil {
		return err
	}
	out := Record{Extra: map[string]json.RawMessage{}}
	for key, value := range doc {
		switch key {
		case recordKeyAccessControl:
			if err := json.Unmarshal(value, &out.AccessControl); err != nil {
				return err
			}
		case recordKeySync:
			meta, err := DecodeSyncMetadata(value)
			if err != nil {
				return err
			}
			out.Sync = meta
		default:
			out.Extra[key] = value
		}
	}
	if out.Sync.Status == "" {
		out.Sync.Status = StatusIdle
	}
	if out.Sync.Version == 0 {
		out.Sync.Version = SyncMetadataVersion
	}
	*r = out
	return nil
}
