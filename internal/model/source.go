// Package model defines the data structures shared by the outbox pipeline.
package model

import (
	"bytes"
	"encoding/gob"
	"fmt"
	"time"
)

// Path represents a file system path.
type Path string

// Status is the position of a WorkItem in the pipeline.
type Status int

const (
	// StatusDiscovered marks an item freshly reported by Find.
	StatusDiscovered Status = iota
	// StatusCompute marks an item whose checksum is computed for the first time.
	StatusCompute
	// StatusCompare marks an item whose checksum is recomputed and compared
	// against the stored one.
	StatusCompare
	// StatusRegister marks an item that has been tagged and is headed to, or
	// returning from, the catalog.
	StatusRegister
)

func (s Status) String() string {
	switch s {
	case StatusDiscovered:
		return "discovered"
	case StatusCompute:
		return "compute"
	case StatusCompare:
		return "compare"
	case StatusRegister:
		return "register"
	default:
		return fmt.Sprintf("status(%d)", int(s))
	}
}

// FileRecord is the durable, per-path record of a filesystem entry.
type FileRecord struct {
	Path     Path
	Size     *int64 // nil for directories
	MTime    time.Time
	User     string
	Group    string
	Checksum string // empty until computed
	MustTag  bool
	TagEra   int64
	RTime    *time.Time // nil until registered
}

// IsDir reports whether the record describes a directory.
func (r *FileRecord) IsDir() bool {
	return r.Size == nil
}

// Registered reports whether the record has been registered at least once.
func (r *FileRecord) Registered() bool {
	return r.RTime != nil
}

// WorkItem is the in-flight token for one filesystem entry during one scan.
type WorkItem struct {
	Path     Path
	Size     *int64
	MTime    time.Time
	User     string
	Group    string
	Checksum string
	// Compare holds a freshly computed digest while Status is StatusCompare.
	Compare string
	Status  Status
	Tags    TagSet
	RTime   *time.Time
}

// IsDir reports whether the item describes a directory.
func (w *WorkItem) IsDir() bool {
	return w.Size == nil
}

// Record converts the item into a FileRecord carrying its filesystem snapshot.
func (w *WorkItem) Record() *FileRecord {
	return &FileRecord{
		Path:     w.Path,
		Size:     w.Size,
		MTime:    w.MTime,
		User:     w.User,
		Group:    w.Group,
		Checksum: w.Checksum,
		RTime:    w.RTime,
	}
}

// SizeOf returns a pointer to size, for building file items.
func SizeOf(size int64) *int64 {
	return &size
}

// workItemWire is the gob form of WorkItem. Gob drops pointers to zero
// values, so the optional fields travel with explicit presence flags.
type workItemWire struct {
	Path       Path
	Size       int64
	IsDir      bool
	MTime      time.Time
	User       string
	Group      string
	Checksum   string
	Compare    string
	Status     Status
	Tags       TagSet
	RTime      time.Time
	Registered bool
}

// GobEncode implements gob.GobEncoder.
func (w *WorkItem) GobEncode() ([]byte, error) {
	wire := workItemWire{
		Path:     w.Path,
		IsDir:    w.Size == nil,
		MTime:    w.MTime,
		User:     w.User,
		Group:    w.Group,
		Checksum: w.Checksum,
		Compare:  w.Compare,
		Status:   w.Status,
		Tags:     w.Tags,
	}

	if w.Size != nil {
		wire.Size = *w.Size
	}

	if w.RTime != nil {
		wire.RTime = *w.RTime
		wire.Registered = true
	}

	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(wire); err != nil {
		return nil, fmt.Errorf("encode work item %s: %w", w.Path, err)
	}

	return buf.Bytes(), nil
}

// GobDecode implements gob.GobDecoder.
func (w *WorkItem) GobDecode(data []byte) error {
	var wire workItemWire
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&wire); err != nil {
		return fmt.Errorf("decode work item: %w", err)
	}

	*w = WorkItem{
		Path:     wire.Path,
		MTime:    wire.MTime,
		User:     wire.User,
		Group:    wire.Group,
		Checksum: wire.Checksum,
		Compare:  wire.Compare,
		Status:   wire.Status,
		Tags:     wire.Tags,
	}

	if !wire.IsDir {
		w.Size = SizeOf(wire.Size)
	}

	if wire.Registered {
		rtime := wire.RTime
		w.RTime = &rtime
	}

	return nil
}
