// internal/models/transfer.go

package models

// TransferDirection distinguishes uploads from downloads.
type TransferDirection string

const (
	DirectionUpload   TransferDirection = "upload"
	DirectionDownload TransferDirection = "download"
)

// TransferStatus is the queue state of one transfer item.
type TransferStatus string

const (
	TransferPending   TransferStatus = "pending"
	TransferRunning   TransferStatus = "running"
	TransferPaused    TransferStatus = "paused"
	TransferCompleted TransferStatus = "completed"
	TransferError     TransferStatus = "error"
	TransferCancelled TransferStatus = "cancelled"
)

// Terminal reports whether the status is final. Paused and Error items
// can re-enter the queue; Completed and Cancelled cannot.
func (s TransferStatus) Terminal() bool {
	return s == TransferCompleted || s == TransferCancelled
}

// TransferItem is the queue entry for one file, or for one directory
// aggregate when IsDir is set. Directory aggregates never perform I/O
// themselves; their size, progress and status are derived from their
// children (items sharing ParentID).
type TransferItem struct {
	ID          string            `json:"id"`
	SessionID   string            `json:"session_id"`
	Direction   TransferDirection `json:"direction"`
	LocalPath   string            `json:"local_path"`
	RemotePath  string            `json:"remote_path"`
	Size        int64             `json:"size"`
	Transferred int64             `json:"transferred"`
	Status      TransferStatus    `json:"status"`
	Error       string            `json:"error,omitempty"`
	ParentID    string            `json:"parent_id,omitempty"`
	IsDir       bool              `json:"is_dir,omitempty"`
}

// DirAggregate is the derived view over a directory item's children.
type DirAggregate struct {
	TotalFiles       int      `json:"total_files"`
	CompletedFiles   int      `json:"completed_files"`
	TotalBytes       int64    `json:"total_bytes"`
	TransferredBytes int64    `json:"transferred_bytes"`
	PausedChildIDs   []string `json:"paused_child_ids,omitempty"`
}
