package core

// Blob is one attachment as received from a client. Encoded holds base64
// text; Raw, when non-nil, is used verbatim and Encoded is ignored.
type Blob struct {
	Encoded string
	Raw     []byte
}

// SyncCommand is a single document sync.
type SyncCommand struct {
	DocumentID string
	// FileName is only consulted when identifiers are opaque ids.
	FileName string
	Content  string
	Blobs    map[string]Blob
}

// SyncResult describes what a successful sync persisted.
type SyncResult struct {
	Key       string
	Directory string
	FileName  string
	Content   string
	Rewritten bool
	Blobs     []StoredBlob
	Bytes     int64
}

// StoredBlob is a blob written during a sync.
type StoredBlob struct {
	Name string
	Key  string
	Size int64
	URL  string
}
