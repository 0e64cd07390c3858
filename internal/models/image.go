package models

// AttachedImage represents one user-selected screenshot, pending or already
// uploaded. The preview snapshot is a local resource owned by this record and
// must be released exactly once when the image is removed.
type AttachedImage struct {
	Path        string // original file path as selected by the user
	Filename    string // display name (base of Path, or synthetic for stdin)
	Size        int64  // byte size
	ContentType string // sniffed media type, e.g. "image/png"
	UploadToken string // client-generated ULID sent with the upload

	// Preview snapshot, populated on acceptance.
	PreviewPath string // temp-file copy of the bytes
	Width       int    // 0 when the image could not be decoded
	Height      int

	// OCR metadata, merged in after a successful upload.
	DetectedIssueKeys []string
	OCRConfidence     float64 // 0-100, meaningful only after upload
	Uploaded          bool
}

// UploadSession is a server-correlated batch of uploaded images.
// It exists iff at least one image has been successfully uploaded.
type UploadSession struct {
	ID           string
	Images       []*AttachedImage
	DetectedKeys []string // aggregate, deduplicated, first-seen order
}
