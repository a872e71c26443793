package dto

// UploadResponse describes a stored attachment, ready to be attached to a message.
type UploadResponse struct {
	URL       string `json:"url"`
	Thumbnail string `json:"thumbnail,omitempty"`
	Kind      string `json:"kind"`
	SizeBytes int64  `json:"size_bytes"`
	MimeType  string `json:"mime_type"`
	Checksum  string `json:"checksum"`
	FileName  string `json:"file_name"`
}

// Attachment converts the upload into the payload expected by message requests.
func (u UploadResponse) Attachment() AttachmentPayload {
	return AttachmentPayload{
		Type:      u.Kind,
		URL:       u.URL,
		Name:      u.FileName,
		Size:      u.SizeBytes,
		Thumbnail: u.Thumbnail,
	}
}
