package models

import "time"

// UploadRecord stores metadata about uploaded attachments.
type UploadRecord struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	UserID    string    `gorm:"size:64;index" json:"user_id"`
	FileName  string    `gorm:"size:255;not null" json:"file_name"`
	URL       string    `gorm:"size:512;not null" json:"url"`
	Thumbnail string    `gorm:"size:512" json:"thumbnail"`
	MimeType  string    `gorm:"size:128;not null" json:"mime_type"`
	Kind      string    `gorm:"size:16;not null" json:"kind"`
	SizeBytes int64     `gorm:"not null" json:"size_bytes"`
	Checksum  string    `gorm:"size:128;index" json:"checksum"`
	CreatedAt time.Time `json:"created_at"`
}
