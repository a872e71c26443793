package service

import (
	"bytes"
	"context"
	"io"
	"mime/multipart"
	"net/textproto"
	"testing"

	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/noah-isme/gema-chat/internal/models"
	"github.com/noah-isme/gema-chat/pkg/cloudinary"
)

type storageStub struct {
	uploaded bytes.Buffer
	calls    int
	kind     string
}

func (s *storageStub) Upload(ctx context.Context, name, kind string, reader io.Reader) (cloudinary.StoredFile, error) {
	s.calls++
	s.kind = kind
	s.uploaded.Reset()
	if _, err := s.uploaded.ReadFrom(reader); err != nil {
		return cloudinary.StoredFile{}, err
	}
	stored := cloudinary.StoredFile{URL: "https://cdn.example.com/" + name}
	if kind == "image" {
		stored.Thumbnail = "https://cdn.example.com/thumb/" + name
	}
	return stored, nil
}

type uploadRepoStub struct {
	records []models.UploadRecord
}

func (u *uploadRepoStub) Create(ctx context.Context, record *models.UploadRecord) error {
	record.ID = uint(len(u.records) + 1)
	u.records = append(u.records, *record)
	return nil
}

func (u *uploadRepoStub) FindByChecksum(ctx context.Context, userID, checksum string) (models.UploadRecord, error) {
	for _, record := range u.records {
		if record.UserID == userID && record.Checksum == checksum {
			return record, nil
		}
	}
	return models.UploadRecord{}, gorm.ErrRecordNotFound
}

var pngHeader = []byte{0x89, 0x50, 0x4E, 0x47, 0x0D, 0x0A, 0x1A, 0x0A}

func TestUploadServiceRejectsSize(t *testing.T) {
	svc := NewUploadService(&storageStub{}, &uploadRepoStub{}, 1, testLogger())

	file := buildFileHeader(t, "file.pdf", bytes.Repeat([]byte("a"), 2*1024*1024))

	_, err := svc.Upload(context.Background(), file, "u1")
	require.ErrorIs(t, err, ErrUploadTooLarge)
}

func TestUploadServiceRequiresFile(t *testing.T) {
	svc := NewUploadService(&storageStub{}, &uploadRepoStub{}, 1, testLogger())

	_, err := svc.Upload(context.Background(), nil, "u1")
	require.ErrorIs(t, err, ErrUploadMissing)
	require.True(t, IsValidationError(err))
}

func TestUploadServiceTypeValidation(t *testing.T) {
	storage := &storageStub{}
	svc := NewUploadService(storage, &uploadRepoStub{}, 5, testLogger())

	file := buildFileHeader(t, "file.txt", []byte("plain text"))
	_, err := svc.Upload(context.Background(), file, "u1")
	require.ErrorIs(t, err, ErrUploadTypeNotAllowed)
	require.Zero(t, storage.calls)
}

func TestUploadServiceRejectsBrokenZip(t *testing.T) {
	svc := NewUploadService(&storageStub{}, &uploadRepoStub{}, 5, testLogger())

	// local file header signature followed by garbage
	payload := append([]byte{0x50, 0x4B, 0x03, 0x04}, bytes.Repeat([]byte{0x01}, 64)...)
	file := buildFileHeader(t, "archive.zip", payload)

	_, err := svc.Upload(context.Background(), file, "u1")
	require.ErrorIs(t, err, ErrUploadScanFailed)
}

func TestUploadServiceSuccess(t *testing.T) {
	storage := &storageStub{}
	repo := &uploadRepoStub{}
	svc := NewUploadService(storage, repo, 5, testLogger())

	file := buildFileHeader(t, "Holiday Photo.PNG", pngHeader)

	resp, err := svc.Upload(context.Background(), file, "u1")
	require.NoError(t, err)
	require.Equal(t, "https://cdn.example.com/holiday-photo.png", resp.URL)
	require.NotEmpty(t, resp.Thumbnail)
	require.Equal(t, "image", resp.Kind)
	require.Equal(t, "image/png", resp.MimeType)
	require.Equal(t, "image", storage.kind)
	require.Len(t, repo.records, 1)
	require.Equal(t, "u1", repo.records[0].UserID)

	attachment := resp.Attachment()
	require.Equal(t, "image", attachment.Type)
	require.Equal(t, resp.URL, attachment.URL)
	require.Equal(t, int64(len(pngHeader)), attachment.Size)
}

func TestUploadServiceDeduplicatesPerUser(t *testing.T) {
	storage := &storageStub{}
	repo := &uploadRepoStub{}
	svc := NewUploadService(storage, repo, 5, testLogger())

	first, err := svc.Upload(context.Background(), buildFileHeader(t, "a.png", pngHeader), "u1")
	require.NoError(t, err)

	again, err := svc.Upload(context.Background(), buildFileHeader(t, "b.png", pngHeader), "u1")
	require.NoError(t, err)
	require.Equal(t, first.URL, again.URL)
	require.Equal(t, 1, storage.calls)

	_, err = svc.Upload(context.Background(), buildFileHeader(t, "a.png", pngHeader), "u2")
	require.NoError(t, err)
	require.Equal(t, 2, storage.calls)
	require.Len(t, repo.records, 2)
}

func TestAttachmentKind(t *testing.T) {
	cases := map[string]string{
		"image/jpeg":      "image",
		"audio/mpeg":      "audio",
		"video/mp4":       "video",
		"application/pdf": "file",
	}
	for mime, expected := range cases {
		kind, ok := attachmentKind(mime)
		require.True(t, ok, mime)
		require.Equal(t, expected, kind, mime)
	}

	_, ok := attachmentKind("application/x-msdownload")
	require.False(t, ok)
}

func buildFileHeader(t *testing.T, filename string, content []byte) *multipart.FileHeader {
	t.Helper()
	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)
	part, err := writer.CreatePart(textproto.MIMEHeader{
		"Content-Disposition": {"form-data; name=\"file\"; filename=\"" + filename + "\""},
		"Content-Type":        {"application/octet-stream"},
	})
	require.NoError(t, err)
	_, err = part.Write(content)
	require.NoError(t, err)
	writer.Close()

	reader := multipart.NewReader(body, writer.Boundary())
	form, err := reader.ReadForm(int64(len(content) + 1024))
	require.NoError(t, err)
	files := form.File["file"]
	require.Len(t, files, 1)
	return files[0]
}
