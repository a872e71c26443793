package cloudinary

import (
	"context"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"time"

	"github.com/cloudinary/cloudinary-go/v2"
	"github.com/cloudinary/cloudinary-go/v2/api/uploader"
	"github.com/rs/zerolog"
)

const thumbnailTransformation = "c_thumb,w_320,h_320"

// Config contains credentials required to talk to Cloudinary.
type Config struct {
	CloudName string
	APIKey    string
	APISecret string
	Folder    string
}

// StoredFile is the public location of an uploaded attachment.
type StoredFile struct {
	URL       string
	Thumbnail string
}

// Service stores chat attachments in Cloudinary.
type Service struct {
	client *cloudinary.Cloudinary
	folder string
	logger zerolog.Logger
}

// New constructs a Cloudinary service instance.
func New(cfg Config, logger zerolog.Logger) (*Service, error) {
	if cfg.CloudName == "" || cfg.APIKey == "" || cfg.APISecret == "" {
		return nil, fmt.Errorf("cloudinary credentials must be provided")
	}

	cld, err := cloudinary.NewFromParams(cfg.CloudName, cfg.APIKey, cfg.APISecret)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize cloudinary: %w", err)
	}

	return &Service{
		client: cld,
		folder: cfg.Folder,
		logger: logger.With().Str("component", "cloudinary").Logger(),
	}, nil
}

// Upload sends the file to Cloudinary. Images and videos also get a thumbnail URL.
func (s *Service) Upload(ctx context.Context, name, kind string, reader io.Reader) (StoredFile, error) {
	folder := strings.Trim(s.folder, "/")
	if kind != "" {
		folder = strings.Trim(folder+"/"+kind, "/")
	}

	params := uploader.UploadParams{
		Folder:       folder,
		PublicID:     buildPublicID(name),
		ResourceType: resourceType(kind),
	}

	result, err := s.client.Upload.Upload(ctx, reader, params)
	if err != nil {
		return StoredFile{}, fmt.Errorf("failed to upload asset: %w", err)
	}

	s.logger.Info().Str("public_id", result.PublicID).Str("kind", kind).Msg("file uploaded to cloudinary")

	stored := StoredFile{URL: result.SecureURL}
	switch kind {
	case "image", "video":
		stored.Thumbnail = ThumbnailURL(result.SecureURL, kind)
	}
	return stored, nil
}

// ThumbnailURL derives a thumbnail delivery URL from a secure asset URL.
func ThumbnailURL(secureURL, kind string) string {
	const marker = "/upload/"
	idx := strings.Index(secureURL, marker)
	if idx < 0 {
		return ""
	}
	thumb := secureURL[:idx+len(marker)] + thumbnailTransformation + "/" + secureURL[idx+len(marker):]
	if kind == "video" {
		thumb = strings.TrimSuffix(thumb, filepath.Ext(thumb)) + ".jpg"
	}
	return thumb
}

func resourceType(kind string) string {
	switch kind {
	case "image":
		return "image"
	case "video", "audio":
		return "video"
	case "file":
		return "raw"
	default:
		return "auto"
	}
}

func buildPublicID(name string) string {
	base := strings.TrimSuffix(name, filepath.Ext(name))
	base = strings.Map(func(r rune) rune {
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') {
			return r
		}
		return '-'
	}, base)

	base = strings.Trim(base, "-")
	if base == "" {
		base = fmt.Sprintf("upload-%d", time.Now().Unix())
	}

	return fmt.Sprintf("%s-%d", base, time.Now().Unix())
}
