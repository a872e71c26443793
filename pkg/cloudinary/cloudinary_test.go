package cloudinary

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestThumbnailURL(t *testing.T) {
	image := ThumbnailURL("https://res.cloudinary.com/demo/image/upload/v1/chat/image/cat-1.png", "image")
	require.Equal(t, "https://res.cloudinary.com/demo/image/upload/c_thumb,w_320,h_320/v1/chat/image/cat-1.png", image)

	video := ThumbnailURL("https://res.cloudinary.com/demo/video/upload/v1/chat/video/clip-1.mp4", "video")
	require.True(t, strings.HasSuffix(video, "clip-1.jpg"))

	require.Empty(t, ThumbnailURL("https://cdn.example.com/file.png", "image"))
}

func TestBuildPublicIDStripsUnsafeRunes(t *testing.T) {
	id := buildPublicID("My File (1).pdf")
	require.True(t, strings.HasPrefix(id, "My-File--1-"))
	require.NotContains(t, id, " ")
}

func TestResourceType(t *testing.T) {
	require.Equal(t, "image", resourceType("image"))
	require.Equal(t, "video", resourceType("audio"))
	require.Equal(t, "raw", resourceType("file"))
	require.Equal(t, "auto", resourceType(""))
}
