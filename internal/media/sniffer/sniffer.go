// Package sniffer identifies uploaded field imagery by its leading bytes rather
// than by the name or content type the client claims.
package sniffer

import (
	"bytes"
	"errors"
	"io"
	"mime"
	"strings"
)

type MediaType string

const (
	TypeJPEG MediaType = "jpeg"
	TypePNG  MediaType = "png"
	TypeGIF  MediaType = "gif"
	TypeWEBP MediaType = "webp"
	TypeTIFF MediaType = "tiff"
	TypeSVG  MediaType = "svg"
)

var ErrUnknownType = errors.New("unknown media type")

// HeadSize is how many bytes Detect consumes from the reader.
const HeadSize = 512

type Result struct {
	Type MediaType
	MIME string
}

// Extension returns the file extension used for object keys.
func (r Result) Extension() string {
	switch r.Type {
	case TypeJPEG:
		return ".jpg"
	case TypeTIFF:
		return ".tif"
	case "":
		return ""
	}
	return "." + string(r.Type)
}

type signature struct {
	result Result
	match  func(head []byte) bool
}

func prefix(magic ...[]byte) func([]byte) bool {
	return func(head []byte) bool {
		for _, m := range magic {
			if bytes.HasPrefix(head, m) {
				return true
			}
		}
		return false
	}
}

var signatures = []signature{
	{Result{TypeJPEG, "image/jpeg"}, prefix([]byte{0xff, 0xd8, 0xff})},
	{Result{TypePNG, "image/png"}, prefix([]byte{0x89, 'P', 'N', 'G', '\r', '\n', 0x1a, '\n'})},
	{Result{TypeGIF, "image/gif"}, prefix([]byte("GIF87a"), []byte("GIF89a"))},
	{Result{TypeTIFF, "image/tiff"}, prefix([]byte{'I', 'I', 0x2a, 0x00}, []byte{'M', 'M', 0x00, 0x2a})},
	{Result{TypeWEBP, "image/webp"}, func(head []byte) bool {
		return len(head) >= 12 && bytes.Equal(head[:4], []byte("RIFF")) && bytes.Equal(head[8:12], []byte("WEBP"))
	}},
	{Result{TypeSVG, "image/svg+xml"}, func(head []byte) bool {
		trimmed := strings.ToLower(strings.TrimSpace(string(head)))
		return strings.HasPrefix(trimmed, "<svg") ||
			(strings.HasPrefix(trimmed, "<?xml") && strings.Contains(trimmed, "<svg"))
	}},
}

// Detect reads up to HeadSize bytes from r and classifies them. The consumed
// bytes are returned so the caller can replay them in front of the rest of r.
func Detect(r io.Reader) (Result, []byte, error) {
	head := make([]byte, HeadSize)
	n, err := io.ReadFull(r, head)
	if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) && !errors.Is(err, io.EOF) {
		return Result{}, nil, err
	}
	head = head[:n]

	result, err := DetectHead(head)
	return result, head, err
}

func DetectHead(head []byte) (Result, error) {
	if len(head) == 0 {
		return Result{}, ErrUnknownType
	}
	for _, sig := range signatures {
		if sig.match(head) {
			return sig.result, nil
		}
	}
	return Result{}, ErrUnknownType
}

// BaseMIME strips parameters from a Content-Type value.
func BaseMIME(contentType string) string {
	if contentType == "" {
		return ""
	}
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		if idx := strings.Index(contentType, ";"); idx >= 0 {
			return strings.TrimSpace(contentType[:idx])
		}
		return strings.TrimSpace(contentType)
	}
	return mediaType
}
