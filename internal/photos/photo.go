// Package photos decodes check-in photo evidence and stores it on the local
// filesystem or in an S3-compatible bucket.
package photos

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"net/http"
	"strings"
	"time"

	dErrors "gatehouse/pkg/domain-errors"
)

// MaxPhotoBytes bounds a decoded photo.
const MaxPhotoBytes = 8 << 20

// Photo is a decoded image ready to be stored.
type Photo struct {
	Data        []byte
	ContentType string
}

// Storage persists photos and returns the reference recorded on identities
// and visits.
type Storage interface {
	Save(ctx context.Context, name string, p Photo) (ref string, err error)
	Delete(ctx context.Context, ref string) error
}

// Decode accepts raw base64 (standard or URL alphabet, padded or not) with an
// optional "data:<mime>;base64," prefix. Failures are validation errors on
// the "foto" field.
func Decode(raw string) (Photo, error) {
	payload := strings.TrimSpace(raw)
	if strings.HasPrefix(payload, "data:") {
		comma := strings.IndexByte(payload, ',')
		if comma < 0 {
			return Photo{}, invalid("foto is not a valid data URL")
		}
		payload = payload[comma+1:]
	}
	payload = strings.Map(func(r rune) rune {
		if r == '\n' || r == '\r' || r == ' ' || r == '\t' {
			return -1
		}
		return r
	}, payload)
	if payload == "" {
		return Photo{}, invalid("foto is required")
	}
	if base64.StdEncoding.DecodedLen(len(payload)) > MaxPhotoBytes+3 {
		return Photo{}, invalid("foto is too large")
	}

	data, err := decodeAny(payload)
	if err != nil {
		return Photo{}, invalid("foto is not valid base64")
	}
	if len(data) == 0 {
		return Photo{}, invalid("foto is empty")
	}
	if len(data) > MaxPhotoBytes {
		return Photo{}, invalid("foto is too large")
	}
	return Photo{Data: data, ContentType: http.DetectContentType(data)}, nil
}

func decodeAny(s string) ([]byte, error) {
	encodings := []*base64.Encoding{base64.StdEncoding, base64.RawStdEncoding, base64.URLEncoding, base64.RawURLEncoding}
	var lastErr error
	for _, enc := range encodings {
		data, err := enc.DecodeString(s)
		if err == nil {
			return data, nil
		}
		lastErr = err
	}
	return nil, lastErr
}

func invalid(msg string) error {
	fields := dErrors.FieldErrors{}
	fields.Add("foto", msg)
	return fields.Err()
}

// Extension maps the sniffed content type to a file extension.
func (p Photo) Extension() string {
	switch p.ContentType {
	case "image/png":
		return ".png"
	case "image/gif":
		return ".gif"
	case "image/webp":
		return ".webp"
	default:
		return ".jpeg"
	}
}

// FileName builds "{document}_{yyyyMMddHHmmss}_{random}{ext}". The document
// is reduced to a safe character set; the random suffix keeps two photos
// taken in the same second apart.
func FileName(documentID string, p Photo, at time.Time) string {
	var b strings.Builder
	for _, r := range documentID {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-':
			b.WriteRune(r)
		}
	}
	doc := b.String()
	if doc == "" {
		doc = "persona"
	}
	suffix := make([]byte, 4)
	_, _ = rand.Read(suffix)
	return doc + "_" + at.UTC().Format("20060102150405") + "_" + hex.EncodeToString(suffix) + p.Extension()
}
