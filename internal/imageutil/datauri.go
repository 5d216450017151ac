package imageutil

import (
	"encoding/base64"
	"fmt"
	"strings"
)

// BuildDataURI returns a data: URI for data, inferring the MIME type
// from its magic bytes when mime is empty.
func BuildDataURI(data []byte, mime string) string {
	if mime == "" {
		mime = DetectFormat(data).MIME()
	}
	if mime == "" {
		mime = "application/octet-stream"
	}
	return fmt.Sprintf("data:%s;base64,%s", mime, base64.StdEncoding.EncodeToString(data))
}

// ParseDataURI splits a data: URI into its MIME type and decoded bytes.
func ParseDataURI(uri string) (mime string, data []byte, ok bool) {
	const prefix = "data:"
	if !strings.HasPrefix(uri, prefix) {
		return "", nil, false
	}
	rest := uri[len(prefix):]
	comma := strings.IndexByte(rest, ',')
	if comma < 0 {
		return "", nil, false
	}
	meta, payload := rest[:comma], rest[comma+1:]

	isBase64 := strings.HasSuffix(meta, ";base64")
	mime = strings.TrimSuffix(meta, ";base64")

	var decoded []byte
	var err error
	if isBase64 {
		decoded, err = base64.StdEncoding.DecodeString(payload)
	} else {
		decoded = []byte(payload)
	}
	if err != nil {
		return "", nil, false
	}
	return mime, decoded, true
}

// IsDataURI reports whether s looks like a data: URI.
func IsDataURI(s string) bool {
	return strings.HasPrefix(s, "data:")
}
