package contract

import (
	"encoding/base64"
	"fmt"
	"strings"
)

// DataURI is a decoded `data:<mime>;base64,<payload>` attachment.
type DataURI struct {
	MIMEType string
	Data     []byte
}

// String re-encodes the attachment into its data URI form.
func (d DataURI) String() string {
	return EncodeDataURI(d.MIMEType, d.Data)
}

// IsImage reports whether the attachment declares an image MIME type.
func (d DataURI) IsImage() bool {
	return strings.HasPrefix(d.MIMEType, "image/")
}

// EncodeDataURI builds a Base64 data URI for the given payload.
func EncodeDataURI(mimeType string, data []byte) string {
	return "data:" + mimeType + ";base64," + base64.StdEncoding.EncodeToString(data)
}

// ParseDataURI decodes a Base64 data URI with an explicit MIME type. Media
// type parameters such as charset are accepted and dropped. An empty payload
// decodes to an empty attachment.
func ParseDataURI(raw string) (DataURI, error) {
	rest, ok := strings.CutPrefix(raw, "data:")
	if !ok {
		return DataURI{}, fmt.Errorf("missing data: scheme")
	}

	header, payload, ok := strings.Cut(rest, ",")
	if !ok {
		return DataURI{}, fmt.Errorf("missing payload separator")
	}

	params := strings.Split(header, ";")
	if len(params) < 2 || strings.TrimSpace(params[len(params)-1]) != "base64" {
		return DataURI{}, fmt.Errorf("payload must be base64 encoded")
	}

	mimeType := strings.TrimSpace(params[0])
	if mimeType == "" || !strings.Contains(mimeType, "/") {
		return DataURI{}, fmt.Errorf("missing mime type")
	}

	data, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return DataURI{}, fmt.Errorf("invalid base64 payload: %w", err)
	}

	return DataURI{MIMEType: mimeType, Data: data}, nil
}
