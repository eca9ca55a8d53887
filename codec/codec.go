// Package codec converts grids to and from the Haystack wire formats:
// Zinc text and JSON.
package codec

import (
	"strings"

	"github.com/c360studio/haystack/grid"
)

// Content types understood by ForContent.
const (
	ContentZinc = "text/zinc"
	ContentJSON = "application/json"
)

// Codec encodes and decodes grids for one content type.
//
// Decode returns the server-reported error message as its second result
// when the grid carries an err marker. The error result is reserved for
// text that cannot be decoded at all.
type Codec interface {
	ContentType() string
	Encode(g *grid.Grid, version string) (string, error)
	Decode(text string) (*grid.Grid, string, error)
}

// ForContent returns the codec for a content type. Parameters such as
// "; charset=utf-8" are ignored.
func ForContent(contentType string) (Codec, error) {
	mediaType, _, _ := strings.Cut(contentType, ";")
	switch strings.ToLower(strings.TrimSpace(mediaType)) {
	case ContentZinc:
		return Zinc{}, nil
	case ContentJSON:
		return JSON{}, nil
	}
	return nil, NewProtocolError("unsupported content type: %s", contentType)
}
