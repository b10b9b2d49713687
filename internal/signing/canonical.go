package signing

import (
	"encoding/json"
	"fmt"

	"github.com/gowebpki/jcs"
)

// Canonicalize serializes v to RFC 8785 canonical JSON. The same logical
// payload always yields the same bytes, so replay detection and audit
// comparison are exact-match.
func Canonicalize(v any) ([]byte, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("marshaling payload: %w", err)
	}
	canonical, err := jcs.Transform(raw)
	if err != nil {
		return nil, fmt.Errorf("canonicalizing payload: %w", err)
	}
	return canonical, nil
}
