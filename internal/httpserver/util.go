package httpserver

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
)

// maxRequestBodyBytes caps a verify/settle request body. A PaymentPayload plus
// requirements fits comfortably inside this; anything larger is rejected
// before JSON decoding starts.
const maxRequestBodyBytes = 64 * 1024

// decodeJSON decodes a size-capped JSON request body into dest and closes the
// reader. Unknown fields are rejected so a misspelled top-level field surfaces
// as a 400 instead of silently verifying an empty payload.
func decodeJSON(r io.ReadCloser, dest any) error {
	defer r.Close()

	limited := io.LimitReader(r, maxRequestBodyBytes+1)
	raw, err := io.ReadAll(limited)
	if err != nil {
		return err
	}
	if len(raw) > maxRequestBodyBytes {
		return fmt.Errorf("request body exceeds %d byte cap", maxRequestBodyBytes)
	}

	decoder := json.NewDecoder(bytes.NewReader(raw))
	decoder.DisallowUnknownFields()
	return decoder.Decode(dest)
}
