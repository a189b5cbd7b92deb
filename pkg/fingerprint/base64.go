package fingerprint

import "encoding/base64"

// Base64 renders b as an unpadded URL-safe string, for copy/pasting a
// fingerprint somewhere the emoji or hex form doesn't fit.
func Base64(b []byte) string {
	return base64.RawURLEncoding.EncodeToString(b)
}
