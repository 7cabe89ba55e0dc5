package sandbox

import "encoding/base64"

// hostEncode implements the script-visible encode(str) capability of
// spec.md §4.7, producing a base64 byte-string for transport back to the
// host (e.g. an extractor emitting a binary value as content).
func hostEncode(s string) string {
	return base64.StdEncoding.EncodeToString([]byte(s))
}

// hostDecode is encode's inverse. Malformed input decodes to the empty
// string rather than throwing, since this runs inside a sandboxed script
// where an exception path must stay within the Terminal taxonomy and a
// garbled argument is a script bug, not a host fault worth surfacing
// differently.
func hostDecode(s string) string {
	b, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return ""
	}
	return string(b)
}
