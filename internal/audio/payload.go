package audio

import (
	"encoding/base64"
	"errors"
	"strings"
)

var ErrEmptyPayload = errors.New("empty audio payload")

// NormalizeBase64 accepts a plain base64 string or a data URI
// ("data:audio/pcm;base64,....") and returns canonical standard base64
// together with the decoded bytes.
func NormalizeBase64(s string) (string, []byte, error) {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "data:") {
		i := strings.IndexByte(s, ',')
		if i < 0 {
			return "", nil, errors.New("malformed data URI")
		}
		s = s[i+1:]
	}
	if s == "" {
		return "", nil, ErrEmptyPayload
	}
	raw, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		// Browsers sometimes strip padding.
		raw, err = base64.RawStdEncoding.DecodeString(strings.TrimRight(s, "="))
		if err != nil {
			return "", nil, err
		}
	}
	return base64.StdEncoding.EncodeToString(raw), raw, nil
}

// EncodeBinary returns canonical base64 for an already-binary payload.
func EncodeBinary(raw []byte) (string, error) {
	if len(raw) == 0 {
		return "", ErrEmptyPayload
	}
	return base64.StdEncoding.EncodeToString(raw), nil
}
