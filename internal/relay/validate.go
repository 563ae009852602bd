package relay

import (
	"net/url"
	"unicode/utf8"
)

const (
	MaxIDLength           = 64
	MaxTargetURLBytes     = 2048
	MaxCookies            = 64
	MaxMetadataEntries    = 32
	MaxMetadataKeyBytes   = 64
	MaxMetadataValueBytes = 1024
)

// ValidateID checks the shape of a session id. An empty id is a validation
// failure. Any other malformed id cannot belong to a session and is reported
// as ErrNotFound without consulting the store.
func ValidateID(id string) error {
	if id == "" {
		return invalid("id", "session id is required")
	}
	if len(id) > MaxIDLength {
		return ErrNotFound
	}
	for i := 0; i < len(id); i++ {
		c := id[i]
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9', c == '-', c == '_':
		default:
			return ErrNotFound
		}
	}
	return nil
}

// ValidateTargetURL accepts an empty string or an absolute http(s) URL with a
// host.
func ValidateTargetURL(raw string) error {
	if raw == "" {
		return nil
	}
	if len(raw) > MaxTargetURLBytes {
		return invalid("target_url", "exceeds %d byte limit", MaxTargetURLBytes)
	}
	u, err := url.Parse(raw)
	if err != nil {
		return invalid("target_url", "not a valid URL")
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return invalid("target_url", "scheme must be http or https")
	}
	if u.Hostname() == "" {
		return invalid("target_url", "host is required")
	}
	return nil
}

// ValidateMetadata enforces size limits on creator-supplied metadata.
func ValidateMetadata(md map[string]string) error {
	if len(md) > MaxMetadataEntries {
		return invalid("metadata", "more than %d entries", MaxMetadataEntries)
	}
	for k, v := range md {
		if k == "" {
			return invalid("metadata", "empty key")
		}
		if len(k) > MaxMetadataKeyBytes {
			return invalid("metadata", "key exceeds %d byte limit", MaxMetadataKeyBytes)
		}
		if len(v) > MaxMetadataValueBytes {
			return invalid("metadata", "value for %q exceeds %d byte limit", k, MaxMetadataValueBytes)
		}
		if !utf8.ValidString(k) || !utf8.ValidString(v) {
			return invalid("metadata", "contains invalid UTF-8")
		}
	}
	return nil
}
