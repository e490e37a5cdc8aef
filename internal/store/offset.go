package store

import (
	"encoding/base64"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/fnplane/controlplane/internal/apperrors"
)

// EncodeOffset packs a (creation_time, id) pagination cursor into an opaque
// string. Callers must treat the result as opaque; DecodeOffset is its only
// legal consumer.
func EncodeOffset(t time.Time, id string) string {
	raw := fmt.Sprintf("%d:%s", t.UnixNano(), id)
	return base64.RawURLEncoding.EncodeToString([]byte(raw))
}

// DecodeOffset unpacks an opaque offset produced by EncodeOffset. A
// malformed offset returns apperrors.OffsetIsInvalid.
func DecodeOffset(offset string) (time.Time, string, error) {
	raw, err := base64.RawURLEncoding.DecodeString(offset)
	if err != nil {
		return time.Time{}, "", apperrors.OffsetIsInvalid(offset)
	}
	parts := strings.SplitN(string(raw), ":", 2)
	if len(parts) != 2 {
		return time.Time{}, "", apperrors.OffsetIsInvalid(offset)
	}
	nanos, err := strconv.ParseInt(parts[0], 10, 64)
	if err != nil {
		return time.Time{}, "", apperrors.OffsetIsInvalid(offset)
	}
	return time.Unix(0, nanos).UTC(), parts[1], nil
}
