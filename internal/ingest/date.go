package ingest

import (
	"errors"
	"strings"
	"time"

	"github.com/relgraph/relgraph/internal/provider"
)

var (
	errEmptyDateHeader       = errors.New("empty date header")
	errUnparseableDateHeader = errors.New("date header matches no known format")
)

// dateFormats lists the header date formats actually seen in the wild,
// broadest (with seconds and a numeric zone) first.
var dateFormats = []string{
	time.RFC1123Z,
	time.RFC1123,
	"Mon, 2 Jan 2006 15:04:05 -0700",
	"2 Jan 2006 15:04:05 -0700",
	time.RFC822Z,
	time.RFC822,
	time.RFC3339,
}

// resolveMessageDate parses msg's raw Date header, falling back to the
// provider's own internal timestamp when the header is missing or does
// not match any known format. This matters for imported/migrated
// messages, whose internal timestamp is the import time rather than when
// the message was actually sent.
func resolveMessageDate(msg *provider.Message) time.Time {
	if t, err := parseDateHeader(msg.DateHeader); err == nil {
		return t
	}
	return msg.InternalDate
}

func parseDateHeader(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, errEmptyDateHeader
	}
	if idx := strings.LastIndex(s, "("); idx > 0 {
		s = strings.TrimSpace(s[:idx])
	}
	for _, format := range dateFormats {
		if t, err := time.Parse(format, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, errUnparseableDateHeader
}
