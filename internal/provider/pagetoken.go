package provider

import (
	"fmt"
	"strconv"
)

// encodePageIndex/decodePageIndex give Mock an opaque-looking page token
// without needing a real cursor format.
func encodePageIndex(idx int) string {
	return strconv.Itoa(idx)
}

func decodePageIndex(token string) (int, error) {
	idx, err := strconv.Atoi(token)
	if err != nil {
		return 0, fmt.Errorf("decode page token %q: %w", token, err)
	}
	return idx, nil
}
