package client

import (
	"strconv"
	"unicode/utf16"
)

// SurrogateKey folds a domain id into the non-negative integer used as the
// remote primary key: a base-31 rolling hash over UTF-16 code units with
// 32-bit wraparound, then its absolute value. math.MinInt32 maps to 2^31.
func SurrogateKey(id string) int64 {
	var h int32
	for _, u := range utf16.Encode([]rune(id)) {
		h = h*31 + int32(u)
	}
	k := int64(h)
	if k < 0 {
		k = -k
	}
	return k
}

// rowKey returns the primary key addressing the row of a domain id. Rows
// without original_id come back with the decimal key as their id, which is
// used as is instead of being hashed again.
func rowKey(id string) int64 {
	if k, err := strconv.ParseInt(id, 10, 64); err == nil && strconv.FormatInt(k, 10) == id {
		return k
	}
	return SurrogateKey(id)
}
