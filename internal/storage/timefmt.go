package storage

import (
	"log"
	"time"
)

// timeLayout is the timestamp encoding used by the messages table.
// Lexical order of encoded values equals chronological order, so the
// store can sort and range-scan on the raw TEXT column.
const timeLayout = "2006-01-02 15:04:05"

// FormatTime encodes t for storage, normalized to UTC.
func FormatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

// ParseTime decodes a stored timestamp. A corrupt value is logged and
// replaced with the current time.
func ParseTime(s string) time.Time {
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		log.Printf("Unparseable stored timestamp %q: %v, substituting current time", s, err)
		return time.Now().UTC()
	}
	return t
}
