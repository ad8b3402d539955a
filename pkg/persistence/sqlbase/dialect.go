package sqlbase

import (
	"strconv"
	"strings"
	"time"
)

// Dialect captures what differs between the SQL databases backing the flow
// store. Queries are written with "?" placeholders and rebound per dialect.
type Dialect struct {
	Name               string
	MigrationsTableSQL string

	// Placeholder renders the n-th (1-based) bind parameter.
	Placeholder func(n int) string

	// TimeValue converts a timestamp into a bind value.
	TimeValue func(t time.Time) any

	// DocumentValue converts an encoded flow document into a bind value.
	DocumentValue func(doc []byte) (any, error)

	// ReadDocument reverses DocumentValue on scanned bytes.
	ReadDocument func(raw []byte) ([]byte, error)

	// SnapshotValue and ReadSnapshot do the same for version snapshots.
	SnapshotValue func(doc []byte) (any, error)
	ReadSnapshot  func(raw []byte) ([]byte, error)

	// IsUniqueViolation reports whether err came from a unique constraint.
	IsUniqueViolation func(err error) bool
}

// UniqueViolation reports whether err is a unique constraint violation.
func (d *Dialect) UniqueViolation(err error) bool {
	return err != nil && d.IsUniqueViolation != nil && d.IsUniqueViolation(err)
}

// Rebind rewrites "?" placeholders into the dialect's form.
func (d *Dialect) Rebind(query string) string {
	if d.Placeholder == nil {
		return query
	}

	var b strings.Builder

	n := 0

	for _, r := range query {
		if r == '?' {
			n++
			b.WriteString(d.Placeholder(n))

			continue
		}

		b.WriteRune(r)
	}

	return b.String()
}

// DollarPlaceholder renders $1, $2, ...
func DollarPlaceholder(n int) string {
	return "$" + strconv.Itoa(n)
}

// TextDocument binds a document as text.
func TextDocument(doc []byte) (any, error) {
	return string(doc), nil
}

// RawDocument returns scanned bytes unchanged.
func RawDocument(raw []byte) ([]byte, error) {
	return raw, nil
}

// SortableTime formats t in UTC with a fixed-width fraction so that text
// comparison matches time order.
func SortableTime(t time.Time) any {
	return t.UTC().Format(sortableLayout)
}

const sortableLayout = "2006-01-02T15:04:05.000000000Z07:00"
