// Package payload computes the tamper-evident digest over a certificate's
// semantic content.
package payload

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"strconv"
	"strings"
	"time"

	"golang.org/x/text/unicode/norm"
)

// Version is the canonical serialization version. It is part of the hashed
// bytes so a future format change never collides with this one.
const Version = 1

const (
	dateLayout      = "2006-01-02"
	timestampLayout = "2006-01-02T15:04:05.000Z07:00"
)

// Payload is the set of fields a certificate asserts.
type Payload struct {
	CertificateID string
	StudentName   string
	CourseTitle   string
	CompletedAt   time.Time
	IssuedAt      time.Time
}

// TruncateIssuedAt returns t in UTC truncated to the precision kept in the
// canonical form. Persist this value so re-derivation is exact.
func TruncateIssuedAt(t time.Time) time.Time {
	return t.UTC().Truncate(time.Millisecond)
}

// Canonical returns the stable byte form that is hashed: a JSON object
// with a fixed key order, NFC-normalized trimmed strings, the completion
// date as YYYY-MM-DD and the issuance time as RFC 3339 UTC milliseconds.
func Canonical(p Payload) []byte {
	var buf bytes.Buffer
	buf.WriteString(`{"v":`)
	buf.WriteString(strconv.Itoa(Version))
	writeField(&buf, "certificate_id", clean(p.CertificateID))
	writeField(&buf, "student_name", clean(p.StudentName))
	writeField(&buf, "course_title", clean(p.CourseTitle))
	writeField(&buf, "completed_at", p.CompletedAt.UTC().Format(dateLayout))
	writeField(&buf, "issued_at", TruncateIssuedAt(p.IssuedAt).Format(timestampLayout))
	buf.WriteByte('}')
	return buf.Bytes()
}

// Hash returns the lowercase hex SHA-256 of Canonical(p).
func Hash(p Payload) string {
	sum := sha256.Sum256(Canonical(p))
	return hex.EncodeToString(sum[:])
}

// Matches reports whether p hashes to expected.
func Matches(p Payload, expected string) bool {
	return Hash(p) == strings.ToLower(expected)
}

func clean(s string) string {
	return norm.NFC.String(strings.TrimSpace(s))
}

func writeField(buf *bytes.Buffer, key, value string) {
	buf.WriteByte(',')
	// json.Marshal of a string never fails.
	k, _ := json.Marshal(key)
	v, _ := json.Marshal(value)
	buf.Write(k)
	buf.WriteByte(':')
	buf.Write(v)
}
