package payload

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sample() Payload {
	return Payload{
		CertificateID: "CERT-2025-AABBCCDD-EEFF-0011-2233-445566778899",
		StudentName:   "Ana Gómez",
		CourseTitle:   "Automation 101",
		CompletedAt:   time.Date(2025, 1, 20, 0, 0, 0, 0, time.UTC),
		IssuedAt:      time.Date(2025, 1, 21, 10, 30, 0, 123456789, time.UTC),
	}
}

func TestCanonical_Layout(t *testing.T) {
	got := string(Canonical(sample()))
	want := `{"v":1,"certificate_id":"CERT-2025-AABBCCDD-EEFF-0011-2233-445566778899","student_name":"Ana Gómez","course_title":"Automation 101","completed_at":"2025-01-20","issued_at":"2025-01-21T10:30:00.123Z"}`
	assert.Equal(t, want, got)
}

func TestHash_Deterministic(t *testing.T) {
	h1 := Hash(sample())
	h2 := Hash(sample())
	assert.Equal(t, h1, h2)
	assert.Len(t, h1, 64)
	assert.Regexp(t, `^[0-9a-f]{64}$`, h1)
}

func TestHash_ChangesWithEveryField(t *testing.T) {
	base := Hash(sample())

	mutations := map[string]func(*Payload){
		"certificate_id": func(p *Payload) { p.CertificateID = "CERT-2025-AABBCCDD-EEFF-0011-2233-445566778898" },
		"student_name":   func(p *Payload) { p.StudentName = "Ana Gomez" },
		"course_title":   func(p *Payload) { p.CourseTitle = "Automation 102" },
		"completed_at":   func(p *Payload) { p.CompletedAt = p.CompletedAt.AddDate(0, 0, 1) },
		"issued_at":      func(p *Payload) { p.IssuedAt = p.IssuedAt.Add(time.Millisecond) },
	}

	for name, mutate := range mutations {
		t.Run(name, func(t *testing.T) {
			p := sample()
			mutate(&p)
			assert.NotEqual(t, base, Hash(p))
		})
	}
}

func TestHash_NormalizesEquivalentInput(t *testing.T) {
	p := sample()
	// "o" followed by a combining acute accent, plus surrounding whitespace.
	p.StudentName = "  Ana Go\u0301mez "
	assert.Equal(t, Hash(sample()), Hash(p))

	// Sub-millisecond precision and zone do not affect the digest.
	p = sample()
	p.IssuedAt = p.IssuedAt.Add(400 * time.Microsecond).In(time.FixedZone("X", 3*3600))
	assert.Equal(t, Hash(sample()), Hash(p))
}

func TestHash_FieldBoundariesAreUnambiguous(t *testing.T) {
	a := sample()
	a.StudentName = `Ana","course_title":"X`
	b := sample()
	b.StudentName = "Ana"
	b.CourseTitle = `X","course_title":"Automation 101`
	assert.NotEqual(t, Hash(a), Hash(b))
}

func TestMatches(t *testing.T) {
	h := Hash(sample())
	require.True(t, Matches(sample(), h))

	p := sample()
	p.StudentName = "Tampered"
	assert.False(t, Matches(p, h))
}

func TestTruncateIssuedAt(t *testing.T) {
	in := time.Date(2025, 1, 21, 10, 30, 0, 123456789, time.FixedZone("X", 3600))
	got := TruncateIssuedAt(in)
	assert.Equal(t, time.UTC, got.Location())
	assert.Equal(t, 123000000, got.Nanosecond())
}
