package models

import "time"

// Signup is the enrollment record read from the course collaborator.
// Completion is attested when CompletedAt is set.
type Signup struct {
	ID          string
	FullName    string
	Email       string
	CourseID    string
	CourseTitle string
	CompletedAt *time.Time
	CreatedAt   time.Time
}

// Completed reports whether the enrollment system attested completion.
func (s *Signup) Completed() bool {
	return s.CompletedAt != nil
}
