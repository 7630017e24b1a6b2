package certctl

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/dmitrijs2005/certkeeper/internal/server/models"
)

type signupFlags struct {
	dsn         string
	id          string
	name        string
	email       string
	courseID    string
	courseTitle string
	completed   string
}

// now is swapped in tests.
var now = time.Now

func newSignupCommand() *cobra.Command {
	var f signupFlags
	cmd := &cobra.Command{
		Use:   "signup",
		Short: "Record an enrollment in the course_signups read model",
		Long: `Records an enrollment so certificates can be issued from it. Pass
--completed with the completion date to attest that the course was finished.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			signup, err := f.signup()
			if err != nil {
				return err
			}

			s, err := openStore(f.dsn)
			if err != nil {
				return fmt.Errorf("open database: %w", err)
			}
			defer s.close()

			if err := s.repos.Signups(s.db).Create(cmd.Context(), signup); err != nil {
				return fmt.Errorf("create signup %s: %w", signup.ID, err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), signup.ID)
			return nil
		},
	}

	fl := cmd.Flags()
	fl.StringVar(&f.dsn, "dsn", "", "PostgreSQL DSN")
	fl.StringVar(&f.id, "id", "", "signup UUID (generated when empty)")
	fl.StringVar(&f.name, "name", "", "student full name")
	fl.StringVar(&f.email, "email", "", "student email")
	fl.StringVar(&f.courseID, "course-id", "", "course identifier")
	fl.StringVar(&f.courseTitle, "course-title", "", "course title")
	fl.StringVar(&f.completed, "completed", "", "completion date, YYYY-MM-DD")
	for _, name := range []string{"dsn", "name", "email", "course-title"} {
		_ = cmd.MarkFlagRequired(name)
	}
	return cmd
}

func (f *signupFlags) signup() (*models.Signup, error) {
	s := &models.Signup{
		ID:          strings.TrimSpace(f.id),
		FullName:    strings.TrimSpace(f.name),
		Email:       strings.TrimSpace(f.email),
		CourseID:    strings.TrimSpace(f.courseID),
		CourseTitle: strings.TrimSpace(f.courseTitle),
		CreatedAt:   now().UTC(),
	}

	if s.ID == "" {
		s.ID = uuid.NewString()
	} else if _, err := uuid.Parse(s.ID); err != nil {
		return nil, fmt.Errorf("--id: %w", err)
	}
	if s.FullName == "" || s.CourseTitle == "" {
		return nil, errors.New("--name and --course-title must not be blank")
	}
	if !strings.Contains(s.Email, "@") {
		return nil, fmt.Errorf("--email: %q is not an email address", s.Email)
	}
	if f.completed != "" {
		d, err := time.Parse(time.DateOnly, f.completed)
		if err != nil {
			return nil, fmt.Errorf("--completed: %w", err)
		}
		s.CompletedAt = &d
	}
	return s, nil
}
