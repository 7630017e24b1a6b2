package certctl

import (
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/dmitrijs2005/certkeeper/internal/server/certid"
	"github.com/dmitrijs2005/certkeeper/internal/server/models"
	"github.com/dmitrijs2005/certkeeper/internal/server/payload"
)

func newAuditCommand() *cobra.Command {
	var dsn string
	cmd := &cobra.Command{
		Use:   "audit <certificate_id>",
		Short: "Print a certificate's audit trail and check its payload hash",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id := args[0]
			if err := certid.Validate(id); err != nil {
				return err
			}

			s, err := openStore(dsn)
			if err != nil {
				return fmt.Errorf("open database: %w", err)
			}
			defer s.close()

			ctx := cmd.Context()
			c, err := s.repos.Certificates(s.db).FindByCertificateID(ctx, id)
			if err != nil {
				return fmt.Errorf("load certificate: %w", err)
			}
			events, err := s.repos.Audit(s.db).ListByCertificateID(ctx, id)
			if err != nil {
				return fmt.Errorf("load audit trail: %w", err)
			}
			return report(cmd.OutOrStdout(), c, events)
		},
	}
	cmd.Flags().StringVar(&dsn, "dsn", "", "PostgreSQL DSN")
	_ = cmd.MarkFlagRequired("dsn")
	return cmd
}

// report prints the certificate summary and its events, then returns
// ErrIntegrity when the stored hash no longer matches.
func report(out io.Writer, c *models.Certificate, events []*models.AuditEvent) error {
	computed := payload.Hash(c.Payload())

	fmt.Fprintf(out, "certificate  %s\n", c.CertificateID)
	fmt.Fprintf(out, "status       %s\n", c.Status)
	fmt.Fprintf(out, "student      %s\n", c.StudentName)
	fmt.Fprintf(out, "course       %s\n", c.CourseTitle)
	fmt.Fprintf(out, "stored hash  %s\n", c.PayloadHash)
	fmt.Fprintf(out, "derived hash %s\n\n", computed)

	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tOCCURRED\tEVENT\tACTOR\tMETADATA")
	for _, ev := range events {
		actor := string(ev.ActorType)
		if ev.ActorID != nil {
			actor += ":" + *ev.ActorID
		}
		md, err := json.Marshal(ev.Metadata)
		if err != nil {
			return fmt.Errorf("encode metadata of event %d: %w", ev.ID, err)
		}
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\n", ev.ID, ev.OccurredAt.UTC().Format(time.RFC3339), ev.EventType, actor, md)
	}
	if err := tw.Flush(); err != nil {
		return err
	}

	if computed != c.PayloadHash {
		return fmt.Errorf("%s: %w", c.CertificateID, ErrIntegrity)
	}
	fmt.Fprintln(out, "\nintegrity    ok")
	return nil
}
