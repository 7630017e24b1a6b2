package certctl

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/dmitrijs2005/certkeeper/internal/server/auth"
)

// Test seams for the terminal prompt.
var (
	readPassword = term.ReadPassword
	isTerminal   = term.IsTerminal
	getenv       = os.Getenv
)

func newTokenCommand() *cobra.Command {
	var (
		subject string
		secret  string
		ttl     time.Duration
	)
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Mint an admin bearer token",
		Long: `Signs an HS256 admin token for the given subject. The secret is taken from
--secret, then $` + SecretEnv + `, then an interactive prompt.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			key, err := resolveSecret(secret, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			token, err := auth.GenerateToken(subject, key, ttl)
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), token)
			return err
		},
	}
	cmd.Flags().StringVar(&subject, "subject", "", "admin identifier recorded as the actor")
	cmd.Flags().StringVar(&secret, "secret", "", "JWT HMAC secret")
	cmd.Flags().DurationVar(&ttl, "ttl", time.Hour, "token validity")
	_ = cmd.MarkFlagRequired("subject")
	return cmd
}

func resolveSecret(flagValue string, prompt io.Writer) ([]byte, error) {
	if flagValue != "" {
		return []byte(flagValue), nil
	}
	if v := getenv(SecretEnv); v != "" {
		return []byte(v), nil
	}
	fd := int(os.Stdin.Fd())
	if !isTerminal(fd) {
		return nil, errors.New("no secret: pass --secret or set " + SecretEnv)
	}
	fmt.Fprint(prompt, "Enter secret: ")
	pw, err := readPassword(fd)
	fmt.Fprintln(prompt)
	if err != nil {
		return nil, fmt.Errorf("read secret: %w", err)
	}
	s := strings.TrimSpace(string(pw))
	clear(pw)
	if s == "" {
		return nil, errors.New("empty secret")
	}
	return []byte(s), nil
}
