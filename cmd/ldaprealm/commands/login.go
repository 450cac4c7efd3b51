package commands

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/isometry/ldaprealm/internal/realm"
)

var loginPassword string

var loginCmd = &cobra.Command{
	Use:   "login <username>",
	Short: "Authenticate a user and print its principals and roles",
	Long: `Authenticate a user by binding to the directory with the given password,
then resolve the user's roles from group membership.

Examples:
  # Prompt for the password
  ldaprealm login jdoe --config /etc/ldaprealm/config.yaml

  # Password on the command line (less secure)
  ldaprealm login jdoe -p secret`,
	Args: cobra.ExactArgs(1),
	RunE: runLogin,
}

func init() {
	loginCmd.Flags().StringVarP(&loginPassword, "password", "p", "", "Password (prompted when empty)")
}

func runLogin(cmd *cobra.Command, args []string) error {
	username := args[0]

	password := loginPassword
	if password == "" {
		var err error
		password, err = promptPassword("Password")
		if err != nil {
			return err
		}
	}

	s, err := openSession(cmd.Context())
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	err = login(cmd.Context(), s, username, password, out)
	if closeErr := s.close(out); err == nil {
		err = closeErr
	}
	return err
}

func login(ctx context.Context, s *session, username, password string, out io.Writer) error {
	info, err := s.realm.GetAuthenticationInfo(ctx, realm.NewUsernamePasswordToken(username, password))
	if err != nil {
		return fmt.Errorf("login failed for %s: %w", username, err)
	}

	roles, err := s.realm.GetRealmRoles(ctx, info.Identity, info.OtherPrincipals)
	if err != nil {
		return err
	}

	writeAuthenticationInfo(out, s.realm.Name(), info, roles)
	return nil
}

func writeAuthenticationInfo(w io.Writer, realmName string, info *realm.AuthenticationInfo, roles []string) {
	fmt.Fprintf(w, "Authenticated %s against realm %s\n", info.Identity.Principal(), realmName)
	for _, name := range []string{realm.PrincipalDN, realm.PrincipalFullName} {
		if p := info.Principal(name); p != nil {
			fmt.Fprintf(w, "  %-9s %v\n", name+":", p.Principal())
		}
	}
	writeRoles(w, roles)
}

func writeRoles(w io.Writer, roles []string) {
	if len(roles) == 0 {
		fmt.Fprintln(w, "  roles:    (none)")
		return
	}
	fmt.Fprintf(w, "  roles:    %s\n", strings.Join(roles, ", "))
}
