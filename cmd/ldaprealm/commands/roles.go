package commands

import (
	"github.com/spf13/cobra"

	"github.com/isometry/ldaprealm/internal/realm"
)

var rolesDN string

var rolesCmd = &cobra.Command{
	Use:   "roles <username>",
	Short: "Resolve a user's roles without authenticating",
	Long: `Resolve the roles of a user from group membership using the service
account. The user is looked up by identity unless --dn is given.`,
	Args: cobra.ExactArgs(1),
	RunE: runRoles,
}

func init() {
	rolesCmd.Flags().StringVar(&rolesDN, "dn", "", "Distinguished name of the user (skips the user search)")
}

func runRoles(cmd *cobra.Command, args []string) error {
	s, err := openSession(cmd.Context())
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	var others []realm.PrincipalProvider
	if rolesDN != "" {
		others = append(others, realm.NewSimplePrincipal(realm.PrincipalDN, rolesDN))
	}

	roles, err := s.realm.GetRealmRoles(cmd.Context(), realm.NewSimplePrincipal(realm.PrincipalIdentity, args[0]), others)
	if err == nil {
		writeRoles(out, roles)
	}
	if closeErr := s.close(out); err == nil {
		err = closeErr
	}
	return err
}
