// Package commands implements the ldaprealm CLI.
package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/isometry/ldaprealm/internal/ldap"
)

var (
	// Version information injected at build time.
	Version = "dev"
	Commit  = "none"

	// Global flags.
	cfgFile     string
	showMetrics bool

	// dialer replaces the network dialer when set.
	dialer ldap.Dialer
)

var rootCmd = &cobra.Command{
	Use:   "ldaprealm",
	Short: "Authenticate users and resolve roles against an LDAP directory",
	Long: `ldaprealm verifies username/password credentials by binding to an LDAP
directory and resolves the user's group memberships as roles.

Every setting can be overridden from the environment using the
LDAPREALM_<SECTION>_<KEY> form, for example LDAPREALM_CONNECTION_HOST.
Log levels are read from LDAPREALM_LOG, LDAPREALM_LOG_LDAP,
LDAPREALM_LOG_POOL and LDAPREALM_LOG_REALM.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Show version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "ldaprealm %s (%s)\n", Version, Commit)
	},
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (YAML)")
	rootCmd.PersistentFlags().BoolVar(&showMetrics, "metrics", false, "print realm metrics after the command")

	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(loginCmd)
	rootCmd.AddCommand(rolesCmd)
	rootCmd.AddCommand(configCmd)

	rootCmd.CompletionOptions.DisableDefaultCmd = true
}
