package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

var sessionCmd = &cobra.Command{
	Use:   "session",
	Short: "Manage sessions with certificate providers",
}

var sessionCreateCmd = &cobra.Command{
	Use:   "create SESSION",
	Short: "Establish a session",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		p, closeRepo, err := openProvider(cmd.Context())
		if err != nil {
			return err
		}
		defer closeRepo()

		ch, err := p.Establish(args[0])
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), ch.ID())
		return nil
	},
}

var sessionDeleteCmd = &cobra.Command{
	Use:     "delete SESSION",
	Aliases: []string{"rm"},
	Short:   "Tear down a session and everything exchanged over it",
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		p, closeRepo, err := openProvider(cmd.Context())
		if err != nil {
			return err
		}
		defer closeRepo()
		return p.Teardown(args[0])
	},
}

var sessionListCmd = &cobra.Command{
	Use:     "list",
	Aliases: []string{"ls"},
	Short:   "List established sessions",
	Args:    cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		p, closeRepo, err := openProvider(cmd.Context())
		if err != nil {
			return err
		}
		defer closeRepo()

		sessions, err := p.Sessions()
		if err != nil {
			return err
		}
		for _, id := range sessions {
			fmt.Fprintln(cmd.OutOrStdout(), id)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(sessionCmd)
	sessionCmd.AddCommand(sessionCreateCmd, sessionDeleteCmd, sessionListCmd)
}
