package cmd

import (
	"github.com/spf13/cobra"

	"github.com/jmcleod/certreq/channel"
)

var reconcileCmd = &cobra.Command{
	Use:   "reconcile SESSION",
	Short: "Match outstanding CSRs against the catalog and print events",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		p, closeRepo, err := openProvider(cmd.Context())
		if err != nil {
			return err
		}
		defer closeRepo()

		req, err := newRequirer(p, args[0])
		if err != nil {
			return err
		}
		events, err := req.OnChannelChanged(cmd.Context())
		if err != nil {
			return err
		}
		return printEvents(cmd.OutOrStdout(), req.SessionID(), events)
	},
}

var scanCmd = &cobra.Command{
	Use:   "scan [SESSION]",
	Short: "Report expiring and expired certificates",
	Long:  `Run the expiry scanner over one session, or every established session.`,
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		p, closeRepo, err := openProvider(cmd.Context())
		if err != nil {
			return err
		}
		defer closeRepo()

		sessions := args
		if len(sessions) == 0 {
			if sessions, err = p.Sessions(); err != nil {
				return err
			}
		}
		for _, id := range sessions {
			if err := scanSession(cmd, p, id); err != nil {
				return err
			}
		}
		return nil
	},
}

func scanSession(cmd *cobra.Command, p *channel.Provider, sessionID string) error {
	req, err := newRequirer(p, sessionID)
	if err != nil {
		return err
	}
	events, err := req.OnTick(cmd.Context())
	if err != nil {
		return err
	}
	return printEvents(cmd.OutOrStdout(), sessionID, events)
}

func init() {
	rootCmd.AddCommand(reconcileCmd, scanCmd)
}
