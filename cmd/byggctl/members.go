package main

import (
	"fmt"
	"strings"

	"byggarportalen/internal/storage"

	"github.com/spf13/cobra"
)

// parseMemberArgs reads USER_ID or USER_ID:ROLE arguments
func parseMemberArgs(args []string) []storage.NewMember {
	members := make([]storage.NewMember, 0, len(args))
	for _, arg := range args {
		userID, role, _ := strings.Cut(arg, ":")
		nm := storage.NewMember{UserID: strings.TrimSpace(userID)}
		if role = strings.TrimSpace(role); role != "" {
			nm.Role = &role
		}
		members = append(members, nm)
	}
	return members
}

func membersCmd() *cobra.Command {
	var acc account

	add := &cobra.Command{
		Use:   "add PROJECT_ID USER_ID[:ROLE]...",
		Short: "Add several users to a project at once, all or none",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			logger, err := newLogger(false)
			if err != nil {
				return err
			}
			defer logger.Sync()

			c, _, err := acc.login(cmd.Context(), logger)
			if err != nil {
				return err
			}

			members, err := c.AddMembers(cmd.Context(), args[0], parseMemberArgs(args[1:]))
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			for _, m := range members {
				role := "-"
				if m.Role != nil {
					role = *m.Role
				}
				fmt.Fprintf(out, "%s\t%s\t%s\n", m.ID, m.UserID, role)
			}
			return nil
		},
	}
	acc.bind(add)

	cmd := &cobra.Command{
		Use:   "members",
		Short: "Manage project members",
	}
	cmd.AddCommand(add)
	return cmd
}
