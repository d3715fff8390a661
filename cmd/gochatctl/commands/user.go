package commands

import (
	"errors"
	"fmt"
	"sort"

	"github.com/spf13/cobra"
)

var errUserNotFound = errors.New("user not found in store")

func userCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "user",
		Short: "Manage credential store users",
	}

	cmd.AddCommand(userCreateCmd())
	cmd.AddCommand(userListCmd())
	cmd.AddCommand(userResetPasswordCmd())

	return cmd
}

func userCreateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "create <username> <password>",
		Short: "Create a new user",
		Args:  cobra.ExactArgs(2),
		RunE: func(_ *cobra.Command, args []string) error {
			username, password := []byte(args[0]), []byte(args[1])

			_, found, err := creds.GetPassword(username)
			if err != nil {
				return fmt.Errorf("check existing user: %w", err)
			}
			if found {
				return fmt.Errorf("user %q already exists", args[0])
			}

			id, err := creds.PutUser(username, password)
			if err != nil {
				return fmt.Errorf("create user: %w", err)
			}

			fmt.Printf("created user %q (id %d)\n", args[0], id)
			return nil
		},
	}
}

func userListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List all users",
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			names, err := creds.ListUsernames()
			if err != nil {
				return fmt.Errorf("list users: %w", err)
			}
			sort.Strings(names)

			for _, name := range names {
				id, found, err := creds.GetUserID([]byte(name))
				if err != nil {
					return fmt.Errorf("look up id for %q: %w", name, err)
				}
				if !found {
					fmt.Printf("%s\t(no id)\n", name)
					continue
				}
				fmt.Printf("%s\t%d\n", name, id)
			}
			return nil
		},
	}
}

func userResetPasswordCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "reset-password <username> <new-password>",
		Short: "Overwrite a user's stored password",
		Args:  cobra.ExactArgs(2),
		RunE: func(_ *cobra.Command, args []string) error {
			username, newPassword := []byte(args[0]), []byte(args[1])

			_, found, err := creds.GetPassword(username)
			if err != nil {
				return fmt.Errorf("check user: %w", err)
			}
			if !found {
				return fmt.Errorf("reset password for %q: %w", args[0], errUserNotFound)
			}

			if err := creds.SetPassword(username, newPassword); err != nil {
				return fmt.Errorf("reset password: %w", err)
			}

			fmt.Printf("password reset for %q\n", args[0])
			return nil
		},
	}
}
