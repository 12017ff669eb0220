package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"charhub/pkg/config"
	"charhub/pkg/identity"
)

var (
	userEmail    string
	userPassword string
	bcryptCost   int
)

var usersCmd = &cobra.Command{
	Use:   "users",
	Short: "Manage accounts in the identity database",
}

var usersAddCmd = &cobra.Command{
	Use:   "add",
	Short: "Create an account",
	Long: `Create an email/password account directly in the identity database.
The password defaults to CHARHUB_NEW_USER_PASSWORD so it stays out of shell history.`,
	RunE: runUsersAdd,
}

var usersListCmd = &cobra.Command{
	Use:   "list",
	Short: "List accounts",
	RunE:  runUsersList,
}

func init() {
	usersAddCmd.Flags().StringVar(&userEmail, "email", "", "account email")
	usersAddCmd.Flags().StringVar(&userPassword, "password", "", "account password")
	usersAddCmd.Flags().IntVar(&bcryptCost, "bcrypt-cost", 10, "bcrypt cost")
	_ = usersAddCmd.MarkFlagRequired("email")
	usersCmd.AddCommand(usersAddCmd, usersListCmd)
}

func openIdentity(cost int) (*identity.Store, error) {
	cfg := &config.Config{}
	cfg.Server.DBPath = dbPath
	return identity.Open(identity.Options{Path: cfg.IdentityPath(), BcryptCost: cost})
}

func runUsersAdd(cmd *cobra.Command, _ []string) error {
	password := userPassword
	if password == "" {
		password = os.Getenv("CHARHUB_NEW_USER_PASSWORD")
	}
	store, err := openIdentity(bcryptCost)
	if err != nil {
		return err
	}
	defer store.Close()

	u, _, err := store.SignUp(cmd.Context(), userEmail, password)
	if err != nil {
		return fmt.Errorf("add %s: %w", userEmail, err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\n", u.ID, u.Email)
	return nil
}

func runUsersList(cmd *cobra.Command, _ []string) error {
	store, err := openIdentity(0)
	if err != nil {
		return err
	}
	defer store.Close()

	users, err := store.ListUsers(cmd.Context())
	if err != nil {
		return err
	}
	enc := json.NewEncoder(cmd.OutOrStdout())
	for _, u := range users {
		if err := enc.Encode(u); err != nil {
			return err
		}
	}
	return nil
}
