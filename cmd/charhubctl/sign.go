package main

import (
	"errors"
	"fmt"
	"os"
	"slices"
	"strings"

	"github.com/spf13/cobra"

	"charhub/pkg/api/auth"
	"charhub/pkg/api/routes/backend"
)

var signKey string

var signCmd = &cobra.Command{
	Use:   "sign <user-id>",
	Short: "Print the X-User-Signature for a user id",
	Long: `Sign a user id with a backend key, for callers that assert users with
X-User-ID and X-User-Signature. The key defaults to the first entry of
CHARHUB_API_BACKEND_KEYS.`,
	Args: cobra.ExactArgs(1),
	RunE: runSign,
}

func init() {
	signCmd.Flags().StringVar(&signKey, "key", "", "backend key to sign with")
}

func runSign(cmd *cobra.Command, args []string) error {
	userID := args[0]
	if err := backend.ValidateUserID(userID); err != nil {
		return err
	}
	key := signKey
	if key == "" {
		var keys []string
		for _, k := range strings.Split(os.Getenv("CHARHUB_API_BACKEND_KEYS"), ",") {
			if k = strings.TrimSpace(k); k != "" {
				keys = append(keys, k)
			}
		}
		// lowest sorted key, so the choice does not depend on env ordering
		if len(keys) > 0 {
			slices.Sort(keys)
			key = keys[0]
		}
	}
	if key == "" {
		return errors.New("no signing key: pass --key or set CHARHUB_API_BACKEND_KEYS")
	}
	fmt.Fprintln(cmd.OutOrStdout(), auth.CreateHMACSignature(userID, key))
	return nil
}
