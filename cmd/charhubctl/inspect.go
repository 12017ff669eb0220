package main

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"charhub/pkg/state"
	"charhub/pkg/store/db/storedb"
	"charhub/pkg/store/keys"
)

var (
	inspectUser       string
	inspectCollection string
)

var inspectCmd = &cobra.Command{
	Use:   "inspect",
	Short: "Dump a user's stored documents as JSON lines",
	Long: `Open the pebble document store read-only and print one JSON object per
document. Without --collection every collection is printed.`,
	RunE: runInspect,
}

func init() {
	inspectCmd.Flags().StringVar(&inspectUser, "user", "", "user id")
	inspectCmd.Flags().StringVar(&inspectCollection, "collection", "", "collection name")
	_ = inspectCmd.MarkFlagRequired("user")
}

type inspectLine struct {
	Collection string          `json:"collection"`
	ID         string          `json:"id"`
	UpdatedAt  time.Time       `json:"updatedAt"`
	Age        string          `json:"age"`
	Data       json.RawMessage `json:"data"`
}

func runInspect(cmd *cobra.Command, _ []string) error {
	collections := keys.Collections()
	if inspectCollection != "" {
		if err := keys.ValidateCollection(inspectCollection); err != nil {
			return err
		}
		collections = []string{inspectCollection}
	}

	db, err := storedb.OpenReadOnly(state.StorePath(dbPath))
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer db.Close()

	enc := json.NewEncoder(cmd.OutOrStdout())
	for _, c := range collections {
		recs, err := db.List(cmd.Context(), inspectUser, c)
		if err != nil {
			return fmt.Errorf("list %s: %w", c, err)
		}
		for _, r := range recs {
			line := inspectLine{
				Collection: c,
				ID:         r.ID,
				UpdatedAt:  r.UpdatedAt,
				Age:        humanize.Time(r.UpdatedAt),
				Data:       r.Body,
			}
			if err := enc.Encode(line); err != nil {
				return err
			}
		}
	}
	return nil
}
