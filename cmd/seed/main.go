// Command seed bootstraps a deployment: it creates an organization and
// mints an admin secret key bound to it (no website), printing the raw
// key once. Provisioning endpoints require a secret key, so the first
// one has to come from outside the API.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/tetherchat/tether/internal/auth"
	"github.com/tetherchat/tether/internal/config"
	"github.com/tetherchat/tether/internal/models"
	"github.com/tetherchat/tether/internal/store"
)

func main() {
	name := flag.String("org", "", "organization name")
	flag.Parse()

	if *name == "" {
		fmt.Fprintln(os.Stderr, "usage: seed -org <name>")
		os.Exit(1)
	}

	cfg := config.Load()
	ctx := context.Background()

	var (
		st  store.DataStore
		err error
	)
	if cfg.DatabaseURL != "" {
		st, err = store.NewPostgresStore(ctx, cfg.DatabaseURL)
	} else {
		path := cfg.SQLitePath
		if path == "" {
			path = "tether.db"
		}
		st, err = store.NewSQLiteStore(ctx, path)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "store: %v\n", err)
		os.Exit(1)
	}
	defer st.Close()

	org, err := st.CreateOrganization(ctx, *name)
	if err != nil {
		fmt.Fprintf(os.Stderr, "create organization: %v\n", err)
		os.Exit(1)
	}

	key := &models.ApiKey{
		RawKey:         auth.MintKey(models.KeyKindSecret, false),
		Kind:           models.KeyKindSecret,
		OrganizationID: org.ID,
	}
	if err := st.CreateApiKey(ctx, key); err != nil {
		fmt.Fprintf(os.Stderr, "create key: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("Organization: %s (%s)\n", org.Name, org.ID)
	fmt.Printf("Admin secret key: %s\n", key.RawKey)
	fmt.Println("Store this key now; it is not retrievable later.")
}
