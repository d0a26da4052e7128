package cmd

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/afero"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/klondi/mimicmod-lan/hub/store"
	"github.com/klondi/mimicmod-lan/internal/registry"
)

// loadSeedAccounts registers every account from accounts.yml (written
// by `hubd accounts add`) into a freshly opened store at boot. It
// reports how many accounts were loaded.
func loadSeedAccounts(db *store.Store) int {
	v := accountsViper()
	accts, _ := v.Get("accounts").(map[string]interface{})
	n := 0
	for nick := range accts {
		entry, _ := v.Get("accounts." + nick).(map[string]interface{})
		credStr, _ := entry["credentials"].(string)
		pass, _ := entry["password"].(string)
		cred, err := parseCredentials(credStr)
		if err != nil {
			continue
		}
		if err := db.Register(context.Background(), nick, pass, cred); err != nil {
			continue
		}
		n++
	}
	return n
}

const accountsFile = "accounts.yml"

func accountsViper() *viper.Viper {
	v := viper.New()
	v.SetFs(afero.NewOsFs())
	v.SetConfigFile(accountsFile)
	v.SetConfigType("yaml")
	_ = v.ReadInConfig() // a missing file just means zero accounts so far
	return v
}

func parseCredentials(s string) (registry.Credentials, error) {
	switch strings.ToLower(s) {
	case "guest":
		return registry.CredGuest, nil
	case "user":
		return registry.CredUser, nil
	case "operator", "op":
		return registry.CredOperator, nil
	case "super":
		return registry.CredSuper, nil
	case "admin":
		return registry.CredAdmin, nil
	default:
		return 0, fmt.Errorf("unknown credential class %q", s)
	}
}

func init() {
	accountsCmd := &cobra.Command{
		Use:   "accounts",
		Short: "manage the seed account list loaded by `serve` at startup",
	}

	var cred string
	addCmd := &cobra.Command{
		Use:   "add <nick> <password>",
		Short: "add or overwrite a registered account",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := parseCredentials(cred); err != nil {
				return err
			}
			v := accountsViper()
			v.Set("accounts."+args[0]+".credentials", cred)
			v.Set("accounts."+args[0]+".password", args[1])
			if err := v.WriteConfigAs(accountsFile); err != nil {
				return err
			}
			fmt.Printf("added %q as %s\n", args[0], cred)
			return nil
		},
	}
	addCmd.Flags().StringVar(&cred, "cred", "user", "credential class: guest, user, operator, super, admin")
	accountsCmd.AddCommand(addCmd)

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "list seeded accounts",
		RunE: func(cmd *cobra.Command, args []string) error {
			v := accountsViper()
			accts, _ := v.Get("accounts").(map[string]interface{})
			for nick := range accts {
				entry, _ := v.Get("accounts." + nick).(map[string]interface{})
				fmt.Printf("%s\t%v\n", nick, entry["credentials"])
			}
			return nil
		},
	}
	accountsCmd.AddCommand(listCmd)

	Root.AddCommand(accountsCmd)
}
