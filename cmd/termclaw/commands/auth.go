package commands

import (
	"fmt"

	"github.com/charmbracelet/huh"
	"github.com/spf13/cobra"

	"termclaw/pkg/termclaw/agent"
)

// newAuthCmd creates the `termclaw auth` command for credential management.
// The key lives in the OS keyring by default, or in the encrypted vault
// with --vault (AES-256-GCM behind a master password).
func newAuthCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "auth",
		Short: "Manage the LLM API credential",
	}

	var useVault bool

	setCmd := &cobra.Command{
		Use:   "set",
		Short: "Store the API key",
		RunE: func(cmd *cobra.Command, args []string) error {
			var key string
			input := huh.NewInput().
				Title("API key").
				EchoMode(huh.EchoModePassword).
				Value(&key)
			if err := huh.NewForm(huh.NewGroup(input)).Run(); err != nil {
				return err
			}
			if key == "" {
				return fmt.Errorf("no key entered")
			}

			if useVault {
				return storeInVault(key)
			}
			if err := agent.StoreKeyring("api_key", key); err != nil {
				return fmt.Errorf("storing in OS keyring: %w", err)
			}
			fmt.Println("API key stored in the OS keyring.")
			return nil
		},
	}

	showCmd := &cobra.Command{
		Use:   "show",
		Short: "Show where the credential is stored",
		RunE: func(cmd *cobra.Command, args []string) error {
			if agent.NewVault(agent.VaultPath()).Exists() {
				fmt.Println("vault:", agent.VaultPath())
			}
			if agent.GetKeyring("api_key") != "" {
				fmt.Println("keyring: api_key set")
			}
			return nil
		},
	}

	deleteCmd := &cobra.Command{
		Use:   "delete",
		Short: "Remove the API key from the OS keyring",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := agent.DeleteKeyring("api_key"); err != nil {
				return fmt.Errorf("removing from OS keyring: %w", err)
			}
			fmt.Println("API key removed.")
			return nil
		},
	}

	setCmd.Flags().BoolVar(&useVault, "vault", false, "store in the encrypted vault instead of the OS keyring")
	cmd.AddCommand(setCmd, showCmd, deleteCmd)
	return cmd
}

// storeInVault writes the key into the encrypted vault, creating it (with a
// confirmed master password) on first use.
func storeInVault(key string) error {
	vault := agent.NewVault(agent.VaultPath())

	if !vault.Exists() {
		password, err := agent.PromptPassword("New vault master password: ")
		if err != nil {
			return err
		}
		again, err := agent.PromptPassword("Repeat master password: ")
		if err != nil {
			return err
		}
		if password != again {
			return fmt.Errorf("passwords do not match")
		}
		if err := vault.Create(password); err != nil {
			return err
		}
	} else {
		password, err := agent.PromptPassword("Vault master password: ")
		if err != nil {
			return err
		}
		if err := vault.Unlock(password); err != nil {
			return err
		}
	}

	if err := vault.Set("api_key", key); err != nil {
		return err
	}
	fmt.Println("API key stored in the vault at", agent.VaultPath())
	return nil
}
