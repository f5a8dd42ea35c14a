package cli

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/law-makers/deepcrawl/internal/llm"
	"github.com/law-makers/deepcrawl/internal/ui"
)

// credentialsCmd manages API keys for the llm content filter.
var credentialsCmd = &cobra.Command{
	Use:   "credentials",
	Short: "Manage API keys for the llm content filter",
	Long: `Store, list and delete API keys used by --content-filter llm.

Keys are kept in your OS keyring. Where no keyring is available (CI, dev
containers) they are written to ~/.deepcrawl/credentials with mode 0600.

A key passed with --llm-api-token, or found in <PROVIDER>_API_KEY, takes
effect without being stored.`,
	Example: `  # Store an OpenAI key, read from stdin
  $ echo "$OPENAI_API_KEY" | deepcrawl credentials set openai

  # List providers with a stored key
  $ deepcrawl credentials list

  # Remove a key
  $ deepcrawl credentials delete openai`,
}

var credentialsSetCmd = &cobra.Command{
	Use:   "set <provider>",
	Short: "Store an API key for a provider",
	Args:  cobra.ExactArgs(1),
	RunE:  runCredentialsSet,
}

var credentialsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List providers with a stored API key",
	RunE:  runCredentialsList,
}

var credentialsDeleteCmd = &cobra.Command{
	Use:   "delete <provider>",
	Short: "Delete a stored API key",
	Args:  cobra.ExactArgs(1),
	RunE:  runCredentialsDelete,
}

// newKeyStore is swapped in tests.
var newKeyStore = llm.NewKeyStore

func init() {
	rootCmd.AddCommand(credentialsCmd)
	credentialsCmd.AddCommand(credentialsSetCmd)
	credentialsCmd.AddCommand(credentialsListCmd)
	credentialsCmd.AddCommand(credentialsDeleteCmd)

	credentialsSetCmd.Flags().String("key", "", "API key (read from stdin when omitted)")
}

func runCredentialsSet(cmd *cobra.Command, args []string) error {
	provider := strings.ToLower(args[0])

	key, _ := cmd.Flags().GetString("key")
	if key == "" {
		var err error
		if key, err = readKey(cmd.InOrStdin()); err != nil {
			return err
		}
	}

	store, err := newKeyStore()
	if err != nil {
		return fmt.Errorf("open key store: %w", err)
	}
	if err := store.Save(provider, key); err != nil {
		return err
	}
	log.Debug().Str("provider", provider).Msg("API key stored")

	out := cmd.OutOrStdout()
	fmt.Fprintln(out, ui.Success("✓ API key saved for "+provider))
	fmt.Fprintf(out, "\n%s\n", ui.Bold("Use it with:"))
	fmt.Fprintf(out, "  %s\n\n", ui.ColorCyan+"deepcrawl crawl <url> --content-filter llm --llm-provider "+provider+"/<model>"+ui.ColorReset)
	return nil
}

func runCredentialsList(cmd *cobra.Command, _ []string) error {
	store, err := newKeyStore()
	if err != nil {
		return fmt.Errorf("open key store: %w", err)
	}
	names, err := store.List()
	if err != nil {
		return fmt.Errorf("failed to list credentials: %w", err)
	}

	out := cmd.OutOrStdout()
	if len(names) == 0 {
		fmt.Fprintln(out, "\nNo stored API keys found.")
		fmt.Fprintln(out, "\nStore one with:")
		fmt.Fprintln(out, "  deepcrawl credentials set <provider>")
		fmt.Fprintln(out)
		return nil
	}

	fmt.Fprintf(out, "\n%s (%d)\n", ui.Bold("Stored API keys"), len(names))
	for i, name := range names {
		fmt.Fprintf(out, "%d. %s\n", i+1, name)
	}
	fmt.Fprintln(out)
	return nil
}

func runCredentialsDelete(cmd *cobra.Command, args []string) error {
	provider := strings.ToLower(args[0])
	store, err := newKeyStore()
	if err != nil {
		return fmt.Errorf("open key store: %w", err)
	}
	if err := store.Delete(provider); err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), ui.Success("✓ API key deleted for "+provider))
	return nil
}

// readKey takes the first non-empty line of r.
func readKey(r io.Reader) (string, error) {
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		if key := strings.TrimSpace(sc.Text()); key != "" {
			return key, nil
		}
	}
	if err := sc.Err(); err != nil {
		return "", fmt.Errorf("read api key: %w", err)
	}
	return "", errors.New("no api key given: pass --key or pipe it on stdin")
}
