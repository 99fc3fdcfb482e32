package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/relayguard/relayguard/internal/domain/auth"
)

var useArgon2id bool

var hashTokenCmd = &cobra.Command{
	Use:   "hash-token [token]",
	Short: "Generate a hash for a bearer token",
	Long: `Generate a hash of a bearer token for use in config.

By default the output is "sha256:<hex>", usable directly in the
auth.tokens.hash field. With --argon2id the output is an Argon2id
PHC string, which is slower to verify but resistant to brute force
if the config file leaks.

Example:
  relayguard hash-token "my-secret-token"
  # Output: sha256:7d5e8c...

  relayguard hash-token --argon2id "my-secret-token"
  # Output: $argon2id$v=19$m=48128,t=1,p=1$...

Security note: The token will appear in shell history.
Consider clearing history after use or using an environment variable:
  relayguard hash-token "$MY_TOKEN"`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		token := args[0]
		if useArgon2id {
			hash, err := auth.HashTokenArgon2id(token)
			if err != nil {
				return fmt.Errorf("failed to hash token: %w", err)
			}
			fmt.Println(hash)
			return nil
		}
		fmt.Printf("sha256:%s\n", auth.HashToken(token))
		return nil
	},
}

func init() {
	hashTokenCmd.Flags().BoolVar(&useArgon2id, "argon2id", false, "Output an Argon2id hash instead of SHA-256")
	rootCmd.AddCommand(hashTokenCmd)
}
