package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/solatis/rowkeeper/internal/core/auth"
	"github.com/solatis/rowkeeper/internal/core/config"
	"github.com/solatis/rowkeeper/internal/core/db"
	"github.com/solatis/rowkeeper/internal/types"
)

var keysCmd = &cobra.Command{
	Use:   "keys",
	Short: "Manage API keys",
}

var keysCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Issue an API key for a tenant user",
	Long: `Issues a key under the newest configured HMAC secret. The key is printed
once; only its HMAC is stored.`,
	Args: cobra.NoArgs,
	RunE: runKeysCreate,
}

var keysRevokeCmd = &cobra.Command{
	Use:   "revoke <key-id>",
	Short: "Revoke an API key",
	Args:  cobra.ExactArgs(1),
	RunE:  runKeysRevoke,
}

func init() {
	rootCmd.AddCommand(keysCmd)
	keysCmd.AddCommand(keysCreateCmd, keysRevokeCmd)

	for _, c := range []*cobra.Command{keysCreateCmd, keysRevokeCmd} {
		c.Flags().String("tenant", "", "tenant id")
		_ = c.MarkFlagRequired("tenant")
	}
	keysCreateCmd.Flags().String("user", "", "user id the key acts as")
	_ = keysCreateCmd.MarkFlagRequired("user")
}

func openStore(cmd *cobra.Command) (*db.RecordStore, func() error, error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, nil, err
	}
	database, err := openDatabase(cmd.Context(), cfg)
	if err != nil {
		return nil, nil, err
	}
	queries, err := db.LoadQueries(database)
	if err != nil {
		database.Close()
		return nil, nil, err
	}
	store, err := db.NewRecordStore(database, queries)
	if err != nil {
		database.Close()
		return nil, nil, err
	}
	return store, database.Close, nil
}

func runKeysCreate(cmd *cobra.Command, args []string) error {
	tenantFlag, _ := cmd.Flags().GetString("tenant")
	user, _ := cmd.Flags().GetString("user")

	tenant, err := types.ParseTenantID(tenantFlag)
	if err != nil {
		return err
	}
	if user == "" {
		return fmt.Errorf("--user cannot be empty")
	}

	secrets, err := config.HMACSecrets()
	if err != nil {
		return fmt.Errorf("failed to load HMAC secrets: %w", err)
	}
	key, hash, err := auth.GenerateAPIKey(secrets)
	if err != nil {
		return err
	}

	store, closeDB, err := openStore(cmd)
	if err != nil {
		return err
	}
	defer closeDB()

	id, err := store.CreateAPIKey(cmd.Context(), tenant, user, hash)
	if err != nil {
		return err
	}

	logger.Info("api key created", "key_id", id, "tenant_id", tenant, "user_id", user)
	fmt.Fprintln(cmd.OutOrStdout(), key)
	return nil
}

func runKeysRevoke(cmd *cobra.Command, args []string) error {
	tenantFlag, _ := cmd.Flags().GetString("tenant")

	tenant, err := types.ParseTenantID(tenantFlag)
	if err != nil {
		return err
	}
	keyID, err := types.ParseAPIKeyID(args[0])
	if err != nil {
		return err
	}

	store, closeDB, err := openStore(cmd)
	if err != nil {
		return err
	}
	defer closeDB()

	if err := store.RevokeAPIKey(cmd.Context(), tenant, keyID); err != nil {
		return err
	}
	logger.Info("api key revoked", "key_id", keyID, "tenant_id", tenant)
	return nil
}
