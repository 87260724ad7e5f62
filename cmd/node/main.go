package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

func main() {
	os.Exit(execute())
}

func execute() int {
	v := viper.New()
	var configPath string

	root := &cobra.Command{
		Use:   "node",
		Short: "A schema-driven, content-addressed replication node",
		RunE: func(cmd *cobra.Command, args []string) error {
			if configPath != "" {
				v.SetConfigFile(configPath)
				if err := v.ReadInConfig(); err != nil {
					return fmt.Errorf("reading config file: %w", err)
				}
			}
			if err := v.BindPFlags(cmd.Flags()); err != nil {
				return err
			}
			cfg, err := loadConfig(v)
			if err != nil {
				return err
			}
			exitCode = runNode(cfg)
			return nil
		},
	}

	root.Flags().StringVar(&configPath, "config", "", "path to a YAML/JSON/TOML config file")
	root.Flags().StringSlice("allow_schema_ids", nil, `schema ids to replicate, or "*" for all`)
	root.Flags().String("database_url", "", "path to the bbolt data file")
	root.Flags().Int("http_port", 0, "metrics/health HTTP port")
	root.Flags().Int("quic_port", 0, "replication transport listen port")
	root.Flags().String("blobs_base_path", "", "directory blob bytes are assembled into")
	root.Flags().String("private_key_path", "", "path to this node's Ed25519 identity key")
	root.Flags().Bool("mdns", false, "enable local network peer discovery")
	root.Flags().Bool("relay_mode", false, "offer this node as a relay for NAT-limited peers")
	root.Flags().StringSlice("relay_addresses", nil, "relay node addresses to use when direct connection fails")
	root.Flags().StringSlice("direct_node_addresses", nil, "peer addresses to dial directly on startup")
	root.Flags().StringSlice("allow_peer_ids", nil, `peer ids permitted to open sessions, or "*" for all`)
	root.Flags().StringSlice("block_peer_ids", nil, "peer ids never permitted to open sessions")
	root.Flags().Int("worker_pool_size", 0, "worker count per materializer pool")
	root.Flags().String("log_level", "", "debug, info, warn, or error")
	root.Flags().Bool("log_json", false, "emit logs as JSON")

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		return exitConfigError
	}
	return exitCode
}

// exitCode carries runNode's result out of the cobra RunE closure,
// which itself must return a plain error for cobra's own error
// reporting.
var exitCode int
