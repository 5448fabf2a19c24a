// Command openclaw runs one node of the mesh (spec.md §6).
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/qqliaoxin/openclaw-mesh/internal/app"
	"github.com/qqliaoxin/openclaw-mesh/internal/store"
	"github.com/qqliaoxin/openclaw-mesh/pkg/config"
)

var configPath string

func main() {
	_ = godotenv.Load()

	root := &cobra.Command{
		Use:   "openclaw",
		Short: "OpenClaw Mesh node",
	}
	root.PersistentFlags().StringVar(&configPath, "config", "", "path to config file")
	root.AddCommand(newInitCmd(), newStartCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newInitCmd() *cobra.Command {
	var port, webPort, dhtK, dhtAlpha, dhtHops int
	var bootstrap, tags, master string
	var genesis bool

	cmd := &cobra.Command{
		Use:   "init [name]",
		Short: "Write a new node config",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			name := "MyNode"
			if len(args) > 0 {
				name = args[0]
			}
			cfg := config.New(name)
			cfg.Port = port
			cfg.WebPort = webPort
			cfg.DHTK = dhtK
			cfg.DHTAlpha = dhtAlpha
			cfg.DHTHops = dhtHops
			cfg.MasterURL = master
			cfg.IsGenesisNode = genesis
			if bootstrap != "" {
				cfg.BootstrapNodes = []string{bootstrap}
			}
			if tags != "" {
				for _, t := range strings.Split(tags, ",") {
					if trimmed := strings.TrimSpace(t); trimmed != "" {
						cfg.Tags = append(cfg.Tags, trimmed)
					}
				}
			}

			if genesis {
				st, err := store.Open(cfg.DataDir, cfg.NodeID, true, "")
				if err != nil {
					return fmt.Errorf("open store: %w", err)
				}
				operator, err := st.EnsureAccount(cfg.NodeID, "gep-lite-v1")
				if err != nil {
					return fmt.Errorf("ensure operator account: %w", err)
				}
				cfg.GenesisOperatorAccount = operator.AccountID
				fmt.Printf("genesis operator account: %s\n", operator.AccountID)
			}

			path := configPath
			if path == "" {
				path = config.DefaultPath()
			}
			if err := config.Save(cfg, path); err != nil {
				return fmt.Errorf("save config: %w", err)
			}
			fmt.Printf("node initialized: %s\n", cfg.Name)
			fmt.Printf("config: %s\n", path)
			return nil
		},
	}

	cmd.Flags().IntVar(&port, "port", 0, "mesh TCP port (0 = random)")
	cmd.Flags().IntVar(&webPort, "web-port", config.DefaultWebPort, "admin HTTP port")
	cmd.Flags().IntVar(&dhtK, "dht-k", config.DefaultDHTK, "DHT replication factor k")
	cmd.Flags().IntVar(&dhtAlpha, "dht-alpha", config.DefaultDHTAlpha, "DHT parallelism alpha")
	cmd.Flags().IntVar(&dhtHops, "dht-hops", config.DefaultDHTHops, "DHT max hops")
	cmd.Flags().StringVar(&bootstrap, "bootstrap", "", "bootstrap peer address")
	cmd.Flags().StringVar(&tags, "tags", "", "comma-separated node tags")
	cmd.Flags().StringVar(&master, "master", "", "master node URL")
	cmd.Flags().BoolVar(&genesis, "genesis", false, "bootstrap this node as the genesis node")
	return cmd
}

func newStartCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "start",
		Short: "Run the node",
		RunE: func(cmd *cobra.Command, args []string) error {
			path := configPath
			if path == "" {
				path = config.DefaultPath()
			}
			cfg, err := config.Load(path)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}

			a, err := app.New(cfg)
			if err != nil {
				return fmt.Errorf("build app: %w", err)
			}

			ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer cancel()
			return a.Run(ctx)
		},
	}
}
