package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/G-Research/testcluster/internal/common"
	"github.com/G-Research/testcluster/pkg/testcluster"
	"github.com/G-Research/testcluster/pkg/testcluster/configuration"
)

const defaultConfigPath = "./config/testcluster"

func upCmd() *cobra.Command {
	var configFiles []string
	cmd := &cobra.Command{
		Use:   "up",
		Short: "Start a cluster and keep it running until interrupted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd.Flags(), configFiles)
			if err != nil {
				return err
			}
			log.SetLevel(cfg.LogLevel)

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runCluster(ctx, cfg, cmd.OutOrStdout())
		},
	}

	defaults := configuration.Default()
	cmd.Flags().Int("brokers", defaults.NumBrokers, "Number of brokers to start")
	cmd.Flags().Int("ports", defaults.NumPorts, "Number of ports to reserve; 0 reserves one per broker plus two")
	cmd.Flags().String("state-root", defaults.StateRoot, "Directory the cluster keeps its state in")
	cmd.Flags().Bool("auto-create-topics", defaults.AutoCreateTopics, "Let brokers create topics on first write")
	cmd.Flags().StringSliceVar(&configFiles, "config", nil, "Config files to merge over the defaults, in order")
	return cmd
}

// loadConfig merges the default config, the given files, the environment and the flags that were
// set, in increasing order of precedence.
func loadConfig(flags *pflag.FlagSet, configFiles []string) (configuration.HarnessConfig, error) {
	cfg := configuration.Default()
	err := common.LoadConfig(&cfg, defaultConfigPath, configFiles,
		common.FlagBinding{Key: "numBrokers", Flag: flags.Lookup("brokers")},
		common.FlagBinding{Key: "numPorts", Flag: flags.Lookup("ports")},
		common.FlagBinding{Key: "stateRoot", Flag: flags.Lookup("state-root")},
		common.FlagBinding{Key: "autoCreateTopics", Flag: flags.Lookup("auto-create-topics")},
	)
	if err != nil {
		return cfg, err
	}
	return cfg, cfg.Validate()
}

func runCluster(ctx context.Context, cfg configuration.HarnessConfig, out io.Writer) error {
	h := testcluster.New(cfg, testcluster.WithLogger(log.WithField("app", "testcluster")))
	if err := h.SetUp(ctx); err != nil {
		return errors.WithMessage(err, "failed to start cluster")
	}

	fmt.Fprintf(out, "coordination.connect=%s\n", h.CoordinationConnect())
	fmt.Fprintf(out, "bootstrap.servers=%s\n", h.BrokerList())
	fmt.Fprintf(out, "gateway=%s\n", h.BaseURL())

	<-ctx.Done()
	log.Info("Shutting down")
	return h.TearDown(context.Background())
}
