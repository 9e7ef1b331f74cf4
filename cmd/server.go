package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/ziadkadry99/ragpipe/internal/server"
)

var (
	serverHost string
	serverPort int
)

var serverCmd = &cobra.Command{
	Use:   "server",
	Short: "Start the HTTP API server",
	Long:  `Starts the REST API with a WebSocket query channel. Host and port default to the server section of the config.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signalContext()
		defer stop()

		p, err := openPipeline(ctx)
		if err != nil {
			return err
		}
		defer p.Close()

		cfg := p.Config().Server
		if cmd.Flags().Changed("host") {
			cfg.Host = serverHost
		}
		if cmd.Flags().Changed("port") {
			cfg.Port = serverPort
		}

		srv := server.New(server.Config{
			Host:     cfg.Host,
			Port:     cfg.Port,
			AllowAll: cfg.AllowAllOrigins,
			Version:  Version,
		}, p, logger)

		st, err := p.Stats(ctx)
		if err == nil {
			fmt.Fprintf(os.Stderr, "ragpipe server %s listening on %s\n", Version, srv.Addr())
			fmt.Fprintf(os.Stderr, "  Backend: %s\n", st.IndexBackend)
			fmt.Fprintf(os.Stderr, "  Chunks indexed: %d\n", st.TotalDocuments)
		}

		return srv.Run(ctx)
	},
}

func init() {
	serverCmd.Flags().StringVar(&serverHost, "host", "0.0.0.0", "interface to listen on")
	serverCmd.Flags().IntVar(&serverPort, "port", 8000, "port to listen on")
	rootCmd.AddCommand(serverCmd)
}
