package main

import (
	"github.com/spf13/cobra"

	"github.com/jingkaihe/skillcast/pkg/api"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Expose predict/capture/train/analytics over HTTP",
	Long: `Start a local HTTP server exposing the engine's operations as JSON
endpoints under /api, for callers that run out of process. The server
shuts down gracefully on interrupt.`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		host, _ := cmd.Flags().GetString("host")
		port, _ := cmd.Flags().GetInt("port")

		eng, err := openEngine(ctx)
		if err != nil {
			return err
		}
		defer eng.Close()

		server, err := api.NewServer(eng, &api.ServerConfig{Host: host, Port: port})
		if err != nil {
			return err
		}
		return server.Start(ctx)
	},
}

func init() {
	serveCmd.Flags().String("host", "localhost", "Host to bind the API server to")
	serveCmd.Flags().Int("port", 8344, "Port to bind the API server to")
}
