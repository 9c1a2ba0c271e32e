package main

import (
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	cnt "github.com/R3DPanda1/LWN-Node/controllers"
	"github.com/R3DPanda1/LWN-Node/models"
	"github.com/R3DPanda1/LWN-Node/node/logging"
	repo "github.com/R3DPanda1/LWN-Node/repositories"
	"github.com/R3DPanda1/LWN-Node/shared"
	ws "github.com/R3DPanda1/LWN-Node/webserver"
)

var (
	cfgFile string
	verbose bool
)

var rootCmd = &cobra.Command{
	Use:   "lwn-node",
	Short: "LoRaWAN end-node runtime",
	Long: `lwn-node runs a single LoRaWAN end node against a loopback network,
with an optional raw radio on a UDP air link and an HTTP/socket.io control API.`,
	RunE: run,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the lwn-node version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Println(shared.Version)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "config.json", "path to configuration file")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")
	rootCmd.AddCommand(versionCmd)
}

// Entry point of the program.
func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func run(cmd *cobra.Command, args []string) error {
	cfg, err := models.GetConfigFile(cfgFile)
	if err != nil {
		return err
	}
	if verbose {
		cfg.Verbose = true
	}
	if cfg.Verbose && cfg.Logging.Level == "" {
		cfg.Logging.Level = "debug"
	}
	logging.Setup(cfg.Logging)
	shared.Verbose = cfg.Verbose
	slog.Info("node runtime starting", "version", shared.Version, "config", cfgFile)
	shared.DebugPrint("Verbose mode enabled")

	nodeRepository := repo.NewNodeRepository(cfg)
	nodeController := cnt.NewNodeController(nodeRepository)

	go startMetrics(cfg)

	if cfg.AutoStart {
		slog.Info("auto-starting node")
		if err := nodeController.Run(); err != nil {
			slog.Error("node start failed", "error", err)
		}
	} else {
		slog.Info("autostart not enabled")
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	go func() {
		sig := <-sigChan
		slog.Info("signal received, stopping node", "signal", sig)
		nodeController.Stop()
		os.Exit(0)
	}()

	webServer := ws.NewWebServer(cfg, nodeController)
	return webServer.Run()
}

// Prometheus metrics server
func startMetrics(cfg *models.ServerConfig) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	err := http.ListenAndServe(cfg.Address+":"+strconv.Itoa(cfg.MetricsPort), mux)
	if err != nil {
		slog.Error("metrics server failed", "error", err)
	}
}
