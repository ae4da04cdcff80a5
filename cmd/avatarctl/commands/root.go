package commands

import (
	"os"
	"time"

	"github.com/spf13/cobra"
)

var (
	// Global flags
	serverURL  string
	grpcAddr   string
	channelID  string
	inputFile  string
	outputJSON bool
	timeout    time.Duration
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "avatarctl",
	Short: "Avatar control service CLI",
	Long: `avatarctl drives a running avatar control service.

Examples:
  # Make the kiosk avatar greet visitors
  avatarctl -k kiosk-1 speak 欢迎来到展厅

  # Move the avatar to the projection window and back
  avatarctl -k kiosk-1 projection on
  avatarctl -k kiosk-1 projection off

  # Start the agent on a graph
  avatarctl -k kiosk-1 agent start --graph showroom --user visitor-1

  # Play a scripted conversation through the chunker
  avatarctl -k kiosk-1 simulate
`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&serverURL, "server", "s", envOr("AVATAR_CONTROL_URL", "http://localhost:8080"), "service HTTP base URL")
	rootCmd.PersistentFlags().StringVar(&grpcAddr, "grpc", envOr("AVATAR_CONTROL_GRPC", "localhost:50051"), "service gRPC address")
	rootCmd.PersistentFlags().StringVarP(&channelID, "channel", "k", envOr("AVATAR_CHANNEL", "kiosk-1"), "kiosk channel id")
	rootCmd.PersistentFlags().StringVarP(&inputFile, "file", "f", "", "input request file (YAML or JSON)")
	rootCmd.PersistentFlags().BoolVar(&outputJSON, "json", false, "output raw JSON")
	rootCmd.PersistentFlags().DurationVar(&timeout, "timeout", 10*time.Second, "request timeout")

	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(speakCmd)
	rootCmd.AddCommand(subtitleCmd)
	rootCmd.AddCommand(projectionCmd)
	rootCmd.AddCommand(graphCmd)
	rootCmd.AddCommand(agentCmd)
	rootCmd.AddCommand(relayCmd)
	rootCmd.AddCommand(simulateCmd)
	rootCmd.AddCommand(streamCmd)
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
