package commands

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/spf13/cobra"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the channel's session, or list channels with --all",
	RunE: func(cmd *cobra.Command, args []string) error {
		path := channelPath("")
		if all, _ := cmd.Flags().GetBool("all"); all {
			path = "/v1/channels"
		}
		body, err := call(cmd.Context(), http.MethodGet, path, nil)
		if err != nil {
			return err
		}
		return printResult(body)
	},
}

var speakCmd = &cobra.Command{
	Use:   "speak <text>",
	Short: "Make the avatar say a line, bypassing the chunker",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		body, err := call(cmd.Context(), http.MethodPost, channelPath("/speak"), map[string]string{
			"text": strings.Join(args, " "),
		})
		if err != nil {
			return err
		}
		return printResult(body)
	},
}

var subtitleCmd = &cobra.Command{
	Use:   "subtitle <text>",
	Short: "Set the caption under the avatar",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		body, err := call(cmd.Context(), http.MethodPost, channelPath("/subtitle"), map[string]string{
			"text": strings.Join(args, " "),
		})
		if err != nil {
			return err
		}
		return printResult(body)
	},
}

var projectionCmd = &cobra.Command{
	Use:       "projection <on|off>",
	Short:     "Switch the avatar to or from the projection window",
	Args:      cobra.ExactArgs(1),
	ValidArgs: []string{"on", "off"},
	RunE: func(cmd *cobra.Command, args []string) error {
		method := http.MethodPost
		switch args[0] {
		case "on":
		case "off":
			method = http.MethodDelete
		default:
			return fmt.Errorf("expected on or off, got %q", args[0])
		}
		body, err := call(cmd.Context(), method, channelPath("/projection"), nil)
		if err != nil {
			return err
		}
		return printResult(body)
	},
}

var graphCmd = &cobra.Command{
	Use:   "graph",
	Short: "Conversation graphs",
}

var graphListCmd = &cobra.Command{
	Use:   "list",
	Short: "List graphs and their greeting scripts",
	RunE: func(cmd *cobra.Command, args []string) error {
		body, err := call(cmd.Context(), http.MethodGet, "/v1/graphs", nil)
		if err != nil {
			return err
		}
		return printResult(body)
	},
}

var graphSelectCmd = &cobra.Command{
	Use:   "select <graph-id>",
	Short: "Select the channel's graph",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		body, err := call(cmd.Context(), http.MethodPut, channelPath("/graph"), map[string]string{
			"graphId": args[0],
		})
		if err != nil {
			return err
		}
		return printResult(body)
	},
}

var agentCmd = &cobra.Command{
	Use:   "agent",
	Short: "The channel's conversational agent",
}

var (
	agentGraph     string
	agentUser      string
	agentLanguage  string
	agentVoiceType string
)

var agentStartCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the agent",
	RunE: func(cmd *cobra.Command, args []string) error {
		if agentGraph == "" {
			return errors.New("graph is required, use --graph")
		}
		body, err := call(cmd.Context(), http.MethodPost, channelPath("/agent"), map[string]string{
			"userId":    agentUser,
			"graphName": agentGraph,
			"language":  agentLanguage,
			"voiceType": agentVoiceType,
		})
		if err != nil {
			return err
		}
		return printResult(body)
	},
}

var agentStopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the agent",
	RunE: func(cmd *cobra.Command, args []string) error {
		body, err := call(cmd.Context(), http.MethodDelete, channelPath("/agent"), nil)
		if err != nil {
			return err
		}
		return printResult(body)
	},
}

var agentStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Check whether the agent is running",
	RunE: func(cmd *cobra.Command, args []string) error {
		body, err := call(cmd.Context(), http.MethodGet, channelPath("/agent"), nil)
		if err != nil {
			return err
		}
		return printResult(body)
	},
}

// relayRequest is the file form of a relay message. Payload stays generic
// so YAML files can describe it.
type relayRequest struct {
	Type    string         `json:"type" yaml:"type"`
	Payload map[string]any `json:"payload,omitempty" yaml:"payload"`
}

var relayCmd = &cobra.Command{
	Use:   "relay",
	Short: "Publish a raw relay message to the projection windows",
	Long: `Publish a raw relay message to the channel's projection windows.

Example request file (relay.yaml):
  type: external_app
  payload:
    url: https://example.com/catalog`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if inputFile == "" {
			return errors.New("input file is required, use -f flag")
		}
		var req relayRequest
		if err := loadRequest(inputFile, &req); err != nil {
			return err
		}
		body, err := call(cmd.Context(), http.MethodPost, channelPath("/relay"), req)
		if err != nil {
			return err
		}
		return printResult(body)
	},
}

var simulateCmd = &cobra.Command{
	Use:   "simulate",
	Short: "Play the scripted agent into the channel on the server",
	RunE: func(cmd *cobra.Command, args []string) error {
		body, err := call(cmd.Context(), http.MethodPost, channelPath("/simulate"), nil)
		if err != nil {
			return err
		}
		return printResult(body)
	},
}

func init() {
	statusCmd.Flags().Bool("all", false, "list every channel")

	graphCmd.AddCommand(graphListCmd)
	graphCmd.AddCommand(graphSelectCmd)

	agentStartCmd.Flags().StringVar(&agentGraph, "graph", "", "graph name")
	agentStartCmd.Flags().StringVar(&agentUser, "user", "", "user id")
	agentStartCmd.Flags().StringVar(&agentLanguage, "language", "", "agent language, e.g. zh-CN")
	agentStartCmd.Flags().StringVar(&agentVoiceType, "voice", "", "voice type")
	agentCmd.AddCommand(agentStartCmd)
	agentCmd.AddCommand(agentStopCmd)
	agentCmd.AddCommand(agentStatusCmd)
}
