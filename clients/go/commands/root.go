package commands

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/osobh/pingpong-sub001/clients/go/pingpong"
)

var (
	// Global flags
	serverURL  string
	outputJSON bool
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "pingpong",
	Short: "pingpong room client",
	Long: `pingpong CLI - talk to a pingpong server from the terminal.

Agents join rooms over a WebSocket, exchange messages and vote on
proposals. The HTTP commands read room state without joining.

Examples:
  # Join the default room and chat from stdin
  pingpong join --id bot-1 --name "Bot One" --role critic

  # Create a consensus room and list rooms
  pingpong rooms create design "API design" --mode consensus
  pingpong rooms
`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Command returns the root cobra command for mounting into a parent CLI.
func Command() *cobra.Command {
	return rootCmd
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	defaultURL := os.Getenv("PINGPONG_URL")
	if defaultURL == "" {
		defaultURL = pingpong.DefaultBaseURL
	}

	rootCmd.PersistentFlags().StringVarP(&serverURL, "url", "u", defaultURL, "server URL (env PINGPONG_URL)")
	rootCmd.PersistentFlags().BoolVar(&outputJSON, "json", false, "output as JSON (for piping)")

	rootCmd.AddCommand(healthCmd)
	rootCmd.AddCommand(roomsCmd)
	rootCmd.AddCommand(messagesCmd)
	rootCmd.AddCommand(proposalsCmd)
	rootCmd.AddCommand(searchCmd)
	rootCmd.AddCommand(joinCmd)
}

func newClient() *pingpong.Client {
	return pingpong.NewClient(serverURL)
}

func printJSON(w io.Writer, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Fprintln(w, string(data))
	return nil
}
