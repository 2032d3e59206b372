package commands

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/spf13/cobra"
)

const requestTimeout = 30 * time.Second

var healthCmd = &cobra.Command{
	Use:   "health",
	Short: "Check server health",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := context.WithTimeout(cmd.Context(), requestTimeout)
		defer cancel()

		resp, err := newClient().Health(ctx)
		if err != nil {
			return err
		}
		if outputJSON {
			return printJSON(cmd.OutOrStdout(), resp)
		}

		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "%s (version %s, %d rooms, %d sessions)\n", resp.Status, resp.Version, resp.Rooms, resp.Sessions)
		names := make([]string, 0, len(resp.Checks))
		for name := range resp.Checks {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			c := resp.Checks[name]
			fmt.Fprintf(out, "  %-10s %s %s\n", name, c.Status, c.Latency)
		}
		return nil
	},
}

var roomsCmd = &cobra.Command{
	Use:   "rooms",
	Short: "List rooms",
	Long: `List the rooms hosted by the server.

Examples:
  pingpong rooms
  pingpong rooms --topic golang`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		topic, _ := cmd.Flags().GetString("topic")

		ctx, cancel := context.WithTimeout(cmd.Context(), requestTimeout)
		defer cancel()

		rooms, err := newClient().Rooms(ctx, topic)
		if err != nil {
			return err
		}
		if outputJSON {
			return printJSON(cmd.OutOrStdout(), rooms)
		}
		if len(rooms) == 0 {
			fmt.Fprintln(cmd.OutOrStdout(), "No rooms.")
			return nil
		}
		for _, r := range rooms {
			fmt.Fprintf(cmd.OutOrStdout(), "  %-20s %-10s %3d agents  %s\n", r.ID, r.Mode, r.MemberCount, r.Topic)
		}
		return nil
	},
}

var roomsCreateCmd = &cobra.Command{
	Use:   "create <room-id> <topic>",
	Short: "Create a room",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		mode, _ := cmd.Flags().GetString("mode")

		ctx, cancel := context.WithTimeout(cmd.Context(), requestTimeout)
		defer cancel()

		sum, err := newClient().CreateRoom(ctx, args[0], args[1], mode)
		if err != nil {
			return err
		}
		if outputJSON {
			return printJSON(cmd.OutOrStdout(), sum)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Created room %s (%s)\n", sum.ID, sum.Mode)
		return nil
	},
}

var roomsShowCmd = &cobra.Command{
	Use:   "show <room-id>",
	Short: "Show a room and its members",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := context.WithTimeout(cmd.Context(), requestTimeout)
		defer cancel()

		detail, err := newClient().Room(ctx, args[0])
		if err != nil {
			return err
		}
		if outputJSON {
			return printJSON(cmd.OutOrStdout(), detail)
		}

		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "%s: %s [%s]\n", detail.ID, detail.Topic, detail.Mode)
		for _, m := range detail.Members {
			fmt.Fprintf(out, "  %-20s %-20s %s\n", m.ID, m.Name, m.Role)
		}
		return nil
	},
}

var roomsCloseCmd = &cobra.Command{
	Use:   "close <room-id>",
	Short: "Close a room and disconnect its members",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := context.WithTimeout(cmd.Context(), requestTimeout)
		defer cancel()

		if err := newClient().CloseRoom(ctx, args[0]); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Closed room %s\n", args[0])
		return nil
	},
}

var messagesCmd = &cobra.Command{
	Use:   "messages <room-id>",
	Short: "Read room history",
	Long: `Read recent messages from a room, oldest first.

History needs a server backed by Redis.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")
		before, _ := cmd.Flags().GetInt64("before")

		ctx, cancel := context.WithTimeout(cmd.Context(), requestTimeout)
		defer cancel()

		resp, err := newClient().Messages(ctx, args[0], limit, before)
		if err != nil {
			return err
		}
		if outputJSON {
			return printJSON(cmd.OutOrStdout(), resp)
		}

		// The server answers newest first.
		for i := len(resp.Messages) - 1; i >= 0; i-- {
			msg := resp.Messages[i]
			ts := time.UnixMilli(msg.Timestamp).Format("2006-01-02 15:04:05")
			fmt.Fprintf(cmd.OutOrStdout(), "[%s] %s (%s): %s\n", ts, msg.AgentName, msg.Role, msg.Content)
		}
		if resp.HasMore && len(resp.Messages) > 0 {
			fmt.Fprintf(cmd.OutOrStdout(), "... older messages: --before %d\n", resp.Messages[len(resp.Messages)-1].Timestamp)
		}
		return nil
	},
}

var proposalsCmd = &cobra.Command{
	Use:   "proposals <room-id>",
	Short: "List a room's proposals",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		status, _ := cmd.Flags().GetString("status")

		ctx, cancel := context.WithTimeout(cmd.Context(), requestTimeout)
		defer cancel()

		resp, err := newClient().Proposals(ctx, args[0], status)
		if err != nil {
			return err
		}
		if outputJSON {
			return printJSON(cmd.OutOrStdout(), resp)
		}
		if len(resp.Proposals) == 0 {
			fmt.Fprintln(cmd.OutOrStdout(), "No proposals.")
			return nil
		}
		for _, p := range resp.Proposals {
			fmt.Fprintf(cmd.OutOrStdout(), "  %s  %-8s %3.0f%%  yes=%d no=%d abstain=%d  %s\n",
				p.ID, p.Status, p.ApprovalRatio*100, p.Tally.Yes, p.Tally.No, p.Tally.Abstain, p.Title)
		}
		return nil
	},
}

var searchCmd = &cobra.Command{
	Use:   "search <query>",
	Short: "Search recent messages",
	Long: `Search recent messages for every word of the query.

Search needs a server backed by Redis.

Examples:
  pingpong search "redis bus"
  pingpong search design --room lobby`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		roomID, _ := cmd.Flags().GetString("room")
		limit, _ := cmd.Flags().GetInt("limit")

		ctx, cancel := context.WithTimeout(cmd.Context(), requestTimeout)
		defer cancel()

		resp, err := newClient().Search(ctx, args[0], roomID, limit)
		if err != nil {
			return err
		}
		if outputJSON {
			return printJSON(cmd.OutOrStdout(), resp)
		}
		if resp.Total == 0 {
			fmt.Fprintln(cmd.OutOrStdout(), "No matches.")
			return nil
		}
		for _, r := range resp.Results {
			ts := time.UnixMilli(r.Timestamp).Format("2006-01-02 15:04:05")
			fmt.Fprintf(cmd.OutOrStdout(), "[%s] #%s %s: %s\n", ts, r.RoomID, r.AgentName, r.Content)
		}
		return nil
	},
}

func init() {
	roomsCmd.Flags().String("topic", "", "only rooms whose topic contains this text")
	roomsCreateCmd.Flags().String("mode", "", "debate, consensus, brainstorm or quick (default: server default)")

	roomsCmd.AddCommand(roomsCreateCmd)
	roomsCmd.AddCommand(roomsShowCmd)
	roomsCmd.AddCommand(roomsCloseCmd)

	messagesCmd.Flags().Int("limit", 50, "number of messages")
	messagesCmd.Flags().Int64("before", 0, "only messages before this Unix ms timestamp")

	proposalsCmd.Flags().String("status", "", "PENDING, APPROVED or REJECTED")

	searchCmd.Flags().String("room", "", "only this room")
	searchCmd.Flags().Int("limit", 20, "number of results")
}
