package commands

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/osobh/pingpong-sub001/clients/go/pingpong"
	"github.com/osobh/pingpong-sub001/internal/protocol"
)

const joinHelp = `Lines typed on stdin are sent as messages. Commands:
  /propose <title> [| <description>]   open a proposal
  /vote <proposal-id> <yes|no|abstain> vote on a proposal
  /proposals [status]                  list proposals in this room
  /rooms                               list rooms
  /join <room-id>                      leave this room and join another
  /leave                               leave this room
  /quit                                leave and exit`

var joinCmd = &cobra.Command{
	Use:   "join",
	Short: "Join a room and chat from stdin",
	Long: `Join a room over the WebSocket and relay stdin lines as messages.

` + joinHelp + `

Examples:
  pingpong join --id bot-1 --name "Bot One"
  pingpong join --id bot-2 --room design --role skeptic`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		roomID, _ := cmd.Flags().GetString("room")
		agentID, _ := cmd.Flags().GetString("id")
		name, _ := cmd.Flags().GetString("name")
		role, _ := cmd.Flags().GetString("role")
		if name == "" {
			name = agentID
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		agent := pingpong.Agent{ID: agentID, Name: name, Role: role}
		sess, err := newClient().Connect(ctx, agent)
		if err != nil {
			return err
		}
		defer sess.Close()

		if err := sess.Join(roomID); err != nil {
			return err
		}

		ctx, cancel := context.WithCancelCause(ctx)
		defer cancel(nil)
		go func() {
			cancel(printEvents(cmd.OutOrStdout(), sess))
		}()
		go func() {
			err := relayInput(cmd.InOrStdin(), cmd.ErrOrStderr(), sess)
			if err == nil {
				err = errQuit
			}
			cancel(err)
		}()

		<-ctx.Done()
		sess.Leave()

		if err := context.Cause(ctx); err != nil && !errors.Is(err, errQuit) && !errors.Is(err, context.Canceled) {
			return err
		}
		return nil
	},
}

var errQuit = errors.New("quit")

func init() {
	joinCmd.Flags().String("room", "", "room to join (default: server default room)")
	joinCmd.Flags().String("id", "", "agent ID (required)")
	joinCmd.Flags().String("name", "", "display name (default: agent ID)")
	joinCmd.Flags().String("role", "", "role shown next to messages")
	joinCmd.MarkFlagRequired("id")
}

// printEvents writes events until the session ends.
func printEvents(w io.Writer, sess *pingpong.Session) error {
	for evt, err := range sess.Events() {
		if err != nil {
			return err
		}
		if outputJSON {
			printJSON(w, evt)
			continue
		}
		if line := formatEvent(evt); line != "" {
			fmt.Fprintln(w, line)
		}
	}
	return errors.New("connection closed by server")
}

// relayInput sends each stdin line as a message or command. It returns nil
// on EOF or /quit.
func relayInput(r io.Reader, errw io.Writer, sess *pingpong.Session) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 4096), protocol.MaxContentBytes+1024)
	for scanner.Scan() {
		in, err := parseInput(scanner.Text())
		if err != nil {
			fmt.Fprintln(errw, err)
			continue
		}
		if in.kind == inputQuit {
			return nil
		}
		if in.kind == inputHelp {
			fmt.Fprintln(errw, joinHelp)
			continue
		}
		if err := in.send(sess); err != nil {
			return err
		}
	}
	return scanner.Err()
}

type inputKind int

const (
	inputNone inputKind = iota
	inputSay
	inputPropose
	inputVote
	inputProposals
	inputRooms
	inputJoin
	inputLeave
	inputQuit
	inputHelp
)

type input struct {
	kind inputKind

	text        string
	title       string
	description string
	proposalID  string
	vote        string
	status      string
	roomID      string
}

// parseInput turns one line of stdin into an input. Blank lines are
// inputNone.
func parseInput(line string) (input, error) {
	line = strings.TrimSpace(line)
	if line == "" {
		return input{kind: inputNone}, nil
	}
	if !strings.HasPrefix(line, "/") {
		return input{kind: inputSay, text: line}, nil
	}

	name, rest, _ := strings.Cut(line[1:], " ")
	rest = strings.TrimSpace(rest)
	switch strings.ToLower(name) {
	case "propose":
		title, desc, _ := strings.Cut(rest, "|")
		title = strings.TrimSpace(title)
		if title == "" {
			return input{}, errors.New("usage: /propose <title> [| <description>]")
		}
		return input{kind: inputPropose, title: title, description: strings.TrimSpace(desc)}, nil
	case "vote":
		fields := strings.Fields(rest)
		if len(fields) != 2 {
			return input{}, errors.New("usage: /vote <proposal-id> <yes|no|abstain>")
		}
		vote := strings.ToUpper(fields[1])
		switch vote {
		case "YES", "NO", "ABSTAIN":
		default:
			return input{}, fmt.Errorf("unknown vote %q: use yes, no or abstain", fields[1])
		}
		return input{kind: inputVote, proposalID: fields[0], vote: vote}, nil
	case "proposals":
		return input{kind: inputProposals, status: strings.ToUpper(rest)}, nil
	case "rooms":
		return input{kind: inputRooms}, nil
	case "join":
		if rest == "" {
			return input{}, errors.New("usage: /join <room-id>")
		}
		return input{kind: inputJoin, roomID: rest}, nil
	case "leave":
		return input{kind: inputLeave}, nil
	case "quit", "exit":
		return input{kind: inputQuit}, nil
	case "help", "?":
		return input{kind: inputHelp}, nil
	}
	return input{}, fmt.Errorf("unknown command /%s (try /help)", name)
}

func (in input) send(sess *pingpong.Session) error {
	switch in.kind {
	case inputSay:
		return sess.Say(in.text)
	case inputPropose:
		return sess.Propose(in.title, in.description, 0)
	case inputVote:
		return sess.Vote(in.proposalID, in.vote)
	case inputProposals:
		return sess.ListProposals(in.status)
	case inputRooms:
		return sess.ListRooms()
	case inputJoin:
		// Commands are handled in order, so the leave lands first.
		if err := sess.Leave(); err != nil {
			return err
		}
		return sess.Join(in.roomID)
	case inputLeave:
		return sess.Leave()
	}
	return nil
}

// formatEvent renders one event as a terminal line.
func formatEvent(evt protocol.Event) string {
	switch e := evt.(type) {
	case *protocol.WelcomeEvent:
		return fmt.Sprintf("* joined %s: %s [%s, %d agents]", e.RoomID, e.Topic, e.Mode, e.AgentCount)
	case *protocol.AgentJoinedEvent:
		return fmt.Sprintf("* %s joined as %s", e.AgentName, e.Role)
	case *protocol.AgentLeftEvent:
		return fmt.Sprintf("* %s left", e.AgentName)
	case *protocol.MessageEvent:
		return fmt.Sprintf("<%s/%s> %s", e.AgentName, e.Role, e.Content)
	case *protocol.RoomCreatedEvent:
		return fmt.Sprintf("* room %s created: %s [%s]", e.RoomID, e.Topic, e.Mode)
	case *protocol.RoomListEvent:
		var b strings.Builder
		fmt.Fprintf(&b, "* %d rooms", len(e.Rooms))
		for _, r := range e.Rooms {
			fmt.Fprintf(&b, "\n    %s [%s, %d agents] %s", r.RoomID, r.Mode, r.AgentCount, r.Topic)
		}
		return b.String()
	case *protocol.ProposalEvent:
		return fmt.Sprintf("* %s proposes %q (id %s, threshold %.0f%%)", e.ProposerName, e.Title, e.ProposalID, e.Threshold*100)
	case *protocol.VoteCastEvent:
		return fmt.Sprintf("* %s votes %s on %s", e.AgentName, e.Vote, e.ProposalID)
	case *protocol.ProposalResolvedEvent:
		return fmt.Sprintf("* proposal %s %s (%.0f%%: yes=%d no=%d abstain=%d)",
			e.ProposalID, e.Status, e.ApprovalRatio*100, e.Yes, e.No, e.Abstain)
	case *protocol.ProposalListEvent:
		var b strings.Builder
		fmt.Fprintf(&b, "* %d proposals in %s", len(e.Proposals), e.RoomID)
		for _, p := range e.Proposals {
			fmt.Fprintf(&b, "\n    %s %s %q", p.ProposalID, p.Status, p.Title)
		}
		return b.String()
	case *protocol.ErrorEvent:
		return "! " + e.Message
	}
	return ""
}
