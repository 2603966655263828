package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	relaychat "github.com/relaychat/relaychat-go"
)

var chatPassword string

func init() {
	chatCmd.Flags().StringVar(&chatPassword, "password", "", "Password (prompted when omitted)")
	rootCmd.AddCommand(chatCmd)
}

var (
	selfColor    = color.New(color.FgGreen, color.Bold)
	partnerColor = color.New(color.FgCyan, color.Bold)
	noticeColor  = color.New(color.FgYellow)
)

var chatCmd = &cobra.Command{
	Use:   "chat <username> [partner]",
	Short: "Start an interactive chat session",
	Long: `Log in and chat from the terminal. Incoming messages are printed as
they arrive. Plain input is sent to the selected partner; commands:

  /users            list users
  /to <user>        switch conversation partner
  /history          reprint the selected conversation
  /edit <id> <txt>  edit one of your messages
  /del <id>         delete a message
  /quit             leave`,
	Args: cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		username := args[0]
		password, err := promptPassword(chatPassword)
		if err != nil {
			return err
		}

		session := relaychat.NewSession(getClient(), relaychat.WithEventHandler(func(ev relaychat.Event) {
			printEvent(username, ev)
		}))

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		err = session.Login(ctx, username, password)
		cancel()
		if err != nil {
			return fmt.Errorf("login failed: %w", err)
		}
		defer session.Logout()

		fmt.Printf("Connected as %s. Type /quit to leave.\n", username)
		if len(args) == 2 {
			if err := selectPartner(session, args[1]); err != nil {
				return err
			}
		} else {
			fmt.Println("Users:", strings.Join(session.OtherUsers(), ", "))
			fmt.Println("Pick a partner with /to <user>.")
		}

		return chatLoop(session)
	},
}

// chatLoop reads input lines until /quit or EOF.
func chatLoop(session *relaychat.Session) error {
	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if line == "/quit" {
			return nil
		}
		if strings.HasPrefix(line, "/") {
			if err := runChatCommand(session, line); err != nil {
				noticeColor.Println(err)
			}
			continue
		}

		partner := session.SelectedUser()
		if partner == "" {
			noticeColor.Println("No partner selected. Use /to <user> first.")
			continue
		}
		if err := session.SendMessage(partner, line); err != nil {
			noticeColor.Printf("Send failed: %v\n", err)
		}
	}
	return scanner.Err()
}

func runChatCommand(session *relaychat.Session, line string) error {
	fields := strings.Fields(line)
	switch fields[0] {
	case "/users":
		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		fmt.Println("Users:", strings.Join(session.RefreshUsers(ctx), ", "))
		return nil

	case "/to":
		if len(fields) != 2 {
			return fmt.Errorf("usage: /to <user>")
		}
		return selectPartner(session, fields[1])

	case "/history":
		partner := session.SelectedUser()
		if partner == "" {
			return fmt.Errorf("no partner selected")
		}
		printConversation(session, partner)
		return nil

	case "/edit":
		if len(fields) < 3 {
			return fmt.Errorf("usage: /edit <id> <new content>")
		}
		id, err := strconv.ParseInt(fields[1], 10, 64)
		if err != nil {
			return fmt.Errorf("bad message id %q", fields[1])
		}
		return session.UpdateMessage(id, strings.Join(fields[2:], " "))

	case "/del":
		if len(fields) != 2 {
			return fmt.Errorf("usage: /del <id>")
		}
		id, err := strconv.ParseInt(fields[1], 10, 64)
		if err != nil {
			return fmt.Errorf("bad message id %q", fields[1])
		}
		partner := session.SelectedUser()
		if partner == "" {
			return fmt.Errorf("no partner selected")
		}
		return session.DeleteMessage(id, partner)

	default:
		return fmt.Errorf("unknown command %s", fields[0])
	}
}

func selectPartner(session *relaychat.Session, partner string) error {
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if _, err := session.SelectUser(ctx, partner); err != nil {
		return fmt.Errorf("failed to open conversation with %s: %w", partner, err)
	}
	fmt.Printf("Chatting with %s.\n", partner)
	printConversation(session, partner)
	return nil
}

func printConversation(session *relaychat.Session, partner string) {
	for _, m := range session.MessagesByUser(partner) {
		printMessage(session.CurrentUser(), m)
	}
}

func printMessage(currentUser string, m relaychat.Message) {
	name := partnerColor
	if m.Sender == currentUser {
		name = selfColor
	}
	fmt.Printf("[%d] %s: %s\n", m.ID, name.Sprint(m.Sender), m.Content)
}

// printEvent runs on the subscription read goroutine for every applied
// live delta.
func printEvent(currentUser string, ev relaychat.Event) {
	switch ev.Action {
	case relaychat.ActionCreate:
		printMessage(currentUser, ev.Message)
	case relaychat.ActionUpdate:
		noticeColor.Printf("[%d] edited: %s\n", ev.Message.ID, ev.Message.Content)
	case relaychat.ActionDelete:
		noticeColor.Printf("[%d] deleted\n", ev.Message.ID)
	}
}
