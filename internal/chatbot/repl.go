package chatbot

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"ChatStream/internal/search"
	"ChatStream/internal/session"
)

// REPL is the terminal presentation of a ChatBot
type REPL struct {
	cb  *ChatBot
	in  io.Reader
	out io.Writer
	now func() time.Time
}

// NewREPL creates a REPL reading commands from in and writing to out
func NewREPL(cb *ChatBot, in io.Reader, out io.Writer) *REPL {
	return &REPL{cb: cb, in: in, out: out, now: time.Now}
}

// resolve accepts a 1-based position in the session list or a session id
func (r *REPL) resolve(arg string) (string, error) {
	sessions := r.cb.Snapshot().Sessions
	if n, err := strconv.Atoi(arg); err == nil {
		if n < 1 || n > len(sessions) {
			return "", fmt.Errorf("no chat at position %d", n)
		}
		return sessions[n-1].ID, nil
	}
	return arg, nil
}

func (r *REPL) lastAssistant() (session.Message, bool) {
	active, ok := r.cb.Snapshot().Active()
	if !ok {
		return session.Message{}, false
	}
	for i := len(active.Messages) - 1; i >= 0; i-- {
		if active.Messages[i].Role == session.RoleAssistant {
			return active.Messages[i], true
		}
	}
	return session.Message{}, false
}

// printer writes the newly revealed part of each increment
func (r *REPL) printer() func(session.Message) {
	printed := 0
	return func(msg session.Message) {
		if printed == 0 {
			fmt.Fprint(r.out, "Bot: ")
		}
		if len(msg.Content) > printed {
			fmt.Fprint(r.out, msg.Content[printed:])
			printed = len(msg.Content)
		}
	}
}

// handleCommand handles special commands
func (r *REPL) handleCommand(ctx context.Context, cmd string) (bool, error) {
	parts := strings.Fields(cmd)
	if len(parts) == 0 {
		return false, nil
	}
	arg := strings.TrimSpace(strings.TrimPrefix(cmd, parts[0]))

	switch parts[0] {
	case "/quit", "/exit":
		return true, nil

	case "/new":
		cs := r.cb.NewSession(ctx)
		fmt.Fprintln(r.out, "Started new chat:", cs.ID)
		return false, nil

	case "/list":
		snap := r.cb.Snapshot()
		if len(snap.Sessions) == 0 {
			fmt.Fprintln(r.out, "No chats yet. Use /new to start one.")
			return false, nil
		}
		fmt.Fprintln(r.out, "\nChats:")
		now := r.now()
		for i, cs := range snap.Sessions {
			current := ""
			if cs.ID == snap.ActiveID {
				current = " (current)"
			}
			fmt.Fprintf(r.out, "%d. %s - %d messages, %s%s\n", i+1, cs.Title, len(cs.Messages), session.RelativeTime(cs.UpdatedAt, now), current)
		}
		fmt.Fprintln(r.out)
		return false, nil

	case "/select":
		if arg == "" {
			return false, fmt.Errorf("usage: /select <number|id>")
		}
		id, err := r.resolve(arg)
		if err != nil {
			return false, err
		}
		if err := r.cb.SelectSession(id); err != nil {
			return false, fmt.Errorf("failed to select %s: %w", id, err)
		}
		r.printTranscript()
		return false, nil

	case "/delete":
		if arg == "" {
			return false, fmt.Errorf("usage: /delete <number|id>")
		}
		id, err := r.resolve(arg)
		if err != nil {
			return false, err
		}
		if err := r.cb.DeleteSession(ctx, id); err != nil {
			return false, fmt.Errorf("failed to delete %s: %w", id, err)
		}
		fmt.Fprintln(r.out, "Deleted chat:", id)
		return false, nil

	case "/clear":
		r.cb.ClearAll(ctx)
		fmt.Fprintln(r.out, "Cleared all chats")
		return false, nil

	case "/regen":
		id := arg
		if id == "" {
			last, ok := r.lastAssistant()
			if !ok {
				return false, fmt.Errorf("nothing to regenerate")
			}
			id = last.ID
		}
		_, err := r.cb.Regenerate(ctx, id, r.printer())
		fmt.Fprint(r.out, "\n\n")
		if err != nil {
			return false, err
		}
		return false, nil

	case "/people":
		people, err := r.cb.People(ctx, arg)
		if err != nil {
			return false, err
		}
		if len(people) == 0 {
			fmt.Fprintln(r.out, "No people found.")
			return false, nil
		}
		for _, p := range people {
			fmt.Fprintf(r.out, "@%s  %s\n", p.ID, p.DisplayName)
		}
		return false, nil

	case "/suggest":
		var suggestions []string
		if arg == "" {
			suggestions = search.Defaults()
		} else {
			var err error
			suggestions, err = r.cb.Suggestions(ctx, arg)
			if err != nil {
				return false, err
			}
		}
		for i, s := range suggestions {
			fmt.Fprintf(r.out, "%d. %s\n", i+1, s)
		}
		return false, nil

	case "/artifacts":
		last, ok := r.lastAssistant()
		if !ok {
			fmt.Fprintln(r.out, "No reply yet.")
			return false, nil
		}
		artifacts := session.ExtractArtifacts(last.Content)
		if len(artifacts) == 0 {
			fmt.Fprintln(r.out, "No code blocks in the last reply.")
			return false, nil
		}
		for i, a := range artifacts {
			fmt.Fprintf(r.out, "--- %d. %s ---\n%s\n", i+1, a.Language, a.Content)
		}
		return false, nil

	case "/help":
		fmt.Fprintln(r.out, "Available commands:")
		fmt.Fprintln(r.out, "  /new                   - Start a new chat")
		fmt.Fprintln(r.out, "  /list                  - List chats, newest first")
		fmt.Fprintln(r.out, "  /select <number|id>    - Switch to a chat")
		fmt.Fprintln(r.out, "  /delete <number|id>    - Delete a chat")
		fmt.Fprintln(r.out, "  /clear                 - Delete all chats")
		fmt.Fprintln(r.out, "  /regen [message-id]    - Regenerate a reply (default: the last one)")
		fmt.Fprintln(r.out, "  /people <query>        - Search people to mention")
		fmt.Fprintln(r.out, "  /suggest [query]       - Show prompt suggestions")
		fmt.Fprintln(r.out, "  /artifacts             - Show code blocks from the last reply")
		fmt.Fprintln(r.out, "  /quit, /exit           - Exit")
		fmt.Fprintln(r.out, "  /help                  - Show this help message")
		return false, nil

	default:
		return false, fmt.Errorf("unknown command: %s (try /help)", parts[0])
	}
}

func (r *REPL) printTranscript() {
	active, ok := r.cb.Snapshot().Active()
	if !ok {
		return
	}
	fmt.Fprintf(r.out, "=== %s ===\n", active.Title)
	for _, m := range active.Messages {
		who := "You"
		if m.Role == session.RoleAssistant {
			who = "Bot"
		}
		fmt.Fprintf(r.out, "%s: %s\n\n", who, m.Content)
	}
}

// Run reads prompts and commands until EOF, /quit or ctx is done
func (r *REPL) Run(ctx context.Context) error {
	fmt.Fprintln(r.out, "=== ChatStream ===")
	if active, ok := r.cb.Snapshot().Active(); ok {
		fmt.Fprintf(r.out, "Chat: %s\n", active.Title)
	}
	fmt.Fprintln(r.out, "Type /help for commands, /quit to exit")
	fmt.Fprintf(r.out, "Try: %s\n", strings.Join(search.Defaults(), " | "))
	fmt.Fprintln(r.out)

	scanner := bufio.NewScanner(r.in)

	for ctx.Err() == nil {
		fmt.Fprint(r.out, "You: ")
		if !scanner.Scan() {
			break
		}

		input := strings.TrimSpace(scanner.Text())
		if input == "" {
			continue
		}

		if strings.HasPrefix(input, "/") {
			shouldQuit, err := r.handleCommand(ctx, input)
			if err != nil {
				fmt.Fprintf(r.out, "Error: %v\n", err)
				r.cb.logger.Error("command error", "error", err)
			}
			if shouldQuit {
				break
			}
			continue
		}

		if _, ok := r.cb.Snapshot().Active(); !ok {
			cs := r.cb.NewSession(ctx)
			fmt.Fprintln(r.out, "Started new chat:", cs.ID)
		}

		_, err := r.cb.SubmitPrompt(ctx, input, r.printer())
		fmt.Fprint(r.out, "\n\n")
		if err != nil && !errors.Is(err, ErrEmptyPrompt) {
			fmt.Fprintf(r.out, "Error: %v\n", err)
			r.cb.logger.Error("failed to submit prompt", "error", err)
		}
	}

	if err := scanner.Err(); err != nil {
		return fmt.Errorf("failed to read input: %w", err)
	}

	fmt.Fprintln(r.out, "Goodbye!")
	return nil
}
