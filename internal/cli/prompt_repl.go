package cli

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/chzyer/readline"
	"github.com/google/shlex"
	"github.com/neoclaw-ai/chatbridge/internal/config"
	"github.com/neoclaw-ai/chatbridge/internal/logging"
	"github.com/neoclaw-ai/chatbridge/internal/provider"
	"golang.org/x/term"
)

const defaultReplPrompt = "you> "

const replHelp = `Commands:
  /quit, /exit        leave the session
  /reset              clear conversation history
  /usage              show token usage and remaining context
  /set <key> <value>  override a generation option
  /unset <key>        remove an override
  /help               show this help`

type promptChannel interface {
	Read(ctx context.Context) (string, error)
	Write(ctx context.Context, text string) error
	WriteMeta(ctx context.Context, text string) error
	Writer() io.Writer
}

type readlinePromptChannel struct {
	rl  *readline.Instance
	out io.Writer
}

func newReadlinePromptChannel(in io.Reader, out io.Writer, historyFile string) (*readlinePromptChannel, error) {
	stdin, ok := in.(io.ReadCloser)
	if !ok {
		return nil, fmt.Errorf("stdin is not read-closer")
	}
	inFile, ok := in.(*os.File)
	if !ok || !term.IsTerminal(int(inFile.Fd())) {
		return nil, fmt.Errorf("stdin is not terminal")
	}
	outFile, ok := out.(*os.File)
	if !ok || !term.IsTerminal(int(outFile.Fd())) {
		return nil, fmt.Errorf("stdout is not terminal")
	}

	rl, err := readline.NewEx(&readline.Config{
		Prompt:          defaultReplPrompt,
		HistoryFile:     historyFile,
		HistoryLimit:    200,
		InterruptPrompt: "^C",
		EOFPrompt:       "exit",
		Stdin:           stdin,
		Stdout:          out,
		Stderr:          out,
	})
	if err != nil {
		return nil, err
	}
	return &readlinePromptChannel{rl: rl, out: out}, nil
}

func (c *readlinePromptChannel) Read(_ context.Context) (string, error) {
	line, err := c.rl.Readline()
	if err != nil {
		if err == readline.ErrInterrupt || err == io.EOF {
			return "", io.EOF
		}
		return "", err
	}
	return line, nil
}

func (c *readlinePromptChannel) Write(_ context.Context, text string) error {
	_, err := fmt.Fprintf(c.out, "assistant> %s\n\n", text)
	return err
}

func (c *readlinePromptChannel) WriteMeta(_ context.Context, text string) error {
	_, err := fmt.Fprintf(c.out, "%s\n", text)
	return err
}

func (c *readlinePromptChannel) Writer() io.Writer {
	return c.out
}

func (c *readlinePromptChannel) Close() error {
	return c.rl.Close()
}

type stdioPromptChannel struct {
	in     *bufio.Reader
	out    io.Writer
	prompt string
}

func newStdioPromptChannel(in *bufio.Reader, out io.Writer) *stdioPromptChannel {
	return &stdioPromptChannel{
		in:     in,
		out:    out,
		prompt: defaultReplPrompt,
	}
}

func (c *stdioPromptChannel) Read(_ context.Context) (string, error) {
	if _, err := fmt.Fprint(c.out, c.prompt); err != nil {
		return "", err
	}
	line, err := c.in.ReadString('\n')
	if err != nil {
		if len(line) > 0 {
			return line, nil
		}
		return "", err
	}
	return line, nil
}

func (c *stdioPromptChannel) Write(_ context.Context, text string) error {
	_, err := fmt.Fprintf(c.out, "assistant> %s\n\n", text)
	return err
}

func (c *stdioPromptChannel) WriteMeta(_ context.Context, text string) error {
	_, err := fmt.Fprintf(c.out, "%s\n", text)
	return err
}

func (c *stdioPromptChannel) Writer() io.Writer {
	return c.out
}

func runPromptREPL(ctx context.Context, session *chatSession, in io.Reader, fallbackReader *bufio.Reader, out io.Writer, cfg *config.Config) error {
	var channel promptChannel
	if err := os.MkdirAll(cfg.DataDir(), 0o755); err != nil {
		logging.Logger().Warn("repl history disabled", "err", err)
	}
	readlineChannel, err := newReadlinePromptChannel(in, out, cfg.HistoryPath())
	if err == nil {
		channel = readlineChannel
	}
	if channel == nil {
		channel = newStdioPromptChannel(fallbackReader, out)
	}
	if closer, ok := any(channel).(io.Closer); ok {
		defer closer.Close()
	}

	return runPromptLoop(ctx, session, channel)
}

func runPromptLoop(ctx context.Context, session *chatSession, channel promptChannel) error {
	if err := channel.WriteMeta(ctx, "Interactive mode. Type /quit or /exit to stop, /help for commands."); err != nil {
		return err
	}

	for {
		raw, err := channel.Read(ctx)
		if err != nil {
			if err == io.EOF {
				return nil
			}
			return err
		}

		input := strings.TrimSpace(raw)
		if input == "" {
			continue
		}
		switch strings.ToLower(input) {
		case "/quit", "quit", "/exit", "exit":
			return nil
		}
		if strings.HasPrefix(input, "/") {
			if err := channel.WriteMeta(ctx, runSlashCommand(ctx, session, input)); err != nil {
				return err
			}
			continue
		}

		if err := sendTurn(ctx, session, channel, input); err != nil {
			if errors.Is(err, context.Canceled) && ctx.Err() != nil {
				return nil
			}
			if writeErr := channel.WriteMeta(ctx, fmt.Sprintf("error: %v", err)); writeErr != nil {
				return writeErr
			}
		}
	}
}

func sendTurn(ctx context.Context, session *chatSession, channel promptChannel, input string) error {
	msg := buildUserMessage(input, nil)

	if !session.stream {
		res, err := session.Send(ctx, msg, nil)
		if err != nil {
			return err
		}
		reply, err := renderReply(res.Content, session.format)
		if err != nil {
			return err
		}
		if len(res.ToolCalls) > 0 {
			reply = strings.TrimSpace(reply + "\n" + formatToolCalls(res.ToolCalls))
		}
		return channel.Write(ctx, reply)
	}

	w := channel.Writer()
	if _, err := io.WriteString(w, "assistant> "); err != nil {
		return err
	}
	res, err := session.Send(ctx, msg, func(text string) error {
		_, err := io.WriteString(w, text)
		return err
	})
	if err != nil {
		_, _ = io.WriteString(w, "\n")
		return err
	}
	if len(res.ToolCalls) > 0 {
		if _, err := io.WriteString(w, "\n"+formatToolCalls(res.ToolCalls)); err != nil {
			return err
		}
	}
	_, err = io.WriteString(w, "\n\n")
	return err
}

// runSlashCommand executes one REPL command and returns the text to show.
func runSlashCommand(ctx context.Context, session *chatSession, input string) string {
	args, err := shlex.Split(input)
	if err != nil {
		return fmt.Sprintf("error: %v", err)
	}
	if len(args) == 0 {
		return replHelp
	}

	switch strings.ToLower(args[0]) {
	case "/help":
		return replHelp
	case "/reset":
		if err := session.reset(ctx); err != nil {
			return fmt.Sprintf("error: %v", err)
		}
		return "Conversation history cleared."
	case "/usage":
		last := session.client.ActualUsage()
		total := session.client.TotalUsage()
		remaining := session.client.RemainingTokens(buildMessages(session.system, session.history, nil), nil)
		return fmt.Sprintf(
			"last call: %d completion tokens\nsession: %d completion tokens\nremaining context: %d tokens",
			last.CompletionTokens, total.CompletionTokens, remaining,
		)
	case "/set":
		if len(args) != 3 {
			return "usage: /set <key> <value>"
		}
		key := args[1]
		value := parseOverrideValue(args[2])
		if err := provider.ValidateOverrides(map[string]any{key: value}); err != nil {
			return fmt.Sprintf("error: %v (allowed: %s)", err, strings.Join(provider.OverridableKeys(), ", "))
		}
		session.overrides[key] = value
		return fmt.Sprintf("%s = %v", key, value)
	case "/unset":
		if len(args) != 2 {
			return "usage: /unset <key>"
		}
		delete(session.overrides, args[1])
		return fmt.Sprintf("%s unset", args[1])
	default:
		return fmt.Sprintf("unknown command %q; type /help for commands", args[0])
	}
}
