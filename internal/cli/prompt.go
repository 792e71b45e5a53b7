package cli

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/neoclaw-ai/chatbridge/internal/config"
	"github.com/neoclaw-ai/chatbridge/internal/costs"
	"github.com/neoclaw-ai/chatbridge/internal/llm"
	"github.com/neoclaw-ai/chatbridge/internal/logging"
	"github.com/neoclaw-ai/chatbridge/internal/provider"
	"github.com/neoclaw-ai/chatbridge/internal/session"
	"github.com/spf13/cobra"
)

var nowFunc = time.Now

type chatOptions struct {
	prompt  string
	system  string
	format  string
	stream  bool
	json    bool
	images  []string
	sets    []string
	session string
}

func newChatCmd(root *rootOptions) *cobra.Command {
	o := &chatOptions{}

	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Send a prompt (or start interactive chat without -p)",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if o.stream && o.format == formatHTML {
				return errors.New("--format html cannot be combined with --stream")
			}
			if _, err := renderReply("", o.format); err != nil {
				return err
			}
			overrides, err := parseOverrides(o.sets)
			if err != nil {
				return err
			}
			if err := provider.ValidateOverrides(overrides); err != nil {
				return err
			}

			cfg, err := loadConfig(root)
			if err != nil {
				return err
			}
			if err := checkSystemPrompt(o.system, cfg); err != nil {
				return err
			}

			prompt := strings.TrimSpace(o.prompt)
			if prompt == "" && len(o.images) > 0 {
				return errors.New("--image requires -p")
			}

			var clientOpts []provider.Option
			if prompt == "" && cfg.Metrics.Listen != "" {
				metrics, stop, err := startMetricsServer(cfg.Metrics.Listen)
				if err != nil {
					return err
				}
				defer stop()
				clientOpts = append(clientOpts, provider.WithMetrics(metrics))
			}

			client, err := clientFactory(cfg.ActiveLLM(), clientOpts...)
			if err != nil {
				return err
			}
			defer client.Close()

			chat := newChatSession(cfg, client, o, overrides)
			if o.session != "" {
				if err := chat.attachTranscript(cmd.Context(), cfg.SessionsDir(), o.session); err != nil {
					return err
				}
			}

			if prompt != "" {
				if strings.HasPrefix(prompt, "/") {
					return fmt.Errorf("slash commands are not supported in one-shot -p mode")
				}
				return runOneShot(cmd.Context(), chat, buildUserMessage(prompt, o.images), cmd.OutOrStdout())
			}

			in := cmd.InOrStdin()
			return runPromptREPL(cmd.Context(), chat, in, bufio.NewReader(in), cmd.OutOrStdout(), cfg)
		},
	}

	cmd.Flags().StringVarP(&o.prompt, "prompt", "p", "", "Prompt message")
	cmd.Flags().StringVar(&o.system, "system", "", "System prompt sent ahead of the conversation")
	cmd.Flags().StringVar(&o.format, "format", formatText, "Reply format: text or html")
	cmd.Flags().BoolVar(&o.stream, "stream", false, "Stream the reply as it is generated")
	cmd.Flags().BoolVar(&o.json, "json", false, "Request a JSON object reply")
	cmd.Flags().StringArrayVar(&o.images, "image", nil, "Image URL or data URL to attach (repeatable, requires -p)")
	cmd.Flags().StringArrayVar(&o.sets, "set", nil, "Generation option override as key=value (repeatable)")
	cmd.Flags().StringVar(&o.session, "session", "", "Persist and resume conversation history under this name")

	return cmd
}

// checkSystemPrompt rejects --system when the active profile would not send
// system messages to the server.
func checkSystemPrompt(system string, cfg *config.Config) error {
	if strings.TrimSpace(system) == "" {
		return nil
	}
	policy, err := provider.ParseSystemPolicy(strings.ToLower(strings.TrimSpace(cfg.ActiveLLM().SystemMessages)))
	if err != nil {
		return err
	}
	if policy != provider.SystemSend {
		return fmt.Errorf("--system needs system_messages = %q in llm.%s (currently %q)", provider.SystemSend, cfg.Profile, policy)
	}
	return nil
}

// chatSession holds one conversation against one client.
type chatSession struct {
	client    llm.Client
	model     string
	profile   string
	system    string
	format    string
	stream    bool
	json      bool
	overrides map[string]any
	history   []llm.Message

	transcript *session.Store
	ledger     *costs.Tracker
	limits     config.CostsConfig
}

func newChatSession(cfg *config.Config, client llm.Client, o *chatOptions, overrides map[string]any) *chatSession {
	if overrides == nil {
		overrides = make(map[string]any)
	}
	s := &chatSession{
		client:    client,
		model:     cfg.ActiveLLM().Model,
		profile:   cfg.Profile,
		system:    o.system,
		format:    o.format,
		stream:    o.stream,
		json:      o.json,
		overrides: overrides,
		limits:    cfg.Costs,
	}
	if cfg.Costs.Enabled {
		s.ledger = costs.New(cfg.UsagePath())
	}
	return s
}

// attachTranscript loads the named transcript into history and persists every
// later turn to it.
func (s *chatSession) attachTranscript(ctx context.Context, dir, name string) error {
	path, err := session.Path(dir, name)
	if err != nil {
		return err
	}
	transcript := session.New(path)
	history, err := transcript.Load(ctx)
	if err != nil {
		return err
	}
	s.transcript = transcript
	s.history = history
	logging.Logger().Debug("session loaded", "name", name, "messages", len(history))
	return nil
}

func (s *chatSession) callOptions() []llm.CallOption {
	var opts []llm.CallOption
	if len(s.overrides) > 0 {
		opts = append(opts, llm.WithOverrides(s.overrides))
	}
	if s.json {
		opts = append(opts, llm.WithJSONOutput(true))
	}
	return opts
}

// Send runs one turn. In stream mode onText receives text as it arrives.
// History only grows when the turn succeeds.
func (s *chatSession) Send(ctx context.Context, msg llm.UserMessage, onText func(string) error) (*llm.CreateResult, error) {
	messages := buildMessages(s.system, s.history, msg)

	var (
		res *llm.CreateResult
		err error
	)
	if s.stream {
		res, err = s.sendStream(ctx, messages, onText)
	} else {
		res, err = s.client.Create(ctx, messages, s.callOptions()...)
		if err == nil {
			s.recordUsage(ctx, res)
		}
	}
	if err != nil {
		return nil, err
	}

	reply := llm.AssistantMessage{
		Content:   res.Content,
		ToolCalls: res.ToolCalls,
		Source:    "assistant",
	}
	s.history = append(s.history, msg, reply)
	if s.transcript != nil {
		if err := s.transcript.Append(ctx, []llm.Message{msg, reply}); err != nil {
			logging.Logger().Warn("failed to persist session turn", "err", err)
		}
	}
	return res, nil
}

func (s *chatSession) sendStream(ctx context.Context, messages []llm.Message, onText func(string) error) (*llm.CreateResult, error) {
	stream, err := s.client.CreateStream(ctx, messages, s.callOptions()...)
	if err != nil {
		return nil, err
	}
	defer stream.Close()

	for stream.Next() {
		text, ok := stream.Current().(llm.TextFragment)
		if !ok || onText == nil {
			continue
		}
		if err := onText(text.Text); err != nil {
			return nil, err
		}
	}
	if err := stream.Err(); err != nil {
		return nil, err
	}
	return stream.Result()
}

// recordUsage appends one ledger record and warns about reached soft limits.
// Ledger failures never fail the turn.
func (s *chatSession) recordUsage(ctx context.Context, res *llm.CreateResult) {
	if s.ledger == nil {
		return
	}
	model := res.Model
	if model == "" {
		model = s.model
	}
	cost, _ := costs.EstimateUSD(model, res.Usage.PromptTokens, res.Usage.CompletionTokens)

	if err := s.ledger.Append(ctx, costs.Record{
		Profile:          s.profile,
		Model:            model,
		PromptTokens:     res.Usage.PromptTokens,
		CompletionTokens: res.Usage.CompletionTokens,
		TotalTokens:      res.Usage.TotalTokens,
		CostUSD:          cost,
	}); err != nil {
		logging.Logger().Warn("failed to append usage record", "err", err)
		return
	}

	if s.limits.DailyLimit <= 0 && s.limits.MonthlyLimit <= 0 {
		return
	}
	spend, err := s.ledger.Spend(ctx, nowFunc())
	if err != nil {
		logging.Logger().Warn("failed to compute spend", "err", err)
		return
	}
	for _, w := range costs.LimitWarnings(spend, s.limits.DailyLimit, s.limits.MonthlyLimit) {
		logging.Logger().Warn(w)
	}
}

func (s *chatSession) reset(ctx context.Context) error {
	s.history = nil
	if s.transcript == nil {
		return nil
	}
	return s.transcript.Reset(ctx)
}

func runOneShot(ctx context.Context, s *chatSession, msg llm.UserMessage, out io.Writer) error {
	if s.stream {
		res, err := s.Send(ctx, msg, func(text string) error {
			_, err := io.WriteString(out, text)
			return err
		})
		if err != nil {
			return err
		}
		if _, err := fmt.Fprintln(out); err != nil {
			return err
		}
		return writeToolCalls(out, res.ToolCalls)
	}

	res, err := s.Send(ctx, msg, nil)
	if err != nil {
		return err
	}
	if res.Content != "" {
		rendered, err := renderReply(res.Content, s.format)
		if err != nil {
			return err
		}
		if _, err := fmt.Fprintln(out, rendered); err != nil {
			return err
		}
	}
	return writeToolCalls(out, res.ToolCalls)
}

func writeToolCalls(out io.Writer, calls []llm.ToolCall) error {
	if len(calls) == 0 {
		return nil
	}
	_, err := fmt.Fprintln(out, formatToolCalls(calls))
	return err
}
