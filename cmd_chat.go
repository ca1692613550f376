package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"kollektiv/pkg/agent"
	"kollektiv/pkg/llm"
	"kollektiv/pkg/utils"
)

var (
	chatTools   []string
	chatNoTools bool
	chatForced  bool
	chatImprove int
)

func init() {
	rootCmd.AddCommand(chatCmd)
	chatCmd.Flags().StringSliceVar(&chatTools, "tools", nil, "storage tools to offer, in order (default: all)")
	chatCmd.Flags().BoolVar(&chatNoTools, "no-tools", false, "plain exchange without tools")
	chatCmd.Flags().BoolVar(&chatForced, "forced", false, "call every tool once, in --tools order, before answering")
	chatCmd.Flags().IntVar(&chatImprove, "improve", 0, "judge/revise rounds after each answer (0 = off)")
}

var chatCmd = &cobra.Command{
	Use:   "chat [message]",
	Short: "Chat with the backend",
	Long: `Chat with the backend. With a message argument one exchange runs and the
answer is printed; without it messages are read from stdin, one per line,
until EOF or "exit".

Examples:
  # Free-order exchange with all storage tools
  kollektiv chat "list my files and summarize notes.md"

  # Force write_file, then count_words, before the final answer
  kollektiv chat --forced --tools write_file,count_words "write a haiku to haiku.txt"

  # Plain exchange refined by two judge rounds
  kollektiv chat --no-tools --improve 2 "explain Go channels"`,
	RunE: runChat,
}

func runChat(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	req := agent.Request{Forced: chatForced}
	if !chatNoTools {
		if req.Tools, err = a.toolRegistry(chatTools); err != nil {
			return err
		}
	}

	history := a.history()
	req.History = &history

	if len(args) > 0 {
		req.Message = strings.Join(args, " ")
		return chatOnce(ctx, a, req, cmd.OutOrStdout())
	}

	scanner := bufio.NewScanner(os.Stdin)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	fmt.Fprint(cmd.ErrOrStderr(), "> ")
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "exit" {
			break
		}
		if line != "" {
			req.Message = line
			if err := chatOnce(ctx, a, req, cmd.OutOrStdout()); err != nil {
				return err
			}
		}
		fmt.Fprint(cmd.ErrOrStderr(), "> ")
	}
	return scanner.Err()
}

func chatOnce(ctx context.Context, a *app, req agent.Request, out io.Writer) error {
	// one id per user turn, shared by improvement rounds
	ctx = llm.WithDebugID(ctx, utils.GenerateExchangeID())

	var (
		reply agent.Reply
		err   error
	)
	if chatImprove > 0 {
		reply, err = agent.NewImprover(a.engine, nil, chatImprove).Run(ctx, req)
	} else {
		reply, err = a.engine.Chat(ctx, req)
	}
	if err != nil {
		return err
	}

	fmt.Fprintln(out, reply.Text)
	return nil
}
