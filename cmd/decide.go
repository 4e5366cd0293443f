package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/nextlevelbuilder/replyengine/internal/adjudicate"
	"github.com/nextlevelbuilder/replyengine/internal/message"
	"github.com/nextlevelbuilder/replyengine/pkg/protocol"
)

func decideCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "decide",
		Short: "Run one adjudicator call",
	}
	cmd.AddCommand(decideReplyCmd())
	cmd.AddCommand(decideDedupCmd())
	cmd.AddCommand(decideOverrideCmd())
	cmd.AddCommand(decideRouteCmd())
	return cmd
}

func printJSON(v interface{}) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// readInput decodes a JSON request from the file argument, or stdin for "-".
func readInput(path string, v interface{}) error {
	var r io.Reader = os.Stdin
	if path != "-" {
		f, err := os.Open(path)
		if err != nil {
			return err
		}
		defer f.Close()
		r = f
	}
	if err := json.NewDecoder(r).Decode(v); err != nil {
		return fmt.Errorf("decode %s: %w", path, err)
	}
	return nil
}

func decideReplyCmd() *cobra.Command {
	var (
		scene     string
		mentioned bool
		input     string
	)
	cmd := &cobra.Command{
		Use:   "reply [text]",
		Short: "Ask the reply adjudicator whether to answer a message",
		RunE: func(cmd *cobra.Command, args []string) error {
			var req protocol.ReplyDecisionRequest
			switch {
			case input != "":
				if err := readInput(input, &req); err != nil {
					return err
				}
			case len(args) > 0:
				req.Message = message.Message{Scene: message.Scene(scene), SenderID: "cli", GroupID: "cli", Text: strings.Join(args, " ")}
				req.Signals.MentionedByAt = mentioned
			default:
				return fmt.Errorf("give the message text or --input")
			}

			cfg, path, err := loadConfig()
			if err != nil {
				return err
			}
			e := newEngine(cfg, path)
			policy := cfg.PolicySnapshot()
			d := e.reply.Decide(cmd.Context(), adjudicate.ReplyInput{
				Message: req.Message,
				Signals: req.Signals,
				History: req.History,
				Policy:  &policy,
			})
			return printJSON(d)
		},
	}
	cmd.Flags().StringVar(&scene, "scene", "group", "message scene: group or private")
	cmd.Flags().BoolVar(&mentioned, "mentioned", false, "treat the message as an @-mention of the bot")
	cmd.Flags().StringVarP(&input, "input", "i", "", "JSON request file (\"-\" for stdin)")
	return cmd
}

func decideDedupCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "dedup <base-text> <candidate-text>",
		Short: "Ask whether a candidate reply duplicates one already sent",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, path, err := loadConfig()
			if err != nil {
				return err
			}
			e := newEngine(cfg, path)
			return printJSON(protocol.DedupDecisionResponse{Decision: e.dedup.Decide(cmd.Context(), args[0], args[1])})
		},
	}
}

func decideOverrideCmd() *cobra.Command {
	var input string
	cmd := &cobra.Command{
		Use:   "override",
		Short: "Classify a new message against a running task",
		RunE: func(cmd *cobra.Command, args []string) error {
			var req protocol.OverrideDecisionRequest
			if err := readInput(input, &req); err != nil {
				return err
			}
			cfg, path, err := loadConfig()
			if err != nil {
				return err
			}
			e := newEngine(cfg, path)
			return printJSON(protocol.OverrideDecisionResponse{Decision: e.override.Decide(cmd.Context(), req)})
		},
	}
	cmd.Flags().StringVarP(&input, "input", "i", "-", "JSON request file (\"-\" for stdin)")
	return cmd
}

func decideRouteCmd() *cobra.Command {
	var timeout time.Duration
	cmd := &cobra.Command{
		Use:   "route <user-content>",
		Short: "Ask whether a turn needs tools",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, path, err := loadConfig()
			if err != nil {
				return err
			}
			e := newEngine(cfg, path)
			if !cmd.Flags().Changed("timeout") {
				timeout = routeTimeout(cfg)()
			}
			out := e.router.Route(cmd.Context(), adjudicate.RouteInput{
				UserContent: strings.Join(args, " "),
				Timeout:     timeout,
			})
			return printJSON(protocol.ToolRoutingResponse{Outcome: out})
		},
	}
	cmd.Flags().DurationVar(&timeout, "timeout", 0, "race the model call against this timer")
	return cmd
}
