package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/mattn/go-runewidth"
	"github.com/spf13/cobra"

	"github.com/nextlevelbuilder/replyengine/internal/gate"
	"github.com/nextlevelbuilder/replyengine/internal/message"
)

func scoreCmd() *cobra.Command {
	var (
		scene     string
		mentioned bool
		followup  bool
		asJSON    bool
		low, high float64
	)
	cmd := &cobra.Command{
		Use:   "score <text>",
		Short: "Run the local interest gate on a message and print its features",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, path, err := loadConfig()
			if err != nil {
				return err
			}
			e := newEngine(cfg, path)

			msg := message.Message{Scene: message.Scene(scene), SenderID: "cli", GroupID: "cli", Text: strings.Join(args, " ")}
			sig := message.Signals{MentionedByAt: mentioned, IsFollowupAfterBotReply: followup}
			var opts gate.Options
			if cmd.Flags().Changed("low") {
				opts.LowThreshold = &low
			}
			if cmd.Flags().Changed("high") {
				opts.HighThreshold = &high
			}

			d := e.gate.Evaluate(cmd.Context(), msg, sig, message.History{}, opts)
			if asJSON {
				enc := json.NewEncoder(os.Stdout)
				enc.SetIndent("", "  ")
				return enc.Encode(d)
			}
			printDecision(d)
			return nil
		},
	}
	cmd.Flags().StringVar(&scene, "scene", "group", "message scene: group or private")
	cmd.Flags().BoolVar(&mentioned, "mentioned", false, "treat the message as an @-mention of the bot")
	cmd.Flags().BoolVar(&followup, "followup", false, "treat the message as a follow-up after a bot reply")
	cmd.Flags().Float64Var(&low, "low", 0, "override the low threshold")
	cmd.Flags().Float64Var(&high, "high", 0, "override the high threshold")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the full decision as JSON")
	return cmd
}

func printDecision(d gate.Decision) {
	fmt.Printf("action:      %s\n", d.Action)
	fmt.Printf("reason:      %s\n", d.Reason)
	fmt.Printf("probability: %.4f\n", d.NormalizedScore)
	fmt.Printf("logit:       %.4f\n", d.Score)
	if d.Debug == nil || d.Debug.Breakdown == nil {
		return
	}
	fmt.Printf("thresholds:  low=%.3f high=%.3f (model v%d)\n", d.Debug.Thresholds.Low, d.Debug.Thresholds.High, d.Debug.ModelVersion)
	fmt.Printf("tokens:      %d\n", d.Debug.TokenCount)

	names := make([]string, 0, len(d.Debug.Content))
	for name, v := range d.Debug.Content {
		if v != 0 {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	width := 0
	for _, n := range names {
		width = max(width, runewidth.StringWidth(n))
	}
	fmt.Println("features:")
	for _, n := range names {
		fmt.Printf("  %s  %g\n", runewidth.FillRight(n, width), d.Debug.Content[n])
	}
}
