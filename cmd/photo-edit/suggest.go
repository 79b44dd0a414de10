package main

import (
	"fmt"
	"path/filepath"

	"github.com/fpang/gemini-photo-editor/internal/chat"
	"github.com/fpang/gemini-photo-editor/internal/cli"
	"github.com/fpang/gemini-photo-editor/internal/dispatch"
	"github.com/fpang/gemini-photo-editor/internal/filehandler"
	"github.com/fpang/gemini-photo-editor/internal/jobs"
	"github.com/fpang/gemini-photo-editor/internal/session"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var (
	applyFlag         int
	suggestOutputFlag string
)

var suggestCmd = &cobra.Command{
	Use:   "suggest <image>",
	Short: "Ask the model what would improve a photo",
	Long: `List edits the text model recommends for a photo, highest impact first.
With --apply N the Nth suggestion is applied and the result written.`,
	Args: cobra.ExactArgs(1),
	Run:  runSuggest,
}

func init() {
	suggestCmd.Flags().IntVar(&applyFlag, "apply", 0, "Apply suggestion N (1-based)")
	suggestCmd.Flags().StringVarP(&suggestOutputFlag, "output", "o", "", "Output file for --apply (default <image>-suggested.<ext>)")
}

func runSuggest(cmd *cobra.Command, args []string) {
	input := args[0]
	src, err := filehandler.LoadImage(input)
	if err != nil {
		log.Fatal().Err(err).Str("path", input).Msg("Failed to load image")
	}

	ctx, cancel := signalContext()
	defer cancel()
	client := geminiClient(ctx)

	suggestions, err := chat.NewSuggester(client, textModelFlag).SuggestEdits(ctx, src)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to get suggestions")
	}

	fmt.Println()
	for i, s := range suggestions {
		fmt.Printf("  %d. %s [%s, %s impact]\n     %s\n", i+1, s.Title, s.Feature, s.Impact, s.Instruction)
	}
	fmt.Println()

	if applyFlag == 0 {
		return
	}
	if applyFlag < 1 || applyFlag > len(suggestions) {
		log.Fatal().Int("apply", applyFlag).Int("suggestions", len(suggestions)).Msg("No such suggestion")
	}
	chosen := suggestions[applyFlag-1]

	sess := session.New(jobs.GenerateID("cli-"), filepath.Base(input), src, chat.NewImageEditor(client, modelFlag))
	entry, err := sess.Edit(ctx, chosen.Feature, chosen.Params(), nil)
	if err != nil {
		log.Fatal().Err(err).Str("suggestion", chosen.Title).Msg(dispatch.Message(err))
	}
	writeEntry(cli.OutputPath(input, suggestOutputFlag, "suggested", entry.Image.MIMEType), entry)
}
