package main

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/fpang/gemini-photo-editor/internal/chat"
	"github.com/fpang/gemini-photo-editor/internal/cli"
	"github.com/fpang/gemini-photo-editor/internal/dispatch"
	"github.com/fpang/gemini-photo-editor/internal/export"
	"github.com/fpang/gemini-photo-editor/internal/filehandler"
	"github.com/fpang/gemini-photo-editor/internal/history"
	"github.com/fpang/gemini-photo-editor/internal/jobs"
	"github.com/fpang/gemini-photo-editor/internal/session"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var (
	featureFlag    string
	themeFlags     []string
	outDirFlag     string
	variantRefFlag []string
)

var variantsCmd = &cobra.Command{
	Use:   "variants <image>",
	Short: "Generate one result per theme in parallel",
	Long: `Generate several takes on one feature at once, e.g. a set of styles or
eras. Every theme starts from the same source image and results are
written as they are; a failed theme does not stop the others.`,
	Args: cobra.ExactArgs(1),
	Run:  runVariants,
}

func init() {
	f := variantsCmd.Flags()
	f.StringVarP(&featureFlag, "feature", "f", string(chat.FeatureStyle), "Feature to vary")
	f.StringArrayVarP(&themeFlags, "theme", "t", nil, "Theme value, repeatable (preset, style, era, character or angle)")
	f.StringVar(&outDirFlag, "out-dir", ".", "Directory for the results")
	f.StringArrayVarP(&variantRefFlag, "reference", "r", nil, "Reference image for features that take one")
	variantsCmd.MarkFlagRequired("theme")
}

func runVariants(cmd *cobra.Command, args []string) {
	input := args[0]
	feature, err := chat.ParseFeature(featureFlag)
	if err != nil {
		log.Fatal().Err(err).Msg("Invalid feature")
	}
	src, err := filehandler.LoadImage(input)
	if err != nil {
		log.Fatal().Err(err).Str("path", input).Msg("Failed to load image")
	}
	refs := loadReferences(variantRefFlag)
	outDir := cli.EnsureDir(outDirFlag)

	variants := make([]session.Variant, 0, len(themeFlags))
	for _, theme := range themeFlags {
		variants = append(variants, session.Variant{Key: theme, Params: chat.PrimaryParams(feature, theme)})
	}

	ctx, cancel := signalContext()
	defer cancel()
	editor := chat.NewImageEditor(geminiClient(ctx), modelFlag)
	sess := session.New(jobs.GenerateID("cli-"), filepath.Base(input), src, editor)

	start := time.Now()
	if err := sess.StartBatch(ctx, feature, variants, refs); err != nil {
		log.Fatal().Err(err).Msg(dispatch.Message(err))
	}
	sess.WaitBatch(feature)

	view := sess.Batch(feature)
	written := 0
	for i, key := range view.Keys {
		item := view.Items[key]
		if item.Status != dispatch.StatusDone {
			log.Warn().Str("theme", key).Str("error", item.Error).Msg("Variant failed")
			continue
		}
		path := filepath.Join(outDir, export.FileName(i, history.Entry{Label: key, Image: item.Value}))
		if err := os.WriteFile(path, item.Value.Data, 0o644); err != nil {
			log.Fatal().Err(err).Str("path", path).Msg("Failed to write image")
		}
		log.Info().
			Str("theme", key).
			Str("path", path).
			Str("took", cli.FormatDurationShort(item.Duration)).
			Msg("Variant written")
		written++
	}

	fmt.Printf("\n  %d of %d variant(s) in %s -> %s\n\n", written, len(view.Keys), cli.FormatDurationShort(time.Since(start)), outDir)
	if written == 0 {
		os.Exit(1)
	}
}
