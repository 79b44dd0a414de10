package main

import (
	"context"
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
	stepFlags      []string
	referenceFlags []string
	outputFlag     string
	intensityFlag  string
	allFlag        bool
	exportFlag     string
)

var editCmd = &cobra.Command{
	Use:   "edit <image>",
	Short: "Apply one or more edits to a photo",
	Long: `Apply a chain of edits to a photo. Each --step is either
"feature:value" (e.g. "filter:golden hour", "text:Happy Birthday") or a
free-form instruction. Steps run in order, each on the previous result.

Without --step the instruction is read from the terminal.`,
	Args: cobra.ExactArgs(1),
	Run:  runEdit,
}

func init() {
	f := editCmd.Flags()
	f.StringArrayVarP(&stepFlags, "step", "s", nil, "Edit step, repeatable: \"feature:value\" or a free-form instruction")
	f.StringArrayVarP(&referenceFlags, "reference", "r", nil, "Reference image for faceswap, clothing, makeup, insert or background")
	f.StringVarP(&outputFlag, "output", "o", "", "Output file (default <image>-edited.<ext> next to the input)")
	f.StringVar(&intensityFlag, "intensity", "", "Effect intensity passed to feature steps (subtle, medium, strong)")
	f.BoolVar(&allFlag, "all", false, "Also write every intermediate result")
	f.StringVar(&exportFlag, "export", "", "Write the whole history to this zip archive")
}

func runEdit(cmd *cobra.Command, args []string) {
	input := args[0]
	src, err := filehandler.LoadImage(input)
	if err != nil {
		log.Fatal().Err(err).Str("path", input).Msg("Failed to load image")
	}
	refs := loadReferences(referenceFlags)

	if len(stepFlags) == 0 {
		instruction := cli.PromptLine(os.Stdin, os.Stdout, "Instruction", "")
		if instruction == "" {
			log.Fatal().Msg("No edit given")
		}
		stepFlags = []string{instruction}
	}
	steps, err := parseSteps(stepFlags)
	if err != nil {
		log.Fatal().Err(err).Msg("Invalid step")
	}
	if err := validateSteps(steps, len(refs), intensityFlag); err != nil {
		log.Fatal().Err(err).Msg("Invalid step")
	}

	ctx, cancel := signalContext()
	defer cancel()
	client := geminiClient(ctx)
	editor := chat.NewImageEditor(client, modelFlag)

	sess := session.New(jobs.GenerateID("cli-"), filepath.Base(input), src, editor)
	start := time.Now()
	for i, s := range steps {
		entry, err := applyStep(ctx, sess, s, refs)
		if err != nil {
			log.Fatal().
				Err(err).
				Int("step", i+1).
				Str("edit", s.String()).
				Msg(dispatch.Message(err))
		}
		log.Info().
			Int("step", i+1).
			Str("edit", s.String()).
			Str("size", cli.FormatBytes(entry.Image.Size())).
			Msg("Step applied")

		if allFlag && i < len(steps)-1 {
			writeEntry(cli.OutputPath(input, "", fmt.Sprintf("step%d", i+1), entry.Image.MIMEType), entry)
		}
	}

	final, _ := sess.Current()
	out := cli.OutputPath(input, outputFlag, "edited", final.Image.MIMEType)
	writeEntry(out, final)

	if exportFlag != "" {
		if err := writeExport(exportFlag, sess); err != nil {
			log.Fatal().Err(err).Str("path", exportFlag).Msg("Failed to export history")
		}
		log.Info().Str("path", exportFlag).Msg("History exported")
	}

	fmt.Printf("\n  %d edit(s) in %s -> %s\n\n", len(steps), cli.FormatDurationShort(time.Since(start)), out)
}

func applyStep(ctx context.Context, sess *session.Session, s step, refs []filehandler.Image) (history.Entry, error) {
	if s.Feature == "" {
		return sess.EditInstruction(ctx, "instruction", s.Instruction)
	}
	var stepRefs []filehandler.Image
	if s.Feature.AcceptsReference() {
		stepRefs = refs
	}
	return sess.Edit(ctx, s.Feature, s.params(intensityFlag), stepRefs)
}

func loadReferences(paths []string) []filehandler.Image {
	refs := make([]filehandler.Image, 0, len(paths))
	for _, p := range paths {
		img, err := filehandler.LoadImage(p)
		if err != nil {
			log.Fatal().Err(err).Str("path", p).Msg("Failed to load reference image")
		}
		refs = append(refs, img)
	}
	return refs
}

func writeEntry(path string, e history.Entry) {
	if err := os.WriteFile(path, e.Image.Data, 0o644); err != nil {
		log.Fatal().Err(err).Str("path", path).Msg("Failed to write image")
	}
	log.Info().Str("path", path).Str("label", e.Label).Msg("Image written")
}

func writeExport(path string, sess *session.Session) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := export.WriteZip(f, sess.Name, sess.Entries()); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
