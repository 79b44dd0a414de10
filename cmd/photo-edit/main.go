package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/fpang/gemini-photo-editor/internal/chat"
	"github.com/fpang/gemini-photo-editor/internal/cli"
	"github.com/fpang/gemini-photo-editor/internal/logging"
	"github.com/fpang/gemini-photo-editor/internal/store"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"google.golang.org/genai"
)

// Persistent flags shared by every subcommand.
var (
	modelFlag      string
	textModelFlag  string
	stateDirFlag   string
	noValidateFlag bool
	logLevelFlag   string
)

var rootCmd = &cobra.Command{
	Use:   "photo-edit",
	Short: "Edit photos with the Gemini image model from the terminal",
	Long: `Photo Edit applies Gemini-powered edits to a photo without a browser.

Edits run in order against one in-memory history, so a chain of steps
behaves exactly like the same steps applied one by one in the web editor.

Examples:
  photo-edit edit beach.jpg -s "filter:golden hour" -s "remove the people in the back"
  photo-edit edit me.jpg -s faceswap:"keep my glasses" -r friend.jpg -o swapped.png
  photo-edit variants street.jpg --feature style --theme watercolor --theme "pop art"
  photo-edit suggest portrait.jpg --apply 1`,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		logging.Init()
		if logLevelFlag != "" {
			zerolog.SetGlobalLevel(logging.ParseLevel(logLevelFlag))
		}
	},
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVarP(&modelFlag, "model", "m", "", "Gemini image model (default $GEMINI_IMAGE_MODEL or "+chat.DefaultImageModelName+")")
	pf.StringVar(&textModelFlag, "text-model", "", "Gemini text model for suggestions (default $GEMINI_MODEL or "+chat.DefaultTextModelName+")")
	pf.StringVar(&stateDirFlag, "state-dir", "", "Preference directory holding a saved API key (default ~/.gemini-photo-editor)")
	pf.BoolVar(&noValidateFlag, "no-validate", false, "Skip the API key check before editing")
	pf.StringVar(&logLevelFlag, "log-level", "", "Log level override (debug, info, warn, error)")

	rootCmd.AddCommand(editCmd, variantsCmd, suggestCmd, versionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// signalContext is cancelled on SIGINT or SIGTERM so an in-flight model call
// is abandoned instead of leaving the process hanging.
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

// geminiClient opens the preference store for a saved key and returns a
// validated client.
func geminiClient(ctx context.Context) *genai.Client {
	dir := stateDirFlag
	if dir == "" {
		var err error
		if dir, err = store.DefaultStateDir(); err != nil {
			log.Fatal().Err(err).Msg("Failed to resolve state directory")
		}
	}
	prefs, err := store.NewFileStore(dir)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to open preference store")
	}
	return cli.InitGeminiClient(ctx, prefs, !noValidateFlag)
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print build information",
	Run: func(cmd *cobra.Command, args []string) {
		cmd.Printf("photo-edit %s (built %s)\n", commitHash, buildTime)
	},
}
