package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fpang/gemini-photo-editor/internal/api"
	"github.com/fpang/gemini-photo-editor/internal/chat"
	"github.com/fpang/gemini-photo-editor/internal/cli"
	"github.com/fpang/gemini-photo-editor/internal/logging"
	"github.com/fpang/gemini-photo-editor/internal/session"
	"github.com/fpang/gemini-photo-editor/internal/store"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

// CLI flags
var (
	portFlag        int
	modelFlag       string
	textModelFlag   string
	stateDirFlag    string
	maxSessionsFlag int
	noValidateFlag  bool
)

var rootCmd = &cobra.Command{
	Use:   "photo-web",
	Short: "Local web API for the Gemini photo editor",
	Long: `Photo Web starts a local server exposing the editor's JSON API. Open a
photo, apply edits and variant batches, undo and redo, and export the
history. Pixel work is done by the Gemini image model.

Preferences (disclaimer, optional API key, recent projects) are kept in
the state directory, ~/.gemini-photo-editor by default.

Examples:
  photo-web
  photo-web --port 9090
  photo-web --model gemini-3-pro-image-preview`,
	Run: runMain,
}

func init() {
	rootCmd.Flags().IntVar(&portFlag, "port", 8080, "Port to listen on")
	rootCmd.Flags().StringVarP(&modelFlag, "model", "m", "", "Gemini image model (default $GEMINI_IMAGE_MODEL or "+chat.DefaultImageModelName+")")
	rootCmd.Flags().StringVar(&textModelFlag, "text-model", "", "Gemini text model for suggestions (default $GEMINI_MODEL or "+chat.DefaultTextModelName+")")
	rootCmd.Flags().StringVar(&stateDirFlag, "state-dir", "", "Preference directory (default $PHOTO_STATE_DIR or ~/.gemini-photo-editor)")
	rootCmd.Flags().IntVar(&maxSessionsFlag, "max-sessions", session.DefaultMaxSessions, "Open sessions kept in memory")
	rootCmd.Flags().BoolVar(&noValidateFlag, "no-validate", false, "Skip the API key check at startup")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func runMain(cmd *cobra.Command, args []string) {
	logging.Init()
	initStart := time.Now()
	ctx := context.Background()

	stateDir := stateDirFlag
	if stateDir == "" {
		var err error
		if stateDir, err = store.DefaultStateDir(); err != nil {
			log.Fatal().Err(err).Msg("Failed to resolve state directory")
		}
	}
	prefs, err := store.NewFileStore(stateDir)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to open preference store")
	}

	client := cli.InitGeminiClient(ctx, prefs, !noValidateFlag)
	editor := chat.NewImageEditor(client, modelFlag)

	server := api.New(api.Config{
		Sessions:  session.NewManager(editor, maxSessionsFlag),
		Prefs:     prefs,
		Suggester: chat.NewSuggester(client, textModelFlag),
		Picker:    pickImage,
	})

	mux := server.Mux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		if r.URL.Path != "/" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		fmt.Fprintln(w, "Gemini photo editor API. See /api/health.")
	})

	addr := fmt.Sprintf(":%d", portFlag)
	srv := &http.Server{
		Addr:         addr,
		Handler:      server.Handler(),
		ReadTimeout:  60 * time.Second,
		WriteTimeout: 180 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Graceful shutdown
	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh
		log.Info().Msg("Shutting down...")
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		srv.Shutdown(ctx)
	}()

	logging.NewStartupLogger("photo-web").
		CommitHash(commitHash).
		BuildTime(buildTime).
		Config("addr", addr).
		Config("stateDir", stateDir).
		Config("imageModel", editor.Model()).
		Feature("validateKey", !noValidateFlag).
		InitDuration(time.Since(initStart)).
		Log()
	fmt.Printf("\n  Photo editor API: http://localhost:%d/api/health\n\n", portFlag)

	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Fatal().Err(err).Msg("Server failed")
	}
}
