package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fpang/gemini-photo-editor/internal/chat"
	"github.com/fpang/gemini-photo-editor/internal/cli"
	"github.com/fpang/gemini-photo-editor/internal/logging"
	"github.com/fpang/gemini-photo-editor/internal/store"
	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var (
	modelFlag      string
	textModelFlag  string
	stateDirFlag   string
	noValidateFlag bool
)

var rootCmd = &cobra.Command{
	Use:   "photo-mcp",
	Short: "MCP server exposing the Gemini photo editor as tools",
	Long: `Photo MCP serves the editor over the Model Context Protocol on stdio, so
an assistant can edit local photos, request variant batches and ask for
suggestions. Logs go to stderr; stdout carries the protocol.

Example client configuration:
  {"command": "photo-mcp", "args": ["--model", "gemini-3-pro-image-preview"]}`,
	Run: runMain,
}

func init() {
	rootCmd.Flags().StringVarP(&modelFlag, "model", "m", "", "Gemini image model (default $GEMINI_IMAGE_MODEL or "+chat.DefaultImageModelName+")")
	rootCmd.Flags().StringVar(&textModelFlag, "text-model", "", "Gemini text model for suggestions (default $GEMINI_MODEL or "+chat.DefaultTextModelName+")")
	rootCmd.Flags().StringVar(&stateDirFlag, "state-dir", "", "Preference directory holding a saved API key (default ~/.gemini-photo-editor)")
	rootCmd.Flags().BoolVar(&noValidateFlag, "no-validate", false, "Skip the API key check at startup")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func runMain(cmd *cobra.Command, args []string) {
	logging.InitWriter(os.Stderr)
	initStart := time.Now()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

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
	tools := &toolServer{
		editor:    editor,
		suggester: chat.NewSuggester(client, textModelFlag),
	}

	server := mcp.NewServer(&mcp.Implementation{Name: "photo-mcp", Version: commitHash}, nil)
	tools.register(server)

	logging.NewStartupLogger("photo-mcp").
		CommitHash(commitHash).
		BuildTime(buildTime).
		Config("imageModel", editor.Model()).
		Config("stateDir", stateDir).
		Feature("validateKey", !noValidateFlag).
		InitDuration(time.Since(initStart)).
		Log()

	if err := server.Run(ctx, &mcp.StdioTransport{}); err != nil && ctx.Err() == nil {
		log.Fatal().Err(err).Msg("MCP server failed")
	}
}
