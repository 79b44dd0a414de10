// Command photo-lambda serves the editor API from AWS Lambda behind a
// function URL or API Gateway HTTP API (payload format 2.0).
//
// Sessions live in the warm container's memory, so a deployment must pin
// one container per user (reserved concurrency 1). A request that reaches
// another container gets 404 for the session. Variant batches run to
// completion inside the generate request because a frozen container would
// stall them. Preferences live in DynamoDB with images in S3.
package main

import (
	"context"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/aws/aws-lambda-go/lambda"
	"github.com/awslabs/aws-lambda-go-api-proxy/httpadapter"
	"github.com/rs/zerolog/log"

	"github.com/fpang/gemini-photo-editor/internal/api"
	"github.com/fpang/gemini-photo-editor/internal/chat"
	"github.com/fpang/gemini-photo-editor/internal/lambdaboot"
	"github.com/fpang/gemini-photo-editor/internal/logging"
	"github.com/fpang/gemini-photo-editor/internal/session"
)

var handler http.Handler

func init() {
	logging.Init()
	initStart := time.Now()
	ctx := context.Background()

	aws := lambdaboot.InitAWS(ctx)
	media := lambdaboot.InitS3(aws.Config, "MEDIA_BUCKET_NAME")
	prefs := lambdaboot.InitDynamo(aws.Config, "PREFS_TABLE_NAME", media)

	if err := lambdaboot.LoadGeminiKey(ctx, aws.SSM); err != nil {
		log.Fatal().Err(err).Msg("Failed to load Gemini API key")
	}
	client, err := chat.NewGeminiClient(ctx, os.Getenv("GEMINI_API_KEY"))
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create Gemini client")
	}

	editor := chat.NewImageEditor(client, "")
	origins := allowedOrigins(os.Getenv("ALLOWED_ORIGINS"))

	handler = api.New(api.Config{
		Sessions:       session.NewManager(editor, session.DefaultMaxSessions),
		Prefs:          prefs,
		Suggester:      chat.NewSuggester(client, ""),
		AllowedOrigins: origins,
		WaitForBatches: true,
	}).Handler()

	lambdaboot.StartupLog("photo-lambda", initStart).
		CommitHash(commitHash).
		BuildTime(buildTime).
		S3Bucket("media", media.Bucket).
		DynamoTable("preferences", os.Getenv("PREFS_TABLE_NAME")).
		SSMParam("geminiApiKey", lambdaboot.APIKeyParam()).
		Config("imageModel", editor.Model()).
		Config("allowedOrigins", strings.Join(origins, ",")).
		Feature("waitForBatches", true).
		Log()
}

func main() {
	adapter := httpadapter.NewV2(handler)
	lambda.Start(adapter.ProxyWithContext)
}

// allowedOrigins parses a comma-separated origin list.
func allowedOrigins(raw string) []string {
	var out []string
	for _, o := range strings.Split(raw, ",") {
		if o = strings.TrimSpace(o); o != "" {
			out = append(out, strings.TrimRight(o, "/"))
		}
	}
	return out
}
