// Package lambdaboot holds the Lambda cold-start bootstrap: AWS config, the
// S3 media bucket, the DynamoDB preference store, the API key from SSM and
// the startup log.
package lambdaboot

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
	"github.com/rs/zerolog/log"

	"github.com/fpang/gemini-photo-editor/internal/logging"
	"github.com/fpang/gemini-photo-editor/internal/store"
)

// DefaultAPIKeyParam is the SSM parameter read when SSM_API_KEY_PARAM is unset.
const DefaultAPIKeyParam = "/gemini-photo-editor/prod/gemini-api-key"

// AWSClients holds the core AWS SDK clients.
type AWSClients struct {
	Config aws.Config
	SSM    *ssm.Client
}

// S3Clients holds the S3 client and the media bucket name.
type S3Clients struct {
	Client *s3.Client
	Bucket string
}

// ParameterAPI is the subset of *ssm.Client used by LoadGeminiKey.
type ParameterAPI interface {
	GetParameter(ctx context.Context, params *ssm.GetParameterInput, optFns ...func(*ssm.Options)) (*ssm.GetParameterOutput, error)
}

// InitAWS loads the default AWS config and returns it along with common clients.
func InitAWS(ctx context.Context) AWSClients {
	cfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load AWS config")
	}
	log.Debug().Str("region", cfg.Region).Msg("AWS config loaded")
	return AWSClients{
		Config: cfg,
		SSM:    ssm.NewFromConfig(cfg),
	}
}

// InitS3 creates an S3 client and reads the bucket name from the given
// environment variable. Fatals if the env var is empty.
func InitS3(cfg aws.Config, bucketEnvVar string) S3Clients {
	bucket := os.Getenv(bucketEnvVar)
	if bucket == "" {
		log.Fatal().Str("envVar", bucketEnvVar).Msg("Bucket environment variable is required")
	}
	return S3Clients{
		Client: s3.NewFromConfig(cfg),
		Bucket: bucket,
	}
}

// InitDynamo creates the DynamoDB preference store. Recent-project images go
// to the given S3 bucket. Fatals if the table env var is empty.
func InitDynamo(cfg aws.Config, tableEnvVar string, media S3Clients) *store.DynamoStore {
	tableName := os.Getenv(tableEnvVar)
	if tableName == "" {
		log.Fatal().Str("envVar", tableEnvVar).Msg("DynamoDB table environment variable is required")
	}
	return store.NewDynamoStore(dynamodb.NewFromConfig(cfg), tableName, media.Client, media.Bucket)
}

// APIKeyParam returns the SSM parameter holding the Gemini API key.
func APIKeyParam() string {
	return logging.EnvOrDefault("SSM_API_KEY_PARAM", DefaultAPIKeyParam)
}

// LoadGeminiKey fetches the Gemini API key from SSM Parameter Store unless
// GEMINI_API_KEY is already set, and exports it as GEMINI_API_KEY.
func LoadGeminiKey(ctx context.Context, client ParameterAPI) error {
	if os.Getenv("GEMINI_API_KEY") != "" {
		return nil
	}
	paramName := APIKeyParam()

	start := time.Now()
	result, err := client.GetParameter(ctx, &ssm.GetParameterInput{
		Name:           &paramName,
		WithDecryption: aws.Bool(true),
	})
	if err != nil {
		return fmt.Errorf("read API key from SSM %s: %w", paramName, err)
	}
	if result.Parameter == nil || result.Parameter.Value == nil || *result.Parameter.Value == "" {
		return fmt.Errorf("SSM parameter %s is empty", paramName)
	}
	os.Setenv("GEMINI_API_KEY", *result.Parameter.Value)
	log.Debug().Str("param", paramName).Dur("elapsed", time.Since(start)).Msg("Gemini API key loaded from SSM")
	return nil
}

// StartupLog is a convenience wrapper for the startup logger.
func StartupLog(name string, initStart time.Time) *logging.StartupLogger {
	return logging.NewStartupLogger(name).InitDuration(time.Since(initStart))
}
