// Package lambdaboot provides shared cold-start bootstrap logic for the
// studio's AWS deployments.
//
// The Lambda entry point and the worker need some subset of: AWS config, S3,
// DynamoDB, SSM parameter fetch, and startup logging. This package extracts
// the common init patterns so each main is a short composition of helpers.
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

	"github.com/fpang/ecom-image-studio/internal/blobstore"
	"github.com/fpang/ecom-image-studio/internal/config"
	"github.com/fpang/ecom-image-studio/internal/logging"
	"github.com/fpang/ecom-image-studio/internal/store"
)

// DefaultGeminiKeyParam is the SSM parameter read when none is configured.
const DefaultGeminiKeyParam = "/ecom-image-studio/prod/gemini-api-key"

// AWSClients holds the core AWS SDK clients.
type AWSClients struct {
	Config aws.Config
	SSM    *ssm.Client
}

// InitAWS loads the default AWS config and returns it along with common clients.
func InitAWS(ctx context.Context) (AWSClients, error) {
	cfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		return AWSClients{}, fmt.Errorf("load AWS config: %w", err)
	}
	log.Debug().Str("region", cfg.Region).Msg("AWS config loaded")
	return AWSClients{
		Config: cfg,
		SSM:    ssm.NewFromConfig(cfg),
	}, nil
}

// InitBlobs creates the S3 image store, or returns nil when no bucket is configured.
func InitBlobs(cfg aws.Config, bucket string) *blobstore.S3 {
	if bucket == "" {
		log.Warn().Msg("MEDIA_BUCKET not set - history images stay inline")
		return nil
	}
	return blobstore.NewS3(s3.NewFromConfig(cfg), bucket)
}

// InitStore builds the record store selected by c.Store. aws is only
// consulted for the dynamo backend and may be nil otherwise.
func InitStore(c *config.Config, aws *AWSClients) (store.Store, *blobstore.S3, error) {
	switch c.Store {
	case config.StoreDynamo:
		if aws == nil {
			return nil, nil, fmt.Errorf("dynamo store needs AWS config")
		}
		blobs := InitBlobs(aws.Config, c.MediaBucket)
		var sink store.ImageSink
		if blobs != nil {
			sink = blobs
		}
		return store.NewDynamoStore(dynamodb.NewFromConfig(aws.Config), c.DynamoTable, sink), blobs, nil
	case config.StoreSupabase:
		s, err := store.NewSupabaseStore(c.SupabaseURL, c.SupabaseServiceKey)
		if err != nil {
			return nil, nil, err
		}
		return s, nil, nil
	default:
		return store.NewMemoryStore(), nil, nil
	}
}

type parameterGetter interface {
	GetParameter(ctx context.Context, in *ssm.GetParameterInput, optFns ...func(*ssm.Options)) (*ssm.GetParameterOutput, error)
}

// LoadGeminiKey fetches the Gemini API key from SSM Parameter Store unless
// GEMINI_API_KEY is already set. The key is exported to GEMINI_API_KEY so the
// credential resolver finds it.
func LoadGeminiKey(ctx context.Context, client parameterGetter, paramName string) error {
	if os.Getenv("GEMINI_API_KEY") != "" {
		return nil
	}
	if paramName == "" {
		paramName = DefaultGeminiKeyParam
	}
	ssmStart := time.Now()
	result, err := client.GetParameter(ctx, &ssm.GetParameterInput{
		Name:           &paramName,
		WithDecryption: aws.Bool(true),
	})
	if err != nil {
		return fmt.Errorf("read API key from SSM %s: %w", paramName, err)
	}
	if result.Parameter == nil || aws.ToString(result.Parameter.Value) == "" {
		return fmt.Errorf("SSM parameter %s is empty", paramName)
	}
	os.Setenv("GEMINI_API_KEY", *result.Parameter.Value)
	log.Debug().Str("param", paramName).Dur("elapsed", time.Since(ssmStart)).Msg("Gemini API key loaded from SSM")
	return nil
}

// StartupLog returns a startup logger pre-filled from c.
func StartupLog(name string, c *config.Config, initStart time.Time) *logging.StartupLogger {
	return logging.NewStartupLogger(name).
		InitDuration(time.Since(initStart)).
		DynamoTable("records", c.DynamoTable).
		S3Bucket("media", c.MediaBucket).
		SSMParam("geminiKey", c.GeminiKeySSM).
		Endpoint("supabase", c.SupabaseURL).
		Endpoint("redis", c.RedisHostPort()).
		Model("analysis", c.AnalysisModel).
		Model("image", c.ImageModel).
		Feature("queue", c.QueueEnabled()).
		Config("store", c.Store).
		Config("renderConcurrency", fmt.Sprint(c.RenderConcurrency))
}
