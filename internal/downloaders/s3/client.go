package s3

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awshttp "github.com/aws/aws-sdk-go-v2/aws/transport/http"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/rs/zerolog/log"
	"github.com/tanq16/vidzo/internal/utils"
)

// s3API is the subset of the S3 client used here.
type s3API interface {
	HeadObject(ctx context.Context, params *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	ListObjectsV2(ctx context.Context, params *s3.ListObjectsV2Input, optFns ...func(*s3.Options)) (*s3.ListObjectsV2Output, error)
}

type s3Object struct {
	Key  string
	Size int64
}

// getS3Client loads the shared AWS config for profile and points the
// client at the bucket's own region.
func getS3Client(ctx context.Context, profile, bucket string) (*s3.Client, error) {
	cfg, err := config.LoadDefaultConfig(ctx,
		config.WithSharedConfigProfile(profile),
		config.WithRetryMode("adaptive"),
	)
	if err != nil {
		return nil, fmt.Errorf("error loading AWS config: %v", err)
	}
	if cfg.Region == "" {
		cfg.Region = "us-east-1"
	}
	region, err := manager.GetBucketRegion(ctx, s3.NewFromConfig(cfg), bucket)
	if err != nil {
		log.Warn().Str("op", "s3/client").Err(err).Str("bucket", bucket).Msg("Could not resolve bucket region, using configured region")
	} else if region != cfg.Region {
		log.Debug().Str("op", "s3/client").Str("bucket", bucket).Str("region", region).Msg("Using bucket region")
		cfg.Region = region
	}
	return s3.NewFromConfig(cfg), nil
}

func getS3ObjectInfo(ctx context.Context, bucket, key string, client s3API) (string, int64, error) {
	if key != "" && !strings.HasSuffix(key, "/") {
		headObj, err := client.HeadObject(ctx, &s3.HeadObjectInput{
			Bucket: aws.String(bucket),
			Key:    aws.String(key),
		})
		if err == nil {
			return "file", aws.ToInt64(headObj.ContentLength), nil
		}
	}

	// Check if it's a folder by listing with prefix
	result, err := client.ListObjectsV2(ctx, &s3.ListObjectsV2Input{
		Bucket:  aws.String(bucket),
		Prefix:  aws.String(key),
		MaxKeys: aws.Int32(1),
	})
	if err != nil {
		return "", 0, fmt.Errorf("error accessing S3 object: %w", classify(ctx, "list objects", err))
	}
	if len(result.Contents) > 0 || len(result.CommonPrefixes) > 0 {
		return "folder", -1, nil
	}
	return "", 0, fmt.Errorf("S3 object not found")
}

func listS3Objects(ctx context.Context, bucket, prefix string, client s3API) ([]s3Object, error) {
	var objects []s3Object
	paginator := s3.NewListObjectsV2Paginator(client, &s3.ListObjectsV2Input{
		Bucket: aws.String(bucket),
		Prefix: aws.String(prefix),
	})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("error listing objects: %w", classify(ctx, "list objects", err))
		}
		for _, obj := range page.Contents {
			if obj.Key == nil || obj.Size == nil {
				continue
			}
			// Skip directories (0-byte objects ending with /)
			if *obj.Size == 0 && strings.HasSuffix(*obj.Key, "/") {
				continue
			}
			objects = append(objects, s3Object{Key: *obj.Key, Size: *obj.Size})
		}
	}
	return objects, nil
}

// classify maps SDK failures onto download error kinds using the HTTP
// status of the service response when there is one.
func classify(ctx context.Context, op string, err error) *utils.DownloadError {
	var respErr *awshttp.ResponseError
	if errors.As(err, &respErr) {
		de := utils.ClassifyStatus(op, respErr.HTTPStatusCode())
		de.Err = err
		return de
	}
	return utils.ClassifyTransport(ctx, op, err)
}

func parseS3URL(url string) (string, string, error) {
	if !strings.HasPrefix(url, "s3://") {
		return "", "", fmt.Errorf("invalid S3 URL format, expected s3://bucket/key")
	}
	url = strings.TrimPrefix(url, "s3://")
	parts := strings.SplitN(url, "/", 2)
	if parts[0] == "" {
		return "", "", fmt.Errorf("invalid S3 URL format")
	}
	bucket := parts[0]
	key := ""
	if len(parts) > 1 {
		key = parts[1]
	}
	return bucket, key, nil
}
