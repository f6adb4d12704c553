package s3

import (
	"context"
	"fmt"
	"io"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/rs/zerolog/log"
	"github.com/tanq16/vidzo/internal/utils"
)

// Source serves an S3 object as byte ranges.
type Source struct {
	client s3API
	bucket string
	key    string
}

func NewSource(client s3API, bucket, key string) *Source {
	return &Source{client: client, bucket: bucket, key: key}
}

func (s *Source) Probe(ctx context.Context) utils.HeadInfo {
	head, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key),
	})
	if err != nil {
		log.Warn().Str("op", "s3/source").Err(err).Str("object", s.Location()).Msg("HEAD probe failed")
		return utils.HeadInfo{TotalSize: -1}
	}
	size := aws.ToInt64(head.ContentLength)
	if size <= 0 {
		return utils.HeadInfo{TotalSize: -1}
	}
	return utils.HeadInfo{TotalSize: size, SupportsRanges: true}
}

func (s *Source) Open(ctx context.Context, start, end int64) (io.ReadCloser, error) {
	input := &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key),
	}
	if start > 0 || end >= 0 {
		input.Range = aws.String(utils.RangeHeader(start, end))
	}
	out, err := s.client.GetObject(ctx, input)
	if err != nil {
		return nil, classify(ctx, "get object", err)
	}
	return out.Body, nil
}

func (s *Source) Location() string {
	return fmt.Sprintf("s3://%s/%s", s.bucket, s.key)
}
