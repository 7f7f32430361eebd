package cas

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"

	tcfserrors "github.com/tcfs-dev/tcfs/internal/errors"
)

// S3Store is the production CAS backend: any S3-compatible bucket
// reached through the aws-sdk-go-v2 client, wrapped with the retry
// policy and on-read integrity check from spec section 4.3.
type S3Store struct {
	client *s3.Client
	bucket string
	retry  RetryPolicy
}

// NewS3Store wraps an already-configured s3.Client. Endpoint, region,
// and credential resolution belong to the caller (openStore in cmd/tcfsd),
// since those vary by deployment (MinIO, AWS, Backblaze B2, and so on).
func NewS3Store(client *s3.Client, bucket string) *S3Store {
	return &S3Store{client: client, bucket: bucket, retry: DefaultRetryPolicy()}
}

func (s *S3Store) Put(ctx context.Context, key string, data []byte) error {
	exists, err := s.Exists(ctx, key)
	if err != nil {
		return err
	}
	if exists {
		// Content-addressed keys are put once; a matching key already
		// carries the same bytes by construction (spec section 4.3).
		return nil
	}

	return withRetry(ctx, s.retry, func() error {
		_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
			Bucket: aws.String(s.bucket),
			Key:    aws.String(key),
			Body:   bytes.NewReader(data),
		})
		return classifyS3Error("put", key, err)
	})
}

// Overwrite unconditionally replaces key's content, for the one
// mutable key in the layout (the device registry).
func (s *S3Store) Overwrite(ctx context.Context, key string, data []byte) error {
	return withRetry(ctx, s.retry, func() error {
		_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
			Bucket: aws.String(s.bucket),
			Key:    aws.String(key),
			Body:   bytes.NewReader(data),
		})
		return classifyS3Error("put", key, err)
	})
}

func (s *S3Store) Get(ctx context.Context, key string) ([]byte, error) {
	var body []byte
	err := withRetry(ctx, s.retry, func() error {
		out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
			Bucket: aws.String(s.bucket),
			Key:    aws.String(key),
		})
		if err != nil {
			return classifyS3Error("get", key, err)
		}
		defer out.Body.Close()
		b, readErr := io.ReadAll(out.Body)
		if readErr != nil {
			return tcfserrors.Wrap(tcfserrors.KindTransport, "read object body", readErr)
		}
		body = b
		return nil
	})
	if err != nil {
		return nil, err
	}

	if hash, ok := chunkHashFromKey(key); ok {
		if err := verifyChunkIntegrity(hash, body); err != nil {
			return nil, err
		}
	}
	return body, nil
}

func (s *S3Store) Exists(ctx context.Context, key string) (bool, error) {
	var found bool
	err := withRetry(ctx, s.retry, func() error {
		_, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{
			Bucket: aws.String(s.bucket),
			Key:    aws.String(key),
		})
		if err == nil {
			found = true
			return nil
		}
		classified := classifyS3Error("head", key, err)
		if tcfserrors.KindOf(classified) == tcfserrors.KindNotFound {
			found = false
			return nil
		}
		return classified
	})
	return found, err
}

// Delete removes key unconditionally. Used only by the chunk GC tool.
func (s *S3Store) Delete(ctx context.Context, key string) error {
	return withRetry(ctx, s.retry, func() error {
		_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
			Bucket: aws.String(s.bucket),
			Key:    aws.String(key),
		})
		return classifyS3Error("delete", key, err)
	})
}

func (s *S3Store) List(ctx context.Context, prefix string) ([]string, error) {
	var keys []string
	err := withRetry(ctx, s.retry, func() error {
		keys = keys[:0]
		var continuation *string
		for {
			out, err := s.client.ListObjectsV2(ctx, &s3.ListObjectsV2Input{
				Bucket:            aws.String(s.bucket),
				Prefix:            aws.String(prefix),
				ContinuationToken: continuation,
			})
			if err != nil {
				return classifyS3Error("list", prefix, err)
			}
			for _, obj := range out.Contents {
				keys = append(keys, aws.ToString(obj.Key))
			}
			if !aws.ToBool(out.IsTruncated) {
				return nil
			}
			continuation = out.NextContinuationToken
		}
	})
	return keys, err
}

// chunkHashFromKey extracts the expected hex hash from a "{prefix}/chunks/{hex}"
// key; manifest and registry keys return ok=false since they carry no
// content-address to verify against.
func chunkHashFromKey(key string) (string, bool) {
	idx := strings.LastIndex(key, "/chunks/")
	if idx < 0 {
		return "", false
	}
	return key[idx+len("/chunks/"):], true
}

// classifyS3Error maps AWS SDK errors onto the error taxonomy from
// spec section 7: missing objects are NotFound (never retried),
// everything else from the network/service layer is Transport
// (retryable), matching spec section 4.3's retry policy.
func classifyS3Error(op, key string, err error) error {
	if err == nil {
		return nil
	}

	var nsk *types.NoSuchKey
	if errors.As(err, &nsk) {
		return tcfserrors.Wrap(tcfserrors.KindNotFound, op+" "+key, err)
	}
	var nf *types.NotFound
	if errors.As(err, &nf) {
		return tcfserrors.Wrap(tcfserrors.KindNotFound, op+" "+key, err)
	}

	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "NoSuchKey", "NotFound":
			return tcfserrors.Wrap(tcfserrors.KindNotFound, op+" "+key, err)
		case "AccessDenied", "InvalidAccessKeyId", "SignatureDoesNotMatch":
			return tcfserrors.Wrap(tcfserrors.KindConfig, op+" "+key, err)
		}
	}

	return tcfserrors.Wrap(tcfserrors.KindTransport, op+" "+key, err)
}
