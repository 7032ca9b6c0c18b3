package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"path"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/any-hub/nuget-hub/internal/config"
	"github.com/any-hub/nuget-hub/internal/packages"
	"github.com/any-hub/nuget-hub/internal/versioning"
)

// objectAPI 是 s3Store 用到的 *s3.Client 方法子集。
type objectAPI interface {
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	GetObject(ctx context.Context, in *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	HeadObject(ctx context.Context, in *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
	DeleteObject(ctx context.Context, in *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
}

var loadDefaultAWSConfig = awsconfig.LoadDefaultConfig

type s3Store struct {
	client objectAPI
	bucket string
	prefix string
}

// NewS3Store 连接 S3 兼容存储。配置了 Endpoint 时使用 path-style 访问（MinIO 等）。
func NewS3Store(ctx context.Context, cfg config.StorageConfig) (Store, error) {
	opts := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(cfg.Region)}
	if cfg.AccessKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, ""),
		))
	}
	awsCfg, err := loadDefaultAWSConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		}
	})
	return newS3Store(client, cfg.Bucket, cfg.Prefix), nil
}

func newS3Store(client objectAPI, bucket, prefix string) *s3Store {
	return &s3Store{client: client, bucket: bucket, prefix: prefix}
}

func (s *s3Store) key(id string, version versioning.Version) string {
	return path.Join(s.prefix, PackagePath(id, version))
}

// Put 先读入内存再上传：SDK 在非 TLS 端点上需要可 Seek 的 Body 计算签名与校验和。
func (s *s3Store) Put(ctx context.Context, id string, version versioning.Version, body io.Reader) error {
	var buf bytes.Buffer
	if _, err := copyWithContext(ctx, &buf, body); err != nil {
		return err
	}
	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(s.bucket),
		Key:           aws.String(s.key(id, version)),
		Body:          bytes.NewReader(buf.Bytes()),
		ContentLength: aws.Int64(int64(buf.Len())),
		ContentType:   aws.String("application/octet-stream"),
	})
	if err != nil {
		return fmt.Errorf("s3 put %s: %w", s.key(id, version), err)
	}
	return nil
}

func (s *s3Store) Get(ctx context.Context, id string, version versioning.Version) (io.ReadCloser, error) {
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key(id, version)),
	})
	if err != nil {
		if isMissingObject(err) {
			return nil, packages.ErrNotFound
		}
		return nil, fmt.Errorf("s3 get %s: %w", s.key(id, version), err)
	}
	return out.Body, nil
}

// Delete 通过 HeadObject 判断对象是否存在，S3 的 DeleteObject 本身对缺失对象也返回成功。
func (s *s3Store) Delete(ctx context.Context, id string, version versioning.Version) (bool, error) {
	key := s.key(id, version)
	if _, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	}); err != nil {
		if isMissingObject(err) {
			return false, nil
		}
		return false, fmt.Errorf("s3 head %s: %w", key, err)
	}
	if _, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	}); err != nil {
		return false, fmt.Errorf("s3 delete %s: %w", key, err)
	}
	return true, nil
}

func isMissingObject(err error) bool {
	var noSuchKey *types.NoSuchKey
	var notFound *types.NotFound
	return errors.As(err, &noSuchKey) || errors.As(err, &notFound)
}
