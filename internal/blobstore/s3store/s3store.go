// Пакет s3store — хранилище содержимого в S3-совместимом объектном
// хранилище (MinIO, AWS S3) через aws-sdk-go-v2.
package s3store

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/bigkaa/goartstore/document-module/internal/blobstore"
)

// Options — параметры подключения к S3.
type Options struct {
	Endpoint     string
	Region       string
	Bucket       string
	AccessKey    string
	SecretKey    string
	UsePathStyle bool
}

// Store — содержимое версий в bucket S3.
type Store struct {
	client    *s3.Client
	presigner *s3.PresignClient
	bucket    string
}

// New создаёт клиент S3 со статическими учётными данными.
func New(ctx context.Context, opts Options) (*Store, error) {
	cfg, err := config.LoadDefaultConfig(ctx,
		config.WithRegion(opts.Region),
		config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(opts.AccessKey, opts.SecretKey, ""),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("ошибка загрузки конфигурации AWS SDK: %w", err)
	}

	client := s3.NewFromConfig(cfg, func(o *s3.Options) {
		if opts.Endpoint != "" {
			o.BaseEndpoint = aws.String(opts.Endpoint)
		}
		o.UsePathStyle = opts.UsePathStyle
	})

	return &Store{
		client:    client,
		presigner: s3.NewPresignClient(client),
		bucket:    opts.Bucket,
	}, nil
}

// Put записывает содержимое в bucket.
// Поток сначала буферизуется во временный файл с подсчётом SHA-256:
// подпись запроса S3 требует известной длины и перематываемого тела.
func (s *Store) Put(ctx context.Context, r io.Reader, in blobstore.PutInput) (*blobstore.PutResult, error) {
	tmp, err := os.CreateTemp("", "dm-upload-*")
	if err != nil {
		return nil, fmt.Errorf("ошибка создания временного файла: %w", err)
	}
	defer func() {
		tmp.Close()
		os.Remove(tmp.Name())
	}()

	hasher := sha256.New()
	size, err := io.Copy(tmp, io.TeeReader(r, hasher))
	if err != nil {
		return nil, fmt.Errorf("ошибка буферизации данных: %w", err)
	}
	if _, err := tmp.Seek(0, io.SeekStart); err != nil {
		return nil, fmt.Errorf("ошибка перемотки временного файла: %w", err)
	}

	location := blobstore.NewLocation(in.FileName)
	contentType := in.ContentType
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	_, err = s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(s.bucket),
		Key:           aws.String(location),
		Body:          tmp,
		ContentLength: aws.Int64(size),
		ContentType:   aws.String(contentType),
	})
	if err != nil {
		return nil, fmt.Errorf("ошибка записи объекта %s: %w", location, err)
	}

	return &blobstore.PutResult{
		Location: location,
		Size:     size,
		Checksum: hex.EncodeToString(hasher.Sum(nil)),
	}, nil
}

// Get открывает объект для чтения.
func (s *Store) Get(ctx context.Context, location string) (io.ReadCloser, error) {
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(location),
	})
	if err != nil {
		var nsk *types.NoSuchKey
		if errors.As(err, &nsk) {
			return nil, fmt.Errorf("%w: %s", blobstore.ErrNotFound, location)
		}
		return nil, fmt.Errorf("ошибка чтения объекта %s: %w", location, err)
	}
	return out.Body, nil
}

// PresignedURL возвращает presigned GET URL объекта.
func (s *Store) PresignedURL(ctx context.Context, location string, ttl time.Duration) (string, error) {
	req, err := s.presigner.PresignGetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(location),
	}, s3.WithPresignExpires(ttl))
	if err != nil {
		return "", fmt.Errorf("ошибка подписи ссылки %s: %w", location, err)
	}
	return req.URL, nil
}

// Delete удаляет объект. S3 не сообщает об ошибке для отсутствующего ключа.
func (s *Store) Delete(ctx context.Context, location string) error {
	_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(location),
	})
	if err != nil {
		return fmt.Errorf("ошибка удаления объекта %s: %w", location, err)
	}
	return nil
}

// CheckReady проверяет доступность bucket через HeadBucket.
func (s *Store) CheckReady() (status, message string) {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	if _, err := s.client.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(s.bucket)}); err != nil {
		return "fail", fmt.Sprintf("bucket %s недоступен: %v", s.bucket, err)
	}
	return "ok", fmt.Sprintf("bucket %s доступен", s.bucket)
}

var _ blobstore.Store = (*Store)(nil)
