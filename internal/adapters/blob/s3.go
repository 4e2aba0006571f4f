// Package blob содержит хранилища медиафайлов.
package blob

import (
	"bytes"
	"context"
	"fmt"
	"net/url"
	"path"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awscfg "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/google/uuid"

	"chat-core/internal/domain"
)

// S3Config — параметры бакета.
type S3Config struct {
	Region string
	Bucket string
	// Endpoint задает S3-совместимый сервис (например, MinIO). Пустое значение означает AWS.
	Endpoint string
	// PublicBaseURL — базовый адрес, по которому объекты доступны на чтение.
	// Если пусто, используется адрес, который вернул загрузчик.
	PublicBaseURL string
}

type uploader interface {
	Upload(ctx context.Context, input *s3.PutObjectInput, opts ...func(*manager.Uploader)) (*manager.UploadOutput, error)
}

// S3 загружает медиафайлы в бакет S3.
type S3 struct {
	uploader uploader
	cfg      S3Config
	newKey   func() string
}

// NewS3 создает клиент S3 из стандартной цепочки учетных данных AWS.
func NewS3(ctx context.Context, cfg S3Config) (*S3, error) {
	awsConfig, err := awscfg.LoadDefaultConfig(ctx, awscfg.WithRegion(cfg.Region))
	if err != nil {
		return nil, fmt.Errorf("loading aws config: %w", err)
	}

	client := s3.NewFromConfig(awsConfig, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		}
	})
	return &S3{uploader: manager.NewUploader(client), cfg: cfg, newKey: uuid.NewString}, nil
}

// Upload кладет данные в бакет под ключом <kind>/<uuid><ext> и возвращает публичный URL.
func (s *S3) Upload(ctx context.Context, data []byte, kind domain.Kind, fileName string) (domain.Upload, error) {
	if len(data) == 0 {
		return domain.Upload{}, fmt.Errorf("%w: empty payload", domain.ErrUpload)
	}

	key := objectKey(kind, fileName, s.newKey())
	mimeType := DetectMimeType(fileName, data)

	out, err := s.uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.cfg.Bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String(mimeType),
	})
	if err != nil {
		return domain.Upload{}, fmt.Errorf("%w: %v", domain.ErrUpload, err)
	}

	location := out.Location
	if s.cfg.PublicBaseURL != "" {
		location = strings.TrimRight(s.cfg.PublicBaseURL, "/") + "/" + url.PathEscape(key)
	}

	return domain.Upload{
		URL:      location,
		FileName: displayName(fileName, key),
		FileSize: int64(len(data)),
		MimeType: mimeType,
	}, nil
}

func objectKey(kind domain.Kind, fileName, id string) string {
	return strings.ToLower(string(kind)) + "/" + id + strings.ToLower(path.Ext(fileName))
}

func displayName(fileName, key string) string {
	if fileName != "" {
		return path.Base(fileName)
	}
	return path.Base(key)
}
