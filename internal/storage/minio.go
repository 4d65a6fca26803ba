package storage

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"path"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/minio/minio-go/v7/pkg/lifecycle"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"resume-match-go/internal/config"
	"resume-match-go/internal/logger"
	"resume-match-go/internal/tracing"
)

var minioTracer = otel.Tracer("resume-match/storage/minio")

// ObjectStorage 简历原件与规范化文本的归档
type ObjectStorage interface {
	UploadDocument(ctx context.Context, candidateID, fileName string, data []byte) (string, error)
	UploadText(ctx context.Context, candidateID, text string) (string, error)
	DownloadDocument(ctx context.Context, objectName string) ([]byte, error)
	GetText(ctx context.Context, objectName string) (string, error)
}

var _ ObjectStorage = (*MinIO)(nil)

// MinIO 提供对象存储功能
type MinIO struct {
	client          *minio.Client
	cfg             *config.MinIOConfig
	documentsBucket string
	textBucket      string
	logger          zerolog.Logger
}

// NewMinIO 创建MinIO客户端并确保存储桶存在
func NewMinIO(ctx context.Context, cfg *config.MinIOConfig) (*MinIO, error) {
	if cfg == nil {
		return nil, fmt.Errorf("MinIO配置不能为空")
	}

	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("创建MinIO客户端失败: %w", err)
	}

	m := &MinIO{
		client:          client,
		cfg:             cfg,
		documentsBucket: cfg.DocumentsBucket,
		textBucket:      cfg.TextBucket,
		logger:          logger.Named("minio"),
	}
	if m.documentsBucket == "" {
		m.documentsBucket = "resume-documents"
	}
	if m.textBucket == "" {
		m.textBucket = "resume-texts"
	}

	for _, b := range []string{m.documentsBucket, m.textBucket} {
		if err := m.ensureBucketExists(ctx, b, cfg.Location); err != nil {
			return nil, err
		}
	}

	if cfg.DocumentExpireDays > 0 {
		if err := m.setupBucketLifecycle(ctx, m.documentsBucket, "expire-documents", cfg.DocumentExpireDays); err != nil {
			m.logger.Warn().Err(err).Str("bucket", m.documentsBucket).Msg("设置生命周期规则失败")
		}
	}

	m.logger.Info().Str("endpoint", cfg.Endpoint).Msg("MinIO客户端初始化完成")
	return m, nil
}

func (m *MinIO) ensureBucketExists(ctx context.Context, bucketName, location string) error {
	exists, err := m.client.BucketExists(ctx, bucketName)
	if err != nil {
		return fmt.Errorf("检查存储桶 %s 是否存在时出错: %w", bucketName, err)
	}
	if exists {
		return nil
	}
	if err := m.client.MakeBucket(ctx, bucketName, minio.MakeBucketOptions{Region: location}); err != nil {
		return fmt.Errorf("创建存储桶 %s 失败: %w", bucketName, err)
	}
	m.logger.Info().Str("bucket", bucketName).Msg("已创建存储桶")
	return nil
}

func (m *MinIO) setupBucketLifecycle(ctx context.Context, bucketName, ruleID string, expiryDays int) error {
	lc := lifecycle.NewConfiguration()
	lc.Rules = []lifecycle.Rule{
		{
			ID:     ruleID,
			Status: "Enabled",
			Expiration: lifecycle.Expiration{
				Days: lifecycle.ExpirationDays(expiryDays),
			},
		},
	}
	return m.client.SetBucketLifecycle(ctx, bucketName, lc)
}

func (m *MinIO) put(ctx context.Context, bucket, objectName string, r io.Reader, size int64, contentType string) error {
	ctx, span := minioTracer.Start(ctx, "MinIO.PutObject",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("minio.bucket", bucket),
			attribute.String("minio.object", objectName),
			attribute.Int64("minio.size", size),
		))
	defer span.End()

	if _, err := m.client.PutObject(ctx, bucket, objectName, r, size, minio.PutObjectOptions{ContentType: contentType}); err != nil {
		tracing.RecordError(span, err, tracing.ErrorTypeObjectStore)
		return fmt.Errorf("上传对象 %s/%s 失败: %w", bucket, objectName, err)
	}
	return nil
}

func (m *MinIO) get(ctx context.Context, bucket, objectName string) ([]byte, error) {
	ctx, span := minioTracer.Start(ctx, "MinIO.GetObject",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("minio.bucket", bucket),
			attribute.String("minio.object", objectName),
		))
	defer span.End()

	obj, err := m.client.GetObject(ctx, bucket, objectName, minio.GetObjectOptions{})
	if err != nil {
		tracing.RecordError(span, err, tracing.ErrorTypeObjectStore)
		return nil, fmt.Errorf("获取对象 %s/%s 失败: %w", bucket, objectName, err)
	}
	defer obj.Close()

	data, err := io.ReadAll(obj)
	if err != nil {
		tracing.RecordError(span, err, tracing.ErrorTypeObjectStore)
		return nil, fmt.Errorf("读取对象 %s/%s 失败: %w", bucket, objectName, err)
	}
	return data, nil
}

// UploadDocument 上传简历原件，返回对象键
func (m *MinIO) UploadDocument(ctx context.Context, candidateID, fileName string, data []byte) (string, error) {
	objectName := DocumentObjectName(candidateID, fileName)
	if err := m.put(ctx, m.documentsBucket, objectName, bytes.NewReader(data), int64(len(data)), getContentType(path.Ext(fileName))); err != nil {
		return "", err
	}
	return objectName, nil
}

// UploadText 上传规范化后的文本，返回对象键
func (m *MinIO) UploadText(ctx context.Context, candidateID, text string) (string, error) {
	objectName := fmt.Sprintf("resume/%s/text.txt", candidateID)
	if err := m.put(ctx, m.textBucket, objectName, strings.NewReader(text), int64(len(text)), "text/plain; charset=utf-8"); err != nil {
		return "", err
	}
	return objectName, nil
}

// DownloadDocument 下载简历原件
func (m *MinIO) DownloadDocument(ctx context.Context, objectName string) ([]byte, error) {
	return m.get(ctx, m.documentsBucket, objectName)
}

// GetText 读取规范化文本
func (m *MinIO) GetText(ctx context.Context, objectName string) (string, error) {
	data, err := m.get(ctx, m.textBucket, objectName)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// DocumentObjectName 原件的对象键，例如 resume/<id>/original.pdf
func DocumentObjectName(ownerID, fileName string) string {
	return fmt.Sprintf("resume/%s/original%s", ownerID, strings.ToLower(path.Ext(fileName)))
}

func getContentType(ext string) string {
	switch strings.ToLower(ext) {
	case ".pdf":
		return "application/pdf"
	case ".docx":
		return "application/vnd.openxmlformats-officedocument.wordprocessingml.document"
	case ".txt", ".md":
		return "text/plain; charset=utf-8"
	default:
		return "application/octet-stream"
	}
}
