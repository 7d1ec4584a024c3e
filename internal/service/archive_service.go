package service

import (
	"bytes"
	"context"
	"fmt"

	"selfinsight_backend/internal/config"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// ArchiveService 把已确认提交的原始载荷存进对象存储，留档用，
// 失败只记日志不影响提交结果
type ArchiveService struct {
	cfg    *config.StorageConfig
	client *minio.Client
}

func NewArchiveService(cfg *config.StorageConfig) (*ArchiveService, error) {
	client, err := minio.New(cfg.MinioEndpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.MinioAccessID, cfg.MinioSecret, ""),
		Secure: false,
	})
	if err != nil {
		return nil, err
	}
	return &ArchiveService{cfg: cfg, client: client}, nil
}

func (s *ArchiveService) ArchivePayload(ctx context.Context, submissionID string, blob []byte) error {
	objectName := fmt.Sprintf("submissions/%s.json", submissionID)
	_, err := s.client.PutObject(ctx, s.cfg.MinioBucket, objectName,
		bytes.NewReader(blob), int64(len(blob)),
		minio.PutObjectOptions{ContentType: "application/json"})
	return err
}
