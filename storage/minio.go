// Package storage keeps a MinIO copy of every committed master.
package storage

import (
	"context"
	"fmt"
	"path"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/zeebo/errs"

	"labelpanel/config"
	"labelpanel/core/upload"
	"labelpanel/logger"
)

// Error is the class of every storage failure.
var Error = errs.Class("storage")

// MastersPrefix 母带归档目录
const MastersPrefix = "masters/"

// Archive 封装了 MinIO 客户端
type Archive struct {
	client *minio.Client
	bucket string
	region string
}

// NewArchive builds a client from configuration; it does not touch the network.
func NewArchive(cfg *config.Config) (*Archive, error) {
	client, err := minio.New(cfg.MinioEndpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.MinioAccessKey, cfg.MinioSecretKey, ""),
		Secure: cfg.MinioUseSSL,
		Region: cfg.MinioRegion,
	})
	if err != nil {
		return nil, Error.New("创建 MinIO 客户端失败: %v", err)
	}
	return &Archive{client: client, bucket: cfg.MinioBucket, region: cfg.MinioRegion}, nil
}

func (a *Archive) Bucket() string { return a.bucket }

// EnsureBucket 检查存储桶，不存在则创建
func (a *Archive) EnsureBucket(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	exists, err := a.client.BucketExists(ctx, a.bucket)
	if err != nil {
		return Error.Wrap(err)
	}
	if exists {
		logger.Info("存储桶已存在", logger.String("bucket", a.bucket))
		return nil
	}
	if err := a.client.MakeBucket(ctx, a.bucket, minio.MakeBucketOptions{Region: a.region}); err != nil {
		return Error.New("创建存储桶失败: %v", err)
	}
	logger.Info("成功创建存储桶", logger.String("bucket", a.bucket))
	return nil
}

// MasterObjectName is the archive key of a master:
// masters/<release>/<key>_<sanitized file name>.
func MasterObjectName(releaseID int64, key, fileName string) string {
	return path.Join(MastersPrefix, fmt.Sprint(releaseID), key+"_"+upload.SanitizeFileName(fileName))
}

// ArchiveMaster uploads the local file at filePath and returns its object name.
func (a *Archive) ArchiveMaster(ctx context.Context, releaseID int64, key, fileName, filePath string) (string, error) {
	object := MasterObjectName(releaseID, key, fileName)
	info, err := a.client.FPutObject(ctx, a.bucket, object, filePath, minio.PutObjectOptions{
		ContentType: "audio/wav",
	})
	if err != nil {
		return "", Error.New("归档 %s 失败: %v", object, err)
	}
	logger.Info("master archived",
		logger.String("bucket", a.bucket),
		logger.String("object", object),
		logger.Int64("size", info.Size))
	return object, nil
}
