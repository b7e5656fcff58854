package storage

import (
	"context"
	"fmt"
	"io"
	"path"
	"sort"
	"strings"
	"time"

	"github.com/minio/minio-go/v7"

	"labelpanel/logger"
)

// BucketStats 存储桶统计信息
type BucketStats struct {
	TotalObjects int64
	TotalSize    int64
	LastModified time.Time
	ByType       map[string]int64
}

// ObjectInfo 文件信息
type ObjectInfo struct {
	Key          string
	Size         int64
	LastModified time.Time
	ContentType  string
}

// List 列出存储桶中的对象并汇总统计
func (a *Archive) List(ctx context.Context, prefix string) ([]ObjectInfo, *BucketStats, error) {
	stats := &BucketStats{ByType: make(map[string]int64)}
	var objects []ObjectInfo

	objectCh := a.client.ListObjects(ctx, a.bucket, minio.ListObjectsOptions{
		Prefix:    prefix,
		Recursive: true,
	})
	for object := range objectCh {
		if object.Err != nil {
			return nil, nil, Error.New("列出对象时出错: %v", object.Err)
		}
		stats.add(object.Key, object.Size, object.LastModified)
		objects = append(objects, ObjectInfo{
			Key:          object.Key,
			Size:         object.Size,
			LastModified: object.LastModified,
			ContentType:  object.ContentType,
		})
	}
	return objects, stats, nil
}

func (s *BucketStats) add(key string, size int64, modified time.Time) {
	s.TotalObjects++
	s.TotalSize += size
	if modified.After(s.LastModified) {
		s.LastModified = modified
	}
	s.ByType[inferContentType(key)] += size
}

// DeletePrefix 递归删除目录，返回删除的对象数
func (a *Archive) DeletePrefix(ctx context.Context, prefix string) (int, error) {
	if strings.Trim(prefix, "/") == "" {
		return 0, Error.New("删除操作需要指定目录前缀")
	}

	objects, _, err := a.List(ctx, prefix)
	if err != nil {
		return 0, err
	}
	if len(objects) == 0 {
		return 0, nil
	}

	objectsCh := make(chan minio.ObjectInfo, len(objects))
	for _, obj := range objects {
		objectsCh <- minio.ObjectInfo{Key: obj.Key}
	}
	close(objectsCh)

	var group []error
	for rmErr := range a.client.RemoveObjects(ctx, a.bucket, objectsCh, minio.RemoveObjectsOptions{}) {
		if rmErr.Err != nil {
			logger.Warn("删除对象失败",
				logger.String("object", rmErr.ObjectName),
				logger.ErrorField(rmErr.Err))
			group = append(group, fmt.Errorf("%s: %w", rmErr.ObjectName, rmErr.Err))
		}
	}
	if len(group) > 0 {
		return len(objects) - len(group), Error.New("删除 %d 个对象失败: %v", len(group), group[0])
	}
	return len(objects), nil
}

// PrintBucketStatus 打印存储桶状态
func PrintBucketStatus(w io.Writer, bucket, prefix string, objects []ObjectInfo, stats *BucketStats) {
	fmt.Fprintf(w, "存储桶: %s\n", bucket)
	fmt.Fprintf(w, "前缀过滤: %s\n", prefix)
	fmt.Fprintf(w, "总文件数: %d\n", stats.TotalObjects)
	fmt.Fprintf(w, "总存储大小: %s\n", formatSize(stats.TotalSize))
	if !stats.LastModified.IsZero() {
		fmt.Fprintf(w, "最后更新时间: %s\n", stats.LastModified.Format("2006-01-02 15:04:05"))
	}

	types := make([]string, 0, len(stats.ByType))
	for t := range stats.ByType {
		types = append(types, t)
	}
	sort.Strings(types)
	for _, t := range types {
		fmt.Fprintf(w, "  %s: %s\n", t, formatSize(stats.ByType[t]))
	}

	fmt.Fprintln(w, "\n目录结构:")
	printDirectoryStructure(w, objects)
}

// printDirectoryStructure 按目录分组打印文件
func printDirectoryStructure(w io.Writer, objects []ObjectInfo) {
	byDir := make(map[string][]ObjectInfo)
	for _, obj := range objects {
		dir := path.Dir(obj.Key)
		byDir[dir] = append(byDir[dir], obj)
	}

	dirs := make([]string, 0, len(byDir))
	for dir := range byDir {
		dirs = append(dirs, dir)
	}
	sort.Strings(dirs)

	for _, dir := range dirs {
		indent := ""
		if dir != "." {
			indent = strings.Repeat("  ", strings.Count(dir, "/"))
			fmt.Fprintf(w, "%s📁 %s/\n", indent, dir)
			indent += "  "
		}
		for _, obj := range byDir[dir] {
			fmt.Fprintf(w, "%s📄 %s (%s)\n", indent, path.Base(obj.Key), formatSize(obj.Size))
		}
	}
}

// formatSize 格式化文件大小
func formatSize(size int64) string {
	const unit = 1024
	if size < unit {
		return fmt.Sprintf("%d B", size)
	}
	div, exp := int64(unit), 0
	for n := size / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB", float64(size)/float64(div), "KMGTPE"[exp])
}

// inferContentType 从文件名推断内容类型
func inferContentType(filename string) string {
	switch strings.ToLower(path.Ext(filename)) {
	case ".wav", ".wave", ".mp3", ".flac":
		return "audio"
	case ".jpg", ".jpeg", ".png", ".webp":
		return "image"
	case ".pdf":
		return "document"
	default:
		return "other"
	}
}
