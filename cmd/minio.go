package cmd

import (
	"fmt"
	"log"
	"os"

	"github.com/spf13/cobra"

	"labelpanel/storage"
)

var (
	minioPrefix string
	minioDelete bool
)

var minioCmd = &cobra.Command{
	Use:   "minio",
	Short: "母带归档存储桶管理",
	Long:  `查看和管理 MinIO 中归档的母带，支持按前缀列出文件、查看统计信息和目录结构、删除前缀下的全部对象。`,
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Println("开始连接MinIO服务器...")
		fmt.Printf("MinIO配置: %s, Bucket: %s\n", cfg.MinioEndpoint, cfg.MinioBucket)

		archive, err := storage.NewArchive(cfg)
		if err != nil {
			log.Fatalf("创建MinIO客户端失败: %+v", err)
		}
		ctx := cmd.Context()

		if minioDelete {
			if minioPrefix == "" {
				log.Fatal("删除操作需要指定目录前缀")
			}
			fmt.Printf("\n删除前缀: %s\n", minioPrefix)
			n, err := archive.DeletePrefix(ctx, minioPrefix)
			if err != nil {
				log.Fatalf("删除失败: %+v", err)
			}
			fmt.Printf("已删除 %d 个对象\n", n)
			return
		}

		objects, stats, err := archive.List(ctx, minioPrefix)
		if err != nil {
			log.Fatalf("列出文件失败: %+v", err)
		}
		storage.PrintBucketStatus(os.Stdout, archive.Bucket(), minioPrefix, objects, stats)

		fmt.Println("\nMinIO操作完成！")
	},
}

func init() {
	rootCmd.AddCommand(minioCmd)

	minioCmd.Flags().StringVarP(&minioPrefix, "prefix", "p", storage.MastersPrefix, "按前缀过滤文件或指定要删除的目录")
	minioCmd.Flags().BoolVarP(&minioDelete, "delete", "d", false, "删除指定前缀下的所有对象")

	minioCmd.Example = `  # 列出全部归档母带
  labelpanel minio

  # 只看某个 release
  labelpanel minio -p "masters/55/"

  # 删除某个 release 的归档
  labelpanel minio -d -p "masters/55/"`
}
