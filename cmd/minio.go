package cmd

import (
	"context"
	"fmt"
	"log"

	"soundrise/config"
	"soundrise/storage"

	"github.com/minio/minio-go/v7"
	"github.com/spf13/cobra"
)

var (
	minioPrefix string
	minioDelete bool
)

var minioCmd = &cobra.Command{
	Use:   "minio",
	Short: "MinIO存储桶管理",
	Long:  `查看和管理MinIO存储桶中的渲染文件，支持按前缀列出对象、统计大小、删除目录。`,
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Println("开始连接MinIO服务器...")

		cfg := config.Load()
		fmt.Printf("MinIO配置: %s, Bucket: %s\n", cfg.MinioEndpoint, cfg.MinioBucket)

		if err := storage.InitMinio(cfg); err != nil {
			log.Fatalf("无法连接到MinIO: %v", err)
		}
		fmt.Println("MinIO连接成功！")

		client := storage.GetMinioClient()
		ctx := context.Background()

		if minioDelete {
			if minioPrefix == "" {
				log.Fatal("删除操作需要指定对象前缀")
			}
			fmt.Printf("\n删除前缀: %s\n", minioPrefix)
			deleted := 0
			for object := range client.ListObjects(ctx, cfg.MinioBucket,
				minio.ListObjectsOptions{Prefix: minioPrefix, Recursive: true}) {
				if object.Err != nil {
					log.Fatalf("列举对象失败: %v", object.Err)
				}
				if err := client.RemoveObject(ctx, cfg.MinioBucket, object.Key,
					minio.RemoveObjectOptions{}); err != nil {
					log.Fatalf("删除对象失败 %s: %v", object.Key, err)
				}
				deleted++
			}
			fmt.Printf("已删除 %d 个对象\n", deleted)
			return
		}

		var count int
		var totalSize int64
		for object := range client.ListObjects(ctx, cfg.MinioBucket,
			minio.ListObjectsOptions{Prefix: minioPrefix, Recursive: true}) {
			if object.Err != nil {
				log.Fatalf("列举对象失败: %v", object.Err)
			}
			fmt.Printf("  %s (%d bytes)\n", object.Key, object.Size)
			count++
			totalSize += object.Size
		}
		fmt.Printf("\n共 %d 个对象，总大小 %.2f MB\n", count, float64(totalSize)/1024/1024)
	},
}

func init() {
	minioCmd.Flags().StringVarP(&minioPrefix, "prefix", "p", "", "对象前缀，如 tracks/1/")
	minioCmd.Flags().BoolVarP(&minioDelete, "delete", "d", false, "删除指定前缀下的全部对象")
	rootCmd.AddCommand(minioCmd)
}
