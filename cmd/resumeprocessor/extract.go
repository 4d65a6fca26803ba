package main

import (
	"context"
	"fmt"
	"mime"
	"os"
	"path/filepath"
	"time"

	"resume-match-go/internal/pipeline"
)

type document struct {
	Path string
	Text string
}

// readDocuments 读取文件并提取规整后的文本，失败的文件打印后跳过
func readDocuments(ctx context.Context, p *pipeline.Pipeline, files []string) []document {
	docs := make([]document, 0, len(files))
	for _, path := range files {
		absPath, err := filepath.Abs(path)
		if err != nil {
			fmt.Printf("无法获取文件的绝对路径 %s: %v\n", path, err)
			continue
		}
		data, err := os.ReadFile(absPath)
		if err != nil {
			fmt.Printf("无法读取文件 %s: %v\n", absPath, err)
			continue
		}
		mimeType := mime.TypeByExtension(filepath.Ext(absPath))
		text, err := p.ExtractText(ctx, data, mimeType, filepath.Base(absPath))
		if err != nil {
			fmt.Printf("提取文本失败 %s: %v\n", absPath, err)
			continue
		}
		docs = append(docs, document{Path: absPath, Text: text})
	}
	return docs
}

func runExtract(ctx context.Context, files []string) error {
	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close(ctx)

	start := time.Now()
	docs := readDocuments(ctx, a.Pipeline, files)
	fmt.Printf("提取完成! 耗时: %v, 成功 %d/%d\n", time.Since(start), len(docs), len(files))
	for _, d := range docs {
		fmt.Printf("\n===== %s (总计 %d 字符) =====\n", d.Path, len([]rune(d.Text)))
		fmt.Println(truncateString(d.Text, *maxLen))
	}
	return nil
}
