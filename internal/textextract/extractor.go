// Package textextract 把上传的简历文件（PDF、DOCX、纯文本）转换为规整后的纯文本。
package textextract

import (
	"bytes"
	"context"
	"fmt"
	"html"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/cloudwego/eino-ext/components/document/parser/pdf"
	einoParser "github.com/cloudwego/eino/components/document/parser"
	"github.com/nguyenthenguyen/docx"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"resume-match-go/internal/errs"
	"resume-match-go/internal/logger"
	"resume-match-go/internal/textnorm"
	"resume-match-go/internal/tracing"
)

// Format 文档格式
type Format string

const (
	FormatPDF     Format = "pdf"
	FormatDOCX    Format = "docx"
	FormatText    Format = "text"
	FormatUnknown Format = "unknown"
)

const (
	mimePDF  = "application/pdf"
	mimeDOCX = "application/vnd.openxmlformats-officedocument.wordprocessingml.document"
)

// DefaultParseTimeout 单个 PDF 的解析超时
const DefaultParseTimeout = 30 * time.Second

// DetectFormat 先按 MIME 类型判断，无法判断时按文件扩展名
func DetectFormat(mimeType, fileName string) Format {
	mt := strings.ToLower(strings.TrimSpace(mimeType))
	if i := strings.IndexByte(mt, ';'); i >= 0 {
		mt = strings.TrimSpace(mt[:i])
	}
	switch {
	case mt == mimePDF:
		return FormatPDF
	case mt == mimeDOCX:
		return FormatDOCX
	case mt == "text/plain" || mt == "text/markdown":
		return FormatText
	}
	switch strings.ToLower(filepath.Ext(fileName)) {
	case ".pdf":
		return FormatPDF
	case ".docx":
		return FormatDOCX
	case ".txt", ".md", ".text":
		return FormatText
	}
	return FormatUnknown
}

// Extractor 文档文本提取器，可并发使用
type Extractor struct {
	pdf     einoParser.Parser
	timeout time.Duration
	logger  zerolog.Logger
}

// Option 提取器配置项
type Option func(*Extractor)

// WithPDFParser 替换 PDF 解析器
func WithPDFParser(p einoParser.Parser) Option {
	return func(e *Extractor) { e.pdf = p }
}

// WithTimeout 设置 PDF 解析超时
func WithTimeout(d time.Duration) Option {
	return func(e *Extractor) {
		if d > 0 {
			e.timeout = d
		}
	}
}

// WithLogger 设置日志器
func WithLogger(l zerolog.Logger) Option {
	return func(e *Extractor) { e.logger = l }
}

// New 创建提取器。默认 PDF 解析器不按页面分割，得到整个文档的连续文本。
func New(ctx context.Context, opts ...Option) (*Extractor, error) {
	e := &Extractor{
		timeout: DefaultParseTimeout,
		logger:  logger.Named("textextract"),
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.pdf == nil {
		p, err := pdf.NewPDFParser(ctx, &pdf.Config{ToPages: false})
		if err != nil {
			return nil, fmt.Errorf("创建 PDF 解析器失败: %w", err)
		}
		e.pdf = p
	}
	return e, nil
}

// Extract 提取并规整文档文本。格式不支持、解析失败或文本过短时返回 TextExtractionError。
func (e *Extractor) Extract(ctx context.Context, data []byte, mimeType, fileName string) (string, error) {
	format := DetectFormat(mimeType, fileName)
	ctx, span := tracing.Tracer().Start(ctx, "textextract.Extract", trace.WithAttributes(
		attribute.String("document.format", string(format)),
		attribute.Int("document.size", len(data)),
	))
	defer span.End()

	start := time.Now()
	var (
		raw string
		err error
	)
	switch format {
	case FormatPDF:
		raw, err = e.extractPDF(ctx, data, fileName)
	case FormatDOCX:
		raw, err = extractDOCX(data)
	case FormatText:
		raw = string(bytes.ToValidUTF8(data, nil))
	default:
		err = fmt.Errorf("不支持的文件格式 (mime=%q)", mimeType)
	}
	if err != nil {
		err = errs.NewTextExtractionError(fileName, "无法读取文档", err)
		tracing.RecordError(span, err, tracing.ErrorTypeParse)
		e.logger.Warn().Err(err).Str("file", fileName).Str("format", string(format)).Msg("文档解析失败")
		return "", err
	}

	text := textnorm.Normalize(raw)
	if err := textnorm.Validate(text); err != nil {
		err = errs.NewTextExtractionError(fileName, fmt.Sprintf("文本过短 (%d 字符)", len([]rune(text))), err)
		tracing.RecordError(span, err, tracing.ErrorTypeValidation)
		return "", err
	}

	span.SetAttributes(attribute.Int("document.text_length", len(text)))
	e.logger.Info().
		Str("file", fileName).
		Str("format", string(format)).
		Int("chars", len([]rune(text))).
		Dur("duration", time.Since(start)).
		Msg("文档文本提取完成")
	return text, nil
}

func (e *Extractor) extractPDF(ctx context.Context, data []byte, uri string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	docs, err := e.pdf.Parse(ctx, bytes.NewReader(data), einoParser.WithURI(uri))
	if err != nil {
		return "", fmt.Errorf("PDF 解析失败: %w", err)
	}
	if len(docs) == 0 {
		return "", fmt.Errorf("PDF 解析无结果")
	}
	var sb strings.Builder
	for i, doc := range docs {
		if doc == nil {
			continue
		}
		if i > 0 {
			sb.WriteString("\n\n")
		}
		sb.WriteString(doc.Content)
	}
	return sb.String(), nil
}

var (
	docxParagraphEnd = regexp.MustCompile(`</w:p>|<w:br\s*/>|<w:cr\s*/>`)
	docxTab          = regexp.MustCompile(`<w:tab\s*/>`)
	xmlTag           = regexp.MustCompile(`<[^>]*>`)
)

// extractDOCX 读取 word/document.xml 并去掉 XML 标签，段落转换为换行
func extractDOCX(data []byte) (string, error) {
	doc, err := docx.ReadDocxFromMemory(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", fmt.Errorf("DOCX 解析失败: %w", err)
	}
	defer doc.Close()

	content := doc.Editable().GetContent()
	content = docxParagraphEnd.ReplaceAllString(content, "\n")
	content = docxTab.ReplaceAllString(content, "\t")
	content = xmlTag.ReplaceAllString(content, "")
	return html.UnescapeString(content), nil
}
