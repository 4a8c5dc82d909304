package render

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrEmptyDocument 标题或摘要为空，无法组装笔记
var ErrEmptyDocument = errors.New("empty notes document")

// Document 笔记文档的输入
type Document struct {
	Title         string
	Summary       string    // Markdown 摘要正文
	TranscriptRef string    // 完整转写的存储定位符（可选，写在文末）
	ProcessedAt   time.Time // 零值时用当前时间
}

// Notes 组装最终的 Markdown 笔记
func Notes(doc Document) (string, error) {
	title := strings.TrimSpace(doc.Title)
	summary := strings.TrimSpace(doc.Summary)
	if title == "" || summary == "" {
		return "", ErrEmptyDocument
	}

	at := doc.ProcessedAt
	if at.IsZero() {
		at = time.Now()
	}

	var b strings.Builder
	fmt.Fprintf(&b, "# %s\n\n", title)
	fmt.Fprintf(&b, "> Конспект сгенерирован автоматически · %s\n\n", at.Format("2006-01-02"))
	b.WriteString(summary)
	b.WriteString("\n")
	if doc.TranscriptRef != "" {
		fmt.Fprintf(&b, "\n---\n\nПолная транскрипция: `%s`\n", doc.TranscriptRef)
	}
	return b.String(), nil
}
