package notifier

import (
	"strings"
	"time"

	"perpbot/internal/pkg/text"
)

const maxMessageRunes = 3800

// MessageSection 表示通知中的一个段落。
type MessageSection struct {
	Title string
	Lines []string
}

// Message 描述统一格式的推送：标题、若干段落与时间戳。
type Message struct {
	Icon      string
	Title     string
	Sections  []MessageSection
	Timestamp time.Time
}

// Markdown 生成 Markdown 文本，段落放入代码块，超长时按字符裁剪。
func (m Message) Markdown() string {
	var b strings.Builder
	if header := strings.TrimSpace(m.Icon + " " + m.Title); header != "" {
		b.WriteString(header + "\n\n")
	}
	var body strings.Builder
	for _, sec := range m.Sections {
		lines := nonEmpty(sec.Lines)
		if len(lines) == 0 {
			continue
		}
		if body.Len() > 0 {
			body.WriteString("\n")
		}
		if title := strings.TrimSpace(sec.Title); title != "" {
			body.WriteString(escapeFence(title) + "\n")
		}
		for _, line := range lines {
			body.WriteString("- " + escapeFence(line) + "\n")
		}
	}
	if body.Len() > 0 {
		b.WriteString("```\n" + body.String() + "```\n")
	}
	if !m.Timestamp.IsZero() {
		b.WriteString("时间：" + m.Timestamp.UTC().Format("2006-01-02 15:04:05 MST"))
	}
	return text.Truncate(strings.TrimSpace(b.String()), maxMessageRunes)
}

func nonEmpty(lines []string) []string {
	out := make([]string, 0, len(lines))
	for _, line := range lines {
		if s := strings.TrimSpace(line); s != "" {
			out = append(out, s)
		}
	}
	return out
}

func escapeFence(s string) string {
	return strings.ReplaceAll(s, "```", "'''")
}
