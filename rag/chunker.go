package rag

import (
	"strings"

	"go.uber.org/zap"
)

// ChunkerConfig 切分配置
type ChunkerConfig struct {
	// ChunkSize 目标块大小（字符）
	ChunkSize int `json:"chunk_size"`
	// ChunkOverlap 相邻块重叠（字符）
	ChunkOverlap int `json:"chunk_overlap"`
	// SectionMaxSize 章节超过该大小后按窗口切分
	SectionMaxSize int `json:"section_max_size"`
}

// DefaultChunkerConfig 默认切分配置
func DefaultChunkerConfig() ChunkerConfig {
	return ChunkerConfig{
		ChunkSize:      1500,
		ChunkOverlap:   200,
		SectionMaxSize: 2000,
	}
}

// Chunker 标题感知的文档切分器。
// 不超过 ChunkSize 的文档整篇作为一个块；更长的文档按 Markdown
// 标题划分章节并维护标题栈，块文本以从文档根到所在章节的标题链
// 为前缀，嵌入向量因此携带章节语境；超长章节退化为句子边界感知
// 的滑动窗口。
type Chunker struct {
	config ChunkerConfig
	logger *zap.Logger
}

// NewChunker 创建文档切分器
func NewChunker(config ChunkerConfig, logger *zap.Logger) *Chunker {
	if config.ChunkSize <= 0 {
		config.ChunkSize = 1500
	}
	if config.ChunkOverlap < 0 || config.ChunkOverlap >= config.ChunkSize {
		config.ChunkOverlap = 200
	}
	if config.SectionMaxSize <= 0 {
		config.SectionMaxSize = 2000
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Chunker{
		config: config,
		logger: logger.With(zap.String("component", "chunker")),
	}
}

// section 标题划分出的一个章节
type section struct {
	headingPath string
	content     string
}

// Chunk 切分单个文档
func (c *Chunker) Chunk(doc Document) []Chunk {
	// 短文档整篇作为一个块，不做标题切分
	whole := strings.TrimSpace(doc.Content)
	if whole == "" {
		return nil
	}
	if len([]rune(whole)) <= c.config.ChunkSize {
		return c.finalize(doc, []Chunk{{
			Content:     whole,
			SourceID:    doc.ID,
			SourceTitle: doc.Title,
		}})
	}

	var chunks []Chunk
	for _, sec := range c.splitSections(doc.Content) {
		text := strings.TrimSpace(sec.content)
		if text == "" {
			continue
		}

		if len([]rune(text)) <= c.config.SectionMaxSize {
			chunks = append(chunks, Chunk{
				Content:     withHeadingPath(sec.headingPath, text),
				HeadingPath: sec.headingPath,
				SourceID:    doc.ID,
				SourceTitle: doc.Title,
			})
			continue
		}

		// 超长章节退化为滑动窗口
		for _, window := range c.slidingWindow(text) {
			chunks = append(chunks, Chunk{
				Content:     withHeadingPath(sec.headingPath, window),
				HeadingPath: sec.headingPath,
				SourceID:    doc.ID,
				SourceTitle: doc.Title,
			})
		}
	}

	return c.finalize(doc, chunks)
}

// finalize 回填块序号与元数据
func (c *Chunker) finalize(doc Document, chunks []Chunk) []Chunk {
	for i := range chunks {
		chunks[i].ChunkIndex = i
		chunks[i].TotalChunks = len(chunks)
		chunks[i].Metadata = map[string]any{
			"source_id":    doc.ID,
			"source_title": doc.Title,
			"heading_path": chunks[i].HeadingPath,
			"chunk_index":  i,
			"total_chunks": len(chunks),
		}
		if doc.SourceURL != "" {
			chunks[i].Metadata["source_url"] = doc.SourceURL
		}
		for k, v := range doc.Metadata {
			chunks[i].Metadata[k] = v
		}
	}

	c.logger.Debug("document chunked",
		zap.String("doc_id", doc.ID),
		zap.Int("chunks", len(chunks)))

	return chunks
}

// withHeadingPath 把标题链前置进块文本，让嵌入向量携带章节语境
func withHeadingPath(path, text string) string {
	if path == "" {
		return text
	}
	return path + "\n\n" + text
}

// ChunkAll 切分一批文档
func (c *Chunker) ChunkAll(docs []Document) []Chunk {
	var all []Chunk
	for _, doc := range docs {
		all = append(all, c.Chunk(doc)...)
	}
	return all
}

// splitSections 按 Markdown 标题切分章节，维护标题栈。
// 遇到 N 级标题时弹出栈中所有 >= N 级的标题再入栈，
// 章节路径为栈内标题用 " > " 连接。
func (c *Chunker) splitSections(content string) []section {
	type stackEntry struct {
		level int
		title string
	}

	var (
		sections []section
		stack    []stackEntry
		current  strings.Builder
	)

	flush := func() {
		if strings.TrimSpace(current.String()) == "" {
			current.Reset()
			return
		}
		titles := make([]string, len(stack))
		for i, e := range stack {
			titles[i] = e.title
		}
		sections = append(sections, section{
			headingPath: strings.Join(titles, " > "),
			content:     current.String(),
		})
		current.Reset()
	}

	for _, line := range strings.Split(content, "\n") {
		title, level := parseMarkdownHeading(line)
		if level == 0 {
			current.WriteString(line)
			current.WriteString("\n")
			continue
		}

		flush()

		// 弹出同级及更深的标题
		for len(stack) > 0 && stack[len(stack)-1].level >= level {
			stack = stack[:len(stack)-1]
		}
		stack = append(stack, stackEntry{level: level, title: title})
	}
	flush()

	return sections
}

// slidingWindow 句子边界感知的滑动窗口切分。
// 窗口末尾优先落在后半段最近的句号处；步进时保证
// 下一个起点至少前进一个字符，避免重叠参数导致死循环。
func (c *Chunker) slidingWindow(text string) []string {
	runes := []rune(text)
	size := c.config.ChunkSize
	overlap := c.config.ChunkOverlap

	var windows []string
	start := 0
	for start < len(runes) {
		end := start + size
		if end >= len(runes) {
			windows = append(windows, strings.TrimSpace(string(runes[start:])))
			break
		}

		// 在窗口后半段寻找句子边界
		boundary := -1
		for i := end - 1; i > start+size/2; i-- {
			if runes[i] == '.' || runes[i] == '。' || runes[i] == '\n' {
				boundary = i + 1
				break
			}
		}
		if boundary > 0 {
			end = boundary
		}

		windows = append(windows, strings.TrimSpace(string(runes[start:end])))

		next := end - overlap
		if next <= start {
			next = start + 1
		}
		start = next
	}

	out := windows[:0]
	for _, w := range windows {
		if w != "" {
			out = append(out, w)
		}
	}
	return out
}

// parseMarkdownHeading 解析 "#"/"##"... 标题行，非标题返回 level 0
func parseMarkdownHeading(line string) (title string, level int) {
	trimmed := strings.TrimSpace(line)
	if !strings.HasPrefix(trimmed, "#") {
		return "", 0
	}

	i := 0
	for i < len(trimmed) && trimmed[i] == '#' {
		i++
	}
	if i > 6 || i == len(trimmed) || trimmed[i] != ' ' {
		return "", 0
	}

	title = strings.TrimSpace(trimmed[i:])
	if title == "" {
		return "", 0
	}
	return title, i
}
