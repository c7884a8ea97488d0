package ingestion

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"

	"github.com/kbsearch/backend/internal/corpus"
	"github.com/kbsearch/backend/internal/metrics"
	"github.com/kbsearch/backend/internal/profile"
	"github.com/kbsearch/backend/internal/storage/models"
	"github.com/kbsearch/backend/internal/toolerr"
	"github.com/kbsearch/backend/pkg/logger"
)

var whitespaceRun = regexp.MustCompile(`\s+`)

// Processor turns raw documents into corpus chunks. Chunking follows the
// active profile's configuration so re-ingesting under a new profile can
// produce a different segmentation of the same source.
type Processor struct {
	corpus      *corpus.Corpus
	profiles    *profile.Store
	profileName string
}

type Document struct {
	Content    string
	SourceURL  string
	SourceType string
	Title      string
	IsHTML     bool
}

type Report struct {
	ChunksTotal int    `json:"chunksTotal"`
	ChunksNew   int    `json:"chunksNew"`
	ProfileID   string `json:"profileId"`
	Title       string `json:"title"`
}

func NewProcessor(cps *corpus.Corpus, profiles *profile.Store, profileName string) *Processor {
	return &Processor{
		corpus:      cps,
		profiles:    profiles,
		profileName: profileName,
	}
}

func (p *Processor) Process(ctx context.Context, doc Document) (*Report, error) {
	prof, err := p.profiles.GetActive(p.profileName)
	if err != nil {
		return nil, err
	}

	text := doc.Content
	title := doc.Title
	if doc.IsHTML {
		text, title = p.cleanHTML(doc.Content, title)
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, toolerr.NewValidation("content", "no text content to ingest")
	}

	logger.Info("Processing document",
		zap.String("source_url", doc.SourceURL),
		zap.String("profile_id", prof.ID),
		zap.Int("bytes", len(text)),
	)

	pieces := chunkText(text, prof.Chunking.ChunkSize, prof.Chunking.ChunkOverlap)

	metadata := models.ChunkMetadata{
		SourceURL:    doc.SourceURL,
		SourceType:   doc.SourceType,
		Title:        title,
		LastModified: time.Now().UTC().Format(time.RFC3339),
	}

	report := &Report{
		ChunksTotal: len(pieces),
		ProfileID:   prof.ID,
		Title:       title,
	}

	_, newCount, err := p.corpus.UpsertBatch(ctx, pieces, metadata, prof.ID)
	if err != nil {
		return report, fmt.Errorf("failed to ingest chunks: %w", err)
	}
	report.ChunksNew = newCount
	metrics.ChunksIngested.Add(float64(newCount))

	logger.Info("Document processed",
		zap.String("source_url", doc.SourceURL),
		zap.Int("chunks_total", report.ChunksTotal),
		zap.Int("chunks_new", report.ChunksNew),
	)

	return report, nil
}

// cleanHTML strips boilerplate elements and collapses whitespace, returning
// the body text and a title fallback chain of <title>, first <h1>, provided.
func (p *Processor) cleanHTML(html, fallbackTitle string) (string, string) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return "", fallbackTitle
	}

	title := strings.TrimSpace(doc.Find("title").First().Text())
	if title == "" {
		title = strings.TrimSpace(doc.Find("h1").First().Text())
	}
	if title == "" {
		title = fallbackTitle
	}

	doc.Find("script, style, nav, footer, header, aside").Each(func(_ int, s *goquery.Selection) {
		s.Remove()
	})

	text := doc.Find("body").Text()
	text = whitespaceRun.ReplaceAllString(text, " ")

	return strings.TrimSpace(text), title
}

// chunkText splits on word boundaries into pieces of at most size bytes,
// carrying roughly overlap bytes of trailing context into the next piece.
func chunkText(text string, size, overlap int) []string {
	if size <= 0 {
		size = 1000
	}
	if overlap < 0 || overlap >= size {
		overlap = 0
	}

	words := strings.Fields(text)
	if len(words) == 0 {
		return nil
	}

	var chunks []string
	var current []string
	currentSize := 0

	flush := func() {
		if len(current) == 0 {
			return
		}
		chunks = append(chunks, strings.Join(current, " "))

		var carry []string
		carrySize := 0
		for i := len(current) - 1; i >= 0 && carrySize < overlap; i-- {
			carry = append([]string{current[i]}, carry...)
			carrySize += len(current[i]) + 1
		}
		current = carry
		currentSize = carrySize
	}

	for _, word := range words {
		wordLen := len(word) + 1
		if currentSize+wordLen > size && len(current) > 0 {
			flush()
		}
		current = append(current, word)
		currentSize += wordLen
	}

	if len(current) > 0 {
		chunks = append(chunks, strings.Join(current, " "))
	}

	return chunks
}
