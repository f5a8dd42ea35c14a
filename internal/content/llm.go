package content

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/law-makers/deepcrawl/internal/llm"
	"github.com/law-makers/deepcrawl/pkg/models"
)

// wordsPerToken approximates English tokenization.
const wordsPerToken = 0.75

// EstimateTokens approximates the token count of text from its word count.
func EstimateTokens(text string) int {
	words := len(strings.Fields(text))
	return int(float64(words)/wordsPerToken + 0.5)
}

// LLMConfig parameterizes the LLM filter.
type LLMConfig struct {
	Instruction         string
	ChunkTokenThreshold int
	// Concurrency bounds in-flight chunk calls per page.
	Concurrency int
}

// LLMFilter sends token-bounded chunks of the page's markdown to a backend
// and stitches the answers back together in order.
type LLMFilter struct {
	cfg     LLMConfig
	backend llm.Backend
	md      *Markdown
}

// NewLLMFilter creates an LLM filter.
func NewLLMFilter(cfg LLMConfig, backend llm.Backend, md *Markdown) *LLMFilter {
	if cfg.ChunkTokenThreshold <= 0 {
		cfg.ChunkTokenThreshold = 4096
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 4
	}
	if md == nil {
		md = NewMarkdown(MarkdownOptions{})
	}
	return &LLMFilter{cfg: cfg, backend: backend, md: md}
}

func (f *LLMFilter) Strategy() Strategy { return StrategyLLM }

// Filter fails only when every chunk fails. Partial results are marked and
// carry the status of each chunk.
func (f *LLMFilter) Filter(ctx context.Context, doc *Document) (*models.FilteredContent, error) {
	text, err := f.md.Convert(doc.URL, doc.HTML)
	if err != nil {
		return nil, err
	}
	chunks := ChunkText(text, f.cfg.ChunkTokenThreshold)

	fc := &models.FilteredContent{
		Strategy: string(StrategyLLM),
		Chunks:   make([]models.ChunkStatus, len(chunks)),
		Metrics:  map[string]float64{"chunks": float64(len(chunks))},
	}
	if len(chunks) == 0 {
		return fc, nil
	}

	start := time.Now()
	outputs := make([]string, len(chunks))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(f.cfg.Concurrency)
	for i, c := range chunks {
		fc.Chunks[i] = models.ChunkStatus{Index: i, Tokens: EstimateTokens(c)}
		g.Go(func() error {
			out, err := f.backend.Complete(gctx, f.cfg.Instruction, c)
			if err != nil {
				// Recorded per chunk; the others keep going.
				fc.Chunks[i].Error = err.Error()
				log.Debug().Err(err).Str("url", doc.URL).Int("chunk", i).Msg("LLM chunk failed")
				return nil
			}
			outputs[i] = strings.TrimSpace(out)
			fc.Chunks[i].Success = true
			return nil
		})
	}
	g.Wait()

	var parts []string
	failed := 0
	for i, st := range fc.Chunks {
		if !st.Success {
			failed++
			continue
		}
		if outputs[i] != "" {
			parts = append(parts, outputs[i])
		}
	}

	fc.FilteredText = strings.Join(parts, "\n\n")
	fc.FitMarkdown = fc.FilteredText
	fc.Partial = failed > 0 && failed < len(chunks)
	fc.Metrics["failed_chunks"] = float64(failed)
	fc.Metrics["elapsed_ms"] = float64(time.Since(start).Milliseconds())

	log.Debug().
		Str("url", doc.URL).
		Int("chunks", len(chunks)).
		Int("failed", failed).
		Msg("LLM filter applied")

	if failed == len(chunks) {
		if err := ctx.Err(); err != nil {
			return fc, err
		}
		return fc, fmt.Errorf("%w: all %d llm chunks failed: %s", ErrStrategyFailed, failed, fc.Chunks[0].Error)
	}
	return fc, nil
}

// ChunkText splits text on paragraph boundaries into chunks of at most
// maxTokens estimated tokens. A paragraph larger than the limit is split on
// word boundaries.
func ChunkText(text string, maxTokens int) []string {
	maxWords := int(float64(maxTokens) * wordsPerToken)
	if maxWords < 1 {
		maxWords = 1
	}

	var chunks []string
	var cur []string
	curWords := 0
	flush := func() {
		if len(cur) > 0 {
			chunks = append(chunks, strings.Join(cur, "\n\n"))
			cur = nil
			curWords = 0
		}
	}

	for _, para := range strings.Split(text, "\n\n") {
		para = strings.TrimSpace(para)
		if para == "" {
			continue
		}
		words := strings.Fields(para)
		if len(words) > maxWords {
			flush()
			for len(words) > 0 {
				n := min(maxWords, len(words))
				chunks = append(chunks, strings.Join(words[:n], " "))
				words = words[n:]
			}
			continue
		}
		if curWords+len(words) > maxWords {
			flush()
		}
		cur = append(cur, para)
		curWords += len(words)
	}
	flush()
	return chunks
}
