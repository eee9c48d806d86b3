// Package classifier assigns each inbound email one of the closed set
// of categories using the LLM, failing open to support_request so a
// confused model never drops a customer email.
package classifier

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"maildesk/config"
	"maildesk/internal/llm"
	"maildesk/internal/model"
	"maildesk/pkg/metrics"
	"maildesk/pkg/util"
)

// Result is the classifier verdict for one email.
type Result struct {
	Category   model.Category
	Priority   int     // 1 = most urgent, 5 = least
	Confidence float64 // how literally the model followed the label format
}

const (
	// maxBodyChars bounds how much of the email body goes into the
	// prompt. Classification does not need the full text and long spam
	// bodies would blow the context window.
	maxBodyChars = 2000

	confidenceExact     = 0.9
	confidenceSubstring = 0.6
	confidenceFallback  = 0.25
)

var priorities = map[model.Category]int{
	model.CategoryComplaintUrgent: 1,
	model.CategorySupportRequest:  2,
	model.CategoryNewsletter:      4,
	model.CategoryPromotionSpam:   5,
}

// Classifier drives the classification model.
type Classifier struct {
	gen    llm.Generator
	model  string
	logger *zap.Logger
}

func New(gen llm.Generator, cfg config.LLMConfig, logger *zap.Logger) *Classifier {
	return &Classifier{
		gen:    gen,
		model:  cfg.ClassifierModel,
		logger: logger,
	}
}

// Classify never returns an error: any failure, from a dead endpoint
// to free-text model output, degrades to support_request with low
// confidence. Wrong-but-reviewed beats silently dropped.
func (c *Classifier) Classify(ctx context.Context, subject, body string) Result {
	start := time.Now()

	body = util.TruncateUTF8(body, maxBodyChars)
	prompt := buildPrompt(subject, body)

	raw, err := c.gen.Complete(ctx, prompt, llm.Options{
		Model:       c.model,
		MaxTokens:   20,
		Temperature: 0,
	})
	if err != nil {
		c.logger.Warn("Classification call failed, falling back to support_request",
			zap.String("kind", string(llm.KindOf(err))),
			zap.Error(err),
		)
		return c.finish(Result{
			Category:   model.CategorySupportRequest,
			Priority:   priorities[model.CategorySupportRequest],
			Confidence: confidenceFallback,
		}, start)
	}

	return c.finish(c.parse(raw), start)
}

func (c *Classifier) finish(r Result, start time.Time) Result {
	metrics.RecordClassifyLatency(string(r.Category), time.Since(start))
	return r
}

// parse applies the strict-then-lenient label match. Exact match on
// the first line wins; otherwise the first label appearing anywhere in
// the output; otherwise fall back to support_request.
func (c *Classifier) parse(raw string) Result {
	firstLine := raw
	if idx := strings.IndexByte(firstLine, '\n'); idx >= 0 {
		firstLine = firstLine[:idx]
	}
	label := strings.ToLower(strings.TrimSpace(firstLine))
	label = strings.Trim(label, `"'.:`)

	if cat, ok := model.ParseCategory(label); ok {
		return Result{Category: cat, Priority: priorities[cat], Confidence: confidenceExact}
	}

	lower := strings.ToLower(raw)
	for _, cat := range model.Categories {
		if strings.Contains(lower, string(cat)) {
			return Result{Category: cat, Priority: priorities[cat], Confidence: confidenceSubstring}
		}
	}

	c.logger.Warn("Classifier output did not contain a known label",
		zap.String("output", truncateForLog(raw)),
	)
	return Result{
		Category:   model.CategorySupportRequest,
		Priority:   priorities[model.CategorySupportRequest],
		Confidence: confidenceFallback,
	}
}

func buildPrompt(subject, body string) string {
	labels := make([]string, len(model.Categories))
	for i, c := range model.Categories {
		labels[i] = string(c)
	}
	return fmt.Sprintf(`You are an email triage system for a customer support team.
Classify the email below into exactly one category.

Categories:
- support_request: a customer asking for help, information or a service action
- promotion_spam: marketing, advertising or unsolicited commercial mail
- newsletter: periodic informational mailings the recipient subscribed to
- complaint_urgent: an angry or time-critical complaint needing fast attention

Reply with ONLY the category name (%s). No explanation.

Subject: %s

Body:
%s`, strings.Join(labels, ", "), subject, body)
}

func truncateForLog(s string) string {
	if len(s) > 120 {
		return s[:120] + "..."
	}
	return s
}
