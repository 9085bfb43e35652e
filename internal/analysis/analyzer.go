package analysis

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	json "github.com/goccy/go-json"

	"BillScanner/internal/domain"
	"BillScanner/internal/ports"
)

var (
	// ErrNotArray means the reply parsed as JSON but was not a list of findings.
	ErrNotArray = errors.New("reply is not a JSON array")
	// ErrInvalidFinding means an array element is not a finding object naming an issue.
	ErrInvalidFinding = errors.New("invalid finding")
)

// Analyzer turns chat completions into persisted analysis results.
type Analyzer struct {
	chat   ports.ChatClient
	logger *slog.Logger
	now    func() time.Time
}

var _ ports.IssueAnalyzer = (*Analyzer)(nil)

// NewAnalyzer wraps a chat client; retries and rate limiting live in its transport.
func NewAnalyzer(chat ports.ChatClient, log *slog.Logger) *Analyzer {
	return &Analyzer{chat: chat, logger: log, now: time.Now}
}

// Analyze submits one HTML document. The result is always safe to persist: a
// transport failure or an unparseable reply yields a failed result. Transport
// failures are also returned as the error so callers can count and log them.
func (a *Analyzer) Analyze(ctx context.Context, html, model string) (domain.AnalysisResult, error) {
	reply, err := a.chat.Complete(ctx, model, SystemPrompt, UserPrompt(html))
	if err != nil {
		return domain.Failed("request failed: "+err.Error(), model, a.now()), err
	}

	findings, err := ParseFindings(reply)
	if err != nil {
		a.debug("unusable analysis reply", "model", model, "error", err, "reply", truncate(reply, 200))
		return domain.Failed("invalid reply: "+err.Error(), model, a.now()), nil
	}

	return domain.Succeeded(findings, model, a.now()), nil
}

// ParseFindings decodes a reply into findings. A single surrounding markdown
// code fence is tolerated; any other text around the array is rejected.
func ParseFindings(reply string) ([]domain.IssueFinding, error) {
	body := bytes.TrimSpace([]byte(stripFence(reply)))
	if len(body) == 0 {
		return nil, fmt.Errorf("empty reply")
	}
	if body[0] != '[' {
		return nil, ErrNotArray
	}

	var elements []json.RawMessage
	if err := json.Unmarshal(body, &elements); err != nil {
		return nil, fmt.Errorf("decode findings: %w", err)
	}

	findings := make([]domain.IssueFinding, 0, len(elements))
	for i, raw := range elements {
		raw = bytes.TrimSpace(raw)
		if len(raw) == 0 || raw[0] != '{' {
			return nil, fmt.Errorf("%w: element %d is not an object", ErrInvalidFinding, i)
		}
		var f domain.IssueFinding
		if err := json.Unmarshal(raw, &f); err != nil {
			return nil, fmt.Errorf("%w: element %d: %v", ErrInvalidFinding, i, err)
		}
		if strings.TrimSpace(f.Issue) == "" {
			return nil, fmt.Errorf("%w: element %d has no issue", ErrInvalidFinding, i)
		}
		findings = append(findings, f)
	}
	return findings, nil
}

func stripFence(reply string) string {
	s := strings.TrimSpace(reply)
	if !strings.HasPrefix(s, "```") || !strings.HasSuffix(s, "```") || len(s) < 6 {
		return s
	}
	s = strings.TrimSuffix(strings.TrimPrefix(s, "```"), "```")
	// drop the info string, e.g. ```json
	if nl := strings.IndexByte(s, '\n'); nl >= 0 {
		s = s[nl+1:]
	} else {
		s = strings.TrimPrefix(s, "json")
	}
	return s
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

func (a *Analyzer) debug(msg string, args ...interface{}) {
	if a.logger != nil {
		a.logger.Debug(msg, args...)
	}
}
