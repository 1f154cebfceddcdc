/*
Package advice asks a language model for flavour text and catalog ideas.

PURPOSE:
  The park works without it. Every call here has a fallback: Advice returns a
  fixed line and Suggest returns nil whenever the model is missing, rate
  limited, unreachable, or answers with something unusable. Callers never
  see an error.

KEY COMPONENTS:
  Generator  One fallible call to a model (genai.go implements it on Gemini)
  Service    Prompts, throttling, fallbacks and result validation

THROTTLING:
  A token bucket guards the model. A call that finds the bucket empty falls
  back immediately instead of waiting.
*/
package advice

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/warp/points-park/metrics"
)

// =============================================================================
// GENERATOR
// =============================================================================

// Prompt is one request to the model.
type Prompt struct {
	Text string

	// Structured asks for a JSON object shaped like Suggestion.
	Structured bool
}

// Generator produces text for a prompt.
type Generator interface {
	Generate(ctx context.Context, p Prompt) (string, error)
}

// =============================================================================
// TYPES
// =============================================================================

// Kind selects what Suggest proposes.
type Kind string

const (
	KindAction  Kind = "action"
	KindProduct Kind = "product"
)

// Valid reports whether k is a known kind.
func (k Kind) Valid() bool {
	return k == KindAction || k == KindProduct
}

// Suggestion is a proposed point rule or shop item. Value is the points of a
// rule or the cost of an item.
type Suggestion struct {
	Name        string `json:"name"`
	Value       int    `json:"value"`
	Emoji       string `json:"emoji"`
	Description string `json:"description,omitempty"`
}

const (
	// FallbackAdvice is returned when the model could not be asked.
	FallbackAdvice = "The stars are hazy today, traveller. Keep going on your journey!"

	// QuietAdvice is returned when the model answered with nothing.
	QuietAdvice = "The stars are quiet today. Carry on with your adventure."
)

// =============================================================================
// SERVICE
// =============================================================================

// Service wraps a Generator with prompts and fallbacks. A nil Generator is
// allowed; every call then falls back.
type Service struct {
	gen     Generator
	limiter *rate.Limiter
	log     *zap.Logger
	rec     metrics.Recorder
}

// Option configures a Service.
type Option func(*Service)

// WithLimit sets the throttle. The default is 10 calls per minute, burst 3.
func WithLimit(r rate.Limit, burst int) Option {
	return func(s *Service) { s.limiter = rate.NewLimiter(r, burst) }
}

func WithLogger(l *zap.Logger) Option {
	return func(s *Service) { s.log = l }
}

func WithRecorder(rec metrics.Recorder) Option {
	return func(s *Service) { s.rec = rec }
}

// NewService creates a Service over gen.
func NewService(gen Generator, opts ...Option) *Service {
	s := &Service{
		gen:     gen,
		limiter: rate.NewLimiter(rate.Limit(10.0/60.0), 3),
		log:     zap.NewNop(),
		rec:     metrics.Nop{},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Enabled reports whether a model is configured.
func (s *Service) Enabled() bool {
	return s.gen != nil
}

// Advice returns a short encouraging line for a participant. It never fails.
func (s *Service) Advice(ctx context.Context, points int, name string) string {
	text, err := s.generate(ctx, Prompt{
		Text: fmt.Sprintf("You are the oracle of a fantasy park. A traveller named %s now holds %d points. "+
			"Give them brief, encouraging and humorous fantasy-style advice in at most two sentences.", name, points),
	})
	if err != nil {
		s.fallback("advice", err)
		return FallbackAdvice
	}
	text = strings.TrimSpace(text)
	if text == "" {
		s.fallback("advice", fmt.Errorf("empty response"))
		return QuietAdvice
	}
	return text
}

// Suggest proposes a new point rule or shop item, or returns nil.
func (s *Service) Suggest(ctx context.Context, kind Kind) *Suggestion {
	if !kind.Valid() {
		return nil
	}

	noun := "point rule (a deed worth points)"
	if kind == KindProduct {
		noun = "shop reward item"
	}
	text, err := s.generate(ctx, Prompt{
		Text:       fmt.Sprintf("Invent one new fantasy-style %s. Answer in JSON.", noun),
		Structured: true,
	})
	if err != nil {
		s.fallback("suggest", err)
		return nil
	}

	sug, err := parseSuggestion(text)
	if err != nil {
		s.fallback("suggest", err)
		return nil
	}
	return sug
}

func (s *Service) generate(ctx context.Context, p Prompt) (string, error) {
	if s.gen == nil {
		return "", fmt.Errorf("no model configured")
	}
	if !s.limiter.Allow() {
		return "", fmt.Errorf("rate limited")
	}
	return s.gen.Generate(ctx, p)
}

func (s *Service) fallback(op string, err error) {
	s.log.Debug("advice fallback", zap.String("operation", op), zap.Error(err))
	s.rec.RecordAdviceFallback(op)
}

func parseSuggestion(text string) (*Suggestion, error) {
	var raw struct {
		Name        string  `json:"name"`
		Value       float64 `json:"value"`
		Emoji       string  `json:"emoji"`
		Description string  `json:"description"`
	}
	if err := json.Unmarshal([]byte(strings.TrimSpace(text)), &raw); err != nil {
		return nil, fmt.Errorf("malformed suggestion: %w", err)
	}

	sug := &Suggestion{
		Name:        strings.TrimSpace(raw.Name),
		Value:       int(math.Round(raw.Value)),
		Emoji:       strings.TrimSpace(raw.Emoji),
		Description: strings.TrimSpace(raw.Description),
	}
	switch {
	case sug.Name == "":
		return nil, fmt.Errorf("suggestion has no name")
	case sug.Value <= 0:
		return nil, fmt.Errorf("suggestion value %v is not positive", raw.Value)
	case sug.Emoji == "":
		return nil, fmt.Errorf("suggestion has no emoji")
	}
	return sug, nil
}
