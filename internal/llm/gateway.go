package llm

import (
	"context"
	"crypto/sha256"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"

	"github.com/tardoc-pauschale-server/internal/config"
)

// Gateway is the single entry point for chat completions. It enforces the
// process-wide minimum inter-call interval, serialises local-Ollama calls,
// trips a circuit breaker on repeated provider failures, adapts request
// parameters to persisted model capabilities, and optionally memoises
// responses in Redis.
type Gateway struct {
	providers map[string]Provider
	caps      *config.CapabilityStore
	limiter   *rate.Limiter
	ollamaMu  sync.Mutex
	breaker   *gobreaker.CircuitBreaker
	cache     *redis.Client
	cacheTTL  time.Duration
	logger    *logrus.Logger
}

// NewGateway wires the configured providers. cache may be nil.
func NewGateway(cfg *config.Config, caps *config.CapabilityStore, cache *redis.Client, logger *logrus.Logger) *Gateway {
	providers := make(map[string]Provider, len(cfg.LLM.Providers))
	for name, p := range cfg.LLM.Providers {
		switch p.Kind {
		case "gemini":
			providers[name] = NewGeminiClient(name, p)
		default:
			providers[name] = NewOpenAIClient(name, p)
		}
	}

	interval := cfg.LLM.MinCallInterval
	if interval <= 0 {
		interval = time.Second
	}

	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:    "llm-gateway",
		Timeout: 60 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.WithFields(logrus.Fields{
				"breaker": name,
				"from":    from.String(),
				"to":      to.String(),
			}).Warn("LLM circuit breaker state changed")
		},
	})

	return &Gateway{
		providers: providers,
		caps:      caps,
		limiter:   rate.NewLimiter(rate.Every(interval), 1),
		breaker:   breaker,
		cache:     cache,
		cacheTTL:  cfg.Cache.TTL,
		logger:    logger,
	}
}

// RegisterProvider adds or replaces a provider. Call before serving
// requests; the provider map is not guarded.
func (g *Gateway) RegisterProvider(name string, p Provider) {
	g.providers[name] = p
}

// Chat sends one completion through the configured provider. On an
// unsupported-parameter rejection the offending capability flag is flipped,
// persisted, and the call retried once without additional throttling.
func (g *Gateway) Chat(ctx context.Context, providerName, model string, messages []Message, opts Options) (*ChatResult, error) {
	provider, ok := g.providers[providerName]
	if !ok {
		return nil, fmt.Errorf("unknown LLM provider: %s", providerName)
	}

	if cached := g.cacheGet(ctx, providerName, model, messages, opts); cached != nil {
		return cached, nil
	}

	if err := g.limiter.Wait(ctx); err != nil {
		return nil, &TransportError{Err: err}
	}

	// Local Ollama runs one generation at a time; serialise end-to-end.
	if providerName == "ollama" {
		g.ollamaMu.Lock()
		defer g.ollamaMu.Unlock()
	}

	result, err := g.call(ctx, provider, model, messages, opts)

	var paramErr *UnsupportedParamError
	if errors.As(err, &paramErr) {
		caps := g.caps.Get(model)
		switch paramErr.Param {
		case "temperature":
			caps.SupportsTemperature = false
		case "max_tokens":
			caps.SupportsMaxTokensNamed = false
		case "response_format":
			caps.SupportsResponseFormat = false
		}
		if err := g.caps.Set(model, caps); err != nil {
			g.logger.WithError(err).Warn("Failed to persist capability flags")
		}
		g.logger.WithFields(logrus.Fields{
			"model": model,
			"param": paramErr.Param,
		}).Info("Dropped unsupported parameter, retrying once")

		result, err = g.call(ctx, provider, model, messages, opts)
	}
	if err != nil {
		return nil, err
	}

	g.cacheSet(ctx, providerName, model, messages, opts, result)
	return result, nil
}

// call applies the per-call timeout and routes through the breaker.
func (g *Gateway) call(ctx context.Context, provider Provider, model string, messages []Message, opts Options) (*ChatResult, error) {
	if opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.Timeout)
		defer cancel()
	}

	caps := g.caps.Get(model)
	start := time.Now()

	res, err := g.breaker.Execute(func() (interface{}, error) {
		return provider.Chat(ctx, model, messages, opts, caps)
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return nil, &TransportError{Err: err}
		}
		if ctx.Err() != nil {
			return nil, &TransportError{Err: ctx.Err()}
		}
		return nil, err
	}

	result := res.(*ChatResult)
	g.logger.WithFields(logrus.Fields{
		"provider":      provider.Name(),
		"model":         model,
		"duration":      time.Since(start),
		"input_tokens":  result.Usage.InputTokens,
		"output_tokens": result.Usage.OutputTokens,
	}).Debug("LLM call completed")
	return result, nil
}

// cacheKey hashes the full request so identical prompts hit the cache.
func cacheKey(provider, model string, messages []Message, opts Options) string {
	h := sha256.New()
	enc, _ := json.Marshal(struct {
		Provider string
		Model    string
		Messages []Message
		Temp     *float64
		Max      *int
		JSON     bool
	}{provider, model, messages, opts.Temperature, opts.MaxTokens, opts.JSONResponse})
	h.Write(enc)
	return fmt.Sprintf("llm:%x", h.Sum(nil))
}

func (g *Gateway) cacheGet(ctx context.Context, provider, model string, messages []Message, opts Options) *ChatResult {
	if g.cache == nil {
		return nil
	}
	val, err := g.cache.Get(ctx, cacheKey(provider, model, messages, opts)).Result()
	if err == redis.Nil {
		return nil
	}
	if err != nil {
		g.logger.WithError(err).Debug("LLM cache read failed")
		return nil
	}
	var result ChatResult
	if err := json.Unmarshal([]byte(val), &result); err != nil {
		return nil
	}
	return &result
}

func (g *Gateway) cacheSet(ctx context.Context, provider, model string, messages []Message, opts Options, result *ChatResult) {
	if g.cache == nil {
		return
	}
	enc, err := json.Marshal(result)
	if err != nil {
		return
	}
	if err := g.cache.Set(ctx, cacheKey(provider, model, messages, opts), enc, g.cacheTTL).Err(); err != nil {
		g.logger.WithError(err).Debug("LLM cache write failed")
	}
}
