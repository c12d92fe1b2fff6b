package llm

import (
	"context"
	"errors"
	"sync"

	"github.com/qingyh6/ai/helper/llm/openai_impl"
	"github.com/qingyh6/ai/helper/llm/qianwen_impl"
	"github.com/qingyh6/ai/log"
	"github.com/qingyh6/ai/model"
)

// ErrUnavailable is returned when no usable provider is configured
// (missing or placeholder API key). Checked once per review run.
var ErrUnavailable = errors.New("review provider is not configured")

// ReviewProvider is the single capability both provider variants offer.
type ReviewProvider interface {
	// ReviewFile sends one file's structured changes for review and
	// returns the raw model output.
	ReviewFile(ctx context.Context, fc *model.FileChangeSet) (string, error)
	// ChatComplete runs a plain system+user completion.
	ChatComplete(ctx context.Context, systemPrompt, userPrompt string) (string, error)
	Name() string
	Model() string
}

// Source hands out the currently configured provider.
type Source interface {
	Provider() (ReviewProvider, error)
}

// Factory builds the provider from configuration and is re-built in
// place whenever admin settings change. It replaces the mutable global
// client of earlier designs: consumers get it injected and ask per run.
type Factory struct {
	mu       sync.RWMutex
	provider ReviewProvider
}

func NewFactory(cfg *model.Config) *Factory {
	f := &Factory{}
	f.Reconfigure(cfg)
	return f
}

// Reconfigure swaps the active provider according to cfg.
func (f *Factory) Reconfigure(cfg *model.Config) {
	var p ReviewProvider
	if cfg.UseQianwen {
		if usableKey(cfg.Qianwen.APIKey) {
			log.Infof("Using Qianwen for code review (model %s)", cfg.Qianwen.Model)
			p = qianwen_impl.New(cfg.Qianwen.BaseURL, cfg.Qianwen.APIKey, cfg.Qianwen.Model, nil)
		} else {
			log.Warn("Qianwen API key missing or placeholder; review provider unavailable")
		}
	} else {
		if usableKey(cfg.OpenAI.APIKey) {
			log.Infof("Using OpenAI for code review (model %s)", cfg.OpenAI.Model)
			p = openai_impl.New(cfg.OpenAI.BaseURL, cfg.OpenAI.APIKey, cfg.OpenAI.Model, nil)
		} else {
			log.Warn("OpenAI API key missing or placeholder; review provider unavailable")
		}
	}

	f.mu.Lock()
	f.provider = p
	f.mu.Unlock()
}

// Provider returns the active provider or ErrUnavailable.
func (f *Factory) Provider() (ReviewProvider, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	if f.provider == nil {
		return nil, ErrUnavailable
	}
	return f.provider, nil
}

func usableKey(key string) bool {
	return key != "" && key != "xxxx-xxxx-xxxx-xxxx"
}
