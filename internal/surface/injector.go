package surface

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/charmbracelet/log"

	"github.com/ship-commander/autoaccept/internal/bridge"
	"github.com/ship-commander/autoaccept/internal/dom"
)

// PageSource enumerates the surface pages currently reachable.
type PageSource interface {
	Pages(ctx context.Context) ([]dom.Page, error)
}

// Injector keeps one controller per reachable page. Controllers of pages that
// disappear are stopped.
type Injector struct {
	source  PageSource
	options []Option
	logger  *log.Logger

	mu          sync.Mutex
	controllers map[string]*Controller
}

var _ bridge.Injector = (*Injector)(nil)

// NewInjector constructs an injector; options apply to every controller it creates.
func NewInjector(source PageSource, logger *log.Logger, options ...Option) (*Injector, error) {
	if source == nil {
		return nil, errors.New("page source is required")
	}
	if logger == nil {
		logger = log.New(io.Discard)
	}
	return &Injector{
		source:      source,
		options:     options,
		logger:      logger,
		controllers: map[string]*Controller{},
	}, nil
}

// Inject reconciles controllers against the current pages.
func (i *Injector) Inject(ctx context.Context) (map[string]bridge.Handler, error) {
	pages, err := i.source.Pages(ctx)
	if err != nil {
		return nil, fmt.Errorf("list pages: %w", err)
	}

	i.mu.Lock()
	defer i.mu.Unlock()

	live := make(map[string]struct{}, len(pages))
	for _, page := range pages {
		if page.ID == "" || page.Document == nil {
			continue
		}
		live[page.ID] = struct{}{}
		if _, ok := i.controllers[page.ID]; ok {
			continue
		}
		logger := i.logger.With("target", page.ID)
		options := append(append([]Option(nil), i.options...), WithLogger(logger))
		controller, err := NewController(page.Document, options...)
		if err != nil {
			return nil, fmt.Errorf("inject %s: %w", page.ID, err)
		}
		i.controllers[page.ID] = controller
		logger.Info("controller injected", "title", page.Title)
	}

	for id, controller := range i.controllers {
		if _, ok := live[id]; ok {
			continue
		}
		if err := controller.Close(); err != nil {
			i.logger.Debug("close controller failed", "target", id, "error", err)
		}
		delete(i.controllers, id)
		i.logger.Info("controller detached", "target", id)
	}

	handlers := make(map[string]bridge.Handler, len(i.controllers))
	for id, controller := range i.controllers {
		handlers[id] = controller
	}
	return handlers, nil
}

// Close stops every controller.
func (i *Injector) Close() error {
	i.mu.Lock()
	defer i.mu.Unlock()
	var errs []error
	for id, controller := range i.controllers {
		if err := controller.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close %s: %w", id, err))
		}
		delete(i.controllers, id)
	}
	return errors.Join(errs...)
}
