package sources

import (
	"fmt"
	"sync"

	"github.com/biliarchive/biliarchive/internal/models"
	"github.com/biliarchive/biliarchive/internal/tracker"
)

// Constructor builds a Source adapter for a row of the given variant.
type Constructor func(source *models.Source, client remoteClient) Source

// Factory creates Source adapters by variant, the way the teacher's
// HandlerFactory resolves a SourceHandler by models.SourceType.
type Factory struct {
	mu           sync.RWMutex
	constructors map[models.SourceVariant]Constructor
}

// NewFactory creates a factory with the five built-in variants registered.
func NewFactory() *Factory {
	f := &Factory{
		constructors: make(map[models.SourceVariant]Constructor),
	}

	f.Register(models.SourceVariantFavorite, func(source *models.Source, client remoteClient) Source {
		return NewFavoriteSource(source, client)
	})
	f.Register(models.SourceVariantCollection, func(source *models.Source, client remoteClient) Source {
		return NewCollectionSource(source, client)
	})
	checkpoints := tracker.New(tracker.DefaultSize)
	f.Register(models.SourceVariantSubmission, func(source *models.Source, client remoteClient) Source {
		return NewSubmissionSource(source, client, WithCheckpointTracker(checkpoints))
	})
	f.Register(models.SourceVariantWatchLater, func(source *models.Source, client remoteClient) Source {
		return NewWatchLaterSource(source, client)
	})
	f.Register(models.SourceVariantVideoSource, func(source *models.Source, client remoteClient) Source {
		return NewVideoSourceSource(source, client)
	})

	return f
}

// Register adds or replaces the constructor for a variant.
func (f *Factory) Register(variant models.SourceVariant, ctor Constructor) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.constructors[variant] = ctor
}

// Get returns the constructor registered for variant.
func (f *Factory) Get(variant models.SourceVariant) (Constructor, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()

	ctor, ok := f.constructors[variant]
	if !ok {
		return nil, fmt.Errorf("no source adapter registered for variant: %s", variant)
	}
	return ctor, nil
}

// Build resolves and constructs the adapter for source.Variant.
func (f *Factory) Build(source *models.Source, client remoteClient) (Source, error) {
	if source == nil {
		return nil, fmt.Errorf("source is nil")
	}
	ctor, err := f.Get(source.Variant)
	if err != nil {
		return nil, err
	}
	return ctor(source, client), nil
}

// SupportedVariants returns all registered variants.
func (f *Factory) SupportedVariants() []models.SourceVariant {
	f.mu.RLock()
	defer f.mu.RUnlock()

	variants := make([]models.SourceVariant, 0, len(f.constructors))
	for v := range f.constructors {
		variants = append(variants, v)
	}
	return variants
}
