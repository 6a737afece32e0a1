package repository

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/vhvplatform/go-wellness-notifier/internal/domain"
	"github.com/vhvplatform/go-wellness-notifier/internal/shared/mongodb"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const templatesCollection = "content_templates"

// Security constants for cache
const (
	maxCacheSize    = 256         // Maximum number of cached template sets
	maxCacheKeyLen  = 512         // Maximum length of cache key
	maxTemplateSize = 1024 * 1024 // Maximum total size of one cached set: 1MB
)

// TemplateCache holds the active template set per family and trivia type
type TemplateCache struct {
	sets    map[string][]*domain.ContentTemplate
	mu      sync.RWMutex
	ttl     time.Duration
	entries map[string]time.Time
	maxSize int // Maximum number of entries
}

// NewTemplateCache creates a new template cache with size limits
func NewTemplateCache(ttl time.Duration) *TemplateCache {
	return &TemplateCache{
		sets:    make(map[string][]*domain.ContentTemplate),
		entries: make(map[string]time.Time),
		ttl:     ttl,
		maxSize: maxCacheSize,
	}
}

// validateCacheKey validates cache key to prevent injection attacks
func validateCacheKey(key string) error {
	if len(key) == 0 {
		return errors.New("cache key cannot be empty")
	}
	if len(key) > maxCacheKeyLen {
		return errors.New("cache key exceeds maximum length")
	}
	if strings.ContainsAny(key, "\x00\n\r") {
		return errors.New("cache key contains invalid characters")
	}
	return nil
}

// Get retrieves a template set from cache
func (c *TemplateCache) Get(key string) ([]*domain.ContentTemplate, bool) {
	if err := validateCacheKey(key); err != nil {
		return nil, false
	}

	c.mu.RLock()
	set, exists := c.sets[key]
	entryTime, hasEntry := c.entries[key]
	c.mu.RUnlock()

	if !exists {
		return nil, false
	}

	if !hasEntry || time.Since(entryTime) > c.ttl {
		c.mu.Lock()
		delete(c.sets, key)
		delete(c.entries, key)
		c.mu.Unlock()
		return nil, false
	}

	return set, true
}

// Set stores a template set in cache
func (c *TemplateCache) Set(key string, set []*domain.ContentTemplate) error {
	if err := validateCacheKey(key); err != nil {
		return err
	}

	size := 0
	for _, t := range set {
		size += len(t.Subject) + len(t.Title) + len(t.Body)
	}
	if size > maxTemplateSize {
		return errors.New("template set exceeds maximum allowed size")
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if _, present := c.sets[key]; len(c.sets) >= c.maxSize && !present {
		c.evictOldest()
	}

	c.sets[key] = set
	c.entries[key] = time.Now()
	return nil
}

// evictOldest removes the oldest entry from cache (must be called with lock held)
func (c *TemplateCache) evictOldest() {
	var oldestKey string
	var oldestTime time.Time
	first := true

	for key, entryTime := range c.entries {
		if first || entryTime.Before(oldestTime) {
			oldestKey = key
			oldestTime = entryTime
			first = false
		}
	}

	if oldestKey != "" {
		delete(c.sets, oldestKey)
		delete(c.entries, oldestKey)
	}
}

// TemplateRepository reads content templates
type TemplateRepository struct {
	client *mongodb.MongoClient
	cache  *TemplateCache
}

// NewTemplateRepository creates a new template repository with caching
func NewTemplateRepository(client *mongodb.MongoClient) *TemplateRepository {
	return &TemplateRepository{
		client: client,
		cache:  NewTemplateCache(5 * time.Minute),
	}
}

// EnsureIndexes creates necessary indexes for optimal query performance
func (r *TemplateRepository) EnsureIndexes(ctx context.Context) error {
	indexes := []mongo.IndexModel{
		{
			Keys: bson.D{
				{Key: "family", Value: 1},
				{Key: "active", Value: 1},
				{Key: "trivia_type", Value: 1},
			},
			Options: options.Index().SetName("family_active_type_idx"),
		},
	}

	return r.client.CreateIndexes(ctx, templatesCollection, indexes)
}

func templateSetKey(family domain.JobType, triviaType string) string {
	return "family:" + string(family) + ":type:" + triviaType
}

// activeTemplatesFilter matches the family's active templates. Any-type
// templates may store "", "any", null, or omit trivia_type entirely; a nil
// in $in matches both null and a missing field.
func activeTemplatesFilter(family domain.JobType, triviaType string) bson.M {
	filter := bson.M{"family": family, "active": true}
	if triviaType != "" {
		filter["trivia_type"] = bson.M{"$in": bson.A{triviaType, "", "any", nil}}
	}
	return filter
}

// FindActive returns the active templates of a family. For trivia, templates
// for the given type and templates for any type are both returned.
func (r *TemplateRepository) FindActive(ctx context.Context, family domain.JobType, triviaType string) ([]*domain.ContentTemplate, error) {
	cacheKey := templateSetKey(family, triviaType)
	if set, found := r.cache.Get(cacheKey); found {
		return set, nil
	}

	cursor, err := r.client.Collection(templatesCollection).Find(ctx, activeTemplatesFilter(family, triviaType), options.Find().SetSort(bson.D{{Key: "priority", Value: -1}, {Key: "_id", Value: 1}}))
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	var set []*domain.ContentTemplate
	if err = cursor.All(ctx, &set); err != nil {
		return nil, err
	}

	// Cache the result (ignore error as caching is not critical)
	_ = r.cache.Set(cacheKey, set)

	return set, nil
}
