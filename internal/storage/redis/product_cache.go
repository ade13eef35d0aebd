package redis

import (
	"context"
	"encoding/json"
	"time"

	"github.com/cockroachdb/errors"
	goredis "github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/skyshop/internal/domain"
)

// DefaultProductCacheTTL: время жизни товара в кэше по умолчанию.
const DefaultProductCacheTTL = time.Minute

const productKeyPrefix = "skyshop:product:"

// productEntry: JSON-представление товара в кэше.
type productEntry struct {
	ID         string          `json:"id"`
	Name       string          `json:"name"`
	Price      decimal.Decimal `json:"price"`
	ImageURL   string          `json:"image_url,omitempty"`
	CategoryID string          `json:"category_id,omitempty"`
	CreatedAt  time.Time       `json:"created_at"`
	UpdatedAt  time.Time       `json:"updated_at"`
}

// ProductCache кэширует Get поверх ProductRepository (read-through).
// Сбои Redis не ломают чтение: запрос уходит в основное хранилище.
type ProductCache struct {
	domain.ProductRepository

	client goredis.UniversalClient
	ttl    time.Duration
	logger *log.Entry
}

// NewProductCache оборачивает репозиторий товаров кэшем.
func NewProductCache(next domain.ProductRepository, client goredis.UniversalClient, ttl time.Duration, logger *log.Entry) *ProductCache {
	if ttl <= 0 {
		ttl = DefaultProductCacheTTL
	}
	if logger == nil {
		logger = log.WithField("component", "product-cache")
	}
	return &ProductCache{ProductRepository: next, client: client, ttl: ttl, logger: logger}
}

// Get сначала ищет товар в Redis, при промахе читает хранилище и заполняет кэш.
func (c *ProductCache) Get(ctx context.Context, id string) (domain.Product, error) {
	key := productKeyPrefix + id

	data, err := c.client.Get(ctx, key).Bytes()
	switch {
	case err == nil:
		var entry productEntry
		if err := json.Unmarshal(data, &entry); err == nil {
			return entry.toDomain(), nil
		}
		c.logger.WithField("key", key).Warn("corrupted cache entry, reloading")
	case errors.Is(err, goredis.Nil):
	default:
		c.logger.WithError(err).WithField("key", key).Warn("product cache read failed")
	}

	product, err := c.ProductRepository.Get(ctx, id)
	if err != nil {
		return domain.Product{}, err
	}
	c.store(ctx, product)
	return product, nil
}

// Update обновляет товар и сбрасывает его запись в кэше.
func (c *ProductCache) Update(ctx context.Context, product domain.Product) error {
	if err := c.ProductRepository.Update(ctx, product); err != nil {
		return err
	}
	c.invalidate(ctx, product.ID)
	return nil
}

// Delete удаляет товар и его запись в кэше.
func (c *ProductCache) Delete(ctx context.Context, id string) error {
	if err := c.ProductRepository.Delete(ctx, id); err != nil {
		return err
	}
	c.invalidate(ctx, id)
	return nil
}

func (c *ProductCache) store(ctx context.Context, product domain.Product) {
	data, err := json.Marshal(newProductEntry(product))
	if err != nil {
		c.logger.WithError(err).WithField("product_id", product.ID).Warn("marshal product for cache failed")
		return
	}
	if err := c.client.Set(ctx, productKeyPrefix+product.ID, data, c.ttl).Err(); err != nil {
		c.logger.WithError(err).WithField("product_id", product.ID).Warn("product cache write failed")
	}
}

func (c *ProductCache) invalidate(ctx context.Context, id string) {
	if err := c.client.Del(ctx, productKeyPrefix+id).Err(); err != nil {
		c.logger.WithError(err).WithField("product_id", id).Warn("product cache invalidation failed")
	}
}

func newProductEntry(p domain.Product) productEntry {
	return productEntry{
		ID:         p.ID,
		Name:       p.Name,
		Price:      p.Price,
		ImageURL:   p.ImageURL,
		CategoryID: p.CategoryID,
		CreatedAt:  p.CreatedAt,
		UpdatedAt:  p.UpdatedAt,
	}
}

func (e productEntry) toDomain() domain.Product {
	return domain.Product{
		ID:         e.ID,
		Name:       e.Name,
		Price:      e.Price,
		ImageURL:   e.ImageURL,
		CategoryID: e.CategoryID,
		CreatedAt:  e.CreatedAt,
		UpdatedAt:  e.UpdatedAt,
	}
}

var _ domain.ProductRepository = (*ProductCache)(nil)
