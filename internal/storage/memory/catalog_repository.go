package memory

import (
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/vladislavdragonenkov/skyshop/internal/domain"
)

// productRepositoryInMemory хранит товары каталога в памяти.
type productRepositoryInMemory struct {
	mu    sync.RWMutex
	items map[string]domain.Product
}

// NewProductRepository создаёт in-memory реализацию ProductRepository.
func NewProductRepository() domain.ProductRepository {
	return &productRepositoryInMemory{items: make(map[string]domain.Product)}
}

func (r *productRepositoryInMemory) Create(_ context.Context, product domain.Product) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.nameTakenLocked(product.Name, product.ID) {
		return domain.ErrProductNameTaken
	}
	r.items[product.ID] = product
	return nil
}

func (r *productRepositoryInMemory) Get(_ context.Context, id string) (domain.Product, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	product, ok := r.items[id]
	if !ok {
		return domain.Product{}, domain.ErrProductNotFound
	}
	return product, nil
}

func (r *productRepositoryInMemory) List(_ context.Context) ([]domain.Product, error) {
	return r.filter(func(domain.Product) bool { return true }), nil
}

func (r *productRepositoryInMemory) ListByCategory(_ context.Context, categoryID string) ([]domain.Product, error) {
	return r.filter(func(p domain.Product) bool { return p.CategoryID == categoryID }), nil
}

func (r *productRepositoryInMemory) FindByName(_ context.Context, name string) (domain.Product, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, product := range r.items {
		if strings.EqualFold(product.Name, name) {
			return product, nil
		}
	}
	return domain.Product{}, domain.ErrProductNotFound
}

func (r *productRepositoryInMemory) Update(_ context.Context, product domain.Product) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.items[product.ID]; !ok {
		return domain.ErrProductNotFound
	}
	if r.nameTakenLocked(product.Name, product.ID) {
		return domain.ErrProductNameTaken
	}
	r.items[product.ID] = product
	return nil
}

func (r *productRepositoryInMemory) Delete(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.items[id]; !ok {
		return domain.ErrProductNotFound
	}
	delete(r.items, id)
	return nil
}

func (r *productRepositoryInMemory) nameTakenLocked(name, exceptID string) bool {
	for id, product := range r.items {
		if id != exceptID && strings.EqualFold(product.Name, name) {
			return true
		}
	}
	return false
}

func (r *productRepositoryInMemory) filter(keep func(domain.Product) bool) []domain.Product {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]domain.Product, 0, len(r.items))
	for _, product := range r.items {
		if keep(product) {
			result = append(result, product)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Name < result[j].Name })
	return result
}

// categoryRepositoryInMemory хранит дерево категорий в памяти.
type categoryRepositoryInMemory struct {
	mu    sync.RWMutex
	items map[string]domain.Category
}

// NewCategoryRepository создаёт in-memory реализацию CategoryRepository.
func NewCategoryRepository() domain.CategoryRepository {
	return &categoryRepositoryInMemory{items: make(map[string]domain.Category)}
}

func (r *categoryRepositoryInMemory) Create(_ context.Context, category domain.Category) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.nameTakenLocked(category.Name, category.ID) {
		return domain.ErrCategoryNameTaken
	}
	r.items[category.ID] = category
	return nil
}

func (r *categoryRepositoryInMemory) Get(_ context.Context, id string) (domain.Category, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	category, ok := r.items[id]
	if !ok {
		return domain.Category{}, domain.ErrCategoryNotFound
	}
	return category, nil
}

func (r *categoryRepositoryInMemory) List(_ context.Context) ([]domain.Category, error) {
	return r.filter(func(domain.Category) bool { return true }), nil
}

func (r *categoryRepositoryInMemory) ListChildren(_ context.Context, parentID string) ([]domain.Category, error) {
	return r.filter(func(c domain.Category) bool { return c.ParentID == parentID }), nil
}

func (r *categoryRepositoryInMemory) FindByName(_ context.Context, name string) (domain.Category, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, category := range r.items {
		if strings.EqualFold(category.Name, name) {
			return category, nil
		}
	}
	return domain.Category{}, domain.ErrCategoryNotFound
}

func (r *categoryRepositoryInMemory) Update(_ context.Context, category domain.Category) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.items[category.ID]; !ok {
		return domain.ErrCategoryNotFound
	}
	if r.nameTakenLocked(category.Name, category.ID) {
		return domain.ErrCategoryNameTaken
	}
	r.items[category.ID] = category
	return nil
}

func (r *categoryRepositoryInMemory) Delete(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.items[id]; !ok {
		return domain.ErrCategoryNotFound
	}
	delete(r.items, id)
	return nil
}

func (r *categoryRepositoryInMemory) nameTakenLocked(name, exceptID string) bool {
	for id, category := range r.items {
		if id != exceptID && strings.EqualFold(category.Name, name) {
			return true
		}
	}
	return false
}

func (r *categoryRepositoryInMemory) filter(keep func(domain.Category) bool) []domain.Category {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]domain.Category, 0, len(r.items))
	for _, category := range r.items {
		if keep(category) {
			result = append(result, category)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Name < result[j].Name })
	return result
}

var (
	_ domain.ProductRepository  = (*productRepositoryInMemory)(nil)
	_ domain.CategoryRepository = (*categoryRepositoryInMemory)(nil)
)
