package catalog

import (
	"context"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/skyshop/internal/domain"
)

// ProductInput: изменяемые поля товара.
type ProductInput struct {
	Name       string
	Price      decimal.Decimal
	ImageURL   string
	CategoryID string
}

// CategoryInput: изменяемые поля категории.
type CategoryInput struct {
	Name        string
	Description string
	ParentID    string
}

// Service применяет правила каталога поверх репозиториев товаров и категорий.
type Service struct {
	products   domain.ProductRepository
	categories domain.CategoryRepository
	logger     *log.Entry
	now        func() time.Time
	newID      func() string
}

// Option настраивает Service.
type Option func(*Service)

// WithLogger задаёт logger сервиса.
func WithLogger(logger *log.Entry) Option {
	return func(s *Service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithClock подменяет источник времени.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

// WithIDGenerator подменяет генератор идентификаторов.
func WithIDGenerator(newID func() string) Option {
	return func(s *Service) {
		if newID != nil {
			s.newID = newID
		}
	}
}

// NewService создаёт сервис каталога.
func NewService(products domain.ProductRepository, categories domain.CategoryRepository, opts ...Option) *Service {
	s := &Service{
		products:   products,
		categories: categories,
		logger:     log.WithField("component", "catalog-service"),
		now:        func() time.Time { return time.Now().UTC() },
		newID:      uuid.NewString,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// ListProducts возвращает все товары.
func (s *Service) ListProducts(ctx context.Context) ([]domain.Product, error) {
	return s.products.List(ctx)
}

// GetProduct возвращает товар или domain.ErrProductNotFound.
func (s *Service) GetProduct(ctx context.Context, id string) (domain.Product, error) {
	return s.products.Get(ctx, id)
}

// ListProductsByCategory возвращает товары категории. Категория должна существовать.
func (s *Service) ListProductsByCategory(ctx context.Context, categoryID string) ([]domain.Product, error) {
	if _, err := s.categories.Get(ctx, categoryID); err != nil {
		return nil, err
	}
	return s.products.ListByCategory(ctx, categoryID)
}

// CreateProduct добавляет товар в каталог.
func (s *Service) CreateProduct(ctx context.Context, in ProductInput) (domain.Product, error) {
	in.Name = strings.TrimSpace(in.Name)
	if err := s.validateProduct(ctx, in); err != nil {
		return domain.Product{}, err
	}

	now := s.now()
	product := domain.Product{
		ID:         s.newID(),
		Name:       in.Name,
		Price:      in.Price,
		ImageURL:   in.ImageURL,
		CategoryID: in.CategoryID,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err := s.products.Create(ctx, product); err != nil {
		return domain.Product{}, err
	}

	s.logger.WithFields(log.Fields{"product_id": product.ID, "name": product.Name}).Info("product created")
	return product, nil
}

// UpdateProduct перезаписывает поля товара.
func (s *Service) UpdateProduct(ctx context.Context, id string, in ProductInput) (domain.Product, error) {
	product, err := s.products.Get(ctx, id)
	if err != nil {
		return domain.Product{}, err
	}
	in.Name = strings.TrimSpace(in.Name)
	if err := s.validateProduct(ctx, in); err != nil {
		return domain.Product{}, err
	}

	product.Name = in.Name
	product.Price = in.Price
	product.ImageURL = in.ImageURL
	product.CategoryID = in.CategoryID
	product.UpdatedAt = s.now()
	if err := s.products.Update(ctx, product); err != nil {
		return domain.Product{}, err
	}
	return product, nil
}

// DeleteProduct удаляет товар. Уже созданные заказы хранят снимок цены и не затрагиваются.
func (s *Service) DeleteProduct(ctx context.Context, id string) error {
	if err := s.products.Delete(ctx, id); err != nil {
		return err
	}
	s.logger.WithField("product_id", id).Info("product deleted")
	return nil
}

func (s *Service) validateProduct(ctx context.Context, in ProductInput) error {
	if in.Name == "" {
		return domain.ErrProductNameRequired
	}
	if !domain.IsValidPrice(in.Price) {
		return errors.Wrapf(domain.ErrProductPriceInvalid, "price %s", in.Price.String())
	}
	if in.CategoryID != "" {
		if _, err := s.categories.Get(ctx, in.CategoryID); err != nil {
			return markInvalid(errors.Wrapf(err, "category %q", in.CategoryID), domain.ErrInvalidProduct)
		}
	}
	return nil
}

// ListCategories возвращает все категории.
func (s *Service) ListCategories(ctx context.Context) ([]domain.Category, error) {
	return s.categories.List(ctx)
}

// GetCategory возвращает категорию или domain.ErrCategoryNotFound.
func (s *Service) GetCategory(ctx context.Context, id string) (domain.Category, error) {
	return s.categories.Get(ctx, id)
}

// Subcategories возвращает прямых потомков категории.
func (s *Service) Subcategories(ctx context.Context, id string) ([]domain.Category, error) {
	if _, err := s.categories.Get(ctx, id); err != nil {
		return nil, err
	}
	return s.categories.ListChildren(ctx, id)
}

// CreateCategory добавляет категорию.
func (s *Service) CreateCategory(ctx context.Context, in CategoryInput) (domain.Category, error) {
	in.Name = strings.TrimSpace(in.Name)
	if in.Name == "" {
		return domain.Category{}, domain.ErrCategoryNameRequired
	}

	category := domain.Category{
		ID:          s.newID(),
		Name:        in.Name,
		Description: in.Description,
		ParentID:    in.ParentID,
	}
	if err := s.checkParent(ctx, category.ID, in.ParentID); err != nil {
		return domain.Category{}, err
	}

	now := s.now()
	category.CreatedAt = now
	category.UpdatedAt = now
	if err := s.categories.Create(ctx, category); err != nil {
		return domain.Category{}, err
	}

	s.logger.WithFields(log.Fields{"category_id": category.ID, "name": category.Name}).Info("category created")
	return category, nil
}

// UpdateCategory перезаписывает поля категории, в том числе родителя.
func (s *Service) UpdateCategory(ctx context.Context, id string, in CategoryInput) (domain.Category, error) {
	category, err := s.categories.Get(ctx, id)
	if err != nil {
		return domain.Category{}, err
	}
	in.Name = strings.TrimSpace(in.Name)
	if in.Name == "" {
		return domain.Category{}, domain.ErrCategoryNameRequired
	}
	if err := s.checkParent(ctx, id, in.ParentID); err != nil {
		return domain.Category{}, err
	}

	category.Name = in.Name
	category.Description = in.Description
	category.ParentID = in.ParentID
	category.UpdatedAt = s.now()
	if err := s.categories.Update(ctx, category); err != nil {
		return domain.Category{}, err
	}
	return category, nil
}

// DeleteCategory удаляет категорию без товаров и подкатегорий.
func (s *Service) DeleteCategory(ctx context.Context, id string) error {
	if _, err := s.categories.Get(ctx, id); err != nil {
		return err
	}

	children, err := s.categories.ListChildren(ctx, id)
	if err != nil {
		return err
	}
	if len(children) > 0 {
		return errors.Wrapf(domain.ErrCategoryInUse, "%d subcategories", len(children))
	}
	products, err := s.products.ListByCategory(ctx, id)
	if err != nil {
		return err
	}
	if len(products) > 0 {
		return errors.Wrapf(domain.ErrCategoryInUse, "%d products", len(products))
	}

	if err := s.categories.Delete(ctx, id); err != nil {
		return err
	}
	s.logger.WithField("category_id", id).Info("category deleted")
	return nil
}

// checkParent проверяет, что родитель существует и не лежит в поддереве категории id.
func (s *Service) checkParent(ctx context.Context, id, parentID string) error {
	if parentID == "" {
		return nil
	}
	if parentID == id {
		return domain.ErrCategoryCycle
	}

	visited := map[string]struct{}{}
	current := parentID
	for current != "" {
		if current == id {
			return errors.Wrapf(domain.ErrCategoryCycle, "parent %q", parentID)
		}
		if _, seen := visited[current]; seen {
			return errors.Wrapf(domain.ErrCategoryCycle, "existing loop at %q", current)
		}
		visited[current] = struct{}{}

		node, err := s.categories.Get(ctx, current)
		if err != nil {
			if current == parentID {
				return markInvalid(errors.Wrapf(err, "parent %q", parentID), domain.ErrInvalidCategory)
			}
			return errors.Wrapf(err, "ancestor %q", current)
		}
		current = node.ParentID
	}
	return nil
}

// markInvalid помечает отсутствующую ссылку как ошибку валидации входа,
// чтобы её не путали с отсутствием самого ресурса.
func markInvalid(err, kind error) error {
	if domain.IsNotFound(err) {
		return errors.Mark(err, kind)
	}
	return err
}
