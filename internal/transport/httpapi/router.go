// Package httpapi: JSON API заказов и каталога поверх chi.
package httpapi

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/vladislavdragonenkov/skyshop/internal/domain"
	"github.com/vladislavdragonenkov/skyshop/internal/metrics"
	"github.com/vladislavdragonenkov/skyshop/internal/service/catalog"
	"github.com/vladislavdragonenkov/skyshop/internal/service/order"
)

// OrderService: операции жизненного цикла заказа, доступные через API.
type OrderService interface {
	Create(ctx context.Context, in order.Input) (domain.Order, error)
	Get(ctx context.Context, id string) (domain.Order, error)
	List(ctx context.Context) ([]domain.Order, error)
	Update(ctx context.Context, id string, in order.Input) (domain.Order, error)
	Delete(ctx context.Context, id string) error
	PayOnline(ctx context.Context, id, cardToken string) (domain.Order, error)
	PayOffline(ctx context.Context, id string) (domain.Order, error)
	SetStatus(ctx context.Context, id, status string) (domain.Order, error)
	Timeline(ctx context.Context, id string) ([]domain.TimelineEvent, error)
}

// CatalogService: операции над товарами и категориями.
type CatalogService interface {
	ListProducts(ctx context.Context) ([]domain.Product, error)
	GetProduct(ctx context.Context, id string) (domain.Product, error)
	ListProductsByCategory(ctx context.Context, categoryID string) ([]domain.Product, error)
	CreateProduct(ctx context.Context, in catalog.ProductInput) (domain.Product, error)
	UpdateProduct(ctx context.Context, id string, in catalog.ProductInput) (domain.Product, error)
	DeleteProduct(ctx context.Context, id string) error

	ListCategories(ctx context.Context) ([]domain.Category, error)
	GetCategory(ctx context.Context, id string) (domain.Category, error)
	Subcategories(ctx context.Context, id string) ([]domain.Category, error)
	CreateCategory(ctx context.Context, in catalog.CategoryInput) (domain.Category, error)
	UpdateCategory(ctx context.Context, id string, in catalog.CategoryInput) (domain.Category, error)
	DeleteCategory(ctx context.Context, id string) error
}

var (
	_ OrderService   = (*order.Service)(nil)
	_ CatalogService = (*catalog.Service)(nil)
)

// Option настраивает роутер.
type Option func(*api)

// WithLogger задаёт logger запросов и ошибок.
func WithLogger(logger *log.Entry) Option {
	return func(a *api) {
		if logger != nil {
			a.logger = logger
		}
	}
}

// WithMetrics включает prometheus-метрики запросов.
func WithMetrics(m *metrics.HTTPMetrics) Option {
	return func(a *api) {
		a.metrics = m
	}
}

// WithTracer подменяет tracer (по умолчанию глобальный provider otel).
func WithTracer(tracer trace.Tracer) Option {
	return func(a *api) {
		if tracer != nil {
			a.tracer = tracer
		}
	}
}

type api struct {
	orders  OrderService
	catalog CatalogService
	logger  *log.Entry
	metrics *metrics.HTTPMetrics
	tracer  trace.Tracer
}

// NewRouter собирает http.Handler со всеми маршрутами /api.
func NewRouter(orders OrderService, catalogSvc CatalogService, opts ...Option) http.Handler {
	a := &api{
		orders:  orders,
		catalog: catalogSvc,
		logger:  log.WithField("component", "http-api"),
		tracer:  otel.Tracer("github.com/vladislavdragonenkov/skyshop/internal/transport/httpapi"),
	}
	for _, opt := range opts {
		opt(a)
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(a.observe)
	r.Use(a.recoverer)

	r.Route("/api", func(r chi.Router) {
		r.Route("/orders", func(r chi.Router) {
			r.Get("/", a.listOrders)
			r.Post("/", a.createOrder)
			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", a.getOrder)
				r.Put("/", a.updateOrder)
				r.Delete("/", a.deleteOrder)
				r.Post("/payment", a.payOnline)
				r.Post("/offline-payment", a.payOffline)
				r.Put("/status", a.setStatus)
				r.Get("/timeline", a.orderTimeline)
			})
		})

		r.Route("/products", func(r chi.Router) {
			r.Get("/", a.listProducts)
			r.Post("/", a.createProduct)
			r.Get("/category/{categoryId}", a.listProductsByCategory)
			r.Get("/{id}", a.getProduct)
			r.Put("/{id}", a.updateProduct)
			r.Delete("/{id}", a.deleteProduct)
		})

		r.Route("/categories", func(r chi.Router) {
			r.Get("/", a.listCategories)
			r.Post("/", a.createCategory)
			r.Get("/{id}", a.getCategory)
			r.Put("/{id}", a.updateCategory)
			r.Delete("/{id}", a.deleteCategory)
			r.Get("/{id}/subcategories", a.subcategories)
		})
	})

	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusNotFound, errorResponse{Error: "route not found"})
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusMethodNotAllowed, errorResponse{Error: "method not allowed"})
	})

	return r
}
