package httpapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

func (a *api) listProducts(w http.ResponseWriter, r *http.Request) {
	products, err := a.catalog.ListProducts(r.Context())
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, mapSlice(products, newProductResponse))
}

func (a *api) listProductsByCategory(w http.ResponseWriter, r *http.Request) {
	products, err := a.catalog.ListProductsByCategory(r.Context(), chi.URLParam(r, "categoryId"))
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, mapSlice(products, newProductResponse))
}

func (a *api) getProduct(w http.ResponseWriter, r *http.Request) {
	product, err := a.catalog.GetProduct(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newProductResponse(product))
}

func (a *api) createProduct(w http.ResponseWriter, r *http.Request) {
	var req productRequest
	if err := decodeJSON(r, &req); err != nil {
		a.writeError(w, r, err)
		return
	}
	product, err := a.catalog.CreateProduct(r.Context(), req.toInput())
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, newProductResponse(product))
}

func (a *api) updateProduct(w http.ResponseWriter, r *http.Request) {
	var req productRequest
	if err := decodeJSON(r, &req); err != nil {
		a.writeError(w, r, err)
		return
	}
	product, err := a.catalog.UpdateProduct(r.Context(), chi.URLParam(r, "id"), req.toInput())
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newProductResponse(product))
}

func (a *api) deleteProduct(w http.ResponseWriter, r *http.Request) {
	if err := a.catalog.DeleteProduct(r.Context(), chi.URLParam(r, "id")); err != nil {
		a.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusOK)
}

func (a *api) listCategories(w http.ResponseWriter, r *http.Request) {
	categories, err := a.catalog.ListCategories(r.Context())
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, mapSlice(categories, newCategoryResponse))
}

func (a *api) getCategory(w http.ResponseWriter, r *http.Request) {
	category, err := a.catalog.GetCategory(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newCategoryResponse(category))
}

func (a *api) subcategories(w http.ResponseWriter, r *http.Request) {
	children, err := a.catalog.Subcategories(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, mapSlice(children, newCategoryResponse))
}

func (a *api) createCategory(w http.ResponseWriter, r *http.Request) {
	var req categoryRequest
	if err := decodeJSON(r, &req); err != nil {
		a.writeError(w, r, err)
		return
	}
	category, err := a.catalog.CreateCategory(r.Context(), req.toInput())
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, newCategoryResponse(category))
}

func (a *api) updateCategory(w http.ResponseWriter, r *http.Request) {
	var req categoryRequest
	if err := decodeJSON(r, &req); err != nil {
		a.writeError(w, r, err)
		return
	}
	category, err := a.catalog.UpdateCategory(r.Context(), chi.URLParam(r, "id"), req.toInput())
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newCategoryResponse(category))
}

func (a *api) deleteCategory(w http.ResponseWriter, r *http.Request) {
	if err := a.catalog.DeleteCategory(r.Context(), chi.URLParam(r, "id")); err != nil {
		a.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusOK)
}
