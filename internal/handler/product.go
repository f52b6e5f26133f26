package handler

import (
	"errors"
	"fmt"
	"log/slog"
	"math"
	"net/http"
	"strconv"
	"strings"

	"github.com/sakif/ecofinds/internal/apperror"
	"github.com/sakif/ecofinds/internal/model"
	"github.com/sakif/ecofinds/internal/repository"
	"github.com/sakif/ecofinds/internal/service"
	"github.com/sakif/ecofinds/internal/upload"
)

// multipartOverhead is allowed on top of the image limit for the other
// form fields.
const multipartOverhead = 1 << 20

// ProductHandler serves the listing, product pages and the JSON read API.
type ProductHandler struct {
	pages
	products *service.ProductService
	images   upload.ImageStore
	maxBytes int64
}

func NewProductHandler(
	render *Renderer,
	products *service.ProductService,
	images upload.ImageStore,
	maxUploadBytes int64,
	logger *slog.Logger,
) *ProductHandler {
	if maxUploadBytes <= 0 {
		maxUploadBytes = upload.DefaultMaxBytes
	}
	return &ProductHandler{
		pages:    pages{render: render, logger: logger},
		products: products,
		images:   images,
		maxBytes: maxUploadBytes,
	}
}

// HandleHome lists products, optionally searched and filtered.
//
// HTTP: GET /?q=bike&category=Sports
func (h *ProductHandler) HandleHome(w http.ResponseWriter, r *http.Request) {
	filter := model.ProductFilter{
		Query:    r.URL.Query().Get("q"),
		Category: r.URL.Query().Get("category"),
	}
	products, err := h.products.List(r.Context(), filter, listOptions(r))
	if err != nil {
		h.renderError(w, r, err)
		return
	}
	categories, err := h.products.Categories(r.Context())
	if err != nil {
		h.renderError(w, r, err)
		return
	}
	h.render.Render(w, r, http.StatusOK, "home", "", map[string]any{
		"Products":   products,
		"Categories": categories,
		"Query":      filter.Query,
		"Category":   filter.Category,
	})
}

// HandleDetail shows one product.
//
// HTTP: GET /product/{id}
func (h *ProductHandler) HandleDetail(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r, "id")
	if err != nil {
		h.renderError(w, r, err)
		return
	}
	p, err := h.products.Get(r.Context(), id)
	if err != nil {
		h.renderError(w, r, err)
		return
	}
	h.render.Render(w, r, http.StatusOK, "product_detail", p.Title, map[string]any{"Product": p})
}

// HandleAddForm renders the empty product form.
//
// HTTP: GET /product/add
func (h *ProductHandler) HandleAddForm(w http.ResponseWriter, r *http.Request) {
	h.render.Render(w, r, http.StatusOK, "product_form", "List a product", map[string]any{})
}

// HandleAdd creates a product owned by the signed-in user.
//
// HTTP: POST /product/add (multipart, optional "image" file)
func (h *ProductHandler) HandleAdd(w http.ResponseWriter, r *http.Request) {
	in, err := h.parseProductForm(w, r)
	if err != nil {
		h.formError(w, r, err, "/product/add")
		return
	}
	if _, err := h.products.Create(r.Context(), actor(r), in); err != nil {
		h.formError(w, r, err, "/product/add")
		return
	}
	redirectWithFlash(w, r, flashSuccess, "Product added!", "/")
}

// HandleEditForm renders the product form filled with the current values.
//
// HTTP: GET /product/{id}/edit
func (h *ProductHandler) HandleEditForm(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r, "id")
	if err != nil {
		h.renderError(w, r, err)
		return
	}
	p, err := h.products.Get(r.Context(), id)
	if err != nil {
		h.renderError(w, r, err)
		return
	}
	if p.UserID != actor(r) {
		h.renderError(w, r, apperror.Forbidden("You can only edit your own products"))
		return
	}
	h.render.Render(w, r, http.StatusOK, "product_form", "Edit product", map[string]any{"Product": p})
}

// HandleEdit saves changes to a product.
//
// HTTP: POST /product/{id}/edit
func (h *ProductHandler) HandleEdit(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r, "id")
	if err != nil {
		h.renderError(w, r, err)
		return
	}
	back := fmt.Sprintf("/product/%d/edit", id)

	in, err := h.parseProductForm(w, r)
	if err != nil {
		h.formError(w, r, err, back)
		return
	}
	if _, err := h.products.Update(r.Context(), actor(r), id, in); err != nil {
		h.formError(w, r, err, back)
		return
	}
	redirectWithFlash(w, r, flashSuccess, "Product updated!", fmt.Sprintf("/product/%d", id))
}

// HandleDelete removes a product.
//
// HTTP: GET /product/{id}/delete, POST /product/{id}/delete
func (h *ProductHandler) HandleDelete(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r, "id")
	if err != nil {
		h.renderError(w, r, err)
		return
	}
	if err := h.products.Delete(r.Context(), actor(r), id); err != nil {
		h.renderError(w, r, err)
		return
	}
	redirectWithFlash(w, r, flashDanger, "Product deleted!", "/")
}

// HandleAPIList returns products as JSON.
//
// HTTP: GET /api/products?q=&category=&owner=&limit=&offset=
func (h *ProductHandler) HandleAPIList(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := model.ProductFilter{Query: q.Get("q"), Category: q.Get("category")}
	if owner := q.Get("owner"); owner != "" {
		id, err := strconv.ParseInt(owner, 10, 64)
		if err != nil {
			writeError(w, apperror.ValidationFailed("owner", "owner must be a user id"))
			return
		}
		filter.OwnerID = id
	}

	products, err := h.products.List(r.Context(), filter, listOptions(r))
	if err != nil {
		writeError(w, err)
		return
	}
	if products == nil {
		products = []model.Product{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"products": products})
}

// HandleAPIGet returns one product as JSON.
//
// HTTP: GET /api/products/{id}
func (h *ProductHandler) HandleAPIGet(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r, "id")
	if err != nil {
		writeError(w, err)
		return
	}
	p, err := h.products.Get(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

// parseProductForm reads the product fields and stores the uploaded image,
// if any. The returned input carries the stored image name.
func (h *ProductHandler) parseProductForm(w http.ResponseWriter, r *http.Request) (model.ProductInput, error) {
	r.Body = http.MaxBytesReader(w, r.Body, h.maxBytes+multipartOverhead)
	if err := r.ParseMultipartForm(h.maxBytes + multipartOverhead); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return model.ProductInput{}, apperror.ValidationFailed("image",
				fmt.Sprintf("Image must be at most %d MB", h.maxBytes>>20))
		}
		if !errors.Is(err, http.ErrNotMultipart) {
			return model.ProductInput{}, apperror.ValidationFailed("", "Could not read the form")
		}
		// Plain urlencoded forms are fine when there is no image.
		if err := r.ParseForm(); err != nil {
			return model.ProductInput{}, apperror.ValidationFailed("", "Could not read the form")
		}
	}

	price, err := strconv.ParseFloat(strings.TrimSpace(r.FormValue("price")), 64)
	if err != nil || math.IsNaN(price) || math.IsInf(price, 0) {
		return model.ProductInput{}, apperror.ValidationFailed("price", "Price must be a number")
	}

	in := model.ProductInput{
		Title:       r.FormValue("title"),
		Description: r.FormValue("description"),
		Category:    r.FormValue("category"),
		Price:       price,
	}

	file, header, err := r.FormFile("image")
	switch {
	case errors.Is(err, http.ErrMissingFile), errors.Is(err, http.ErrNotMultipart):
		return in, nil
	case err != nil:
		return model.ProductInput{}, apperror.ValidationFailed("image", "Could not read the uploaded image")
	}
	defer file.Close()
	if header.Filename == "" {
		return in, nil
	}

	name, err := h.images.Save(header.Filename, file)
	if err != nil {
		return model.ProductInput{}, err
	}
	in.Image = name
	return in, nil
}

// listOptions reads limit and offset query parameters. Bad values fall
// back to the defaults.
func listOptions(r *http.Request) repository.ListOptions {
	var opts repository.ListOptions
	if v, err := strconv.Atoi(r.URL.Query().Get("limit")); err == nil {
		opts.Limit = v
	}
	if v, err := strconv.Atoi(r.URL.Query().Get("offset")); err == nil {
		opts.Offset = v
	}
	return opts
}
