package service

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"strings"

	"github.com/sakif/ecofinds/internal/apperror"
	"github.com/sakif/ecofinds/internal/model"
	"github.com/sakif/ecofinds/internal/repository"
	"github.com/sakif/ecofinds/internal/upload"
)

const (
	MaxTitleLength       = 200
	MaxCategoryLength    = 50
	MaxDescriptionLength = 5000
	DefaultListLimit     = 50
	MaxListLimit         = 200
)

type ProductService struct {
	products repository.ProductRepository
	images   upload.ImageStore
	logger   *slog.Logger
}

func NewProductService(products repository.ProductRepository, images upload.ImageStore, logger *slog.Logger) *ProductService {
	return &ProductService{products: products, images: images, logger: logger}
}

// Create lists a new product owned by actor. in.Image is the name of an
// already stored upload, or empty for the placeholder. The upload is
// removed again if the product cannot be saved.
func (s *ProductService) Create(ctx context.Context, actor int64, in model.ProductInput) (*model.Product, error) {
	in, err := validateProduct(in)
	if err != nil {
		s.discard(in.Image)
		return nil, err
	}

	product := &model.Product{
		Title:       in.Title,
		Description: in.Description,
		Category:    in.Category,
		Price:       in.Price,
		Image:       in.Image,
		UserID:      actor,
	}
	if product.Image == "" {
		product.Image = model.PlaceholderImage
	}

	if err := s.products.CreateProduct(ctx, product); err != nil {
		s.discard(in.Image)
		return nil, fmt.Errorf("service/product: creating product: %w", err)
	}

	s.logger.Info("product created",
		slog.Int64("productID", product.ID),
		slog.Int64("userID", actor),
		slog.String("title", product.Title),
	)
	return product, nil
}

func (s *ProductService) Get(ctx context.Context, id int64) (*model.Product, error) {
	p, err := s.products.GetProduct(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("service/product: fetching product %d: %w", id, err)
	}
	return p, nil
}

// List returns products matching filter, newest first. Out-of-range
// paging values are clamped rather than rejected.
func (s *ProductService) List(ctx context.Context, filter model.ProductFilter, opts repository.ListOptions) ([]model.Product, error) {
	if opts.Limit <= 0 {
		opts.Limit = DefaultListLimit
	}
	if opts.Limit > MaxListLimit {
		opts.Limit = MaxListLimit
	}
	if opts.Offset < 0 {
		opts.Offset = 0
	}
	filter.Query = strings.TrimSpace(filter.Query)
	filter.Category = strings.TrimSpace(filter.Category)

	products, err := s.products.ListProducts(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("service/product: listing products: %w", err)
	}
	return products, nil
}

func (s *ProductService) Categories(ctx context.Context) ([]string, error) {
	cats, err := s.products.ListCategories(ctx)
	if err != nil {
		return nil, fmt.Errorf("service/product: listing categories: %w", err)
	}
	return cats, nil
}

// Update edits a product. Only its owner may do so. A non-empty in.Image
// replaces the current image and the old upload is deleted.
func (s *ProductService) Update(ctx context.Context, actor, id int64, in model.ProductInput) (*model.Product, error) {
	product, err := s.owned(ctx, actor, id, "edit")
	if err != nil {
		s.discard(in.Image)
		return nil, err
	}

	in, err = validateProduct(in)
	if err != nil {
		s.discard(in.Image)
		return nil, err
	}

	oldImage := product.Image
	product.Title = in.Title
	product.Description = in.Description
	product.Category = in.Category
	product.Price = in.Price
	if in.Image != "" {
		product.Image = in.Image
	}

	if err := s.products.UpdateProduct(ctx, product); err != nil {
		s.discard(in.Image)
		return nil, fmt.Errorf("service/product: updating product %d: %w", id, err)
	}
	if product.Image != oldImage {
		s.discard(oldImage)
	}

	s.logger.Info("product updated", slog.Int64("productID", id), slog.Int64("userID", actor))
	return product, nil
}

// Delete removes a product and its upload. Cart rows and purchases that
// reference it go with it.
func (s *ProductService) Delete(ctx context.Context, actor, id int64) error {
	product, err := s.owned(ctx, actor, id, "delete")
	if err != nil {
		return err
	}
	if err := s.products.DeleteProduct(ctx, id); err != nil {
		return fmt.Errorf("service/product: deleting product %d: %w", id, err)
	}
	s.discard(product.Image)

	s.logger.Info("product deleted", slog.Int64("productID", id), slog.Int64("userID", actor))
	return nil
}

func (s *ProductService) owned(ctx context.Context, actor, id int64, verb string) (*model.Product, error) {
	product, err := s.products.GetProduct(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("service/product: fetching product %d: %w", id, err)
	}
	if product.UserID != actor {
		return nil, apperror.Forbidden(fmt.Sprintf("You can only %s your own products", verb))
	}
	return product, nil
}

// discard removes an upload that is no longer referenced.
func (s *ProductService) discard(image string) {
	if image == "" || image == model.PlaceholderImage {
		return
	}
	if err := s.images.Remove(image); err != nil {
		s.logger.Warn("failed to remove product image",
			slog.String("image", image),
			slog.String("error", err.Error()),
		)
	}
}

func validateProduct(in model.ProductInput) (model.ProductInput, error) {
	in.Title = strings.TrimSpace(in.Title)
	in.Category = strings.TrimSpace(in.Category)
	in.Description = strings.TrimSpace(in.Description)

	switch {
	case in.Title == "":
		return in, apperror.ValidationFailed("title", "Title is required")
	case len(in.Title) > MaxTitleLength:
		return in, apperror.ValidationFailed("title",
			fmt.Sprintf("Title must be %d characters or less", MaxTitleLength))
	case len(in.Category) > MaxCategoryLength:
		return in, apperror.ValidationFailed("category",
			fmt.Sprintf("Category must be %d characters or less", MaxCategoryLength))
	case len(in.Description) > MaxDescriptionLength:
		return in, apperror.ValidationFailed("description",
			fmt.Sprintf("Description must be %d characters or less", MaxDescriptionLength))
	case math.IsNaN(in.Price) || math.IsInf(in.Price, 0):
		return in, apperror.ValidationFailed("price", "Price must be a number")
	case in.Price < 0:
		return in, apperror.ValidationFailed("price", "Price must not be negative")
	}
	return in, nil
}
