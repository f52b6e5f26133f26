package service

import (
	"context"
	"errors"
	"math"
	"strings"
	"testing"

	"github.com/sakif/ecofinds/internal/apperror"
	"github.com/sakif/ecofinds/internal/model"
	"github.com/sakif/ecofinds/internal/repository"
)

func newTestProductService(store *fakeStore, images *fakeImages) *ProductService {
	return NewProductService(store, images, testLogger())
}

func TestProductCreate_Success(t *testing.T) {
	store := newFakeStore()
	svc := newTestProductService(store, &fakeImages{})
	owner := seedUser(t, store, "ivy")

	p, err := svc.Create(context.Background(), owner.ID, model.ProductInput{
		Title:       "  Vintage Bike ",
		Description: "Blue",
		Category:    "Sports",
		Price:       120,
	})
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if p.Title != "Vintage Bike" {
		t.Errorf("Title = %q, want trimmed", p.Title)
	}
	if p.UserID != owner.ID {
		t.Errorf("UserID = %d, want %d", p.UserID, owner.ID)
	}
	if p.Image != model.PlaceholderImage {
		t.Errorf("Image = %q, want placeholder", p.Image)
	}

	listed, err := svc.List(context.Background(), model.ProductFilter{}, repository.ListOptions{})
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(listed) != 1 || listed[0].ID != p.ID {
		t.Errorf("List() = %+v, want the new product", listed)
	}
	got, err := svc.Get(context.Background(), p.ID)
	if err != nil || got.Title != "Vintage Bike" {
		t.Errorf("Get() = %+v, %v", got, err)
	}
}

func TestProductCreate_Validation(t *testing.T) {
	tests := []struct {
		name  string
		in    model.ProductInput
		field string
	}{
		{"missing title", model.ProductInput{Title: " ", Price: 1}, "title"},
		{"long title", model.ProductInput{Title: strings.Repeat("a", MaxTitleLength+1), Price: 1}, "title"},
		{"long category", model.ProductInput{Title: "t", Category: strings.Repeat("c", MaxCategoryLength+1)}, "category"},
		{"negative price", model.ProductInput{Title: "t", Price: -0.01}, "price"},
		{"NaN price", model.ProductInput{Title: "t", Price: math.NaN()}, "price"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			store := newFakeStore()
			images := &fakeImages{}
			svc := newTestProductService(store, images)
			owner := seedUser(t, store, "jack")
			tc.in.Image = "upload.png"

			_, err := svc.Create(context.Background(), owner.ID, tc.in)
			var appErr *apperror.AppError
			if !errors.As(err, &appErr) || appErr.Field != tc.field {
				t.Fatalf("error = %v, want validation on %q", err, tc.field)
			}
			if len(images.removed) != 1 {
				t.Errorf("rejected upload should be removed, removed = %v", images.removed)
			}
		})
	}
}

func TestProductCreate_ZeroPriceAllowed(t *testing.T) {
	store := newFakeStore()
	svc := newTestProductService(store, &fakeImages{})
	owner := seedUser(t, store, "kim")

	if _, err := svc.Create(context.Background(), owner.ID, model.ProductInput{Title: "Free", Price: 0}); err != nil {
		t.Fatalf("Create() error = %v", err)
	}
}

func TestProductUpdate_ReplacesImage(t *testing.T) {
	store := newFakeStore()
	images := &fakeImages{}
	svc := newTestProductService(store, images)
	owner := seedUser(t, store, "lee")
	p := seedProduct(t, store, owner.ID, "Old", "old.png")

	updated, err := svc.Update(context.Background(), owner.ID, p.ID, model.ProductInput{
		Title: "New", Category: "Home", Price: 5, Image: "new.png",
	})
	if err != nil {
		t.Fatalf("Update() error = %v", err)
	}
	if updated.Image != "new.png" || updated.Title != "New" {
		t.Errorf("got %+v", updated)
	}
	if len(images.removed) != 1 || images.removed[0] != "old.png" {
		t.Errorf("removed = %v, want [old.png]", images.removed)
	}
}

func TestProductUpdate_KeepsImageWithoutUpload(t *testing.T) {
	store := newFakeStore()
	images := &fakeImages{}
	svc := newTestProductService(store, images)
	owner := seedUser(t, store, "mia")
	p := seedProduct(t, store, owner.ID, "Old", "keep.png")

	updated, err := svc.Update(context.Background(), owner.ID, p.ID, model.ProductInput{Title: "Renamed", Price: 1})
	if err != nil {
		t.Fatalf("Update() error = %v", err)
	}
	if updated.Image != "keep.png" {
		t.Errorf("Image = %q, want keep.png", updated.Image)
	}
	if len(images.removed) != 0 {
		t.Errorf("removed = %v, want none", images.removed)
	}
}

func TestProductUpdate_WrongOwner(t *testing.T) {
	store := newFakeStore()
	images := &fakeImages{}
	svc := newTestProductService(store, images)
	owner := seedUser(t, store, "nina")
	intruder := seedUser(t, store, "oscar")
	p := seedProduct(t, store, owner.ID, "Mine", model.PlaceholderImage)

	_, err := svc.Update(context.Background(), intruder.ID, p.ID, model.ProductInput{Title: "Stolen", Image: "x.png"})
	if !errors.Is(err, apperror.ErrForbidden) {
		t.Fatalf("error = %v, want ErrForbidden", err)
	}
	if store.products[p.ID].Title != "Mine" {
		t.Error("product must not change")
	}
	if len(images.removed) != 1 || images.removed[0] != "x.png" {
		t.Errorf("intruder's upload should be discarded, removed = %v", images.removed)
	}
}

func TestProductDelete(t *testing.T) {
	store := newFakeStore()
	images := &fakeImages{}
	svc := newTestProductService(store, images)
	owner := seedUser(t, store, "pat")
	other := seedUser(t, store, "quinn")
	p := seedProduct(t, store, owner.ID, "Gone", "gone.png")

	if err := svc.Delete(context.Background(), other.ID, p.ID); !errors.Is(err, apperror.ErrForbidden) {
		t.Fatalf("Delete() by non-owner error = %v, want ErrForbidden", err)
	}
	if err := svc.Delete(context.Background(), owner.ID, p.ID); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if _, err := svc.Get(context.Background(), p.ID); !errors.Is(err, apperror.ErrNotFound) {
		t.Errorf("Get() after delete error = %v, want ErrNotFound", err)
	}
	if len(images.removed) != 1 || images.removed[0] != "gone.png" {
		t.Errorf("removed = %v", images.removed)
	}
	if err := svc.Delete(context.Background(), owner.ID, p.ID); !errors.Is(err, apperror.ErrNotFound) {
		t.Errorf("second Delete() error = %v, want ErrNotFound", err)
	}
}

func TestProductList_FiltersAndClamps(t *testing.T) {
	store := newFakeStore()
	svc := newTestProductService(store, &fakeImages{})
	owner := seedUser(t, store, "rose")
	seedProduct(t, store, owner.ID, "Red Bike", "")
	seedProduct(t, store, owner.ID, "Blue Chair", "")

	got, err := svc.List(context.Background(), model.ProductFilter{Query: "  bike "}, repository.ListOptions{Limit: 10_000, Offset: -5})
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(got) != 1 || got[0].Title != "Red Bike" {
		t.Errorf("List() = %+v, want only Red Bike", got)
	}

	cats, err := svc.Categories(context.Background())
	if err != nil {
		t.Fatalf("Categories() error = %v", err)
	}
	if len(cats) != 1 || cats[0] != "Misc" {
		t.Errorf("Categories() = %v", cats)
	}
}
