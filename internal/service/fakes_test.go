package service

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/sakif/ecofinds/internal/apperror"
	"github.com/sakif/ecofinds/internal/auth"
	"github.com/sakif/ecofinds/internal/events"
	"github.com/sakif/ecofinds/internal/model"
	"github.com/sakif/ecofinds/internal/repository"
)

// fakeStore is an in-memory implementation of all four repositories with
// the same cascade rules as the SQLite schema.
type fakeStore struct {
	users     map[int64]*model.User
	products  map[int64]*model.Product
	cart      map[int64]*model.CartItem
	purchases map[int64]*model.Purchase
	nextID    int64

	// set to simulate a database failure
	failWith error
}

var (
	_ repository.UserRepository     = (*fakeStore)(nil)
	_ repository.ProductRepository  = (*fakeStore)(nil)
	_ repository.CartRepository     = (*fakeStore)(nil)
	_ repository.PurchaseRepository = (*fakeStore)(nil)
)

func newFakeStore() *fakeStore {
	return &fakeStore{
		users:     make(map[int64]*model.User),
		products:  make(map[int64]*model.Product),
		cart:      make(map[int64]*model.CartItem),
		purchases: make(map[int64]*model.Purchase),
	}
}

func (f *fakeStore) id() int64 {
	f.nextID++
	return f.nextID
}

func (f *fakeStore) CreateUser(_ context.Context, user *model.User) error {
	if f.failWith != nil {
		return f.failWith
	}
	user.Email = strings.ToLower(user.Email)
	for _, u := range f.users {
		if u.Email == user.Email {
			return apperror.Conflict("email", "Email already exists")
		}
		if u.Username == user.Username {
			return apperror.Conflict("username", "Username already taken")
		}
	}
	user.ID = f.id()
	user.CreatedAt = time.Now().UTC()
	copied := *user
	f.users[user.ID] = &copied
	return nil
}

func (f *fakeStore) GetUserByID(_ context.Context, id int64) (*model.User, error) {
	if f.failWith != nil {
		return nil, f.failWith
	}
	u, ok := f.users[id]
	if !ok {
		return nil, apperror.NotFound("user", id)
	}
	copied := *u
	return &copied, nil
}

func (f *fakeStore) GetUserByEmail(_ context.Context, email string) (*model.User, error) {
	if f.failWith != nil {
		return nil, f.failWith
	}
	for _, u := range f.users {
		if u.Email == strings.ToLower(email) {
			copied := *u
			return &copied, nil
		}
	}
	return nil, &apperror.AppError{Err: apperror.ErrNotFound, Message: "user not found", Field: "email"}
}

func (f *fakeStore) UpdateUser(_ context.Context, user *model.User) error {
	if _, ok := f.users[user.ID]; !ok {
		return apperror.NotFound("user", user.ID)
	}
	for _, u := range f.users {
		if u.ID != user.ID && u.Email == user.Email {
			return apperror.Conflict("email", "Email already exists")
		}
	}
	copied := *user
	f.users[user.ID] = &copied
	return nil
}

func (f *fakeStore) DeleteUser(_ context.Context, id int64) error {
	if _, ok := f.users[id]; !ok {
		return apperror.NotFound("user", id)
	}
	delete(f.users, id)
	for pid, p := range f.products {
		if p.UserID == id {
			f.deleteProduct(pid)
		}
	}
	for cid, c := range f.cart {
		if c.UserID == id {
			delete(f.cart, cid)
		}
	}
	for pid, p := range f.purchases {
		if p.UserID == id {
			delete(f.purchases, pid)
		}
	}
	return nil
}

func (f *fakeStore) CreateProduct(_ context.Context, p *model.Product) error {
	if f.failWith != nil {
		return f.failWith
	}
	if _, ok := f.users[p.UserID]; !ok {
		return apperror.NotFound("user", p.UserID)
	}
	p.ID = f.id()
	p.CreatedAt = time.Now().UTC()
	copied := *p
	f.products[p.ID] = &copied
	return nil
}

func (f *fakeStore) GetProduct(_ context.Context, id int64) (*model.Product, error) {
	p, ok := f.products[id]
	if !ok {
		return nil, apperror.NotFound("product", id)
	}
	copied := *p
	return &copied, nil
}

func (f *fakeStore) ListProducts(_ context.Context, filter model.ProductFilter, opts repository.ListOptions) ([]model.Product, error) {
	if f.failWith != nil {
		return nil, f.failWith
	}
	var out []model.Product
	for _, p := range f.products {
		if filter.OwnerID != 0 && p.UserID != filter.OwnerID {
			continue
		}
		if filter.Category != "" && p.Category != filter.Category {
			continue
		}
		if filter.Query != "" && !strings.Contains(strings.ToLower(p.Title), strings.ToLower(filter.Query)) {
			continue
		}
		out = append(out, *p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	if opts.Offset >= len(out) {
		return []model.Product{}, nil
	}
	out = out[opts.Offset:]
	if opts.Limit > 0 && len(out) > opts.Limit {
		out = out[:opts.Limit]
	}
	return out, nil
}

func (f *fakeStore) ListCategories(context.Context) ([]string, error) {
	seen := map[string]bool{}
	var out []string
	for _, p := range f.products {
		if p.Category != "" && !seen[p.Category] {
			seen[p.Category] = true
			out = append(out, p.Category)
		}
	}
	sort.Strings(out)
	return out, nil
}

func (f *fakeStore) UpdateProduct(_ context.Context, p *model.Product) error {
	if f.failWith != nil {
		return f.failWith
	}
	if _, ok := f.products[p.ID]; !ok {
		return apperror.NotFound("product", p.ID)
	}
	copied := *p
	f.products[p.ID] = &copied
	return nil
}

func (f *fakeStore) DeleteProduct(_ context.Context, id int64) error {
	if _, ok := f.products[id]; !ok {
		return apperror.NotFound("product", id)
	}
	f.deleteProduct(id)
	return nil
}

func (f *fakeStore) deleteProduct(id int64) {
	delete(f.products, id)
	for cid, c := range f.cart {
		if c.ProductID == id {
			delete(f.cart, cid)
		}
	}
	for _, p := range f.purchases {
		if p.ProductID == id {
			p.ProductID = 0
			p.Product.ID = 0
		}
	}
}

func (f *fakeStore) AddCartItem(_ context.Context, item *model.CartItem) error {
	if _, ok := f.products[item.ProductID]; !ok {
		return apperror.NotFound("product", item.ProductID)
	}
	item.ID = f.id()
	item.AddedAt = time.Now().UTC()
	copied := *item
	f.cart[item.ID] = &copied
	return nil
}

func (f *fakeStore) GetCartItem(_ context.Context, id int64) (*model.CartItem, error) {
	c, ok := f.cart[id]
	if !ok {
		return nil, apperror.NotFound("cart item", id)
	}
	copied := *c
	return &copied, nil
}

func (f *fakeStore) ListCartItems(_ context.Context, userID int64) ([]model.CartItem, error) {
	var out []model.CartItem
	for _, c := range f.cart {
		if c.UserID == userID {
			item := *c
			item.Product = *f.products[c.ProductID]
			out = append(out, item)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (f *fakeStore) RemoveCartItem(_ context.Context, id int64) error {
	if _, ok := f.cart[id]; !ok {
		return apperror.NotFound("cart item", id)
	}
	delete(f.cart, id)
	return nil
}

func (f *fakeStore) Purchase(_ context.Context, userID, productID int64) (*model.Purchase, error) {
	if f.failWith != nil {
		return nil, f.failWith
	}
	product, ok := f.products[productID]
	if !ok {
		return nil, apperror.NotFound("product", productID)
	}
	p := &model.Purchase{ID: f.id(), UserID: userID, ProductID: productID, PurchasedAt: time.Now().UTC(), Product: *product}
	f.purchases[p.ID] = p
	for cid, c := range f.cart {
		if c.UserID == userID && c.ProductID == productID {
			delete(f.cart, cid)
		}
	}
	out := *p
	return &out, nil
}

func (f *fakeStore) ListPurchases(_ context.Context, userID int64) ([]model.Purchase, error) {
	var out []model.Purchase
	for _, p := range f.purchases {
		if p.UserID == userID {
			out = append(out, *p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	return out, nil
}

// fakeImages records removals instead of touching disk.
type fakeImages struct {
	removed []string
}

func (f *fakeImages) Save(name string, _ io.Reader) (string, error) { return "saved-" + name, nil }

func (f *fakeImages) Remove(name string) error {
	if name == "" || name == model.PlaceholderImage {
		return nil
	}
	f.removed = append(f.removed, name)
	return nil
}

// recordingPublisher keeps every published event.
type recordingPublisher struct {
	mu     sync.Mutex
	events []events.PurchaseEvent
	err    error
}

func (p *recordingPublisher) PublishPurchase(_ context.Context, ev events.PurchaseEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.events = append(p.events, ev)
	return nil
}

func (p *recordingPublisher) Close() error { return nil }

var errDatabaseDown = errors.New("database is down")

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

// Cost 4 is the bcrypt minimum and keeps tests fast.
func testPasswords() *auth.PasswordService {
	return auth.NewPasswordServiceWithCost(4)
}

func newTestAuthService(t *testing.T, store *fakeStore) *AuthService {
	t.Helper()
	ts, err := auth.NewTokenService("test-secret-at-least-16-chars!!", time.Hour)
	if err != nil {
		t.Fatalf("NewTokenService: %v", err)
	}
	svc, err := NewAuthService(store, ts, testPasswords(), testLogger())
	if err != nil {
		t.Fatalf("NewAuthService: %v", err)
	}
	return svc
}

// seedUser inserts a user with password "secret123".
func seedUser(t *testing.T, store *fakeStore, username string) *model.User {
	t.Helper()
	hash, err := testPasswords().Hash("secret123")
	if err != nil {
		t.Fatalf("Hash: %v", err)
	}
	u := &model.User{Username: username, Email: username + "@example.com", PasswordHash: hash}
	if err := store.CreateUser(context.Background(), u); err != nil {
		t.Fatalf("CreateUser: %v", err)
	}
	return u
}

func seedProduct(t *testing.T, store *fakeStore, owner int64, title, image string) *model.Product {
	t.Helper()
	p := &model.Product{Title: title, Category: "Misc", Price: 10, Image: image, UserID: owner}
	if err := store.CreateProduct(context.Background(), p); err != nil {
		t.Fatalf("CreateProduct: %v", err)
	}
	return p
}
