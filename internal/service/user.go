package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/sakif/ecofinds/internal/apperror"
	"github.com/sakif/ecofinds/internal/auth"
	"github.com/sakif/ecofinds/internal/model"
	"github.com/sakif/ecofinds/internal/repository"
	"github.com/sakif/ecofinds/internal/upload"
)

type UserService struct {
	users     repository.UserRepository
	products  repository.ProductRepository
	passwords *auth.PasswordService
	images    upload.ImageStore
	logger    *slog.Logger
}

func NewUserService(
	users repository.UserRepository,
	products repository.ProductRepository,
	passwords *auth.PasswordService,
	images upload.ImageStore,
	logger *slog.Logger,
) *UserService {
	return &UserService{
		users:     users,
		products:  products,
		passwords: passwords,
		images:    images,
		logger:    logger,
	}
}

func (s *UserService) Get(ctx context.Context, id int64) (*model.User, error) {
	user, err := s.users.GetUserByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("service/user: fetching user %d: %w", id, err)
	}
	return user, nil
}

// Dashboard returns user id and the products they list. Only the user
// may see their own dashboard.
func (s *UserService) Dashboard(ctx context.Context, actor, id int64) (*model.User, []model.Product, error) {
	if err := requireSelf(actor, id); err != nil {
		return nil, nil, err
	}
	user, err := s.Get(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	products, err := s.ownedProducts(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	return user, products, nil
}

// ownedProducts pages through every product listed by user id.
func (s *UserService) ownedProducts(ctx context.Context, id int64) ([]model.Product, error) {
	var all []model.Product
	opts := repository.ListOptions{Limit: MaxListLimit}
	for {
		page, err := s.products.ListProducts(ctx, model.ProductFilter{OwnerID: id}, opts)
		if err != nil {
			return nil, fmt.Errorf("service/user: listing products of user %d: %w", id, err)
		}
		all = append(all, page...)
		if len(page) < opts.Limit {
			return all, nil
		}
		opts.Offset += len(page)
	}
}

// Update changes the profile of user id. A blank password keeps the
// current hash.
func (s *UserService) Update(ctx context.Context, actor, id int64, in model.UserUpdate) (*model.User, error) {
	if err := requireSelf(actor, id); err != nil {
		return nil, err
	}

	user, err := s.users.GetUserByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("service/user: fetching user %d: %w", id, err)
	}

	if user.Username, err = validateUsername(in.Username); err != nil {
		return nil, err
	}
	if user.Email, err = validateEmail(in.Email); err != nil {
		return nil, err
	}
	if in.Password != "" {
		if err := validatePassword(in.Password, in.ConfirmPassword); err != nil {
			return nil, err
		}
		if user.PasswordHash, err = s.passwords.Hash(in.Password); err != nil {
			return nil, fmt.Errorf("service/user: hashing password: %w", err)
		}
	}

	if err := s.users.UpdateUser(ctx, user); err != nil {
		if errors.Is(err, apperror.ErrConflict) {
			return nil, err
		}
		return nil, fmt.Errorf("service/user: updating user %d: %w", id, err)
	}

	s.logger.Info("user updated",
		slog.Int64("userID", id),
		slog.Bool("passwordChanged", in.Password != ""),
	)
	return user, nil
}

// Delete removes the account along with its products, cart rows and
// purchases, then deletes the uploaded images of those products. Other
// users' purchases of those products are kept.
func (s *UserService) Delete(ctx context.Context, actor, id int64) error {
	if err := requireSelf(actor, id); err != nil {
		return err
	}

	owned, err := s.ownedProducts(ctx, id)
	if err != nil {
		return err
	}
	var images []string
	for _, p := range owned {
		if p.HasUpload() {
			images = append(images, p.Image)
		}
	}

	if err := s.users.DeleteUser(ctx, id); err != nil {
		return fmt.Errorf("service/user: deleting user %d: %w", id, err)
	}

	for _, name := range images {
		if err := s.images.Remove(name); err != nil {
			s.logger.Warn("failed to remove product image",
				slog.String("image", name),
				slog.String("error", err.Error()),
			)
		}
	}

	s.logger.Info("user deleted",
		slog.Int64("userID", id),
		slog.Int("images", len(images)),
	)
	return nil
}
