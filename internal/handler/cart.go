package handler

import (
	"fmt"
	"log/slog"
	"net/http"

	"github.com/sakif/ecofinds/internal/service"
)

// CartHandler serves the cart and purchase pages.
type CartHandler struct {
	pages
	cart      *service.CartService
	purchases *service.PurchaseService
}

func NewCartHandler(render *Renderer, cart *service.CartService, purchases *service.PurchaseService, logger *slog.Logger) *CartHandler {
	return &CartHandler{
		pages:     pages{render: render, logger: logger},
		cart:      cart,
		purchases: purchases,
	}
}

// HandleCart shows the cart with its total.
//
// HTTP: GET /cart/{userID}
func (h *CartHandler) HandleCart(w http.ResponseWriter, r *http.Request) {
	userID, err := idParam(r, "userID")
	if err != nil {
		h.renderError(w, r, err)
		return
	}
	items, total, err := h.cart.List(r.Context(), actor(r), userID)
	if err != nil {
		h.renderError(w, r, err)
		return
	}
	h.render.Render(w, r, http.StatusOK, "cart", "Cart", map[string]any{
		"Items": items,
		"Total": total,
	})
}

// HandleAdd puts a product in the cart.
//
// HTTP: GET /cart/add/{userID}/{productID}
func (h *CartHandler) HandleAdd(w http.ResponseWriter, r *http.Request) {
	userID, productID, err := userAndProduct(r)
	if err != nil {
		h.renderError(w, r, err)
		return
	}
	if _, err := h.cart.Add(r.Context(), actor(r), userID, productID); err != nil {
		h.renderError(w, r, err)
		return
	}
	redirectWithFlash(w, r, flashSuccess, "Product added to cart!", fmt.Sprintf("/cart/%d", userID))
}

// HandleRemove deletes one cart row.
//
// HTTP: GET /cart/remove/{itemID}
func (h *CartHandler) HandleRemove(w http.ResponseWriter, r *http.Request) {
	itemID, err := idParam(r, "itemID")
	if err != nil {
		h.renderError(w, r, err)
		return
	}
	owner, err := h.cart.Remove(r.Context(), actor(r), itemID)
	if err != nil {
		h.renderError(w, r, err)
		return
	}
	redirectWithFlash(w, r, flashDanger, "Removed from cart!", fmt.Sprintf("/cart/%d", owner))
}

// HandlePurchase records a purchase and clears the product from the cart.
//
// HTTP: GET /purchase/{userID}/{productID}
func (h *CartHandler) HandlePurchase(w http.ResponseWriter, r *http.Request) {
	userID, productID, err := userAndProduct(r)
	if err != nil {
		h.renderError(w, r, err)
		return
	}
	if _, err := h.purchases.Purchase(r.Context(), actor(r), userID, productID); err != nil {
		h.renderError(w, r, err)
		return
	}
	redirectWithFlash(w, r, flashSuccess, "Purchase successful!", fmt.Sprintf("/purchases/%d", userID))
}

// HandlePurchases shows the purchase history.
//
// HTTP: GET /purchases/{userID}
func (h *CartHandler) HandlePurchases(w http.ResponseWriter, r *http.Request) {
	userID, err := idParam(r, "userID")
	if err != nil {
		h.renderError(w, r, err)
		return
	}
	purchases, err := h.purchases.List(r.Context(), actor(r), userID)
	if err != nil {
		h.renderError(w, r, err)
		return
	}
	h.render.Render(w, r, http.StatusOK, "purchases", "Purchases", map[string]any{"Purchases": purchases})
}

func userAndProduct(r *http.Request) (int64, int64, error) {
	userID, err := idParam(r, "userID")
	if err != nil {
		return 0, 0, err
	}
	productID, err := idParam(r, "productID")
	if err != nil {
		return 0, 0, err
	}
	return userID, productID, nil
}
