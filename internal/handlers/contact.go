package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/contactbook/apiserver/internal/auth"
	"github.com/contactbook/apiserver/internal/services"
	"github.com/contactbook/apiserver/internal/store"
	"github.com/contactbook/apiserver/types"
)

const maxNameLength = 50

// ContactHandler provides HTTP handlers for the contact list.
type ContactHandler struct {
	contactService *services.ContactService
}

// NewContactHandler constructs a handler with the provided service.
func NewContactHandler(contactService *services.ContactService) *ContactHandler {
	return &ContactHandler{contactService: contactService}
}

// ContactRouter registers contact routes on the given router. All
// routes require authentication; limiter may be nil to disable rate
// limiting (tests).
func ContactRouter(
	r chi.Router,
	contactService *services.ContactService,
	authMiddleware func(http.Handler) http.Handler,
	limiter func(http.Handler) http.Handler,
) {
	handler := NewContactHandler(contactService)

	if authMiddleware != nil {
		r.Use(authMiddleware)
	}
	if limiter != nil {
		r.Use(limiter)
	}

	r.Get("/", handler.List)
	r.Post("/", handler.Create)
	r.Get("/search-by-firstname/{firstname}", handler.SearchByFirstname)
	r.Get("/search-by-lastname/{lastname}", handler.SearchByLastname)
	r.Get("/search-by-email/{email}", handler.SearchByEmail)
	r.Get("/birthday-contacts/", handler.UpcomingBirthdays)
	r.Route("/{contactID}", func(r chi.Router) {
		r.Get("/", handler.Get)
		r.Put("/", handler.Update)
		r.Delete("/", handler.Delete)
	})
}

func (h *ContactHandler) List(w http.ResponseWriter, r *http.Request) {
	user, err := userFromContext(r.Context())
	if err != nil {
		writeUnauthorized(w, auth.ErrInvalidToken.Error())
		return
	}

	contacts, err := h.contactService.List(r.Context(), user.ID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list contacts")
		return
	}

	writeJSON(w, http.StatusOK, contacts)
}

func (h *ContactHandler) Create(w http.ResponseWriter, r *http.Request) {
	user, err := userFromContext(r.Context())
	if err != nil {
		writeUnauthorized(w, auth.ErrInvalidToken.Error())
		return
	}

	req, err := parseContactRequest(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	created, err := h.contactService.Create(r.Context(), types.Contact{
		Firstname: req.Firstname,
		Lastname:  req.Lastname,
		Email:     req.Email,
		Phone:     req.Phone,
		Birthday:  req.Birthday,
		UserID:    user.ID,
	})
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to create contact")
		return
	}

	writeJSON(w, http.StatusCreated, created)
}

func (h *ContactHandler) Get(w http.ResponseWriter, r *http.Request) {
	user, err := userFromContext(r.Context())
	if err != nil {
		writeUnauthorized(w, auth.ErrInvalidToken.Error())
		return
	}

	id, err := parseContactID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	contact, err := h.contactService.Get(r.Context(), user.ID, id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "Contact not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "failed to fetch contact")
		return
	}

	writeJSON(w, http.StatusOK, contact)
}

func (h *ContactHandler) Update(w http.ResponseWriter, r *http.Request) {
	user, err := userFromContext(r.Context())
	if err != nil {
		writeUnauthorized(w, auth.ErrInvalidToken.Error())
		return
	}

	id, err := parseContactID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	req, err := parseContactRequest(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	updated, err := h.contactService.Update(r.Context(), types.Contact{
		ID:        id,
		Firstname: req.Firstname,
		Lastname:  req.Lastname,
		Email:     req.Email,
		Phone:     req.Phone,
		Birthday:  req.Birthday,
		UserID:    user.ID,
	})
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "Contact not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "failed to update contact")
		return
	}

	writeJSON(w, http.StatusOK, updated)
}

func (h *ContactHandler) Delete(w http.ResponseWriter, r *http.Request) {
	user, err := userFromContext(r.Context())
	if err != nil {
		writeUnauthorized(w, auth.ErrInvalidToken.Error())
		return
	}

	id, err := parseContactID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	contact, err := h.contactService.Get(r.Context(), user.ID, id)
	if err == nil {
		err = h.contactService.Delete(r.Context(), user.ID, id)
	}
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "Contact not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "failed to delete contact")
		return
	}

	writeJSON(w, http.StatusOK, contact)
}

func (h *ContactHandler) SearchByFirstname(w http.ResponseWriter, r *http.Request) {
	h.search(w, r, "firstname", h.contactService.SearchByFirstname)
}

func (h *ContactHandler) SearchByLastname(w http.ResponseWriter, r *http.Request) {
	h.search(w, r, "lastname", h.contactService.SearchByLastname)
}

func (h *ContactHandler) SearchByEmail(w http.ResponseWriter, r *http.Request) {
	h.search(w, r, "email", h.contactService.SearchByEmail)
}

func (h *ContactHandler) search(
	w http.ResponseWriter,
	r *http.Request,
	param string,
	find func(ctx context.Context, userID int, value string) ([]types.Contact, error),
) {
	user, err := userFromContext(r.Context())
	if err != nil {
		writeUnauthorized(w, auth.ErrInvalidToken.Error())
		return
	}

	value := strings.TrimSpace(chi.URLParam(r, param))
	if value == "" {
		writeError(w, http.StatusBadRequest, "missing search value")
		return
	}

	contacts, err := find(r.Context(), user.ID, value)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to search contacts")
		return
	}

	writeJSON(w, http.StatusOK, contacts)
}

func (h *ContactHandler) UpcomingBirthdays(w http.ResponseWriter, r *http.Request) {
	user, err := userFromContext(r.Context())
	if err != nil {
		writeUnauthorized(w, auth.ErrInvalidToken.Error())
		return
	}

	contacts, err := h.contactService.UpcomingBirthdays(r.Context(), user.ID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list birthday contacts")
		return
	}

	writeJSON(w, http.StatusOK, contacts)
}

// ContactRequest is the create/update payload.
type ContactRequest struct {
	Firstname string      `json:"firstname"`
	Lastname  string      `json:"lastname"`
	Email     string      `json:"email"`
	Phone     string      `json:"phone"`
	Birthday  *types.Date `json:"birthday"`
}

func parseContactRequest(r *http.Request) (ContactRequest, error) {
	var req ContactRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		return ContactRequest{}, errors.New("invalid request")
	}

	req.Firstname = strings.TrimSpace(req.Firstname)
	req.Lastname = strings.TrimSpace(req.Lastname)
	req.Email = strings.TrimSpace(req.Email)
	req.Phone = strings.TrimSpace(req.Phone)

	if req.Firstname == "" || req.Lastname == "" {
		return ContactRequest{}, errors.New("firstname and lastname are required")
	}
	if len(req.Firstname) > maxNameLength || len(req.Lastname) > maxNameLength {
		return ContactRequest{}, errors.New("name too long")
	}
	return req, nil
}

func parseContactID(r *http.Request) (int, error) {
	raw := chi.URLParam(r, "contactID")
	id, err := strconv.Atoi(raw)
	if err != nil || id < 1 {
		return 0, errors.New("invalid contact id")
	}
	return id, nil
}
