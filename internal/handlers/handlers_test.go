package handlers

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/contactbook/apiserver/internal/auth"
	"github.com/contactbook/apiserver/internal/services"
	"github.com/contactbook/apiserver/internal/store"
	"github.com/contactbook/apiserver/types"
)

// The handler tests run real services over in-memory repositories, so
// each test exercises the full routing, auth middleware, service, and
// serialization path.

type fakeUserRepo struct {
	mu     sync.Mutex
	nextID int
	users  map[int]types.User
}

func newFakeUserRepo() *fakeUserRepo {
	return &fakeUserRepo{nextID: 1, users: make(map[int]types.User)}
}

func (r *fakeUserRepo) GetByID(_ context.Context, id int) (types.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	user, ok := r.users[id]
	if !ok {
		return types.User{}, store.ErrNotFound
	}
	return user, nil
}

func (r *fakeUserRepo) GetByEmail(_ context.Context, email string) (types.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, user := range r.users {
		if user.Email == email {
			return user, nil
		}
	}
	return types.User{}, store.ErrNotFound
}

func (r *fakeUserRepo) Create(_ context.Context, user types.User) (types.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, existing := range r.users {
		if existing.Email == user.Email {
			return types.User{}, store.ErrDuplicate
		}
	}
	user.ID = r.nextID
	r.nextID++
	user.CreatedAt = time.Now()
	r.users[user.ID] = user
	return user, nil
}

func (r *fakeUserRepo) UpdateRefreshToken(_ context.Context, userID int, token *string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	user, ok := r.users[userID]
	if !ok {
		return store.ErrNotFound
	}
	user.RefreshToken = token
	r.users[userID] = user
	return nil
}

func (r *fakeUserRepo) SwapRefreshToken(_ context.Context, userID int, current, next string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	user, ok := r.users[userID]
	if !ok {
		return store.ErrNotFound
	}
	if user.RefreshToken == nil || *user.RefreshToken != current {
		return store.ErrNotFound
	}
	user.RefreshToken = &next
	r.users[userID] = user
	return nil
}

func (r *fakeUserRepo) SetConfirmed(_ context.Context, userID int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	user, ok := r.users[userID]
	if !ok {
		return store.ErrNotFound
	}
	user.Confirmed = true
	r.users[userID] = user
	return nil
}

func (r *fakeUserRepo) UpdateAvatar(_ context.Context, userID int, url string) (types.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	user, ok := r.users[userID]
	if !ok {
		return types.User{}, store.ErrNotFound
	}
	user.Avatar = &url
	r.users[userID] = user
	return user, nil
}

type fakeContactRepo struct {
	mu       sync.Mutex
	nextID   int
	contacts map[int]types.Contact
}

func newFakeContactRepo() *fakeContactRepo {
	return &fakeContactRepo{nextID: 1, contacts: make(map[int]types.Contact)}
}

func (r *fakeContactRepo) ListByUser(_ context.Context, userID int) ([]types.Contact, error) {
	return r.filter(func(c types.Contact) bool { return c.UserID == userID }), nil
}

func (r *fakeContactRepo) GetByUser(_ context.Context, userID, contactID int) (types.Contact, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	contact, ok := r.contacts[contactID]
	if !ok || contact.UserID != userID {
		return types.Contact{}, store.ErrNotFound
	}
	return contact, nil
}

func (r *fakeContactRepo) Create(_ context.Context, contact types.Contact) (types.Contact, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	contact.ID = r.nextID
	r.nextID++
	now := time.Now()
	contact.CreatedAt = now
	contact.UpdatedAt = now
	r.contacts[contact.ID] = contact
	return contact, nil
}

func (r *fakeContactRepo) UpdateByUser(_ context.Context, contact types.Contact) (types.Contact, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	existing, ok := r.contacts[contact.ID]
	if !ok || existing.UserID != contact.UserID {
		return types.Contact{}, store.ErrNotFound
	}
	contact.CreatedAt = existing.CreatedAt
	contact.UpdatedAt = time.Now()
	r.contacts[contact.ID] = contact
	return contact, nil
}

func (r *fakeContactRepo) DeleteByUser(_ context.Context, userID, contactID int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	contact, ok := r.contacts[contactID]
	if !ok || contact.UserID != userID {
		return store.ErrNotFound
	}
	delete(r.contacts, contactID)
	return nil
}

func (r *fakeContactRepo) SearchByFirstname(_ context.Context, userID int, firstname string) ([]types.Contact, error) {
	return r.filter(func(c types.Contact) bool { return c.UserID == userID && c.Firstname == firstname }), nil
}

func (r *fakeContactRepo) SearchByLastname(_ context.Context, userID int, lastname string) ([]types.Contact, error) {
	return r.filter(func(c types.Contact) bool { return c.UserID == userID && c.Lastname == lastname }), nil
}

func (r *fakeContactRepo) SearchByEmail(_ context.Context, userID int, email string) ([]types.Contact, error) {
	return r.filter(func(c types.Contact) bool { return c.UserID == userID && c.Email == email }), nil
}

func (r *fakeContactRepo) ListWithBirthdays(_ context.Context, userID int) ([]types.Contact, error) {
	return r.filter(func(c types.Contact) bool { return c.UserID == userID && c.Birthday != nil }), nil
}

func (r *fakeContactRepo) filter(keep func(types.Contact) bool) []types.Contact {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]types.Contact, 0)
	for _, contact := range r.contacts {
		if keep(contact) {
			out = append(out, contact)
		}
	}
	return out
}

type noopMail struct{}

func (noopMail) SendConfirmation(context.Context, string, string) error { return nil }

type fakeAvatarStorage struct{}

func (fakeAvatarStorage) SaveAvatar(_ context.Context, key string, r io.Reader, _ int64, _ string) (string, error) {
	if _, err := io.Copy(io.Discard, r); err != nil {
		return "", err
	}
	return "https://cdn.test/" + key, nil
}

// testEnv wires the full router the way the server does, minus the
// rate limiter and with in-memory repositories.
type testEnv struct {
	server   *httptest.Server
	users    *fakeUserRepo
	contacts *fakeContactRepo
	userSvc  *services.UserService
	tokens   *auth.TokenService
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	users := newFakeUserRepo()
	contacts := newFakeContactRepo()
	tokens := auth.NewTokenService("test-secret", 0, 0, 0)
	hasher := auth.NewPasswordHasher(4)

	userSvc := services.NewUserService(users, hasher, tokens, noopMail{}, fakeAvatarStorage{})
	contactSvc := services.NewContactService(contacts)
	authMW := RequireAuth(userSvc)

	router := chi.NewRouter()
	router.Get("/healthz", Healthz)
	router.Route("/auth", func(r chi.Router) {
		AuthRouter(r, userSvc, authMW, nil)
	})
	router.Route("/contacts", func(r chi.Router) {
		ContactRouter(r, contactSvc, authMW, nil)
	})

	srv := httptest.NewServer(router)
	t.Cleanup(srv.Close)

	return &testEnv{server: srv, users: users, contacts: contacts, userSvc: userSvc, tokens: tokens}
}

// signupUser registers and confirms an account, returning an access
// token for it.
func (e *testEnv) signupUser(t *testing.T, email, password string) string {
	t.Helper()
	ctx := context.Background()

	user, err := e.userSvc.Signup(ctx, "jd", email, password)
	if err != nil {
		t.Fatalf("Signup error: %v", err)
	}
	if err := e.users.SetConfirmed(ctx, user.ID); err != nil {
		t.Fatalf("SetConfirmed error: %v", err)
	}
	pair, err := e.userSvc.Login(ctx, email, password)
	if err != nil {
		t.Fatalf("Login error: %v", err)
	}
	return pair.AccessToken
}

func (e *testEnv) do(t *testing.T, method, path, token string, body io.Reader, contentType string) *http.Response {
	t.Helper()

	req, err := http.NewRequest(method, e.server.URL+path, body)
	if err != nil {
		t.Fatalf("NewRequest error: %v", err)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}

	resp, err := e.server.Client().Do(req)
	if err != nil {
		t.Fatalf("%s %s error: %v", method, path, err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func (e *testEnv) doJSON(t *testing.T, method, path, token string, payload any) *http.Response {
	t.Helper()

	data, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("marshal payload: %v", err)
	}
	return e.do(t, method, path, token, strings.NewReader(string(data)), "application/json")
}

func decodeBody[T any](t *testing.T, resp *http.Response) T {
	t.Helper()

	var out T
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("decode response body: %v", err)
	}
	return out
}

func requireStatus(t *testing.T, resp *http.Response, want int) {
	t.Helper()
	if resp.StatusCode != want {
		body, _ := io.ReadAll(resp.Body)
		t.Fatalf("status = %d, want %d (body: %s)", resp.StatusCode, want, body)
	}
}

func contactPayload(firstname, lastname, email, phone, birthday string) map[string]any {
	payload := map[string]any{
		"firstname": firstname,
		"lastname":  lastname,
		"email":     email,
		"phone":     phone,
	}
	if birthday != "" {
		payload["birthday"] = birthday
	}
	return payload
}

func createContact(t *testing.T, env *testEnv, token string, payload map[string]any) types.Contact {
	t.Helper()

	resp := env.doJSON(t, http.MethodPost, "/contacts/", token, payload)
	requireStatus(t, resp, http.StatusCreated)
	return decodeBody[types.Contact](t, resp)
}

func loginForm(t *testing.T, env *testEnv, email, password string) *http.Response {
	t.Helper()

	form := url.Values{"username": {email}, "password": {password}}
	return env.do(t, http.MethodPost, "/auth/login", "", strings.NewReader(form.Encode()), "application/x-www-form-urlencoded")
}
