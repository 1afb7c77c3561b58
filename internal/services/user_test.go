package services

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/contactbook/apiserver/internal/auth"
	"github.com/contactbook/apiserver/internal/store"
	"github.com/contactbook/apiserver/types"
)

// fakeUserRepo is an in-memory UserRepository.
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

// fakeMail records queued confirmation jobs on a channel so tests can
// wait for the background dispatch.
type fakeMail struct {
	sent chan string
}

func newFakeMail() *fakeMail {
	return &fakeMail{sent: make(chan string, 8)}
}

func (m *fakeMail) SendConfirmation(_ context.Context, email, _ string) error {
	m.sent <- email
	return nil
}

func (m *fakeMail) waitForJob(t *testing.T) string {
	t.Helper()
	select {
	case email := <-m.sent:
		return email
	case <-time.After(2 * time.Second):
		t.Fatalf("no confirmation email queued")
		return ""
	}
}

type fakeAvatarStorage struct{}

func (fakeAvatarStorage) SaveAvatar(_ context.Context, key string, r io.Reader, _ int64, _ string) (string, error) {
	if _, err := io.Copy(io.Discard, r); err != nil {
		return "", err
	}
	return fmt.Sprintf("https://cdn.test/%s", key), nil
}

func newTestUserService(repo UserRepository, mail ConfirmationSender) *UserService {
	hasher := auth.NewPasswordHasher(4)
	tokens := auth.NewTokenService("test-secret", 0, 0, 0)
	return NewUserService(repo, hasher, tokens, mail, fakeAvatarStorage{})
}

func signupConfirmed(t *testing.T, svc *UserService, repo *fakeUserRepo, email, password string) types.User {
	t.Helper()
	ctx := context.Background()
	user, err := svc.Signup(ctx, "jd", email, password)
	if err != nil {
		t.Fatalf("Signup error: %v", err)
	}
	if err := repo.SetConfirmed(ctx, user.ID); err != nil {
		t.Fatalf("SetConfirmed error: %v", err)
	}
	user.Confirmed = true
	return user
}

func TestSignupDuplicateEmailConflicts(t *testing.T) {
	t.Parallel()

	repo := newFakeUserRepo()
	mail := newFakeMail()
	svc := newTestUserService(repo, mail)
	ctx := context.Background()

	if _, err := svc.Signup(ctx, "jd", "jd@mail.com", "s3cret"); err != nil {
		t.Fatalf("first Signup error: %v", err)
	}
	if _, err := svc.Signup(ctx, "jd2", "jd@mail.com", "other"); !errors.Is(err, ErrEmailTaken) {
		t.Fatalf("expected ErrEmailTaken, got %v", err)
	}
}

func TestSignupCreatesUnconfirmedUserWithGravatar(t *testing.T) {
	t.Parallel()

	repo := newFakeUserRepo()
	mail := newFakeMail()
	svc := newTestUserService(repo, mail)

	user, err := svc.Signup(context.Background(), "jd", "jd@mail.com", "s3cret")
	if err != nil {
		t.Fatalf("Signup error: %v", err)
	}
	if user.Confirmed {
		t.Fatalf("new users must start unconfirmed")
	}
	if user.PasswordHash == "s3cret" || user.PasswordHash == "" {
		t.Fatalf("password must be stored hashed")
	}
	if user.Avatar == nil || !strings.Contains(*user.Avatar, "gravatar.com/avatar/") {
		t.Fatalf("expected gravatar default avatar, got %v", user.Avatar)
	}
	if got := mail.waitForJob(t); got != "jd@mail.com" {
		t.Fatalf("confirmation queued for %q", got)
	}
}

func TestLoginFailures(t *testing.T) {
	t.Parallel()

	repo := newFakeUserRepo()
	mail := newFakeMail()
	svc := newTestUserService(repo, mail)
	ctx := context.Background()

	if _, err := svc.Login(ctx, "nobody@mail.com", "s3cret"); !errors.Is(err, ErrInvalidEmail) {
		t.Fatalf("expected ErrInvalidEmail, got %v", err)
	}

	user, err := svc.Signup(ctx, "jd", "jd@mail.com", "s3cret")
	if err != nil {
		t.Fatalf("Signup error: %v", err)
	}
	if _, err := svc.Login(ctx, "jd@mail.com", "s3cret"); !errors.Is(err, ErrEmailNotConfirmed) {
		t.Fatalf("expected ErrEmailNotConfirmed, got %v", err)
	}

	if err := repo.SetConfirmed(ctx, user.ID); err != nil {
		t.Fatalf("SetConfirmed error: %v", err)
	}
	if _, err := svc.Login(ctx, "jd@mail.com", "wrong"); !errors.Is(err, ErrInvalidPassword) {
		t.Fatalf("expected ErrInvalidPassword, got %v", err)
	}
}

func TestLoginIssuesPairAndStoresRefreshToken(t *testing.T) {
	t.Parallel()

	repo := newFakeUserRepo()
	mail := newFakeMail()
	svc := newTestUserService(repo, mail)
	ctx := context.Background()

	user := signupConfirmed(t, svc, repo, "jd@mail.com", "s3cret")

	pair, err := svc.Login(ctx, "jd@mail.com", "s3cret")
	if err != nil {
		t.Fatalf("Login error: %v", err)
	}
	if pair.TokenType != "bearer" {
		t.Fatalf("token_type = %q, want bearer", pair.TokenType)
	}
	if pair.AccessToken == "" || pair.RefreshToken == "" || pair.AccessToken == pair.RefreshToken {
		t.Fatalf("expected distinct non-empty tokens")
	}

	stored, err := repo.GetByID(ctx, user.ID)
	if err != nil {
		t.Fatalf("GetByID error: %v", err)
	}
	if stored.RefreshToken == nil || *stored.RefreshToken != pair.RefreshToken {
		t.Fatalf("refresh token not persisted on the user record")
	}
}

func TestRefreshRotatesPair(t *testing.T) {
	t.Parallel()

	repo := newFakeUserRepo()
	mail := newFakeMail()
	svc := newTestUserService(repo, mail)
	ctx := context.Background()

	user := signupConfirmed(t, svc, repo, "jd@mail.com", "s3cret")
	pair, err := svc.Login(ctx, "jd@mail.com", "s3cret")
	if err != nil {
		t.Fatalf("Login error: %v", err)
	}

	rotated, err := svc.Refresh(ctx, pair.RefreshToken)
	if err != nil {
		t.Fatalf("Refresh error: %v", err)
	}
	stored, err := repo.GetByID(ctx, user.ID)
	if err != nil {
		t.Fatalf("GetByID error: %v", err)
	}
	if stored.RefreshToken == nil || *stored.RefreshToken != rotated.RefreshToken {
		t.Fatalf("rotation must persist the new refresh token")
	}
}

func TestRefreshReplayInvalidatesSession(t *testing.T) {
	t.Parallel()

	repo := newFakeUserRepo()
	mail := newFakeMail()
	svc := newTestUserService(repo, mail)
	ctx := context.Background()

	user := signupConfirmed(t, svc, repo, "jd@mail.com", "s3cret")
	pair, err := svc.Login(ctx, "jd@mail.com", "s3cret")
	if err != nil {
		t.Fatalf("Login error: %v", err)
	}
	if _, err := svc.Refresh(ctx, pair.RefreshToken); err != nil {
		t.Fatalf("Refresh error: %v", err)
	}

	// Presenting the already-rotated token is treated as reuse: the
	// stored token is nulled and re-login is forced.
	if _, err := svc.Refresh(ctx, pair.RefreshToken); !errors.Is(err, ErrInvalidRefreshToken) {
		t.Fatalf("expected ErrInvalidRefreshToken on replay, got %v", err)
	}
	stored, err := repo.GetByID(ctx, user.ID)
	if err != nil {
		t.Fatalf("GetByID error: %v", err)
	}
	if stored.RefreshToken != nil {
		t.Fatalf("replay must null the stored refresh token")
	}
}

func TestRefreshRejectsAccessToken(t *testing.T) {
	t.Parallel()

	repo := newFakeUserRepo()
	mail := newFakeMail()
	svc := newTestUserService(repo, mail)
	ctx := context.Background()

	signupConfirmed(t, svc, repo, "jd@mail.com", "s3cret")
	pair, err := svc.Login(ctx, "jd@mail.com", "s3cret")
	if err != nil {
		t.Fatalf("Login error: %v", err)
	}

	if _, err := svc.Refresh(ctx, pair.AccessToken); !errors.Is(err, auth.ErrInvalidToken) {
		t.Fatalf("expected auth.ErrInvalidToken for cross-scope use, got %v", err)
	}
}

func TestCurrentUserRejectsRefreshToken(t *testing.T) {
	t.Parallel()

	repo := newFakeUserRepo()
	mail := newFakeMail()
	svc := newTestUserService(repo, mail)
	ctx := context.Background()

	signupConfirmed(t, svc, repo, "jd@mail.com", "s3cret")
	pair, err := svc.Login(ctx, "jd@mail.com", "s3cret")
	if err != nil {
		t.Fatalf("Login error: %v", err)
	}

	if _, err := svc.CurrentUser(ctx, pair.AccessToken); err != nil {
		t.Fatalf("CurrentUser with access token error: %v", err)
	}
	if _, err := svc.CurrentUser(ctx, pair.RefreshToken); !errors.Is(err, auth.ErrInvalidToken) {
		t.Fatalf("expected auth.ErrInvalidToken for refresh token, got %v", err)
	}
}

func TestConfirmEmailIdempotent(t *testing.T) {
	t.Parallel()

	repo := newFakeUserRepo()
	mail := newFakeMail()
	svc := newTestUserService(repo, mail)
	ctx := context.Background()

	user, err := svc.Signup(ctx, "jd", "jd@mail.com", "s3cret")
	if err != nil {
		t.Fatalf("Signup error: %v", err)
	}

	token, err := auth.NewTokenService("test-secret", 0, 0, 0).CreateEmailToken(user.Email)
	if err != nil {
		t.Fatalf("CreateEmailToken error: %v", err)
	}

	message, err := svc.ConfirmEmail(ctx, token)
	if err != nil {
		t.Fatalf("ConfirmEmail error: %v", err)
	}
	if message != "Email confirmed" {
		t.Fatalf("message = %q", message)
	}

	again, err := svc.ConfirmEmail(ctx, token)
	if err != nil {
		t.Fatalf("second ConfirmEmail error: %v", err)
	}
	if again != "Your email is already confirmed" {
		t.Fatalf("second message = %q", again)
	}

	stored, err := repo.GetByID(ctx, user.ID)
	if err != nil {
		t.Fatalf("GetByID error: %v", err)
	}
	if !stored.Confirmed {
		t.Fatalf("user must remain confirmed")
	}
}

func TestConfirmEmailUnknownUser(t *testing.T) {
	t.Parallel()

	repo := newFakeUserRepo()
	mail := newFakeMail()
	svc := newTestUserService(repo, mail)

	token, err := auth.NewTokenService("test-secret", 0, 0, 0).CreateEmailToken("ghost@mail.com")
	if err != nil {
		t.Fatalf("CreateEmailToken error: %v", err)
	}
	if _, err := svc.ConfirmEmail(context.Background(), token); !errors.Is(err, ErrVerification) {
		t.Fatalf("expected ErrVerification, got %v", err)
	}
}

func TestConfirmEmailBadToken(t *testing.T) {
	t.Parallel()

	repo := newFakeUserRepo()
	mail := newFakeMail()
	svc := newTestUserService(repo, mail)

	if _, err := svc.ConfirmEmail(context.Background(), "garbage"); !errors.Is(err, auth.ErrInvalidEmailToken) {
		t.Fatalf("expected auth.ErrInvalidEmailToken, got %v", err)
	}
}

func TestRequestEmailUnknownAddressStaysGeneric(t *testing.T) {
	t.Parallel()

	repo := newFakeUserRepo()
	mail := newFakeMail()
	svc := newTestUserService(repo, mail)

	message, err := svc.RequestEmail(context.Background(), "ghost@mail.com")
	if err != nil {
		t.Fatalf("RequestEmail error: %v", err)
	}
	if message != "Check your email for confirmation." {
		t.Fatalf("message = %q", message)
	}
	select {
	case email := <-mail.sent:
		t.Fatalf("no email should be queued for unknown address, got %q", email)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestRequestEmailAlreadyConfirmed(t *testing.T) {
	t.Parallel()

	repo := newFakeUserRepo()
	mail := newFakeMail()
	svc := newTestUserService(repo, mail)
	ctx := context.Background()

	signupConfirmed(t, svc, repo, "jd@mail.com", "s3cret")
	mail.waitForJob(t) // drain the signup dispatch

	message, err := svc.RequestEmail(ctx, "jd@mail.com")
	if err != nil {
		t.Fatalf("RequestEmail error: %v", err)
	}
	if message != "Your email is already confirmed" {
		t.Fatalf("message = %q", message)
	}
}

func TestUpdateAvatarPersistsURL(t *testing.T) {
	t.Parallel()

	repo := newFakeUserRepo()
	mail := newFakeMail()
	svc := newTestUserService(repo, mail)
	ctx := context.Background()

	user := signupConfirmed(t, svc, repo, "jd@mail.com", "s3cret")

	updated, err := svc.UpdateAvatar(ctx, user, strings.NewReader("png-bytes"), 9, "image/png")
	if err != nil {
		t.Fatalf("UpdateAvatar error: %v", err)
	}
	if updated.Avatar == nil || !strings.HasPrefix(*updated.Avatar, "https://cdn.test/avatars/") {
		t.Fatalf("avatar URL = %v", updated.Avatar)
	}
}
