package services

import (
	"context"
	"time"

	"github.com/contactbook/apiserver/types"
)

const birthdayWindowDays = 7

// ContactRepository defines persistence operations for contacts. All
// operations are scoped by the owning user.
type ContactRepository interface {
	ListByUser(ctx context.Context, userID int) ([]types.Contact, error)
	GetByUser(ctx context.Context, userID, contactID int) (types.Contact, error)
	Create(ctx context.Context, contact types.Contact) (types.Contact, error)
	UpdateByUser(ctx context.Context, contact types.Contact) (types.Contact, error)
	DeleteByUser(ctx context.Context, userID, contactID int) error
	SearchByFirstname(ctx context.Context, userID int, firstname string) ([]types.Contact, error)
	SearchByLastname(ctx context.Context, userID int, lastname string) ([]types.Contact, error)
	SearchByEmail(ctx context.Context, userID int, email string) ([]types.Contact, error)
	ListWithBirthdays(ctx context.Context, userID int) ([]types.Contact, error)
}

// ContactService encapsulates contact use-cases.
type ContactService struct {
	repo ContactRepository
}

func NewContactService(repo ContactRepository) *ContactService {
	return &ContactService{repo: repo}
}

func (s *ContactService) List(ctx context.Context, userID int) ([]types.Contact, error) {
	return s.repo.ListByUser(ctx, userID)
}

func (s *ContactService) Get(ctx context.Context, userID, contactID int) (types.Contact, error) {
	return s.repo.GetByUser(ctx, userID, contactID)
}

func (s *ContactService) Create(ctx context.Context, contact types.Contact) (types.Contact, error) {
	return s.repo.Create(ctx, contact)
}

func (s *ContactService) Update(ctx context.Context, contact types.Contact) (types.Contact, error) {
	return s.repo.UpdateByUser(ctx, contact)
}

func (s *ContactService) Delete(ctx context.Context, userID, contactID int) error {
	return s.repo.DeleteByUser(ctx, userID, contactID)
}

func (s *ContactService) SearchByFirstname(ctx context.Context, userID int, firstname string) ([]types.Contact, error) {
	return s.repo.SearchByFirstname(ctx, userID, firstname)
}

func (s *ContactService) SearchByLastname(ctx context.Context, userID int, lastname string) ([]types.Contact, error) {
	return s.repo.SearchByLastname(ctx, userID, lastname)
}

func (s *ContactService) SearchByEmail(ctx context.Context, userID int, email string) ([]types.Contact, error) {
	return s.repo.SearchByEmail(ctx, userID, email)
}

// UpcomingBirthdays returns the user's contacts whose birthday falls
// within the next seven days, today inclusive.
func (s *ContactService) UpcomingBirthdays(ctx context.Context, userID int) ([]types.Contact, error) {
	contacts, err := s.repo.ListWithBirthdays(ctx, userID)
	if err != nil {
		return nil, err
	}

	today := time.Now()
	upcoming := make([]types.Contact, 0)
	for _, contact := range contacts {
		if contact.Birthday == nil {
			continue
		}
		if hasUpcomingBirthday(contact.Birthday.Time, today) {
			upcoming = append(upcoming, contact)
		}
	}
	return upcoming, nil
}

// hasUpcomingBirthday reports whether the next birthday anniversary
// falls within today..today+7 inclusive. It compares ages rather than
// calendar dates: the age reached seven days out must exceed the age
// held the day before today. The age comparison handles Feb 29
// birthdays (treated as Mar 1 in non-leap years) and Dec 31 to
// January wraps without special cases.
func hasUpcomingBirthday(birthday, today time.Time) bool {
	return ageOn(birthday, today.AddDate(0, 0, birthdayWindowDays)) > ageOn(birthday, today.AddDate(0, 0, -1))
}

// ageOn returns full years elapsed between birthday and on.
func ageOn(birthday, on time.Time) int {
	years := on.Year() - birthday.Year()
	if on.Month() < birthday.Month() ||
		(on.Month() == birthday.Month() && on.Day() < birthday.Day()) {
		years--
	}
	return years
}
