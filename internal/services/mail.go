package services

import (
	"context"
	"encoding/json"
)

// MailQueue publishes messages to the configured broker.
type MailQueue interface {
	Publish(ctx context.Context, channel string, data []byte, attrs map[string]string) (string, error)
}

// EmailJob is the queued confirmation-email payload consumed by the
// mailer worker.
type EmailJob struct {
	Email    string `json:"email"`
	Username string `json:"username"`
}

// MailService queues confirmation emails for background delivery.
// Delivery itself happens in the mailer worker; the HTTP request never
// waits on SMTP.
type MailService struct {
	queue   MailQueue
	channel string
}

func NewMailService(queue MailQueue, channel string) *MailService {
	return &MailService{queue: queue, channel: channel}
}

// SendConfirmation publishes a confirmation-email job for the address.
func (s *MailService) SendConfirmation(ctx context.Context, email, username string) error {
	data, err := json.Marshal(EmailJob{Email: email, Username: username})
	if err != nil {
		return err
	}
	_, err = s.queue.Publish(ctx, s.channel, data, map[string]string{"kind": "confirmation"})
	return err
}
