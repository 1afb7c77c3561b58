package mailer

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"

	"gopkg.in/gomail.v2"

	"github.com/contactbook/apiserver/config"
	"github.com/contactbook/apiserver/internal/auth"
	"github.com/contactbook/apiserver/internal/mq"
	"github.com/contactbook/apiserver/internal/services"
)

// Worker consumes confirmation-email jobs from the queue and delivers
// them over SMTP. It runs outside the request path: delivery failures
// are logged and the job is redelivered, never surfaced to the request
// that queued it.
type Worker struct {
	queue   *mq.Queue
	channel string
	tokens  *auth.TokenService
	smtp    config.SMTPConfig
	baseURL string
}

// NewWorker constructs a Worker with the provided dependencies.
func NewWorker(queue *mq.Queue, channel string, tokens *auth.TokenService, smtp config.SMTPConfig, baseURL string) *Worker {
	return &Worker{
		queue:   queue,
		channel: channel,
		tokens:  tokens,
		smtp:    smtp,
		baseURL: strings.TrimRight(baseURL, "/"),
	}
}

// Run consumes jobs until the context is cancelled.
func (w *Worker) Run(ctx context.Context) error {
	return w.queue.Subscribe(ctx, w.channel, w.handle)
}

func (w *Worker) handle(ctx context.Context, msg mq.Message) error {
	var job services.EmailJob
	if err := json.Unmarshal(msg.Data, &job); err != nil {
		// Malformed jobs will never deliver; drop instead of requeueing.
		log.Printf("mailer: dropping malformed job %s: %v", msg.ID, err)
		return nil
	}

	token, err := w.tokens.CreateEmailToken(job.Email)
	if err != nil {
		return err
	}
	link := fmt.Sprintf("%s/auth/confirmed_email/%s", w.baseURL, token)

	message := gomail.NewMessage()
	message.SetHeader("From", w.smtp.From)
	message.SetHeader("To", job.Email)
	message.SetHeader("Subject", "Confirm your email")
	message.SetBody("text/plain", fmt.Sprintf(
		"Hi %s,\n\nPlease confirm your email address by opening this link:\n\n%s\n\nThe link is valid for 7 days.\n",
		job.Username, link,
	))

	dialer := gomail.NewDialer(w.smtp.Host, w.smtp.Port, w.smtp.Username, w.smtp.Password)
	if err := dialer.DialAndSend(message); err != nil {
		log.Printf("mailer: failed to send confirmation to %s: %v", job.Email, err)
		return err
	}

	log.Printf("mailer: confirmation sent to %s", job.Email)
	return nil
}
