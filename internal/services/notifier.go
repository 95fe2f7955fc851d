package services

import (
	"context"
	"fmt"
	"net/smtp"
	"os"

	"parley/internal/repo"
	"parley/pkg/models"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/credentials"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/ses"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// EmailEmitter delivers offline-message summaries by email, through AWS SES
// when configured and plain SMTP otherwise. It implements NotificationEmitter;
// delivery guarantees beyond the handoff are out of the core's hands.
type EmailEmitter struct {
	users *repo.UserRepository

	smtpHost     string
	smtpPort     string
	smtpUser     string
	smtpPassword string
	fromEmail    string

	sesClient *ses.SES
	useSES    bool
}

// NewEmailEmitter creates an email-backed notification emitter. Returns an
// error when neither SES nor SMTP is configured; callers fall back to the noop
// emitter in that case.
func NewEmailEmitter(users *repo.UserRepository) (*EmailEmitter, error) {
	emitter := &EmailEmitter{users: users}

	awsRegion := os.Getenv("AWS_REGION")
	awsAccessKey := os.Getenv("AWS_ACCESS_KEY_ID")
	awsSecretKey := os.Getenv("AWS_SECRET_ACCESS_KEY")
	sesFromEmail := os.Getenv("SES_FROM_EMAIL")

	if awsRegion != "" && awsAccessKey != "" && awsSecretKey != "" && sesFromEmail != "" {
		sess, err := session.NewSession(&aws.Config{
			Region:      aws.String(awsRegion),
			Credentials: credentials.NewStaticCredentials(awsAccessKey, awsSecretKey, ""),
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create AWS session: %w", err)
		}
		emitter.sesClient = ses.New(sess)
		emitter.useSES = true
		emitter.fromEmail = sesFromEmail
		return emitter, nil
	}

	emitter.smtpHost = os.Getenv("SMTP_HOST")
	emitter.smtpPort = os.Getenv("SMTP_PORT")
	emitter.smtpUser = os.Getenv("SMTP_USER")
	emitter.smtpPassword = os.Getenv("SMTP_PASSWORD")
	emitter.fromEmail = os.Getenv("SMTP_FROM_EMAIL")

	if emitter.smtpHost == "" || emitter.fromEmail == "" {
		return nil, fmt.Errorf("no email transport configured")
	}
	return emitter, nil
}

// NotifyOffline sends the message summary to the user's email address.
// Fire-and-forget: failures are logged, never propagated to the send path.
func (e *EmailEmitter) NotifyOffline(ctx context.Context, userID uuid.UUID, summary models.MessageSummary) {
	user, err := e.users.GetByID(userID)
	if err != nil {
		log.Warn().Err(err).Str("user_id", userID.String()).Msg("offline notification: unknown user")
		return
	}

	subject := "New message"
	if summary.SenderName != "" {
		subject = "New message from " + summary.SenderName
	}
	body := fmt.Sprintf("%s\n\nSent %s. Open the conversation to reply.",
		summary.Preview, summary.SentAt.Format("Jan 2 15:04"))

	if err := e.send(user.Email, subject, body); err != nil {
		log.Error().Err(err).Str("user_id", userID.String()).Msg("offline notification failed")
		return
	}
	log.Debug().Str("user_id", userID.String()).Str("message_id", summary.MessageID.String()).
		Msg("offline notification sent")
}

func (e *EmailEmitter) send(to, subject, body string) error {
	if e.useSES {
		_, err := e.sesClient.SendEmail(&ses.SendEmailInput{
			Source:      aws.String(e.fromEmail),
			Destination: &ses.Destination{ToAddresses: []*string{aws.String(to)}},
			Message: &ses.Message{
				Subject: &ses.Content{Data: aws.String(subject), Charset: aws.String("UTF-8")},
				Body: &ses.Body{
					Text: &ses.Content{Data: aws.String(body), Charset: aws.String("UTF-8")},
				},
			},
		})
		return err
	}

	msg := []byte("From: " + e.fromEmail + "\r\n" +
		"To: " + to + "\r\n" +
		"Subject: " + subject + "\r\n\r\n" +
		body + "\r\n")

	addr := e.smtpHost + ":" + e.smtpPort
	var auth smtp.Auth
	if e.smtpUser != "" {
		auth = smtp.PlainAuth("", e.smtpUser, e.smtpPassword, e.smtpHost)
	}
	return smtp.SendMail(addr, auth, e.fromEmail, []string{to}, msg)
}

// NoopEmitter drops offline notifications. Used when no email transport is
// configured so the send path keeps working.
type NoopEmitter struct{}

// NotifyOffline logs and drops the handoff
func (NoopEmitter) NotifyOffline(ctx context.Context, userID uuid.UUID, summary models.MessageSummary) {
	log.Debug().Str("user_id", userID.String()).Msg("offline notification dropped (no emitter configured)")
}
