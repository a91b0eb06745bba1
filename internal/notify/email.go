// Package notify delivers supplement results and weekly health reports by
// email.
package notify

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/sendgrid/rest"
	"github.com/sendgrid/sendgrid-go"
	"github.com/sendgrid/sendgrid-go/helpers/mail"

	"github.com/mkaneko/worksync/internal/metrics"
	"github.com/mkaneko/worksync/internal/report"
	"github.com/mkaneko/worksync/internal/supplement"
)

// ErrMissingExecutedAt rejects supplement notifications without a run time.
var ErrMissingExecutedAt = errors.New("supplement result requires executedAt")

// Sender sends one composed email. *sendgrid.Client satisfies it; tests
// substitute a fake.
type Sender interface {
	Send(email *mail.SGMailV3) (*rest.Response, error)
}

type Config struct {
	FromName    string
	FromAddress string
	ToAddress   string
}

type EmailService struct {
	sender Sender
	cfg    Config
}

func NewEmailService(apiKey string, cfg Config) *EmailService {
	return &EmailService{
		sender: sendgrid.NewSendClient(apiKey),
		cfg:    cfg,
	}
}

// NewEmailServiceWithSender injects the sender, for tests.
func NewEmailServiceWithSender(sender Sender, cfg Config) *EmailService {
	return &EmailService{
		sender: sender,
		cfg:    cfg,
	}
}

func (s *EmailService) send(kind, subject, body string) error {
	from := mail.NewEmail(s.cfg.FromName, s.cfg.FromAddress)
	to := mail.NewEmail("", s.cfg.ToAddress)
	email := mail.NewSingleEmail(from, subject, to, body, body)

	response, err := s.sender.Send(email)
	if err != nil {
		metrics.RecordEmailSent(kind, "failed")
		return fmt.Errorf("failed to send email: %w", err)
	}
	if response.StatusCode >= 400 {
		metrics.RecordEmailSent(kind, "failed")
		return fmt.Errorf("sendgrid error: status %d", response.StatusCode)
	}

	metrics.RecordEmailSent(kind, "sent")
	log.Printf("%s email sent to %s (status: %d)", kind, s.cfg.ToAddress, response.StatusCode)
	return nil
}

// NotifySupplementResult emails one recovery pass's outcome. The result must
// carry its execution time.
func (s *EmailService) NotifySupplementResult(ctx context.Context, result supplement.Result) error {
	if result.ExecutedAt.IsZero() {
		return ErrMissingExecutedAt
	}

	subject := fmt.Sprintf("Supplement run %s: %d/%d recovered",
		result.ExecutedAt.Format("2006-01-02"), result.SuccessfulRecoveries, result.TotalProcessed)

	var b strings.Builder
	fmt.Fprintf(&b, "Supplement run finished at %s\n\n", result.ExecutedAt.Format(time.RFC3339))
	fmt.Fprintf(&b, "Processed:  %d\n", result.TotalProcessed)
	fmt.Fprintf(&b, "Recovered:  %d\n", result.SuccessfulRecoveries)
	fmt.Fprintf(&b, "Rate:       %.1f%%\n", result.RecoveryRate)

	return s.send("supplement", subject, b.String())
}

// SendWeeklyReport emails the weekly ingestion health summary.
func (s *EmailService) SendWeeklyReport(ctx context.Context, rep report.HealthReport) error {
	subject := fmt.Sprintf("Weekly ingestion health: %.1f%% success", rep.SuccessRate)

	var b strings.Builder
	fmt.Fprintf(&b, "Weekly health report generated at %s\n\n", rep.GeneratedAt.Format(time.RFC3339))
	fmt.Fprintf(&b, "Total flagged works:  %d\n", rep.TotalWorks)
	fmt.Fprintf(&b, "Success rate:         %.1f%%\n", rep.SuccessRate)
	fmt.Fprintf(&b, "Recovered this week:  %d\n", rep.RecoveredThisWeek)
	fmt.Fprintf(&b, "Still failing:        %d\n", rep.StillFailingCount)

	if len(rep.TopFailureReasons) > 0 {
		b.WriteString("\nTop failure reasons:\n")
		for _, rc := range rep.TopFailureReasons {
			fmt.Fprintf(&b, "  %-15s %d\n", rc.Reason, rc.Count)
		}
	}

	return s.send("weekly_report", subject, b.String())
}
