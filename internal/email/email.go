package email

import (
	"context"
	"fmt"

	"github.com/jetsetgo/travelpay/internal/kafka"
)

type Sender struct{}

func NewSender() *Sender {
	return &Sender{}
}

// Send hands a payment event to the email service. Template rendering
// lives on the email-service side; this boundary only picks the subject.
func (s *Sender) Send(ctx context.Context, event kafka.PaymentEvent) error {
	if event.Email == "" {
		return nil
	}
	fmt.Printf("send %q to %s (payment %s, booking %s, %s %s)\n",
		subjectFor(event.Type), event.Email, event.PaymentID, event.BookingReference, event.Amount, event.Currency)
	return nil
}

func subjectFor(eventType string) string {
	switch eventType {
	case "payment_completed", "payment_reconciled":
		return "Your booking is confirmed"
	case "payment_failed":
		return "Your payment did not go through"
	case "booking_cancelled":
		return "Your booking has been cancelled"
	default:
		return "Update on your booking"
	}
}
