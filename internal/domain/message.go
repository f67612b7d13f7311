package domain

import "fmt"

// DefaultDeadlineDays is the payment window quoted in reminders when the
// sub-goal carries none.
const DefaultDeadlineDays = 7

// ReminderSubject returns the subject line for a collection reminder.
func ReminderSubject(tone Tone, recipient string, amount int64) string {
	switch tone {
	case ToneUrgent:
		return fmt.Sprintf("⚠️ URGENT: Payment Due – %s", recipient)
	case ToneFirm:
		return fmt.Sprintf("Payment Reminder: Action Required – ₹%d", amount)
	default:
		return fmt.Sprintf("Friendly Reminder: Payment Due – %s", recipient)
	}
}

// EscalationSubject returns the subject line for a founder alert.
func EscalationSubject(target string) string {
	return fmt.Sprintf("🚨 ACTION REQUIRED: Escalation for %s", target)
}

// ExtensionSubject returns the subject line for a vendor extension request.
func ExtensionSubject(vendor string) string {
	return fmt.Sprintf("Request for Payment Extension – %s", vendor)
}

// DefaultReminderBody is sent whenever no drafted body is available.
func DefaultReminderBody(recipient string, amount int64, deadlineDays int) string {
	return fmt.Sprintf("Dear %s,\n\n"+
		"This is a gentle reminder regarding an outstanding payment of ₹%d.\n\n"+
		"To avoid any disruptions, we kindly request the payment within %d days.\n\n"+
		"Thank you for your cooperation.\n\n"+
		"Best regards,\nFinLy – Autonomous Finance Assistant", recipient, amount, deadlineDays)
}
