package dispatch

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/finly-network/finly/internal/domain"
	"github.com/finly-network/finly/internal/infra/observability"
	"github.com/finly-network/finly/internal/logging"
)

// Drafter turns a dispatch job into message text. Tone changes the voice of
// the draft; recipient, amount and deadline are passed through unchanged.
type Drafter struct {
	gen domain.TextGenerator
	log *slog.Logger
}

// NewDrafter creates a drafter. A nil generator always yields the default
// templates.
func NewDrafter(gen domain.TextGenerator) *Drafter {
	return &Drafter{gen: gen, log: logging.New("drafter")}
}

// Reminder drafts a collection reminder. On failure the default reminder
// body is returned together with the error.
func (d *Drafter) Reminder(ctx context.Context, recipient string, amount int64, deadlineDays int, tone domain.Tone) (string, error) {
	body, err := d.generate(ctx, reminderPrompt(recipient, amount, deadlineDays, tone))
	if err != nil {
		return domain.DefaultReminderBody(recipient, amount, deadlineDays), err
	}
	return body, nil
}

// Extension drafts a vendor payment-extension request.
func (d *Drafter) Extension(ctx context.Context, vendor string, amount int64, tone domain.Tone) (string, error) {
	body, err := d.generate(ctx, extensionPrompt(vendor, amount, tone))
	if err != nil {
		return defaultExtensionBody(vendor, amount), err
	}
	return body, nil
}

// Escalation drafts the founder alert.
func (d *Drafter) Escalation(ctx context.Context, target, reason string) (string, error) {
	body, err := d.generate(ctx, escalationPrompt(target, reason))
	if err != nil {
		return defaultEscalationBody(target, reason), err
	}
	return body, nil
}

func (d *Drafter) generate(ctx context.Context, prompt string) (string, error) {
	if d.gen == nil {
		return "", fmt.Errorf("%w: no generator configured", domain.ErrGenerationFailed)
	}
	out, err := d.gen.Generate(ctx, prompt)
	if err == nil && strings.TrimSpace(out) == "" {
		err = fmt.Errorf("%w: empty draft", domain.ErrGenerationFailed)
	}
	if err != nil {
		observability.GenerationFailures.WithLabelValues("draft").Inc()
		d.log.Warn("draft generation failed, using default template", "error", err)
		return "", err
	}
	return strings.TrimSpace(out), nil
}

// ─── Templates ──────────────────────────────────────────────────────────────

var toneInstructions = map[domain.Tone]string{
	domain.TonePolite: "Use warm, friendly, professional language. Assume this is an oversight and thank them for their business. " +
		`Phrases like "friendly reminder", "we kindly request", "at your earliest convenience".`,
	domain.ToneFirm: "Use professional but direct language. Show urgency without being rude and be clear about expectations. " +
		`Phrases like "immediate attention required", "payment must be received", "to avoid disruption".`,
	domain.ToneUrgent: "Use immediate, action-oriented language. Emphasize the deadline and the consequences of non-payment. " +
		`Phrases like "immediate payment required", "final notice", "urgent action needed".`,
}

func reminderPrompt(recipient string, amount int64, deadlineDays int, tone domain.Tone) string {
	instr, ok := toneInstructions[tone]
	if !ok {
		instr = toneInstructions[domain.TonePolite]
	}
	var b strings.Builder
	b.WriteString("Draft a payment reminder email to collect an outstanding payment.\n\n")
	fmt.Fprintf(&b, "Client name: %s\nOutstanding amount: ₹%d\nPayment deadline: %d days from now\nTone: %s\n\n", recipient, amount, deadlineDays, tone)
	fmt.Fprintf(&b, "Tone instructions: %s\n\n", instr)
	b.WriteString("The email must:\n")
	fmt.Fprintf(&b, "1. Start with a greeting addressed to %s.\n", recipient)
	fmt.Fprintf(&b, "2. State the outstanding amount exactly as ₹%d.\n", amount)
	fmt.Fprintf(&b, "3. State the payment deadline exactly as %d days.\n", deadlineDays)
	b.WriteString("4. Include a call to action.\n5. End with a professional signature.\n\n")
	b.WriteString("Output ONLY the email body, no subject line.\n")
	return b.String()
}

func extensionPrompt(vendor string, amount int64, tone domain.Tone) string {
	return fmt.Sprintf("Draft a polite email to a vendor asking for a payment extension.\n\n"+
		"Vendor: %s\nAmount: ₹%d\nTone: %s\n\n"+
		"Apologize for the delay, propose paying within %d more days and emphasize the long-term partnership.\n"+
		"Output ONLY the email body.\n", vendor, amount, tone, extensionDays)
}

func escalationPrompt(target, reason string) string {
	return fmt.Sprintf("Draft an URGENT escalation email to the founder.\n\n"+
		"Issue: repeated payment failures or high liquidity risk.\nTarget entity: %s\nRationale: %s\n\n"+
		"Summarize the issue briefly and ask for manual intervention. Output ONLY the email body.\n", target, reason)
}

func defaultExtensionBody(vendor string, amount int64) string {
	return fmt.Sprintf("Dear %s,\n\n"+
		"We apologize for the delay on the payment of ₹%d. "+
		"We would be grateful for an extension of %d days and will settle the amount in full by then.\n\n"+
		"Thank you for your continued partnership.\n\n"+
		"Best regards,\nFinLy – Autonomous Finance Assistant", vendor, amount, extensionDays)
}

func defaultEscalationBody(target, reason string) string {
	return fmt.Sprintf("Escalation for %s.\n\n%s\n\nManual intervention is required.\n\n"+
		"FinLy – Autonomous Finance Assistant", target, reason)
}
