package services

import (
	"fmt"
	"html"

	"marketplace-settlement/models"
)

const emailLayout = `<!DOCTYPE html>
<html>
<head>
    <style>
        body { font-family: Arial, sans-serif; line-height: 1.6; color: #333; }
        .container { max-width: 600px; margin: 0 auto; padding: 20px; }
        .header { background-color: %s; color: white; padding: 20px; text-align: center; border-radius: 5px; }
        .content { background-color: #f9f9f9; padding: 20px; margin-top: 20px; border-radius: 5px; }
        .details { background-color: #eef3f8; padding: 15px; margin: 15px 0; border-left: 4px solid %s; }
    </style>
</head>
<body>
    <div class="container">
        <div class="header"><h2>%s</h2></div>
        <div class="content">%s</div>
    </div>
</body>
</html>`

func renderEmail(color, heading, content string) string {
	return fmt.Sprintf(emailLayout, color, color, html.EscapeString(heading), content)
}

func paymentDetails(n models.PaymentNotice) string {
	details := fmt.Sprintf(`<div class="details">
                <p><strong>Course:</strong> %s</p>
                <p><strong>Institution:</strong> %s</p>
                <p><strong>Amount:</strong> %s %s</p>`,
		html.EscapeString(n.CourseTitle), html.EscapeString(n.InstitutionName),
		html.EscapeString(n.Currency), n.Amount.StringFixed(2))
	if n.ExternalRef != "" {
		details += fmt.Sprintf(`
                <p><strong>Reference:</strong> %s</p>`, html.EscapeString(n.ExternalRef))
	}
	return details + `
            </div>`
}

func confirmationEmail(n models.PaymentNotice) (subject, body string) {
	subject = fmt.Sprintf("Payment received for %s", n.CourseTitle)
	body = renderEmail("#4CAF50", "Payment Confirmed", fmt.Sprintf(`
            <p>Dear <strong>%s</strong>,</p>
            <p>Your payment has been received and your enrollment is confirmed.</p>
            %s
            <p>Your receipt is attached to this email.</p>`,
		html.EscapeString(n.StudentName), paymentDetails(n)))
	return subject, body
}

func failureEmail(n models.PaymentNotice) (subject, body string) {
	reason := n.Reason
	if reason == "" {
		reason = "The payment could not be completed."
	}
	subject = fmt.Sprintf("Payment unsuccessful for %s", n.CourseTitle)
	body = renderEmail("#d9534f", "Payment Failed", fmt.Sprintf(`
            <p>Dear <strong>%s</strong>,</p>
            <p>Unfortunately your payment did not go through.</p>
            %s
            <p><strong>Reason:</strong> %s</p>
            <p>You can retry the payment from your bookings page.</p>`,
		html.EscapeString(n.StudentName), paymentDetails(n), html.EscapeString(reason)))
	return subject, body
}

func refundEmail(n models.PaymentNotice) (subject, body string) {
	subject = fmt.Sprintf("Refund processed for %s", n.CourseTitle)
	body = renderEmail("#0275d8", "Refund Processed", fmt.Sprintf(`
            <p>Dear <strong>%s</strong>,</p>
            <p>A refund of <strong>%s %s</strong> has been issued to your original payment method.</p>
            %s`,
		html.EscapeString(n.StudentName), html.EscapeString(n.Currency), n.Amount.StringFixed(2), paymentDetails(n)))
	return subject, body
}

var urgencyColors = map[models.ReminderUrgency]string{
	models.UrgencyLow:    "#5bc0de",
	models.UrgencyMedium: "#f0ad4e",
	models.UrgencyHigh:   "#d9534f",
}

func reminderEmail(n models.ReminderNotice) (subject, body string) {
	when := fmt.Sprintf("in %d days", n.DaysUntilDue)
	if n.DaysUntilDue == 1 {
		when = "tomorrow"
	}
	subject = fmt.Sprintf("Payment for %s is due %s", n.CourseTitle, when)
	if n.Urgency == models.UrgencyHigh {
		subject = "Final reminder: " + subject
	}
	body = renderEmail(urgencyColors[n.Urgency], "Payment Reminder", fmt.Sprintf(`
            <p>Dear <strong>%s</strong>,</p>
            <p>Your payment of <strong>%s %s</strong> for <strong>%s</strong> is due on %s.</p>
            <p>Please complete it to keep your place.</p>`,
		html.EscapeString(n.StudentName), html.EscapeString(n.Currency), n.Amount.StringFixed(2),
		html.EscapeString(n.CourseTitle), n.DueDate.Format("02 Jan 2006")))
	return subject, body
}
