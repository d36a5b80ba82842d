package adapters

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"html"
	"io"
	"net"
	"net/http"
	"net/smtp"
	"strings"
	"time"

	"github.com/sendgrid/sendgrid-go"
	"github.com/sendgrid/sendgrid-go/helpers/mail"
	"go.uber.org/zap"
)

const (
	resendAPIBaseURL        = "https://api.resend.com"
	resendSandboxFromSender = "onboarding@resend.dev"
)

// EmailServiceConfig holds email service configuration. Provider
// selects which branch of sendEmail is used; every other provider's
// fields are ignored.
type EmailServiceConfig struct {
	Provider    string
	APIKey      string
	FromEmail   string
	FromName    string
	Environment string // "development", "staging", "production"
	BaseURL     string // for verification/reset links
	ReplyTo     string
	// SMTP settings (for mailpit, smtp providers)
	SMTPHost     string
	SMTPPort     int
	SMTPUsername string
	SMTPPassword string
	SMTPUseTLS   bool
}

// EmailService implements authsvc.EmailSender and payments.EmailSender
// across four interchangeable delivery providers.
type EmailService struct {
	logger     *zap.Logger
	config     EmailServiceConfig
	client     *sendgrid.Client
	httpClient *http.Client
}

func NewEmailService(logger *zap.Logger, config EmailServiceConfig) (*EmailService, error) {
	provider := strings.ToLower(strings.TrimSpace(config.Provider))
	if provider == "" {
		return nil, fmt.Errorf("email provider is required")
	}
	if strings.TrimSpace(config.FromEmail) == "" {
		return nil, fmt.Errorf("email from address is required")
	}

	var (
		client     *sendgrid.Client
		httpClient *http.Client
	)

	switch provider {
	case "sendgrid":
		if strings.TrimSpace(config.APIKey) == "" {
			return nil, fmt.Errorf("sendgrid api key is required")
		}
		client = sendgrid.NewSendClient(config.APIKey)
	case "resend":
		if strings.TrimSpace(config.APIKey) == "" {
			return nil, fmt.Errorf("resend api key is required")
		}
		httpClient = &http.Client{Timeout: 30 * time.Second}
	case "mailpit", "smtp":
		if config.SMTPHost == "" {
			return nil, fmt.Errorf("smtp host is required for %s provider", provider)
		}
		if config.SMTPPort == 0 {
			config.SMTPPort = 1025 // default mailpit port
		}
	case "mailtrap":
		if strings.TrimSpace(config.APIKey) == "" {
			return nil, fmt.Errorf("mailtrap api key is required")
		}
		httpClient = &http.Client{Timeout: 15 * time.Second}
	default:
		return nil, fmt.Errorf("unsupported email provider: %s", provider)
	}

	return &EmailService{logger: logger, config: config, client: client, httpClient: httpClient}, nil
}

func (e *EmailService) sendEmail(ctx context.Context, to, subject, htmlContent, textContent string) error {
	provider := strings.ToLower(e.config.Provider)

	ctxWithTimeout, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	switch provider {
	case "resend":
		return e.sendViaResend(ctxWithTimeout, to, subject, htmlContent, textContent)
	case "sendgrid":
		return e.sendViaSendgrid(ctxWithTimeout, to, subject, htmlContent, textContent)
	case "mailtrap":
		return e.sendViaMailtrap(ctxWithTimeout, to, subject, htmlContent, textContent)
	case "mailpit", "smtp":
		return e.sendViaSMTP(ctxWithTimeout, to, subject, htmlContent, textContent)
	default:
		return fmt.Errorf("unsupported email provider: %s", provider)
	}
}

func (e *EmailService) sendViaSendgrid(ctx context.Context, to, subject, htmlContent, textContent string) error {
	if e.client == nil {
		return fmt.Errorf("sendgrid client not configured")
	}

	from := mail.NewEmail(e.config.FromName, e.config.FromEmail)
	toEmail := mail.NewEmail("", to)
	message := mail.NewSingleEmail(from, subject, toEmail, textContent, htmlContent)

	if strings.TrimSpace(e.config.ReplyTo) != "" {
		message.SetReplyTo(mail.NewEmail(e.config.FromName, e.config.ReplyTo))
	}

	response, err := e.client.SendWithContext(ctx, message)
	if err != nil {
		e.logger.Error("email: send failed", zap.String("provider", "sendgrid"), zap.String("to", to), zap.Error(err))
		return fmt.Errorf("failed to send email: %w", err)
	}
	if response.StatusCode >= 400 {
		e.logger.Error("email: provider returned error",
			zap.String("provider", "sendgrid"), zap.String("to", to),
			zap.Int("status_code", response.StatusCode), zap.String("response_body", response.Body))
		return fmt.Errorf("email service error: status %d, body: %s", response.StatusCode, response.Body)
	}
	return nil
}

func (e *EmailService) sendViaResend(ctx context.Context, to, subject, htmlContent, textContent string) error {
	if e.httpClient == nil {
		return fmt.Errorf("resend client not configured")
	}

	fromEmail := strings.TrimSpace(e.config.FromEmail)
	from := fromEmail
	if strings.TrimSpace(e.config.FromName) != "" {
		from = fmt.Sprintf("%s <%s>", e.config.FromName, fromEmail)
	}

	if isNonProductionEnv(e.config.Environment) {
		domainParts := strings.SplitN(fromEmail, "@", 2)
		if len(domainParts) == 2 && strings.ToLower(strings.TrimSpace(domainParts[1])) != "resend.dev" {
			fromEmail = resendSandboxFromSender
			from = resendSandboxFromSender
			if strings.TrimSpace(e.config.FromName) != "" {
				from = fmt.Sprintf("%s <%s>", e.config.FromName, resendSandboxFromSender)
			}
			e.logger.Warn("email: overriding resend sender for non-production environment",
				zap.String("overridden_from", from), zap.String("environment", e.config.Environment))
		}
	}

	payload := map[string]any{"from": from, "to": []string{to}, "subject": subject, "html": htmlContent}
	if textContent != "" {
		payload["text"] = textContent
	}
	if strings.TrimSpace(e.config.ReplyTo) != "" {
		payload["reply_to"] = e.config.ReplyTo
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal resend payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, resendAPIBaseURL+"/emails", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create resend request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+e.config.APIKey)

	resp, err := e.httpClient.Do(req)
	if err != nil {
		e.logger.Error("email: resend request failed", zap.String("to", to), zap.Error(err))
		return fmt.Errorf("resend send request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	if resp.StatusCode >= 400 {
		e.logger.Error("email: resend returned error",
			zap.String("to", to), zap.Int("status_code", resp.StatusCode), zap.String("response_body", string(respBody)))
		return fmt.Errorf("resend email error: status %d", resp.StatusCode)
	}
	return nil
}

func (e *EmailService) sendViaMailtrap(ctx context.Context, to, subject, htmlContent, textContent string) error {
	payload := map[string]any{
		"from":    map[string]string{"email": e.config.FromEmail, "name": e.config.FromName},
		"to":      []map[string]string{{"email": to}},
		"subject": subject,
		"html":    htmlContent,
		"text":    textContent,
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal mailtrap payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, "https://sandbox.api.mailtrap.io/api/send/"+e.config.SMTPUsername, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create mailtrap request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+e.config.APIKey)

	client := &http.Client{Timeout: 15 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		e.logger.Error("email: mailtrap request failed", zap.String("to", to), zap.Error(err))
		return fmt.Errorf("mailtrap api failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(resp.Body)
	if resp.StatusCode >= 400 {
		e.logger.Error("email: mailtrap returned error", zap.Int("status", resp.StatusCode), zap.String("body", string(respBody)))
		return fmt.Errorf("mailtrap api error: status %d, body: %s", resp.StatusCode, string(respBody))
	}
	return nil
}

func (e *EmailService) sendViaSMTP(_ context.Context, to, subject, htmlContent, _ string) error {
	from := e.config.FromEmail
	if e.config.FromName != "" {
		from = fmt.Sprintf("%s <%s>", e.config.FromName, e.config.FromEmail)
	}

	var msg bytes.Buffer
	msg.WriteString(fmt.Sprintf("From: %s\r\n", from))
	msg.WriteString(fmt.Sprintf("To: %s\r\n", to))
	msg.WriteString(fmt.Sprintf("Subject: %s\r\n", subject))
	if e.config.ReplyTo != "" {
		msg.WriteString(fmt.Sprintf("Reply-To: %s\r\n", e.config.ReplyTo))
	}
	msg.WriteString("MIME-Version: 1.0\r\n")
	msg.WriteString("Content-Type: text/html; charset=\"UTF-8\"\r\n\r\n")
	msg.WriteString(htmlContent)

	addr := fmt.Sprintf("%s:%d", e.config.SMTPHost, e.config.SMTPPort)
	var auth smtp.Auth
	if e.config.SMTPUsername != "" {
		auth = smtp.PlainAuth("", e.config.SMTPUsername, e.config.SMTPPassword, e.config.SMTPHost)
	}

	var err error
	if e.config.SMTPUseTLS {
		err = e.sendSMTPWithTLS(addr, auth, e.config.FromEmail, to, msg.Bytes())
	} else {
		err = e.sendSMTPWithSTARTTLS(addr, auth, e.config.FromEmail, to, msg.Bytes())
	}
	if err != nil {
		e.logger.Error("email: smtp send failed", zap.String("to", to), zap.String("host", e.config.SMTPHost), zap.Error(err))
		return fmt.Errorf("smtp send failed: %w", err)
	}
	return nil
}

func (e *EmailService) sendSMTPWithTLS(addr string, auth smtp.Auth, from, to string, msg []byte) error {
	conn, err := tls.DialWithDialer(&net.Dialer{Timeout: 10 * time.Second}, "tcp", addr, &tls.Config{ServerName: e.config.SMTPHost})
	if err != nil {
		return fmt.Errorf("tls dial failed: %w", err)
	}
	defer conn.Close()

	client, err := smtp.NewClient(conn, e.config.SMTPHost)
	if err != nil {
		return err
	}
	defer client.Close()
	return deliverSMTP(client, auth, from, to, msg)
}

func (e *EmailService) sendSMTPWithSTARTTLS(addr string, auth smtp.Auth, from, to string, msg []byte) error {
	conn, err := net.DialTimeout("tcp", addr, 10*time.Second)
	if err != nil {
		return fmt.Errorf("smtp dial failed: %w", err)
	}
	defer conn.Close()

	client, err := smtp.NewClient(conn, e.config.SMTPHost)
	if err != nil {
		return err
	}
	defer client.Close()

	if ok, _ := client.Extension("STARTTLS"); ok {
		if err := client.StartTLS(&tls.Config{ServerName: e.config.SMTPHost}); err != nil {
			return fmt.Errorf("starttls failed: %w", err)
		}
	}
	return deliverSMTP(client, auth, from, to, msg)
}

func deliverSMTP(client *smtp.Client, auth smtp.Auth, from, to string, msg []byte) error {
	if auth != nil {
		if err := client.Auth(auth); err != nil {
			return err
		}
	}
	if err := client.Mail(from); err != nil {
		return err
	}
	if err := client.Rcpt(to); err != nil {
		return err
	}
	w, err := client.Data()
	if err != nil {
		return err
	}
	if _, err := w.Write(msg); err != nil {
		return err
	}
	if err := w.Close(); err != nil {
		return err
	}
	return client.Quit()
}

func isNonProductionEnv(env string) bool {
	switch strings.ToLower(strings.TrimSpace(env)) {
	case "", "dev", "development", "local", "staging", "test", "testing":
		return true
	default:
		return false
	}
}

func simpleTemplate(heading, body string) (htmlContent, textContent string) {
	htmlContent = fmt.Sprintf(`<!DOCTYPE html>
<html><head><meta charset="UTF-8"></head>
<body style="margin:0;padding:0;background-color:#f5f5f7;">
<table width="100%%" cellpadding="0" cellspacing="0" style="background-color:#f5f5f7;padding:40px 20px;">
<tr><td align="center">
<table width="480" cellpadding="0" cellspacing="0" style="background-color:#ffffff;border-radius:16px;overflow:hidden;">
<tr><td style="padding:32px 40px;">
  <p style="font-family:-apple-system,Helvetica Neue,Arial,sans-serif;font-size:20px;font-weight:600;color:#1d1d1f;margin:0 0 16px 0;">%s</p>
  <p style="font-family:-apple-system,Helvetica Neue,Arial,sans-serif;font-size:15px;color:#1d1d1f;margin:0;line-height:1.5;">%s</p>
</td></tr>
</table>
</td></tr></table>
</body></html>`, html.EscapeString(heading), html.EscapeString(body))
	textContent = fmt.Sprintf("%s\n\n%s", heading, body)
	return htmlContent, textContent
}

// SendVerificationEmail satisfies authsvc.EmailSender.
func (e *EmailService) SendVerificationEmail(ctx context.Context, email, token string) error {
	link := fmt.Sprintf("%s/verify-email?token=%s", e.config.BaseURL, token)
	htmlContent, textContent := simpleTemplate("Verify your email address",
		fmt.Sprintf("Click the link below to verify your email address: %s\n\nThis link expires in 24 hours.", link))
	return e.sendEmail(ctx, email, "Verify your email address", htmlContent, textContent)
}

// SendPasswordResetEmail satisfies authsvc.EmailSender.
func (e *EmailService) SendPasswordResetEmail(ctx context.Context, email, token string) error {
	link := fmt.Sprintf("%s/reset-password?token=%s", e.config.BaseURL, token)
	htmlContent, textContent := simpleTemplate("Reset your password",
		fmt.Sprintf("We received a request to reset your password: %s\n\nThis link expires in 1 hour. If you didn't request this, ignore this email.", link))
	return e.sendEmail(ctx, email, "Reset your password", htmlContent, textContent)
}

// SendPasswordChangedEmail satisfies authsvc.EmailSender.
func (e *EmailService) SendPasswordChangedEmail(ctx context.Context, email string) error {
	htmlContent, textContent := simpleTemplate("Your password was changed",
		"Your account password was just changed. If this wasn't you, reset your password immediately and contact support.")
	return e.sendEmail(ctx, email, "Your password was changed", htmlContent, textContent)
}

// SendNewDeviceAlertEmail satisfies authsvc.EmailSender.
func (e *EmailService) SendNewDeviceAlertEmail(ctx context.Context, email, deviceName, ip string) error {
	name := deviceName
	if name == "" {
		name = "an unrecognized device"
	}
	htmlContent, textContent := simpleTemplate("New sign-in to your account",
		fmt.Sprintf("We noticed a new sign-in from %s (IP %s). If this wasn't you, change your password and review your active sessions.", name, ip))
	return e.sendEmail(ctx, email, "New sign-in to your account", htmlContent, textContent)
}

// SendAccountLockedEmail satisfies authsvc.EmailSender.
func (e *EmailService) SendAccountLockedEmail(ctx context.Context, email string, lockedUntil time.Time) error {
	htmlContent, textContent := simpleTemplate("Your account has been temporarily locked",
		fmt.Sprintf("We locked your account after repeated failed sign-in attempts. You can try again after %s. If this wasn't you, consider resetting your password once the lock clears.",
			lockedUntil.UTC().Format(time.RFC1123)))
	return e.sendEmail(ctx, email, "Your account has been temporarily locked", htmlContent, textContent)
}

// SendPaymentConfirmationEmail satisfies payments.EmailSender.
func (e *EmailService) SendPaymentConfirmationEmail(ctx context.Context, email, orderID string) error {
	htmlContent, textContent := simpleTemplate("Your order is confirmed",
		fmt.Sprintf("Your payment was processed successfully for order %s. Thanks for your purchase.", orderID))
	return e.sendEmail(ctx, email, "Your order is confirmed", htmlContent, textContent)
}
