package service

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"duka/internal/domain"
)

// NotificationType represents the type of notification.
type NotificationType string

const (
	NotificationOrderConfirmed NotificationType = "ORDER_CONFIRMED"
	NotificationPaymentFailed  NotificationType = "PAYMENT_FAILED"
)

// Notification is the event handed to the notification collaborator.
type Notification struct {
	Type      NotificationType `json:"type"`
	Order     OrderSnapshot    `json:"order"`
	CreatedAt time.Time        `json:"created_at"`
}

// OrderSnapshot is the order data included in notifications.
type OrderSnapshot struct {
	OrderNumber   string          `json:"order_number"`
	CustomerID    string          `json:"customer_id,omitempty"`
	GuestEmail    string          `json:"guest_email,omitempty"`
	CustomerName  string          `json:"customer_name,omitempty"`
	CustomerPhone string          `json:"customer_phone,omitempty"`
	Status        string          `json:"status"`
	PaymentStatus string          `json:"payment_status"`
	Total         decimal.Decimal `json:"total"`
	ReceiptNumber string          `json:"receipt_number,omitempty"`
}

func snapshotOf(order *domain.Order, receipt string) OrderSnapshot {
	return OrderSnapshot{
		OrderNumber:   order.OrderNumber,
		CustomerID:    order.Customer.ID,
		GuestEmail:    order.Customer.GuestEmail,
		CustomerName:  order.Customer.Name,
		CustomerPhone: order.Customer.Phone,
		Status:        string(order.Status),
		PaymentStatus: string(order.PaymentStatus),
		Total:         order.Total,
		ReceiptNumber: receipt,
	}
}

// Notifier delivers notifications to customers.
type Notifier interface {
	Send(ctx context.Context, n Notification) error
}

// LogNotifier writes notifications to the log. Used when no webhook is configured.
type LogNotifier struct {
	log *slog.Logger
}

// NewLogNotifier creates a new LogNotifier.
func NewLogNotifier(log *slog.Logger) *LogNotifier {
	return &LogNotifier{log: log}
}

// Send logs the notification.
func (n *LogNotifier) Send(ctx context.Context, notification Notification) error {
	n.log.InfoContext(ctx, "notification",
		"type", notification.Type,
		"order_number", notification.Order.OrderNumber,
		"status", notification.Order.Status,
		"total", notification.Order.Total.String(),
	)
	return nil
}

// HTTPNotifier POSTs notifications as JSON to a webhook.
type HTTPNotifier struct {
	url        string
	httpClient *http.Client
}

// NewHTTPNotifier creates a new HTTPNotifier.
func NewHTTPNotifier(url string, timeout time.Duration) *HTTPNotifier {
	return &HTTPNotifier{
		url:        url,
		httpClient: &http.Client{Timeout: timeout},
	}
}

// Send posts the notification. Any non-2xx answer is an error.
func (n *HTTPNotifier) Send(ctx context.Context, notification Notification) error {
	body, err := json.Marshal(notification)
	if err != nil {
		return fmt.Errorf("marshal notification: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("send notification: %w", err)
	}
	defer func() {
		_, _ = io.Copy(io.Discard, resp.Body)
		_ = resp.Body.Close()
	}()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("send notification: status %d", resp.StatusCode)
	}
	return nil
}

// NotificationService dispatches notifications in the background. A failed or slow
// notifier never affects the caller.
type NotificationService struct {
	notifier Notifier
	timeout  time.Duration
	log      *slog.Logger
	wg       sync.WaitGroup
}

// NewNotificationService creates a new NotificationService.
func NewNotificationService(notifier Notifier, timeout time.Duration, log *slog.Logger) *NotificationService {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &NotificationService{
		notifier: notifier,
		timeout:  timeout,
		log:      log,
	}
}

// NotifyOrderConfirmed tells the customer their payment was received.
func (s *NotificationService) NotifyOrderConfirmed(order *domain.Order, receipt string) {
	s.dispatch(Notification{
		Type:      NotificationOrderConfirmed,
		Order:     snapshotOf(order, receipt),
		CreatedAt: time.Now().UTC(),
	})
}

// NotifyPaymentFailed tells the customer their payment attempt did not go through.
func (s *NotificationService) NotifyPaymentFailed(order *domain.Order) {
	s.dispatch(Notification{
		Type:      NotificationPaymentFailed,
		Order:     snapshotOf(order, ""),
		CreatedAt: time.Now().UTC(),
	})
}

// Wait blocks until in-flight notifications finish or ctx is done.
func (s *NotificationService) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// dispatch sends on a detached context so the request that triggered it can finish first.
func (s *NotificationService) dispatch(n Notification) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer func() {
			if r := recover(); r != nil {
				s.log.Error("notifier panicked", "type", n.Type, "order_number", n.Order.OrderNumber, "panic", r)
			}
		}()

		ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
		defer cancel()

		if err := s.notifier.Send(ctx, n); err != nil {
			s.log.Warn("notification failed", "type", n.Type, "order_number", n.Order.OrderNumber, "error", err)
		}
	}()
}
