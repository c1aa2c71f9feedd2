package mpesa

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Simulator stands in for the gateway in local and test runs. Every push is answered
// with Outcome after Delay, both through the status query and, when CallbackURL is set
// on the push, by POSTing a callback the way the real gateway does.
type Simulator struct {
	Outcome     string
	OutcomeDesc string
	Delay       time.Duration
	Callbacks   bool

	log        *slog.Logger
	httpClient *http.Client

	mu     sync.Mutex
	pushes map[string]*simulatedPush
	wg     sync.WaitGroup
}

type simulatedPush struct {
	params    STKPushParams
	merchant  string
	createdAt time.Time
}

// NewSimulator creates a Simulator that approves every payment after delay.
func NewSimulator(log *slog.Logger, delay time.Duration, callbacks bool) *Simulator {
	return &Simulator{
		Outcome:     ResultSuccess,
		OutcomeDesc: "The service request is processed successfully.",
		Delay:       delay,
		Callbacks:   callbacks,
		log:         log,
		httpClient:  &http.Client{Timeout: 10 * time.Second},
		pushes:      make(map[string]*simulatedPush),
	}
}

// InitiateSTKPush records the push and schedules its outcome.
func (s *Simulator) InitiateSTKPush(ctx context.Context, p STKPushParams) (*STKPushResponse, error) {
	merchant := fmt.Sprintf("sim-%s", uuid.NewString()[:8])
	checkout := "ws_CO_" + strings.ReplaceAll(uuid.NewString(), "-", "")[:20]

	s.mu.Lock()
	s.pushes[checkout] = &simulatedPush{params: p, merchant: merchant, createdAt: time.Now()}
	s.mu.Unlock()

	if s.Callbacks && p.CallbackURL != "" {
		s.wg.Add(1)
		go s.sendCallback(checkout)
	}

	return &STKPushResponse{
		MerchantRequestID:   merchant,
		CheckoutRequestID:   checkout,
		ResponseCode:        ResultSuccess,
		ResponseDescription: "Success. Request accepted for processing",
		CustomerMessage:     "Success. Request accepted for processing",
	}, nil
}

// QuerySTKStatus reports ResultProcessing until Delay has passed, then Outcome.
func (s *Simulator) QuerySTKStatus(ctx context.Context, checkoutRequestID string) (*STKQueryResponse, error) {
	s.mu.Lock()
	push, ok := s.pushes[checkoutRequestID]
	s.mu.Unlock()
	if !ok {
		return nil, &APIError{Status: http.StatusBadRequest, Code: "400.002.02", Message: "Bad Request - Invalid CheckoutRequestID"}
	}

	if time.Since(push.createdAt) < s.Delay {
		return &STKQueryResponse{
			CheckoutRequestID: checkoutRequestID,
			MerchantRequestID: push.merchant,
			ResultCode:        ResultProcessing,
			ResultDesc:        "The transaction is being processed",
		}, nil
	}

	return &STKQueryResponse{
		ResponseCode:      ResultSuccess,
		CheckoutRequestID: checkoutRequestID,
		MerchantRequestID: push.merchant,
		ResultCode:        Code(s.Outcome),
		ResultDesc:        s.OutcomeDesc,
	}, nil
}

// Wait blocks until scheduled callbacks have been delivered.
func (s *Simulator) Wait() {
	s.wg.Wait()
}

func (s *Simulator) sendCallback(checkout string) {
	defer s.wg.Done()
	time.Sleep(s.Delay)

	s.mu.Lock()
	push := s.pushes[checkout]
	s.mu.Unlock()

	var env CallbackEnvelope
	env.Body.STKCallback = STKCallback{
		MerchantRequestID: push.merchant,
		CheckoutRequestID: checkout,
		ResultCode:        Code(s.Outcome),
		ResultDesc:        s.OutcomeDesc,
	}
	if IsSuccess(s.Outcome) {
		env.Body.STKCallback.CallbackMetadata = &CallbackMetadata{Item: []CallbackItem{
			{Name: "Amount", Value: json.RawMessage(fmt.Sprintf("%d", ChargeAmount(push.params.Amount)))},
			{Name: "MpesaReceiptNumber", Value: json.RawMessage(fmt.Sprintf("%q", simulatedReceipt()))},
			{Name: "TransactionDate", Value: json.RawMessage(Timestamp(time.Now()))},
			{Name: "PhoneNumber", Value: json.RawMessage(push.params.PhoneNumber)},
		}}
	}

	payload, err := json.Marshal(env)
	if err != nil {
		s.log.Error("simulator: marshal callback", "error", err)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, push.params.CallbackURL, bytes.NewReader(payload))
	if err != nil {
		s.log.Error("simulator: build callback", "error", err)
		return
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		s.log.Warn("simulator: callback failed", "checkout_request_id", checkout, "error", err)
		return
	}
	_ = resp.Body.Close()
	s.log.Info("simulator: callback delivered", "checkout_request_id", checkout, "status", resp.StatusCode)
}

func simulatedReceipt() string {
	return strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", "")[:10])
}
