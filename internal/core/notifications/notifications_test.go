package notifications

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/IBM/sarama"
	"github.com/IBM/sarama/mocks"
	"github.com/google/uuid"
	"go.uber.org/zap/zaptest"

	"github.com/laityfaye/portfolio-pay/internal/core/domain"
	"github.com/laityfaye/portfolio-pay/internal/core/security"
)

func testEvent() domain.OutboxEvent {
	return domain.OutboxEvent{
		ID:        uuid.New(),
		EventType: domain.EventPaymentApproved,
		Key:       "PF-1",
		Payload:   []byte(`{"event":"payment.approved","ref_command":"PF-1"}`),
		Status:    domain.OutboxPending,
	}
}

func TestKafkaPublisher(t *testing.T) {
	producer := mocks.NewSyncProducer(t, nil)
	event := testEvent()
	producer.ExpectSendMessageWithCheckerFunctionAndSucceed(func(val []byte) error {
		if string(val) != string(event.Payload) {
			return errors.New("unexpected payload " + string(val))
		}
		return nil
	})
	producer.ExpectSendMessageAndFail(sarama.ErrOutOfBrokers)

	pub := NewKafkaPublisher(producer, "payment_events", zaptest.NewLogger(t))
	if err := pub.Publish(context.Background(), event); err != nil {
		t.Fatalf("Publish failed: %v", err)
	}
	if err := pub.Publish(context.Background(), event); !errors.Is(err, sarama.ErrOutOfBrokers) {
		t.Errorf("Expected broker error, got %v", err)
	}
	if err := pub.Close(); err != nil {
		t.Errorf("Close failed: %v", err)
	}
}

func TestHeaderCarrier(t *testing.T) {
	c := headerCarrier{}
	c.Set("traceparent", "00-abc-def-01")
	if c.Get("traceparent") != "00-abc-def-01" || len(c.Keys()) != 1 {
		t.Errorf("Unexpected carrier: %v", c)
	}
}

func TestWebhookPublisher_SignsBody(t *testing.T) {
	event := testEvent()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		want := security.HMACSHA256Hex([]byte("whsec"), body)
		if r.Header.Get(SignatureHeader) != want {
			t.Errorf("Bad signature %q", r.Header.Get(SignatureHeader))
		}
		if string(body) != string(event.Payload) {
			t.Errorf("Unexpected body %s", body)
		}
		if r.Header.Get("X-Event-Type") != domain.EventPaymentApproved {
			t.Errorf("Missing event type header")
		}
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	pub, err := NewWebhookPublisher(srv.URL, "whsec")
	if err != nil {
		t.Fatal(err)
	}
	if err := pub.Publish(context.Background(), event); err != nil {
		t.Errorf("Publish failed: %v", err)
	}
}

func TestWebhookPublisher_Non2xx(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	pub, err := NewWebhookPublisher(srv.URL, "whsec")
	if err != nil {
		t.Fatal(err)
	}
	if err := pub.Publish(context.Background(), testEvent()); err == nil {
		t.Error("Expected error on 500")
	}
	if _, err := NewWebhookPublisher(srv.URL, ""); err == nil {
		t.Error("Expected missing secret to be rejected")
	}
}

func TestLogPublisher(t *testing.T) {
	if err := NewLogPublisher(zaptest.NewLogger(t)).Publish(context.Background(), testEvent()); err != nil {
		t.Errorf("Unexpected error: %v", err)
	}
}
