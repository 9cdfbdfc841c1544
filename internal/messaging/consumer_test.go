package messaging

import (
	"testing"

	"github.com/streadway/amqp"
)

func TestRedeliveryCount(t *testing.T) {
	tests := []struct {
		name    string
		headers amqp.Table
		want    int64
	}{
		{"no headers", nil, 0},
		{"own retry header", amqp.Table{"x-retry-count": int64(2)}, 2},
		{"narrow integer", amqp.Table{"x-retry-count": int32(1)}, 1},
		{"unparsable retry header", amqp.Table{"x-retry-count": "many"}, 0},
		{"broker death count", amqp.Table{"x-death": []interface{}{amqp.Table{"count": int64(4)}}}, 4},
		{"empty death list", amqp.Table{"x-death": []interface{}{}}, 0},
		{"retry header wins", amqp.Table{
			"x-retry-count": int64(1),
			"x-death":       []interface{}{amqp.Table{"count": int64(5)}},
		}, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := redeliveryCount(amqp.Delivery{Headers: tt.headers}); got != tt.want {
				t.Errorf("expected %d, got %d", tt.want, got)
			}
		})
	}
}

func TestShouldRedeliver_StopsAtMax(t *testing.T) {
	for count := int64(0); count <= maxRedeliveries+1; count++ {
		msg := amqp.Delivery{Headers: amqp.Table{"x-retry-count": count}}
		want := count < maxRedeliveries
		if got := shouldRedeliver(msg); got != want {
			t.Errorf("retry count %d: expected redeliver=%v, got %v", count, want, got)
		}
	}
}

func TestCallbackRoutingKey(t *testing.T) {
	if got := CallbackRoutingKey(); got != "saga.payment-gateway.payment.callback" {
		t.Errorf("unexpected routing key %q", got)
	}
}
