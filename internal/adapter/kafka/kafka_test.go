package kafka

import (
	"testing"
	"time"

	"github.com/couchcryptid/property-forecast/internal/domain"
	kafkago "github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMapMessageToRawEvent(t *testing.T) {
	now := time.Now()
	msg := kafkago.Message{
		Key:       []byte("key-1"),
		Value:     []byte(`{"price":"250000","postcode":"E1 6AN"}`),
		Topic:     "property-transactions",
		Partition: 2,
		Offset:    42,
		Time:      now,
		Headers: []kafkago.Header{
			{Key: "source", Value: []byte("collector")},
		},
	}

	raw := mapMessageToRawEvent(msg)

	assert.Equal(t, []byte("key-1"), raw.Key)
	assert.JSONEq(t, `{"price":"250000","postcode":"E1 6AN"}`, string(raw.Value))
	assert.Equal(t, "property-transactions", raw.Topic)
	assert.Equal(t, 2, raw.Partition)
	assert.Equal(t, int64(42), raw.Offset)
	assert.Equal(t, now, raw.Timestamp)
	assert.Equal(t, "collector", raw.Headers["source"])
	assert.Nil(t, raw.Commit)
}

func TestSerializeToMessage(t *testing.T) {
	now := time.Date(2024, 4, 26, 15, 10, 0, 0, time.UTC)
	event := domain.ForecastEvent{
		ID:          "evt-1",
		Sector:      "SW7 3",
		Postcode:    "SW7 3RP",
		SectorKnown: true,
		BundleID:    "bundle-1",
		Result: domain.ForecastResult{
			CurrentPrice: 650000,
			Forecasts: map[string]domain.HorizonForecast{
				"1y": {GrowthPct: 2.5, PriceValue: 666250},
			},
		},
		ServedAt: now,
	}

	msg, err := serializeToMessage(event)
	require.NoError(t, err)

	assert.Equal(t, []byte("SW7 3"), msg.Key)
	assert.Contains(t, string(msg.Value), `"sector":"SW7 3"`)
	assert.Contains(t, string(msg.Value), `"price_value":666250`)
	assert.Len(t, msg.Headers, 2)
	assert.Equal(t, "bundle_id", msg.Headers[0].Key)
	assert.Equal(t, []byte("bundle-1"), msg.Headers[0].Value)
	assert.Equal(t, "served_at", msg.Headers[1].Key)
	assert.Equal(t, []byte(now.Format(time.RFC3339)), msg.Headers[1].Value)
}
