package kafka

import (
	"testing"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBrokers(t *testing.T) {
	t.Setenv("KAFKA_BROKERS", " kafka-1:9092, ,kafka-2:9092 ")

	assert.Equal(t, []string{"kafka-1:9092", "kafka-2:9092"}, Brokers())
}

func TestCreateChannel_NoBrokers(t *testing.T) {
	t.Setenv("KAFKA_BROKERS", "")

	_, _, err := CreateChannel(watermill.NopLogger{}, "autoflow")
	require.ErrorIs(t, err, ErrBrokersNotConfigured)
}
