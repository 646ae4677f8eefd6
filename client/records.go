package client

import (
	"encoding/base64"
	"fmt"

	"github.com/bytedance/sonic"
)

// RoutingData addresses a record: the topic it belongs to and the key the
// service shards it by.
type RoutingData struct {
	Topic       string `json:"topic"`
	ShardingKey string `json:"shardingKey"`
}

// Message carries a record's headers and its base64-encoded payload.
type Message struct {
	Headers map[string]string `json:"headers"`
	Payload string            `json:"payload"`
}

// ConsumerRecord is the wire shape of one consumed record.
type ConsumerRecord struct {
	RoutingData RoutingData `json:"routingData"`
	Partition   int         `json:"partition"`
	Offset      int64       `json:"offset"`
	Message     Message     `json:"message"`
}

type consumerRecordsResponse struct {
	Records []ConsumerRecord `json:"records"`
}

// ProducerRecord is the wire shape of one record to produce.
type ProducerRecord struct {
	RoutingData RoutingData `json:"routingData"`
	Message     Message     `json:"message"`
}

// ProducerRecords is the body of a produce request.
type ProducerRecords struct {
	Records []ProducerRecord `json:"records"`
}

// Record is a consumed record after payload decoding, as delivered to the
// process callback.
type Record struct {
	Topic     string
	Partition int
	Offset    int64
	Headers   map[string]string
	Payload   []byte
}

// Decode parses the decoded payload bytes as JSON into v.
func (r *Record) Decode(v any) error {
	return sonic.Unmarshal(r.Payload, v)
}

func decodeRecord(cr ConsumerRecord) (Record, error) {
	payload, err := base64.StdEncoding.DecodeString(cr.Message.Payload)
	if err != nil {
		return Record{}, fmt.Errorf("decode payload: %w", err)
	}

	return Record{
		Topic:     cr.RoutingData.Topic,
		Partition: cr.Partition,
		Offset:    cr.Offset,
		Headers:   cr.Message.Headers,
		Payload:   payload,
	}, nil
}

// EncodePayload marshals v as JSON and base64-encodes it for a
// ProducerRecord payload.
func EncodePayload(v any) (string, error) {
	b, err := sonic.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("marshal payload: %w", err)
	}

	return base64.StdEncoding.EncodeToString(b), nil
}

// offsetEntry is one pending local acknowledgement awaiting commit.
type offsetEntry struct {
	Topic     string `json:"topic"`
	Partition int    `json:"partition"`
	Offset    int64  `json:"offset"`
}

type commitRequest struct {
	Offsets []offsetEntry `json:"offsets"`
}
