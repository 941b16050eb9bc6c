// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package producer

import "time"

// Message is one outbound message handed to a producer.
type Message struct {
	Topic       string
	Key         string
	Payload     []byte
	ContentType string
	Headers     map[string]string
	Timestamp   time.Time
}

// NewMessage creates a new message for the given topic.
func NewMessage(topic string, payload []byte) *Message {
	return &Message{
		Topic:     topic,
		Payload:   payload,
		Timestamp: time.Now(),
	}
}

// Copy creates a deep copy of the message.
func (m *Message) Copy() *Message {
	if m == nil {
		return nil
	}

	msg := &Message{
		Topic:       m.Topic,
		Key:         m.Key,
		ContentType: m.ContentType,
		Timestamp:   m.Timestamp,
	}

	if m.Payload != nil {
		msg.Payload = make([]byte, len(m.Payload))
		copy(msg.Payload, m.Payload)
	}

	if m.Headers != nil {
		msg.Headers = make(map[string]string, len(m.Headers))
		for k, v := range m.Headers {
			msg.Headers[k] = v
		}
	}

	return msg
}
