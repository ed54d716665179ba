package queuedispatch

import (
	"context"
	"encoding/json"
	"fmt"

	"skylift/internal/payloadstore"
	"skylift/pkg/event"

	"github.com/google/uuid"
	"github.com/tidwall/gjson"
)

// DefaultMaxInlineBytes matches the SQS message size limit.
const DefaultMaxInlineBytes = 256 * 1024

// offloadField marks a body as a payload reference envelope.
const offloadField = "payload_ref"

type offloadEnvelope struct {
	PayloadRef string `json:"payload_ref"`
}

// offloadBody stores an oversized body and returns the reference envelope
// that travels on the queue in its place.
func offloadBody(ctx context.Context, store payloadstore.Store, body []byte) ([]byte, error) {
	key := uuid.New().String()
	if err := store.Put(ctx, key, body); err != nil {
		return nil, fmt.Errorf("failed to offload payload: %w", err)
	}
	envelope, err := json.Marshal(offloadEnvelope{PayloadRef: key})
	if err != nil {
		return nil, err
	}
	return envelope, nil
}

// offloadKey returns the payload reference if the body is an envelope.
func offloadKey(body []byte) string {
	return gjson.GetBytes(body, offloadField).String()
}

// resolveOffload swaps a reference envelope for the stored payload. The
// stored blob is deleted by the engine only after the handler succeeds, so
// redeliveries can resolve it again.
func resolveOffload(ctx context.Context, store payloadstore.Store, msg *event.Message) (string, error) {
	key := offloadKey(msg.Body)
	if key == "" || store == nil {
		return "", nil
	}

	body, err := store.Get(ctx, key)
	if err != nil {
		return "", fmt.Errorf("failed to resolve offloaded payload %s: %w", key, err)
	}
	msg.Body = body
	msg.ContentType = ""
	return key, nil
}
