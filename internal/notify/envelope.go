// Package notify turns storage notifications into pipeline work.
//
// A notification body is one of three shapes, tried in this order:
//
//  1. Direct: an S3 event document with a "Records" array.
//  2. Forwarded: an SNS envelope whose "Message" string holds a direct
//     document. Exactly one level is unwrapped; a forwarded document
//     inside a forwarded document is malformed.
//  3. Test event: the "s3:TestEvent" S3 sends when a notification target
//     is configured. It carries no objects.
//
// Anything else is a ParseError.
package notify

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/JonMunkholm/csvsink/internal/ingest"
)

// ErrMalformed is wrapped by every ParseError.
var ErrMalformed = errors.New("malformed notification")

const testEvent = "s3:TestEvent"

// Kind is the detected shape of a notification body.
type Kind int

const (
	KindDirect Kind = iota + 1
	KindForwarded
	KindTestEvent
)

func (k Kind) String() string {
	switch k {
	case KindDirect:
		return "direct"
	case KindForwarded:
		return "forwarded"
	case KindTestEvent:
		return "test_event"
	default:
		return "unknown"
	}
}

// Envelope is a parsed notification. Refs keep keys exactly as delivered
// (URL-encoded); the pipeline decodes them.
type Envelope struct {
	Kind Kind
	Refs []ingest.ObjectRef
}

// ParseError reports a body that matched none of the known shapes.
type ParseError struct {
	MessageID string
	Err       error
}

func (e *ParseError) Error() string {
	if e.MessageID == "" {
		return fmt.Sprintf("parse notification: %v", e.Err)
	}
	return fmt.Sprintf("parse notification %s: %v", e.MessageID, e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

// MissingFieldsError describes an object reference without a bucket or key.
// It is logged and skipped, never returned by Dispatch.
type MissingFieldsError struct {
	MessageID string
	Index     int
	Ref       ingest.ObjectRef
}

func (e *MissingFieldsError) Error() string {
	var missing []string
	if e.Ref.Bucket == "" {
		missing = append(missing, "bucket")
	}
	if e.Ref.Key == "" {
		missing = append(missing, "key")
	}
	return fmt.Sprintf("notification %s record %d: missing %v", e.MessageID, e.Index, missing)
}

// probe captures only the fields that decide the shape.
type probe struct {
	Records json.RawMessage `json:"Records"`
	Message *string         `json:"Message"`
	Event   string          `json:"Event"`
}

// direct reads only the bucket name and key of each record, so fields the
// pipeline never uses (eventTime, userIdentity) cannot reject a body.
type direct struct {
	Records []struct {
		S3 struct {
			Bucket struct {
				Name string `json:"name"`
			} `json:"bucket"`
			Object struct {
				Key string `json:"key"`
			} `json:"object"`
		} `json:"s3"`
	} `json:"Records"`
}

// Parse detects the shape of body and extracts its object references.
func Parse(body []byte) (Envelope, error) {
	env, wrapped, err := parseDirect(body)
	if err != nil {
		return Envelope{}, err
	}
	if wrapped == nil {
		return env, nil
	}

	inner, nested, err := parseDirect([]byte(*wrapped))
	if err != nil {
		return Envelope{}, fmt.Errorf("forwarded message: %w", err)
	}
	if nested != nil {
		return Envelope{}, fmt.Errorf("%w: forwarded more than once", ErrMalformed)
	}
	if inner.Kind == KindDirect {
		inner.Kind = KindForwarded
	}
	return inner, nil
}

// parseDirect handles the direct and test-event shapes. When body is a
// forwarding envelope it returns the wrapped message instead.
func parseDirect(body []byte) (Envelope, *string, error) {
	var p probe
	if err := json.Unmarshal(body, &p); err != nil {
		return Envelope{}, nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}

	switch {
	case p.Records != nil:
		var d direct
		if err := json.Unmarshal(body, &d); err != nil {
			return Envelope{}, nil, fmt.Errorf("%w: records: %v", ErrMalformed, err)
		}
		refs := make([]ingest.ObjectRef, 0, len(d.Records))
		for _, r := range d.Records {
			refs = append(refs, ingest.ObjectRef{Bucket: r.S3.Bucket.Name, Key: r.S3.Object.Key})
		}
		return Envelope{Kind: KindDirect, Refs: refs}, nil, nil

	case p.Event == testEvent:
		return Envelope{Kind: KindTestEvent}, nil, nil

	case p.Message != nil:
		return Envelope{}, p.Message, nil
	}

	return Envelope{}, nil, fmt.Errorf("%w: no Records or Message field", ErrMalformed)
}
