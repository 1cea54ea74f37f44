package notify

import (
	"encoding/json"
	"net/url"
	"strings"
	"time"

	"github.com/aws/aws-lambda-go/events"

	"github.com/JonMunkholm/csvsink/internal/ingest"
)

// EncodeKey escapes key the way S3 does in event notifications: spaces
// become '+', reserved characters are percent-encoded, '/' is kept.
func EncodeKey(key string) string {
	return strings.ReplaceAll(url.QueryEscape(key), "%2F", "/")
}

// NewEvent builds a direct S3 event document announcing refs, as S3 would
// deliver it. Keys in refs are plain and get encoded here.
func NewEvent(at time.Time, refs ...ingest.ObjectRef) ([]byte, error) {
	ev := events.S3Event{Records: make([]events.S3EventRecord, 0, len(refs))}
	for _, ref := range refs {
		ev.Records = append(ev.Records, events.S3EventRecord{
			EventVersion: "2.1",
			EventSource:  "aws:s3",
			EventTime:    at.UTC(),
			EventName:    "ObjectCreated:Put",
			S3: events.S3Entity{
				SchemaVersion: "1.0",
				Bucket:        events.S3Bucket{Name: ref.Bucket},
				Object:        events.S3Object{Key: EncodeKey(ref.Key)},
			},
		})
	}
	return json.Marshal(ev)
}
