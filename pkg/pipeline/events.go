package pipeline

import (
	"fmt"
	"net/url"
	"time"

	"github.com/minio/minio-go/v7/pkg/notification"
)

// FromEvents converts an S3-compatible bucket notification payload into
// notifications, preserving record order. Object keys arrive URL-encoded and
// are decoded exactly once here.
func FromEvents(info notification.Info) ([]Notification, error) {
	out := make([]Notification, 0, len(info.Records))
	for i, ev := range info.Records {
		key, err := url.QueryUnescape(ev.S3.Object.Key)
		if err != nil {
			return nil, fmt.Errorf("%w: record %d: object key: %v", ErrMalformedBatch, i, err)
		}

		n := Notification{
			SourceLocation: ev.S3.Bucket.Name,
			ObjectKey:      key,
		}
		if ev.EventTime != "" {
			if ts, err := time.Parse(time.RFC3339Nano, ev.EventTime); err == nil {
				n.EventTime = ts.UTC()
			}
		}
		out = append(out, n)
	}
	return out, nil
}
