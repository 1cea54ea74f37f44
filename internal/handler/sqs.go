// Package handler adapts queue deliveries to the notification dispatcher.
package handler

import (
	"context"

	"github.com/aws/aws-lambda-go/events"

	"github.com/JonMunkholm/csvsink/internal/logging"
	"github.com/JonMunkholm/csvsink/internal/notify"
)

// Dispatcher processes a batch of notifications.
// *notify.Dispatcher implements this interface.
type Dispatcher interface {
	Dispatch(ctx context.Context, msgs []notify.Message) (*notify.Report, error)
}

// SQSHandler is the Lambda entry point for SQS-triggered invocations.
type SQSHandler struct {
	dispatcher     Dispatcher
	reportFailures bool
}

// NewSQSHandler returns a handler. With reportFailures the handler answers
// with a partial batch response instead of failing the whole invocation;
// the event source mapping must have ReportBatchItemFailures enabled.
func NewSQSHandler(d Dispatcher, reportFailures bool) *SQSHandler {
	return &SQSHandler{dispatcher: d, reportFailures: reportFailures}
}

// Handle dispatches every record of the event in delivery order.
//
// Without partial batch responses a returned error makes SQS redeliver the
// whole batch. With them:
//   - a fail-fast abort marks every message that did not fully commit for
//     redelivery, including earlier messages whose objects were cancelled
//     by a concurrent failure
//   - in continue mode only messages with retryable failures are redelivered
func (h *SQSHandler) Handle(ctx context.Context, event events.SQSEvent) (events.SQSEventResponse, error) {
	logger := logging.FromContext(ctx)

	msgs := make([]notify.Message, len(event.Records))
	msgIDs := make([]string, len(event.Records))
	for i, r := range event.Records {
		msgs[i] = notify.Message{ID: r.MessageId, Body: []byte(r.Body)}
		msgIDs[i] = r.MessageId
	}

	report, err := h.dispatcher.Dispatch(ctx, msgs)

	logger.Info("sqs batch processed",
		"messages", report.Messages,
		"objects", report.Objects,
		"rows", report.Rows,
		"skipped", report.Skipped,
		"failures", len(report.Failures),
	)

	if !h.reportFailures {
		return events.SQSEventResponse{}, err
	}

	var ids []string
	if err != nil {
		logger.Error("dispatch aborted", "error", err)
		ids = report.Unsettled(msgIDs)
	} else {
		ids = report.FailedMessages(true)
	}

	resp := events.SQSEventResponse{}
	for _, id := range ids {
		resp.BatchItemFailures = append(resp.BatchItemFailures, events.SQSBatchItemFailure{ItemIdentifier: id})
	}
	if len(ids) > 0 {
		logger.Warn("returning partial batch failures", "count", len(ids))
	}
	return resp, nil
}
