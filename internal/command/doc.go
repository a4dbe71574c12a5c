// Package command queues operator configuration changes for delivery to
// loggers.
//
// Loggers cannot be reached directly; a command rides on the response to
// the device's next check-in. Each Request moves through
//
//	Pending -> Sent -> Confirmed
//	                \-> Failed
//	Pending ------------> Failed   (vendor cannot express the config)
//
// Confirmed and Failed are terminal. A device has at most one Sent request.
// For vendors that acknowledge, callers check OutstandingFor and deliver
// nothing new until the ack arrives. For vendors that never acknowledge,
// sending a new request fails the previous one as "superseded by <id>".
//
// # Usage
//
//	q, err := command.NewQueue(command.NewSQLiteRepository(db.DB))
//	req, err := q.Enqueue(ctx, deviceID, map[string]any{"record_interval": 300}, 10)
//
//	// on check-in
//	if outstanding, _ := q.OutstandingFor(ctx, deviceID); outstanding != nil {
//	    return // wait for the ack
//	}
//	next, err := q.NextPendingFor(ctx, deviceID)
//	if next != nil {
//	    err = q.MarkSent(ctx, next, cmd)
//	}
//
//	// on ack
//	_, err = q.MarkConfirmedLatestSentFor(ctx, deviceID)
package command
