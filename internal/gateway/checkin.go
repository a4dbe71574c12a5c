package gateway

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/nerrad567/loggergw/internal/adapter"
	"github.com/nerrad567/loggergw/internal/deadletter"
	"github.com/nerrad567/loggergw/internal/device"
)

// maxBodySize bounds a single check-in payload (history uploads included).
const maxBodySize = 1 << 20

// handle runs one check-in through the fixed sequence
// identify -> resolve -> ack -> ingest -> mark online -> next command -> respond.
// Failures after device resolution never change the HTTP outcome.
func (g *Gateway) handle(ep endpoint) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		a, err := g.adapters.MakeForVendor(ep.vendor)
		if err != nil {
			g.logger.Error("no adapter for endpoint", "vendor", ep.vendor, "error", err)
			writeError(w, http.StatusInternalServerError, "internal_error", "vendor not available")
			return
		}

		body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodySize))
		if err != nil {
			g.stats.rejected.Add(1)
			writeError(w, http.StatusBadRequest, "bad_request", "unreadable request body")
			return
		}
		req := &adapter.Request{Query: r.URL.Query(), Body: body, ReceivedAt: g.now().UTC()}

		if ep.timeSync != nil && ep.timeSync(req) {
			g.stats.timeSyncs.Add(1)
			writeJSON(w, http.StatusOK, a.BuildSuccessResponse(nil, adapter.ResponseContext{
				ServerTime:     req.ReceivedAt,
				UploadInterval: g.uploadInterval,
			}))
			return
		}

		identifier := ep.identify(req)
		if identifier == "" {
			g.stats.rejected.Add(1)
			writeError(w, http.StatusBadRequest, "bad_request", "missing device identifier")
			return
		}
		g.stats.checkIns.Add(1)

		rc := adapter.ResponseContext{
			Identifier:     identifier,
			ServerTime:     req.ReceivedAt,
			UploadInterval: g.uploadInterval,
		}

		d, err := g.resolve(ctx, ep, identifier)
		if err != nil {
			g.stats.unknownDevices.Add(1)
			if errors.Is(err, device.ErrDeviceNotFound) {
				g.logger.Warn("check-in from unknown device", "vendor", ep.vendor, "device_uid", identifier, "bytes", len(body))
			} else {
				g.logger.Error("device lookup failed", "vendor", ep.vendor, "device_uid", identifier, "error", err)
			}
			writeJSON(w, http.StatusOK, a.BuildSuccessResponse(nil, rc))
			return
		}

		rc.Device = d
		if d.UploadInterval > 0 {
			rc.UploadInterval = d.UploadInterval
		}

		g.applyAck(ctx, a, d, req)
		if g.ingest(ctx, a, d, req) {
			if err := g.ingestion.MarkOnline(ctx, d); err != nil {
				g.logger.Error("marking device online failed", "device_uid", d.UID, "error", err)
			}
		}
		cmd := g.nextCommand(ctx, a, d)

		rc.ServerTime = g.now().UTC()
		writeJSON(w, http.StatusOK, a.BuildSuccessResponse(cmd, rc))
	}
}

// resolve finds the device behind identifier. A device registered under a
// different vendor is treated as unknown: its payload cannot be parsed by
// this endpoint's adapter.
func (g *Gateway) resolve(ctx context.Context, ep endpoint, identifier string) (*device.Device, error) {
	var (
		d   *device.Device
		err error
	)
	switch ep.lookup {
	case lookupUIDOrCode:
		d, err = g.devices.FindByUIDOrCode(ctx, identifier)
	default:
		d, err = g.devices.FindByUID(ctx, identifier)
	}
	if err != nil {
		return nil, err
	}

	a, err := g.adapters.MakeForDevice(d)
	if err != nil {
		return nil, err
	}
	if a.Vendor() != ep.vendor {
		return nil, fmt.Errorf("%w: %s is registered as %s", device.ErrDeviceNotFound, identifier, a.Vendor())
	}
	return d, nil
}

// applyAck resolves the latest Sent request when the check-in carries an
// acknowledgement. It runs before ingestion so queue state is settled even
// if the readings turn out to be unusable.
func (g *Gateway) applyAck(ctx context.Context, a adapter.VendorAdapter, d *device.Device, req *adapter.Request) {
	ack := a.ParseConfigAck(req)
	switch ack.Result {
	case adapter.AckConfirmed:
		resolved, err := g.queue.MarkConfirmedLatestSentFor(ctx, d.ID)
		if err != nil {
			g.logger.Error("confirming config request failed", "device_uid", d.UID, "error", err)
			return
		}
		if resolved != nil {
			g.stats.acksConfirmed.Add(1)
			g.logger.Info("config request confirmed", "device_uid", d.UID, "request_id", resolved.ID)
		}
	case adapter.AckFailed:
		resolved, err := g.queue.MarkFailedLatestSentFor(ctx, d.ID, ack.Reason)
		if err != nil {
			g.logger.Error("failing config request failed", "device_uid", d.UID, "error", err)
			return
		}
		if resolved != nil {
			g.stats.acksFailed.Add(1)
			g.logger.Warn("device rejected config", "device_uid", d.UID, "request_id", resolved.ID, "reason", ack.Reason)
		}
	}
}

// ingest parses and stores the readings of one check-in. Every failure,
// panics included, is logged and counted here and reported as false.
func (g *Gateway) ingest(ctx context.Context, a adapter.VendorAdapter, d *device.Device, req *adapter.Request) (ok bool) {
	defer func() {
		if rec := recover(); rec != nil {
			g.ingestFailed(a, d, req, fmt.Errorf("panic during ingestion: %v", rec))
			ok = false
		}
	}()

	batches, err := a.ParseReadings(req)
	if err != nil {
		g.ingestFailed(a, d, req, err)
		return false
	}
	stored, err := g.ingestion.IngestBatches(ctx, d, batches)
	if err != nil {
		g.ingestFailed(a, d, req, err)
		return false
	}

	g.stats.batchesIngested.Add(uint64(len(stored)))
	if g.deadLetters != nil {
		g.deadLetters.RecordSuccess(a.Vendor(), d.UID)
	}
	return true
}

func (g *Gateway) ingestFailed(a adapter.VendorAdapter, d *device.Device, req *adapter.Request, err error) {
	g.stats.ingestionFailures.Add(1)
	g.logger.Error("ingestion failed",
		"vendor", a.Vendor(),
		"device_uid", d.UID,
		"error", err,
	)
	if g.deadLetters == nil {
		return
	}
	g.deadLetters.RecordFailure(deadletter.Entry{
		Vendor:     a.Vendor(),
		DeviceUID:  d.UID,
		LastError:  err.Error(),
		Query:      req.Query.Encode(),
		Payload:    string(req.Body),
		ReceivedAt: req.ReceivedAt,
	})
}

// nextCommand selects the next pending request and turns it into the
// vendor's command text. It returns nil when nothing should be sent.
func (g *Gateway) nextCommand(ctx context.Context, a adapter.VendorAdapter, d *device.Device) *string {
	// An acknowledging device gets one command at a time; its next ack must
	// resolve the request it was actually sent.
	if adapter.AcknowledgesCommands(a) {
		outstanding, err := g.queue.OutstandingFor(ctx, d.ID)
		if err != nil {
			g.logger.Error("selecting outstanding config request failed", "device_uid", d.UID, "error", err)
			return nil
		}
		if outstanding != nil {
			g.logger.Debug("config request awaiting ack", "device_uid", d.UID, "request_id", outstanding.ID)
			return nil
		}
	}

	pending, err := g.queue.NextPendingFor(ctx, d.ID)
	if err != nil {
		g.logger.Error("selecting pending config request failed", "device_uid", d.UID, "error", err)
		return nil
	}
	if pending == nil {
		return nil
	}

	cmd, err := a.BuildConfigCommand(pending.RequestedConfig)
	if err != nil {
		g.stats.commandsFailed.Add(1)
		g.logger.Warn("config request cannot be expressed for vendor",
			"device_uid", d.UID,
			"request_id", pending.ID,
			"error", err,
		)
		if markErr := g.queue.MarkFailed(ctx, pending.ID, err.Error()); markErr != nil {
			g.logger.Error("failing config request failed", "request_id", pending.ID, "error", markErr)
		}
		return nil
	}

	if err := g.queue.MarkSent(ctx, pending, cmd); err != nil {
		// Never push a command the queue does not record as Sent; the
		// device's ack could not be matched.
		g.logger.Error("marking config request sent failed", "request_id", pending.ID, "error", err)
		return nil
	}
	g.stats.commandsSent.Add(1)
	g.logger.Debug("config command sent", "device_uid", d.UID, "request_id", pending.ID)
	return &cmd
}
