// Package device is the registry of physical loggers known to the gateway.
//
// A Device belongs to a HardwareModel, which fixes its vendor (and therefore
// the wire protocol its check-ins use) and how many sensor slots it has.
// SensorAssignment records which logical sensor is wired to each slot so
// that vendor-neutral slot readings can be labelled at ingestion time.
//
// # Key Types
//
//   - Device: one logger, with liveness and latest telemetry
//   - HardwareModel: vendor + slot count
//   - Repository / SQLiteRepository: persistence, UID and UID-or-code lookup
//   - Monitor: background sweep that marks silent devices offline
//
// # Usage
//
//	repo := device.NewSQLiteRepository(db.DB)
//	d, err := repo.FindByUID(ctx, "ABC123")
//	if errors.Is(err, device.ErrDeviceNotFound) {
//	    // unknown logger
//	}
//
//	mon := device.NewMonitor(repo, device.MonitorConfig{OfflineAfter: 30 * time.Minute})
//	mon.SetLogger(log)
//	mon.Start(ctx)
//	defer mon.Stop()
package device
