// Package gateway serves the device-facing check-in endpoints, one per
// logger vendor.
//
// Every endpoint runs the same sequence:
//
//  1. extract the device identifier (400 when missing)
//  2. resolve the device (unknown devices get the vendor's success
//     envelope so they stop retrying)
//  3. apply a config acknowledgement, if the check-in carries one
//  4. parse and ingest readings; failures are logged, counted and fed to
//     the dead-letter tracker, never returned to the device
//  5. mark the device online after a successful ingestion
//  6. attach the next pending config command and respond
//
// TZone time-sync check-ins (msgtype 1) are answered before step 1.
//
// The routes carry no authentication; logger fleets cannot hold tokens.
package gateway
