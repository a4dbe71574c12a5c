// Package deadletter keeps check-ins whose readings repeatedly fail to
// ingest.
//
// Device endpoints always answer with a success envelope so loggers never
// enter retry storms, which means an ingestion error is invisible to the
// device. The Tracker counts consecutive failures per device and, once
// deadletter.threshold is reached, forwards the raw payload to a Sink:
//
//	deadletter:
//	  sink: "kafka"      # none, mqtt, kafka
//	  threshold: 3
//	  kafka:
//	    brokers: ["kafka-1:9092"]
//	    topic: "loggergw.deadletter"
//
// A successful ingestion resets the streak.
package deadletter
