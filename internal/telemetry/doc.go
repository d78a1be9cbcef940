// Package telemetry forwards lightningd lifecycle events to MQTT and
// InfluxDB.
//
// Each exporter implements lightningd.Observer. Observers must not block
// the launcher, so both exporters queue events and deliver them from a
// single goroutine; when the queue is full the event is dropped and
// counted.
//
//	pub := telemetry.NewMQTTObserver(mqttClient)
//	points := telemetry.NewInfluxObserver(influxClient)
//	defer pub.Close()
//	defer points.Close()
//	launcher.SetObserver(telemetry.Fanout{pub, points})
package telemetry
