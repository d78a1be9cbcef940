// Package influxdb records harness timings in InfluxDB.
//
// `lnharness run` writes one point per node lifecycle event and one per
// launch outcome (with the time from spawn to ready or failure), and
// `lnharness fetch` writes how long a release took to fetch. The points
// are batched and sent asynchronously; write failures reach the callback
// set with SetOnError.
//
// Usage:
//
//	client, err := influxdb.Connect(ctx, cfg.InfluxDB)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	client.WriteLaunch(node.ID(), "ready", elapsed, node.RPCPort(), node.PeerPort())
package influxdb
