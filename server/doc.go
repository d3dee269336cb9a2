// Package server implements a single-threaded, poll-driven FTP server
// (RFC 959, with RFC 3659 MLSD/MLST and RFC 2428 EPSV/EPRT extensions).
//
// # Overview
//
// Unlike a goroutine-per-connection server, every session here is driven
// by one shared poll(2) call per Server loop iteration. A Session
// multiplexes its control channel and at most one data channel through
// fixed-size ring buffers; handlers never block on I/O. This trades
// throughput ceiling for a small, predictable memory footprint — the
// model this package follows is aimed at small or embedded deployments
// rather than high-concurrency file serving.
//
// # Getting Started
//
//	driver, err := server.NewFSDriver("/srv/ftp")
//	if err != nil {
//		log.Fatal(err)
//	}
//	srv, err := server.NewServer(server.WithDriver(driver), server.WithPort(2121))
//	if err != nil {
//		log.Fatal(err)
//	}
//	log.Fatal(srv.ListenAndServe(context.Background()))
//
// # Custom Drivers
//
// Implement Driver and ClientContext to back the server with something
// other than a local filesystem — an object store, a database blob
// table, or an in-memory layout for tests. FSDriver is the reference
// implementation, jailed to its root with os.Root.
//
// # Authentication
//
// Config.User/Config.Pass gate USER/PASS before the Driver is ever
// consulted; an FSDriver's own WithAuthenticator callback can layer a
// second, per-user check (and pick a per-user root and read-only flag)
// on top of that.
//
// # Passive Mode Configuration
//
// PASV/EPSV allocate from a rolling ephemeral port pool
// (Config.PasvPortLo/PasvPortHi, default [5001, 10000)) and advertise
// either the control connection's local address or, when a
// ClientContext's Settings.PublicHost is set, that address instead —
// required behind NAT.
//
// # Observability
//
// LogSink and MetricsCollector are both optional external collaborators;
// the Server never blocks waiting on either. The default LogSink discards
// everything; WithLogger installs one that wraps logrus behind a bounded
// async queue. The default MetricsCollector is a no-op unless WithMetrics
// supplies one backed by prometheus/client_golang.
package server
