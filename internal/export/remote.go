package export

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"lib.kevinlin.info/aperture/lib"

	"pbcollector/internal/log"
	"pbcollector/internal/metrics"
	"pbcollector/internal/network"
	"pbcollector/internal/protocol"
	"pbcollector/internal/telemetry"
)

// ErrDropped is returned by Send when the logger's queue is full or the logger is closed.
var ErrDropped = errors.New("export: record dropped")

// DefaultRemoteQueueSize is the number of frames a remote logger buffers before dropping.
const DefaultRemoteQueueSize = 100

// RemoteLogger ships records to one collector endpoint. Records are framed and handed to a single
// writer goroutine through a bounded queue, so a slow or absent collector never blocks the caller
// and records reach the endpoint in the order they were sent.
type RemoteLogger struct {
	name       string
	client     network.Client
	exportHook metrics.ExportHook
	logger     log.Logger
	opts       RemoteLoggerOpts

	frames chan []byte
	closed bool
	mutex  sync.RWMutex
	wg     sync.WaitGroup
}

// RemoteLoggerOpts formalizes configuration options for a remote logger.
type RemoteLoggerOpts struct {
	// QueueSize is the number of frames buffered while the writer is busy.
	QueueSize int
	// Retries is the number of additional connections tried when a write fails.
	Retries int
}

// NewRemoteLogger creates a logger for the named endpoint writing through client, and starts its
// writer.
func NewRemoteLogger(name string, client network.Client, exportHook metrics.ExportHook, logger log.Logger, opts RemoteLoggerOpts) *RemoteLogger {
	if opts.QueueSize <= 0 {
		opts.QueueSize = DefaultRemoteQueueSize
	}

	l := &RemoteLogger{
		name:       name,
		client:     client,
		exportHook: exportHook,
		logger:     logger,
		opts:       opts,
		frames:     make(chan []byte, opts.QueueSize),
	}

	l.wg.Add(1)
	go l.run()

	return l
}

// Send serializes and queues a record. It never blocks; if the queue is full the record is
// dropped and ErrDropped is returned.
func (l *RemoteLogger) Send(rec *telemetry.Record) error {
	payload, err := telemetry.Marshal(rec)
	if err != nil {
		return err
	}

	frame, err := protocol.EncodeFrame(payload)
	if err != nil {
		return err
	}

	l.mutex.RLock()
	defer l.mutex.RUnlock()

	if l.closed {
		return ErrDropped
	}

	select {
	case l.frames <- frame:
		return nil
	default:
		l.exportHook.EmitExportDrop(l.name)
		l.logger.Warn("export: queue full; dropping record: endpoint=%s %s", l.name, rec.Summary())
		return ErrDropped
	}
}

// Close stops accepting records, waits for the queued ones to be written, and closes idle
// connections.
func (l *RemoteLogger) Close() {
	l.mutex.Lock()
	if l.closed {
		l.mutex.Unlock()
		return
	}
	l.closed = true
	close(l.frames)
	l.mutex.Unlock()

	l.wg.Wait()
	l.client.Close()
}

// String returns a string representation of the logger.
func (l *RemoteLogger) String() string {
	return fmt.Sprintf("RemoteLogger{endpoint: %s, client: %v}", l.name, l.client)
}

func (l *RemoteLogger) run() {
	defer l.wg.Done()

	for frame := range l.frames {
		if err := l.write(frame); err != nil {
			l.exportHook.EmitExportDrop(l.name)
			l.logger.Error("export: failed to write record; dropping: endpoint=%s err=%v", l.name, err)
		}
	}
}

// write sends one frame, replacing the connection and retrying if the write fails.
func (l *RemoteLogger) write(frame []byte) error {
	var err error

	for attempt := 0; attempt <= l.opts.Retries; attempt++ {
		var conn *network.PersistentConn

		conn, err = l.client.Conn()
		if err != nil {
			continue
		}

		writeTimer := lib.NewStopwatch()

		if _, err = conn.Write(frame); err != nil {
			l.logger.Debug("export: write failed; destroying connection: endpoint=%s attempt=%d err=%v", l.name, attempt, err)
			conn.Destroy()
			continue
		}

		l.exportHook.EmitExport(l.name, len(frame), writeTimer.Elapsed())

		return conn.Close()
	}

	return err
}

// RemoteEndpoint names a collector endpoint to export to.
type RemoteEndpoint struct {
	Name string
	Addr string
}

// NewRemoteFanout creates a remote logger for each endpoint over a single-connection persistent
// pool, and a fanout sending to all of them.
func NewRemoteFanout(
	endpoints []RemoteEndpoint,
	cxHook metrics.ConnectionLifecycleHook,
	exportHook metrics.ExportHook,
	logger log.Logger,
	opts RemoteLoggerOpts,
) (Fanout, []*RemoteLogger) {
	var fanout Fanout
	var loggers []*RemoteLogger

	for _, endpoint := range endpoints {
		client := network.NewTCPClient(endpoint.Addr, cxHook, network.TCPClientOpts{
			PoolOpts: network.PersistentConnPoolOpts{
				Capacity:     1,
				StaleTimeout: time.Minute,
			},
			ConnectTimeout: time.Second,
			WriteTimeout:   time.Second,
		})

		remote := NewRemoteLogger(endpoint.Name, client, exportHook, logger, opts)
		fanout = append(fanout, remote)
		loggers = append(loggers, remote)
	}

	return fanout, loggers
}
