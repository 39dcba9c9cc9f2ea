// Copyright 2019 The LevelDB-Go and Pebble Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

package tablestore

import (
	"bytes"
	"sync"

	"github.com/cockroachdb/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/common/expfmt"
	"github.com/tablestore/tablestore/dbtable"
)

const metricsNamespace = "tablestore"

// metrics holds the store's prometheus collectors. Per-table series are
// dropped when the table is deleted.
type metrics struct {
	d        *DB
	registry *prometheus.Registry
	cs       []prometheus.Collector

	tables     prometheus.Gauge
	partitions *prometheus.GaugeVec
	rows       *prometheus.GaugeVec

	rowsWritten        *prometheus.CounterVec
	rowsDeleted        *prometheus.CounterVec
	partitionsEvicted  *prometheus.CounterVec
	flushes            *prometheus.CounterVec
	flushDuration      *prometheus.HistogramVec
	partitionsWritten  *prometheus.CounterVec
	partitionsSkipped  *prometheus.CounterVec
	partitionsRemoved  *prometheus.CounterVec
	suspended          *prometheus.GaugeVec
	pendingTables      prometheus.Gauge
	cacheEntries       prometheus.Gauge
	subscribers        prometheus.Gauge
	eventsPublished    prometheus.Gauge
	subscribersDropped prometheus.Gauge

	transactionsActive    prometheus.Gauge
	transactionsCommitted prometheus.Counter
	transactionsExpired   prometheus.Counter
	backups               prometheus.Counter
	backupFailures        prometheus.Counter
	uptime                prometheus.Gauge

	mu struct {
		sync.Mutex
		text []byte
	}
}

func newMetrics(d *DB) (*metrics, error) {
	m := &metrics{d: d, registry: d.opts.MetricsRegistry}
	tableLabels := []string{"table"}
	m.tables = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: metricsNamespace, Name: "tables", Help: "Number of tables.",
	})
	m.partitions = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: metricsNamespace, Name: "partitions", Help: "Number of partitions per table.",
	}, tableLabels)
	m.rows = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: metricsNamespace, Name: "rows", Help: "Number of rows per table.",
	}, tableLabels)
	m.rowsWritten = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: metricsNamespace, Name: "rows_written_total", Help: "Rows inserted or replaced.",
	}, tableLabels)
	m.rowsDeleted = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: metricsNamespace, Name: "rows_deleted_total",
		Help: "Rows removed, including eviction and expiry.",
	}, tableLabels)
	m.partitionsEvicted = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: metricsNamespace, Name: "partitions_evicted_total",
		Help: "Partitions dropped by the max-partitions limit.",
	}, tableLabels)
	m.flushes = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: metricsNamespace, Name: "flushes_total", Help: "Flush attempts by result.",
	}, []string{"table", "result"})
	m.flushDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: metricsNamespace, Name: "flush_duration_seconds", Help: "Duration of flush attempts.",
		Buckets: prometheus.ExponentialBuckets(0.001, 4, 8),
	}, tableLabels)
	m.partitionsWritten = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: metricsNamespace, Name: "partitions_written_total", Help: "Partition blobs written.",
	}, tableLabels)
	m.partitionsSkipped = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: metricsNamespace, Name: "partitions_skipped_total",
		Help: "Partition writes skipped because the backend held the same content.",
	}, tableLabels)
	m.partitionsRemoved = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: metricsNamespace, Name: "partitions_removed_total", Help: "Partition blobs deleted.",
	}, tableLabels)
	m.suspended = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: metricsNamespace, Name: "persistence_suspended",
		Help: "1 if persistence of the table is suspended.",
	}, tableLabels)
	m.pendingTables = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: metricsNamespace, Name: "persist_pending_tables", Help: "Tables with pending persistence work.",
	})
	m.cacheEntries = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: metricsNamespace, Name: "content_cache_entries", Help: "Partitions in the blob-content cache.",
	})
	m.subscribers = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: metricsNamespace, Name: "subscribers", Help: "Live change-event subscriptions.",
	})
	m.eventsPublished = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: metricsNamespace, Name: "events_published", Help: "Change events delivered.",
	})
	m.subscribersDropped = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: metricsNamespace, Name: "subscribers_dropped",
		Help: "Subscriptions disconnected for falling behind.",
	})
	m.transactionsActive = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: metricsNamespace, Name: "transactions_active", Help: "Open transactions.",
	})
	m.transactionsCommitted = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: metricsNamespace, Name: "transactions_committed_total", Help: "Committed transactions.",
	})
	m.transactionsExpired = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: metricsNamespace, Name: "transactions_expired_total", Help: "Expired transactions.",
	})
	m.backups = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: metricsNamespace, Name: "backups_total", Help: "Backups written.",
	})
	m.backupFailures = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: metricsNamespace, Name: "backup_failures_total", Help: "Failed backups.",
	})
	m.uptime = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: metricsNamespace, Name: "uptime_seconds", Help: "Seconds since the store was opened.",
	})

	m.cs = []prometheus.Collector{
		m.tables, m.partitions, m.rows, m.rowsWritten, m.rowsDeleted, m.partitionsEvicted,
		m.flushes, m.flushDuration, m.partitionsWritten, m.partitionsSkipped, m.partitionsRemoved,
		m.suspended, m.pendingTables, m.cacheEntries, m.subscribers, m.eventsPublished,
		m.subscribersDropped, m.transactionsActive, m.transactionsCommitted, m.transactionsExpired,
		m.backups, m.backupFailures, m.uptime,
	}
	for i, c := range m.cs {
		if err := m.registry.Register(c); err != nil {
			for _, r := range m.cs[:i] {
				m.registry.Unregister(r)
			}
			return nil, errors.Wrap(err, "registering metrics")
		}
	}
	return m, nil
}

func (m *metrics) unregister() {
	for _, c := range m.cs {
		m.registry.Unregister(c)
	}
}

func (m *metrics) recordEffects(e *dbtable.SideEffects) {
	if n := e.RowsUpdated(); n > 0 {
		m.rowsWritten.WithLabelValues(e.Table).Add(float64(n))
	}
	if n := e.RowsDeleted(); n > 0 {
		m.rowsDeleted.WithLabelValues(e.Table).Add(float64(n))
	}
	if n := len(e.EvictedPartitions); n > 0 {
		m.partitionsEvicted.WithLabelValues(e.Table).Add(float64(n))
	}
}

func (m *metrics) recordFlush(table string, info FlushInfo) {
	result := "ok"
	if info.Err != nil {
		result = "error"
	}
	m.flushes.WithLabelValues(table, result).Inc()
	m.flushDuration.WithLabelValues(table).Observe(info.Duration.Seconds())
	m.partitionsWritten.WithLabelValues(table).Add(float64(info.Written))
	m.partitionsSkipped.WithLabelValues(table).Add(float64(info.Skipped))
	m.partitionsRemoved.WithLabelValues(table).Add(float64(info.Removed))
}

func (m *metrics) setSuspended(table string, suspended bool) {
	v := 0.0
	if suspended {
		v = 1
	}
	m.suspended.WithLabelValues(table).Set(v)
}

func (m *metrics) forgetTable(table string) {
	for _, v := range []*prometheus.GaugeVec{m.partitions, m.rows, m.suspended} {
		v.DeleteLabelValues(table)
	}
	for _, v := range []*prometheus.CounterVec{
		m.rowsWritten, m.rowsDeleted, m.partitionsEvicted,
		m.partitionsWritten, m.partitionsSkipped, m.partitionsRemoved,
	} {
		v.DeleteLabelValues(table)
	}
	m.flushes.DeleteLabelValues(table, "ok")
	m.flushes.DeleteLabelValues(table, "error")
	m.flushDuration.DeleteLabelValues(table)
}

// refresh updates the gauges and renders the text snapshot served by
// MetricsText.
func (m *metrics) refresh() {
	d := m.d
	tables := d.ListTables()
	m.tables.Set(float64(len(tables)))
	for _, t := range tables {
		m.partitions.WithLabelValues(t.Name).Set(float64(t.Partitions))
		m.rows.WithLabelValues(t.Name).Set(float64(t.Rows))
	}
	m.pendingTables.Set(float64(len(d.queue.PendingTables())))
	m.cacheEntries.Set(float64(d.cache.Metrics().Count))
	published, dropped := d.bus.Stats()
	m.subscribers.Set(float64(d.bus.Len()))
	m.eventsPublished.Set(float64(published))
	m.subscribersDropped.Set(float64(dropped))
	m.transactionsActive.Set(float64(d.txns.Len()))
	m.uptime.Set(d.clock.Since(d.started).Seconds())

	families, err := m.registry.Gather()
	if err != nil {
		d.opts.EventListener.BackgroundError(errors.Wrap(err, "gathering metrics"))
		return
	}
	var buf bytes.Buffer
	enc := expfmt.NewEncoder(&buf, expfmt.FmtText)
	for _, mf := range families {
		if err := enc.Encode(mf); err != nil {
			d.opts.EventListener.BackgroundError(errors.Wrap(err, "encoding metrics"))
			return
		}
	}
	m.mu.Lock()
	m.mu.text = buf.Bytes()
	m.mu.Unlock()
}

// MetricsText returns the latest metrics snapshot in the Prometheus text
// exposition format. The snapshot is refreshed every MetricsInterval, or on
// demand when refresh is set.
func (d *DB) MetricsText(refresh bool) []byte {
	if refresh {
		d.metrics.refresh()
	}
	d.metrics.mu.Lock()
	defer d.metrics.mu.Unlock()
	return d.metrics.mu.text
}

// MetricsRegistry returns the registry holding the store's collectors.
func (d *DB) MetricsRegistry() *prometheus.Registry {
	return d.opts.MetricsRegistry
}
