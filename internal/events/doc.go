// Package events publishes best-effort task change notifications to an
// in-process channel, a Redis list or a RabbitMQ queue.
package events
