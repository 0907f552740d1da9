// Package mysql provides the task repository backed by MySQL, together with
// an in-memory repository that follows the same contract. It owns pool
// tuning, DSN normalization and the bounded connection acquisition used by
// every statement.
package mysql
