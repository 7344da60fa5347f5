// Package observ aggregates profiled frames into per-label totals.
package observ
