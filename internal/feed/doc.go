// Package feed broadcasts executed trades and order status changes to
// websocket subscribers. Slow subscribers are skipped rather than allowed
// to stall the exchange; the feed is best-effort, the store is the record.
package feed
