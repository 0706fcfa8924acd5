// Package schedule fetches and parses the published outage schedule of one
// consumer group.
//
// Client talks to the upstream API and never retries; the monitor's next
// tick is the retry. CachedClient sits in front of it for chat queries.
package schedule
