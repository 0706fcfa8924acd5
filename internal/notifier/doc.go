// Package notifier delivers one message to many chats.
//
// Each recipient is attempted exactly once. Sends run on a bounded worker
// pool and are paced by a shared token bucket so large subscriber lists stay
// within the transport's rate limits. A failed send is recorded in the
// Report and never stops the others.
package notifier
