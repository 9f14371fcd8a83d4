// Package worker is the offline asset cache worker: a lifecycle state machine
// (install → activate → fetch-serving) over named cache stores, the per-request
// strategy dispatch (cache-first with background revalidation for documents,
// styles and scripts; network-first with cache fallback for everything else),
// and the push / notificationclick / sync hooks.
//
// The worker never talks to a platform directly. A host adapter feeds it
// events through the Dispatcher methods and supplies the collaborators it
// needs: a Fetcher for network access, Clients for window control and a
// Notifier for user-visible notifications.
package worker
