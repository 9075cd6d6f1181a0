// Package cascadedistribution implements the cascading distribution processor.
//
// A settled payment becomes a depth-0 job. Each job asks the settlement mechanism to
// forward its pool to the owner's split recipients, records the hop in the ledger and
// enqueues child jobs for recipients that distribute further, up to entities.MaxDepth.
package cascadedistribution
