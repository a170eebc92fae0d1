// Package proof publishes hash-committed artifacts to the ledger at most
// once per identity.
//
// Publisher.Publish is the only path to the ledger. It checks the
// proof_guards row for the artifact's identity, recomputes the content
// hash, takes a lease on the identity by compare-and-set, submits, and
// commits the reference in the same transaction that marks the artifact
// published. Two processes publishing the same identity produce one ledger
// call: the loser of the lease gets ErrPublishInProgress, and anyone
// arriving after the commit gets the existing reference.
//
// A submission that times out has an unknown outcome. Its lease is kept
// until it expires, and if the client implements ledger.Finder the next
// attempt asks the ledger before submitting again.
//
// ClaimPublisher is the agent side: it turns a periodic report into a
// boosted claim and publishes it through the same Publisher.
package proof
