package pixflow

// Reconcile folds an authoritative ledger read into a cached record.
//
// Status follows the ledger except that a terminal record never moves back
// to PENDING or NONE. DueAt is always taken from the ledger. PaidAt is taken
// from the ledger only when it reports PAID with a non-zero paid time. All
// other fields, including the local-only ones, are preserved.
//
// Reconcile is pure and idempotent.
func Reconcile(local InvoiceRecord, remote *LedgerInvoice) InvoiceRecord {
	out := local.Clone()
	if remote == nil {
		return out
	}
	status := remote.Status()
	out.Status = advanceStatus(local.Status, status)
	out.DueAt = remote.DueAt
	if status == StatusPaid && remote.PaidAt > 0 {
		out.PaidAt = unixTime(remote.PaidAt)
	}
	return out
}

// advanceStatus returns the status a record should hold after observing
// incoming. Empty and NONE observations carry no information.
func advanceStatus(current, incoming InvoiceStatus) InvoiceStatus {
	if incoming == "" || incoming == StatusNone {
		return current
	}
	if current.IsTerminal() && !incoming.IsTerminal() {
		return current
	}
	return incoming
}

// CanTransition reports whether from -> to is a legal local change of a
// cached record's status. Ledger reads go through Reconcile instead, where
// the ledger's terminal status wins.
func CanTransition(from, to InvoiceStatus) bool {
	if from == to {
		return true
	}
	return from == StatusPending && to.IsTerminal()
}
