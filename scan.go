package reldb

// keyRange selects the entries of an ordered index whose value lies between
// Lower and Upper. A nil bound is open.
//
// Entries are keyed by enc(value) followed by the row ID, so a bound on the
// value becomes a bound on the full key by appending a sentinel ID: the
// minimum ID sorts before every real entry with the same value and the
// maximum ID sorts after them. Row IDs start at 1, so neither sentinel ever
// equals a stored key.
type keyRange struct {
	Lower    any
	Upper    any
	LowerInc bool
	UpperInc bool
	HasLower bool
	HasUpper bool
}

func (rang keyRange) lowerKey() []byte {
	id := maxRowID
	if rang.LowerInc {
		id = 0
	}
	return orderedKey(encodeKey(rang.Lower), id)
}

func (rang keyRange) upperKey() []byte {
	id := RowID(0)
	if rang.UpperInc {
		id = maxRowID
	}
	return orderedKey(encodeKey(rang.Upper), id)
}

func (rang keyRange) bounds(kl *keyList) (start, end int) {
	start, end = 0, kl.Len()
	if rang.HasLower {
		start = kl.seek(rang.lowerKey())
	}
	if rang.HasUpper {
		end = kl.seekAfter(rang.upperKey())
	}
	if end < start {
		end = start
	}
	return start, end
}
