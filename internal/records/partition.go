package records

import "github.com/shopspring/decimal"

// Key identifies one partition.
type Key struct {
	Status Status
	Branch string
}

// Group is the ordered set of records for one partition key.
type Group struct {
	Key     Key
	Records []Record
}

// Totals sums the four monetary columns of the group.
func (g Group) Totals() Totals {
	return SumAmounts(g.Records)
}

// Partitioned is the result of Partition.
type Partitioned struct {
	// Groups are ordered by the Statuses order, then by the order in which
	// each branch first appeared in the input.
	Groups []Group

	// Dropped counts records whose order status is not one of Statuses.
	Dropped int
}

// Partition splits recs into disjoint (status, branch) groups.
func Partition(recs []Record) *Partitioned {
	type bucket struct {
		order []string
		index map[string]int
		items [][]Record
	}

	buckets := make(map[Status]*bucket, len(Statuses))
	p := &Partitioned{}

	for _, r := range recs {
		st, ok := r.Status()
		if !ok {
			p.Dropped++
			continue
		}
		b := buckets[st]
		if b == nil {
			b = &bucket{index: make(map[string]int)}
			buckets[st] = b
		}
		i, seen := b.index[r.BranchName]
		if !seen {
			i = len(b.order)
			b.index[r.BranchName] = i
			b.order = append(b.order, r.BranchName)
			b.items = append(b.items, nil)
		}
		b.items[i] = append(b.items[i], r)
	}

	for _, st := range Statuses {
		b := buckets[st]
		if b == nil {
			continue
		}
		for i, branch := range b.order {
			p.Groups = append(p.Groups, Group{
				Key:     Key{Status: st, Branch: branch},
				Records: b.items[i],
			})
		}
	}

	return p
}

// ByStatus returns the groups of one status in branch discovery order.
func (p *Partitioned) ByStatus(st Status) []Group {
	var out []Group
	for _, g := range p.Groups {
		if g.Key.Status == st {
			out = append(out, g)
		}
	}
	return out
}

// Records returns every record of one status.
func (p *Partitioned) Records(st Status) []Record {
	var out []Record
	for _, g := range p.ByStatus(st) {
		out = append(out, g.Records...)
	}
	return out
}

// StatusCounts returns the number of records per status, omitting statuses
// without records.
func (p *Partitioned) StatusCounts() map[Status]int {
	counts := make(map[Status]int)
	for _, g := range p.Groups {
		counts[g.Key.Status] += len(g.Records)
	}
	return counts
}

// Total returns the number of partitioned records.
func (p *Partitioned) Total() int {
	n := 0
	for _, g := range p.Groups {
		n += len(g.Records)
	}
	return n
}

// Totals holds the four monetary sums.
type Totals struct {
	BillAmount     decimal.Decimal
	DiscountAmount decimal.Decimal
	TaxAmount      decimal.Decimal
	NetAmount      decimal.Decimal
}

// Add accumulates one record.
func (t Totals) Add(r Record) Totals {
	return Totals{
		BillAmount:     t.BillAmount.Add(r.BillAmount),
		DiscountAmount: t.DiscountAmount.Add(r.DiscountAmount),
		TaxAmount:      t.TaxAmount.Add(r.TaxAmount),
		NetAmount:      t.NetAmount.Add(r.NetAmount),
	}
}

// Plus adds two totals.
func (t Totals) Plus(o Totals) Totals {
	return Totals{
		BillAmount:     t.BillAmount.Add(o.BillAmount),
		DiscountAmount: t.DiscountAmount.Add(o.DiscountAmount),
		TaxAmount:      t.TaxAmount.Add(o.TaxAmount),
		NetAmount:      t.NetAmount.Add(o.NetAmount),
	}
}

// SumAmounts totals recs.
func SumAmounts(recs []Record) Totals {
	var t Totals
	for _, r := range recs {
		t = t.Add(r)
	}
	return t
}
