package item

// BaseItem is embedded by application item types to supply the
// common fields spec.md's data model assigns to every item
// (table_key, item_key, next_seqnum) along with no-op defaults for
// every Item method except DoWork, which a concrete item type must
// still provide. This mirrors the "embed a base, override what you
// need" shape the teacher uses for Pragma composition (func.go) and
// for slice wrapping (reshuffleSlice embedding Slice).
type BaseItem[TableKey comparable, ItemKey comparable, Msg any] struct {
	tableKey TableKey
	itemKey  ItemKey
	seqnum   uint64
}

// Bind sets the item's table and key. It is called by table.Table
// when an item is first created; application code should not call it
// directly.
func (b *BaseItem[TableKey, ItemKey, Msg]) Bind(tableKey TableKey, itemKey ItemKey) {
	b.tableKey = tableKey
	b.itemKey = itemKey
}

// TableKey returns the table this item belongs to.
func (b *BaseItem[TableKey, ItemKey, Msg]) TableKey() TableKey { return b.tableKey }

// ItemKey returns this item's key within its table.
func (b *BaseItem[TableKey, ItemKey, Msg]) ItemKey() ItemKey { return b.itemKey }

// Seqnum returns the number of messages this item has received via
// OnPushRecv so far.
func (b *BaseItem[TableKey, ItemKey, Msg]) Seqnum() uint64 { return b.seqnum }

// BumpSeqnum increments the item's received-message count. table.Table
// calls it, via the optional SeqnumBumper interface, immediately
// before OnPushRecv on every delivered message.
func (b *BaseItem[TableKey, ItemKey, Msg]) BumpSeqnum() { b.seqnum++ }

// SeqnumBumper is implemented by BaseItem. table.Table type-asserts
// against it so that items which embed BaseItem get next_seqnum
// bookkeeping for free, without requiring every Item implementation
// to track it.
type SeqnumBumper interface {
	BumpSeqnum()
}

var _ SeqnumBumper = (*BaseItem[int, int, int])(nil)

func (b *BaseItem[TableKey, ItemKey, Msg]) OnCreate()       {}
func (b *BaseItem[TableKey, ItemKey, Msg]) Refresh()        {}
func (b *BaseItem[TableKey, ItemKey, Msg]) OnPushRecv(Msg)  {}
func (b *BaseItem[TableKey, ItemKey, Msg]) BeforeWork()     {}
func (b *BaseItem[TableKey, ItemKey, Msg]) FinishingWork()  {}
func (b *BaseItem[TableKey, ItemKey, Msg]) ReturningPull(Msg) {}
