package table

import (
	"testing"

	"github.com/saddlebag/saddlebag/item"
	"github.com/saddlebag/saddlebag/message"
)

type counterItem struct {
	item.BaseItem[int, int, int]
	created int
	refresh int
	sum     int
}

func (c *counterItem) OnCreate()                         { c.created++ }
func (c *counterItem) Refresh()                          { c.refresh++ }
func (c *counterItem) OnPushRecv(v int)                  { c.sum += v }
func (c *counterItem) DoWork(item.Pusher[int, int, int]) {}

func newCounterTable(createOnPush bool) *Table[int, int, int] {
	return New[int, int, int](0, true, createOnPush, 0,
		func(tableKey, itemKey int) item.Item[int, int, int] { return new(counterItem) },
		func(tableKey, itemKey int) bool { return true },
	)
}

func TestCreateNewItemInvokesLifecycleOnce(t *testing.T) {
	tbl := newCounterTable(true)
	it := tbl.CreateNewItem(1)
	c := it.(*counterItem)
	if c.created != 1 || c.refresh != 1 {
		t.Fatalf("created=%d refresh=%d, want 1,1", c.created, c.refresh)
	}
}

func TestApplyFoundExisting(t *testing.T) {
	tbl := newCounterTable(true)
	tbl.CreateNewItem(1)
	status := tbl.Apply(message.Message[int, int, int]{DestTable: 0, DestItem: 1, Value: 5})
	if status != FoundExistingLocal {
		t.Fatalf("status = %v, want FoundExistingLocal", status)
	}
	it, _ := tbl.Find(1)
	if got := it.(*counterItem).sum; got != 5 {
		t.Fatalf("sum = %d, want 5", got)
	}
	if got := it.(*counterItem).Seqnum(); got != 1 {
		t.Fatalf("seqnum = %d, want 1", got)
	}
}

func TestApplyCreateOnPush(t *testing.T) {
	tbl := newCounterTable(true)
	status := tbl.Apply(message.Message[int, int, int]{DestTable: 0, DestItem: 7, Value: 3})
	if status != CreatedNewLocal {
		t.Fatalf("status = %v, want CreatedNewLocal", status)
	}
	it, ok := tbl.Find(7)
	if !ok {
		t.Fatal("expected item 7 to exist")
	}
	c := it.(*counterItem)
	if c.created != 1 || c.sum != 3 {
		t.Fatalf("created=%d sum=%d", c.created, c.sum)
	}
}

func TestApplyIgnoredWhenCreateOnPushDisabled(t *testing.T) {
	tbl := newCounterTable(false)
	status := tbl.Apply(message.Message[int, int, int]{DestTable: 0, DestItem: 7, Value: 3})
	if status != IgnoredNewLocal {
		t.Fatalf("status = %v, want IgnoredNewLocal", status)
	}
	if _, ok := tbl.Find(7); ok {
		t.Fatal("item should not have been created")
	}
}

func TestApplyIgnoredRemote(t *testing.T) {
	tbl := New[int, int, int](0, true, true, 0,
		func(tableKey, itemKey int) item.Item[int, int, int] { return new(counterItem) },
		func(tableKey, itemKey int) bool { return false },
	)
	status := tbl.Apply(message.Message[int, int, int]{DestTable: 0, DestItem: 1, Value: 1})
	if status != IgnoredNewRemote {
		t.Fatalf("status = %v, want IgnoredNewRemote", status)
	}
}
