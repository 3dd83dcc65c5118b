package engine

import (
	"errors"
	"testing"

	"github.com/shopspring/decimal"
)

func d(s string) decimal.Decimal {
	v, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return v
}

func openLong(t *testing.T, quantity, entry string) *Position {
	t.Helper()
	p, err := NewPosition("position_1", "BTCUSDT", PositionLong, d(quantity), d(entry), d("1"), 1000)
	if err != nil {
		t.Fatalf("NewPosition: %v", err)
	}
	return p
}

func openShort(t *testing.T, quantity, entry string) *Position {
	t.Helper()
	p, err := NewPosition("position_1", "BTCUSDT", PositionShort, d(quantity), d(entry), d("1"), 1000)
	if err != nil {
		t.Fatalf("NewPosition: %v", err)
	}
	return p
}

func TestNewPosition_SignedSize(t *testing.T) {
	long := openLong(t, "2", "100")
	if !long.Size.Equal(d("2")) {
		t.Errorf("long size = %s, want 2", long.Size)
	}
	short := openShort(t, "2", "100")
	if !short.Size.Equal(d("-2")) {
		t.Errorf("short size = %s, want -2", short.Size)
	}
	if !short.CurrentPrice.Equal(d("100")) || !short.UnrealizedPnL.IsZero() {
		t.Errorf("fresh position not at entry mark: %+v", short)
	}
}

func TestNewPosition_RejectsBadInputs(t *testing.T) {
	var invErr *InvariantError
	if _, err := NewPosition("p", "BTCUSDT", PositionLong, d("0"), d("100"), d("1"), 0); !errors.As(err, &invErr) {
		t.Errorf("zero quantity: got %v, want InvariantError", err)
	}
	if _, err := NewPosition("p", "BTCUSDT", PositionLong, d("1"), d("100"), d("0.5"), 0); !errors.As(err, &invErr) {
		t.Errorf("sub-1 leverage: got %v, want InvariantError", err)
	}
}

func TestUpdatePrice_UnrealizedPnL(t *testing.T) {
	long := openLong(t, "2", "100")
	long.UpdatePrice(d("110"))
	if !long.UnrealizedPnL.Equal(d("20")) {
		t.Errorf("long unrealized = %s, want 20", long.UnrealizedPnL)
	}

	short := openShort(t, "2", "100")
	short.UpdatePrice(d("110"))
	if !short.UnrealizedPnL.Equal(d("-20")) {
		t.Errorf("short unrealized = %s, want -20", short.UnrealizedPnL)
	}
}

func TestAdd_WeightedAverageEntry(t *testing.T) {
	p := openLong(t, "1", "100")
	if err := p.Add(d("1"), d("110")); err != nil {
		t.Fatalf("Add: %v", err)
	}
	if !p.EntryPrice.Equal(d("105")) {
		t.Errorf("entry = %s, want 105", p.EntryPrice)
	}
	if !p.Size.Equal(d("2")) {
		t.Errorf("size = %s, want 2", p.Size)
	}

	short := openShort(t, "2", "100")
	if err := short.Add(d("1"), d("130")); err != nil {
		t.Fatalf("Add short: %v", err)
	}
	if !short.EntryPrice.Equal(d("110")) {
		t.Errorf("short entry = %s, want 110", short.EntryPrice)
	}
	if !short.Size.Equal(d("-3")) {
		t.Errorf("short size = %s, want -3", short.Size)
	}
}

func TestClosePartial(t *testing.T) {
	p := openLong(t, "3", "100")
	realized, err := p.ClosePartial(d("1"), d("110"))
	if err != nil {
		t.Fatalf("ClosePartial: %v", err)
	}
	if !realized.Equal(d("10")) {
		t.Errorf("realized = %s, want 10", realized)
	}
	if p.Status != PositionOpen || !p.Size.Equal(d("2")) {
		t.Errorf("after partial close: status %s size %s", p.Status, p.Size)
	}

	realized, err = p.ClosePartial(d("2"), d("90"))
	if err != nil {
		t.Fatalf("ClosePartial: %v", err)
	}
	if !realized.Equal(d("-20")) {
		t.Errorf("realized = %s, want -20", realized)
	}
	if p.Status != PositionClosed {
		t.Errorf("status = %s, want CLOSED", p.Status)
	}
	// Closed means flat and without unrealized PnL.
	if !p.Size.IsZero() || !p.UnrealizedPnL.IsZero() {
		t.Errorf("closed position not flat: size %s unrealized %s", p.Size, p.UnrealizedPnL)
	}
	if !p.RealizedPnL.Equal(d("-10")) {
		t.Errorf("cumulative realized = %s, want -10", p.RealizedPnL)
	}
}

func TestClosePartial_Invariants(t *testing.T) {
	p := openLong(t, "1", "100")

	var invErr *InvariantError
	if _, err := p.ClosePartial(d("2"), d("100")); !errors.As(err, &invErr) {
		t.Errorf("oversized close: got %v, want InvariantError", err)
	}

	if _, err := p.CloseFull(d("100")); err != nil {
		t.Fatalf("CloseFull: %v", err)
	}
	if _, err := p.ClosePartial(d("1"), d("100")); !errors.As(err, &invErr) {
		t.Errorf("close after closed: got %v, want InvariantError", err)
	}
	if err := p.Add(d("1"), d("100")); !errors.As(err, &invErr) {
		t.Errorf("add after closed: got %v, want InvariantError", err)
	}
}

func TestCloseFull_PnLConservation(t *testing.T) {
	long := openLong(t, "3", "100")
	realized, err := long.CloseFull(d("107"))
	if err != nil {
		t.Fatalf("CloseFull: %v", err)
	}
	if !realized.Equal(d("21")) {
		t.Errorf("long realized = %s, want 21", realized)
	}

	short := openShort(t, "3", "100")
	realized, err = short.CloseFull(d("107"))
	if err != nil {
		t.Fatalf("CloseFull short: %v", err)
	}
	if !realized.Equal(d("-21")) {
		t.Errorf("short realized = %s, want -21", realized)
	}
}

func TestMarginUsed(t *testing.T) {
	p, err := NewPosition("p", "BTCUSDT", PositionLong, d("2"), d("100"), d("4"), 0)
	if err != nil {
		t.Fatalf("NewPosition: %v", err)
	}
	p.UpdatePrice(d("120"))
	if !p.MarginUsed().Equal(d("60")) {
		t.Errorf("margin = %s, want 60", p.MarginUsed())
	}
}
