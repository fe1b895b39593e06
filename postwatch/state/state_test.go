package state

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	_ "modernc.org/sqlite"

	"github.com/hazyhaar/fakezero/dbopen"
)

func TestStoreDefaultsToEnabled(t *testing.T) {
	s, err := OpenStore(dbopen.OpenMemory(t), nil)
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()

	on, err := s.Enabled(ctx)
	if err != nil || !on {
		t.Fatalf("Enabled = %v, %v; want true", on, err)
	}
	if err := s.SetEnabled(ctx, false); err != nil {
		t.Fatal(err)
	}
	if on, _ := s.Enabled(ctx); on {
		t.Fatal("flag not persisted")
	}
}

func TestStoreWatchSeesOtherProcess(t *testing.T) {
	path := filepath.Join(t.TempDir(), "fakezero.db")
	open := func() *Store {
		db, err := dbopen.Open(path)
		if err != nil {
			t.Fatal(err)
		}
		t.Cleanup(func() { db.Close() })
		s, err := OpenStore(db, nil)
		if err != nil {
			t.Fatal(err)
		}
		return s
	}
	watcher, writer := open(), open()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	got := make(chan bool, 4)
	go watcher.Watch(ctx, 10*time.Millisecond, func(on bool) { got <- on })

	time.Sleep(40 * time.Millisecond)
	if err := writer.SetEnabled(ctx, false); err != nil {
		t.Fatal(err)
	}
	select {
	case on := <-got:
		if on {
			t.Fatal("watcher saw enabled, want disabled")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("watcher never fired")
	}
}

func TestBusDropsWhenFull(t *testing.T) {
	b := NewBus()
	fast, cancelFast, _ := b.Subscribe(4)
	slow, cancelSlow, _ := b.Subscribe(1)
	defer cancelFast()
	defer cancelSlow()

	if n := b.Publish(NewUpdate(false)); n != 2 {
		t.Fatalf("delivered = %d, want 2", n)
	}
	if n := b.Publish(NewUpdate(true)); n != 1 {
		t.Fatalf("delivered = %d, want 1 (slow is full)", n)
	}

	if u := <-slow; u.Enabled || u.Type != UpdateType {
		t.Fatalf("slow got %+v", u)
	}
	<-fast
	if u := <-fast; !u.Enabled {
		t.Fatalf("fast got %+v", u)
	}

	st := b.Stats()
	if st.Published != 2 || st.Dropped != 1 || st.Subscribers != 2 {
		t.Fatalf("stats = %+v", st)
	}
}

func TestBusUnsubscribeAndClose(t *testing.T) {
	b := NewBus()
	ch, cancel, _ := b.Subscribe(1)
	cancel()
	cancel()
	if _, ok := <-ch; ok {
		t.Fatal("channel must be closed after unsubscribe")
	}
	if n := b.Publish(NewUpdate(true)); n != 0 {
		t.Fatalf("delivered = %d after unsubscribe", n)
	}

	ch2, _, _ := b.Subscribe(1)
	b.Close()
	if _, ok := <-ch2; ok {
		t.Fatal("channel must be closed by Close")
	}
	if _, _, err := b.Subscribe(1); err != ErrBusClosed {
		t.Fatalf("err = %v, want ErrBusClosed", err)
	}
	b.Publish(NewUpdate(false))
}
