package authgate

import (
	"context"
	"testing"
)

func BenchmarkStoreInitializeCached(b *testing.B) {
	te := newTestEngine(b, nil)
	st := te.store(b)
	ctx := context.Background()
	if err := st.Initialize(ctx); err != nil {
		b.Fatalf("initialize failed: %v", err)
	}

	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if err := st.Initialize(ctx); err != nil {
			b.Fatalf("initialize failed: %v", err)
		}
	}
}

func BenchmarkStoreStateParallel(b *testing.B) {
	te := newTestEngine(b, nil)
	st := te.store(b)

	b.ReportAllocs()
	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		for pb.Next() {
			_ = st.State()
		}
	})
}

func BenchmarkEngineStoreLookupParallel(b *testing.B) {
	te := newTestEngine(b, nil)
	ctx := context.Background()
	id := te.NewBrowserSessionID()
	if _, err := te.Store(ctx, id); err != nil {
		b.Fatalf("store failed: %v", err)
	}

	b.ReportAllocs()
	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		for pb.Next() {
			if _, err := te.Store(ctx, id); err != nil {
				b.Fatalf("store failed: %v", err)
			}
		}
	})
}
