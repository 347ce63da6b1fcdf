package selection

import (
	"runtime"
	"testing"

	"poolselect/pkg/types"
)

func BenchmarkMatchParallel(b *testing.B) {
	e := newHeraEngine(b)
	e.SetAllPoolsActive(true)

	requests := []Request{
		{Operation: types.OperationRead, ClientAddress: "131.169.214.149", Storage: StorageInfo{StoreUnit: "h1:u1@osm"}},
		{Operation: types.OperationWrite, ClientAddress: "2001:638:700::f00:ba", Storage: StorageInfo{StoreUnit: "zeus:u2@osm"}},
		{Operation: types.OperationRead, ClientAddress: "192.0.2.1", Storage: StorageInfo{StoreUnit: "*@*"}},
	}

	b.SetParallelism(max(1, 16/runtime.GOMAXPROCS(0)))
	b.ReportAllocs()
	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		i := 0
		for pb.Next() {
			if _, err := e.Match(requests[i%len(requests)]); err != nil {
				b.Error(err)
				return
			}
			i++
		}
	})
}
