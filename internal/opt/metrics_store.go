package opt

import "sync"

type key struct {
	Instance string
	Variant  string
}

var (
	mu    sync.Mutex
	store = map[key]Metrics{}
)

// RecordMetrics keeps the latest run metrics per instance and variant.
func RecordMetrics(instance, variant string, m Metrics) {
	mu.Lock()
	store[key{Instance: instance, Variant: variant}] = m
	mu.Unlock()
}

func GetMetrics(instance string) map[string]Metrics {
	mu.Lock()
	defer mu.Unlock()
	out := map[string]Metrics{}
	for k, v := range store {
		if k.Instance == instance {
			out[k.Variant] = v
		}
	}
	return out
}
