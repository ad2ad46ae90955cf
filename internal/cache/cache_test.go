package cache

import (
	"bytes"
	"fmt"
	"sync"
	"testing"
)

func TestCache_BasicOperations(t *testing.T) {
	cache := NewCache[string, int]()

	t.Run("Set and Get", func(t *testing.T) {
		cache.Set("a", 1)
		got, ok := cache.Get("a")
		if !ok || got != 1 {
			t.Errorf("Expected 1, got %d (ok=%v)", got, ok)
		}
	})

	t.Run("Get non-existent key", func(t *testing.T) {
		got, ok := cache.Get("missing")
		if ok || got != 0 {
			t.Errorf("Expected zero value and false, got %d (ok=%v)", got, ok)
		}
	})

	t.Run("Delete", func(t *testing.T) {
		cache.Set("b", 2)
		cache.Delete("b")
		cache.Delete("never-set")
		if _, ok := cache.Get("b"); ok {
			t.Error("Expected key to be deleted")
		}
	})

	t.Run("SetTo and Clear", func(t *testing.T) {
		cache.SetTo(map[string]int{"x": 1, "y": 2})
		if cache.Len() != 2 {
			t.Errorf("Expected 2 items, got %d", cache.Len())
		}
		if _, ok := cache.Get("a"); ok {
			t.Error("SetTo must replace existing items")
		}

		cache.Clear()
		if cache.Len() != 0 {
			t.Errorf("Expected empty cache, got %d", cache.Len())
		}
	})
}

func TestCache_StructKeys(t *testing.T) {
	type key struct{ Agency, Post string }
	cache := NewCache[key, string]()

	cache.Set(key{"a", "1"}, "one")
	if got, ok := cache.Get(key{"a", "1"}); !ok || got != "one" {
		t.Errorf("Expected 'one', got %q", got)
	}
	if _, ok := cache.Get(key{"b", "1"}); ok {
		t.Error("Keys differing in one field must not collide")
	}
}

func TestCache_Concurrency(t *testing.T) {
	cache := NewCache[int, string]()
	const numGoroutines = 50
	const numOperations = 200

	var wg sync.WaitGroup
	for i := 0; i < numGoroutines; i++ {
		wg.Add(2)
		go func(id int) {
			defer wg.Done()
			for j := 0; j < numOperations; j++ {
				cache.Set(id*numOperations+j, fmt.Sprintf("value-%d-%d", id, j))
			}
		}(i)
		go func(id int) {
			defer wg.Done()
			for j := 0; j < numOperations; j++ {
				cache.Get(id*numOperations + j)
				if j%50 == 0 {
					cache.Delete(id*numOperations + j)
				}
			}
		}(i)
	}
	wg.Wait()

	if cache.Len() > numGoroutines*numOperations {
		t.Errorf("Unexpected cache size %d", cache.Len())
	}
}

func TestPreviewCache(t *testing.T) {
	ClearPreviews()

	SetPreview("hash-1", []byte("<p>one</p>"))
	SetPreview("hash-2", []byte("<p>two</p>"))

	got, ok := GetPreview("hash-1")
	if !ok || !bytes.Equal(got.HTML, []byte("<p>one</p>")) {
		t.Errorf("Unexpected preview %v (ok=%v)", got, ok)
	}

	ClearPreviews()
	if _, ok := GetPreview("hash-2"); ok {
		t.Error("Expected previews to be cleared")
	}
}

func TestPreviewCacheBound(t *testing.T) {
	ClearPreviews()
	defer ClearPreviews()

	for i := 0; i < MaxPreviews; i++ {
		SetPreview(fmt.Sprintf("hash-%d", i), nil)
	}
	if previewCache.Len() != MaxPreviews {
		t.Fatalf("Expected %d previews, got %d", MaxPreviews, previewCache.Len())
	}

	SetPreview("overflow", []byte("<p>new</p>"))
	if previewCache.Len() != 1 {
		t.Errorf("Expected the cache to restart at the bound, got %d entries", previewCache.Len())
	}
	if _, ok := GetPreview("overflow"); !ok {
		t.Error("Expected the newest preview to be kept")
	}
}
